package response

import (
	"net/http"

	"yardstick/pkg/errors"
	"yardstick/pkg/logger"
	"yardstick/pkg/pagination"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Response 统一返回格式
type Response struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`   // 错误类别，如 QuotaExceeded
	Reason  string      `json:"reason,omitempty"` // 细分原因，如 LastAdminProtected
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// PageResponse 分页返回格式
type PageResponse struct {
	Success  bool                 `json:"success"`
	Data     interface{}          `json:"data"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

// ========== 基础返回方法 ==========

// Success 成功返回
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// Created 创建成功
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    data,
	})
}

// SuccessWithMessage 成功返回（自定义消息）
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// SuccessWithPage 分页成功返回
func SuccessWithPage(c *gin.Context, data interface{}, pageInfo *pagination.PageInfo) {
	c.JSON(http.StatusOK, PageResponse{
		Success:  true,
		Data:     data,
		PageInfo: pageInfo,
	})
}

// Error 通用错误返回
func Error(c *gin.Context, status int, kind errors.Kind, message string) {
	c.JSON(status, Response{
		Success: false,
		Error:   message,
		Code:    string(kind),
	})
}

// FromError 将业务错误转换为响应；内部错误只记录日志
func FromError(c *gin.Context, err error) {
	appErr := errors.As(err)
	status := errors.HTTPStatus(appErr.Kind)

	if appErr.Kind == errors.KindInternal {
		logger.GetLogger().WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Errorf("request failed: %v", err)
		Error(c, status, errors.KindInternal, errors.ErrInternal.Message)
		return
	}

	c.JSON(status, Response{
		Success: false,
		Error:   appErr.Message,
		Code:    string(appErr.Kind),
		Reason:  appErr.Reason,
	})
}

// ========== HTTP错误快捷方法 ==========

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, errors.KindValidation, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, errors.KindUnauthenticated, message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, errors.KindForbidden, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, errors.KindNotFound, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, errors.KindInternal, message)
}
