package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"yardstick/internal/middleware"
	"yardstick/internal/services"
	"yardstick/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// 字段名对应的提示
var fieldMessages = map[string]string{
	"Email":    "邮箱不能为空",
	"Password": "密码不能为空",
	"Title":    "标题不能为空",
	"Content":  "内容不能为空",
	"Token":    "邀请令牌不能为空",
	"Role":     "角色只能是 Admin 或 Member",
	"Plan":     "套餐只能是 Free 或 Pro",
	"Status":   "审批结果只能是 approved 或 rejected",
	"Name":     "姓名不能超过100个字符",
}

// bindJSON 绑定请求体，校验失败时直接返回400
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		var validationErr validator.ValidationErrors
		if errors.As(err, &validationErr) && len(validationErr) > 0 {
			// 只返回第一个错误
			fieldErr := validationErr[0]
			msg, ok := fieldMessages[fieldErr.Field()]
			if !ok {
				msg = fmt.Sprintf("字段 %s 验证失败", fieldErr.Field())
			}
			response.BadRequest(c, msg)
			return false
		}
		response.BadRequest(c, "请求参数格式错误")
		return false
	}
	return true
}

// parseID 解析路径中的ID参数
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "ID格式错误")
		return 0, false
	}
	return uint(id), true
}

// currentPrincipal 获取当前主体，未登录时返回401
func currentPrincipal(c *gin.Context) (*services.Principal, bool) {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		response.Unauthorized(c, "请先登录")
		return nil, false
	}
	return principal, true
}

// setSessionCookie 把会话令牌写入Cookie
func setSessionCookie(c *gin.Context, name, token string, maxAge int) {
	secure := strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") || c.Request.TLS != nil
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, token, maxAge, "/", "", secure, true)
}
