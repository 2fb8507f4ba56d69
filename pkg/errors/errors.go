package errors

import (
	stderrors "errors"
	"net/http"
)

// ========== 业务错误分类 ==========

// Kind 错误类别，决定返回给客户端的状态码
type Kind string

const (
	KindUnauthenticated       Kind = "Unauthenticated"
	KindForbidden             Kind = "Forbidden"
	KindNotFound              Kind = "NotFound"
	KindValidation            Kind = "ValidationError"
	KindConflict              Kind = "Conflict"
	KindQuotaExceeded         Kind = "QuotaExceeded"
	KindInvalidOrExpiredToken Kind = "InvalidOrExpiredToken"
	KindInternal              Kind = "Internal"
)

// ReasonLastAdminProtected 租户最后一个管理员不能被降级或删除
const ReasonLastAdminProtected = "LastAdminProtected"

// AppError 业务错误
type AppError struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error // 内部原因，只记录日志，不返回给客户端
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按类别匹配；目标带 Reason 时还要求 Reason 相同
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// 哨兵错误，用于 errors.Is 判断
var (
	ErrUnauthenticated       = &AppError{Kind: KindUnauthenticated, Message: "未登录或登录已失效"}
	ErrForbidden             = &AppError{Kind: KindForbidden, Message: "权限不足"}
	ErrNotFound              = &AppError{Kind: KindNotFound, Message: "资源不存在"}
	ErrValidation            = &AppError{Kind: KindValidation, Message: "请求参数错误"}
	ErrConflict              = &AppError{Kind: KindConflict, Message: "资源冲突"}
	ErrQuotaExceeded         = &AppError{Kind: KindQuotaExceeded, Message: "已达到套餐笔记上限，请升级到Pro套餐"}
	ErrInvalidOrExpiredToken = &AppError{Kind: KindInvalidOrExpiredToken, Message: "邀请链接无效或已过期"}
	ErrInternal              = &AppError{Kind: KindInternal, Message: "服务器内部错误"}
	ErrLastAdminProtected    = &AppError{Kind: KindConflict, Reason: ReasonLastAdminProtected, Message: "不能降级或删除租户的最后一个管理员"}
)

// ========== 构造方法 ==========

func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

func Unauthenticated() *AppError {
	return &AppError{Kind: KindUnauthenticated, Message: ErrUnauthenticated.Message}
}

func Forbidden(message string) *AppError {
	return New(KindForbidden, message)
}

func NotFound(message string) *AppError {
	return New(KindNotFound, message)
}

func Validation(message string) *AppError {
	return New(KindValidation, message)
}

func Conflict(message string) *AppError {
	return New(KindConflict, message)
}

func QuotaExceeded(message string) *AppError {
	return New(KindQuotaExceeded, message)
}

func InvalidOrExpiredToken(message string) *AppError {
	return New(KindInvalidOrExpiredToken, message)
}

func LastAdminProtected(message string) *AppError {
	return &AppError{Kind: KindConflict, Reason: ReasonLastAdminProtected, Message: message}
}

// Internal 包装存储/传输层错误，对外只暴露通用信息
func Internal(err error) *AppError {
	return &AppError{Kind: KindInternal, Message: ErrInternal.Message, Err: err}
}

// ========== 辅助方法 ==========

// As 提取 AppError，非业务错误视为 Internal
func As(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// KindOf 获取错误类别
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return As(err).Kind
}

// HTTPStatus 错误类别对应的HTTP状态码
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindInvalidOrExpiredToken:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden, KindQuotaExceeded:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
