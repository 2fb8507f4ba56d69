package middleware

import (
	"strings"
	"yardstick/internal/services"
	"yardstick/pkg/response"

	"github.com/gin-gonic/gin"
)

// 上下文键
const (
	ContextPrincipal = "principal"
	ContextUserID    = "user_id"
	ContextTenantID  = "tenant_id"
)

// AuthMiddleware 认证与权限中间件
type AuthMiddleware struct {
	verifier   services.IdentityVerifier
	cookieName string
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(verifier services.IdentityVerifier, cookieName string) *AuthMiddleware {
	if cookieName == "" {
		cookieName = "session_token"
	}
	return &AuthMiddleware{
		verifier:   verifier,
		cookieName: cookieName,
	}
}

// RequireLogin 校验凭证并把主体写入上下文
func (m *AuthMiddleware) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := m.verifier.Verify(c.Request.Context(), m.extractCredential(c))
		if err != nil {
			response.FromError(c, err)
			c.Abort()
			return
		}

		c.Set(ContextPrincipal, principal)
		c.Set(ContextUserID, principal.UserID)
		c.Set(ContextTenantID, principal.TenantID)
		c.Next()
	}
}

// RequireAdmin 要求租户管理员
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := GetPrincipal(c)
		if principal == nil {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}
		if !principal.IsAdmin() {
			response.Forbidden(c, "只有租户管理员才能执行该操作")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireTenantSlug 路径中的租户标识必须与主体一致
func (m *AuthMiddleware) RequireTenantSlug() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := GetPrincipal(c)
		if principal == nil {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}
		if c.Param("slug") != principal.TenantSlug {
			response.Forbidden(c, "无权操作其他租户")
			c.Abort()
			return
		}
		c.Next()
	}
}

// extractCredential 优先使用 Bearer 头，其次使用会话Cookie
func (m *AuthMiddleware) extractCredential(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			return strings.TrimSpace(authHeader[7:])
		}
		return ""
	}
	if cookie, err := c.Cookie(m.cookieName); err == nil {
		return cookie
	}
	return ""
}

// GetPrincipal 从上下文获取主体
func GetPrincipal(c *gin.Context) *services.Principal {
	value, exists := c.Get(ContextPrincipal)
	if !exists {
		return nil
	}
	principal, _ := value.(*services.Principal)
	return principal
}
