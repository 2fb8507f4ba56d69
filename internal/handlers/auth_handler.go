package handlers

import (
	"time"
	"yardstick/internal/services"
	"yardstick/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	authService   *services.AuthService
	cookieName    string
	tokenDuration time.Duration
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(authService *services.AuthService, cookieName string, tokenDuration time.Duration) *AuthHandler {
	return &AuthHandler{
		authService:   authService,
		cookieName:    cookieName,
		tokenDuration: tokenDuration,
	}
}

// Login 用户登录
// @Summary 用户登录
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body services.LoginRequest true "登录信息"
// @Success 200 {object} response.Response{data=services.LoginResult}
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.FromError(c, err)
		return
	}

	setSessionCookie(c, h.cookieName, result.Token, int(h.tokenDuration.Seconds()))
	response.Success(c, result)
}

// Logout 清除会话Cookie
func (h *AuthHandler) Logout(c *gin.Context) {
	setSessionCookie(c, h.cookieName, "", -1)
	response.SuccessWithMessage(c, "已退出登录", nil)
}

// Me 当前用户信息
func (h *AuthHandler) Me(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	result, err := h.authService.Me(c.Request.Context(), principal)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}
