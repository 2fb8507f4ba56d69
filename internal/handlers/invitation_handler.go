package handlers

import (
	"time"
	"yardstick/internal/services"
	"yardstick/pkg/pagination"
	"yardstick/pkg/response"

	"github.com/gin-gonic/gin"
)

// InvitationHandler 邀请处理器
type InvitationHandler struct {
	invitationService *services.InvitationService
	cookieName        string
	tokenDuration     time.Duration
}

// NewInvitationHandler 创建邀请处理器
func NewInvitationHandler(invitationService *services.InvitationService, cookieName string, tokenDuration time.Duration) *InvitationHandler {
	return &InvitationHandler{
		invitationService: invitationService,
		cookieName:        cookieName,
		tokenDuration:     tokenDuration,
	}
}

// Issue 发起邀请
// @Summary 邀请用户加入租户
// @Description 租户管理员邀请新用户，返回可分享的注册链接
// @Tags 邀请管理
// @Accept json
// @Produce json
// @Param slug path string true "租户标识"
// @Param request body services.IssueInviteRequest true "邀请信息"
// @Success 201 {object} response.Response{data=services.IssuedInvite}
// @Router /api/v1/tenants/{slug}/invites [post]
func (h *InvitationHandler) Issue(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	var req services.IssueInviteRequest
	if !bindJSON(c, &req) {
		return
	}

	issued, err := h.invitationService.Issue(c.Request.Context(), principal, c.Param("slug"), req.Email)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, issued)
}

// List 本租户邀请列表
func (h *InvitationHandler) List(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	params := pagination.ParsePageParams(c)
	invites, total, err := h.invitationService.ListTenant(c.Request.Context(), principal, c.Param("slug"), c.Query("status"), params)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithPage(c, invites, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// Revoke 撤销邀请
func (h *InvitationHandler) Revoke(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}
	inviteID, ok := parseID(c, "inviteId")
	if !ok {
		return
	}

	if err := h.invitationService.Revoke(c.Request.Context(), principal, c.Param("slug"), inviteID); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "邀请已撤销", nil)
}

// Validate 注册页预览邀请（公开接口）
func (h *InvitationHandler) Validate(c *gin.Context) {
	var req services.ValidateInviteRequest
	if !bindJSON(c, &req) {
		return
	}

	preview, err := h.invitationService.Validate(c.Request.Context(), req.Token)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, preview)
}

// Signup 使用邀请注册（公开接口）
// @Summary 接受邀请并注册
// @Tags 邀请管理
// @Accept json
// @Produce json
// @Param request body services.RedeemInviteRequest true "注册信息"
// @Success 201 {object} response.Response{data=services.RedeemResult}
// @Router /api/v1/signup [post]
func (h *InvitationHandler) Signup(c *gin.Context) {
	var req services.RedeemInviteRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.invitationService.Redeem(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	setSessionCookie(c, h.cookieName, result.Token, int(h.tokenDuration.Seconds()))
	response.Created(c, result)
}
