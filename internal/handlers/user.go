package handlers

import (
	"yardstick/internal/services"
	"yardstick/pkg/pagination"
	"yardstick/pkg/response"

	"github.com/gin-gonic/gin"
)

// UserHandler 用户处理器
type UserHandler struct {
	userService *services.UserService
	noteService *services.NoteService
}

// NewUserHandler 创建用户处理器
func NewUserHandler(userService *services.UserService, noteService *services.NoteService) *UserHandler {
	return &UserHandler{
		userService: userService,
		noteService: noteService,
	}
}

// List 租户用户列表（管理员）
func (h *UserHandler) List(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	params := pagination.ParsePageParams(c)
	users, total, err := h.userService.ListTenantUsers(c.Request.Context(), principal, c.Param("slug"), params)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithPage(c, users, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// Create 管理员直接创建用户
// @Summary 创建租户用户
// @Tags 用户
// @Accept json
// @Produce json
// @Param slug path string true "租户标识"
// @Param request body services.CreateUserRequest true "用户信息"
// @Router /api/v1/tenants/{slug}/users [post]
func (h *UserHandler) Create(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	var req services.CreateUserRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.userService.Create(c.Request.Context(), principal, c.Param("slug"), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, user)
}

// ChangeRole 修改用户角色
func (h *UserHandler) ChangeRole(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}
	userID, ok := parseID(c, "userId")
	if !ok {
		return
	}

	var req services.ChangeRoleRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.userService.ChangeRole(c.Request.Context(), principal, c.Param("slug"), userID, req.Role)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, user)
}

// ChangePlan 修改用户个人套餐；修改自己时返回新令牌
func (h *UserHandler) ChangePlan(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}
	userID, ok := parseID(c, "userId")
	if !ok {
		return
	}

	var req services.ChangePlanRequest
	if !bindJSON(c, &req) {
		return
	}

	user, token, err := h.userService.ChangePlan(c.Request.Context(), principal, c.Param("slug"), userID, req.Plan)
	if err != nil {
		response.FromError(c, err)
		return
	}

	data := gin.H{"user": user}
	if token != "" {
		data["token"] = token
	}
	response.Success(c, data)
}

// Delete 删除用户
func (h *UserHandler) Delete(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}
	userID, ok := parseID(c, "userId")
	if !ok {
		return
	}

	if err := h.userService.Delete(c.Request.Context(), principal, c.Param("slug"), userID); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "删除成功", nil)
}

// NotesCount 查询自己的笔记数量
func (h *UserHandler) NotesCount(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}
	userID, ok := parseID(c, "id")
	if !ok {
		return
	}

	count, err := h.noteService.CountByAuthor(c.Request.Context(), principal, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"count": count})
}
