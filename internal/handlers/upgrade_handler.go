package handlers

import (
	"yardstick/internal/services"
	"yardstick/pkg/pagination"
	"yardstick/pkg/response"

	"github.com/gin-gonic/gin"
)

// UpgradeHandler 升级申请处理器
type UpgradeHandler struct {
	upgradeService *services.UpgradeService
}

// NewUpgradeHandler 创建升级申请处理器
func NewUpgradeHandler(upgradeService *services.UpgradeService) *UpgradeHandler {
	return &UpgradeHandler{upgradeService: upgradeService}
}

// Request 提交升级申请
func (h *UpgradeHandler) Request(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	req, err := h.upgradeService.Request(c.Request.Context(), principal)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, req)
}

// ListPending 待审批申请列表
func (h *UpgradeHandler) ListPending(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	params := pagination.ParsePageParams(c)
	requests, total, err := h.upgradeService.ListPending(c.Request.Context(), principal, c.Param("slug"), params)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithPage(c, requests, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// Review 审批申请
func (h *UpgradeHandler) Review(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req services.ReviewUpgradeRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.upgradeService.Review(c.Request.Context(), principal, id, req.Status)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}
