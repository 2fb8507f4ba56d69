package handlers

import (
	"yardstick/internal/services"
	"yardstick/pkg/response"

	"github.com/gin-gonic/gin"
)

// TenantHandler 租户处理器
type TenantHandler struct {
	tenantService *services.TenantService
}

// NewTenantHandler 创建租户处理器
func NewTenantHandler(tenantService *services.TenantService) *TenantHandler {
	return &TenantHandler{tenantService: tenantService}
}

// ChangePlan 修改租户套餐
// @Summary 修改租户套餐
// @Description Pro降级为Free时笔记数不能超过Free上限
// @Tags 租户
// @Accept json
// @Produce json
// @Param slug path string true "租户标识"
// @Param request body services.ChangeTenantPlanRequest true "套餐"
// @Router /api/v1/tenants/{slug}/plan [patch]
func (h *TenantHandler) ChangePlan(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	var req services.ChangeTenantPlanRequest
	if !bindJSON(c, &req) {
		return
	}

	tenant, token, err := h.tenantService.ChangePlan(c.Request.Context(), principal, c.Param("slug"), req.Plan)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"tenant": tenant, "token": token})
}
