package services

import (
	"fmt"
	"yardstick/internal/models"
	apperrors "yardstick/pkg/errors"
)

// ProMaxNotes Pro套餐在租户记录中保存的上限，视为不限
const ProMaxNotes = 1000000

// DefaultFreeMaxNotes Free套餐默认笔记上限
const DefaultFreeMaxNotes = 3

// QuotaPolicy 套餐配额策略
type QuotaPolicy struct {
	FreeMaxNotes int
}

// NewQuotaPolicy 创建配额策略
func NewQuotaPolicy(freeMaxNotes int) *QuotaPolicy {
	if freeMaxNotes <= 0 {
		freeMaxNotes = DefaultFreeMaxNotes
	}
	return &QuotaPolicy{FreeMaxNotes: freeMaxNotes}
}

// EffectivePlan 租户套餐为上限，个人 Free 覆盖只能收紧
func EffectivePlan(tenantPlan string, userPlan *string) string {
	if tenantPlan != models.PlanPro {
		return models.PlanFree
	}
	if userPlan != nil && *userPlan == models.PlanFree {
		return models.PlanFree
	}
	return models.PlanPro
}

// MaxNotesFor 套餐对应的笔记上限
func (q *QuotaPolicy) MaxNotesFor(plan string) int {
	if plan == models.PlanPro {
		return ProMaxNotes
	}
	return q.FreeMaxNotes
}

// CanCreate 判断在当前数量下能否再创建一条笔记
func (q *QuotaPolicy) CanCreate(tenant *models.Tenant, userPlan *string, currentCount int64) error {
	if EffectivePlan(tenant.Plan, userPlan) == models.PlanPro {
		return nil
	}
	if currentCount < int64(q.FreeMaxNotes) {
		return nil
	}
	return apperrors.QuotaExceeded(fmt.Sprintf("Free套餐最多只能创建%d条笔记，请升级到Pro套餐", q.FreeMaxNotes))
}

// CheckDowngrade Pro降级为Free前，笔记数不能超过Free上限
func (q *QuotaPolicy) CheckDowngrade(tenant *models.Tenant, targetPlan string, currentCount int64) error {
	if tenant.Plan != models.PlanPro || targetPlan != models.PlanFree {
		return nil
	}
	if currentCount > int64(q.FreeMaxNotes) {
		return apperrors.QuotaExceeded(fmt.Sprintf("当前共有%d条笔记，超过Free套餐上限%d，请先删除部分笔记", currentCount, q.FreeMaxNotes))
	}
	return nil
}
