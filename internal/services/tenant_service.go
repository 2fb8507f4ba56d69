package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
	"yardstick/internal/models"
	apperrors "yardstick/pkg/errors"
	"yardstick/pkg/logger"

	"github.com/gosimple/slug"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TenantService 租户服务
type TenantService struct {
	db     *gorm.DB
	log    *logrus.Logger
	quota  *QuotaPolicy
	policy *AuthorizationPolicy
	locker TenantLocker
	signer TokenSigner
}

// NewTenantService 创建租户服务
func NewTenantService(db *gorm.DB, quota *QuotaPolicy, policy *AuthorizationPolicy, locker TenantLocker, signer TokenSigner) *TenantService {
	return &TenantService{
		db:     db,
		log:    logger.GetLogger(),
		quota:  quota,
		policy: policy,
		locker: locker,
		signer: signer,
	}
}

// ChangeTenantPlanRequest 修改租户套餐请求
type ChangeTenantPlanRequest struct {
	Plan string `json:"plan" binding:"required,oneof=Free Pro"`
}

// GetBySlug 按标识查询租户
func (s *TenantService) GetBySlug(ctx context.Context, tenantSlug string) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.db.WithContext(ctx).Where("slug = ?", tenantSlug).First(&tenant).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.NotFound("租户不存在")
		}
		return nil, apperrors.Internal(err)
	}
	return &tenant, nil
}

// Create 创建租户，标识由名称生成并保证唯一
func (s *TenantService) Create(ctx context.Context, name, plan string) (*models.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > 100 {
		return nil, apperrors.Validation("租户名称长度必须在1-100个字符之间")
	}
	if plan == "" {
		plan = models.PlanFree
	}
	if !models.IsValidPlan(plan) {
		return nil, apperrors.Validation("套餐只能是 Free 或 Pro")
	}

	db := s.db.WithContext(ctx)
	tenantSlug, err := s.uniqueSlug(db, name)
	if err != nil {
		return nil, err
	}

	tenant := &models.Tenant{
		Name:     name,
		Slug:     tenantSlug,
		Plan:     plan,
		MaxNotes: s.quota.MaxNotesFor(plan),
	}
	if err := db.Create(tenant).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Conflict("租户标识已存在")
		}
		return nil, apperrors.Internal(err)
	}

	s.log.WithFields(logrus.Fields{"tenant_id": tenant.ID, "slug": tenant.Slug}).Info("租户创建成功")
	return tenant, nil
}

// ChangePlan 管理员修改租户套餐，降级前检查笔记数；返回主体的新会话令牌
func (s *TenantService) ChangePlan(ctx context.Context, p *Principal, tenantSlug, plan string) (*models.Tenant, string, error) {
	if !models.IsValidPlan(plan) {
		return nil, "", apperrors.Validation("套餐只能是 Free 或 Pro")
	}
	if err := s.policy.Authorize(p, ActionTenantPlan, Target{TenantSlug: tenantSlug}); err != nil {
		return nil, "", err
	}

	// 与笔记创建共用租户锁，避免降级检查和并发创建交错
	unlock, err := s.locker.Lock(ctx, p.TenantID)
	if err != nil {
		return nil, "", apperrors.Internal(err)
	}
	defer unlock()

	var tenant models.Tenant
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&tenant, p.TenantID).Error; err != nil {
			if isNotFound(err) {
				return apperrors.NotFound("租户不存在")
			}
			return apperrors.Internal(err)
		}

		var count int64
		if err := tx.Model(&models.Note{}).Where("tenant_id = ?", tenant.ID).Count(&count).Error; err != nil {
			return apperrors.Internal(err)
		}
		if err := s.quota.CheckDowngrade(&tenant, plan, count); err != nil {
			return err
		}

		return applyTenantPlan(tx, &tenant, plan, s.quota)
	})
	if err != nil {
		return nil, "", err
	}

	s.log.WithFields(logrus.Fields{
		"tenant_id":  tenant.ID,
		"plan":       plan,
		"changed_by": p.UserID,
	}).Info("租户套餐已修改")

	token, err := s.reissue(ctx, p.UserID)
	if err != nil {
		return nil, "", err
	}
	return &tenant, token, nil
}

// reissue 为操作者签发反映新套餐的令牌
func (s *TenantService) reissue(ctx context.Context, userID uint) (string, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Preload("Tenant").First(&user, userID).Error; err != nil {
		return "", apperrors.Internal(err)
	}
	token, err := s.signer.Sign(PrincipalFromUser(&user, user.Tenant))
	if err != nil {
		return "", apperrors.Internal(err)
	}
	return token, nil
}

// applyTenantPlan 更新套餐并同步笔记上限
func applyTenantPlan(tx *gorm.DB, tenant *models.Tenant, plan string, quota *QuotaPolicy) error {
	maxNotes := quota.MaxNotesFor(plan)
	if tenant.Plan == plan && tenant.MaxNotes == maxNotes {
		return nil
	}
	err := tx.Model(tenant).Updates(map[string]interface{}{
		"plan":      plan,
		"max_notes": maxNotes,
	}).Error
	if err != nil {
		return apperrors.Internal(err)
	}
	tenant.Plan = plan
	tenant.MaxNotes = maxNotes
	return nil
}

// uniqueSlug 生成唯一标识，冲突时追加序号
func (s *TenantService) uniqueSlug(db *gorm.DB, name string) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "tenant"
	}
	candidate := base
	for i := 2; i < 100; i++ {
		var count int64
		if err := db.Model(&models.Tenant{}).Where("slug = ?", candidate).Count(&count).Error; err != nil {
			return "", apperrors.Internal(err)
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", apperrors.Conflict("无法生成唯一的租户标识")
}
