package services

import (
	"context"
	"time"
	"yardstick/internal/models"
	apperrors "yardstick/pkg/errors"
	"yardstick/pkg/logger"
	"yardstick/pkg/mailer"
	"yardstick/pkg/pagination"
	"yardstick/pkg/queue"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// UpgradeService 套餐升级申请
type UpgradeService struct {
	db     *gorm.DB
	log    *logrus.Logger
	policy *AuthorizationPolicy
	quota  *QuotaPolicy
	mail   *MailDispatcher
}

// NewUpgradeService 创建升级申请服务
func NewUpgradeService(db *gorm.DB, policy *AuthorizationPolicy, quota *QuotaPolicy, mail *MailDispatcher) *UpgradeService {
	return &UpgradeService{
		db:     db,
		log:    logger.GetLogger(),
		policy: policy,
		quota:  quota,
		mail:   mail,
	}
}

// ReviewUpgradeRequest 审批请求
type ReviewUpgradeRequest struct {
	Status string `json:"status" binding:"required,oneof=approved rejected"`
}

// Request 成员申请把租户升级到Pro，每个用户同时只能有一个待审批申请
func (s *UpgradeService) Request(ctx context.Context, p *Principal) (*models.UpgradeRequest, error) {
	if err := s.policy.Authorize(p, ActionUpgradeRequest, Target{TenantID: p.TenantID}); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	var tenant models.Tenant
	if err := db.First(&tenant, p.TenantID).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.NotFound("租户不存在")
		}
		return nil, apperrors.Internal(err)
	}
	if tenant.Plan == models.PlanPro {
		return nil, apperrors.Conflict("租户已经是Pro套餐")
	}

	var pending int64
	err := db.Model(&models.UpgradeRequest{}).
		Where("user_id = ? AND status = ?", p.UserID, models.UpgradeStatusPending).
		Count(&pending).Error
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if pending > 0 {
		return nil, apperrors.Conflict("已有待审批的升级申请")
	}

	req := &models.UpgradeRequest{
		UserID:   p.UserID,
		TenantID: p.TenantID,
		Status:   models.UpgradeStatusPending,
	}
	if err := db.Create(req).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Conflict("已有待审批的升级申请")
		}
		return nil, apperrors.Internal(err)
	}

	s.log.WithFields(logrus.Fields{
		"request_id": req.ID,
		"tenant_id":  req.TenantID,
		"user_id":    req.UserID,
	}).Info("升级申请已提交")

	s.notifyAdmins(ctx, &tenant, p.Email)
	return req, nil
}

// notifyAdmins 通知租户所有管理员，失败只记录日志
func (s *UpgradeService) notifyAdmins(ctx context.Context, tenant *models.Tenant, requester string) {
	var emails []string
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("tenant_id = ? AND role = ?", tenant.ID, models.RoleAdmin).
		Pluck("email", &emails).Error
	if err != nil {
		s.log.WithError(err).Warn("查询租户管理员失败，跳过升级申请通知")
		return
	}
	if len(emails) == 0 {
		s.log.WithField("tenant_id", tenant.ID).Warn("租户没有管理员，升级申请无人通知")
		return
	}

	subject, body, err := mailer.UpgradeRequestEmail(mailer.UpgradeRequestData{
		RequesterEmail: requester,
		TenantName:     tenant.Name,
	})
	if err != nil {
		s.log.WithError(err).Warn("渲染升级申请邮件失败")
		return
	}
	s.mail.Dispatch(ctx, &queue.MailMessage{
		Kind:     MailKindUpgradeRequest,
		TenantID: tenant.ID,
		To:       emails,
		Subject:  subject,
		Body:     body,
	})
}

// ListPending 管理员查看本租户待审批申请
func (s *UpgradeService) ListPending(ctx context.Context, p *Principal, tenantSlug string, params *pagination.PageParams) ([]models.UpgradeRequest, int64, error) {
	if err := s.policy.Authorize(p, ActionUpgradeReview, Target{TenantSlug: tenantSlug}); err != nil {
		return nil, 0, err
	}

	query := s.db.WithContext(ctx).Model(&models.UpgradeRequest{}).
		Where("tenant_id = ? AND status = ?", p.TenantID, models.UpgradeStatusPending).
		Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperrors.Internal(err)
	}

	var requests []models.UpgradeRequest
	err := query.Scopes(params.Scope()).
		Preload("User", func(db *gorm.DB) *gorm.DB { return db.Select("id", "email", "name", "role") }).
		Order("created_at ASC, id ASC").
		Find(&requests).Error
	if err != nil {
		return nil, 0, apperrors.Internal(err)
	}
	return requests, total, nil
}

// Review 管理员审批申请；批准时租户升级为Pro
func (s *UpgradeService) Review(ctx context.Context, p *Principal, requestID uint, status string) (*models.UpgradeRequest, error) {
	if status != models.UpgradeStatusApproved && status != models.UpgradeStatusRejected {
		return nil, apperrors.Validation("审批结果只能是 approved 或 rejected")
	}
	if err := s.policy.Authorize(p, ActionUpgradeReview, Target{}); err != nil {
		return nil, err
	}

	var req models.UpgradeRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).Where("id = ? AND tenant_id = ?", requestID, p.TenantID).First(&req).Error; err != nil {
			if isNotFound(err) {
				return apperrors.NotFound("升级申请不存在")
			}
			return apperrors.Internal(err)
		}
		if req.Status != models.UpgradeStatusPending {
			return apperrors.Conflict("该申请已审批")
		}

		now := time.Now()
		reviewer := p.UserID
		err := tx.Model(&req).Updates(map[string]interface{}{
			"status":      status,
			"reviewed_by": reviewer,
			"reviewed_at": now,
		}).Error
		if err != nil {
			return apperrors.Internal(err)
		}
		req.Status = status
		req.ReviewedBy = &reviewer
		req.ReviewedAt = &now

		if status != models.UpgradeStatusApproved {
			return nil
		}
		var tenant models.Tenant
		if err := forUpdate(tx).First(&tenant, req.TenantID).Error; err != nil {
			return apperrors.Internal(err)
		}
		return applyTenantPlan(tx, &tenant, models.PlanPro, s.quota)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"request_id":  req.ID,
		"tenant_id":   req.TenantID,
		"status":      status,
		"reviewed_by": p.UserID,
	}).Info("升级申请已审批")
	return &req, nil
}
