package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
	"yardstick/internal/models"
	apperrors "yardstick/pkg/errors"
	"yardstick/pkg/logger"
	"yardstick/pkg/pagination"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// UserService 租户用户管理
type UserService struct {
	db     *gorm.DB
	log    *logrus.Logger
	policy *AuthorizationPolicy
	signer TokenSigner
}

// NewUserService 创建用户服务
func NewUserService(db *gorm.DB, policy *AuthorizationPolicy, signer TokenSigner) *UserService {
	return &UserService{
		db:     db,
		log:    logger.GetLogger(),
		policy: policy,
		signer: signer,
	}
}

// CreateUserRequest 管理员直接创建用户
type CreateUserRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
	Role     string `json:"role" binding:"required"`
}

// ChangeRoleRequest 修改角色请求
type ChangeRoleRequest struct {
	Role string `json:"role" binding:"required,oneof=Admin Member"`
}

// ChangePlanRequest 修改套餐请求
type ChangePlanRequest struct {
	Plan string `json:"plan" binding:"required,oneof=Free Pro"`
}

// ========== 查询 ==========

// ListTenantUsers 管理员查看租户用户列表
func (s *UserService) ListTenantUsers(ctx context.Context, p *Principal, slug string, params *pagination.PageParams) ([]models.User, int64, error) {
	if err := s.policy.Authorize(p, ActionUserList, Target{TenantSlug: slug}); err != nil {
		return nil, 0, err
	}

	query := s.db.WithContext(ctx).Model(&models.User{}).Where("tenant_id = ?", p.TenantID).Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperrors.Internal(err)
	}

	var users []models.User
	if err := query.Scopes(params.Scope()).Order("created_at ASC, id ASC").Find(&users).Error; err != nil {
		return nil, 0, apperrors.Internal(err)
	}
	return users, total, nil
}

// ========== 创建 ==========

// Create 管理员在自己的租户内直接创建用户，邮箱全局唯一
func (s *UserService) Create(ctx context.Context, p *Principal, slug string, req *CreateUserRequest) (*models.User, error) {
	if err := s.policy.Authorize(p, ActionUserCreate, Target{TenantSlug: slug}); err != nil {
		return nil, err
	}

	email := models.NormalizeEmail(req.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(req.Password) < minPasswordLen {
		return nil, apperrors.Validation(fmt.Sprintf("密码长度不能少于%d个字符", minPasswordLen))
	}
	if !models.IsValidRole(req.Role) {
		return nil, apperrors.Validation("角色只能是 Admin 或 Member")
	}

	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, apperrors.Internal(err)
	}
	if count > 0 {
		return nil, apperrors.Conflict("该邮箱已注册")
	}

	user := &models.User{
		Email:    email,
		Name:     strings.TrimSpace(req.Name),
		Role:     req.Role,
		TenantID: p.TenantID,
	}
	if err := user.SetPassword(req.Password); err != nil {
		return nil, apperrors.Internal(err)
	}
	if err := db.Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Conflict("该邮箱已注册")
		}
		return nil, apperrors.Internal(err)
	}

	s.log.WithFields(logrus.Fields{
		"tenant_id":  p.TenantID,
		"user_id":    user.ID,
		"role":       user.Role,
		"created_by": p.UserID,
	}).Info("用户已创建")
	return user, nil
}

// ========== 角色与套餐 ==========

// ChangeRole 修改用户角色：不能改自己，不能降级最后一个管理员
func (s *UserService) ChangeRole(ctx context.Context, p *Principal, slug string, userID uint, role string) (*models.User, error) {
	if !models.IsValidRole(role) {
		return nil, apperrors.Validation("角色只能是 Admin 或 Member")
	}
	// 先做不依赖存储的检查，自己改自己的角色无论管理员数量都拒绝
	if err := s.policy.Authorize(p, ActionUserRole, Target{TenantSlug: slug, UserID: userID, NewRole: role}); err != nil {
		return nil, err
	}

	var target models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		adminCount, err := lockTenantAdmins(tx, p.TenantID)
		if err != nil {
			return err
		}

		if err := forUpdate(tx).Where("id = ? AND tenant_id = ?", userID, p.TenantID).First(&target).Error; err != nil {
			if isNotFound(err) {
				return apperrors.NotFound("用户不存在")
			}
			return apperrors.Internal(err)
		}

		err = s.policy.Authorize(p, ActionUserRole, Target{
			TenantID:   target.TenantID,
			TenantSlug: slug,
			UserID:     target.ID,
			UserRole:   target.Role,
			NewRole:    role,
			AdminCount: adminCount,
		})
		if err != nil {
			return err
		}

		if target.Role == role {
			return nil
		}
		if err := tx.Model(&target).Update("role", role).Error; err != nil {
			return apperrors.Internal(err)
		}
		target.Role = role
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"tenant_id":  p.TenantID,
		"user_id":    target.ID,
		"role":       role,
		"changed_by": p.UserID,
	}).Info("用户角色已修改")
	return &target, nil
}

// ChangePlan 修改用户个人套餐；修改的是自己时返回新的会话令牌
func (s *UserService) ChangePlan(ctx context.Context, p *Principal, slug string, userID uint, plan string) (*models.User, string, error) {
	if !models.IsValidPlan(plan) {
		return nil, "", apperrors.Validation("套餐只能是 Free 或 Pro")
	}
	if err := s.policy.Authorize(p, ActionUserPlan, Target{TenantSlug: slug}); err != nil {
		return nil, "", err
	}

	db := s.db.WithContext(ctx)
	var user models.User
	if err := db.Preload("Tenant").Where("id = ? AND tenant_id = ?", userID, p.TenantID).First(&user).Error; err != nil {
		if isNotFound(err) {
			return nil, "", apperrors.NotFound("用户不存在")
		}
		return nil, "", apperrors.Internal(err)
	}

	if err := db.Model(&user).Update("plan", plan).Error; err != nil {
		return nil, "", apperrors.Internal(err)
	}
	user.Plan = &plan

	var token string
	if user.ID == p.UserID && user.Tenant != nil {
		var err error
		token, err = s.signer.Sign(PrincipalFromUser(&user, user.Tenant))
		if err != nil {
			return nil, "", apperrors.Internal(err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"tenant_id":  p.TenantID,
		"user_id":    user.ID,
		"plan":       plan,
		"changed_by": p.UserID,
	}).Info("用户套餐已修改")
	return &user, token, nil
}

// ========== 删除 ==========

// Delete 删除租户用户及其笔记，不能删除最后一个管理员
func (s *UserService) Delete(ctx context.Context, p *Principal, slug string, userID uint) error {
	if err := s.policy.Authorize(p, ActionUserDelete, Target{TenantSlug: slug}); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		adminCount, err := lockTenantAdmins(tx, p.TenantID)
		if err != nil {
			return err
		}

		var target models.User
		if err := forUpdate(tx).Where("id = ? AND tenant_id = ?", userID, p.TenantID).First(&target).Error; err != nil {
			if isNotFound(err) {
				return apperrors.NotFound("用户不存在")
			}
			return apperrors.Internal(err)
		}

		err = s.policy.Authorize(p, ActionUserDelete, Target{
			TenantID:   target.TenantID,
			TenantSlug: slug,
			UserID:     target.ID,
			UserRole:   target.Role,
			AdminCount: adminCount,
		})
		if err != nil {
			return err
		}

		if err := tx.Where("author_id = ?", target.ID).Delete(&models.Note{}).Error; err != nil {
			return apperrors.Internal(err)
		}
		if err := tx.Where("user_id = ?", target.ID).Delete(&models.UpgradeRequest{}).Error; err != nil {
			return apperrors.Internal(err)
		}
		if err := tx.Delete(&models.User{}, target.ID).Error; err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"tenant_id":  p.TenantID,
		"user_id":    userID,
		"deleted_by": p.UserID,
	}).Info("用户已删除")
	return nil
}

// lockTenantAdmins 锁定租户所有管理员记录并返回数量，避免并发降级/删除绕过最后管理员保护
func lockTenantAdmins(tx *gorm.DB, tenantID uint) (int64, error) {
	var admins []models.User
	err := forUpdate(tx).Select("id").
		Where("tenant_id = ? AND role = ?", tenantID, models.RoleAdmin).
		Find(&admins).Error
	if err != nil {
		return 0, apperrors.Internal(err)
	}
	return int64(len(admins)), nil
}
