package services

import (
	"context"
	"errors"
	"strings"
	"yardstick/internal/models"
	apperrors "yardstick/pkg/errors"
	"yardstick/pkg/jwt"
	"yardstick/pkg/logger"
	"yardstick/pkg/metrics"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 身份来源
const (
	PrincipalSourceToken = "token"
	PrincipalSourceStore = "store"
)

// Principal 已认证的请求主体
type Principal struct {
	UserID     uint   `json:"user_id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	TenantID   uint   `json:"tenant_id"`
	TenantSlug string `json:"tenant_slug"`
	Plan       string `json:"plan"`
}

// IsAdmin 是否租户管理员
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == models.RoleAdmin
}

// PrincipalFromUser 根据用户和租户记录构造主体
func PrincipalFromUser(user *models.User, tenant *models.Tenant) *Principal {
	return &Principal{
		UserID:     user.ID,
		Email:      user.Email,
		Role:       user.Role,
		TenantID:   tenant.ID,
		TenantSlug: tenant.Slug,
		Plan:       EffectivePlan(tenant.Plan, user.Plan),
	}
}

// IdentityVerifier 凭证校验接口
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (*Principal, error)
}

// TokenSigner 会话令牌签发接口
type TokenSigner interface {
	Sign(p *Principal) (string, error)
}

// ========== 纯令牌校验 ==========

// TokenVerifier 只校验签名和有效期，不访问存储
type TokenVerifier struct {
	manager *jwt.JWTManager
	log     *logrus.Logger
}

// NewTokenVerifier 创建令牌校验器
func NewTokenVerifier(manager *jwt.JWTManager) *TokenVerifier {
	return &TokenVerifier{
		manager: manager,
		log:     logger.GetLogger(),
	}
}

// Verify 校验令牌；任何失败都返回统一的 Unauthenticated
func (v *TokenVerifier) Verify(ctx context.Context, credential string) (*Principal, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, v.reject(errors.New("缺少凭证"))
	}

	claims, err := v.manager.VerifyToken(credential)
	if err != nil {
		return nil, v.reject(err)
	}

	return &Principal{
		UserID:     claims.UserID,
		Email:      claims.Email,
		Role:       claims.Role,
		TenantID:   claims.TenantID,
		TenantSlug: claims.TenantSlug,
		Plan:       claims.Plan,
	}, nil
}

// Sign 为主体签发会话令牌
func (v *TokenVerifier) Sign(p *Principal) (string, error) {
	return v.manager.GenerateToken(p.UserID, p.TenantID, p.Email, p.Role, p.TenantSlug, p.Plan)
}

func (v *TokenVerifier) reject(cause error) error {
	metrics.AuthFailuresTotal.WithLabelValues("token").Inc()
	v.log.WithError(cause).Debug("凭证校验失败")
	return apperrors.Unauthenticated()
}

// ========== 存储校验 ==========

// StoreVerifier 校验令牌后重新加载用户和租户，角色和套餐变更立即生效
type StoreVerifier struct {
	tokens *TokenVerifier
	db     *gorm.DB
}

// NewStoreVerifier 创建存储校验器
func NewStoreVerifier(tokens *TokenVerifier, db *gorm.DB) *StoreVerifier {
	return &StoreVerifier{tokens: tokens, db: db}
}

// Verify 校验令牌并以存储中的最新状态构造主体
func (v *StoreVerifier) Verify(ctx context.Context, credential string) (*Principal, error) {
	claims, err := v.tokens.Verify(ctx, credential)
	if err != nil {
		return nil, err
	}

	var user models.User
	err = v.db.WithContext(ctx).Preload("Tenant").First(&user, claims.UserID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, v.tokens.reject(errors.New("用户已不存在"))
		}
		return nil, apperrors.Internal(err)
	}
	if user.Tenant == nil || user.TenantID != claims.TenantID {
		return nil, v.tokens.reject(errors.New("用户租户与令牌不一致"))
	}

	return PrincipalFromUser(&user, user.Tenant), nil
}

// Sign 委托给令牌校验器
func (v *StoreVerifier) Sign(p *Principal) (string, error) {
	return v.tokens.Sign(p)
}

// NewIdentityVerifier 根据配置选择唯一的校验实现
func NewIdentityVerifier(source string, manager *jwt.JWTManager, db *gorm.DB) IdentityVerifier {
	tokens := NewTokenVerifier(manager)
	if source == PrincipalSourceToken {
		return tokens
	}
	return NewStoreVerifier(tokens, db)
}
