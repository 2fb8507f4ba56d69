package services

import (
	"context"
	"sync"
	"time"
	"yardstick/internal/models"
	apperrors "yardstick/pkg/errors"
	"yardstick/pkg/logger"
	"yardstick/pkg/metrics"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AuthService 登录认证
type AuthService struct {
	db     *gorm.DB
	log    *logrus.Logger
	signer TokenSigner
}

// NewAuthService 创建认证服务
func NewAuthService(db *gorm.DB, signer TokenSigner) *AuthService {
	return &AuthService{
		db:     db,
		log:    logger.GetLogger(),
		signer: signer,
	}
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResult 登录结果
type LoginResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// MeResult 当前用户信息
type MeResult struct {
	Principal *Principal     `json:"principal"`
	Tenant    *models.Tenant `json:"tenant"`
}

// 用于未知邮箱时执行一次等价的哈希比较
var (
	dummyHash     []byte
	dummyHashOnce sync.Once
)

func compareDummyPassword(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("yardstick-dummy-password"), models.PasswordCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// Login 邮箱密码登录；邮箱不存在和密码错误返回相同错误
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = models.NormalizeEmail(email)
	db := s.db.WithContext(ctx)

	var user models.User
	err := db.Preload("Tenant").Where("email = ?", email).First(&user).Error
	if err != nil {
		if !isNotFound(err) {
			return nil, apperrors.Internal(err)
		}
		compareDummyPassword(password)
		return nil, s.loginFailed(email)
	}
	if !user.CheckPassword(password) || user.Tenant == nil {
		return nil, s.loginFailed(email)
	}

	token, err := s.signer.Sign(PrincipalFromUser(&user, user.Tenant))
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	now := time.Now()
	if err := db.Model(&user).Update("last_login_at", now).Error; err != nil {
		s.log.WithError(err).Warn("更新最后登录时间失败")
	}
	user.LastLoginAt = &now

	s.log.WithFields(logrus.Fields{
		"user_id":   user.ID,
		"tenant_id": user.TenantID,
	}).Info("用户登录成功")
	return &LoginResult{Token: token, User: &user}, nil
}

func (s *AuthService) loginFailed(email string) error {
	metrics.AuthFailuresTotal.WithLabelValues("login").Inc()
	s.log.WithField("email", email).Info("登录失败")
	return apperrors.New(apperrors.KindUnauthenticated, "邮箱或密码错误")
}

// Me 当前主体及其租户
func (s *AuthService) Me(ctx context.Context, p *Principal) (*MeResult, error) {
	if p == nil {
		return nil, apperrors.Unauthenticated()
	}
	var tenant models.Tenant
	if err := s.db.WithContext(ctx).First(&tenant, p.TenantID).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.Unauthenticated()
		}
		return nil, apperrors.Internal(err)
	}
	return &MeResult{Principal: p, Tenant: &tenant}, nil
}
