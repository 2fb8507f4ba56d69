package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
	"yardstick/internal/models"
	"yardstick/pkg/config"
	apperrors "yardstick/pkg/errors"
	"yardstick/pkg/logger"
	"yardstick/pkg/mailer"
	"yardstick/pkg/metrics"
	"yardstick/pkg/pagination"
	"yardstick/pkg/queue"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 邀请令牌字节数（256位）
const inviteTokenBytes = 32

// 注册密码最小长度
const minPasswordLen = 6

// InvitationService 邀请服务
type InvitationService struct {
	db      *gorm.DB
	log     *logrus.Logger
	policy  *AuthorizationPolicy
	signer  TokenSigner
	mail    *MailDispatcher
	ttl     time.Duration
	baseURL string
	now     func() time.Time
}

// NewInvitationService 创建邀请服务
func NewInvitationService(db *gorm.DB, policy *AuthorizationPolicy, signer TokenSigner, mail *MailDispatcher, cfg config.InviteConfig) *InvitationService {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &InvitationService{
		db:      db,
		log:     logger.GetLogger(),
		policy:  policy,
		signer:  signer,
		mail:    mail,
		ttl:     ttl,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// IssueInviteRequest 发起邀请请求
type IssueInviteRequest struct {
	Email string `json:"email" binding:"required"`
}

// ValidateInviteRequest 校验邀请请求
type ValidateInviteRequest struct {
	Token string `json:"token" binding:"required"`
}

// RedeemInviteRequest 接受邀请注册请求
type RedeemInviteRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
	Email    string `json:"email"` // 可选，传入时必须与邀请邮箱一致
	Name     string `json:"name" binding:"max=100"`
}

// IssuedInvite 新建的邀请和分享链接
type IssuedInvite struct {
	Invite *models.Invite `json:"invite"`
	Link   string         `json:"link"`
}

// InvitePreview 注册页展示的邀请信息
type InvitePreview struct {
	Email      string    `json:"email"`
	TenantName string    `json:"tenant_name"`
	TenantSlug string    `json:"tenant_slug"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// RedeemResult 注册结果
type RedeemResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// ========== 发起邀请 ==========

// Issue 管理员邀请新用户加入本租户
func (s *InvitationService) Issue(ctx context.Context, p *Principal, tenantSlug, email string) (*IssuedInvite, error) {
	email = models.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(p, ActionUserInvite, Target{TenantSlug: tenantSlug}); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	if err := s.ensureNoUser(db, email); err != nil {
		return nil, err
	}

	token, err := generateInviteToken()
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	now := s.now()
	invite := &models.Invite{
		TenantID:  p.TenantID,
		InviterID: p.UserID,
		Email:     email,
		Token:     token,
		Status:    models.InviteStatusPending,
		ExpiresAt: now.Add(s.ttl),
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		// 清理同一邮箱在本租户下已过期的邀请，保证唯一约束可以满足
		err := tx.Where("email = ? AND tenant_id = ? AND (status = ? OR (status = ? AND expires_at <= ?))",
			email, p.TenantID, models.InviteStatusExpired, models.InviteStatusPending, now).
			Delete(&models.Invite{}).Error
		if err != nil {
			return apperrors.Internal(err)
		}

		var pending int64
		err = tx.Model(&models.Invite{}).
			Where("email = ? AND tenant_id = ? AND status = ?", email, p.TenantID, models.InviteStatusPending).
			Count(&pending).Error
		if err != nil {
			return apperrors.Internal(err)
		}
		if pending > 0 {
			return apperrors.Conflict("该邮箱已有待接受的邀请")
		}

		if err := tx.Create(invite).Error; err != nil {
			if isUniqueViolation(err) {
				return apperrors.Conflict("该邮箱已有待接受的邀请")
			}
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	link := s.inviteLink(token)
	metrics.InvitesIssuedTotal.Inc()
	s.log.WithFields(logrus.Fields{
		"invite_id":  invite.ID,
		"tenant_id":  invite.TenantID,
		"inviter_id": invite.InviterID,
	}).Info("邀请已创建")

	s.notifyInvitee(ctx, invite, link)
	return &IssuedInvite{Invite: invite, Link: link}, nil
}

// notifyInvitee 发送邀请邮件，失败只记录日志
func (s *InvitationService) notifyInvitee(ctx context.Context, invite *models.Invite, link string) {
	var tenant models.Tenant
	if err := s.db.WithContext(ctx).First(&tenant, invite.TenantID).Error; err != nil {
		s.log.WithError(err).Warn("查询租户失败，跳过邀请邮件")
		return
	}
	var inviter models.User
	inviterName := "管理员"
	if err := s.db.WithContext(ctx).Select("id", "email", "name").First(&inviter, invite.InviterID).Error; err == nil {
		inviterName = inviter.Email
		if inviter.Name != "" {
			inviterName = inviter.Name
		}
	}

	subject, body, err := mailer.InvitationEmail(mailer.InvitationData{
		InviterName: inviterName,
		TenantName:  tenant.Name,
		Link:        link,
		ExpiresAt:   invite.ExpiresAt,
	})
	if err != nil {
		s.log.WithError(err).Warn("渲染邀请邮件失败")
		return
	}
	s.mail.Dispatch(ctx, &queue.MailMessage{
		Kind:     MailKindInvitation,
		TenantID: invite.TenantID,
		To:       []string{invite.Email},
		Subject:  subject,
		Body:     body,
	})
}

// ========== 校验与注册 ==========

// Validate 预览邀请；过期的邀请会被标记为 Expired
func (s *InvitationService) Validate(ctx context.Context, token string) (*InvitePreview, error) {
	invite, err := s.lookupPending(s.db.WithContext(ctx), token)
	if err != nil {
		return nil, err
	}

	var tenant models.Tenant
	if err := s.db.WithContext(ctx).First(&tenant, invite.TenantID).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.InvalidOrExpiredToken("邀请链接无效或已过期")
		}
		return nil, apperrors.Internal(err)
	}

	return &InvitePreview{
		Email:      invite.Email,
		TenantName: tenant.Name,
		TenantSlug: tenant.Slug,
		ExpiresAt:  invite.ExpiresAt,
	}, nil
}

// Redeem 使用邀请注册：创建成员用户并把邀请置为 Accepted，二者在同一事务中完成
func (s *InvitationService) Redeem(ctx context.Context, req *RedeemInviteRequest) (*RedeemResult, error) {
	if strings.TrimSpace(req.Token) == "" {
		return nil, apperrors.Validation("邀请令牌不能为空")
	}
	if utf8.RuneCountInString(req.Password) < minPasswordLen {
		return nil, apperrors.Validation(fmt.Sprintf("密码长度不能少于%d个字符", minPasswordLen))
	}

	db := s.db.WithContext(ctx)
	invite, err := s.lookupPending(db, req.Token)
	if err != nil {
		return nil, err
	}
	if req.Email != "" && models.NormalizeEmail(req.Email) != invite.Email {
		return nil, apperrors.Validation("邮箱与邀请不一致")
	}
	if err := s.ensureNoUser(db, invite.Email); err != nil {
		return nil, err
	}

	user := &models.User{
		Email:    invite.Email,
		Name:     strings.TrimSpace(req.Name),
		Role:     models.RoleMember,
		TenantID: invite.TenantID,
	}
	if err := user.SetPassword(req.Password); err != nil {
		return nil, apperrors.Internal(err)
	}

	now := s.now()
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			if isUniqueViolation(err) {
				return apperrors.Conflict("该邮箱已注册")
			}
			return apperrors.Internal(err)
		}

		// 条件更新保证同一邀请只能被接受一次
		result := tx.Model(&models.Invite{}).
			Where("id = ? AND status = ? AND expires_at > ?", invite.ID, models.InviteStatusPending, now).
			Updates(map[string]interface{}{
				"status":      models.InviteStatusAccepted,
				"accepted_at": now,
			})
		if result.Error != nil {
			return apperrors.Internal(result.Error)
		}
		if result.RowsAffected == 0 {
			return apperrors.InvalidOrExpiredToken("邀请链接无效或已过期")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var tenant models.Tenant
	if err := db.First(&tenant, user.TenantID).Error; err != nil {
		return nil, apperrors.Internal(err)
	}
	user.Tenant = &tenant

	token, err := s.signer.Sign(PrincipalFromUser(user, &tenant))
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	metrics.InvitesRedeemedTotal.Inc()
	s.log.WithFields(logrus.Fields{
		"invite_id": invite.ID,
		"user_id":   user.ID,
		"tenant_id": user.TenantID,
	}).Info("邀请已接受，用户注册成功")
	return &RedeemResult{Token: token, User: user}, nil
}

// ========== 管理 ==========

// Revoke 撤销本租户尚未接受的邀请
func (s *InvitationService) Revoke(ctx context.Context, p *Principal, tenantSlug string, inviteID uint) error {
	if err := s.policy.Authorize(p, ActionInviteRevoke, Target{TenantSlug: tenantSlug}); err != nil {
		return err
	}

	db := s.db.WithContext(ctx)
	var invite models.Invite
	if err := db.Where("id = ? AND tenant_id = ?", inviteID, p.TenantID).First(&invite).Error; err != nil {
		if isNotFound(err) {
			return apperrors.NotFound("邀请不存在")
		}
		return apperrors.Internal(err)
	}
	if invite.Status != models.InviteStatusPending {
		return apperrors.Conflict("只能撤销待接受的邀请")
	}

	result := db.Where("id = ? AND status = ?", invite.ID, models.InviteStatusPending).Delete(&models.Invite{})
	if result.Error != nil {
		return apperrors.Internal(result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.Conflict("只能撤销待接受的邀请")
	}

	s.log.WithFields(logrus.Fields{
		"invite_id":  invite.ID,
		"tenant_id":  invite.TenantID,
		"revoked_by": p.UserID,
	}).Info("邀请已撤销")
	return nil
}

// ListTenant 管理员查看本租户邀请，可按状态过滤
func (s *InvitationService) ListTenant(ctx context.Context, p *Principal, tenantSlug, status string, params *pagination.PageParams) ([]models.Invite, int64, error) {
	if status != "" && status != models.InviteStatusPending && status != models.InviteStatusAccepted && status != models.InviteStatusExpired {
		return nil, 0, apperrors.Validation("无效的邀请状态")
	}
	if err := s.policy.Authorize(p, ActionInviteList, Target{TenantSlug: tenantSlug}); err != nil {
		return nil, 0, err
	}

	db := s.db.WithContext(ctx)
	if _, err := s.expireLapsed(db.Where("tenant_id = ?", p.TenantID)); err != nil {
		return nil, 0, err
	}

	query := db.Model(&models.Invite{}).Where("tenant_id = ?", p.TenantID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperrors.Internal(err)
	}

	var invites []models.Invite
	if err := query.Scopes(params.Scope()).Order("created_at DESC, id DESC").Find(&invites).Error; err != nil {
		return nil, 0, apperrors.Internal(err)
	}
	return invites, total, nil
}

// ExpireStale 把所有已过期的待接受邀请标记为 Expired
func (s *InvitationService) ExpireStale(ctx context.Context) (int64, error) {
	return s.expireLapsed(s.db.WithContext(ctx))
}

// ========== 辅助方法 ==========

// expireLapsed 在给定查询范围内批量标记过期邀请
func (s *InvitationService) expireLapsed(scope *gorm.DB) (int64, error) {
	result := scope.Model(&models.Invite{}).
		Where("status = ? AND expires_at <= ?", models.InviteStatusPending, s.now()).
		Update("status", models.InviteStatusExpired)
	if result.Error != nil {
		return 0, apperrors.Internal(result.Error)
	}
	if result.RowsAffected > 0 {
		metrics.InvitesExpiredTotal.Add(float64(result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// lookupPending 查询待接受邀请；已过期的立即标记为 Expired
func (s *InvitationService) lookupPending(db *gorm.DB, token string) (*models.Invite, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.InvalidOrExpiredToken("邀请链接无效或已过期")
	}

	var invite models.Invite
	err := db.Where("token = ? AND status = ?", token, models.InviteStatusPending).First(&invite).Error
	if err != nil {
		if isNotFound(err) {
			return nil, apperrors.InvalidOrExpiredToken("邀请链接无效或已过期")
		}
		return nil, apperrors.Internal(err)
	}

	if invite.IsLapsed(s.now()) {
		result := db.Model(&models.Invite{}).
			Where("id = ? AND status = ?", invite.ID, models.InviteStatusPending).
			Update("status", models.InviteStatusExpired)
		if result.Error != nil {
			return nil, apperrors.Internal(result.Error)
		}
		if result.RowsAffected > 0 {
			metrics.InvitesExpiredTotal.Inc()
		}
		return nil, apperrors.InvalidOrExpiredToken("邀请链接已过期")
	}
	return &invite, nil
}

// ensureNoUser 邮箱在整个系统内不能已注册
func (s *InvitationService) ensureNoUser(db *gorm.DB, email string) error {
	var count int64
	if err := db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return apperrors.Internal(err)
	}
	if count > 0 {
		return apperrors.Conflict("该邮箱已注册")
	}
	return nil
}

func (s *InvitationService) inviteLink(token string) string {
	return fmt.Sprintf("%s/signup?token=%s", s.baseURL, token)
}

// generateInviteToken 生成邀请令牌
func generateInviteToken() (string, error) {
	b := make([]byte, inviteTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("生成邀请令牌失败: %v", err)
	}
	return hex.EncodeToString(b), nil
}

// validateEmail 基本的邮箱格式校验
func validateEmail(email string) error {
	if email == "" {
		return apperrors.Validation("邮箱不能为空")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperrors.Validation("邮箱格式不正确")
	}
	at := strings.LastIndex(email, "@")
	domain := email[at+1:]
	if at <= 0 || !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return apperrors.Validation("邮箱格式不正确")
	}
	return nil
}
