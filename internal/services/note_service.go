package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
	"yardstick/internal/models"
	apperrors "yardstick/pkg/errors"
	"yardstick/pkg/logger"
	"yardstick/pkg/metrics"
	"yardstick/pkg/pagination"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NoteService 笔记服务
type NoteService struct {
	db     *gorm.DB
	log    *logrus.Logger
	quota  *QuotaPolicy
	policy *AuthorizationPolicy
	locker TenantLocker
}

// NewNoteService 创建笔记服务
func NewNoteService(db *gorm.DB, quota *QuotaPolicy, policy *AuthorizationPolicy, locker TenantLocker) *NoteService {
	return &NoteService{
		db:     db,
		log:    logger.GetLogger(),
		quota:  quota,
		policy: policy,
		locker: locker,
	}
}

// CreateNoteRequest 创建笔记请求
type CreateNoteRequest struct {
	Title   string `json:"title" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// UpdateNoteRequest 更新笔记请求，只更新传入的字段
type UpdateNoteRequest struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

// ========== 参数校验 ==========

func validateNoteTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return apperrors.Validation("标题不能为空")
	}
	if utf8.RuneCountInString(title) > models.NoteTitleMaxLen {
		return apperrors.Validation(fmt.Sprintf("标题不能超过%d个字符", models.NoteTitleMaxLen))
	}
	return nil
}

func validateNoteContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperrors.Validation("内容不能为空")
	}
	if utf8.RuneCountInString(content) > models.NoteContentMaxLen {
		return apperrors.Validation(fmt.Sprintf("内容不能超过%d个字符", models.NoteContentMaxLen))
	}
	return nil
}

// ========== 查询 ==========

// List 列出租户内所有笔记，按更新时间倒序
func (s *NoteService) List(ctx context.Context, p *Principal, params *pagination.PageParams) ([]models.Note, int64, error) {
	if err := s.policy.Authorize(p, ActionNoteRead, Target{}); err != nil {
		return nil, 0, err
	}

	query := s.db.WithContext(ctx).Model(&models.Note{}).Where("tenant_id = ?", p.TenantID).Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperrors.Internal(err)
	}

	var notes []models.Note
	err := query.Scopes(params.Scope()).
		Preload("Author", func(db *gorm.DB) *gorm.DB { return db.Select("id", "email", "name", "role") }).
		Order("updated_at DESC, id DESC").
		Find(&notes).Error
	if err != nil {
		return nil, 0, apperrors.Internal(err)
	}
	return notes, total, nil
}

// Get 获取单条笔记；其他租户的笔记按不存在处理
func (s *NoteService) Get(ctx context.Context, p *Principal, id uint) (*models.Note, error) {
	if p == nil {
		return nil, apperrors.Unauthenticated()
	}
	note, err := s.findInTenant(s.db.WithContext(ctx), p.TenantID, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(p, ActionNoteRead, Target{TenantID: note.TenantID, OwnerID: note.AuthorID}); err != nil {
		return nil, err
	}
	return note, nil
}

// CountByAuthor 统计用户自己的笔记数，只能查询自己
func (s *NoteService) CountByAuthor(ctx context.Context, p *Principal, userID uint) (int64, error) {
	if p == nil {
		return 0, apperrors.Unauthenticated()
	}
	if p.UserID != userID {
		return 0, apperrors.Forbidden("只能查询自己的笔记数量")
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Note{}).
		Where("tenant_id = ? AND author_id = ?", p.TenantID, userID).
		Count(&count).Error
	if err != nil {
		return 0, apperrors.Internal(err)
	}
	return count, nil
}

// ========== 写操作 ==========

// Create 创建笔记：校验 → 授权 → 租户锁 → 事务内计数并插入
func (s *NoteService) Create(ctx context.Context, p *Principal, req *CreateNoteRequest) (*models.Note, error) {
	if p == nil {
		return nil, apperrors.Unauthenticated()
	}
	if err := validateNoteTitle(req.Title); err != nil {
		return nil, err
	}
	if err := validateNoteContent(req.Content); err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(p, ActionNoteCreate, Target{TenantID: p.TenantID}); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, p.TenantID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	defer unlock()

	note := &models.Note{
		Title:    strings.TrimSpace(req.Title),
		Content:  req.Content,
		TenantID: p.TenantID,
		AuthorID: p.UserID,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tenant models.Tenant
		if err := forUpdate(tx).First(&tenant, p.TenantID).Error; err != nil {
			if isNotFound(err) {
				return apperrors.Unauthenticated()
			}
			return apperrors.Internal(err)
		}

		var author models.User
		if err := tx.Where("id = ? AND tenant_id = ?", p.UserID, p.TenantID).First(&author).Error; err != nil {
			if isNotFound(err) {
				return apperrors.Unauthenticated()
			}
			return apperrors.Internal(err)
		}

		// 个人Free覆盖按个人笔记数计算，否则按租户笔记数
		countQuery := tx.Model(&models.Note{}).Where("tenant_id = ?", tenant.ID)
		if tenant.Plan == models.PlanPro && EffectivePlan(tenant.Plan, author.Plan) == models.PlanFree {
			countQuery = countQuery.Where("author_id = ?", author.ID)
		}
		var count int64
		if err := countQuery.Count(&count).Error; err != nil {
			return apperrors.Internal(err)
		}

		if err := s.quota.CanCreate(&tenant, author.Plan, count); err != nil {
			metrics.QuotaDeniedTotal.WithLabelValues(tenant.Slug).Inc()
			s.log.WithFields(logrus.Fields{
				"tenant_id": tenant.ID,
				"user_id":   author.ID,
				"count":     count,
			}).Info("笔记配额不足")
			return err
		}

		if err := tx.Create(note).Error; err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.NoteOperationsTotal.WithLabelValues("create").Inc()
	s.log.WithFields(logrus.Fields{
		"note_id":   note.ID,
		"tenant_id": note.TenantID,
		"author_id": note.AuthorID,
	}).Info("笔记创建成功")
	return note, nil
}

// Update 更新笔记，作者或管理员可操作
func (s *NoteService) Update(ctx context.Context, p *Principal, id uint, req *UpdateNoteRequest) (*models.Note, error) {
	if p == nil {
		return nil, apperrors.Unauthenticated()
	}
	if req.Title == nil && req.Content == nil {
		return nil, apperrors.Validation("标题和内容不能同时为空")
	}
	updates := map[string]interface{}{}
	if req.Title != nil {
		if err := validateNoteTitle(*req.Title); err != nil {
			return nil, err
		}
		updates["title"] = strings.TrimSpace(*req.Title)
	}
	if req.Content != nil {
		if err := validateNoteContent(*req.Content); err != nil {
			return nil, err
		}
		updates["content"] = *req.Content
	}

	db := s.db.WithContext(ctx)
	note, err := s.findInTenant(db, p.TenantID, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(p, ActionNoteUpdate, Target{TenantID: note.TenantID, OwnerID: note.AuthorID}); err != nil {
		return nil, err
	}

	if err := db.Model(note).Updates(updates).Error; err != nil {
		return nil, apperrors.Internal(err)
	}

	metrics.NoteOperationsTotal.WithLabelValues("update").Inc()
	return s.findInTenant(db, p.TenantID, id)
}

// Delete 删除笔记，作者或管理员可操作
func (s *NoteService) Delete(ctx context.Context, p *Principal, id uint) error {
	if p == nil {
		return apperrors.Unauthenticated()
	}
	db := s.db.WithContext(ctx)
	note, err := s.findInTenant(db, p.TenantID, id)
	if err != nil {
		return err
	}
	if err := s.policy.Authorize(p, ActionNoteDelete, Target{TenantID: note.TenantID, OwnerID: note.AuthorID}); err != nil {
		return err
	}

	if err := db.Delete(&models.Note{}, note.ID).Error; err != nil {
		return apperrors.Internal(err)
	}

	metrics.NoteOperationsTotal.WithLabelValues("delete").Inc()
	s.log.WithFields(logrus.Fields{
		"note_id":    note.ID,
		"tenant_id":  note.TenantID,
		"deleted_by": p.UserID,
	}).Info("笔记已删除")
	return nil
}

// findInTenant 按租户过滤查询笔记
func (s *NoteService) findInTenant(db *gorm.DB, tenantID, id uint) (*models.Note, error) {
	var note models.Note
	err := db.Where("id = ? AND tenant_id = ?", id, tenantID).
		Preload("Author", func(db *gorm.DB) *gorm.DB { return db.Select("id", "email", "name", "role") }).
		First(&note).Error
	if err != nil {
		if isNotFound(err) {
			return nil, apperrors.NotFound("笔记不存在")
		}
		return nil, apperrors.Internal(err)
	}
	return &note, nil
}
