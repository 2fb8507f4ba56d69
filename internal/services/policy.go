package services

import (
	"yardstick/internal/models"
	apperrors "yardstick/pkg/errors"
)

// Action 授权动作
type Action string

const (
	ActionNoteRead       Action = "note:read"
	ActionNoteCreate     Action = "note:create"
	ActionNoteUpdate     Action = "note:update"
	ActionNoteDelete     Action = "note:delete"
	ActionUserList       Action = "user:list"
	ActionUserCreate     Action = "user:create"
	ActionUserInvite     Action = "user:invite"
	ActionUserRole       Action = "user:role"
	ActionUserPlan       Action = "user:plan"
	ActionUserDelete     Action = "user:delete"
	ActionTenantPlan     Action = "tenant:plan"
	ActionUpgradeReview  Action = "upgrade:review"
	ActionUpgradeRequest Action = "upgrade:request"
	ActionInviteList     Action = "invite:list"
	ActionInviteRevoke   Action = "invite:revoke"
)

// 仅管理员可执行的动作
var adminActions = map[Action]bool{
	ActionUserList:      true,
	ActionUserCreate:    true,
	ActionUserInvite:    true,
	ActionUserRole:      true,
	ActionUserPlan:      true,
	ActionUserDelete:    true,
	ActionTenantPlan:    true,
	ActionUpgradeReview: true,
	ActionInviteList:    true,
	ActionInviteRevoke:  true,
}

// Target 授权目标，零值字段不参与对应规则
type Target struct {
	TenantID   uint   // 资源所属租户
	TenantSlug string // 路径中的租户标识
	OwnerID    uint   // 笔记作者
	UserID     uint   // 被操作的用户
	UserRole   string // 被操作用户的当前角色
	NewRole    string // 角色变更的目标角色
	AdminCount int64  // 租户当前管理员数量
}

// AuthorizationPolicy 授权策略
type AuthorizationPolicy struct {
	AdminsCanCreateNotes bool
}

// NewAuthorizationPolicy 创建授权策略
func NewAuthorizationPolicy(adminsCanCreateNotes bool) *AuthorizationPolicy {
	return &AuthorizationPolicy{AdminsCanCreateNotes: adminsCanCreateNotes}
}

// Authorize 判断主体能否对目标执行动作
func (p *AuthorizationPolicy) Authorize(principal *Principal, action Action, target Target) error {
	if principal == nil {
		return apperrors.Unauthenticated()
	}

	// 租户隔离：跨租户资源一律视为不存在
	if target.TenantID != 0 && target.TenantID != principal.TenantID {
		return apperrors.NotFound("资源不存在")
	}

	// 管理员只能操作自己的租户
	if target.TenantSlug != "" && target.TenantSlug != principal.TenantSlug {
		return apperrors.Forbidden("无权操作其他租户")
	}

	if adminActions[action] && !principal.IsAdmin() {
		return apperrors.Forbidden("只有租户管理员才能执行该操作")
	}

	switch action {
	case ActionNoteRead, ActionUpgradeRequest:
		return nil

	case ActionNoteCreate:
		if principal.IsAdmin() && !p.AdminsCanCreateNotes {
			return apperrors.Forbidden("管理员不能创建笔记")
		}
		return nil

	case ActionNoteUpdate, ActionNoteDelete:
		if principal.UserID == target.OwnerID || principal.IsAdmin() {
			return nil
		}
		return apperrors.Forbidden("只有作者或管理员才能修改该笔记")

	case ActionUserRole:
		if target.UserID == principal.UserID {
			return apperrors.Forbidden("不能修改自己的角色")
		}
		if target.UserRole == models.RoleAdmin && target.NewRole != models.RoleAdmin && target.AdminCount <= 1 {
			return apperrors.LastAdminProtected("不能降级租户的最后一个管理员")
		}
		return nil

	case ActionUserDelete:
		if target.UserRole == models.RoleAdmin && target.AdminCount <= 1 {
			return apperrors.LastAdminProtected("不能删除租户的最后一个管理员")
		}
		return nil

	case ActionUserList, ActionUserCreate, ActionUserInvite, ActionUserPlan, ActionTenantPlan,
		ActionUpgradeReview, ActionInviteList, ActionInviteRevoke:
		return nil
	}

	return apperrors.Forbidden("未知操作")
}
