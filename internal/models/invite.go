package models

import (
	"time"
)

// Invite 租户邀请
type Invite struct {
	ID         uint       `gorm:"primarykey" json:"id"`
	TenantID   uint       `gorm:"not null;index" json:"tenant_id"`
	InviterID  uint       `gorm:"not null" json:"inviter_id"`                       // 邀请人
	Email      string     `gorm:"size:255;not null;index" json:"email"`             // 被邀请人邮箱（小写）
	Token      string     `gorm:"size:100;uniqueIndex;not null" json:"-"`           // 邀请令牌，只通过链接下发
	Status     string     `gorm:"size:20;not null;default:'Pending'" json:"status"` // Pending/Accepted/Expired
	ExpiresAt  time.Time  `gorm:"not null" json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	// 关联
	Tenant *Tenant `gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE" json:"tenant,omitempty"`
}

// TableName 指定表名
func (Invite) TableName() string {
	return "invites"
}

// 邀请状态常量
const (
	InviteStatusPending  = "Pending"
	InviteStatusAccepted = "Accepted"
	InviteStatusExpired  = "Expired"
)

// IsLapsed 是否已超过有效期
func (i *Invite) IsLapsed(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}
