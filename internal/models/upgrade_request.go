package models

import "time"

// UpgradeRequest 套餐升级申请
type UpgradeRequest struct {
	BaseModel
	UserID     uint       `json:"user_id" gorm:"not null;index"`
	TenantID   uint       `json:"tenant_id" gorm:"not null;index"`
	Status     string     `json:"status" gorm:"size:20;not null;default:'pending'"`
	ReviewedBy *uint      `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TableName 表名
func (r *UpgradeRequest) TableName() string {
	return "upgrade_requests"
}

// 申请状态常量
const (
	UpgradeStatusPending  = "pending"
	UpgradeStatusApproved = "approved"
	UpgradeStatusRejected = "rejected"
)
