package models

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost bcrypt计算成本
const PasswordCost = 12

// User 用户模型，每个用户只属于一个租户
type User struct {
	BaseModel
	Email        string     `json:"email" gorm:"uniqueIndex;not null;size:255"`
	Name         string     `json:"name" gorm:"size:100"`
	PasswordHash string     `json:"-" gorm:"not null;size:255"`
	Role         string     `json:"role" gorm:"not null;size:10;default:'Member';index:idx_users_tenant_role,priority:2"`
	TenantID     uint       `json:"tenant_id" gorm:"not null;index:idx_users_tenant_role,priority:1"`
	Plan         *string    `json:"plan,omitempty" gorm:"size:10"` // 个人套餐覆盖，只能收紧租户套餐
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`

	Tenant *Tenant `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`
}

// TableName 表名
func (u *User) TableName() string {
	return "users"
}

// 角色常量
const (
	RoleAdmin  = "Admin"
	RoleMember = "Member"
)

// IsValidRole 检查角色名称
func IsValidRole(role string) bool {
	return role == RoleAdmin || role == RoleMember
}

// NormalizeEmail 邮箱统一去空格并转小写
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SetPassword 设置密码 - 数据操作方法
func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

// CheckPassword 验证密码 - 数据操作方法
func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}
