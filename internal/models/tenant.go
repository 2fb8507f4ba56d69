package models

// Tenant 租户模型 - 贫血模型，只包含数据结构
type Tenant struct {
	BaseModel
	Name     string `json:"name" gorm:"not null;size:100"`
	Slug     string `json:"slug" gorm:"uniqueIndex;not null;size:100"`
	Plan     string `json:"plan" gorm:"not null;size:10;default:'Free'"`
	MaxNotes int    `json:"max_notes" gorm:"not null;default:3"`
}

// TableName 表名
func (t *Tenant) TableName() string {
	return "tenants"
}

// 套餐常量
const (
	PlanFree = "Free"
	PlanPro  = "Pro"
)

// IsValidPlan 检查套餐名称
func IsValidPlan(plan string) bool {
	return plan == PlanFree || plan == PlanPro
}
