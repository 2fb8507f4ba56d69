package models

// Note 笔记
type Note struct {
	BaseModel
	Title    string `json:"title" gorm:"not null;size:200"`
	Content  string `json:"content" gorm:"type:text;not null"`
	TenantID uint   `json:"tenant_id" gorm:"not null;index"`
	AuthorID uint   `json:"author_id" gorm:"not null;index"`

	Author *User `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
}

// TableName 表名
func (n *Note) TableName() string {
	return "notes"
}

// 字段长度限制
const (
	NoteTitleMaxLen   = 200
	NoteContentMaxLen = 10000
)
