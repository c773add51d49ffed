// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// Source 的入库状态
const (
	SourceStatusPending = "pending"
	SourceStatusReady   = "ready"
	SourceStatusFailed  = "failed"
)

// Source 对应 sources 表，表示绑定到某个笔记本的一份 PDF。
// FilePath 是文件在对象存储中的 key；上传完成后内容不再变化，只有状态字段会更新。
type Source struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	NotebookID uint      `gorm:"not null;index" json:"notebookId"`
	Title      string    `gorm:"type:varchar(255);not null" json:"title"`
	FilePath   string    `gorm:"type:varchar(512);not null" json:"filePath"`
	FileSize   int64     `gorm:"not null;default:0" json:"fileSize"`
	Status     string    `gorm:"type:varchar(16);not null;default:pending;index" json:"status"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Source) TableName() string {
	return "sources"
}

// Ready 表示该来源已完整写入向量库，可以参与检索。
func (s Source) Ready() bool {
	return s.Status == SourceStatusReady
}
