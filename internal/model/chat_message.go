// Package model 包含了应用的数据模型定义。
package model

import "time"

// 消息角色
const (
	RoleHuman = "human"
	RoleAI    = "ai"
)

// ChatMessage 对应 chat_messages 表，记录笔记本中的一轮对话消息。
// 只追加不修改，按 ID 升序即插入顺序。
type ChatMessage struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	NotebookID uint      `gorm:"not null;index" json:"notebookId"`
	Role       string    `gorm:"type:varchar(16);not null" json:"role"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
