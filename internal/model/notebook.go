package model

import (
	"fmt"
	"time"
)

// Notebook 对应 notebooks 表，是来源、向量集合与聊天记录的隔离单位。
// Title 在整个系统内唯一。
type Notebook struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"userId"`
	Title     string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"title"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Notebook) TableName() string {
	return "notebooks"
}

// CollectionName 返回笔记本对应的向量集合名。
func CollectionName(notebookID uint) string {
	return fmt.Sprintf("notebook_%d", notebookID)
}
