package repository

import (
	"context"

	"synapse-go/internal/model"

	"gorm.io/gorm"
)

// ChatMessageRepository 定义了聊天记录的持久化操作。记录只追加。
type ChatMessageRepository interface {
	Append(ctx context.Context, msg *model.ChatMessage) error
	// Recent 返回最近 limit 条消息，按时间正序排列；limit <= 0 表示全部。
	Recent(ctx context.Context, notebookID uint, limit int) ([]model.ChatMessage, error)
}

type chatMessageRepository struct {
	db *gorm.DB
}

// NewChatMessageRepository 创建一个新的 ChatMessageRepository 实例。
func NewChatMessageRepository(db *gorm.DB) ChatMessageRepository {
	return &chatMessageRepository{db: db}
}

func (r *chatMessageRepository) Append(ctx context.Context, msg *model.ChatMessage) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *chatMessageRepository) Recent(ctx context.Context, notebookID uint, limit int) ([]model.ChatMessage, error) {
	var msgs []model.ChatMessage
	q := r.db.WithContext(ctx).Where("notebook_id = ?", notebookID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	// 倒序取出后翻转为时间正序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
