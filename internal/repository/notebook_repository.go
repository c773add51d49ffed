package repository

import (
	"context"
	"errors"

	"synapse-go/internal/model"

	"gorm.io/gorm"
)

// NotebookRepository 定义了笔记本的持久化操作。
type NotebookRepository interface {
	Create(ctx context.Context, notebook *model.Notebook) error
	// FindOwned 返回属于 userID 的笔记本，不存在或不属于该用户时返回 model.ErrAccessDenied。
	FindOwned(ctx context.Context, notebookID, userID uint) (*model.Notebook, error)
	ListByUser(ctx context.Context, userID uint) ([]model.Notebook, error)
	// Delete 在一个事务中删除笔记本及其来源、聊天记录。
	Delete(ctx context.Context, notebookID uint) error
}

type notebookRepository struct {
	db *gorm.DB
}

// NewNotebookRepository 创建一个新的 NotebookRepository 实例。
func NewNotebookRepository(db *gorm.DB) NotebookRepository {
	return &notebookRepository{db: db}
}

// Create 标题全局唯一，冲突时返回 model.ErrDuplicateNotebookTitle。
func (r *notebookRepository) Create(ctx context.Context, notebook *model.Notebook) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Notebook{}).Where("title = ?", notebook.Title).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return model.ErrDuplicateNotebookTitle
	}
	// 并发创建时由唯一索引兜底
	if err := r.db.WithContext(ctx).Create(notebook).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return model.ErrDuplicateNotebookTitle
		}
		return err
	}
	return nil
}

func (r *notebookRepository) FindOwned(ctx context.Context, notebookID, userID uint) (*model.Notebook, error) {
	var nb model.Notebook
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", notebookID, userID).First(&nb).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrAccessDenied
		}
		return nil, err
	}
	return &nb, nil
}

func (r *notebookRepository) ListByUser(ctx context.Context, userID uint) ([]model.Notebook, error) {
	var notebooks []model.Notebook
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&notebooks).Error
	return notebooks, err
}

func (r *notebookRepository) Delete(ctx context.Context, notebookID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("notebook_id = ?", notebookID).Delete(&model.ChatMessage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("notebook_id = ?", notebookID).Delete(&model.Source{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Notebook{}, notebookID).Error
	})
}
