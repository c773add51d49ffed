package repository

import (
	"context"

	"synapse-go/internal/model"

	"gorm.io/gorm"
)

// SourceRepository 定义了来源记录的持久化操作。
type SourceRepository interface {
	Create(ctx context.Context, source *model.Source) error
	// FindInNotebook 查找笔记本内的来源，不存在时返回 model.ErrNotFound。
	FindInNotebook(ctx context.Context, notebookID, sourceID uint) (*model.Source, error)
	ListByNotebook(ctx context.Context, notebookID uint) ([]model.Source, error)
	// ReadyIDs 返回笔记本中已完成入库的来源 ID。
	ReadyIDs(ctx context.Context, notebookID uint) ([]uint, error)
	UpdateStatus(ctx context.Context, sourceID uint, status, errMsg string) error
	Delete(ctx context.Context, sourceID uint) error
}

type sourceRepository struct {
	db *gorm.DB
}

// NewSourceRepository 创建一个新的 SourceRepository 实例。
func NewSourceRepository(db *gorm.DB) SourceRepository {
	return &sourceRepository{db: db}
}

func (r *sourceRepository) Create(ctx context.Context, source *model.Source) error {
	return r.db.WithContext(ctx).Create(source).Error
}

func (r *sourceRepository) FindInNotebook(ctx context.Context, notebookID, sourceID uint) (*model.Source, error) {
	var s model.Source
	err := r.db.WithContext(ctx).Where("id = ? AND notebook_id = ?", sourceID, notebookID).First(&s).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *sourceRepository) ListByNotebook(ctx context.Context, notebookID uint) ([]model.Source, error) {
	var sources []model.Source
	err := r.db.WithContext(ctx).Where("notebook_id = ?", notebookID).Order("id ASC").Find(&sources).Error
	return sources, err
}

func (r *sourceRepository) ReadyIDs(ctx context.Context, notebookID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&model.Source{}).
		Where("notebook_id = ? AND status = ?", notebookID, model.SourceStatusReady).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *sourceRepository) UpdateStatus(ctx context.Context, sourceID uint, status, errMsg string) error {
	return r.db.WithContext(ctx).Model(&model.Source{}).Where("id = ?", sourceID).
		Updates(map[string]interface{}{"status": status, "error": errMsg}).Error
}

func (r *sourceRepository) Delete(ctx context.Context, sourceID uint) error {
	return r.db.WithContext(ctx).Delete(&model.Source{}, sourceID).Error
}
