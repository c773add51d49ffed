package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"synapse-go/internal/model"
	"synapse-go/internal/repository"
	"synapse-go/pkg/log"
)

// MaxNotebookTitleLength 是笔记本标题的最大字符数。
const MaxNotebookTitleLength = 255

// VectorIndex 是删除笔记本和来源时对向量库的依赖，由 retrieval.Gateway 实现。
type VectorIndex interface {
	DeleteSource(ctx context.Context, notebookID, sourceID uint) error
	DropNotebook(ctx context.Context, notebookID uint) error
}

// NotebookService 定义了笔记本管理操作。
type NotebookService interface {
	Create(ctx context.Context, userID uint, title string) (*model.Notebook, error)
	List(ctx context.Context, userID uint) ([]model.Notebook, error)
	// Delete 删除笔记本及其来源、聊天记录、文件和向量集合。
	Delete(ctx context.Context, userID, notebookID uint) error
}

type notebookService struct {
	notebookRepo repository.NotebookRepository
	sourceRepo   repository.SourceRepository
	index        VectorIndex
	objects      ObjectStore
}

// NewNotebookService 创建一个新的 NotebookService 实例。
func NewNotebookService(notebookRepo repository.NotebookRepository, sourceRepo repository.SourceRepository, index VectorIndex, objects ObjectStore) NotebookService {
	return &notebookService{
		notebookRepo: notebookRepo,
		sourceRepo:   sourceRepo,
		index:        index,
		objects:      objects,
	}
}

func (s *notebookService) Create(ctx context.Context, userID uint, title string) (*model.Notebook, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title must not be empty", model.ErrInvalidRequest)
	}
	if utf8.RuneCountInString(title) > MaxNotebookTitleLength {
		return nil, fmt.Errorf("%w: title is longer than %d characters", model.ErrInvalidRequest, MaxNotebookTitleLength)
	}
	nb := &model.Notebook{UserID: userID, Title: title}
	if err := s.notebookRepo.Create(ctx, nb); err != nil {
		return nil, err
	}
	log.Infof("[NotebookService] 创建笔记本, id: %d, user: %d", nb.ID, userID)
	return nb, nil
}

func (s *notebookService) List(ctx context.Context, userID uint) ([]model.Notebook, error) {
	notebooks, err := s.notebookRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if notebooks == nil {
		notebooks = []model.Notebook{}
	}
	return notebooks, nil
}

// Delete 先在事务中删除数据库记录，再清理向量集合与文件；后两步失败只记录日志。
func (s *notebookService) Delete(ctx context.Context, userID, notebookID uint) error {
	nb, err := s.notebookRepo.FindOwned(ctx, notebookID, userID)
	if err != nil {
		return err
	}
	sources, err := s.sourceRepo.ListByNotebook(ctx, nb.ID)
	if err != nil {
		return err
	}
	if err := s.notebookRepo.Delete(ctx, nb.ID); err != nil {
		return fmt.Errorf("删除笔记本失败: %w", err)
	}

	if err := s.index.DropNotebook(ctx, nb.ID); err != nil {
		log.Errorf("[NotebookService] 删除向量集合失败, notebook: %d, error: %v", nb.ID, err)
	}
	for _, src := range sources {
		if err := s.objects.Remove(ctx, src.FilePath); err != nil {
			log.Errorf("[NotebookService] 删除文件失败, key: %s, error: %v", src.FilePath, err)
		}
	}
	log.Infof("[NotebookService] 删除笔记本, id: %d, sources: %d", nb.ID, len(sources))
	return nil
}
