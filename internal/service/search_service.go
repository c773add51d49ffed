// Package service 提供了搜索相关的业务逻辑。
package service

import (
	"context"
	"fmt"
	"strings"

	"synapse-go/internal/model"
	"synapse-go/internal/repository"
	"synapse-go/internal/retrieval"
	"synapse-go/pkg/log"
	"synapse-go/pkg/vectorstore"
)

// MaxPreviewK 是检索预览一次最多返回的条数。
const MaxPreviewK = 50

// SearchQuery 是检索预览的参数。
type SearchQuery struct {
	Query     string
	Mode      string
	SourceIDs []uint
	K         int
}

// SearchService 提供不经过模型回答的检索预览，范围与提问时相同。
type SearchService interface {
	Preview(ctx context.Context, userID, notebookID uint, q SearchQuery) ([]model.SearchHit, error)
}

type searchService struct {
	notebookRepo repository.NotebookRepository
	sourceRepo   repository.SourceRepository
	searcher     Searcher
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(notebookRepo repository.NotebookRepository, sourceRepo repository.SourceRepository, searcher Searcher) SearchService {
	return &searchService{
		notebookRepo: notebookRepo,
		sourceRepo:   sourceRepo,
		searcher:     searcher,
	}
}

func (s *searchService) Preview(ctx context.Context, userID, notebookID uint, q SearchQuery) ([]model.SearchHit, error) {
	query := strings.TrimSpace(q.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", model.ErrInvalidRequest)
	}
	if q.K < 0 || q.K > MaxPreviewK {
		return nil, fmt.Errorf("%w: k must be between 1 and %d", model.ErrInvalidRequest, MaxPreviewK)
	}
	nb, err := s.notebookRepo.FindOwned(ctx, notebookID, userID)
	if err != nil {
		return nil, err
	}

	ready, err := s.sourceRepo.ReadyIDs(ctx, nb.ID)
	if err != nil {
		return nil, err
	}
	scope := ready
	if len(q.SourceIDs) > 0 {
		scope = intersect(q.SourceIDs, ready)
	}
	if len(scope) == 0 {
		return []model.SearchHit{}, nil
	}

	mode := q.Mode
	if strings.TrimSpace(mode) == "" {
		mode = model.DefaultAskMode
	}
	hits, err := s.searcher.Search(ctx, retrieval.SearchRequest{
		NotebookID: nb.ID,
		Query:      query,
		Mode:       retrieval.ParseMode(mode),
		SourceIDs:  scope,
		K:          q.K,
	})
	if err != nil {
		return nil, err
	}

	out := previewHits(hits)
	log.Infof("[SearchService] 检索预览, notebook: %d, mode: %s, hits: %d", nb.ID, mode, len(out))
	return out, nil
}

// previewHits 转换检索结果，页码从 1 开始，缺少页码时不输出 page。
func previewHits(hits []vectorstore.Hit) []model.SearchHit {
	out := make([]model.SearchHit, 0, len(hits))
	for _, h := range hits {
		hit := model.SearchHit{
			ChunkID:  h.ID,
			SourceID: h.Metadata.SourceID,
			Text:     h.Text,
			Score:    h.Score,
		}
		if h.Metadata.Page >= 0 {
			page := h.Metadata.Page + 1
			hit.Page = &page
		}
		out = append(out, hit)
	}
	return out
}
