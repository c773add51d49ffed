package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore 是基于暴力余弦相似度的内存实现，用于本地开发和测试。
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	dims    int
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建一个空的内存向量库。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memoryCollection)}
}

func (s *MemoryStore) EnsureCollection(_ context.Context, collection string, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("invalid dimension %d", dims)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection]; !ok {
		s.collections[collection] = &memoryCollection{dims: dims, records: make(map[string]Record)}
	}
	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, collection string, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		return fmt.Errorf("collection %s does not exist", collection)
	}
	for _, r := range records {
		if len(r.Vector) != c.dims {
			return fmt.Errorf("vector dimension mismatch: want %d, got %d", c.dims, len(r.Vector))
		}
	}
	for _, r := range records {
		r.Vector = append([]float32(nil), r.Vector...)
		c.records[r.ID] = r
	}
	return nil
}

func (s *MemoryStore) Query(_ context.Context, collection string, vector []float32, filter Filter, k int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}
	hits := make([]Hit, 0, len(c.records))
	for _, r := range c.records {
		if !filter.Match(r.Metadata) {
			continue
		}
		hits = append(hits, Hit{Record: r, Score: Cosine(vector, r.Vector)})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].Score > hits[j].Score
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *MemoryStore) DeleteBySource(_ context.Context, collection string, sourceID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil
	}
	for id, r := range c.records {
		if r.Metadata.SourceID == sourceID {
			delete(c.records, id)
		}
	}
	return nil
}

func (s *MemoryStore) DropCollection(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, collection)
	return nil
}

// Count 返回集合中的记录数，集合不存在时为 0。
func (s *MemoryStore) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[collection]; ok {
		return len(c.records)
	}
	return 0
}

func (s *MemoryStore) Close() error { return nil }
