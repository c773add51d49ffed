// Package vectorstore 定义向量库的统一访问接口。
// 每个笔记本对应一个集合，记录按 ID upsert，查询时带元数据过滤。
package vectorstore

import (
	"context"
	"math"
)

// NoPage 表示元数据中缺少页码。
const NoPage = -1

// Metadata 是每个分块附带的来源信息。SourceID 为 0 表示缺失。
type Metadata struct {
	NotebookID uint `json:"notebook_id"`
	SourceID   uint `json:"source_id"`
	ChunkIndex int  `json:"chunk_index"`
	Page       int  `json:"page"`
}

// Record 是写入向量库的一条记录。
type Record struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata Metadata
}

// Filter 是查询时的元数据过滤条件：notebook_id 相等，且 SourceIDs 非空时 source_id 必须在其中。
type Filter struct {
	NotebookID uint
	SourceIDs  []uint
}

// Match 判断元数据是否满足过滤条件。
func (f Filter) Match(m Metadata) bool {
	if m.NotebookID != f.NotebookID {
		return false
	}
	if len(f.SourceIDs) == 0 {
		return true
	}
	for _, id := range f.SourceIDs {
		if id == m.SourceID {
			return true
		}
	}
	return false
}

// Hit 是一条查询结果，Record.Vector 中带回存储的向量以便 MMR 重排。
type Hit struct {
	Record
	Score float64
}

// Store 是向量库实现需要满足的接口，实现必须可以被并发调用。
type Store interface {
	// EnsureCollection 确保集合存在，不存在则按给定维度创建。
	EnsureCollection(ctx context.Context, collection string, dims int) error
	// Upsert 按 Record.ID 写入或覆盖记录。
	Upsert(ctx context.Context, collection string, records []Record) error
	// Query 返回按相似度降序排列的前 k 条满足过滤条件的结果。
	Query(ctx context.Context, collection string, vector []float32, filter Filter, k int) ([]Hit, error)
	// DeleteBySource 删除某个来源的全部分块。
	DeleteBySource(ctx context.Context, collection string, sourceID uint) error
	// DropCollection 删除整个集合，集合不存在时不报错。
	DropCollection(ctx context.Context, collection string) error
	Close() error
}

// Cosine 计算两个向量的余弦相似度，任一向量为零向量时返回 0。
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
