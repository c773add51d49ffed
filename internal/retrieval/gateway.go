// Package retrieval 负责笔记本向量集合的写入与检索。
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"synapse-go/internal/config"
	"synapse-go/internal/model"
	"synapse-go/pkg/embedding"
	"synapse-go/pkg/llm"
	"synapse-go/pkg/log"
	"synapse-go/pkg/vectorstore"

	"golang.org/x/sync/errgroup"
)

// Mode 是检索策略。
type Mode string

const (
	ModeBase       Mode = "base"
	ModeMMR        Mode = "mmr"
	ModeMultiQuery Mode = "multiquery"
)

// ParseMode 解析检索模式，未知模式退回 base。
func ParseMode(s string) Mode {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeBase, ModeMMR, ModeMultiQuery:
		return m
	default:
		if s != "" {
			log.Warnf("[Gateway] 未知的检索模式 '%s'，使用 base", s)
		}
		return ModeBase
	}
}

// Chunk 是待写入向量库的一个分块。
type Chunk struct {
	ID       string
	Text     string
	Metadata vectorstore.Metadata
}

// SearchRequest 描述一次检索。K 为 0 时使用配置的 top_k。
type SearchRequest struct {
	NotebookID uint
	Query      string
	Mode       Mode
	SourceIDs  []uint
	K          int
}

// Options 控制检索与写入参数。
type Options struct {
	TopK             int
	FetchK           int
	MMRLambda        float64
	MultiQueryCount  int
	EmbedBatchSize   int
	EmbedConcurrency int
}

// OptionsFromConfig 从配置生成 Options，零值字段使用默认值。
func OptionsFromConfig(r config.RetrievalConfig, in config.IngestionConfig) Options {
	return Options{
		TopK:             r.TopK,
		FetchK:           r.FetchK,
		MMRLambda:        r.MMRLambda,
		MultiQueryCount:  r.MultiQueryCount,
		EmbedBatchSize:   in.EmbedBatchSize,
		EmbedConcurrency: in.EmbedConcurrency,
	}
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.FetchK <= 0 {
		o.FetchK = 20
	}
	if o.MMRLambda <= 0 || o.MMRLambda > 1 {
		o.MMRLambda = 0.5
	}
	if o.MultiQueryCount <= 0 {
		o.MultiQueryCount = 3
	}
	if o.EmbedBatchSize <= 0 {
		o.EmbedBatchSize = 64
	}
	if o.EmbedConcurrency <= 0 {
		o.EmbedConcurrency = 4
	}
	return o
}

// Gateway 持有向量库与 embedding 客户端，可并发使用。
// 每个笔记本对应集合 notebook_{id}，首次访问时创建。
type Gateway struct {
	store    vectorstore.Store
	embedder embedding.Client
	llm      llm.Client
	opts     Options

	ensured sync.Map // collection -> struct{}
}

// NewGateway 创建 Gateway。llmClient 只用于 multiquery 模式。
func NewGateway(store vectorstore.Store, embedder embedding.Client, llmClient llm.Client, opts Options) *Gateway {
	return &Gateway{
		store:    store,
		embedder: embedder,
		llm:      llmClient,
		opts:     opts.withDefaults(),
	}
}

func (g *Gateway) ensure(ctx context.Context, collection string, dims int) error {
	if _, ok := g.ensured.Load(collection); ok {
		return nil
	}
	if err := g.store.EnsureCollection(ctx, collection, dims); err != nil {
		return err
	}
	g.ensured.Store(collection, struct{}{})
	return nil
}

// Ingest 分批计算向量并按分块 ID upsert 到笔记本集合，重复写入同一分块会覆盖。
func (g *Gateway) Ingest(ctx context.Context, notebookID uint, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	vectors := make([][]float32, len(chunks))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.EmbedConcurrency)
	for start := 0; start < len(chunks); start += g.opts.EmbedBatchSize {
		end := start + g.opts.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		eg.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Text)
			}
			batch, err := g.embedder.CreateEmbeddings(egCtx, texts)
			if err != nil {
				return fmt.Errorf("分块 %d-%d 向量化失败: %w", start, end-1, err)
			}
			if len(batch) != len(texts) {
				return fmt.Errorf("分块 %d-%d 向量数量不匹配: %d", start, end-1, len(batch))
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	collection := model.CollectionName(notebookID)
	if err := g.ensure(ctx, collection, len(vectors[0])); err != nil {
		return fmt.Errorf("准备集合 '%s' 失败: %w", collection, err)
	}

	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		md := c.Metadata
		md.NotebookID = notebookID
		records[i] = vectorstore.Record{ID: c.ID, Text: c.Text, Vector: vectors[i], Metadata: md}
	}
	if err := g.store.Upsert(ctx, collection, records); err != nil {
		return fmt.Errorf("写入集合 '%s' 失败: %w", collection, err)
	}
	log.Infof("[Gateway] 笔记本 %d 写入 %d 个分块", notebookID, len(records))
	return nil
}

// Search 在笔记本集合中检索，过滤条件固定包含 notebook_id，SourceIDs 非空时再限定 source_id。
// 向量库或查询向量化失败时返回 model.ErrRetrievalUnavailable，不会以空结果掩盖。
func (g *Gateway) Search(ctx context.Context, req SearchRequest) ([]vectorstore.Hit, error) {
	k := req.K
	if k <= 0 {
		k = g.opts.TopK
	}
	filter := vectorstore.Filter{NotebookID: req.NotebookID, SourceIDs: req.SourceIDs}
	collection := model.CollectionName(req.NotebookID)

	switch req.Mode {
	case ModeMMR:
		return g.searchMMR(ctx, collection, req.Query, filter, k)
	case ModeMultiQuery:
		return g.searchMultiQuery(ctx, collection, req.Query, filter, k)
	default:
		vector, err := g.embedQuery(ctx, req.Query)
		if err != nil {
			return nil, err
		}
		return g.query(ctx, collection, vector, filter, k)
	}
}

func (g *Gateway) searchMMR(ctx context.Context, collection, query string, filter vectorstore.Filter, k int) ([]vectorstore.Hit, error) {
	vector, err := g.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	fetchK := g.opts.FetchK
	if fetchK < k {
		fetchK = k
	}
	candidates, err := g.query(ctx, collection, vector, filter, fetchK)
	if err != nil {
		return nil, err
	}
	return MaximalMarginalRelevance(vector, candidates, k, g.opts.MMRLambda), nil
}

func (g *Gateway) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vector, err := g.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, unavailable(fmt.Errorf("查询向量化失败: %w", err))
	}
	return vector, nil
}

func (g *Gateway) query(ctx context.Context, collection string, vector []float32, filter vectorstore.Filter, k int) ([]vectorstore.Hit, error) {
	if err := g.ensure(ctx, collection, len(vector)); err != nil {
		return nil, unavailable(err)
	}
	hits, err := g.store.Query(ctx, collection, vector, filter, k)
	if err != nil {
		return nil, unavailable(err)
	}
	return hits, nil
}

// DeleteSource 删除来源的全部分块。
func (g *Gateway) DeleteSource(ctx context.Context, notebookID, sourceID uint) error {
	if err := g.store.DeleteBySource(ctx, model.CollectionName(notebookID), sourceID); err != nil {
		return fmt.Errorf("删除来源 %d 的分块失败: %w", sourceID, err)
	}
	return nil
}

// DropNotebook 删除笔记本的整个集合。
func (g *Gateway) DropNotebook(ctx context.Context, notebookID uint) error {
	collection := model.CollectionName(notebookID)
	if err := g.store.DropCollection(ctx, collection); err != nil {
		return fmt.Errorf("删除集合 '%s' 失败: %w", collection, err)
	}
	g.ensured.Delete(collection)
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", model.ErrRetrievalUnavailable, err)
}
