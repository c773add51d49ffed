// Package qdrant 提供了基于 Qdrant 的向量库实现。
package qdrant

import (
	"context"
	"fmt"

	"synapse-go/internal/config"
	"synapse-go/pkg/log"
	"synapse-go/pkg/vectorstore"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Qdrant 的点 ID 只接受整数或 UUID，分块 ID 通过 UUIDv5 映射，原始 ID 存在 payload 中。
var pointNamespace = uuid.MustParse("6f1c1d0e-4b7a-4f43-9a55-0d5e1b8c2a71")

// Store 是 vectorstore.Store 的 Qdrant 实现。
type Store struct {
	client *qdrant.Client
}

var _ vectorstore.Store = (*Store)(nil)

// NewStore 建立 gRPC 连接并做一次连通性检查。
func NewStore(cfg config.QdrantConfig) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("无法初始化 Qdrant 客户端: %w", err)
	}
	if _, err := client.ListCollections(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("无法连接 Qdrant: %w", err)
	}
	log.Infof("[Qdrant] 已连接 %s:%d", cfg.Host, cfg.Port)
	return &Store{client: client}, nil
}

func (s *Store) EnsureCollection(ctx context.Context, collection string, dims int) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("检查集合 '%s' 失败: %w", collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		// 并发创建时再确认一次
		if ok, checkErr := s.client.CollectionExists(ctx, collection); checkErr == nil && ok {
			return nil
		}
		return fmt.Errorf("创建集合 '%s' 失败: %w", collection, err)
	}
	log.Infof("[Qdrant] 集合 '%s' 创建成功, dims=%d", collection, dims)
	return nil
}

func (s *Store) Upsert(ctx context.Context, collection string, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(r.ID)),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(payloadOf(r)),
		})
	}
	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("写入 Qdrant 失败: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, vector []float32, filter vectorstore.Filter, k int) ([]vectorstore.Hit, error) {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("检查集合 '%s' 失败: %w", collection, err)
	}
	if !exists {
		return nil, nil
	}

	limit := uint64(k)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         buildFilter(filter),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("Qdrant 查询失败: %w", err)
	}

	hits := make([]vectorstore.Hit, 0, len(points))
	for _, p := range points {
		r := recordFromPayload(p.GetPayload())
		r.Vector = p.GetVectors().GetVector().GetData()
		hits = append(hits, vectorstore.Hit{Record: r, Score: float64(p.GetScore())})
	}
	return hits, nil
}

func (s *Store) DeleteBySource(ctx context.Context, collection string, sourceID uint) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("检查集合 '%s' 失败: %w", collection, err)
	}
	if !exists {
		return nil
	}
	wait := true
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchInt("source_id", int64(sourceID))},
		}),
	})
	if err != nil {
		return fmt.Errorf("删除来源 %d 的分块失败: %w", sourceID, err)
	}
	return nil
}

func (s *Store) DropCollection(ctx context.Context, collection string) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("检查集合 '%s' 失败: %w", collection, err)
	}
	if !exists {
		return nil
	}
	if err := s.client.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("删除集合 '%s' 失败: %w", collection, err)
	}
	log.Infof("[Qdrant] 集合 '%s' 已删除", collection)
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// PointID 把分块 ID 映射为稳定的 UUID，重复写入同一分块会覆盖同一个点。
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func buildFilter(f vectorstore.Filter) *qdrant.Filter {
	must := []*qdrant.Condition{qdrant.NewMatchInt("notebook_id", int64(f.NotebookID))}
	if len(f.SourceIDs) > 0 {
		ids := make([]int64, 0, len(f.SourceIDs))
		for _, id := range f.SourceIDs {
			ids = append(ids, int64(id))
		}
		must = append(must, qdrant.NewMatchInts("source_id", ids...))
	}
	return &qdrant.Filter{Must: must}
}

func payloadOf(r vectorstore.Record) map[string]any {
	payload := map[string]any{
		"chunk_id":    r.ID,
		"notebook_id": int64(r.Metadata.NotebookID),
		"chunk_index": int64(r.Metadata.ChunkIndex),
		"text":        r.Text,
	}
	if r.Metadata.SourceID != 0 {
		payload["source_id"] = int64(r.Metadata.SourceID)
	}
	if r.Metadata.Page != vectorstore.NoPage {
		payload["page"] = int64(r.Metadata.Page)
	}
	return payload
}

func recordFromPayload(payload map[string]*qdrant.Value) vectorstore.Record {
	r := vectorstore.Record{Metadata: vectorstore.Metadata{Page: vectorstore.NoPage}}
	if v, ok := payload["chunk_id"]; ok {
		r.ID = v.GetStringValue()
	}
	if v, ok := payload["text"]; ok {
		r.Text = v.GetStringValue()
	}
	if v, ok := payload["notebook_id"]; ok {
		r.Metadata.NotebookID = uint(v.GetIntegerValue())
	}
	if v, ok := payload["source_id"]; ok {
		r.Metadata.SourceID = uint(v.GetIntegerValue())
	}
	if v, ok := payload["chunk_index"]; ok {
		r.Metadata.ChunkIndex = int(v.GetIntegerValue())
	}
	if v, ok := payload["page"]; ok {
		r.Metadata.Page = int(v.GetIntegerValue())
	}
	return r
}
