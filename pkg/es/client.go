// Package es 提供了基于 Elasticsearch dense_vector 的向量库实现。
// 每个笔记本对应一个索引，索引名即集合名。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"synapse-go/internal/config"
	"synapse-go/pkg/log"
	"synapse-go/pkg/vectorstore"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const indexMapping = `{
	"mappings": {
		"properties": {
			"chunk_id": { "type": "keyword" },
			"notebook_id": { "type": "long" },
			"source_id": { "type": "long" },
			"chunk_index": { "type": "integer" },
			"page": { "type": "integer" },
			"text": { "type": "text" },
			"vector": {
				"type": "dense_vector",
				"dims": %d,
				"index": true,
				"similarity": "cosine"
			}
		}
	}
}`

// Store 是 vectorstore.Store 的 Elasticsearch 实现。
type Store struct {
	client *elasticsearch.Client
}

var _ vectorstore.Store = (*Store)(nil)

// esChunk 是写入索引的文档结构。
type esChunk struct {
	ChunkID    string    `json:"chunk_id"`
	NotebookID uint      `json:"notebook_id"`
	SourceID   *uint     `json:"source_id,omitempty"`
	ChunkIndex int       `json:"chunk_index"`
	Page       *int      `json:"page,omitempty"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"vector"`
}

// NewStore 创建 Elasticsearch 客户端并检查连通性。
func NewStore(cfg config.ElasticsearchConfig) (*Store, error) {
	esCfg := elasticsearch.Config{
		Addresses: strings.Split(cfg.Addresses, ","),
		Username:  cfg.Username,
		Password:  cfg.Password,
	}
	if cfg.InsecureSkipVerify {
		esCfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("创建 Elasticsearch 客户端失败: %w", err)
	}
	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("连接 Elasticsearch 失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("Elasticsearch 返回错误: %s", res.String())
	}
	log.Infof("[ES] 已连接 Elasticsearch: %s", cfg.Addresses)
	return &Store{client: client}, nil
}

// NewStoreWithClient 使用已有客户端构造 Store。
func NewStoreWithClient(client *elasticsearch.Client) *Store {
	return &Store{client: client}
}

// EnsureCollection 检查索引是否存在，如果不存在则创建它。
func (s *Store) EnsureCollection(ctx context.Context, collection string, dims int) error {
	res, err := s.client.Indices.Exists([]string{collection}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("检查索引是否存在时出错: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引 '%s' 时收到意外的状态码: %d", collection, res.StatusCode)
	}

	res, err = s.client.Indices.Create(
		collection,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(strings.NewReader(fmt.Sprintf(indexMapping, dims))),
	)
	if err != nil {
		return fmt.Errorf("创建索引 '%s' 失败: %w", collection, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		// 并发请求可能同时创建同一个索引
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", collection, string(body))
	}
	log.Infof("[ES] 索引 '%s' 创建成功, dims=%d", collection, dims)
	return nil
}

// Upsert 使用 bulk index 按文档 ID 写入或覆盖分块。
func (s *Store) Upsert(ctx context.Context, collection string, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		action := map[string]interface{}{
			"index": map[string]interface{}{"_index": collection, "_id": r.ID},
		}
		if err := enc.Encode(action); err != nil {
			return err
		}
		if err := enc.Encode(toESChunk(r)); err != nil {
			return err
		}
	}

	res, err := s.client.Bulk(
		bytes.NewReader(buf.Bytes()),
		s.client.Bulk.WithContext(ctx),
		s.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("bulk 写入失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk 写入时 Elasticsearch 返回错误: %s", res.String())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string          `json:"_id"`
			Status int             `json:"status"`
			Error  json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("解析 bulk 响应失败: %w", err)
	}
	if bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, result := range item {
				if result.Status >= 300 {
					return fmt.Errorf("文档 %s 写入失败: %s", result.ID, string(result.Error))
				}
			}
		}
	}
	return nil
}

// Query 执行带过滤条件的 knn 查询。
func (s *Store) Query(ctx context.Context, collection string, vector []float32, filter vectorstore.Filter, k int) ([]vectorstore.Hit, error) {
	filters := []map[string]interface{}{
		{"term": map[string]interface{}{"notebook_id": filter.NotebookID}},
	}
	if len(filter.SourceIDs) > 0 {
		filters = append(filters, map[string]interface{}{
			"terms": map[string]interface{}{"source_id": filter.SourceIDs},
		})
	}
	numCandidates := k * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": numCandidates,
			"filter": map[string]interface{}{
				"bool": map[string]interface{}{"filter": filters},
			},
		},
		"size": k,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(collection),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch returned an error: %s %s", res.Status(), string(body))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source esChunk `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	hits := make([]vectorstore.Hit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		r := fromESChunk(h.Source)
		if r.ID == "" {
			r.ID = h.ID
		}
		hits = append(hits, vectorstore.Hit{Record: r, Score: h.Score})
	}
	return hits, nil
}

// DeleteBySource 通过 delete_by_query 删除某个来源的全部分块。
func (s *Store) DeleteBySource(ctx context.Context, collection string, sourceID uint) error {
	body, err := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"source_id": sourceID},
		},
	})
	if err != nil {
		return err
	}
	res, err := s.client.DeleteByQuery(
		[]string{collection},
		bytes.NewReader(body),
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return fmt.Errorf("delete_by_query 失败: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("delete_by_query 时 Elasticsearch 返回错误: %s", res.String())
	}
	return nil
}

// DropCollection 删除索引。
func (s *Store) DropCollection(ctx context.Context, collection string) error {
	req := esapi.IndicesDeleteRequest{
		Index:             []string{collection},
		IgnoreUnavailable: esapi.BoolPtr(true),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("删除索引 '%s' 失败: %w", collection, err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("删除索引 '%s' 时 Elasticsearch 返回错误: %s", collection, res.String())
	}
	log.Infof("[ES] 索引 '%s' 已删除", collection)
	return nil
}

// Close 无需释放资源，HTTP 连接由 transport 管理。
func (s *Store) Close() error { return nil }

func toESChunk(r vectorstore.Record) esChunk {
	doc := esChunk{
		ChunkID:    r.ID,
		NotebookID: r.Metadata.NotebookID,
		ChunkIndex: r.Metadata.ChunkIndex,
		Text:       r.Text,
		Vector:     r.Vector,
	}
	if r.Metadata.SourceID != 0 {
		sid := r.Metadata.SourceID
		doc.SourceID = &sid
	}
	if r.Metadata.Page != vectorstore.NoPage {
		page := r.Metadata.Page
		doc.Page = &page
	}
	return doc
}

func fromESChunk(doc esChunk) vectorstore.Record {
	r := vectorstore.Record{
		ID:     doc.ChunkID,
		Text:   doc.Text,
		Vector: doc.Vector,
		Metadata: vectorstore.Metadata{
			NotebookID: doc.NotebookID,
			ChunkIndex: doc.ChunkIndex,
			Page:       vectorstore.NoPage,
		},
	}
	if doc.SourceID != nil {
		r.Metadata.SourceID = *doc.SourceID
	}
	if doc.Page != nil {
		r.Metadata.Page = *doc.Page
	}
	return r
}
