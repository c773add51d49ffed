// Package mock 提供测试用的 embedding 与 LLM 替身。
package mock

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"synapse-go/pkg/embedding"
	"synapse-go/pkg/llm"
	"synapse-go/pkg/vectorstore"
)

// Vocabulary 是 KeywordEmbedder 默认使用的词表。
var Vocabulary = []string{"refund", "shipping", "warranty", "policy", "days", "return", "price"}

// KeywordEmbedder 按词表计数生成向量，最后一维是常量偏置，保证向量非零。
type KeywordEmbedder struct {
	Vocabulary []string
	Err        error

	mu    sync.Mutex
	calls int
}

var _ embedding.Client = (*KeywordEmbedder)(nil)

func (e *KeywordEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *KeywordEmbedder) CreateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	vocab := e.Vocabulary
	if len(vocab) == 0 {
		vocab = Vocabulary
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		lower := strings.ToLower(t)
		v := make([]float32, len(vocab)+1)
		for j, w := range vocab {
			v[j] = float32(strings.Count(lower, w))
		}
		v[len(vocab)] = 0.1
		out[i] = v
	}
	return out, nil
}

// Calls 返回调用次数。
func (e *KeywordEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// LLM 把每次调用交给 Handler 处理并记录请求。
// CompleteJSON 把 Handler 返回的文本按 JSON 解析到 out。
type LLM struct {
	Handler func(req llm.CompletionRequest, schema string) (string, error)

	mu       sync.Mutex
	requests []llm.CompletionRequest
	schemas  []string
}

var _ llm.Client = (*LLM)(nil)

func (m *LLM) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	return m.call(req, "")
}

func (m *LLM) CompleteJSON(_ context.Context, req llm.CompletionRequest, schema llm.Schema, out any) error {
	content, err := m.call(req, schema.Name)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(content), out)
}

func (m *LLM) call(req llm.CompletionRequest, schema string) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.schemas = append(m.schemas, schema)
	m.mu.Unlock()
	if m.Handler == nil {
		return "", nil
	}
	return m.Handler(req, schema)
}

// Calls 返回调用次数。
func (m *LLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests 返回所有请求的副本。
func (m *LLM) Requests() []llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.CompletionRequest(nil), m.requests...)
}

// Schemas 返回每次调用使用的 schema 名，非结构化调用为空串。
func (m *LLM) Schemas() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.schemas...)
}

// UnreachableStore 模拟不可达的向量库，所有操作都返回 Err。
type UnreachableStore struct {
	Err error
}

var _ vectorstore.Store = UnreachableStore{}

func (s UnreachableStore) EnsureCollection(context.Context, string, int) error { return s.Err }
func (s UnreachableStore) Upsert(context.Context, string, []vectorstore.Record) error {
	return s.Err
}
func (s UnreachableStore) Query(context.Context, string, []float32, vectorstore.Filter, int) ([]vectorstore.Hit, error) {
	return nil, s.Err
}
func (s UnreachableStore) DeleteBySource(context.Context, string, uint) error { return s.Err }
func (s UnreachableStore) DropCollection(context.Context, string) error       { return s.Err }
func (s UnreachableStore) Close() error                                       { return nil }
