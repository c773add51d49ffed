package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"synapse-go/internal/mock"
	"synapse-go/internal/model"
	"synapse-go/internal/retrieval"
	"synapse-go/pkg/kafka"
	"synapse-go/pkg/tasks"
	"synapse-go/pkg/tika"
	"synapse-go/pkg/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memObjects map[string][]byte

func (m memObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type stubLoader struct {
	pages []tika.Page
	err   error
	got   []byte
}

func (l *stubLoader) ExtractPages(_ context.Context, r io.Reader, _ string) ([]tika.Page, error) {
	l.got, _ = io.ReadAll(r)
	return l.pages, l.err
}

// flakyIndexer 写入部分分块后失败，用来验证失败清理。
type flakyIndexer struct {
	*retrieval.Gateway
	fail bool
}

func (f *flakyIndexer) Ingest(ctx context.Context, notebookID uint, chunks []retrieval.Chunk) error {
	if f.fail {
		_ = f.Gateway.Ingest(ctx, notebookID, chunks[:1])
		return errors.New("embedding quota exceeded")
	}
	return f.Gateway.Ingest(ctx, notebookID, chunks)
}

type statusRepo struct {
	mu     sync.Mutex
	status map[uint]string
	errMsg map[uint]string
}

func newStatusRepo() *statusRepo {
	return &statusRepo{status: map[uint]string{}, errMsg: map[uint]string{}}
}

func (r *statusRepo) Create(context.Context, *model.Source) error { return nil }
func (r *statusRepo) FindInNotebook(context.Context, uint, uint) (*model.Source, error) {
	return nil, model.ErrNotFound
}
func (r *statusRepo) ListByNotebook(context.Context, uint) ([]model.Source, error) { return nil, nil }
func (r *statusRepo) ReadyIDs(context.Context, uint) ([]uint, error)               { return nil, nil }
func (r *statusRepo) Delete(context.Context, uint) error                           { return nil }
func (r *statusRepo) UpdateStatus(_ context.Context, id uint, status, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[id] = status
	r.errMsg[id] = errMsg
	return nil
}

type processorFixture struct {
	processor *Processor
	store     *vectorstore.MemoryStore
	loader    *stubLoader
	indexer   *flakyIndexer
	repo      *statusRepo
}

func newProcessorFixture(pages ...tika.Page) *processorFixture {
	store := vectorstore.NewMemoryStore()
	f := &processorFixture{
		store:   store,
		loader:  &stubLoader{pages: pages},
		indexer: &flakyIndexer{Gateway: retrieval.NewGateway(store, &mock.KeywordEmbedder{}, nil, retrieval.Options{})},
		repo:    newStatusRepo(),
	}
	objects := memObjects{"notebooks/3/a.pdf": []byte("%PDF-1.7 ...")}
	f.processor = NewProcessor(objects, f.loader, NewSegmenter(WithChunkSize(40), WithChunkOverlap(5)), f.indexer, f.repo)
	return f
}

var sampleTask = tasks.SourceIngestionTask{SourceID: 11, NotebookID: 3, ObjectKey: "notebooks/3/a.pdf", FileName: "a.pdf"}

func TestProcessor_Process(t *testing.T) {
	f := newProcessorFixture(
		tika.Page{Number: 0, Text: "Refund policy: refunds within 30 days."},
		tika.Page{Number: 1, Text: "Shipping takes five business days for all orders."},
	)

	require.NoError(t, f.processor.Process(context.Background(), sampleTask))
	assert.Equal(t, "%PDF-1.7 ...", string(f.loader.got))
	assert.Equal(t, model.SourceStatusReady, f.repo.status[11])

	n := f.store.Count("notebook_3")
	assert.GreaterOrEqual(t, n, 2)

	// 重复处理同一来源不会产生重复分块
	require.NoError(t, f.processor.Process(context.Background(), sampleTask))
	assert.Equal(t, n, f.store.Count("notebook_3"))

	hits, err := f.indexer.Search(context.Background(), retrieval.SearchRequest{NotebookID: 3, Query: "shipping", Mode: retrieval.ModeBase, K: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, uint(11), hits[0].Metadata.SourceID)
	assert.Equal(t, 1, hits[0].Metadata.Page)
	assert.True(t, strings.HasPrefix(hits[0].ID, "source_11_chunk_"))
}

func TestProcessor_UnreadableIsPermanent(t *testing.T) {
	f := newProcessorFixture()
	f.loader.err = model.ErrUnreadableDocument

	err := f.processor.Process(context.Background(), sampleTask)
	assert.True(t, errors.Is(err, model.ErrUnreadableDocument))
	assert.True(t, kafka.IsPermanent(err))
	assert.Empty(t, f.repo.status)

	t.Run("blank pages", func(t *testing.T) {
		f := newProcessorFixture(tika.Page{Number: 0, Text: "  "})
		err := f.processor.Process(context.Background(), sampleTask)
		assert.True(t, errors.Is(err, model.ErrUnreadableDocument))
		assert.True(t, kafka.IsPermanent(err))
	})
}

func TestProcessor_FailureRemovesPartialChunks(t *testing.T) {
	f := newProcessorFixture(tika.Page{Number: 0, Text: strings.Repeat("refund policy text. ", 10)})
	f.indexer.fail = true

	err := f.processor.Process(context.Background(), sampleTask)
	require.Error(t, err)
	assert.False(t, kafka.IsPermanent(err), "transient failures are retried")
	assert.Equal(t, 0, f.store.Count("notebook_3"))
	assert.Empty(t, f.repo.status)
}

func TestProcessor_MissingObject(t *testing.T) {
	f := newProcessorFixture(tika.Page{Number: 0, Text: "x"})
	task := sampleTask
	task.ObjectKey = "missing"
	assert.Error(t, f.processor.Process(context.Background(), task))
}

func TestProcessor_GiveUpMarksFailed(t *testing.T) {
	f := newProcessorFixture()
	f.processor.GiveUp(context.Background(), sampleTask, errors.New("tika timeout"))
	assert.Equal(t, model.SourceStatusFailed, f.repo.status[11])
	assert.Equal(t, "tika timeout", f.repo.errMsg[11])
}

func TestInlineDispatcher(t *testing.T) {
	f := newProcessorFixture(tika.Page{Number: 0, Text: "refund policy"})
	d := NewInlineDispatcher(f.processor)
	require.NoError(t, d.Dispatch(context.Background(), sampleTask))
	assert.Equal(t, model.SourceStatusReady, f.repo.status[11])
}
