package es

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"synapse-go/pkg/vectorstore"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewStoreWithClient(client)
}

func TestStore_EnsureCollectionCreatesMissingIndex(t *testing.T) {
	var mu sync.Mutex
	var created string
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			created = r.URL.Path + " " + string(body)
			mu.Unlock()
			_, _ = w.Write([]byte(`{"acknowledged":true}`))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	require.NoError(t, store.EnsureCollection(context.Background(), "notebook_3", 8))
	assert.Contains(t, created, "/notebook_3")
	assert.Contains(t, created, `"dims": 8`)
}

func TestStore_UpsertSendsBulkWithChunkIDs(t *testing.T) {
	var lines []string
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/_bulk", r.URL.Path)
		sc := bufio.NewScanner(r.Body)
		sc.Buffer(make([]byte, 1024*1024), 1024*1024)
		for sc.Scan() {
			lines = append(lines, sc.Text())
		}
		_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
	})

	err := store.Upsert(context.Background(), "notebook_1", []vectorstore.Record{
		{ID: "source_1_chunk_0", Text: "a", Vector: []float32{1, 0}, Metadata: vectorstore.Metadata{NotebookID: 1, SourceID: 1, Page: 0}},
		{ID: "source_1_chunk_1", Text: "b", Vector: []float32{0, 1}, Metadata: vectorstore.Metadata{NotebookID: 1, SourceID: 1, ChunkIndex: 1, Page: vectorstore.NoPage}},
	})
	require.NoError(t, err)
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], `"_id":"source_1_chunk_0"`)
	assert.Contains(t, lines[1], `"page":0`)
	assert.NotContains(t, lines[3], `"page"`)
}

func TestStore_UpsertReportsItemErrors(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":true,"items":[{"index":{"_id":"x","status":400,"error":{"type":"mapper_parsing_exception"}}}]}`))
	})
	err := store.Upsert(context.Background(), "notebook_1", []vectorstore.Record{{ID: "x", Vector: []float32{1}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestStore_QueryAppliesFilterAndDecodesHits(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/notebook_1/_search", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		knn := body["knn"].(map[string]interface{})
		assert.EqualValues(t, 5, knn["k"])
		raw, _ := json.Marshal(knn["filter"])
		assert.Contains(t, string(raw), `"notebook_id":1`)
		assert.Contains(t, string(raw), `"source_id":[2,3]`)

		_, _ = w.Write([]byte(`{"hits":{"hits":[
			{"_id":"source_2_chunk_0","_score":0.9,"_source":{"chunk_id":"source_2_chunk_0","notebook_id":1,"source_id":2,"chunk_index":0,"page":4,"text":"hello","vector":[1,0]}},
			{"_id":"legacy","_score":0.5,"_source":{"notebook_id":1,"text":"no meta","vector":[0,1]}}
		]}}`))
	})

	hits, err := store.Query(context.Background(), "notebook_1", []float32{1, 0},
		vectorstore.Filter{NotebookID: 1, SourceIDs: []uint{2, 3}}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "source_2_chunk_0", hits[0].ID)
	assert.Equal(t, uint(2), hits[0].Metadata.SourceID)
	assert.Equal(t, 4, hits[0].Metadata.Page)
	assert.InDelta(t, 0.9, hits[0].Score, 1e-9)
	assert.Equal(t, []float32{1, 0}, hits[0].Vector)

	assert.Equal(t, "legacy", hits[1].ID)
	assert.Equal(t, uint(0), hits[1].Metadata.SourceID)
	assert.Equal(t, vectorstore.NoPage, hits[1].Metadata.Page)
}

func TestStore_QueryMissingIndexIsEmpty(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"index_not_found_exception"},"status":404}`))
	})
	hits, err := store.Query(context.Background(), "notebook_9", []float32{1}, vectorstore.Filter{NotebookID: 9}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStore_QueryServerErrorSurfaces(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	})
	_, err := store.Query(context.Background(), "notebook_1", []float32{1}, vectorstore.Filter{NotebookID: 1}, 5)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "boom"))
}
