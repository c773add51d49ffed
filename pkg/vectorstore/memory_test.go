package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id string, notebook, source uint, v ...float32) Record {
	return Record{ID: id, Text: id, Vector: v, Metadata: Metadata{NotebookID: notebook, SourceID: source}}
}

func TestMemoryStore_UpsertOverwritesByID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.EnsureCollection(ctx, "notebook_1", 2))

	require.NoError(t, s.Upsert(ctx, "notebook_1", []Record{rec("a", 1, 1, 1, 0)}))
	updated := rec("a", 1, 1, 0, 1)
	updated.Text = "updated"
	require.NoError(t, s.Upsert(ctx, "notebook_1", []Record{updated}))

	assert.Equal(t, 1, s.Count("notebook_1"))
	hits, err := s.Query(ctx, "notebook_1", []float32{0, 1}, Filter{NotebookID: 1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "updated", hits[0].Text)
}

func TestMemoryStore_QueryFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.EnsureCollection(ctx, "c", 2))
	require.NoError(t, s.Upsert(ctx, "c", []Record{
		rec("s1", 1, 1, 1, 0),
		rec("s2", 1, 2, 0.9, 0.1),
		rec("s3", 1, 3, 0.5, 0.5),
		rec("other", 2, 2, 1, 0),
	}))

	hits, err := s.Query(ctx, "c", []float32{1, 0}, Filter{NotebookID: 1, SourceIDs: []uint{2, 3}}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "s2", hits[0].ID)
	assert.Equal(t, "s3", hits[1].ID)
	for _, h := range hits {
		assert.Equal(t, uint(1), h.Metadata.NotebookID)
		assert.Contains(t, []uint{2, 3}, h.Metadata.SourceID)
	}
}

func TestMemoryStore_DeleteAndDrop(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.EnsureCollection(ctx, "c", 1))
	require.NoError(t, s.Upsert(ctx, "c", []Record{rec("a", 1, 1, 1), rec("b", 1, 2, 1)}))

	require.NoError(t, s.DeleteBySource(ctx, "c", 1))
	assert.Equal(t, 1, s.Count("c"))

	require.NoError(t, s.DropCollection(ctx, "c"))
	assert.Equal(t, 0, s.Count("c"))
	require.NoError(t, s.DropCollection(ctx, "c"))
}

func TestMemoryStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.EnsureCollection(ctx, "c", 3))
	assert.Error(t, s.Upsert(ctx, "c", []Record{rec("a", 1, 1, 1, 2)}))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestFilterMatch(t *testing.T) {
	f := Filter{NotebookID: 7}
	assert.True(t, f.Match(Metadata{NotebookID: 7, SourceID: 99}))
	assert.False(t, f.Match(Metadata{NotebookID: 8, SourceID: 99}))

	f.SourceIDs = []uint{1}
	assert.True(t, f.Match(Metadata{NotebookID: 7, SourceID: 1}))
	assert.False(t, f.Match(Metadata{NotebookID: 7, SourceID: 2}))
}
