package qdrant

import (
	"testing"

	"synapse-go/pkg/vectorstore"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointID_DeterministicUUID(t *testing.T) {
	a := PointID("source_1_chunk_0")
	b := PointID("source_1_chunk_0")
	c := PointID("source_1_chunk_1")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	_, err := uuid.Parse(a)
	require.NoError(t, err)
}

func TestPayloadRoundTrip(t *testing.T) {
	r := vectorstore.Record{
		ID:   "source_2_chunk_3",
		Text: "refunds are issued within 30 days",
		Metadata: vectorstore.Metadata{
			NotebookID: 1,
			SourceID:   2,
			ChunkIndex: 3,
			Page:       0,
		},
	}
	got := recordFromPayload(qdrant.NewValueMap(payloadOf(r)))
	assert.Equal(t, r, got)
}

func TestPayloadMissingOptionalFields(t *testing.T) {
	got := recordFromPayload(qdrant.NewValueMap(map[string]any{
		"chunk_id":    "x",
		"notebook_id": int64(4),
		"text":        "t",
	}))
	assert.Equal(t, uint(0), got.Metadata.SourceID)
	assert.Equal(t, vectorstore.NoPage, got.Metadata.Page)
}

func TestBuildFilter(t *testing.T) {
	f := buildFilter(vectorstore.Filter{NotebookID: 1})
	assert.Len(t, f.GetMust(), 1)

	f = buildFilter(vectorstore.Filter{NotebookID: 1, SourceIDs: []uint{2, 3}})
	require.Len(t, f.GetMust(), 2)
	assert.Equal(t, "source_id", f.GetMust()[1].GetField().GetKey())
	assert.Equal(t, []int64{2, 3}, f.GetMust()[1].GetField().GetMatch().GetIntegers().GetIntegers())
}
