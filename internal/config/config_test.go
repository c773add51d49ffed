package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Ingestion.ChunkSize)
	assert.Equal(t, 100, cfg.Ingestion.ChunkOverlap)
	assert.Equal(t, "mmr", cfg.Retrieval.DefaultMode)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.5, cfg.LLM.Generation.Temperature, 1e-9)
	assert.Equal(t, "elasticsearch", cfg.VectorStore.Driver)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: "9090"
vector_store:
  driver: "qdrant"
  qdrant:
    port: 7000
chat:
  history_limit: 0
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("SYNAPSE_LLM_MODEL", "gpt-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "qdrant", cfg.VectorStore.Driver)
	assert.Equal(t, 7000, cfg.VectorStore.Qdrant.Port)
	assert.Equal(t, "localhost", cfg.VectorStore.Qdrant.Host)
	assert.Equal(t, 0, cfg.Chat.HistoryLimit)
	assert.Equal(t, "gpt-test", cfg.LLM.Model)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
