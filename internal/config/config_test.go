package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, "embed_llm:\n  model: all-minilm\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "chromem", cfg.Store.Driver)
	assert.Equal(t, 2, cfg.RAG.ChunkSize)
	assert.Equal(t, 10, cfg.RAG.TopK)
	assert.Equal(t, "l2", cfg.RAG.Metric)
	assert.Equal(t, 384, cfg.EmbedLLM.Dimensions)
	assert.Equal(t, "ollama/all-minilm", cfg.EmbedLLM.EncoderVersion())
}

func TestLoadConfig_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_EMBED_MODEL", "nomic-embed-text")
	path := writeConfig(t, "embed_llm:\n  model: ${TEST_EMBED_MODEL}\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", cfg.EmbedLLM.Model)
}

func TestLoadConfig_RejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: faiss\nembed_llm:\n  model: m\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_PostgresRequiresDSN(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: postgres\nembed_llm:\n  model: m\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
