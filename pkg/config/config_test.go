package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1500, cfg.Chunking.MaxChunkSize)
	assert.Equal(t, 100, cfg.Chunking.OverlapSize)
	assert.Equal(t, 30000, cfg.Prompt.TPMLimit)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 1024, cfg.Milvus.VectorDim)
	assert.Equal(t, 20, cfg.Rerank.FallbackCap)
	assert.InDelta(t, 0.5, cfg.Retrieval.ScoreThreshold, 1e-6)
	assert.True(t, cfg.LLM.EmbeddingPrefix)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	dir := inTempDir(t)
	yaml := "retrieval:\n  topK: 25\nprompt:\n  tpmLimit: 8000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("LEGAL_RAG_LLM_MODEL", "gpt-4o-mini")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Retrieval.TopK)
	assert.Equal(t, 8000, cfg.Prompt.TPMLimit)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Retrieval: RetrievalConfig{TopK: 10},
			Prompt:    PromptConfig{TPMLimit: 30000},
			Chunking:  ChunkingConfig{MaxChunkSize: 1500, OverlapSize: 100},
			Rerank:    RerankConfig{Provider: "none"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"overlap not below size", func(c *Config) { c.Chunking.OverlapSize = 1500 }, true},
		{"zero topK", func(c *Config) { c.Retrieval.TopK = 0 }, true},
		{"unknown rerank provider", func(c *Config) { c.Rerank.Provider = "cohere" }, true},
		{"http without endpoint", func(c *Config) { c.Rerank.Provider = "http" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
