package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/knowledge-mcp/internal/resilience"
)

func TestLoad_WithEnvVars(t *testing.T) {
	t.Setenv("QDRANT_URL", "https://qdrant.example.com:6334")
	t.Setenv("QDRANT_COLLECTION", "docs")
	t.Setenv("VECTOR_DIMENSION", "768")
	t.Setenv("QDRANT_RETRY_MAX_ELAPSED", "2s")
	t.Setenv("DEGRADE_POLICY", "per-operation")
	t.Setenv("EMBEDDING_QUERY_MODEL", "text-embedding-3-large")
	t.Setenv("DOCUMENT_DOMAINS", "go,mcp")
	t.Setenv("SERVER_MODE", "http")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://qdrant.example.com:6334", cfg.QdrantURL)
	assert.Equal(t, "docs", cfg.QdrantCollection)
	assert.Equal(t, 768, cfg.VectorDimension)
	assert.Equal(t, 2*time.Second, cfg.QdrantRetryMaxElapsed)
	assert.Equal(t, resilience.PerOperationDegrade, cfg.Policy())
	assert.Equal(t, "text-embedding-3-large", cfg.QueryModel())
	assert.Equal(t, []string{"go", "mcp"}, cfg.DocumentDomains)
	assert.Equal(t, "http", cfg.ServerMode)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())

	q := cfg.Qdrant(nil)
	assert.Equal(t, "docs", q.Collection)
	assert.Equal(t, 768, q.Dimension)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:6334", cfg.QdrantURL)
	assert.Equal(t, "knowledge_chunks", cfg.QdrantCollection)
	assert.Equal(t, 1536, cfg.VectorDimension)
	assert.Equal(t, 5*time.Second, cfg.QdrantRetryMaxElapsed)
	assert.Equal(t, resilience.GlobalDegrade, cfg.Policy())
	assert.Equal(t, cfg.EmbeddingModel, cfg.QueryModel())
	assert.Equal(t, "stdio", cfg.ServerMode)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"zero dimension", "VECTOR_DIMENSION", "0", "VECTOR_DIMENSION"},
		{"non numeric dimension", "VECTOR_DIMENSION", "big", "VECTOR_DIMENSION"},
		{"bad policy", "DEGRADE_POLICY", "sometimes", "DEGRADE_POLICY"},
		{"bad url", "QDRANT_URL", "http://:6334", "QDRANT_URL"},
		{"bad mode", "SERVER_MODE", "grpc", "SERVER_MODE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestHasOpenAI(t *testing.T) {
	cfg := &Config{OpenAIAPIKey: "sk-test"}
	assert.True(t, cfg.HasOpenAI())

	cfg.OpenAIAPIKey = ""
	assert.False(t, cfg.HasOpenAI())
}
