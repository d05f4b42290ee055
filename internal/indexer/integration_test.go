//go:build integration

package indexer

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/knowledge-mcp/internal/embedding"
	"github.com/bull/knowledge-mcp/internal/markdown"
	"github.com/bull/knowledge-mcp/internal/storage"
)

func TestPipeline_IndexDocument_Integration(t *testing.T) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set, skipping integration test")
	}

	logger := slog.Default()
	primary, err := storage.NewQdrantStorage(storage.QdrantConfig{
		URL:        "http://localhost:6334",
		Collection: "it_indexer",
		Logger:     logger,
	})
	require.NoError(t, err)

	store := storage.NewKnowledgeStore(primary, storage.NewCoordinator(logger), storage.DefaultVectorDimension, logger)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Initialize(ctx))
	if store.IsDegraded() {
		t.Skip("Qdrant not available")
	}

	client, err := embedding.NewClient(apiKey)
	require.NoError(t, err)
	embedder := embedding.NewEmbedder(client, embedding.Config{Dimension: storage.DefaultVectorDimension})

	pipeline := NewPipeline(nil, markdown.NewChunker(), embedder, nil, store, Options{}, logger)

	doc := Document{
		SourceType: "test",
		SourceID:   "integration",
		Name:       "integration.md",
		Content:    "# Integration\n\nChat models turn messages into replies.\n\n## Tools\n\nTools extend agents.\n",
	}
	n, err := pipeline.IndexDocument(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	query, err := embedder.Embed(ctx, "How do tools extend agents?", embedding.IntentQuery)
	require.NoError(t, err)

	results, err := store.SearchByVector(ctx, query, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, storage.ChunkID(doc.Prefix(), 1), results[0].ID)

	deleted, err := store.DeleteByIDPrefix(ctx, doc.Prefix())
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
}
