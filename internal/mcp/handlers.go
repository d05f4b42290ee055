package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/knowledge-mcp/internal/embedding"
	"github.com/bull/knowledge-mcp/internal/storage"
)

const (
	defaultMaxResults = 5
	maxMaxResults     = 20
	defaultMinScore   = 0.3
)

// makeSearchHandler creates the search_docs tool handler.
// The query is embedded with the query model, then up to 3x MaxResults chunks are
// fetched so that score and domain filtering still leave enough to return.
func makeSearchHandler(store KnowledgeBase, embedder QueryEmbedder) func(
	context.Context, *mcp.CallToolRequest, SearchDocsInput,
) (*mcp.CallToolResult, SearchDocsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchDocsInput) (
		*mcp.CallToolResult, SearchDocsOutput, error,
	) {
		query := strings.TrimSpace(input.Query)
		if query == "" {
			return nil, SearchDocsOutput{}, fmt.Errorf("query must not be empty")
		}

		maxResults := input.MaxResults
		if maxResults <= 0 {
			maxResults = defaultMaxResults
		}
		maxResults = min(maxResults, maxMaxResults)
		minScore := input.MinScore
		if minScore <= 0 {
			minScore = defaultMinScore
		}

		vector, err := embedder.Embed(ctx, query, embedding.IntentQuery)
		if err != nil {
			return nil, SearchDocsOutput{}, fmt.Errorf("failed to embed query: %w", err)
		}

		hits, err := store.SearchByVector(ctx, vector, maxResults*3)
		if err != nil {
			return nil, SearchDocsOutput{}, fmt.Errorf("search failed: %w", err)
		}

		results := make([]SearchResult, 0, maxResults)
		for _, hit := range hits {
			if hit.Score < minScore {
				continue
			}
			if input.Domain != "" && !slices.Contains(hit.Domains, input.Domain) {
				continue
			}
			results = append(results, toSearchResult(hit))
			if len(results) == maxResults {
				break
			}
		}

		out := SearchDocsOutput{Results: results, Degraded: store.IsDegraded()}
		if len(results) == 0 {
			out.Message = "No matching documents found. Try broader search terms."
		}
		return nil, out, nil
	}
}

func toSearchResult(hit storage.SearchResult) SearchResult {
	return SearchResult{
		ID:           hit.ID,
		DocumentName: hit.DocumentName,
		Title:        hit.Title,
		Summary:      hit.Summary,
		Content:      hit.Content,
		SourceFile:   hit.SourceFile,
		Domains:      hit.Domains,
		Score:        hit.Score,
	}
}

// makeFetchHandler creates the fetch_doc tool handler.
// Chunks are joined in index order behind a <!-- Source: name --> header.
func makeFetchHandler(store KnowledgeBase) func(
	context.Context, *mcp.CallToolRequest, FetchDocInput,
) (*mcp.CallToolResult, FetchDocOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input FetchDocInput) (
		*mcp.CallToolResult, FetchDocOutput, error,
	) {
		chunks, err := store.GetChunksByDocumentName(ctx, input.DocumentName)
		if err != nil {
			return nil, FetchDocOutput{}, fmt.Errorf("failed to fetch document: %w", err)
		}
		if len(chunks) == 0 {
			return nil, FetchDocOutput{DocumentName: input.DocumentName}, nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "<!-- Source: %s -->", input.DocumentName)
		for _, chunk := range chunks {
			b.WriteString("\n\n")
			b.WriteString(displayContent(chunk))
		}

		return nil, FetchDocOutput{
			Content:      b.String(),
			DocumentName: input.DocumentName,
			SourceFile:   chunks[0].SourceFile,
			ChunkCount:   len(chunks),
			Found:        true,
		}, nil
	}
}

// displayContent prefers the heading-annotated text so each joined chunk keeps its context.
func displayContent(chunk storage.SearchResult) string {
	if chunk.EnhancedContent != "" {
		return chunk.EnhancedContent
	}
	return chunk.Content
}

// makeListHandler creates the list_docs tool handler.
func makeListHandler(store KnowledgeBase) func(
	context.Context, *mcp.CallToolRequest, ListDocsInput,
) (*mcp.CallToolResult, ListDocsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListDocsInput) (
		*mcp.CallToolResult, ListDocsOutput, error,
	) {
		names, err := store.ListUniqueDocumentNames(ctx)
		if err != nil {
			return nil, ListDocsOutput{}, fmt.Errorf("failed to list documents: %w", err)
		}
		if names == nil {
			names = []string{} // Ensure non-nil for JSON marshaling
		}

		return nil, ListDocsOutput{
			Names: names,
			Count: len(names),
		}, nil
	}
}

// makeDeleteHandler creates the delete_source tool handler.
func makeDeleteHandler(store KnowledgeBase, logger *slog.Logger) func(
	context.Context, *mcp.CallToolRequest, DeleteSourceInput,
) (*mcp.CallToolResult, DeleteSourceOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input DeleteSourceInput) (
		*mcp.CallToolResult, DeleteSourceOutput, error,
	) {
		if storage.Slug(input.SourceType) == "" || input.SourceID == "" {
			return nil, DeleteSourceOutput{}, fmt.Errorf("source_type and source_id are required")
		}

		prefix := storage.SourcePrefix(input.SourceType, input.SourceID)
		deleted, err := store.DeleteByIDPrefix(ctx, prefix)
		if err != nil {
			return nil, DeleteSourceOutput{}, fmt.Errorf("failed to delete source: %w", err)
		}
		logger.Info("Deleted source", "prefix", prefix, "chunks", deleted)

		return nil, DeleteSourceOutput{Prefix: prefix, Deleted: deleted}, nil
	}
}

// makeStatusHandler creates the get_index_status tool handler.
// A failing commit lookup leaves SourceCommit empty rather than failing the tool.
func makeStatusHandler(store KnowledgeBase, source CommitSource, logger *slog.Logger) func(
	context.Context, *mcp.CallToolRequest, StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (
		*mcp.CallToolResult, StatusOutput, error,
	) {
		names, err := store.ListUniqueDocumentNames(ctx)
		if err != nil {
			return nil, StatusOutput{}, fmt.Errorf("failed to list documents: %w", err)
		}
		if names == nil {
			names = []string{}
		}

		out := StatusOutput{
			TotalDocs:     len(names),
			DocumentNames: names,
			Mode:          modeOf(store),
			Degraded:      store.IsDegraded(),
			Dimension:     store.Dimension(),
		}

		if source != nil {
			out.Repository = source.Repository()
			sha, err := source.GetLatestCommitSHA(ctx)
			if err != nil {
				logger.Warn("Failed to get source commit", "repository", out.Repository, "error", err)
			} else {
				out.SourceCommit = sha
			}
		}

		return nil, out, nil
	}
}

func modeOf(store interface{ IsDegraded() bool }) string {
	if store.IsDegraded() {
		return "fallback"
	}
	return "primary"
}
