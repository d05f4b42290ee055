package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bull/knowledge-mcp/internal/embedding"
	"github.com/bull/knowledge-mcp/internal/github"
	"github.com/bull/knowledge-mcp/internal/markdown"
	"github.com/bull/knowledge-mcp/internal/metadata"
	"github.com/bull/knowledge-mcp/internal/storage"
)

// DocumentSource lists and fetches documents; *github.Fetcher implements it.
type DocumentSource interface {
	GetLatestCommitSHA(ctx context.Context) (string, error)
	ListDocs(ctx context.Context) ([]string, error)
	FetchDoc(ctx context.Context, path string) (*github.FetchedDoc, error)
}

type Chunker interface {
	ChunkDocument(source []byte) ([]markdown.Chunk, error)
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string, intent embedding.Intent) ([][]float32, error)
}

type MetadataGenerator interface {
	GenerateChunkMetadata(ctx context.Context, documentName, headerPath, content string) (*metadata.ChunkMetadata, error)
}

// ChunkStore is the part of *storage.KnowledgeStore the pipeline writes through.
type ChunkStore interface {
	AddChunks(ctx context.Context, records []*storage.ChunkRecord) error
	ExistsByIDPrefix(ctx context.Context, prefix string) (bool, error)
	DeleteByIDPrefix(ctx context.Context, prefix string) (int, error)
}

// Document is one source document ready for chunking.
type Document struct {
	SourceType string // "github", "upload", ...
	SourceID   string // Unique within SourceType, e.g. the repository path
	Name       string // Document name shown to users
	Content    string
	SourceFile string // Origin reference stored on every chunk
}

// Prefix returns the chunk ID prefix shared by the document's chunks.
func (d Document) Prefix() string {
	return storage.SourcePrefix(d.SourceType, d.SourceID)
}

// IndexResult contains statistics about an indexing operation.
type IndexResult struct {
	TotalDocs      int
	TotalChunks    int
	SuccessfulDocs int
	SkippedDocs    int
	FailedDocs     []FailedDoc
	CommitSHA      string
	Duration       time.Duration
}

// FailedDoc represents a document that failed to index.
type FailedDoc struct {
	Path   string
	Reason string
}

// Options tunes a Pipeline.
type Options struct {
	Domains []string // Tags applied to every chunk
}

// Pipeline orchestrates the full indexing process from fetching to storage.
type Pipeline struct {
	source    DocumentSource
	chunker   Chunker
	embedder  Embedder
	generator MetadataGenerator
	store     ChunkStore
	domains   []string
	logger    *slog.Logger
}

// NewPipeline creates a new indexing pipeline with the given components. source may be
// nil when only IndexDocument is used; generator may be nil to skip LLM metadata.
func NewPipeline(
	source DocumentSource,
	chunker Chunker,
	embedder Embedder,
	generator MetadataGenerator,
	store ChunkStore,
	opts Options,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		source:    source,
		chunker:   chunker,
		embedder:  embedder,
		generator: generator,
		store:     store,
		domains:   opts.Domains,
		logger:    logger,
	}
}

// IndexAll fetches every document from the source and indexes it. With skipExisting,
// documents that already have chunks in the store are left untouched.
func (p *Pipeline) IndexAll(ctx context.Context, skipExisting bool) (*IndexResult, error) {
	if p.source == nil {
		return nil, fmt.Errorf("no document source configured")
	}

	start := time.Now()
	result := &IndexResult{}

	commitSHA, err := p.source.GetLatestCommitSHA(ctx)
	if err != nil {
		return nil, fmt.Errorf("get commit SHA: %w", err)
	}
	result.CommitSHA = commitSHA
	p.logger.Info("Starting indexing", "commit", commitSHA, "skip_existing", skipExisting)

	paths, err := p.source.ListDocs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list docs: %w", err)
	}
	result.TotalDocs = len(paths)
	p.logger.Info("Found documents", "count", len(paths))

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if skipExisting {
			exists, err := p.store.ExistsByIDPrefix(ctx, storage.SourcePrefix(github.SourceType, path))
			if err != nil {
				return result, fmt.Errorf("check %s: %w", path, err)
			}
			if exists {
				p.logger.Debug("Skipping indexed document", "path", path)
				result.SkippedDocs++
				continue
			}
		}

		chunks, err := p.processDocument(ctx, path)
		if err != nil {
			p.logger.Warn("Failed to process document", "path", path, "error", err)
			result.FailedDocs = append(result.FailedDocs, FailedDoc{
				Path:   path,
				Reason: err.Error(),
			})
			continue // Skip unparseable docs, continue with others
		}
		result.SuccessfulDocs++
		result.TotalChunks += chunks
	}

	result.Duration = time.Since(start)
	p.logger.Info("Indexing complete",
		"successful", result.SuccessfulDocs,
		"skipped", result.SkippedDocs,
		"failed", len(result.FailedDocs),
		"chunks", result.TotalChunks,
		"duration", result.Duration,
	)

	return result, nil
}

func (p *Pipeline) processDocument(ctx context.Context, path string) (int, error) {
	fetched, err := p.source.FetchDoc(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}
	p.logger.Debug("Fetched document", "path", path, "size", len(fetched.Content))

	return p.IndexDocument(ctx, Document{
		SourceType: github.SourceType,
		SourceID:   path,
		Name:       path,
		Content:    fetched.Content,
		SourceFile: fetched.URL,
	})
}

// IndexDocument replaces every stored chunk of doc with a fresh chunking of its content
// and returns the number of chunks written.
func (p *Pipeline) IndexDocument(ctx context.Context, doc Document) (int, error) {
	prefix := doc.Prefix()

	chunks, err := p.chunker.ChunkDocument([]byte(doc.Content))
	if err != nil {
		return 0, fmt.Errorf("chunk: %w", err)
	}
	p.logger.Debug("Chunked document", "document", doc.Name, "chunks", len(chunks))

	var records []*storage.ChunkRecord
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, chunk := range chunks {
			texts[i] = chunk.Content // Content already has header path prepended
		}

		embeddings, err := p.embedder.EmbedBatch(ctx, texts, embedding.IntentStore)
		if err != nil {
			return 0, fmt.Errorf("embeddings: %w", err)
		}
		if len(embeddings) != len(chunks) {
			return 0, fmt.Errorf("embeddings: expected %d, got %d", len(chunks), len(embeddings))
		}

		records = make([]*storage.ChunkRecord, len(chunks))
		for i, chunk := range chunks {
			title, summary := p.describe(ctx, doc, chunk)
			records[i] = &storage.ChunkRecord{
				ID:              storage.ChunkID(prefix, chunk.Index),
				DocumentName:    doc.Name,
				Content:         chunk.RawContent,
				EnhancedContent: chunk.Content,
				Title:           title,
				Summary:         summary,
				SourceFile:      doc.SourceFile,
				Domains:         p.domains,
				Embedding:       embeddings[i],
			}
		}
	}

	// Old chunks go first so a shorter revision leaves no stale tail behind.
	removed, err := p.store.DeleteByIDPrefix(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("delete previous chunks: %w", err)
	}

	if err := p.store.AddChunks(ctx, records); err != nil {
		return 0, fmt.Errorf("store chunks: %w", err)
	}

	p.logger.Info("Indexed document", "document", doc.Name, "chunks", len(records), "replaced", removed)
	return len(records), nil
}

// describe returns a chunk's title and summary, falling back to its heading when no
// generator is configured or generation fails.
func (p *Pipeline) describe(ctx context.Context, doc Document, chunk markdown.Chunk) (string, string) {
	title := chunk.Title
	if title == "" {
		title = doc.Name
	}
	if p.generator == nil {
		return title, ""
	}

	meta, err := p.generator.GenerateChunkMetadata(ctx, doc.Name, chunk.HeaderPath, chunk.RawContent)
	if err != nil {
		p.logger.Warn("Metadata generation failed, using heading", "document", doc.Name, "chunk", chunk.Index, "error", err)
		return title, ""
	}
	if meta.Title != "" {
		title = meta.Title
	}
	return title, meta.Summary
}
