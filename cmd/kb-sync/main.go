// Package main provides the CLI for indexing documents into the knowledge base.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/knowledge-mcp/internal/config"
	"github.com/bull/knowledge-mcp/internal/embedding"
	ghclient "github.com/bull/knowledge-mcp/internal/github"
	"github.com/bull/knowledge-mcp/internal/indexer"
	"github.com/bull/knowledge-mcp/internal/markdown"
	"github.com/bull/knowledge-mcp/internal/metadata"
	"github.com/bull/knowledge-mcp/internal/resilience"
	"github.com/bull/knowledge-mcp/internal/storage"
)

// UploadSourceType prefixes the chunk IDs of documents ingested from local files.
const UploadSourceType = "upload"

var (
	skipExisting bool
	clearFirst   bool
	noMetadata   bool
	docName      string
	sourceID     string
	deletePrefix string
)

var rootCmd = &cobra.Command{
	Use:   "kb-sync",
	Short: "Knowledge base indexing tool",
	Long:  "CLI tool for managing the document index in Qdrant",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cmd.SilenceUsage = true
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Index all documentation from GitHub",
	Long: `Fetches every markdown file below GITHUB_PATH and replaces its chunks in Qdrant.

Each document is chunked by heading, embedded, optionally described by an LLM
and written under the chunk ID prefix "github_<path-slug>-<hash>_". Documents that fail to
fetch or embed are reported and skipped.

Environment variables:
  QDRANT_URL       Qdrant gRPC endpoint (default: http://localhost:6334)
  OPENAI_API_KEY   OpenAI API key for embeddings (required)
  GITHUB_TOKEN     GitHub token for higher rate limits (optional)
  GITHUB_OWNER, GITHUB_REPO, GITHUB_PATH   Documentation location`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Index a local markdown file",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show indexed documents and store health",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [<source-type> <source-id>]",
	Short: "Remove every chunk of one source",
	Args: func(cmd *cobra.Command, args []string) error {
		if deletePrefix != "" {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(2)(cmd, args)
	},
	RunE: runDelete,
}

func init() {
	syncCmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "Skip documents that already have chunks")
	syncCmd.Flags().BoolVar(&clearFirst, "clear", false, "Drop and recreate the collection before indexing")
	syncCmd.Flags().BoolVar(&noMetadata, "no-metadata", false, "Skip LLM titles and summaries")

	ingestCmd.Flags().StringVar(&docName, "name", "", "Document name (default: file name)")
	ingestCmd.Flags().StringVar(&sourceID, "source-id", "", "Source ID (default: file name)")
	ingestCmd.Flags().BoolVar(&noMetadata, "no-metadata", false, "Skip LLM titles and summaries")

	deleteCmd.Flags().StringVar(&deletePrefix, "prefix", "", "Delete by raw chunk ID prefix instead")

	rootCmd.AddCommand(syncCmd, ingestCmd, statusCmd, deleteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	primary *storage.QdrantStorage
	store   *storage.KnowledgeStore
}

// open loads configuration and connects the store. Writes made while degraded would only
// reach the in-memory fallback and vanish on exit, so requirePrimary refuses to continue.
func open(ctx context.Context, requirePrimary bool) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	primary, err := storage.NewQdrantStorage(cfg.Qdrant(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}
	coord := storage.NewCoordinator(logger, resilience.WithPolicy(cfg.Policy()))
	store := storage.NewKnowledgeStore(primary, coord, cfg.VectorDimension, logger)

	if err := store.Initialize(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if requirePrimary && store.IsDegraded() {
		store.Close()
		return nil, fmt.Errorf("qdrant at %s is unreachable", cfg.QdrantURL)
	}

	return &env{cfg: cfg, logger: logger, primary: primary, store: store}, nil
}

func (e *env) pipeline(source indexer.DocumentSource) (*indexer.Pipeline, error) {
	if !e.cfg.HasOpenAI() {
		return nil, errors.New("OPENAI_API_KEY is required for indexing")
	}
	client, err := embedding.NewClient(e.cfg.OpenAIAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	embedder := embedding.NewEmbedder(client, embedding.Config{
		Model:      e.cfg.EmbeddingModel,
		QueryModel: e.cfg.QueryModel(),
		Dimension:  e.cfg.VectorDimension,
	})

	var generator indexer.MetadataGenerator
	if !noMetadata {
		// The embeddings client doubles as the chat client
		generator = metadata.NewGenerator(client.Client(), e.cfg.MetadataModel, e.logger)
	}

	return indexer.NewPipeline(source, markdown.NewChunker(), embedder, generator, e.store,
		indexer.Options{Domains: e.cfg.DocumentDomains}, e.logger), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	start := time.Now()

	e, err := open(ctx, true)
	if err != nil {
		return err
	}
	defer e.store.Close()
	fmt.Printf("Connected to Qdrant at %s (collection %s)\n", e.cfg.QdrantURL, e.cfg.QdrantCollection)

	if clearFirst {
		fmt.Println("Clearing existing collection...")
		if err := e.primary.ClearCollection(ctx); err != nil {
			return fmt.Errorf("failed to clear collection: %w", err)
		}
		if err := e.store.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to recreate collection: %w", err)
		}
		if e.store.IsDegraded() {
			return errors.New("qdrant became unreachable while recreating the collection")
		}
	}

	ghClient, err := ghclient.NewClient(e.cfg.GitHubToken)
	if err != nil {
		return fmt.Errorf("failed to create GitHub client: %w", err)
	}
	fetcher := ghclient.NewFetcher(ghClient, e.cfg.GitHubOwner, e.cfg.GitHubRepo, e.cfg.GitHubPath)

	pipeline, err := e.pipeline(fetcher)
	if err != nil {
		return err
	}

	fmt.Printf("Indexing documents from %s...\n", fetcher.Repository())
	result, err := pipeline.IndexAll(ctx, skipExisting)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}
	if e.store.IsDegraded() {
		return errors.New("qdrant became unreachable during indexing, rerun sync once it is back")
	}

	fmt.Println()
	fmt.Println("Sync complete!")
	fmt.Printf("  Documents: %d/%d (%d skipped)\n", result.SuccessfulDocs, result.TotalDocs, result.SkippedDocs)
	fmt.Printf("  Chunks: %d\n", result.TotalChunks)
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Second))
	fmt.Printf("  Commit: %s\n", result.CommitSHA)

	if len(result.FailedDocs) > 0 {
		fmt.Println()
		fmt.Println("Failed documents:")
		for _, failed := range result.FailedDocs {
			fmt.Printf("  - %s: %s\n", failed.Path, failed.Reason)
		}
	}

	fmt.Println()
	fmt.Printf("Total time: %s\n", time.Since(start).Round(time.Second))
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	path := args[0]
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	base := filepath.Base(path)
	doc := indexer.Document{
		SourceType: UploadSourceType,
		SourceID:   base,
		Name:       base,
		Content:    string(content),
		SourceFile: path,
	}
	if sourceID != "" {
		doc.SourceID = sourceID
	}
	if docName != "" {
		doc.Name = docName
	}

	e, err := open(ctx, true)
	if err != nil {
		return err
	}
	defer e.store.Close()

	pipeline, err := e.pipeline(nil)
	if err != nil {
		return err
	}

	n, err := pipeline.IndexDocument(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to ingest %s: %w", path, err)
	}
	if e.store.IsDegraded() {
		return fmt.Errorf("qdrant became unreachable while ingesting %s", path)
	}
	fmt.Printf("Indexed %s as %q: %d chunks under %s\n", path, doc.Name, n, doc.Prefix())
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := open(ctx, false)
	if err != nil {
		return err
	}
	defer e.store.Close()

	if e.store.IsDegraded() {
		fmt.Printf("Qdrant at %s is unreachable, nothing to report\n", e.cfg.QdrantURL)
		return nil
	}

	names, err := e.store.ListUniqueDocumentNames(ctx)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	ghChunks, err := e.store.CountByIDPrefix(ctx, storage.Slug(ghclient.SourceType)+"_")
	if err != nil {
		return fmt.Errorf("failed to count chunks: %w", err)
	}
	uploads, err := e.store.CountByIDPrefix(ctx, storage.Slug(UploadSourceType)+"_")
	if err != nil {
		return fmt.Errorf("failed to count chunks: %w", err)
	}

	fmt.Printf("Collection: %s (dimension %d)\n", e.cfg.QdrantCollection, e.store.Dimension())
	fmt.Printf("Documents: %d\n", len(names))
	fmt.Printf("Chunks: %d from GitHub, %d uploaded\n", ghChunks, uploads)
	for _, name := range names {
		fmt.Printf("  - %s\n", name)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	prefix := deletePrefix
	if prefix == "" {
		if storage.Slug(args[0]) == "" || args[1] == "" {
			return errors.New("source type must contain letters or digits and source id must not be empty")
		}
		prefix = storage.SourcePrefix(args[0], args[1])
	}

	e, err := open(ctx, true)
	if err != nil {
		return err
	}
	defer e.store.Close()

	deleted, err := e.store.DeleteByIDPrefix(ctx, prefix)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", prefix, err)
	}
	fmt.Printf("Deleted %d chunks with prefix %s\n", deleted, prefix)
	return nil
}
