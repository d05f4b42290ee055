// Package main provides the MCP server entry point for the knowledge base.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bull/knowledge-mcp/internal/config"
	"github.com/bull/knowledge-mcp/internal/embedding"
	ghclient "github.com/bull/knowledge-mcp/internal/github"
	mcpserver "github.com/bull/knowledge-mcp/internal/mcp"
	"github.com/bull/knowledge-mcp/internal/resilience"
	"github.com/bull/knowledge-mcp/internal/storage"
)

func main() {
	cfg := config.MustLoad()

	// stdout carries the MCP protocol in stdio mode, so logs always go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	primary, err := storage.NewQdrantStorage(cfg.Qdrant(logger))
	if err != nil {
		log.Fatalf("failed to create Qdrant client: %v", err)
	}

	coord := storage.NewCoordinator(logger, resilience.WithPolicy(cfg.Policy()))
	store := storage.NewKnowledgeStore(primary, coord, cfg.VectorDimension, logger)
	defer store.Close()

	// An unreachable Qdrant only degrades the store; a dimension mismatch is fatal.
	if err := store.Initialize(ctx); err != nil {
		log.Fatalf("failed to initialize knowledge store: %v", err)
	}
	if store.IsDegraded() {
		logger.Warn("Starting in fallback mode, send SIGHUP to retry Qdrant", "url", cfg.QdrantURL)
	}
	go reinitializeOnHangup(ctx, store, logger)

	if !cfg.HasOpenAI() {
		log.Fatal("OPENAI_API_KEY is required to embed search queries")
	}
	embeddingClient, err := embedding.NewClient(cfg.OpenAIAPIKey)
	if err != nil {
		log.Fatalf("failed to create embedding client: %v", err)
	}
	embedder := embedding.NewEmbedder(embeddingClient, embedding.Config{
		Model:      cfg.EmbeddingModel,
		QueryModel: cfg.QueryModel(),
		Dimension:  cfg.VectorDimension,
	})

	ghClient, err := ghclient.NewClient(cfg.GitHubToken)
	if err != nil {
		log.Fatalf("failed to create GitHub client: %v", err)
	}

	server := mcpserver.NewServer(&mcpserver.Config{
		Store:    store,
		Embedder: embedder,
		Source:   ghclient.NewFetcher(ghClient, cfg.GitHubOwner, cfg.GitHubRepo, cfg.GitHubPath),
		Logger:   logger,
	})

	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           mcpserver.NewMux(server, store, nil),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if cfg.ServerMode == "http" {
		logger.Info("Starting HTTP server", "addr", httpServer.Addr, "mcp", "/mcp", "health", "/health", "metrics", "/metrics")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
		return
	}

	// Stdio mode still exposes /health and /metrics for local testing.
	go func() {
		logger.Info("Starting health server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health server error", "error", err)
		}
	}()

	logger.Info("Starting knowledge MCP server (stdio mode)")
	if err := server.Run(ctx); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// reinitializeOnHangup retries the primary store on every SIGHUP. A successful
// Initialize clears the degraded state.
func reinitializeOnHangup(ctx context.Context, store *storage.KnowledgeStore, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := store.Initialize(ctx); err != nil {
				logger.Error("Reinitialize failed", "error", err)
				continue
			}
			logger.Info("Reinitialized knowledge store", "degraded", store.IsDegraded())
		}
	}
}
