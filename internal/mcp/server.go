package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/knowledge-mcp/internal/embedding"
	"github.com/bull/knowledge-mcp/internal/storage"
)

// KnowledgeBase is the part of *storage.KnowledgeStore the tools use.
type KnowledgeBase interface {
	SearchByVector(ctx context.Context, vector []float32, limit int) ([]storage.SearchResult, error)
	ListUniqueDocumentNames(ctx context.Context) ([]string, error)
	GetChunksByDocumentName(ctx context.Context, name string) ([]storage.SearchResult, error)
	DeleteByIDPrefix(ctx context.Context, prefix string) (int, error)
	IsDegraded() bool
	Dimension() int
}

// QueryEmbedder turns a search query into a vector; *embedding.Embedder implements it.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string, intent embedding.Intent) ([]float32, error)
}

// CommitSource reports the revision of the indexed documents; *github.Fetcher implements it.
type CommitSource interface {
	Repository() string
	GetLatestCommitSHA(ctx context.Context) (string, error)
}

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
	store  KnowledgeBase
}

// Config holds server dependencies. Source is optional.
type Config struct {
	Store    KnowledgeBase
	Embedder QueryEmbedder
	Source   CommitSource
	Logger   *slog.Logger
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	impl := &mcp.Implementation{
		Name:    "knowledge-mcp",
		Version: "v0.2.0",
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_docs",
		Description: "Search the knowledge base semantically. Returns the best matching chunks with their document names. Use fetch_doc to read a whole document.",
	}, makeSearchHandler(cfg.Store, cfg.Embedder))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fetch_doc",
		Description: "Retrieve a document by name. Returns its chunks joined in order as markdown.",
	}, makeFetchHandler(cfg.Store))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_docs",
		Description: "List the names of all indexed documents.",
	}, makeListHandler(cfg.Store))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_source",
		Description: "Remove every chunk ingested from one source, identified by source type and source id.",
	}, makeDeleteHandler(cfg.Store, logger))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_index_status",
		Description: "Get the current status of the index: document names and counts, whether the store is serving from its in-memory fallback, and the latest source commit.",
	}, makeStatusHandler(cfg.Store, cfg.Source, logger))

	return &Server{
		server: server,
		store:  cfg.Store,
	}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
