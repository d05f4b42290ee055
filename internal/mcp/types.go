// Package mcp exposes the knowledge store as MCP tools.
package mcp

// SearchDocsInput defines the input parameters for the search_docs tool.
type SearchDocsInput struct {
	// Query is the semantic search query.
	Query string `json:"query" jsonschema:"The semantic search query for finding relevant documentation"`
	// MaxResults is the maximum number of chunks to return.
	MaxResults int `json:"max_results,omitempty" jsonschema:"Maximum number of chunks to return (1-20, default 5)"`
	// MinScore is the minimum relevance threshold (0-1).
	MinScore float64 `json:"min_score,omitempty" jsonschema:"Minimum relevance score threshold between 0 and 1 (default 0.3)"`
	// Domain restricts results to chunks tagged with it.
	Domain string `json:"domain,omitempty" jsonschema:"Only return chunks tagged with this domain"`
}

// SearchDocsOutput contains the search results.
type SearchDocsOutput struct {
	// Results is the list of matching chunks, best first.
	Results []SearchResult `json:"results"`
	// Degraded is true when results came from the in-memory fallback.
	Degraded bool `json:"degraded"`
	// Message provides informational context (e.g., "No matching documents found").
	Message string `json:"message,omitempty"`
}

// SearchResult represents a single chunk match from semantic search.
type SearchResult struct {
	ID           string   `json:"id"`
	DocumentName string   `json:"document_name"`
	Title        string   `json:"title,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	Content      string   `json:"content"`
	SourceFile   string   `json:"source_file,omitempty"`
	Domains      []string `json:"domains"`
	Score        float64  `json:"score"`
}

// FetchDocInput defines the input parameters for the fetch_doc tool.
type FetchDocInput struct {
	// DocumentName is the name the document was indexed under.
	DocumentName string `json:"document_name" jsonschema:"The document name to retrieve, as returned by list_docs"`
}

// FetchDocOutput contains the retrieved document.
type FetchDocOutput struct {
	// Content is every chunk joined in order, with a source header prepended.
	Content      string `json:"content"`
	DocumentName string `json:"document_name"`
	SourceFile   string `json:"source_file,omitempty"`
	ChunkCount   int    `json:"chunk_count"`
	// Found indicates whether the document exists.
	Found bool `json:"found"`
}

// ListDocsInput defines the input parameters for the list_docs tool.
// This tool takes no parameters and lists all available documents.
type ListDocsInput struct {
	// No input parameters required
}

// ListDocsOutput contains the list of all available document names.
type ListDocsOutput struct {
	Names []string `json:"names"`
	Count int      `json:"count"`
}

// DeleteSourceInput identifies a source whose chunks should be removed.
type DeleteSourceInput struct {
	SourceType string `json:"source_type" jsonschema:"Source type the document was ingested from, e.g. github or upload"`
	SourceID   string `json:"source_id" jsonschema:"Source identifier within the type, e.g. the repository path"`
}

// DeleteSourceOutput reports how many chunks were removed.
type DeleteSourceOutput struct {
	Prefix  string `json:"prefix"`
	Deleted int    `json:"deleted"`
}

// StatusInput defines the input parameters for the get_index_status tool.
type StatusInput struct{}

// StatusOutput describes the state of the index and its backing store.
type StatusOutput struct {
	TotalDocs     int      `json:"total_docs"`
	DocumentNames []string `json:"document_names"`
	// Mode is "primary" while Qdrant serves requests, "fallback" while degraded.
	Mode       string `json:"mode"`
	Degraded   bool   `json:"degraded"`
	Dimension  int    `json:"dimension"`
	Repository string `json:"repository,omitempty"`
	// SourceCommit is the latest commit of the document source, when one is configured.
	SourceCommit string `json:"source_commit,omitempty"`
}
