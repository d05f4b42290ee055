package storage

import (
	"context"
	"log/slog"

	"github.com/bull/knowledge-mcp/internal/resilience"
)

// PrimaryStore is the external vector database behind a KnowledgeStore.
// QdrantStorage implements it.
type PrimaryStore interface {
	Health(ctx context.Context) error
	EnsureCollection(ctx context.Context) error
	UpsertChunks(ctx context.Context, records []*ChunkRecord) error
	SearchChunks(ctx context.Context, vector []float32, limit int) ([]SearchResult, error)
	ExistsByIDPrefix(ctx context.Context, prefix string) (bool, error)
	CountByIDPrefix(ctx context.Context, prefix string) (int, error)
	DeleteByIDPrefix(ctx context.Context, prefix string) (int, error)
	DeleteByIDs(ctx context.Context, ids []string) (int, error)
	ListDocumentNames(ctx context.Context) ([]string, error)
	ChunksByDocumentName(ctx context.Context, name string) ([]SearchResult, error)
	Close() error
}

var _ PrimaryStore = (*QdrantStorage)(nil)

// Operation names used for routing decisions, warnings and metrics.
const (
	OpInitialize           = "initialize"
	OpAddChunks            = "add_chunks"
	OpSearchByVector       = "search_by_vector"
	OpExistsByIDPrefix     = "exists_by_id_prefix"
	OpCountByIDPrefix      = "count_by_id_prefix"
	OpDeleteByIDPrefix     = "delete_by_id_prefix"
	OpDeleteByIDs          = "delete_by_ids"
	OpListDocumentNames    = "list_document_names"
	OpChunksByDocumentName = "chunks_by_document_name"
)

// KnowledgeStore writes and queries chunks against the primary store and answers from an
// in-memory store once the primary is known to be down. The two are never synchronized:
// the fallback substitutes for the primary, it does not cache it.
//
// A new KnowledgeStore is inert until Initialize is called; the fallback needs no setup.
type KnowledgeStore struct {
	primary   PrimaryStore
	local     *MemoryStore
	coord     *resilience.Coordinator
	dimension int
	logger    *slog.Logger
}

// NewCoordinator creates a Coordinator that never treats ErrDimensionMismatch as an
// outage.
func NewCoordinator(logger *slog.Logger, opts ...resilience.Option) *resilience.Coordinator {
	opts = append(opts, resilience.WithPassthrough(ErrDimensionMismatch))
	return resilience.NewCoordinator(logger, opts...)
}

// NewKnowledgeStore wires a primary store, possibly nil, to a fresh in-memory fallback.
// A nil primary makes every call use the fallback. coord should come from NewCoordinator;
// nil creates one with the global policy.
func NewKnowledgeStore(primary PrimaryStore, coord *resilience.Coordinator, dimension int, logger *slog.Logger) *KnowledgeStore {
	if logger == nil {
		logger = slog.Default()
	}
	if coord == nil {
		coord = NewCoordinator(logger)
	}
	if dimension <= 0 {
		dimension = DefaultVectorDimension
	}
	return &KnowledgeStore{
		primary:   primary,
		local:     NewMemoryStore(dimension),
		coord:     coord,
		dimension: dimension,
		logger:    logger,
	}
}

// Initialize bootstraps the primary collection. It always contacts the primary, so a
// successful call also recovers a degraded store. A failure leaves the store degraded
// instead of returning an error; only ErrDimensionMismatch is returned.
func (s *KnowledgeStore) Initialize(ctx context.Context) error {
	return s.coord.Probe(ctx, OpInitialize, func(ctx context.Context) error {
		if s.primary == nil {
			return ErrPrimaryUnavailable
		}
		return s.primary.EnsureCollection(ctx)
	})
}

// IsDegraded reports whether calls are being served by the in-memory fallback.
func (s *KnowledgeStore) IsDegraded() bool {
	return s.primary == nil || s.coord.IsDegraded()
}

// Health checks the primary store.
func (s *KnowledgeStore) Health(ctx context.Context) error {
	if s.primary == nil {
		return ErrPrimaryUnavailable
	}
	return s.primary.Health(ctx)
}

// Dimension returns the configured vector dimension.
func (s *KnowledgeStore) Dimension() int {
	return s.dimension
}

// Close releases the primary store connection.
func (s *KnowledgeStore) Close() error {
	if s.primary == nil {
		return nil
	}
	return s.primary.Close()
}

// skipPrimary is the forceFallback argument of every routed call.
func (s *KnowledgeStore) skipPrimary(op string) bool {
	return s.primary == nil || s.coord.DegradedFor(op)
}

// AddChunks inserts or overwrites records by ID. Any record with the wrong embedding
// dimension rejects the whole call with ErrDimensionMismatch. Nil records are skipped.
func (s *KnowledgeStore) AddChunks(ctx context.Context, records []*ChunkRecord) error {
	records = nonNil(records)
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		if err := validateDimension(rec.Embedding, s.dimension, "chunk "+rec.ID); err != nil {
			return err
		}
	}

	_, err := resilience.Execute(ctx, s.coord, OpAddChunks,
		func(context.Context) (struct{}, error) {
			return struct{}{}, s.local.Add(records)
		},
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.primary.UpsertChunks(ctx, records)
		},
		s.skipPrimary(OpAddChunks),
	)
	return err
}

// SearchByVector returns up to limit chunks ranked by cosine similarity.
func (s *KnowledgeStore) SearchByVector(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
	if err := validateDimension(vector, s.dimension, "query"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []SearchResult{}, nil
	}

	results, err := resilience.Execute(ctx, s.coord, OpSearchByVector,
		func(context.Context) ([]SearchResult, error) {
			return s.local.Search(vector, limit)
		},
		func(ctx context.Context) ([]SearchResult, error) {
			return s.primary.SearchChunks(ctx, vector, limit)
		},
		s.skipPrimary(OpSearchByVector),
	)
	if err != nil {
		return nil, err
	}
	return normalizeResults(results), nil
}

// ExistsByIDPrefix reports whether any chunk ID starts with prefix. An empty prefix
// matches nothing.
func (s *KnowledgeStore) ExistsByIDPrefix(ctx context.Context, prefix string) (bool, error) {
	if prefix == "" {
		return false, nil
	}
	return resilience.Execute(ctx, s.coord, OpExistsByIDPrefix,
		func(context.Context) (bool, error) {
			return s.local.ExistsByIDPrefix(prefix), nil
		},
		func(ctx context.Context) (bool, error) {
			return s.primary.ExistsByIDPrefix(ctx, prefix)
		},
		s.skipPrimary(OpExistsByIDPrefix),
	)
}

// CountByIDPrefix counts chunks whose ID starts with prefix. An empty prefix matches
// nothing.
func (s *KnowledgeStore) CountByIDPrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, nil
	}
	return resilience.Execute(ctx, s.coord, OpCountByIDPrefix,
		func(context.Context) (int, error) {
			return s.local.CountByIDPrefix(prefix), nil
		},
		func(ctx context.Context) (int, error) {
			return s.primary.CountByIDPrefix(ctx, prefix)
		},
		s.skipPrimary(OpCountByIDPrefix),
	)
}

// DeleteByIDPrefix deletes every chunk whose ID starts with prefix and returns how many.
// An empty prefix deletes nothing.
func (s *KnowledgeStore) DeleteByIDPrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, nil
	}
	return resilience.Execute(ctx, s.coord, OpDeleteByIDPrefix,
		func(context.Context) (int, error) {
			return s.local.DeleteByIDPrefix(prefix), nil
		},
		func(ctx context.Context) (int, error) {
			return s.primary.DeleteByIDPrefix(ctx, prefix)
		},
		s.skipPrimary(OpDeleteByIDPrefix),
	)
}

// DeleteByIDs deletes the given chunk IDs and returns how many were found.
func (s *KnowledgeStore) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return resilience.Execute(ctx, s.coord, OpDeleteByIDs,
		func(context.Context) (int, error) {
			return s.local.DeleteByIDs(ids), nil
		},
		func(ctx context.Context) (int, error) {
			return s.primary.DeleteByIDs(ctx, ids)
		},
		s.skipPrimary(OpDeleteByIDs),
	)
}

// ListUniqueDocumentNames returns the distinct document names, sorted.
func (s *KnowledgeStore) ListUniqueDocumentNames(ctx context.Context) ([]string, error) {
	return resilience.Execute(ctx, s.coord, OpListDocumentNames,
		func(context.Context) ([]string, error) {
			return s.local.DocumentNames(), nil
		},
		func(ctx context.Context) ([]string, error) {
			return s.primary.ListDocumentNames(ctx)
		},
		s.skipPrimary(OpListDocumentNames),
	)
}

// GetChunksByDocumentName returns every chunk of a document in chunk order. Scores are
// UnrankedScore.
func (s *KnowledgeStore) GetChunksByDocumentName(ctx context.Context, name string) ([]SearchResult, error) {
	results, err := resilience.Execute(ctx, s.coord, OpChunksByDocumentName,
		func(context.Context) ([]SearchResult, error) {
			return s.local.ChunksByDocumentName(name), nil
		},
		func(ctx context.Context) ([]SearchResult, error) {
			return s.primary.ChunksByDocumentName(ctx, name)
		},
		s.skipPrimary(OpChunksByDocumentName),
	)
	if err != nil {
		return nil, err
	}
	return normalizeResults(results), nil
}

// normalizeResults gives every result the same shape regardless of which store answered.
func normalizeResults(results []SearchResult) []SearchResult {
	if results == nil {
		return []SearchResult{}
	}
	for i := range results {
		if results[i].ChunkRecord == nil {
			results[i].ChunkRecord = &ChunkRecord{}
		}
		results[i].Domains = normalizeDomains(results[i].Domains)
	}
	return results
}
