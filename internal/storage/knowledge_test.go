package storage

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/bull/knowledge-mcp/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePrimary answers from its own MemoryStore until err is set.
type fakePrimary struct {
	mu        sync.Mutex
	store     *MemoryStore
	err       error
	ensureErr error
	calls     int
}

func newFakePrimary() *fakePrimary {
	return &fakePrimary{store: NewMemoryStore(testDim)}
}

func (p *fakePrimary) hit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func (p *fakePrimary) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *fakePrimary) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakePrimary) Health(ctx context.Context) error { return p.hit() }

func (p *fakePrimary) EnsureCollection(ctx context.Context) error {
	if err := p.hit(); err != nil {
		return err
	}
	return p.ensureErr
}

func (p *fakePrimary) UpsertChunks(ctx context.Context, records []*ChunkRecord) error {
	if err := p.hit(); err != nil {
		return err
	}
	return p.store.Add(records)
}

func (p *fakePrimary) SearchChunks(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
	if err := p.hit(); err != nil {
		return nil, err
	}
	return p.store.Search(vector, limit)
}

func (p *fakePrimary) ExistsByIDPrefix(ctx context.Context, prefix string) (bool, error) {
	if err := p.hit(); err != nil {
		return false, err
	}
	return p.store.ExistsByIDPrefix(prefix), nil
}

func (p *fakePrimary) CountByIDPrefix(ctx context.Context, prefix string) (int, error) {
	if err := p.hit(); err != nil {
		return 0, err
	}
	return p.store.CountByIDPrefix(prefix), nil
}

func (p *fakePrimary) DeleteByIDPrefix(ctx context.Context, prefix string) (int, error) {
	if err := p.hit(); err != nil {
		return 0, err
	}
	return p.store.DeleteByIDPrefix(prefix), nil
}

func (p *fakePrimary) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if err := p.hit(); err != nil {
		return 0, err
	}
	return p.store.DeleteByIDs(ids), nil
}

func (p *fakePrimary) ListDocumentNames(ctx context.Context) ([]string, error) {
	if err := p.hit(); err != nil {
		return nil, err
	}
	return p.store.DocumentNames(), nil
}

func (p *fakePrimary) ChunksByDocumentName(ctx context.Context, name string) ([]SearchResult, error) {
	if err := p.hit(); err != nil {
		return nil, err
	}
	return p.store.ChunksByDocumentName(name), nil
}

func (p *fakePrimary) Close() error { return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestKnowledgeStore(primary PrimaryStore, opts ...resilience.Option) *KnowledgeStore {
	logger := quietLogger()
	return NewKnowledgeStore(primary, NewCoordinator(logger, opts...), testDim, logger)
}

func sampleChunks() []*ChunkRecord {
	return []*ChunkRecord{
		{ID: "github_doc1_0", DocumentName: "doc1", Content: "a", Embedding: vec(1, 0, 0, 0)},
		{ID: "github_doc1_1", DocumentName: "doc1", Content: "b", Embedding: vec(0, 1, 0, 0)},
		{ID: "github_doc2_0", DocumentName: "doc2", Content: "c", Embedding: vec(1, 1, 0, 0)},
	}
}

func TestKnowledgeStore_FallbackOnlyScenario(t *testing.T) {
	s := newTestKnowledgeStore(nil)
	ctx := context.Background()

	require.NoError(t, s.Initialize(ctx))
	assert.True(t, s.IsDegraded())

	require.NoError(t, s.AddChunks(ctx, sampleChunks()))

	results, err := s.SearchByVector(ctx, vec(1, 0, 0, 0), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "github_doc1_0", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "github_doc2_0", results[1].ID)
	assert.Equal(t, []string{DefaultDomain}, results[0].Domains)

	names, err := s.ListUniqueDocumentNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1", "doc2"}, names)

	exists, err := s.ExistsByIDPrefix(ctx, "github_doc1_")
	require.NoError(t, err)
	assert.True(t, exists)

	n, err := s.CountByIDPrefix(ctx, "github_doc1_")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	chunks, err := s.GetChunksByDocumentName(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, UnrankedScore, chunks[0].Score)

	deleted, err := s.DeleteByIDPrefix(ctx, "github_doc1_")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	names, err = s.ListUniqueDocumentNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc2"}, names)

	deleted, err = s.DeleteByIDs(ctx, []string{"github_doc2_0"})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestKnowledgeStore_NoOpInputsSkipBackends(t *testing.T) {
	p := newFakePrimary()
	s := newTestKnowledgeStore(p)
	ctx := context.Background()

	require.NoError(t, s.AddChunks(ctx, nil))

	results, err := s.SearchByVector(ctx, vec(1, 0, 0, 0), 0)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)

	exists, err := s.ExistsByIDPrefix(ctx, "")
	require.NoError(t, err)
	assert.False(t, exists)

	n, err := s.CountByIDPrefix(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = s.DeleteByIDPrefix(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = s.DeleteByIDs(ctx, []string{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Equal(t, 0, p.callCount())
}

func TestKnowledgeStore_AddChunksSkipsNilRecords(t *testing.T) {
	p := newFakePrimary()
	s := newTestKnowledgeStore(p)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))

	before := p.callCount()
	require.NoError(t, s.AddChunks(ctx, []*ChunkRecord{nil, nil}))
	assert.Equal(t, before, p.callCount(), "all-nil batch must not reach the primary")

	chunks := sampleChunks()
	require.NoError(t, s.AddChunks(ctx, []*ChunkRecord{chunks[0], nil, chunks[1]}))
	assert.Equal(t, 2, p.store.Len())
	assert.False(t, s.IsDegraded())

	p.setErr(errUnavailable)
	require.NoError(t, s.AddChunks(ctx, []*ChunkRecord{nil, chunks[2]}))
	assert.True(t, s.IsDegraded())
	assert.Equal(t, 1, s.local.Len())
}

func TestKnowledgeStore_DimensionMismatch(t *testing.T) {
	p := newFakePrimary()
	s := newTestKnowledgeStore(p)
	ctx := context.Background()

	err := s.AddChunks(ctx, []*ChunkRecord{{ID: "x_y_0", Embedding: vec(1, 2)}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = s.SearchByVector(ctx, vec(1, 2, 3), 5)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	assert.Equal(t, 0, p.callCount())
	assert.False(t, s.IsDegraded())
}

func TestKnowledgeStore_PrimaryHealthy(t *testing.T) {
	p := newFakePrimary()
	s := newTestKnowledgeStore(p)
	ctx := context.Background()

	require.NoError(t, s.Initialize(ctx))
	assert.False(t, s.IsDegraded())

	require.NoError(t, s.AddChunks(ctx, sampleChunks()))
	assert.Equal(t, 3, p.store.Len())
	assert.Equal(t, 0, s.local.Len())

	results, err := s.SearchByVector(ctx, vec(0, 1, 0, 0), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "github_doc1_1", results[0].ID)
}

func TestKnowledgeStore_DegradesOnPrimaryFailure(t *testing.T) {
	p := newFakePrimary()
	s := newTestKnowledgeStore(p)
	ctx := context.Background()

	require.NoError(t, s.Initialize(ctx))
	p.setErr(errUnavailable)

	require.NoError(t, s.AddChunks(ctx, sampleChunks()))
	assert.True(t, s.IsDegraded())
	assert.Equal(t, 3, s.local.Len())
	callsAfterFailure := p.callCount()

	results, err := s.SearchByVector(ctx, vec(1, 0, 0, 0), 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	n, err := s.CountByIDPrefix(ctx, "github_doc1_")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, callsAfterFailure, p.callCount())
}

func TestKnowledgeStore_InitializeFailureDegrades(t *testing.T) {
	p := newFakePrimary()
	p.setErr(errUnavailable)
	s := newTestKnowledgeStore(p)

	require.NoError(t, s.Initialize(context.Background()))
	assert.True(t, s.IsDegraded())
}

func TestKnowledgeStore_InitializeDimensionMismatchIsFatal(t *testing.T) {
	p := newFakePrimary()
	p.ensureErr = ErrDimensionMismatch
	s := newTestKnowledgeStore(p)

	err := s.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.False(t, s.IsDegraded())
}

func TestKnowledgeStore_InitializeRecovers(t *testing.T) {
	p := newFakePrimary()
	s := newTestKnowledgeStore(p)
	ctx := context.Background()

	p.setErr(errUnavailable)
	require.NoError(t, s.Initialize(ctx))
	assert.True(t, s.IsDegraded())

	p.setErr(nil)
	require.NoError(t, s.Initialize(ctx))
	assert.False(t, s.IsDegraded())

	require.NoError(t, s.AddChunks(ctx, sampleChunks()))
	assert.Equal(t, 3, p.store.Len())
}

func TestKnowledgeStore_PerOperationPolicy(t *testing.T) {
	p := newFakePrimary()
	s := newTestKnowledgeStore(p, resilience.WithPolicy(resilience.PerOperationDegrade))
	ctx := context.Background()

	p.setErr(errUnavailable)
	_, err := s.ListUniqueDocumentNames(ctx)
	require.NoError(t, err)
	assert.True(t, s.IsDegraded())

	p.setErr(nil)
	require.NoError(t, s.AddChunks(ctx, sampleChunks()))
	assert.Equal(t, 3, p.store.Len())

	names, err := s.ListUniqueDocumentNames(ctx)
	require.NoError(t, err)
	// Still served by the empty fallback.
	assert.Empty(t, names)
}

func TestKnowledgeStore_CanceledContextPropagates(t *testing.T) {
	p := newFakePrimary()
	s := newTestKnowledgeStore(p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.setErr(context.Canceled)

	_, err := s.SearchByVector(ctx, vec(1, 0, 0, 0), 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, s.IsDegraded())
}

func TestKnowledgeStore_ResultsCarryDefaultDomains(t *testing.T) {
	s := newTestKnowledgeStore(nil)
	ctx := context.Background()

	require.NoError(t, s.AddChunks(ctx, []*ChunkRecord{
		{ID: "x_a_0", DocumentName: "a", Embedding: vec(1, 0, 0, 0)},
		{ID: "x_a_1", DocumentName: "a", Domains: []string{"go", "mcp"}, Embedding: vec(1, 0, 0, 0)},
	}))

	chunks, err := s.GetChunksByDocumentName(ctx, "a")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, []string{DefaultDomain}, chunks[0].Domains)
	assert.Equal(t, []string{"go", "mcp"}, chunks[1].Domains)

	missing, err := s.GetChunksByDocumentName(ctx, "nope")
	require.NoError(t, err)
	assert.NotNil(t, missing)
	assert.Empty(t, missing)
}

func TestKnowledgeStore_Health(t *testing.T) {
	s := newTestKnowledgeStore(nil)
	assert.ErrorIs(t, s.Health(context.Background()), ErrPrimaryUnavailable)
	assert.Equal(t, testDim, s.Dimension())
	assert.NoError(t, s.Close())
}
