package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// qdrantAPI is the subset of *qdrant.Client used by QdrantStorage.
type qdrantAPI interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	ListCollections(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	DeleteCollection(ctx context.Context, collectionName string) error
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Close() error
}

// pointScroller pages through a collection. The raw gRPC response carries the
// continuation cursor that the high-level client drops.
type pointScroller interface {
	Scroll(ctx context.Context, in *qdrant.ScrollPoints, opts ...grpc.CallOption) (*qdrant.ScrollResponse, error)
}

const (
	defaultQdrantPort = 6334
	upsertBatchSize   = 100
	scrollPageSize    = 256
)

// QdrantConfig configures a QdrantStorage.
type QdrantConfig struct {
	URL             string        // "http://localhost:6334"; https enables TLS
	APIKey          string        // Optional
	Collection      string        // Defaults to DefaultCollectionName
	Dimension       int           // Vector size of every stored embedding
	RetryMaxElapsed time.Duration // Upper bound for health and upsert retries
	Logger          *slog.Logger
}

// QdrantStorage is the primary store. Chunks are points keyed by a surrogate UUID with the
// chunk's logical ID in the payload.
type QdrantStorage struct {
	client          qdrantAPI
	points          pointScroller
	collection      string
	dimension       int
	retryMaxElapsed time.Duration
	logger          *slog.Logger
}

// NewQdrantStorage creates a gRPC Qdrant client. It does not contact the server; an
// unreachable Qdrant surfaces on the first call.
func NewQdrantStorage(cfg QdrantConfig) (*QdrantStorage, error) {
	host, port, useTLS, err := ParseEndpoint(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return newQdrantStorage(client, client.GetPointsClient(), cfg), nil
}

func newQdrantStorage(client qdrantAPI, points pointScroller, cfg QdrantConfig) *QdrantStorage {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollectionName
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultVectorDimension
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &QdrantStorage{
		client:          client,
		points:          points,
		collection:      cfg.Collection,
		dimension:       cfg.Dimension,
		retryMaxElapsed: cfg.RetryMaxElapsed,
		logger:          cfg.Logger,
	}
}

// ParseEndpoint splits a Qdrant URL into gRPC host, port and TLS flag.
// A bare "host:port" is accepted as plain text.
func ParseEndpoint(raw string) (host string, port int, useTLS bool, err error) {
	if raw == "" {
		return "", 0, false, fmt.Errorf("qdrant url is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid qdrant url: %w", err)
	}
	if u.Hostname() == "" {
		return "", 0, false, fmt.Errorf("invalid qdrant url %q: missing host", raw)
	}

	port = defaultQdrantPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid qdrant port %q: %w", p, err)
		}
	}
	return u.Hostname(), port, u.Scheme == "https", nil
}

// newBackoff returns the retry schedule shared by health checks and upserts.
func (s *QdrantStorage) newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = s.retryMaxElapsed
	return backoff.WithContext(b, ctx)
}

// healthCheckWithRetry performs health checks with exponential backoff.
func (s *QdrantStorage) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error { return s.Health(ctx) }, s.newBackoff(ctx))
}

// Health performs a single health check against Qdrant.
// Returns nil if Qdrant is healthy, error otherwise.
func (s *QdrantStorage) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}

	return nil
}

// EnsureCollection creates the collection with cosine distance when it is missing and
// creates any payload index the collection lacks. An existing collection with a different
// vector size is a fatal ErrDimensionMismatch. Idempotent - safe to call on every start.
func (s *QdrantStorage) EnsureCollection(ctx context.Context) error {
	if err := s.healthCheckWithRetry(ctx); err != nil {
		return err
	}

	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, name := range collections {
		if name == s.collection {
			info, err := s.checkDimension(ctx)
			if err != nil {
				return err
			}
			// A bootstrap that failed after creating the collection left indexes missing.
			if err := s.createPayloadIndexes(ctx, info.GetPayloadSchema()); err != nil {
				return fmt.Errorf("failed to create payload indexes: %w", err)
			}
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	if err := s.createPayloadIndexes(ctx, nil); err != nil {
		return fmt.Errorf("failed to create payload indexes: %w", err)
	}

	s.logger.Info("Created collection", "collection", s.collection, "dimension", s.dimension)
	return nil
}

// checkDimension compares the existing collection's vector size with the configured one
// and returns the collection info.
func (s *QdrantStorage) checkDimension(ctx context.Context) (*qdrant.CollectionInfo, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}

	vectors := info.GetConfig().GetParams().GetVectorsConfig()
	params, ok := vectors.GetParamsMap().GetMap()[vectorName]
	if !ok {
		return nil, fmt.Errorf("%w: collection %q has no %q vector", ErrCollectionNotFound, s.collection, vectorName)
	}
	if size := int(params.GetSize()); size != s.dimension {
		return nil, fmt.Errorf("%w: collection %q stores %d dimensions, configured %d",
			ErrDimensionMismatch, s.collection, size, s.dimension)
	}
	return info, nil
}

// createPayloadIndexes indexes the fields used by filtered queries, skipping fields
// already present in existing.
func (s *QdrantStorage) createPayloadIndexes(ctx context.Context, existing map[string]*qdrant.PayloadSchemaInfo) error {
	indexes := []struct {
		field string
		typ   qdrant.FieldType
	}{
		{fieldDocumentName, qdrant.FieldType_FieldTypeKeyword},
		{fieldTitle, qdrant.FieldType_FieldTypeText},
		{fieldDomains, qdrant.FieldType_FieldTypeKeyword},
	}

	for _, idx := range indexes {
		if _, ok := existing[idx.field]; ok {
			continue
		}
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      idx.field,
			FieldType:      idx.typ.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", idx.field, err)
		}
	}

	return nil
}

// ClearCollection deletes the collection and recreates it empty.
func (s *QdrantStorage) ClearCollection(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return s.EnsureCollection(ctx)
}

// Close closes the Qdrant client connection.
func (s *QdrantStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// upsertWithRetry retries transient upsert failures. Rejected requests are not retried.
func (s *QdrantStorage) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	operation := func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if status.Code(err) == codes.InvalidArgument {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(operation, s.newBackoff(ctx))
}

// UpsertChunks stores records in batches of 100. Nil records are skipped.
func (s *QdrantStorage) UpsertChunks(ctx context.Context, records []*ChunkRecord) error {
	records = nonNil(records)
	if len(records) == 0 {
		return nil
	}

	for _, rec := range records {
		if err := validateDimension(rec.Embedding, s.dimension, "chunk "+rec.ID); err != nil {
			return err
		}
	}

	for i := 0; i < len(records); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(records))

		batch := records[i:end]
		points := make([]*qdrant.PointStruct, len(batch))
		for j, rec := range batch {
			points[j] = &qdrant.PointStruct{
				Id: pointID(rec.ID),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					vectorName: qdrant.NewVector(rec.Embedding...),
				}),
				Payload: payloadFromRecord(rec).values(),
			}
		}

		if err := s.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}

	return nil
}

// SearchChunks returns the top limit chunks by cosine similarity. Scores come from
// Qdrant unchanged.
func (s *QdrantStorage) SearchChunks(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
	if err := validateDimension(vector, s.dimension, "query"); err != nil {
		return nil, err
	}

	using := vectorName
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Using:          &using,
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		results = append(results, decodePayload(p.GetPayload()).result(float64(p.GetScore())))
	}
	return results, nil
}

// DeleteByIDs deletes the points whose logical ID is in ids. The returned number is the
// match count observed just before deletion.
func (s *QdrantStorage) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatchKeywords(fieldID, ids...)},
	}

	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return int(n), nil
}

// ListDocumentNames scrolls the whole collection and returns the distinct document
// names, sorted.
func (s *QdrantStorage) ListDocumentNames(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	err := s.scrollAll(ctx, nil, qdrant.NewWithPayloadInclude(fieldDocumentName), func(p *qdrant.RetrievedPoint) bool {
		seen[p.GetPayload()[fieldDocumentName].GetStringValue()] = struct{}{}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll document names: %w", err)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ChunksByDocumentName returns every chunk of a document ordered by chunk index.
func (s *QdrantStorage) ChunksByDocumentName(ctx context.Context, name string) ([]SearchResult, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(fieldDocumentName, name)},
	}

	results := []SearchResult{}
	err := s.scrollAll(ctx, filter, qdrant.NewWithPayload(true), func(p *qdrant.RetrievedPoint) bool {
		results = append(results, decodePayload(p.GetPayload()).result(UnrankedScore))
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll chunks of %q: %w", name, err)
	}

	sortByOrdinal(results)
	return results, nil
}

// scrollAll pages through the points matching filter (all points when nil), following the
// continuation cursor until Qdrant returns none or visit returns false.
func (s *QdrantStorage) scrollAll(
	ctx context.Context,
	filter *qdrant.Filter,
	payload *qdrant.WithPayloadSelector,
	visit func(*qdrant.RetrievedPoint) bool,
) error {
	var offset *qdrant.PointId
	for {
		resp, err := s.points.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Filter:         filter,
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
			WithPayload:    payload,
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if err != nil {
			return err
		}

		for _, p := range resp.GetResult() {
			if !visit(p) {
				return nil
			}
		}

		offset = resp.GetNextPageOffset()
		if offset == nil {
			return nil
		}
	}
}

// isConnectivityError reports whether err, or anything it wraps or joins, means Qdrant
// could not be reached.
func isConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrQdrantUnreachable) {
		return true
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded:
			return true
		}
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if isConnectivityError(e) {
				return true
			}
		}
	}
	return false
}
