package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/bull/knowledge-mcp/internal/storage"
)

const (
	// DefaultModel is the OpenAI model used when none is configured.
	DefaultModel = "text-embedding-3-small"

	// DefaultBatchSize balances requests-per-minute vs tokens-per-minute rate limits.
	// OpenAI supports up to 2048 texts per batch, but smaller batches reduce TPM pressure.
	DefaultBatchSize = 500
)

// Intent says what a vector is for. Stored chunks and search queries may use
// different models as long as both produce the same dimension.
type Intent int

const (
	IntentStore Intent = iota
	IntentQuery
)

func (i Intent) String() string {
	if i == IntentQuery {
		return "query"
	}
	return "store"
}

// embeddingsAPI is the part of the OpenAI client the Embedder calls.
type embeddingsAPI interface {
	New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// Config configures an Embedder.
type Config struct {
	Model      string // Model for IntentStore
	QueryModel string // Model for IntentQuery, Model when empty
	Dimension  int    // Requested and enforced output size
	BatchSize  int
}

// Embedder generates embeddings through the OpenAI API.
// It batches requests for efficiency and implements exponential backoff on rate limit errors.
type Embedder struct {
	api        embeddingsAPI
	model      string
	queryModel string
	dimension  int
	batchSize  int
	maxElapsed time.Duration
}

// NewEmbedder creates an Embedder using client.
func NewEmbedder(client *Client, cfg Config) *Embedder {
	return newEmbedder(&client.client.Embeddings, cfg)
}

func newEmbedder(api embeddingsAPI, cfg Config) *Embedder {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.QueryModel == "" {
		cfg.QueryModel = cfg.Model
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = storage.DefaultVectorDimension
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Embedder{
		api:        api,
		model:      cfg.Model,
		queryModel: cfg.QueryModel,
		dimension:  cfg.Dimension,
		batchSize:  cfg.BatchSize,
		maxElapsed: 30 * time.Second,
	}
}

// Dimension returns the vector size every returned embedding has.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// Embed returns the embedding of a single text.
func (e *Embedder) Embed(ctx context.Context, text string, intent Intent) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text}, intent)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one embedding per text, in input order.
// Batches requests and retries with exponential backoff on rate limit errors.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, intent Intent) ([][]float32, error) {
	model := e.model
	if intent == IntentQuery {
		model = e.queryModel
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))

		embeddings, err := e.embedBatchWithRetry(ctx, model, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		all = append(all, embeddings...)
	}

	return all, nil
}

// embedBatchWithRetry generates embeddings for a single batch with retry logic.
// Retries with exponential backoff on rate limit errors (HTTP 429).
// Other errors are treated as permanent and fail immediately.
func (e *Embedder) embedBatchWithRetry(ctx context.Context, model string, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	operation := func() error {
		resp, err := e.api.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model:      openai.EmbeddingModel(model),
			Dimensions: openai.Int(int64(e.dimension)),
		})
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		if len(resp.Data) != len(texts) {
			return backoff.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
		}

		// Data is not guaranteed to be in request order
		embeddings = make([][]float32, len(texts))
		for _, data := range resp.Data {
			if data.Index < 0 || int(data.Index) >= len(texts) {
				return backoff.Permanent(fmt.Errorf("embedding index %d out of range", data.Index))
			}
			if len(data.Embedding) != e.dimension {
				return backoff.Permanent(fmt.Errorf("%w: model %s returned %d dimensions, expected %d",
					storage.ErrDimensionMismatch, model, len(data.Embedding), e.dimension))
			}
			embeddings[data.Index] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = e.maxElapsed

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	return embeddings, err
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 converts []float64 to []float32.
// OpenAI API returns float64, but storage uses float32 for memory efficiency.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
