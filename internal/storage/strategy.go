package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// strategy is one way of answering a query against Qdrant.
type strategy[T any] struct {
	name string
	run  func(context.Context) (T, error)
}

// firstSuccess tries strategies in order and returns the first result that comes back
// without an error. An empty result is a valid answer and stops the loop. When every
// strategy fails, the joined errors are returned.
func firstSuccess[T any](ctx context.Context, logger *slog.Logger, op string, strategies []strategy[T]) (T, error) {
	var errs []error
	for _, s := range strategies {
		result, err := s.run(ctx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			var zero T
			return zero, ctx.Err()
		}
		logger.Debug("Query strategy failed", "operation", op, "strategy", s.name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
	}

	var zero T
	return zero, errors.Join(errs...)
}
