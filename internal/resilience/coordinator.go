// Package resilience routes calls between a primary backend and an in-process fallback.
//
// Once the primary fails, the Coordinator marks it degraded and every later call goes
// straight to the fallback. Nothing re-probes the primary in the background; recovery
// happens only through an explicit successful Probe.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Policy decides how far a single primary failure spreads.
type Policy int

const (
	// GlobalDegrade routes every operation to the fallback after any failure.
	GlobalDegrade Policy = iota
	// PerOperationDegrade routes only the failing operation name to the fallback.
	PerOperationDegrade
)

// ParsePolicy maps "global" and "per-operation" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "global":
		return GlobalDegrade, nil
	case "per-operation":
		return PerOperationDegrade, nil
	default:
		return GlobalDegrade, fmt.Errorf("unknown degrade policy %q", s)
	}
}

func (p Policy) String() string {
	if p == PerOperationDegrade {
		return "per-operation"
	}
	return "global"
}

// Coordinator tracks primary health and suppresses duplicate failure warnings.
//
// Coordinator is safe for concurrent use. Under simultaneous first failures more than
// one warning may still be logged for the same operation.
type Coordinator struct {
	policy      Policy
	passthrough []error
	logger      *slog.Logger

	degraded atomic.Bool

	mu          sync.Mutex
	degradedOps map[string]struct{}
	warned      map[string]struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPolicy sets the degrade policy. The default is GlobalDegrade.
func WithPolicy(p Policy) Option {
	return func(c *Coordinator) { c.policy = p }
}

// WithPassthrough lists errors that are returned to the caller instead of triggering
// the fallback, such as configuration errors the fallback cannot fix either.
func WithPassthrough(errs ...error) Option {
	return func(c *Coordinator) { c.passthrough = append(c.passthrough, errs...) }
}

// NewCoordinator creates a healthy Coordinator.
func NewCoordinator(logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		logger:      logger,
		degradedOps: make(map[string]struct{}),
		warned:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	degradedGauge.Set(0)
	return c
}

// Policy returns the configured degrade policy.
func (c *Coordinator) Policy() Policy {
	return c.policy
}

// IsDegraded reports whether any primary failure has been observed since the last
// successful Probe.
func (c *Coordinator) IsDegraded() bool {
	return c.degraded.Load()
}

// DegradedFor reports whether calls named op must skip the primary.
func (c *Coordinator) DegradedFor(op string) bool {
	if !c.degraded.Load() {
		return false
	}
	if c.policy == GlobalDegrade {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.degradedOps[op]
	return ok
}

// ResetWarning lets the next failure of op be logged again.
func (c *Coordinator) ResetWarning(op string) {
	c.mu.Lock()
	delete(c.warned, op)
	c.mu.Unlock()
}

// Execute runs primary unless forceFallback is set or op is already degraded, in which
// case fallback runs without touching the primary. A primary error degrades the
// Coordinator, logs once per op, and is answered by fallback. Pass-through errors and
// caller cancellation are returned as-is.
func Execute[T any](
	ctx context.Context,
	c *Coordinator,
	op string,
	fallback func(context.Context) (T, error),
	primary func(context.Context) (T, error),
	forceFallback bool,
) (T, error) {
	if forceFallback || c.DegradedFor(op) {
		fallbackCalls.WithLabelValues(op).Inc()
		return fallback(ctx)
	}

	result, err := primary(ctx)
	if err == nil {
		return result, nil
	}
	if c.propagates(ctx, err) {
		var zero T
		return zero, err
	}

	c.markDegraded(op, err)
	fallbackCalls.WithLabelValues(op).Inc()
	return fallback(ctx)
}

// Probe always attempts fn, even while degraded. Success clears every degraded flag and
// resets the warning for op. Failure degrades like Execute and returns nil, except for
// pass-through errors and cancellation.
func (c *Coordinator) Probe(ctx context.Context, op string, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil {
		c.markRecovered(op)
		return nil
	}
	if c.propagates(ctx, err) {
		return err
	}
	c.markDegraded(op, err)
	return nil
}

func (c *Coordinator) propagates(ctx context.Context, err error) bool {
	// A caller that gave up says nothing about the primary's health.
	if ctx.Err() != nil {
		return true
	}
	for _, target := range c.passthrough {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (c *Coordinator) markDegraded(op string, err error) {
	primaryFailures.WithLabelValues(op).Inc()

	c.mu.Lock()
	c.degradedOps[op] = struct{}{}
	_, warned := c.warned[op]
	c.warned[op] = struct{}{}
	c.mu.Unlock()

	c.degraded.Store(true)
	degradedGauge.Set(1)

	if !warned {
		c.logger.Warn("Primary store failed, using in-memory fallback",
			"operation", op,
			"policy", c.policy.String(),
			"error", err,
		)
	}
}

func (c *Coordinator) markRecovered(op string) {
	c.mu.Lock()
	wasDegraded := len(c.degradedOps) > 0
	c.degradedOps = make(map[string]struct{})
	delete(c.warned, op)
	c.mu.Unlock()

	c.degraded.Store(false)
	degradedGauge.Set(0)

	if wasDegraded {
		c.logger.Info("Primary store recovered", "operation", op)
	}
}
