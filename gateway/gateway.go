package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/blueprint/ai"
	"github.com/poiesic/blueprint/core"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultConcurrency     = 4
	DefaultTimeout         = 120 * time.Second
	DefaultDimension       = 768
	DefaultRetryAttempts   = 2
	DefaultRetryDelay      = 500 * time.Millisecond
	DefaultExtractAttempts = 2
)

// Gateway is the single path from the pipeline to AI providers.
// It is safe for concurrent use; one Gateway should be shared per process
// so its concurrency ceiling applies to every job.
type Gateway struct {
	embedder  ai.Embedder
	generator ai.Generator

	sem             *semaphore.Weighted
	concurrency     int
	timeout         time.Duration
	dimension       int
	retryAttempts   int
	retryDelay      time.Duration
	extractAttempts int
	logger          *slog.Logger

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

// Option configures a Gateway.
type Option func(*Gateway) error

// WithConcurrency sets the maximum number of in-flight provider calls.
func WithConcurrency(n int) Option {
	return func(g *Gateway) error {
		if n <= 0 {
			return fmt.Errorf("%w: concurrency must be positive", ErrInvalidOption)
		}
		g.concurrency = n
		return nil
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) error {
		if d <= 0 {
			return fmt.Errorf("%w: timeout must be positive", ErrInvalidOption)
		}
		g.timeout = d
		return nil
	}
}

// WithDimension sets the embedding dimension every vector must have.
func WithDimension(d int) Option {
	return func(g *Gateway) error {
		if d <= 0 {
			return fmt.Errorf("%w: dimension must be positive", ErrInvalidOption)
		}
		g.dimension = d
		return nil
	}
}

// WithRetry sets the in-call retry budget for transient provider errors.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(g *Gateway) error {
		if attempts <= 0 || baseDelay < 0 {
			return fmt.Errorf("%w: retry attempts must be positive", ErrInvalidOption)
		}
		g.retryAttempts = attempts
		g.retryDelay = baseDelay
		return nil
	}
}

// WithExtractAttempts sets how many times Extract asks again after
// output that fails schema validation.
func WithExtractAttempts(n int) Option {
	return func(g *Gateway) error {
		if n <= 0 {
			return fmt.Errorf("%w: extract attempts must be positive", ErrInvalidOption)
		}
		g.extractAttempts = n
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// New creates a Gateway over the provider's embedder and generator.
func New(provider ai.Provider, opts ...Option) (*Gateway, error) {
	if provider == nil {
		return nil, ErrProviderRequired
	}

	g := &Gateway{
		embedder:        provider.Embedder(),
		generator:       provider.Generator(),
		concurrency:     DefaultConcurrency,
		timeout:         DefaultTimeout,
		dimension:       DefaultDimension,
		retryAttempts:   DefaultRetryAttempts,
		retryDelay:      DefaultRetryDelay,
		extractAttempts: DefaultExtractAttempts,
		logger:          slog.Default().With("component", "gateway"),
		schemas:         make(map[string]*jsonschema.Schema),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	g.sem = semaphore.NewWeighted(int64(g.concurrency))
	return g, nil
}

// Dimension returns the embedding dimension enforced by Embed.
func (g *Gateway) Dimension() int {
	return g.dimension
}

// Embed returns the L2-normalized embedding of text.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrFatalInput, core.ErrEmptyContent)
	}

	var vec []float32
	err := RetryWithBackoff(ctx, func() error {
		return g.call(ctx, "embed", func(cctx context.Context) error {
			v, err := g.embedder.EmbedText(cctx, text)
			if err != nil {
				return err
			}
			vec = v
			return nil
		})
	}, g.retryAttempts, g.retryDelay)
	if err != nil {
		return nil, err
	}

	if len(vec) != g.dimension {
		return nil, fmt.Errorf("%w: %w: got %d, want %d", core.ErrConsistency, ErrDimensionMismatch, len(vec), g.dimension)
	}
	if !finite(vec) {
		return nil, fmt.Errorf("%w: embedding contains NaN or Inf", core.ErrConsistency)
	}
	return NormalizeVector(vec), nil
}

// call runs fn under the concurrency ceiling and the per-call timeout,
// and classifies any error it returns.
func (g *Gateway) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return cancelled(err)
	}
	defer g.sem.Release(1)

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	err := fn(cctx)
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return cancelled(ctx.Err())
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		g.logger.Warn("provider call timed out", "op", op, "timeout", g.timeout)
		return transient(fmt.Errorf("%s timed out after %s: %w", op, time.Since(start).Round(time.Millisecond), err))
	}

	classified := Classify(err)
	g.logger.Debug("provider call failed", "op", op, "err", classified)
	return classified
}
