package embed

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	engerrors "github.com/engramhq/engram/internal/errors"
)

// ResilientProvider wraps a Provider with bounded retry, a circuit breaker,
// and optional rate limiting on provider calls. Write paths see a fast
// UNAVAILABLE when the breaker is open instead of piling up timeouts.
type ResilientProvider struct {
	inner      Provider
	maxRetries int
	baseDelay  time.Duration
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	logger     *slog.Logger
}

var _ Provider = (*ResilientProvider)(nil)

// ResilientConfig tunes the resilience wrapper.
type ResilientConfig struct {
	// MaxRetries bounds attempts per call (total attempts = MaxRetries + 1).
	MaxRetries int
	// BaseDelay is the first backoff step; doubles per retry.
	BaseDelay time.Duration
	// RequestsPerSecond throttles provider calls. 0 disables throttling.
	RequestsPerSecond float64
}

// NewResilientProvider wraps inner with retry, breaker, and limiter.
func NewResilientProvider(inner Provider, cfg ResilientConfig, logger *slog.Logger) *ResilientProvider {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding-provider",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("embedding breaker state change",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &ResilientProvider{
		inner:      inner,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		breaker:    breaker,
		limiter:    limiter,
		logger:     logger,
	}
}

// EmbedDocument embeds with retry and breaker protection.
func (r *ResilientProvider) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return r.call(ctx, func(ctx context.Context) ([]float32, error) {
		return r.inner.EmbedDocument(ctx, text)
	})
}

// EmbedQuery embeds with retry and breaker protection.
func (r *ResilientProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return r.call(ctx, func(ctx context.Context) ([]float32, error) {
		return r.inner.EmbedQuery(ctx, text)
	})
}

func (r *ResilientProvider) call(ctx context.Context, fn func(context.Context) ([]float32, error)) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := r.baseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, engerrors.Wrap(engerrors.CodeUnavailable, ctx.Err())
			case <-time.After(delay):
			}
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, engerrors.Wrap(engerrors.CodeUnavailable, err)
			}
		}

		result, err := r.breaker.Execute(func() (any, error) {
			return fn(ctx)
		})
		if err == nil {
			return result.([]float32), nil
		}
		lastErr = err

		if engerrors.Is(err, gobreaker.ErrOpenState) || engerrors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, engerrors.Wrap(engerrors.CodeUnavailable, err).
				WithRecovery("the embedding provider is failing; wait for the breaker to close",
					"retry after 30 seconds")
		}
		if !engerrors.IsRetryable(err) && engerrors.Code(err) != engerrors.CodeInternal {
			// Permanent failures (dimension mismatch, bad request) don't retry.
			return nil, err
		}
		r.logger.Debug("embedding attempt failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}
	return nil, engerrors.Wrap(engerrors.CodeEmbeddingFailed, lastErr).
		WithRecovery("the provider kept failing after retries",
			"check provider logs", "retry the operation")
}

// Profile passes through to the inner provider.
func (r *ResilientProvider) Profile() Profile { return r.inner.Profile() }

// Ready passes through to the inner provider.
func (r *ResilientProvider) Ready(ctx context.Context) bool { return r.inner.Ready(ctx) }

// AwaitReady passes through to the inner provider.
func (r *ResilientProvider) AwaitReady(ctx context.Context) error { return r.inner.AwaitReady(ctx) }

// Close closes the inner provider.
func (r *ResilientProvider) Close() error { return r.inner.Close() }
