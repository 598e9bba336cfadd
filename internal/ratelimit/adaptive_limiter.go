package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rateLimitChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_checks_total",
		Help: "Total number of rate limit checks by backend and result.",
	}, []string{"backend", "result"})

	rateLimitBackendErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_backend_errors_total",
		Help: "Total number of primary backend errors encountered by the limiter.",
	})
)

// AdaptiveLimiter delegates to a primary (Redis) limiter and falls back to
// a stricter in-memory limiter when the primary fails.
type AdaptiveLimiter struct {
	primary  Limiter
	fallback Limiter
	log      *slog.Logger
}

// NewAdaptiveLimiter creates a limiter that adapts between Redis and in-memory backends. A nil primary uses the fallback directly.
func NewAdaptiveLimiter(primary, fallback Limiter, log *slog.Logger) *AdaptiveLimiter {
	if log == nil {
		log = slog.Default()
	}

	return &AdaptiveLimiter{
		primary:  primary,
		fallback: fallback,
		log:      log,
	}
}

// Check evaluates the limit using the primary backend, falling back to memory on errors.
func (a *AdaptiveLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	if a.primary != nil {
		result, err := a.primary.Check(ctx, key, limit, window)
		if err == nil || errors.Is(err, ErrLimitExceeded) {
			return observe("redis", result)
		}

		rateLimitBackendErrorsTotal.Inc()
		a.log.Warn("redis limiter failed, falling back to in-memory", slog.String("key", key), slog.Any("error", err))

		limit /= 2
		if limit <= 0 {
			limit = 1
		}
	}

	result, err := a.fallback.Check(ctx, key, limit, window)
	if err != nil && !errors.Is(err, ErrLimitExceeded) {
		return result, err
	}

	return observe("memory", result)
}

func observe(backend string, result *Result) (*Result, error) {
	if result == nil || !result.Allowed {
		rateLimitChecksTotal.WithLabelValues(backend, "rejected").Inc()
		return result, ErrLimitExceeded
	}

	rateLimitChecksTotal.WithLabelValues(backend, "allowed").Inc()
	return result, nil
}
