package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"kycvault/internal/ratelimit/metrics"
	"kycvault/internal/ratelimit/models"
	dErrors "kycvault/pkg/domain-errors"
	"kycvault/pkg/platform/circuit"
	"kycvault/pkg/platform/httputil"
	"kycvault/pkg/requestcontext"
)

// Limiter is a keyed request budget. Both bucket stores implement it.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

// Middleware limits requests per client IP. While the primary store keeps failing
// the breaker routes checks to the fallback and responses carry
// X-RateLimit-Status: degraded.
type Middleware struct {
	primary  Limiter
	fallback Limiter
	breaker  *circuit.Breaker
	limit    models.Limit
	logger   *slog.Logger
	metrics  *metrics.Metrics
	disabled bool
}

type Option func(*Middleware)

// WithFallback sets the limiter used while the primary circuit is open.
func WithFallback(fallback Limiter) Option {
	return func(m *Middleware) {
		m.fallback = fallback
	}
}

// WithBreaker replaces the default breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(m *Middleware) {
		if b != nil {
			m.breaker = b
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

// WithDisabled disables rate limiting entirely (for testing/demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func New(primary Limiter, limit models.Limit, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		primary: primary,
		limit:   limit,
		logger:  logger,
		breaker: circuit.New("ratelimit"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit rejects callers that exhausted their budget with 429.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		ip := requestcontext.ClientIP(ctx)
		result, degraded, err := m.check(ctx, models.NewVerifyKey(ip))
		if err != nil {
			// No answer from either store: fail open.
			m.logger.ErrorContext(ctx, "failed to check rate limit",
				"error", err,
				"client_ip", ip,
				"request_id", requestcontext.RequestID(ctx),
			)
			next.ServeHTTP(w, r)
			return
		}

		if degraded {
			w.Header().Set("X-RateLimit-Status", "degraded")
		}
		addRateLimitHeaders(w, result)

		if !result.Allowed {
			m.metrics.IncrementDenied()
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, retry later"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) check(ctx context.Context, key string) (*models.Result, bool, error) {
	result, err := m.primary.Allow(ctx, key, m.limit.RequestsPerWindow, m.limit.Window)
	if err != nil {
		m.metrics.IncrementLimiterErrors()
		useFallback, change := m.breaker.RecordFailure()
		if change.Opened {
			m.metrics.SetCircuitOpen(true)
			m.logger.WarnContext(ctx, "rate limit store circuit opened", "error", err)
		}
		if !useFallback || m.fallback == nil {
			return nil, false, err
		}
		return m.fromFallback(ctx, key)
	}

	usePrimary, change := m.breaker.RecordSuccess()
	if change.Closed {
		m.metrics.SetCircuitOpen(false)
		m.logger.InfoContext(ctx, "rate limit store circuit closed")
	}
	if usePrimary || m.fallback == nil {
		return result, false, nil
	}
	return m.fromFallback(ctx, key)
}

func (m *Middleware) fromFallback(ctx context.Context, key string) (*models.Result, bool, error) {
	m.metrics.IncrementDegraded()
	result, err := m.fallback.Allow(ctx, key, m.limit.RequestsPerWindow, m.limit.Window)
	if err != nil {
		return nil, true, err
	}
	return result, true, nil
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
