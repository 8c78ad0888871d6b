package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	kychandler "kycvault/internal/kyc/handler"
	platformmetrics "kycvault/internal/platform/metrics"
	ratelimit "kycvault/internal/ratelimit/middleware"
	"kycvault/internal/verification"
	"kycvault/pkg/platform/httputil"
	"kycvault/pkg/platform/middleware/metadata"
	"kycvault/pkg/platform/middleware/request"
	"kycvault/pkg/platform/middleware/requesttime"
	"kycvault/pkg/platform/middleware/tracing"
)

const healthTimeout = 2 * time.Second

// HealthCheck reports on one dependency.
type HealthCheck func(ctx context.Context) error

// Deps are the handlers and middleware the router mounts.
type Deps struct {
	Logger       *slog.Logger
	KYC          *kychandler.Handler
	Verification *verification.Handler
	RateLimit    *ratelimit.Middleware
	HTTPMetrics  *platformmetrics.Metrics
	Gatherer     prometheus.Gatherer
	HealthChecks map[string]HealthCheck
}

// NewRouter wires the middleware chain and every public and admin route.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(tracing.Middleware("kycvault"))
	r.Use(request.Logger(d.Logger))
	r.Use(request.Recover(d.Logger))
	if d.HTTPMetrics != nil {
		r.Use(d.HTTPMetrics.Middleware)
	}
	r.Use(requesttime.Middleware)

	r.Get("/health", healthHandler(d.HealthChecks))
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	if d.KYC != nil {
		d.KYC.Register(r)
	}
	if d.Verification != nil {
		r.Group(func(r chi.Router) {
			if d.RateLimit != nil {
				r.Use(d.RateLimit.RateLimit)
			}
			d.Verification.Register(r)
		})
	}
	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		httputil.WriteJSON(w, status, map[string]any{"status": overall, "checks": results})
	}
}
