package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the KYC lifecycle. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Records accepted by Submit
	Submissions prometheus.Counter

	// Admin decisions by outcome (VERIFIED, REJECTED)
	Decisions *prometheus.CounterVec

	// Failed operations by operation and error code
	TransitionFailures *prometheus.CounterVec

	// Verification lookups by outcome: valid, invalid, not_found
	Verifications *prometheus.CounterVec

	// Records raised to a higher level by reconciliation
	LevelRaises *prometheus.CounterVec

	BulkSize prometheus.Histogram

	OperationLatency *prometheus.HistogramVec
}

// New registers the KYC metrics with reg. Passing prometheus.DefaultRegisterer
// exposes them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submissions: f.NewCounter(prometheus.CounterOpts{
			Name: "kycvault_submissions_total",
			Help: "Total KYC records submitted",
		}),

		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycvault_decisions_total",
			Help: "Total admin decisions by outcome",
		}, []string{"decision"}),

		TransitionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycvault_operation_failures_total",
			Help: "Failed lifecycle operations by operation and error code",
		}, []string{"operation", "code"}),

		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycvault_verifications_total",
			Help: "Verification lookups by outcome",
		}, []string{"outcome"}),

		LevelRaises: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycvault_level_raises_total",
			Help: "Verification level raises by target level",
		}, []string{"level"}),

		BulkSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kycvault_bulk_decision_size",
			Help:    "Number of records per bulk decision",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),

		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kycvault_operation_duration_seconds",
			Help:    "Duration of lifecycle operations including ledger calls",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncrementSubmissions() {
	if m != nil {
		m.Submissions.Inc()
	}
}

func (m *Metrics) IncrementDecision(decision string) {
	if m != nil {
		m.Decisions.WithLabelValues(decision).Inc()
	}
}

// IncrementFailure records a failed operation by its error code.
func (m *Metrics) IncrementFailure(operation, code string) {
	if m != nil {
		m.TransitionFailures.WithLabelValues(operation, code).Inc()
	}
}

func (m *Metrics) IncrementVerification(outcome string) {
	if m != nil {
		m.Verifications.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncrementLevelRaise(level string) {
	if m != nil {
		m.LevelRaises.WithLabelValues(level).Inc()
	}
}

func (m *Metrics) ObserveBulkSize(n int) {
	if m != nil {
		m.BulkSize.Observe(float64(n))
	}
}

func (m *Metrics) ObserveLatency(operation string, d time.Duration) {
	if m != nil {
		m.OperationLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}
