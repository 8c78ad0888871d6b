package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Denied        prometheus.Counter
	LimiterErrors prometheus.Counter
	Degraded      prometheus.Counter
	CircuitOpen   prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Denied: factory.NewCounter(prometheus.CounterOpts{
			Name: "kycvault_ratelimit_denied_total",
			Help: "Total number of requests rejected by the rate limiter",
		}),
		LimiterErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "kycvault_ratelimit_store_errors_total",
			Help: "Total number of failed checks against the primary rate limit store",
		}),
		Degraded: factory.NewCounter(prometheus.CounterOpts{
			Name: "kycvault_ratelimit_degraded_checks_total",
			Help: "Total number of checks answered by the in-memory fallback",
		}),
		CircuitOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kycvault_ratelimit_circuit_open",
			Help: "1 while the primary rate limit store circuit is open",
		}),
	}
}

func (m *Metrics) IncrementDenied() {
	if m == nil {
		return
	}
	m.Denied.Inc()
}

func (m *Metrics) IncrementLimiterErrors() {
	if m == nil {
		return
	}
	m.LimiterErrors.Inc()
}

func (m *Metrics) IncrementDegraded() {
	if m == nil {
		return
	}
	m.Degraded.Inc()
}

func (m *Metrics) SetCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitOpen.Set(1)
		return
	}
	m.CircuitOpen.Set(0)
}
