package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeAuthorized = "authorized"
	OutcomeDenied     = "denied"
	OutcomeError      = "error"
)

// Metrics holds the Prometheus collectors for the API gate.
type Metrics struct {
	decisions    *prometheus.CounterVec
	gateDuration prometheus.Histogram
	logFailures  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiaccess_gate_decisions_total",
				Help: "Total number of gate decisions by outcome",
			},
			[]string{"outcome"},
		),
		gateDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "apiaccess_gate_duration_seconds",
				Help:    "Time spent deciding whether to authorize a request",
				Buckets: prometheus.DefBuckets,
			},
		),
		logFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "apiaccess_audit_log_failures_total",
				Help: "Total number of audit log entries that failed to persist",
			},
		),
	}
}

func (m *Metrics) ObserveDecision(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
	m.gateDuration.Observe(duration.Seconds())
}

func (m *Metrics) ObserveLogFailure() {
	if m == nil {
		return
	}
	m.logFailures.Inc()
}
