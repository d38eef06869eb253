// Package metrics holds the Prometheus collectors for the guard service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "safeframe"

// Metrics groups every collector. Create one per process with New.
type Metrics struct {
	// Decisions counts before-tool-call outcomes.
	// Labels: stage (pass, constraint, assessment), action, shadow
	Decisions *prometheus.CounterVec

	// AssessLatency measures full pipeline runs.
	AssessLatency prometheus.Histogram

	// FailOpen counts assessments that faulted and defaulted to proceed.
	FailOpen prometheus.Counter

	// Consequences counts predicted consequences.
	// Labels: type, severity
	Consequences *prometheus.CounterVec

	// ConstraintEvents counts ledger activity.
	// Labels: event (added, violated, appealed, appeal_approved, appeal_rejected, removed, cleared)
	ConstraintEvents *prometheus.CounterVec

	// PasswordFailures counts wrong override secrets.
	PasswordFailures prometheus.Counter

	// BackendCalls counts analysis backend calls.
	// Labels: op, outcome (ok, cache_hit, error, unavailable)
	BackendCalls *prometheus.CounterVec

	// BackendLatency measures analysis backend calls.
	// Labels: op
	BackendLatency *prometheus.HistogramVec

	// HTTPRequests counts API requests.
	// Labels: method, status
	HTTPRequests *prometheus.CounterVec
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Before-tool-call outcomes by stage and action",
		}, []string{"stage", "action", "shadow"}),

		AssessLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assess_duration_seconds",
			Help:      "Safety assessment pipeline latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		FailOpen: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fail_open_total",
			Help:      "Assessments that faulted and let the tool call through",
		}),

		Consequences: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consequences_total",
			Help:      "Predicted consequences by type and severity",
		}, []string{"type", "severity"}),

		ConstraintEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "constraint",
			Name:      "events_total",
			Help:      "Constraint ledger events",
		}, []string{"event"}),

		PasswordFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_failures_total",
			Help:      "Rejected override secrets",
		}),

		BackendCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "calls_total",
			Help:      "Analysis backend calls by operation and outcome",
		}, []string{"op", "outcome"}),

		BackendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "duration_seconds",
			Help:      "Analysis backend call latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"op"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP API requests by method and status",
		}, []string{"method", "status"}),
	}
}

// ObserveBackend matches backend.Observer.
func (m *Metrics) ObserveBackend(op, outcome string, elapsed time.Duration) {
	m.BackendCalls.WithLabelValues(op, outcome).Inc()
	if outcome != "cache_hit" {
		m.BackendLatency.WithLabelValues(op).Observe(elapsed.Seconds())
	}
}

// RegisterSessionGauge exports the live session count.
func RegisterSessionGauge(reg prometheus.Registerer, count func() int) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Live sessions",
	}, func() float64 { return float64(count()) })
}
