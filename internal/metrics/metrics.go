// Package metrics exposes Prometheus counters for the data layer.
//
// Collectors are registered on an injected Registerer so tests and
// embedded uses get private registries. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempt outcomes.
const (
	OutcomeApplied    = "applied"
	OutcomeGuarded    = "guarded"
	OutcomeConfirmed  = "confirmed"
	OutcomeRolledBack = "rolled_back"
	OutcomeDuplicate  = "duplicate"
)

// Metrics holds the collectors.
type Metrics struct {
	// attempts counts mutation attempts by action and outcome
	attempts *prometheus.CounterVec

	// fetches counts collection refreshes by kind and result
	fetches *prometheus.CounterVec

	// writeDuration tracks dispatch-to-completion latency per action
	writeDuration *prometheus.HistogramVec

	// inflight is the number of dispatched writes awaiting completion
	inflight prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civic_mutation_attempts_total",
			Help: "Optimistic mutation attempts by action and outcome",
		}, []string{"action", "outcome"}),
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civic_fetches_total",
			Help: "Collection refreshes by kind and result",
		}, []string{"kind", "result"}),
		writeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "civic_write_duration_seconds",
			Help:    "Time from dispatching a write to processing its completion",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"action"}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "civic_writes_inflight",
			Help: "Dispatched writes awaiting completion",
		}),
	}
}

// Attempt counts one attempt outcome.
func (m *Metrics) Attempt(action, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(action, outcome).Inc()
}

// Fetch counts one refresh of kind.
func (m *Metrics) Fetch(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fetches.WithLabelValues(kind, result).Inc()
}

// Dispatched marks a write as in flight.
func (m *Metrics) Dispatched() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

// Completed marks a write as resolved after d.
func (m *Metrics) Completed(action string, d time.Duration) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.writeDuration.WithLabelValues(action).Observe(d.Seconds())
}
