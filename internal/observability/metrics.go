package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"actionguard/internal/core"
)

// Metrics is the live counter surface, distinct from the audit log's
// on-demand fold: these counters are cumulative for the process lifetime
// and survive audit-ring eviction. They are registered with a Prometheus
// registry for scraping via /metrics.
type Metrics struct {
	actionsTotal  *prometheus.CounterVec
	riskScore     prometheus.Histogram
	duration      prometheus.Histogram
	costTotal     prometheus.Counter
	rollbacks     prometheus.Counter
	rollbackFails prometheus.Counter

	mu       sync.Mutex
	counters Counters
	registry *prometheus.Registry
}

// NewMetrics creates the collector and registers it on the given
// registry (a fresh one when nil).
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "actionguard",
			Name:      "actions_total",
			Help:      "Guarded actions evaluated, by verdict.",
		}, []string{"verdict"}),
		riskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "actionguard",
			Name:      "risk_score",
			Help:      "Risk score distribution of evaluated actions.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "actionguard",
			Name:      "action_duration_ms",
			Help:      "Guarded operation duration in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		costTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "actionguard",
			Name:      "cost_total",
			Help:      "Cumulative estimated cost of executed actions.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "actionguard",
			Name:      "rollbacks_total",
			Help:      "Successful rollbacks.",
		}),
		rollbackFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "actionguard",
			Name:      "rollback_failures_total",
			Help:      "Failed rollback attempts.",
		}),
		registry: registry,
	}

	registry.MustRegister(m.actionsTotal, m.riskScore, m.duration, m.costTotal, m.rollbacks, m.rollbackFails)
	return m
}

// Registry returns the Prometheus registry holding the collectors, for
// mounting a scrape handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordAction tallies one evaluated action.
func (m *Metrics) RecordAction(verdict core.Verdict, riskScore float64, durationMs int64) {
	m.actionsTotal.WithLabelValues(string(verdict)).Inc()
	m.riskScore.Observe(riskScore)
	m.duration.Observe(float64(durationMs))
}

// AddCost accumulates executed-action cost.
func (m *Metrics) AddCost(cost float64) {
	if cost <= 0 {
		return
	}
	m.costTotal.Add(cost)
	m.mu.Lock()
	m.counters.TotalCost += cost
	m.mu.Unlock()
}

// RecordRollback tallies a rollback attempt.
func (m *Metrics) RecordRollback(success bool) {
	m.mu.Lock()
	if success {
		m.counters.Rollbacks++
	} else {
		m.counters.RollbackFailures++
	}
	m.mu.Unlock()

	if success {
		m.rollbacks.Inc()
	} else {
		m.rollbackFails.Inc()
	}
}

// Counters returns the cumulative counters for the audit log's metrics
// fold.
func (m *Metrics) Counters() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}
