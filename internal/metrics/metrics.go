// Package metrics exposes allocator counters to Prometheus. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kelaseh"

type Metrics struct {
	issued     *prometheus.CounterVec
	attempts   prometheus.Histogram
	duration   prometheus.Histogram
	lostRaces  prometheus.Counter
	collisions prometheus.Counter
	pruned     prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "case_issue_total",
			Help:      "IssueCase calls by outcome.",
		}, []string{"outcome"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "case_issue_attempts",
			Help:      "Reservation attempts used per IssueCase call.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8},
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "case_issue_duration_seconds",
			Help:      "IssueCase latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		lostRaces: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capacity_lost_races_total",
			Help:      "Conditional increments refused after the branch was selected.",
		}),
		collisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "case_code_collisions_total",
			Help:      "Minted case codes that were already taken.",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_counters_pruned_total",
			Help:      "Daily usage counters removed by the retention job.",
		}),
	}
	reg.MustRegister(m.issued, m.attempts, m.duration, m.lostRaces, m.collisions, m.pruned)
	return m
}

func (m *Metrics) ObserveIssue(outcome string, attempts int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(outcome).Inc()
	if attempts > 0 {
		m.attempts.Observe(float64(attempts))
	}
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) LostRace() {
	if m == nil {
		return
	}
	m.lostRaces.Inc()
}

func (m *Metrics) MintCollision() {
	if m == nil {
		return
	}
	m.collisions.Inc()
}

func (m *Metrics) Pruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.pruned.Add(float64(n))
}
