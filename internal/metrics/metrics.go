// Package metrics holds the Prometheus instruments of the assignment engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every instrument. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Ledger transitions
	Transitions *prometheus.CounterVec
	// Failed assignment attempts by error kind
	AssignFailures *prometheus.CounterVec
	// Overall score of committed assignments
	AssignedScore *prometheus.HistogramVec
	// Optimistic commit conflicts surfaced after retries
	Conflicts *prometheus.CounterVec

	// Sweep outcomes
	SweepItems    *prometheus.CounterVec
	SweepDuration prometheus.Histogram

	// Feedback and statistics
	FeedbackTotal prometheus.Counter
	Recomputes    prometheus.Counter
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skillmatch_assignment_transitions_total",
				Help: "Assignment state transitions committed by the ledger",
			},
			[]string{"transition", "strategy"}, // transition: assigned, reassigned, completed, cancelled
		),
		AssignFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skillmatch_assignment_failures_total",
				Help: "Rejected ledger operations by error kind",
			},
			[]string{"operation", "kind"},
		),
		AssignedScore: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skillmatch_assigned_overall_score",
				Help:    "Overall score of the agent chosen for each assignment",
				Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
			[]string{"strategy"},
		),
		Conflicts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skillmatch_concurrency_conflicts_total",
				Help: "Operations that gave up after repeated version conflicts",
			},
			[]string{"operation"},
		),
		SweepItems: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skillmatch_sweep_items_total",
				Help: "Work items processed by batch sweeps",
			},
			[]string{"outcome"}, // outcome: assigned, no_eligible_agent, failed
		),
		SweepDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "skillmatch_sweep_duration_seconds",
				Help:    "Wall time of one batch sweep",
				Buckets: prometheus.DefBuckets,
			},
		),
		FeedbackTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "skillmatch_feedback_total",
			Help: "Feedback records accepted",
		}),
		Recomputes: f.NewCounter(prometheus.CounterOpts{
			Name: "skillmatch_statistics_recomputes_total",
			Help: "Per-agent statistics recomputations",
		}),
	}
}

// Transition counts a committed state transition.
func (m *Metrics) Transition(transition, strategy string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(transition, strategy).Inc()
}

// Assigned records the score of a new assignment.
func (m *Metrics) Assigned(strategy string, score float64) {
	if m == nil {
		return
	}
	m.AssignedScore.WithLabelValues(strategy).Observe(score)
}

// Failure counts a rejected operation.
func (m *Metrics) Failure(operation, kind string) {
	if m == nil {
		return
	}
	m.AssignFailures.WithLabelValues(operation, kind).Inc()
	if kind == "concurrency_conflict" {
		m.Conflicts.WithLabelValues(operation).Inc()
	}
}

// Sweep records one finished sweep.
func (m *Metrics) Sweep(seconds float64, assigned, noEligible, failed int) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(seconds)
	m.SweepItems.WithLabelValues("assigned").Add(float64(assigned))
	m.SweepItems.WithLabelValues("no_eligible_agent").Add(float64(noEligible))
	m.SweepItems.WithLabelValues("failed").Add(float64(failed))
}

// Feedback counts an accepted feedback record.
func (m *Metrics) Feedback() {
	if m == nil {
		return
	}
	m.FeedbackTotal.Inc()
}

// Recompute counts a statistics recomputation.
func (m *Metrics) Recompute() {
	if m == nil {
		return
	}
	m.Recomputes.Inc()
}
