package assignment

import "github.com/prometheus/client_golang/prometheus"

var (
	decisionsTotal     *prometheus.CounterVec
	assignmentScore    prometheus.Histogram
	sideEffectsDropped prometheus.Counter
)

func newCollectors() (*prometheus.CounterVec, prometheus.Histogram, prometheus.Counter) {
	dec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assignment_decisions_total",
			Help: "Dispatch decisions by request kind and outcome",
		},
		[]string{"request_kind", "decision"},
	)
	score := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assignment_score",
			Help:    "Score of assigned vehicles",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)
	drop := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assignment_side_effects_dropped_total",
			Help: "Decisions not audited or broadcast because the queue was full",
		},
	)
	return dec, score, drop
}

func init() {
	decisionsTotal, assignmentScore, sideEffectsDropped = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers assignment metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(decisionsTotal, assignmentScore, sideEffectsDropped)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	decisionsTotal, assignmentScore, sideEffectsDropped = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
