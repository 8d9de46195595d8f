package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	batchSize       prometheus.Histogram
	flushLatency    prometheus.Histogram
	itemFailures    *prometheus.CounterVec
	itemsTimedOut   prometheus.Counter
	persistFailures prometheus.Counter
	transitions     *prometheus.CounterVec
)

func newCollectors() (prometheus.Histogram, prometheus.Histogram, *prometheus.CounterVec, prometheus.Counter, prometheus.Counter, *prometheus.CounterVec) {
	size := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_batch_size",
			Help:    "Number of location updates per flushed batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
	lat := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_flush_duration_seconds",
			Help:    "Duration of a batch flush",
			Buckets: prometheus.DefBuckets,
		},
	)
	fail := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_item_failures_total",
			Help: "Number of location updates whose geofence check failed",
		},
		[]string{"reason"},
	)
	timeout := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_items_timed_out_total",
			Help: "Number of location updates abandoned after the item timeout",
		},
	)
	persist := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_persist_failures_total",
			Help: "Number of failed bulk persist calls",
		},
	)
	tr := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_transitions_total",
			Help: "Geofence transitions by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
	return size, lat, fail, timeout, persist, tr
}

func init() {
	batchSize, flushLatency, itemFailures, itemsTimedOut, persistFailures, transitions = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers pipeline metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(batchSize, flushLatency, itemFailures, itemsTimedOut, persistFailures, transitions)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	batchSize, flushLatency, itemFailures, itemsTimedOut, persistFailures, transitions = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
