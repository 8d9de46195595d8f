package broadcast

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsPublished *prometheus.CounterVec
	relayFailures   *prometheus.CounterVec
	relayDropped    prometheus.Counter
)

func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, prometheus.Counter) {
	pub := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_events_published_total",
			Help: "Number of events published by type",
		},
		[]string{"type"},
	)
	fail := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_relay_failures_total",
			Help: "Number of failed relay deliveries",
		},
		[]string{"relay"},
	)
	drop := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_relay_dropped_total",
			Help: "Number of events dropped because the relay queue was full",
		},
	)
	return pub, fail, drop
}

func init() {
	eventsPublished, relayFailures, relayDropped = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers broadcast metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(eventsPublished, relayFailures, relayDropped)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	eventsPublished, relayFailures, relayDropped = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
