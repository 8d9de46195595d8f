package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/fleetpulse/core/metrics"
	"github.com/kilianp07/fleetpulse/core/model"
)

// PromSink records pipeline activity in Prometheus metrics.
type PromSink struct {
	batches   prometheus.Counter
	updates   prometheus.Counter
	breaches  *prometheus.CounterVec
	decisions *prometheus.CounterVec
	candidate prometheus.Histogram
}

// NewPromSink registers the sink metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered by an earlier sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_batches_total",
			Help: "Number of non-empty batches flushed",
		}),
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_location_updates_total",
			Help: "Number of location updates processed",
		}),
		breaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_breaches_total",
			Help: "Geofence breaches by kind and severity",
		}, []string{"kind", "severity"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_dispatch_decisions_total",
			Help: "Dispatch decisions by request kind and outcome",
		}, []string{"request_kind", "decision"}),
		candidate: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleet_dispatch_candidates",
			Help:    "Number of candidate vehicles per dispatch request",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
	}
	var err error
	if s.batches, err = register(reg, s.batches); err != nil {
		return nil, err
	}
	if s.updates, err = register(reg, s.updates); err != nil {
		return nil, err
	}
	if s.breaches, err = register(reg, s.breaches); err != nil {
		return nil, err
	}
	if s.decisions, err = register(reg, s.decisions); err != nil {
		return nil, err
	}
	if s.candidate, err = register(reg, s.candidate); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordBatch counts the batch and its updates.
func (s *PromSink) RecordBatch(st coremetrics.BatchStats) error {
	if st.Size == 0 {
		return nil
	}
	s.batches.Inc()
	s.updates.Add(float64(st.Size))
	return nil
}

// RecordBreach counts a breach.
func (s *PromSink) RecordBreach(ev model.BreachEvent) error {
	s.breaches.WithLabelValues(ev.Kind.String(), string(ev.Severity)).Inc()
	return nil
}

// RecordDecision counts a decision.
func (s *PromSink) RecordDecision(ev coremetrics.DecisionEvent) error {
	s.decisions.WithLabelValues(ev.RequestKind, ev.Decision.Kind).Inc()
	s.candidate.Observe(float64(ev.Candidates))
	return nil
}
