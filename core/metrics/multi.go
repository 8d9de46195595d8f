package metrics

import (
	"errors"

	"github.com/kilianp07/fleetpulse/core/model"
)

// MultiSink fans records out to multiple sinks. Every sink is called even
// when an earlier one fails; the errors are joined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordBatch forwards the statistics to all sinks.
func (m *MultiSink) RecordBatch(stats BatchStats) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordBatch(stats); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordBreach forwards breaches to the sinks supporting them.
func (m *MultiSink) RecordBreach(ev model.BreachEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(BreachRecorder); ok {
			if err := rec.RecordBreach(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RecordDecision forwards decisions to the sinks supporting them.
func (m *MultiSink) RecordDecision(ev DecisionEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(DecisionRecorder); ok {
			if err := rec.RecordDecision(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
