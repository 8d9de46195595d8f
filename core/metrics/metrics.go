package metrics

import (
	"time"

	"github.com/kilianp07/fleetpulse/core/model"
)

// BatchStats summarises one flush of the batch processor.
type BatchStats struct {
	Size      int
	Persisted bool
	Failed    int
	TimedOut  int
	Entries   int
	Exits     int
	Dwells    int
	Speeding  int
	// Suppressed counts transitions rejected by hysteresis.
	Suppressed int
	Duration   time.Duration
	Time       time.Time
}

// MetricsSink records batch statistics for observability purposes.
type MetricsSink interface {
	RecordBatch(stats BatchStats) error
}

// BreachRecorder records accepted geofence breaches.
type BreachRecorder interface {
	RecordBreach(ev model.BreachEvent) error
}

// DecisionEvent captures the outcome of a dispatch request.
type DecisionEvent struct {
	RequestKind string
	FleetID     string
	Decision    model.DecisionView
	Candidates  int
	Time        time.Time
}

// DecisionRecorder records dispatch decisions.
type DecisionRecorder interface {
	RecordDecision(ev DecisionEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordBatch(BatchStats) error         { return nil }
func (NopSink) RecordBreach(model.BreachEvent) error { return nil }
func (NopSink) RecordDecision(DecisionEvent) error   { return nil }
