// Package audit keeps a queryable trail of dispatch decisions.
package audit

import (
	"context"
	"time"

	"github.com/kilianp07/fleetpulse/core/model"
)

// Record captures one dispatch request and its decision.
type Record struct {
	Timestamp   time.Time          `json:"timestamp"`
	RequestID   string             `json:"request_id"`
	RequestKind string             `json:"request_kind"`
	FleetID     string             `json:"fleet_id,omitempty"`
	Location    model.Point        `json:"location"`
	Decision    model.DecisionView `json:"decision"`
}

// Query defines filters for retrieving records. Zero fields match everything.
type Query struct {
	Start     time.Time
	End       time.Time
	RequestID string
	VehicleID string
	FleetID   string
	// Kind filters on the decision kind (assigned, deferred, rejected).
	Kind  string
	Limit int
}

// Match reports whether r passes every filter of q except Limit.
func (q Query) Match(r Record) bool {
	switch {
	case !q.Start.IsZero() && r.Timestamp.Before(q.Start):
		return false
	case !q.End.IsZero() && r.Timestamp.After(q.End):
		return false
	case q.RequestID != "" && r.RequestID != q.RequestID:
		return false
	case q.FleetID != "" && r.FleetID != q.FleetID:
		return false
	case q.Kind != "" && r.Decision.Kind != q.Kind:
		return false
	case q.VehicleID != "" && !mentions(r.Decision, q.VehicleID):
		return false
	}
	return true
}

// mentions reports whether the decision assigned or proposed vehicleID.
func mentions(d model.DecisionView, vehicleID string) bool {
	if d.VehicleID == vehicleID {
		return true
	}
	for _, id := range d.Alternatives {
		if id == vehicleID {
			return true
		}
	}
	return false
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}
