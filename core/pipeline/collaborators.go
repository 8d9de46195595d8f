package pipeline

import (
	"context"

	"github.com/kilianp07/fleetpulse/core/model"
)

// SpatialIndex returns the ids of the geofences containing a point.
type SpatialIndex interface {
	Containing(ctx context.Context, p model.Point) ([]string, error)
}

// VehicleAwareIndex is implemented by indexes that need the reporting vehicle,
// for instance to exclude the dynamic geofence centred on it.
type VehicleAwareIndex interface {
	ContainingFor(ctx context.Context, vehicleID string, p model.Point) ([]string, error)
}

// PositionObserver is implemented by indexes with geofences that move with a
// vehicle.
type PositionObserver interface {
	ObservePosition(vehicleID string, p model.Point)
}

// BulkPersister stores a batch of updates. Upsert must be idempotent and keep
// the last update per vehicle.
type BulkPersister interface {
	Upsert(ctx context.Context, updates []model.LocationUpdate) error
}

// GeofenceSource resolves geofence definitions.
type GeofenceSource interface {
	Get(id string) (model.Geofence, bool)
	Predictive(fleetID string) []model.Geofence
}

// ConditionEvaluator decides whether a vehicle inside a geofence breaches it.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, snap model.VehicleSnapshot, g model.Geofence) (bool, error)
}

// VehicleStateSource supplies vehicle attributes an update did not carry,
// such as the vehicle type or battery level.
type VehicleStateSource interface {
	Vehicle(ctx context.Context, vehicleID string) (model.VehicleCandidate, bool, error)
}
