package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Point is a WGS84 coordinate.
type Point struct {
	Lon float64 `json:"lon" yaml:"lon"`
	Lat float64 `json:"lat" yaml:"lat"`
}

// Valid reports whether the point lies within the WGS84 bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180 &&
		!math.IsNaN(p.Lat) && !math.IsNaN(p.Lon)
}

// LocationUpdate is a single position report sent by a vehicle. It is
// immutable once created and consumed exactly once by the batch processor.
type LocationUpdate struct {
	VehicleID string    `json:"vehicle_id"`
	FleetID   string    `json:"fleet_id,omitempty"`
	Position  Point     `json:"position"`
	Timestamp time.Time `json:"timestamp"`
	Speed     float64   `json:"speed"`    // km/h
	Heading   float64   `json:"heading"`  // degrees, [0,360)
	Accuracy  float64   `json:"accuracy"` // metres

	// Optional telemetry used by conditional geofences.
	BatteryLevel *float64 `json:"battery_level,omitempty"` // percent
	VehicleType  string   `json:"vehicle_type,omitempty"`
}

// ErrInvalidUpdate is wrapped by every validation failure of a LocationUpdate.
var ErrInvalidUpdate = errors.New("invalid location update")

// Validate checks the field ranges of the update.
func (u LocationUpdate) Validate() error {
	switch {
	case u.VehicleID == "":
		return fmt.Errorf("%w: vehicle_id is required", ErrInvalidUpdate)
	case !u.Position.Valid():
		return fmt.Errorf("%w: position %v out of range", ErrInvalidUpdate, u.Position)
	case u.Speed < 0 || math.IsNaN(u.Speed):
		return fmt.Errorf("%w: speed must be >= 0", ErrInvalidUpdate)
	case u.Heading < 0 || u.Heading >= 360 || math.IsNaN(u.Heading):
		return fmt.Errorf("%w: heading must be in [0,360)", ErrInvalidUpdate)
	case u.Accuracy < 0 || math.IsNaN(u.Accuracy):
		return fmt.Errorf("%w: accuracy must be >= 0", ErrInvalidUpdate)
	}
	if u.BatteryLevel != nil && (*u.BatteryLevel < 0 || *u.BatteryLevel > 100) {
		return fmt.Errorf("%w: battery_level must be in [0,100]", ErrInvalidUpdate)
	}
	return nil
}

// Snapshot returns the vehicle state carried by the update.
func (u LocationUpdate) Snapshot() VehicleSnapshot {
	return VehicleSnapshot{
		VehicleID:    u.VehicleID,
		FleetID:      u.FleetID,
		Position:     u.Position,
		Speed:        u.Speed,
		Heading:      u.Heading,
		Accuracy:     u.Accuracy,
		BatteryLevel: u.BatteryLevel,
		VehicleType:  u.VehicleType,
		Timestamp:    u.Timestamp,
	}
}

// VehicleSnapshot is the read-only view of a vehicle used when evaluating
// geofence rules.
type VehicleSnapshot struct {
	VehicleID    string
	FleetID      string
	Position     Point
	Speed        float64
	Heading      float64
	Accuracy     float64
	BatteryLevel *float64
	VehicleType  string
	Timestamp    time.Time
}
