package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// BreachKind is the type of an accepted geofence transition.
type BreachKind int

const (
	BreachEntry BreachKind = iota
	BreachExit
	BreachDwell
	BreachSpeed
)

func (k BreachKind) String() string {
	switch k {
	case BreachEntry:
		return "entry"
	case BreachExit:
		return "exit"
	case BreachDwell:
		return "dwell"
	case BreachSpeed:
		return "speed"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the kind by name.
func (k BreachKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a kind name.
func (k *BreachKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for _, c := range []BreachKind{BreachEntry, BreachExit, BreachDwell, BreachSpeed} {
		if c.String() == s {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown breach kind %q", s)
}

// BreachEvent is created once per accepted transition and never mutated.
type BreachEvent struct {
	ID         string     `json:"id"`
	VehicleID  string     `json:"vehicle_id"`
	FleetID    string     `json:"fleet_id,omitempty"`
	GeofenceID string     `json:"geofence_id"`
	Kind       BreachKind `json:"kind"`
	Location   Point      `json:"location"`
	Timestamp  time.Time  `json:"timestamp"`
	Severity   Severity   `json:"severity"`
}
