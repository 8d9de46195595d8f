// Package simulator drives synthetic vehicles around a city and sends their
// location updates to the service.
package simulator

import (
	"fmt"
	"math/rand"

	"github.com/kilianp07/fleetpulse/core/model"
)

// FleetConfig holds parameters for fleet generation.
type FleetConfig struct {
	Size    int
	FleetID string
	// Center and RadiusKm bound the start positions.
	Center   model.Point
	RadiusKm float64
	// SpeedKmh is the mean cruising speed.
	SpeedKmh float64
	// EmergencyPct is the ratio of emergency-capable vehicles.
	EmergencyPct float64
	// Types are assigned round-robin.
	Types []string
}

// SetDefaults applies sane defaults.
func (c *FleetConfig) SetDefaults() {
	if c.Center == (model.Point{}) {
		c.Center = model.Point{Lon: 2.3522, Lat: 48.8566}
	}
	if c.RadiusKm <= 0 {
		c.RadiusKm = 5
	}
	if c.SpeedKmh <= 0 {
		c.SpeedKmh = 30
	}
	if len(c.Types) == 0 {
		c.Types = []string{"van", "car", "truck"}
	}
}

// GenerateFleet creates Size vehicles with ids veh0001..vehNNNN spread
// uniformly around the center.
func GenerateFleet(cfg FleetConfig, rng *rand.Rand) []*Vehicle {
	if cfg.Size <= 0 {
		return nil
	}
	cfg.SetDefaults()
	vs := make([]*Vehicle, cfg.Size)
	for i := range vs {
		start := offset(cfg.Center, rng.Float64()*cfg.RadiusKm, rng.Float64()*360)
		vs[i] = &Vehicle{
			ID:               fmt.Sprintf("veh%04d", i+1),
			FleetID:          cfg.FleetID,
			Type:             cfg.Types[i%len(cfg.Types)],
			Position:         start,
			Heading:          rng.Float64() * 360,
			Speed:            cfg.SpeedKmh * (0.5 + rng.Float64()),
			EmergencyCapable: cfg.EmergencyPct > 0 && rng.Float64() < cfg.EmergencyPct,
			Battery:          &Battery{CapacityKWh: 60, Soc: 0.5 + rng.Float64()/2, ConsumptionKWhPerKm: 0.2},
			cruise:           cfg.SpeedKmh,
		}
	}
	return vs
}

// Profile returns the dispatch attributes announced for v.
func (v *Vehicle) Profile() model.VehicleCandidate {
	c := model.VehicleCandidate{
		ID:               v.ID,
		FleetID:          v.FleetID,
		VehicleType:      v.Type,
		EmergencyCapable: v.EmergencyCapable,
		Available:        true,
		Rating:           4,
	}
	if v.EmergencyCapable {
		c.Capabilities = []string{"medical"}
	}
	return c
}
