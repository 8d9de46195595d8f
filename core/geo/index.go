package geo

import (
	"context"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/kilianp07/fleetpulse/core/model"
)

// MemoryIndex is an in-process spatial index over a fixed set of geofences.
// Dynamic geofences follow the last observed position of their center
// vehicle.
type MemoryIndex struct {
	mu        sync.RWMutex
	polygons  map[string]orb.Polygon
	dynamic   map[string]model.DynamicGeofence
	positions map[string]model.Point
}

// NewMemoryIndex indexes the polygon and dynamic geofences of gs. Predictive
// geofences have no geometry and are ignored.
func NewMemoryIndex(gs []model.Geofence) *MemoryIndex {
	m := &MemoryIndex{positions: make(map[string]model.Point)}
	m.Load(gs)
	return m
}

// Load replaces the indexed geofences.
func (m *MemoryIndex) Load(gs []model.Geofence) {
	polys := make(map[string]orb.Polygon)
	dyn := make(map[string]model.DynamicGeofence)
	for _, g := range gs {
		if p, ok := Boundary(g); ok {
			if len(p) >= 3 {
				polys[g.ID] = orb.Polygon{Ring(p)}
			}
			continue
		}
		if d, ok := g.Spec.(model.DynamicGeofence); ok {
			dyn[g.ID] = d
		}
	}
	m.mu.Lock()
	m.polygons, m.dynamic = polys, dyn
	m.mu.Unlock()
}

// ObservePosition records where a vehicle is so that geofences centred on it move.
func (m *MemoryIndex) ObservePosition(vehicleID string, p model.Point) {
	m.mu.Lock()
	m.positions[vehicleID] = p
	m.mu.Unlock()
}

// Containing returns the ids of the geofences containing p, sorted.
func (m *MemoryIndex) Containing(ctx context.Context, p model.Point) ([]string, error) {
	return m.ContainingFor(ctx, "", p)
}

// ContainingFor is Containing for a given vehicle: a vehicle is never inside
// the dynamic geofence centred on itself.
func (m *MemoryIndex) ContainingFor(ctx context.Context, vehicleID string, p model.Point) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	pt := toOrb(p)
	for id, poly := range m.polygons {
		if planar.PolygonContains(poly, pt) {
			out = append(out, id)
		}
	}
	for id, d := range m.dynamic {
		if d.CenterVehicleID == vehicleID {
			continue
		}
		center, ok := m.positions[d.CenterVehicleID]
		if ok && DistanceM(center, p) <= d.RadiusM {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}
