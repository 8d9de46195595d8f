// Package geo holds the geometry the in-process collaborators need, on top
// of orb: great-circle distance, point-in-polygon and point-to-boundary
// distance. Production deployments delegate containment to the PostGIS index
// in infra/postgres.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"

	"github.com/kilianp07/fleetpulse/core/model"
)

// DistanceM returns the haversine distance between a and b in metres.
func DistanceM(a, b model.Point) float64 {
	return orbgeo.DistanceHaversine(toOrb(a), toOrb(b))
}

// DistanceKm returns the haversine distance in kilometres.
func DistanceKm(a, b model.Point) float64 { return DistanceM(a, b) / 1000 }

func toOrb(p model.Point) orb.Point { return orb.Point{p.Lon, p.Lat} }

// Ring converts poly to a closed orb ring. poly is not modified.
func Ring(poly model.Polygon) orb.Ring {
	if len(poly) == 0 {
		return nil
	}
	r := make(orb.Ring, 0, len(poly)+1)
	for _, p := range poly {
		r = append(r, toOrb(p))
	}
	if !r.Closed() {
		r = append(r, r[0])
	}
	return r
}

// Contains reports whether p lies inside poly. Points on an edge count as
// inside.
func Contains(poly model.Polygon, p model.Point) bool {
	if len(poly) < 3 {
		return false
	}
	return planar.PolygonContains(orb.Polygon{Ring(poly)}, toOrb(p))
}

// DistanceToBoundaryM approximates the distance in metres from p to the
// closest edge of poly with an equirectangular projection around p. It is
// accurate for the short distances used by hysteresis buffers.
func DistanceToBoundaryM(poly model.Polygon, p model.Point) float64 {
	if len(poly) == 0 {
		return math.Inf(1)
	}
	kx := orb.EarthRadius * math.Cos(p.Lat*math.Pi/180) * math.Pi / 180
	ky := orb.EarthRadius * math.Pi / 180
	ring := Ring(poly)
	projected := make(orb.LineString, len(ring))
	for i, q := range ring {
		projected[i] = orb.Point{(q.Lon() - p.Lon) * kx, (q.Lat() - p.Lat) * ky}
	}
	if len(projected) == 1 {
		return math.Hypot(projected[0][0], projected[0][1])
	}
	return planar.DistanceFrom(projected, orb.Point{})
}

// Boundary returns the polygon of a geofence variant that has one.
func Boundary(g model.Geofence) (model.Polygon, bool) {
	switch s := g.Spec.(type) {
	case model.StaticGeofence:
		return s.Boundary, true
	case model.TemporalGeofence:
		return s.Boundary, true
	case model.ConditionalGeofence:
		return s.Boundary, true
	default:
		return nil, false
	}
}
