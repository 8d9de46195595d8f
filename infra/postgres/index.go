package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kilianp07/fleetpulse/core/geo"
	"github.com/kilianp07/fleetpulse/core/model"
)

// Polygon geofences are matched with ST_Contains. Dynamic geofences are
// circles around the persisted position of their center vehicle, which is
// never inside its own circle.
const containingQuery = `
	SELECT g.id FROM geofences g
	WHERE g.boundary IS NOT NULL
	  AND ST_Contains(g.boundary, ST_SetSRID(ST_MakePoint($1, $2), 4326))
	UNION
	SELECT g.id FROM geofences g
	JOIN vehicle_positions v ON v.vehicle_id = g.center_vehicle_id
	WHERE g.center_vehicle_id IS NOT NULL
	  AND g.center_vehicle_id <> $3
	  AND ST_DWithin(
		ST_SetSRID(ST_MakePoint(v.lon, v.lat), 4326)::geography,
		ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography,
		g.radius_m)
	ORDER BY 1`

const upsertGeofence = `
	INSERT INTO geofences (id, fleet_id, boundary, center_vehicle_id, radius_m)
	VALUES ($1, $2, ST_GeomFromText($3, 4326), $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		fleet_id = EXCLUDED.fleet_id,
		boundary = EXCLUDED.boundary,
		center_vehicle_id = EXCLUDED.center_vehicle_id,
		radius_m = EXCLUDED.radius_m`

// SpatialIndex answers containment queries from the geofences table.
type SpatialIndex struct {
	pool *pgxpool.Pool
}

// NewSpatialIndex wraps pool.
func NewSpatialIndex(pool *pgxpool.Pool) *SpatialIndex { return &SpatialIndex{pool: pool} }

func (s *SpatialIndex) Containing(ctx context.Context, p model.Point) ([]string, error) {
	return s.ContainingFor(ctx, "", p)
}

func (s *SpatialIndex) ContainingFor(ctx context.Context, vehicleID string, p model.Point) ([]string, error) {
	rows, err := s.pool.Query(ctx, containingQuery, p.Lon, p.Lat, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("containing query: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("containing rows: %w", err)
	}
	return ids, nil
}

// Sync replaces the indexed geofences with gs. Predictive geofences have no
// geometry and are skipped.
func (s *SpatialIndex) Sync(ctx context.Context, gs []model.Geofence) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]string, 0, len(gs))
	batch := &pgx.Batch{}
	for _, g := range gs {
		var (
			wkt    any
			center any
			radius any
		)
		if poly, ok := geo.Boundary(g); ok {
			wkt = PolygonWKT(poly)
		} else if d, ok := g.Spec.(model.DynamicGeofence); ok {
			center, radius = d.CenterVehicleID, d.RadiusM
		} else {
			continue
		}
		ids = append(ids, g.ID)
		batch.Queue(upsertGeofence, g.ID, g.FleetID, wkt, center, radius)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM geofences WHERE NOT (id = ANY($1))`, ids); err != nil {
		return fmt.Errorf("prune geofences: %w", err)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert geofences: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// PolygonWKT renders a polygon as WKT, closing the ring when needed.
func PolygonWKT(poly model.Polygon) string {
	if len(poly) == 0 {
		return "POLYGON EMPTY"
	}
	ring := poly
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring[:len(ring):len(ring)], ring[0])
	}
	var b strings.Builder
	b.WriteString("POLYGON((")
	for i, p := range ring {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(p.Lon, 'f', -1, 64))
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(p.Lat, 'f', -1, 64))
	}
	b.WriteString("))")
	return b.String()
}
