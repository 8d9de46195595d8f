package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kilianp07/fleetpulse/core/events"
	"github.com/kilianp07/fleetpulse/core/model"
)

var locationColumns = []string{
	"vehicle_id",
	"fleet_id",
	"lat",
	"lon",
	"speed",
	"heading",
	"accuracy",
	"battery_level",
	"vehicle_type",
	"recorded_at",
}

// History rows are staged in a transaction-scoped table first so a retried
// batch skips the rows an earlier attempt already stored.
const (
	createHistoryStage = `CREATE TEMP TABLE vehicle_locations_stage
		(LIKE vehicle_locations INCLUDING DEFAULTS) ON COMMIT DROP`
	insertHistoryStage = `
	INSERT INTO vehicle_locations
	SELECT * FROM vehicle_locations_stage
	ON CONFLICT (vehicle_id, recorded_at) DO NOTHING`
)

// The WHERE clause keeps a late update from overwriting a newer position.
const upsertPosition = `
	INSERT INTO vehicle_positions
		(vehicle_id, fleet_id, lat, lon, speed, heading, battery_level, vehicle_type, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (vehicle_id) DO UPDATE SET
		fleet_id = EXCLUDED.fleet_id,
		lat = EXCLUDED.lat,
		lon = EXCLUDED.lon,
		speed = EXCLUDED.speed,
		heading = EXCLUDED.heading,
		battery_level = EXCLUDED.battery_level,
		vehicle_type = EXCLUDED.vehicle_type,
		recorded_at = EXCLUDED.recorded_at
	WHERE vehicle_positions.recorded_at <= EXCLUDED.recorded_at`

// Persister appends every update to the location history and upserts the
// last position of each vehicle, in one transaction. Replaying a batch is a
// no-op: history rows are unique per vehicle and timestamp.
type Persister struct {
	pool *pgxpool.Pool
}

// NewPersister wraps pool.
func NewPersister(pool *pgxpool.Pool) *Persister { return &Persister{pool: pool} }

func (p *Persister) Upsert(ctx context.Context, updates []model.LocationUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, createHistoryStage); err != nil {
		return fmt.Errorf("stage locations: %w", err)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"vehicle_locations_stage"}, locationColumns, pgx.CopyFromRows(historyRows(updates))); err != nil {
		return fmt.Errorf("copy %d locations: %w", len(updates), err)
	}
	if _, err := tx.Exec(ctx, insertHistoryStage); err != nil {
		return fmt.Errorf("insert locations: %w", err)
	}

	batch := &pgx.Batch{}
	for _, u := range lastPerVehicle(updates) {
		batch.Queue(upsertPosition, u.VehicleID, fleetOf(u), u.Position.Lat, u.Position.Lon,
			u.Speed, u.Heading, u.BatteryLevel, nullIfEmpty(u.VehicleType), u.Timestamp)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert positions: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func historyRows(updates []model.LocationUpdate) [][]any {
	rows := make([][]any, len(updates))
	for i, u := range updates {
		rows[i] = []any{
			u.VehicleID,
			fleetOf(u),
			u.Position.Lat,
			u.Position.Lon,
			u.Speed,
			u.Heading,
			u.Accuracy,
			u.BatteryLevel,
			nullIfEmpty(u.VehicleType),
			u.Timestamp,
		}
	}
	return rows
}

// lastPerVehicle keeps the last update of each vehicle in submission order
// of first appearance.
func lastPerVehicle(updates []model.LocationUpdate) []model.LocationUpdate {
	idx := make(map[string]int, len(updates))
	var out []model.LocationUpdate
	for _, u := range updates {
		if i, ok := idx[u.VehicleID]; ok {
			out[i] = u
			continue
		}
		idx[u.VehicleID] = len(out)
		out = append(out, u)
	}
	return out
}

func fleetOf(u model.LocationUpdate) string {
	if u.FleetID == "" {
		return events.DefaultFleet
	}
	return u.FleetID
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
