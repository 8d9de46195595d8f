// Package postgres persists location updates with pgx and answers
// containment queries with PostGIS.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds the database settings.
type Config struct {
	DSN      string `json:"dsn"`
	MaxConns int32  `json:"max_conns"`
	// Migrate creates the schema on startup.
	Migrate bool `json:"migrate"`
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
}

// Validate checks that a DSN is set.
func (c Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("postgres: dsn is required")
	}
	return nil
}

// Connect opens a pool, pings the server and optionally migrates.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pcfg.MaxConns = cfg.MaxConns
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if cfg.Migrate {
		if err := Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return pool, nil
}

var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,
	`CREATE TABLE IF NOT EXISTS vehicle_locations (
		vehicle_id    TEXT NOT NULL,
		fleet_id      TEXT NOT NULL,
		lat           DOUBLE PRECISION NOT NULL,
		lon           DOUBLE PRECISION NOT NULL,
		speed         DOUBLE PRECISION NOT NULL,
		heading       DOUBLE PRECISION NOT NULL,
		accuracy      DOUBLE PRECISION NOT NULL,
		battery_level DOUBLE PRECISION,
		vehicle_type  TEXT,
		recorded_at   TIMESTAMPTZ NOT NULL
	)`,
	`DROP INDEX IF EXISTS idx_vehicle_locations_vehicle_time`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_vehicle_locations_vehicle_time ON vehicle_locations (vehicle_id, recorded_at DESC)`,
	`CREATE TABLE IF NOT EXISTS vehicle_positions (
		vehicle_id    TEXT PRIMARY KEY,
		fleet_id      TEXT NOT NULL,
		lat           DOUBLE PRECISION NOT NULL,
		lon           DOUBLE PRECISION NOT NULL,
		speed         DOUBLE PRECISION NOT NULL,
		heading       DOUBLE PRECISION NOT NULL,
		battery_level DOUBLE PRECISION,
		vehicle_type  TEXT,
		recorded_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS geofences (
		id                TEXT PRIMARY KEY,
		fleet_id          TEXT NOT NULL DEFAULT '',
		boundary          GEOMETRY(Polygon, 4326),
		center_vehicle_id TEXT,
		radius_m          DOUBLE PRECISION
	)`,
	`CREATE INDEX IF NOT EXISTS idx_geofences_boundary ON geofences USING GIST (boundary)`,
}

// Migrate creates the tables used by the persister and the spatial index.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
