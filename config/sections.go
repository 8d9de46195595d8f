package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/fleetpulse/core/prediction"
)

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr              string `json:"addr"`
	ShutdownTimeoutMS int    `json:"shutdown_timeout_ms"`
}

// SetDefaults applies sane defaults.
func (c *HTTPConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ShutdownTimeoutMS <= 0 {
		c.ShutdownTimeoutMS = 5000
	}
}

// ShutdownTimeout bounds the graceful stop of the server.
func (c HTTPConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}

// LoggingConfig sets the minimum log level.
type LoggingConfig struct {
	Level string `json:"level"`
}

// SetDefaults applies sane defaults.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// Validate checks the level name.
func (c LoggingConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "trace", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("logging: unknown level %q", c.Level)
}

// GeofenceConfig tunes geofence tracking.
type GeofenceConfig struct {
	// HysteresisMS is the minimum interval between two transitions of the
	// same kind for a vehicle and geofence.
	HysteresisMS int `json:"hysteresis_ms"`
	// Shards splits the membership store to limit lock contention.
	Shards int `json:"shards"`
	// Catalog is the path of the YAML geofence catalog.
	Catalog string `json:"catalog"`
	// Index selects the spatial index: "memory" or "postgres".
	Index string `json:"index"`
}

// SetDefaults applies sane defaults.
func (c *GeofenceConfig) SetDefaults() {
	if c.HysteresisMS <= 0 {
		c.HysteresisMS = 5000
	}
	if c.Shards <= 0 {
		c.Shards = 64
	}
	if c.Index == "" {
		c.Index = "memory"
	}
}

// Validate checks the index name.
func (c GeofenceConfig) Validate() error {
	if c.Index != "memory" && c.Index != "postgres" {
		return fmt.Errorf("geofence: unknown index %q", c.Index)
	}
	return nil
}

// Hysteresis returns the minimum transition interval.
func (c GeofenceConfig) Hysteresis() time.Duration {
	return time.Duration(c.HysteresisMS) * time.Millisecond
}

// PredictionConfig declares the risk models of predictive geofences.
type PredictionConfig struct {
	// Static holds fixed scores by model id then vehicle id ("*" for any).
	Static map[string]map[string]float64 `json:"static"`
	// Models holds logistic models by id.
	Models map[string]prediction.LogisticModel `json:"models"`
}

// Enabled reports whether any model is declared.
func (c PredictionConfig) Enabled() bool { return len(c.Static)+len(c.Models) > 0 }

// Validate rejects model ids declared twice and static scores outside [0,1].
func (c PredictionConfig) Validate() error {
	for id, scores := range c.Static {
		if _, ok := c.Models[id]; ok {
			return fmt.Errorf("prediction: model %q declared as static and logistic", id)
		}
		for v, s := range scores {
			if s < 0 || s > 1 {
				return fmt.Errorf("prediction: score %v of %s/%s outside [0,1]", s, id, v)
			}
		}
	}
	return nil
}

// FleetConfig selects where vehicle state lives.
type FleetConfig struct {
	// Store is "memory" or "redis".
	Store string `json:"store"`
	// StateTTLSeconds hides vehicles that stopped reporting from the
	// in-memory pool. The redis store uses redis.state_ttl_seconds.
	StateTTLSeconds int `json:"state_ttl_seconds"`
}

// SetDefaults applies sane defaults.
func (c *FleetConfig) SetDefaults() {
	if c.Store == "" {
		c.Store = "memory"
	}
	if c.StateTTLSeconds <= 0 {
		c.StateTTLSeconds = 300
	}
}

// Validate checks the store name.
func (c FleetConfig) Validate() error {
	if c.Store != "memory" && c.Store != "redis" {
		return fmt.Errorf("fleet: unknown store %q", c.Store)
	}
	return nil
}

// StateTTL returns the staleness bound of the in-memory pool.
func (c FleetConfig) StateTTL() time.Duration {
	return time.Duration(c.StateTTLSeconds) * time.Second
}
