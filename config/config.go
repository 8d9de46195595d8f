package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/fleetpulse/core/assignment"
	"github.com/kilianp07/fleetpulse/core/audit"
	"github.com/kilianp07/fleetpulse/core/broadcast"
	"github.com/kilianp07/fleetpulse/core/metrics"
	"github.com/kilianp07/fleetpulse/core/pipeline"
	"github.com/kilianp07/fleetpulse/infra/kafka"
	"github.com/kilianp07/fleetpulse/infra/mqtt"
	"github.com/kilianp07/fleetpulse/infra/nats"
	"github.com/kilianp07/fleetpulse/infra/postgres"
	"github.com/kilianp07/fleetpulse/infra/redis"
	"github.com/kilianp07/fleetpulse/infra/ws"
)

// EnvPrefix prefixes the environment overrides. FP_PIPELINE__CONCURRENCY
// sets pipeline.concurrency.
const EnvPrefix = "FP_"

// DotEnvFile is loaded into the environment before the overrides are read.
var DotEnvFile = ".env"

type Config struct {
	HTTP       HTTPConfig        `json:"http"`
	Logging    LoggingConfig     `json:"logging"`
	Sentry     SentryConfig      `json:"sentry"`
	Pipeline   pipeline.Config   `json:"pipeline"`
	Geofence   GeofenceConfig    `json:"geofence"`
	Prediction PredictionConfig  `json:"prediction"`
	Assignment assignment.Config `json:"assignment"`
	Broadcast  broadcast.Config  `json:"broadcast"`
	Metrics    metrics.Config    `json:"metrics"`
	Audit      audit.Config      `json:"audit"`
	Fleet      FleetConfig       `json:"fleet"`

	// Connection sections. MQTT ingest, Redis fleet state and Postgres
	// persistence are enabled by setting their address. Relays listed in
	// broadcast.relays start from the matching section.
	MQTT     MQTTConfig      `json:"mqtt"`
	Redis    redis.Config    `json:"redis"`
	Postgres postgres.Config `json:"postgres"`
	Kafka    kafka.Config    `json:"kafka"`
	NATS     nats.Config     `json:"nats"`
	WS       ws.Config       `json:"ws"`
}

// MQTTConfig is the broker connection with an ingest switch.
type MQTTConfig struct {
	mqtt.Config `json:",squash"`
	// Ingest subscribes to the location topic when true.
	Ingest bool `json:"ingest"`
}

// Load reads the file at path and applies the FP_ environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", DotEnvFile, err)
	}
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps FP_GEOFENCE__HYSTERESIS_MS to geofence.hysteresis_ms.
func envKey(s string) string {
	s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.HTTP.SetDefaults()
	c.Logging.SetDefaults()
	c.Pipeline.SetDefaults()
	c.Geofence.SetDefaults()
	c.Assignment.SetDefaults()
	c.Broadcast.SetDefaults()
	c.Audit.SetDefaults()
	c.Fleet.SetDefaults()
	c.MQTT.SetDefaults()
	c.Redis.SetDefaults()
	c.Postgres.SetDefaults()
	c.Kafka.SetDefaults()
	c.NATS.SetDefaults()
	c.WS.SetDefaults()
}

// Validate checks the sections that are in use.
func (c Config) Validate() error {
	checks := []func() error{
		c.Logging.Validate,
		c.Pipeline.Validate,
		c.Geofence.Validate,
		c.Prediction.Validate,
		c.Assignment.Validate,
		c.Audit.Validate,
		c.Fleet.Validate,
	}
	if c.MQTT.Ingest {
		checks = append(checks, c.MQTT.Validate)
	}
	if c.Postgres.DSN != "" || c.Geofence.Index == "postgres" {
		checks = append(checks, c.Postgres.Validate)
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}
