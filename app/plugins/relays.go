// Package plugins builds the configurable modules of the service: broadcast
// relays and risk scorers.
package plugins

import (
	"context"
	"time"

	"github.com/kilianp07/fleetpulse/config"
	"github.com/kilianp07/fleetpulse/core/broadcast"
	"github.com/kilianp07/fleetpulse/core/factory"
	"github.com/kilianp07/fleetpulse/core/logger"
	"github.com/kilianp07/fleetpulse/infra/kafka"
	"github.com/kilianp07/fleetpulse/infra/mqtt"
	"github.com/kilianp07/fleetpulse/infra/nats"
	"github.com/kilianp07/fleetpulse/infra/redis"
)

// connectTimeout bounds the initial ping of relays that check their server.
const connectTimeout = 5 * time.Second

// NewRelayRegistry returns the relay factories. Each relay starts from the
// connection section of cfg with the same name; keys of the relay's conf
// override it.
func NewRelayRegistry(cfg *config.Config, log logger.Logger) *factory.Registry[broadcast.Relay] {
	reg := factory.NewRegistry[broadcast.Relay]()

	_ = reg.Register("mqtt", func(conf map[string]any) (broadcast.Relay, error) {
		c := cfg.MQTT.Config
		c.QoS = copyQoS(c.QoS)
		if _, ok := conf["client_id"]; !ok && c.ClientID != "" {
			// the ingest subscriber may hold the base id
			c.ClientID += "-relay"
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return mqtt.NewRelay(c, log)
	})
	_ = reg.Register("redis", func(conf map[string]any) (broadcast.Relay, error) {
		c := cfg.Redis
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		c.SetDefaults()
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		return redis.NewRelay(ctx, c)
	})
	_ = reg.Register("kafka", func(conf map[string]any) (broadcast.Relay, error) {
		c := cfg.Kafka
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return kafka.NewRelay(c)
	})
	_ = reg.Register("nats", func(conf map[string]any) (broadcast.Relay, error) {
		c := cfg.NATS
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return nats.NewRelay(c)
	})
	return reg
}

// NewRelays builds the relays listed in cfg.Broadcast.Relays. On failure the
// relays already built are closed.
func NewRelays(cfg *config.Config, log logger.Logger) ([]broadcast.Relay, error) {
	reg := NewRelayRegistry(cfg, log)
	out := make([]broadcast.Relay, 0, len(cfg.Broadcast.Relays))
	for _, mc := range cfg.Broadcast.Relays {
		r, err := reg.Create(mc)
		if err != nil {
			for _, built := range out {
				_ = built.Close()
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func copyQoS(m map[string]byte) map[string]byte {
	if m == nil {
		return nil
	}
	out := make(map[string]byte, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
