package mqtt

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/fleetpulse/core/logger"
	"github.com/kilianp07/fleetpulse/core/monitoring"
)

// Relay republishes broadcast envelopes on the broker under RelayPrefix.
type Relay struct {
	cfg Config
	cli pahoClient
	log logger.Logger
}

// NewRelay connects a publishing client.
func NewRelay(cfg Config, log logger.Logger) (*Relay, error) {
	cfg.SetDefaults()
	if cfg.ClientID == "fleetpulse" {
		cfg.ClientID = "fleetpulse-relay"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := logger.OrNop(log)
	cli, err := connect(cfg, l, nil)
	if err != nil {
		return nil, err
	}
	return &Relay{cfg: cfg, cli: cli, log: l}, nil
}

func (r *Relay) Name() string { return "mqtt" }

// Relay publishes payload, retrying with exponential backoff until
// MaxRetries is exhausted or ctx ends.
func (r *Relay) Relay(ctx context.Context, topic string, payload []byte) error {
	target := RelayTopic(r.cfg.RelayPrefix, topic)
	backoff := r.cfg.backoff()
	var err error
retry:
	for attempt := 0; ; attempt++ {
		token := r.cli.Publish(target, r.cfg.qos("relay"), false, payload)
		token.Wait()
		if err = token.Error(); err == nil {
			return nil
		}
		r.log.Warnf("publish %s attempt %d failed: %v", target, attempt+1, err)
		if attempt >= r.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
			break retry
		case <-time.After(backoff * time.Duration(1<<attempt)):
		}
	}
	monitoring.CaptureException(err, map[string]string{"module": "mqtt", "topic": target})
	return err
}

// Close disconnects from the broker.
func (r *Relay) Close() error {
	if r.cli != nil && r.cli.IsConnected() {
		r.cli.Disconnect(250)
	}
	return nil
}
