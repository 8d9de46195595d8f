package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kilianp07/fleetpulse/core/events"
	"github.com/kilianp07/fleetpulse/core/logger"
	"github.com/kilianp07/fleetpulse/core/model"
)

// LocationTopic is the topic a vehicle reports its position on.
func LocationTopic(fleetID, vehicleID string) string {
	if fleetID == "" {
		fleetID = events.DefaultFleet
	}
	return fmt.Sprintf("fleet/%s/vehicles/%s/location", fleetID, vehicleID)
}

// LocationPublisher plays the vehicle side of the ingest topics.
type LocationPublisher struct {
	cfg Config
	cli pahoClient
}

// NewLocationPublisher connects a client publishing with the ingest QoS.
func NewLocationPublisher(cfg Config, log logger.Logger) (*LocationPublisher, error) {
	cfg.SetDefaults()
	if cfg.ClientID == "fleetpulse" {
		cfg.ClientID = "fleetpulse-sim"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cli, err := connect(cfg, logger.OrNop(log), nil)
	if err != nil {
		return nil, err
	}
	return &LocationPublisher{cfg: cfg, cli: cli}, nil
}

// Send publishes every update on its vehicle topic. Failures are joined.
func (p *LocationPublisher) Send(ctx context.Context, updates []model.LocationUpdate) error {
	var errs []error
	for _, u := range updates {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := json.Marshal(u)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		token := p.cli.Publish(LocationTopic(u.FleetID, u.VehicleID), p.cfg.qos("ingest"), false, b)
		token.Wait()
		if err := token.Error(); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", u.VehicleID, err))
		}
	}
	return errors.Join(errs...)
}

// Close disconnects from the broker.
func (p *LocationPublisher) Close() error {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
	return nil
}
