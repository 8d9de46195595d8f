package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/fleetpulse/core/logger"
	"github.com/kilianp07/fleetpulse/core/model"
	"github.com/kilianp07/fleetpulse/core/monitoring"
)

// Submitter accepts location updates for batch processing.
type Submitter interface {
	Submit(u model.LocationUpdate) error
}

// Subscriber ingests location updates published by vehicles.
type Subscriber struct {
	cfg      Config
	cli      pahoClient
	sink     Submitter
	log      logger.Logger
	accepted atomic.Int64
	rejected atomic.Int64
}

// NewSubscriber connects to the broker and subscribes to the ingest topic.
// The subscription is renewed on every reconnection.
func NewSubscriber(cfg Config, sink Submitter, log logger.Logger) (*Subscriber, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Subscriber{cfg: cfg, sink: sink, log: logger.OrNop(log)}
	cli, err := connect(cfg, s.log, func(c paho.Client) {
		if token := c.Subscribe(cfg.IngestTopic, cfg.qos("ingest"), s.onMessage); token.Wait() && token.Error() != nil {
			s.log.Errorf("subscribe %s: %v", cfg.IngestTopic, token.Error())
			monitoring.CaptureException(token.Error(), map[string]string{"module": "mqtt", "topic": cfg.IngestTopic})
		}
	})
	if err != nil {
		return nil, err
	}
	s.cli = cli
	return s, nil
}

func (s *Subscriber) onMessage(_ paho.Client, msg paho.Message) {
	u, err := DecodeLocation(msg.Topic(), msg.Payload())
	if err == nil {
		err = s.sink.Submit(u)
	}
	if err != nil {
		s.rejected.Add(1)
		s.log.Warnf("drop location from %s: %v", msg.Topic(), err)
		return
	}
	s.accepted.Add(1)
}

// Stats returns the number of accepted and rejected messages.
func (s *Subscriber) Stats() (accepted, rejected int64) {
	return s.accepted.Load(), s.rejected.Load()
}

// Close disconnects from the broker.
func (s *Subscriber) Close() {
	if s.cli != nil && s.cli.IsConnected() {
		s.cli.Disconnect(250)
	}
}

// DecodeLocation parses a JSON location update. Vehicle and fleet ids
// missing from the payload are taken from a fleet/<fleet>/vehicles/<vehicle>/...
// topic; a payload naming another vehicle than its topic is rejected.
func DecodeLocation(topic string, payload []byte) (model.LocationUpdate, error) {
	var u model.LocationUpdate
	if err := json.Unmarshal(payload, &u); err != nil {
		return u, fmt.Errorf("decode location: %w", err)
	}
	fleetID, vehicleID, ok := topicIDs(topic)
	if !ok {
		return u, nil
	}
	switch {
	case u.VehicleID == "":
		u.VehicleID = vehicleID
	case u.VehicleID != vehicleID:
		return u, fmt.Errorf("%w: vehicle %q published on topic of %q", model.ErrInvalidUpdate, u.VehicleID, vehicleID)
	}
	if u.FleetID == "" {
		u.FleetID = fleetID
	}
	return u, nil
}

func topicIDs(topic string) (fleetID, vehicleID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[0] != "fleet" || parts[2] != "vehicles" {
		return "", "", false
	}
	return parts[1], parts[3], parts[1] != "" && parts[3] != ""
}
