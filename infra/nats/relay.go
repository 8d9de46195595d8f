// Package nats relays broadcast events to NATS subjects.
package nats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Config holds the connection settings.
type Config struct {
	URL           string `json:"url"`
	SubjectPrefix string `json:"subject_prefix"`
	Name          string `json:"name"`
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "fleetpulse"
	}
	if c.Name == "" {
		c.Name = "fleetpulse"
	}
}

type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// Relay publishes envelopes on <prefix>.<scope>.<id>, e.g.
// fleetpulse.vehicle.v1 for the broadcast topic vehicle:v1.
type Relay struct {
	conn   msgPublisher
	prefix string
}

// NewRelay connects to the server. The client reconnects on its own.
func NewRelay(cfg Config) (*Relay, error) {
	cfg.SetDefaults()
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return &Relay{conn: conn, prefix: cfg.SubjectPrefix}, nil
}

// Subject maps a broadcast topic to a NATS subject.
func Subject(prefix, topic string) string {
	s := strings.ReplaceAll(topic, ":", ".")
	if prefix == "" {
		return s
	}
	return prefix + "." + s
}

func (r *Relay) Name() string { return "nats" }

func (r *Relay) Relay(ctx context.Context, topic string, payload []byte) error {
	msg := &nats.Msg{
		Subject: Subject(r.prefix, topic),
		Data:    payload,
		Header:  nats.Header{"x-fleetpulse-topic": []string{topic}},
	}
	if err := r.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", msg.Subject, err)
	}
	if err := r.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (r *Relay) Close() error { return r.conn.Drain() }
