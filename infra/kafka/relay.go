// Package kafka relays broadcast events to a Kafka topic.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config holds the producer settings.
type Config struct {
	Brokers   []string `json:"brokers"`
	Topic     string   `json:"topic"`
	BatchMS   int      `json:"batch_ms"`
	BatchSize int      `json:"batch_size"`
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	if c.Topic == "" {
		c.Topic = "fleetpulse.events"
	}
	if c.BatchMS <= 0 {
		c.BatchMS = 10
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
}

// Validate checks the broker list.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Relay writes every envelope to one Kafka topic keyed by the broadcast
// topic, so that events of a vehicle or fleet stay ordered within a
// partition.
type Relay struct {
	w messageWriter
}

// NewRelay builds a relay. Brokers are dialled lazily on the first write.
func NewRelay(cfg Config) (*Relay, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Relay{w: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           time.Duration(cfg.BatchMS) * time.Millisecond,
		BatchSize:              cfg.BatchSize,
		AllowAutoTopicCreation: true,
	}}, nil
}

func (r *Relay) Name() string { return "kafka" }

func (r *Relay) Relay(ctx context.Context, topic string, payload []byte) error {
	err := r.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(topic),
		Value:   payload,
		Headers: []kafka.Header{{Key: "fleetpulse-topic", Value: []byte(topic)}},
	})
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	return nil
}

func (r *Relay) Close() error { return r.w.Close() }
