package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Relay publishes broadcast envelopes on Redis channels named after their
// topic, optionally prefixed.
type Relay struct {
	client *redis.Client
	prefix string
}

// NewRelay connects a relay.
func NewRelay(ctx context.Context, cfg Config) (*Relay, error) {
	client, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Relay{client: client, prefix: cfg.ChannelPrefix}, nil
}

// NewRelayWithClient wraps an existing client. Close closes it.
func NewRelayWithClient(client *redis.Client, prefix string) *Relay {
	return &Relay{client: client, prefix: prefix}
}

func (r *Relay) Name() string { return "redis" }

func (r *Relay) Relay(ctx context.Context, topic string, payload []byte) error {
	if err := r.client.Publish(ctx, r.prefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (r *Relay) Close() error { return r.client.Close() }
