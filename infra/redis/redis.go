// Package redis keeps live vehicle state in Redis and relays broadcast
// events over Redis pub/sub.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the Redis connection settings.
type Config struct {
	Addr          string `json:"addr"`
	Password      string `json:"password"`
	DB            int    `json:"db"`
	PoolSize      int    `json:"pool_size"`
	ChannelPrefix string `json:"channel_prefix"`
	// StateTTLSeconds bounds how long a silent vehicle stays in the pool.
	StateTTLSeconds int `json:"state_ttl_seconds"`
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 20
	}
	if c.StateTTLSeconds <= 0 {
		c.StateTTLSeconds = 300
	}
}

// StateTTL returns StateTTLSeconds as a duration.
func (c Config) StateTTL() time.Duration { return time.Duration(c.StateTTLSeconds) * time.Second }

// Connect opens a client and checks the server answers.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	cfg.SetDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}
