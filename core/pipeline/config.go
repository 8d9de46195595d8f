package pipeline

import (
	"fmt"
	"runtime"
	"time"
)

// Config tunes the batch processor.
type Config struct {
	// FlushIntervalMS is the period of the flush timer.
	FlushIntervalMS int `json:"flush_interval_ms"`
	// Concurrency bounds the number of vehicles checked in parallel. Zero
	// selects twice the available parallelism.
	Concurrency int `json:"concurrency"`
	// ItemTimeoutMS bounds the geofence check of a single update.
	ItemTimeoutMS int `json:"item_timeout_ms"`
	// QueueCapacity preallocates the pending queue.
	QueueCapacity int `json:"queue_capacity"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.FlushIntervalMS <= 0 {
		c.FlushIntervalMS = 100
	}
	if c.ItemTimeoutMS <= 0 {
		c.ItemTimeoutMS = 5000
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1024
	}
}

// Validate checks the configuration after defaults were applied.
func (c Config) Validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("pipeline: concurrency must be >= 0, got %d", c.Concurrency)
	}
	if c.FlushIntervalMS < 0 || c.ItemTimeoutMS < 0 {
		return fmt.Errorf("pipeline: intervals must be positive")
	}
	return nil
}

// FlushInterval returns the flush period.
func (c Config) FlushInterval() time.Duration {
	if c.FlushIntervalMS <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// ItemTimeout returns the per-update timeout.
func (c Config) ItemTimeout() time.Duration {
	if c.ItemTimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ItemTimeoutMS) * time.Millisecond
}

// Workers returns the fan-out limit.
func (c Config) Workers() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	return 2 * runtime.GOMAXPROCS(0)
}
