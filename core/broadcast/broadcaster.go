// Package broadcast fans events out to in-process subscribers and to
// external relays.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kilianp07/fleetpulse/core/events"
	"github.com/kilianp07/fleetpulse/core/factory"
	"github.com/kilianp07/fleetpulse/core/logger"
	"github.com/kilianp07/fleetpulse/internal/eventbus"
)

// Relay forwards encoded envelopes to an external transport.
type Relay interface {
	Name() string
	Relay(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Config tunes the broadcaster.
type Config struct {
	SubscriberBuffer int                    `json:"subscriber_buffer"`
	RelayQueue       int                    `json:"relay_queue"`
	RelayTimeout     time.Duration          `json:"relay_timeout"`
	Relays           []factory.ModuleConfig `json:"relays"`
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 64
	}
	if c.RelayQueue <= 0 {
		c.RelayQueue = 1024
	}
	if c.RelayTimeout <= 0 {
		c.RelayTimeout = 2 * time.Second
	}
}

type relayItem struct {
	topic string
	env   events.Envelope
}

// Broadcaster delivers envelopes at least once to the current subscribers
// of a topic. Relays are fed asynchronously through a bounded queue so that
// a slow or failing transport never blocks a publisher.
type Broadcaster struct {
	bus     *eventbus.TopicBus[events.Envelope]
	relays  []Relay
	queue   chan relayItem
	timeout time.Duration
	log     logger.Logger

	closeOnce sync.Once
	done      chan struct{}
	running   atomic.Bool
	stopped   chan struct{}
}

// New returns a broadcaster. Call Run to start relaying.
func New(cfg Config, relays []Relay, log logger.Logger) *Broadcaster {
	cfg.SetDefaults()
	return &Broadcaster{
		bus:     eventbus.NewTopicBus[events.Envelope](cfg.SubscriberBuffer),
		relays:  relays,
		queue:   make(chan relayItem, cfg.RelayQueue),
		timeout: cfg.RelayTimeout,
		log:     logger.OrNop(log),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Publish delivers env to the subscribers of topic and queues it for the
// relays. It never blocks.
func (b *Broadcaster) Publish(topic string, env events.Envelope) {
	env.Topic = topic
	b.bus.Publish(topic, env)
	eventsPublished.WithLabelValues(env.Type).Inc()
	if len(b.relays) == 0 {
		return
	}
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.queue <- relayItem{topic: topic, env: env}:
	default:
		relayDropped.Inc()
		b.log.Warnf("relay queue full, dropping %s event on %s", env.Type, topic)
	}
}

// Subscribe returns a subscription to topic.
func (b *Broadcaster) Subscribe(topic string) *eventbus.Subscription[events.Envelope] {
	return b.bus.Subscribe(topic)
}

// Unsubscribe ends a subscription.
func (b *Broadcaster) Unsubscribe(s *eventbus.Subscription[events.Envelope]) {
	b.bus.Unsubscribe(s)
}

// Subscribers returns the number of subscribers of topic.
func (b *Broadcaster) Subscribers(topic string) int { return b.bus.Subscribers(topic) }

// Run forwards queued envelopes to the relays until ctx is cancelled or
// Close is called. Remaining queued items are relayed before returning.
func (b *Broadcaster) Run(ctx context.Context) {
	if !b.running.CompareAndSwap(false, true) {
		return
	}
	defer close(b.stopped)
	for {
		select {
		case it := <-b.queue:
			b.relay(ctx, it)
		case <-ctx.Done():
			b.drain()
			return
		case <-b.done:
			b.drain()
			return
		}
	}
}

func (b *Broadcaster) drain() {
	for {
		select {
		case it := <-b.queue:
			b.relay(context.Background(), it)
		default:
			return
		}
	}
}

func (b *Broadcaster) relay(ctx context.Context, it relayItem) {
	payload, err := it.env.Marshal()
	if err != nil {
		b.log.Errorf("encode %s event: %v", it.env.Type, err)
		return
	}
	for _, r := range b.relays {
		rctx, cancel := context.WithTimeout(ctx, b.timeout)
		if err := r.Relay(rctx, it.topic, payload); err != nil {
			relayFailures.WithLabelValues(r.Name()).Inc()
			b.log.Warnf("relay %s failed for %s: %v", r.Name(), it.topic, err)
		}
		cancel()
	}
}

// Close stops accepting relay work and waits for Run to flush the queue. It
// then closes the subscriber channels and the relays.
func (b *Broadcaster) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		if b.running.Load() {
			<-b.stopped
		}
		b.bus.Close()
		for _, r := range b.relays {
			if cerr := r.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
