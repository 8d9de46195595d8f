// Package eventbus provides an in-process, topic scoped publish/subscribe bus.
package eventbus

import (
	"errors"
	"sync"
)

var (
	// ErrSlowSubscriber is reported by a subscription that was disconnected
	// because its buffer was full.
	ErrSlowSubscriber = errors.New("eventbus: subscriber too slow")
	// ErrClosed is reported by subscriptions of a closed bus.
	ErrClosed = errors.New("eventbus: closed")
)

// DefaultBuffer is the per-subscriber buffer used when none is configured.
const DefaultBuffer = 64

// Subscription receives the events of one topic in publish order. C is
// closed when the subscription ends; Err then tells why.
type Subscription[T any] struct {
	C     <-chan T
	Topic string

	ch  chan T
	id  uint64
	mu  sync.Mutex
	err error
}

// Err returns nil while the subscription is active or was ended by
// Unsubscribe, ErrSlowSubscriber when it was disconnected and ErrClosed when
// the bus was closed.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription[T]) end(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.ch)
}

// TopicBus is a type-safe publish/subscribe bus for events of type T keyed
// by topic. A subscriber either receives every event published on its topic
// after it subscribed, in order, or is disconnected: events are never skipped
// silently.
type TopicBus[T any] struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription[T]
	buffer int
	nextID uint64
	closed bool
}

// NewTopicBus creates a bus whose subscribers buffer up to buffer events.
func NewTopicBus[T any](buffer int) *TopicBus[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &TopicBus[T]{subs: make(map[string]map[uint64]*Subscription[T]), buffer: buffer}
}

// Publish delivers e to the current subscribers of topic without blocking
// and returns the number of subscribers it reached. Subscribers whose buffer
// is full are disconnected.
func (b *TopicBus[T]) Publish(topic string, e T) int {
	var slow []*Subscription[T]
	delivered := 0
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0
	}
	for _, s := range b.subs[topic] {
		select {
		case s.ch <- e:
			delivered++
		default:
			slow = append(slow, s)
		}
	}
	b.mu.RUnlock()

	if len(slow) > 0 {
		b.mu.Lock()
		for _, s := range slow {
			if b.remove(s) {
				s.end(ErrSlowSubscriber)
			}
		}
		b.mu.Unlock()
	}
	return delivered
}

// Subscribe registers a subscriber for topic.
func (b *TopicBus[T]) Subscribe(topic string) *Subscription[T] {
	ch := make(chan T, b.buffer)
	s := &Subscription[T]{C: ch, Topic: topic, ch: ch}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.end(ErrClosed)
		return s
	}
	b.nextID++
	s.id = b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]*Subscription[T])
	}
	b.subs[topic][s.id] = s
	return s
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *TopicBus[T]) Unsubscribe(s *Subscription[T]) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remove(s) {
		s.end(nil)
	}
}

// remove must be called with the write lock held.
func (b *TopicBus[T]) remove(s *Subscription[T]) bool {
	m := b.subs[s.Topic]
	if _, ok := m[s.id]; !ok {
		return false
	}
	delete(m, s.id)
	if len(m) == 0 {
		delete(b.subs, s.Topic)
	}
	return true
}

// Subscribers returns the number of subscribers of topic.
func (b *TopicBus[T]) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close closes the bus and all subscriber channels.
func (b *TopicBus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, m := range b.subs {
		for _, s := range m {
			s.end(ErrClosed)
		}
	}
	b.subs = nil
}
