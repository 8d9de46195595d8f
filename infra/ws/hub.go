// Package ws streams broadcaster topics to WebSocket clients.
package ws

import (
	"errors"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kilianp07/fleetpulse/core/events"
	"github.com/kilianp07/fleetpulse/core/logger"
	"github.com/kilianp07/fleetpulse/internal/eventbus"
)

// Source hands out topic subscriptions.
type Source interface {
	Subscribe(topic string) *eventbus.Subscription[events.Envelope]
	Unsubscribe(s *eventbus.Subscription[events.Envelope])
}

// Config tunes client connections.
type Config struct {
	PingIntervalS  int      `json:"ping_interval_s"`
	WriteTimeoutMS int      `json:"write_timeout_ms"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	if c.PingIntervalS <= 0 {
		c.PingIntervalS = 30
	}
	if c.WriteTimeoutMS <= 0 {
		c.WriteTimeoutMS = 5000
	}
}

// Hub upgrades HTTP requests to WebSocket connections subscribed to the
// topics named by the repeated "topic" query parameter. Each envelope is
// sent as one JSON text message. A client that falls behind is closed with
// a policy-violation close frame rather than skipping events.
type Hub struct {
	src      Source
	upgrader websocket.Upgrader
	ping     time.Duration
	write    time.Duration
	log      logger.Logger
	clients  atomic.Int64
}

// NewHub returns a hub reading from src.
func NewHub(src Source, cfg Config, log logger.Logger) *Hub {
	cfg.SetDefaults()
	h := &Hub{
		src:   src,
		ping:  time.Duration(cfg.PingIntervalS) * time.Second,
		write: time.Duration(cfg.WriteTimeoutMS) * time.Millisecond,
		log:   logger.OrNop(log),
	}
	origins := cfg.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(origins) == 0 || origin == "" || slices.Contains(origins, origin)
		},
	}
	return h
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int64 { return h.clients.Load() }

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		http.Error(w, "at least one topic is required", http.StatusBadRequest)
		return
	}
	for _, t := range topics {
		if !events.ValidTopic(t) {
			http.Error(w, "invalid topic "+t, http.StatusBadRequest)
			return
		}
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		h.log.Warnf("websocket upgrade: %v", err)
		return
	}
	h.clients.Add(1)
	defer h.clients.Add(-1)
	h.serve(conn, topics)
}

type delivery struct {
	env events.Envelope
	err error
	end bool
}

func (h *Hub) serve(conn *websocket.Conn, topics []string) {
	defer conn.Close()

	subs := make([]*eventbus.Subscription[events.Envelope], len(topics))
	for i, t := range topics {
		subs[i] = h.src.Subscribe(t)
	}

	done := make(chan struct{})
	out := make(chan delivery)
	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s *eventbus.Subscription[events.Envelope]) {
			defer wg.Done()
			for env := range s.C {
				select {
				case out <- delivery{env: env}:
				case <-done:
					return
				}
			}
			select {
			case out <- delivery{err: s.Err(), end: true}:
			case <-done:
			}
		}(s)
	}
	defer func() {
		close(done)
		for _, s := range subs {
			h.src.Unsubscribe(s)
		}
		wg.Wait()
	}()

	// read side: answers pongs and notices the client going away
	gone := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(2 * h.ping))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * h.ping))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.ping)
	defer ticker.Stop()
	for {
		select {
		case d := <-out:
			if d.end {
				h.closeWith(conn, d.err)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.write))
			if err := conn.WriteJSON(d.env); err != nil {
				h.log.Debugf("websocket write: %v", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.write)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (h *Hub) closeWith(conn *websocket.Conn, err error) {
	code, text := websocket.CloseNormalClosure, "subscription ended"
	switch {
	case errors.Is(err, eventbus.ErrSlowSubscriber):
		code, text = websocket.ClosePolicyViolation, "slow consumer"
	case errors.Is(err, eventbus.ErrClosed):
		code, text = websocket.CloseGoingAway, "server shutting down"
	}
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.write))
}
