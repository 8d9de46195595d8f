// Package vehiclestatus keeps the last known state of each vehicle in memory.
// It backs the assignment pool when no shared store is configured.
package vehiclestatus

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/fleetpulse/core/events"
	"github.com/kilianp07/fleetpulse/core/model"
)

// Profile holds the dispatch attributes of a vehicle set by operators.
type Profile struct {
	VehicleType        string   `json:"vehicle_type,omitempty"`
	Capabilities       []string `json:"capabilities,omitempty"`
	CurrentUtilization float64  `json:"current_utilization"`
	Rating             float64  `json:"rating"`
	EmergencyCapable   bool     `json:"emergency_capable"`
	Available          bool     `json:"available"`
}

// Status captures the current known state of a vehicle.
type Status struct {
	Last       model.LocationUpdate `json:"last"`
	Profile    *Profile             `json:"profile,omitempty"`
	ObservedAt time.Time            `json:"observed_at"`
}

// Filter selects statuses.
type Filter struct {
	FleetID string
	// Since drops vehicles last observed before it.
	Since time.Time
}

// MemoryStore is a concurrency-safe Status map.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Status
	ttl  time.Duration
	now  func() time.Time
}

// Option customises a MemoryStore.
type Option func(*MemoryStore)

// WithTTL hides vehicles whose last report is older than ttl from Available.
func WithTTL(ttl time.Duration) Option { return func(s *MemoryStore) { s.ttl = ttl } }

// WithClock sets the clock used for observation times.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{data: map[string]Status{}, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Upsert records the last update of each vehicle. An older update never
// replaces a newer one.
func (s *MemoryStore) Upsert(_ context.Context, updates []model.LocationUpdate) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		st := s.data[u.VehicleID]
		if !st.Last.Timestamp.IsZero() && u.Timestamp.Before(st.Last.Timestamp) {
			continue
		}
		st.Last = u
		st.ObservedAt = now
		s.data[u.VehicleID] = st
	}
	return nil
}

// SetProfile stores the dispatch attributes of a vehicle.
func (s *MemoryStore) SetProfile(_ context.Context, c model.VehicleCandidate) error {
	p := &Profile{
		VehicleType:        c.VehicleType,
		Capabilities:       slices.Clone(c.Capabilities),
		CurrentUtilization: c.CurrentUtilization,
		Rating:             c.Rating,
		EmergencyCapable:   c.EmergencyCapable,
		Available:          c.Available,
	}
	s.mu.Lock()
	st := s.data[c.ID]
	if st.Last.VehicleID == "" {
		st.Last.VehicleID = c.ID
	}
	st.Profile = p
	s.data[c.ID] = st
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(f Filter) []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]Status, 0, len(s.data))
	for _, st := range s.data {
		if f.FleetID != "" && fleetOf(st.Last) != f.FleetID {
			continue
		}
		if !f.Since.IsZero() && st.ObservedAt.Before(f.Since) {
			continue
		}
		res = append(res, st)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Last.VehicleID < res[j].Last.VehicleID })
	return res
}

// Available lists the vehicles of a fleet that reported a position, sorted
// by id.
func (s *MemoryStore) Available(_ context.Context, fleetID string) ([]model.VehicleCandidate, error) {
	if fleetID == "" {
		fleetID = events.DefaultFleet
	}
	f := Filter{FleetID: fleetID}
	if s.ttl > 0 {
		f.Since = s.now().Add(-s.ttl)
	}
	var out []model.VehicleCandidate
	for _, st := range s.List(f) {
		if st.ObservedAt.IsZero() {
			continue
		}
		out = append(out, st.Candidate())
	}
	return out, nil
}

// Vehicle returns the known state of a vehicle.
func (s *MemoryStore) Vehicle(_ context.Context, vehicleID string) (model.VehicleCandidate, bool, error) {
	s.mu.RLock()
	st, ok := s.data[vehicleID]
	s.mu.RUnlock()
	if !ok {
		return model.VehicleCandidate{}, false, nil
	}
	return st.Candidate(), true, nil
}

// Candidate merges the last update and the profile. A vehicle without a
// profile is available with no utilisation.
func (st Status) Candidate() model.VehicleCandidate {
	c := model.VehicleCandidate{
		ID:           st.Last.VehicleID,
		FleetID:      fleetOf(st.Last),
		Location:     st.Last.Position,
		Speed:        st.Last.Speed,
		BatteryLevel: st.Last.BatteryLevel,
		VehicleType:  st.Last.VehicleType,
		Available:    true,
	}
	if p := st.Profile; p != nil {
		if c.VehicleType == "" {
			c.VehicleType = p.VehicleType
		}
		c.Capabilities = slices.Clone(p.Capabilities)
		c.CurrentUtilization = p.CurrentUtilization
		c.Rating = p.Rating
		c.EmergencyCapable = p.EmergencyCapable
		c.Available = p.Available
	}
	return c
}

func fleetOf(u model.LocationUpdate) string {
	if u.FleetID == "" {
		return events.DefaultFleet
	}
	return u.FleetID
}
