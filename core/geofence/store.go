package geofence

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/kilianp07/fleetpulse/core/model"
)

// FarPast is returned by LastTransition when no transition was recorded. Any
// hysteresis check against it passes.
var FarPast = time.Time{}

// DefaultShards is used when NewStore is given a non-positive shard count.
const DefaultShards = 64

type transitionKey struct {
	geofence string
	kind     model.BreachKind
}

type vehicleState struct {
	members Set
	last    map[transitionKey]time.Time
	// enteredAt is the accepted entry time of the current stay.
	enteredAt  map[string]time.Time
	dwellFired Set
}

func newVehicleState() *vehicleState {
	return &vehicleState{
		members:    make(Set),
		last:       make(map[transitionKey]time.Time),
		enteredAt:  make(map[string]time.Time),
		dwellFired: make(Set),
	}
}

type shard struct {
	mu       sync.Mutex
	vehicles map[string]*vehicleState
}

// Store is a sharded per-vehicle membership cache. Every method is safe for
// concurrent use. Calls for the same vehicle are serialised by the shard lock.
type Store struct {
	shards []shard
}

// NewStore returns a Store with n shards.
func NewStore(n int) *Store {
	if n <= 0 {
		n = DefaultShards
	}
	s := &Store{shards: make([]shard, n)}
	for i := range s.shards {
		s.shards[i].vehicles = make(map[string]*vehicleState)
	}
	return s
}

func (s *Store) shardFor(vehicleID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(vehicleID))
	return &s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Update runs fn with exclusive access to the state of vehicleID. The Txn
// must not be retained after fn returns.
func (s *Store) Update(vehicleID string, fn func(tx *Txn)) {
	sh := s.shardFor(vehicleID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st, ok := sh.vehicles[vehicleID]
	if !ok {
		st = newVehicleState()
		sh.vehicles[vehicleID] = st
	}
	fn(&Txn{state: st})
}

// Membership returns a copy of the geofences vehicleID is inside. Unknown
// vehicles yield an empty set.
func (s *Store) Membership(vehicleID string) Set {
	sh := s.shardFor(vehicleID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st, ok := sh.vehicles[vehicleID]
	if !ok {
		return make(Set)
	}
	return st.members.Clone()
}

// SetMembership replaces the membership of vehicleID.
func (s *Store) SetMembership(vehicleID string, members Set) {
	s.Update(vehicleID, func(tx *Txn) { tx.SetMembers(members) })
}

// LastTransition returns when the last accepted transition of kind happened
// for (vehicleID, geofenceID), or FarPast.
func (s *Store) LastTransition(vehicleID, geofenceID string, kind model.BreachKind) time.Time {
	sh := s.shardFor(vehicleID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st, ok := sh.vehicles[vehicleID]
	if !ok {
		return FarPast
	}
	return st.last[transitionKey{geofenceID, kind}]
}

// RecordTransition stores the time of an accepted transition.
func (s *Store) RecordTransition(vehicleID, geofenceID string, kind model.BreachKind, at time.Time) {
	s.Update(vehicleID, func(tx *Txn) { tx.Record(geofenceID, kind, at) })
}

// Forget drops all state of vehicleID.
func (s *Store) Forget(vehicleID string) {
	sh := s.shardFor(vehicleID)
	sh.mu.Lock()
	delete(sh.vehicles, vehicleID)
	sh.mu.Unlock()
}

// Len returns the number of tracked vehicles.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.vehicles)
		sh.mu.Unlock()
	}
	return n
}

// Txn is the view of one vehicle's state inside Store.Update.
type Txn struct {
	state *vehicleState
}

// Members returns a copy of the current membership.
func (tx *Txn) Members() Set { return tx.state.members.Clone() }

func (tx *Txn) Has(geofenceID string) bool { return tx.state.members.Has(geofenceID) }

// SetMembers replaces the membership. Stays of removed geofences are closed.
func (tx *Txn) SetMembers(members Set) {
	for id := range tx.state.members {
		if !members.Has(id) {
			tx.leave(id)
		}
	}
	tx.state.members = members.Clone()
}

// Last returns the time of the last accepted transition or FarPast.
func (tx *Txn) Last(geofenceID string, kind model.BreachKind) time.Time {
	return tx.state.last[transitionKey{geofenceID, kind}]
}

// Record stores the time of an accepted transition.
func (tx *Txn) Record(geofenceID string, kind model.BreachKind, at time.Time) {
	tx.state.last[transitionKey{geofenceID, kind}] = at
}

// Enter adds the geofence to the membership and starts a stay.
func (tx *Txn) Enter(geofenceID string, at time.Time) {
	tx.state.members.Add(geofenceID)
	tx.state.enteredAt[geofenceID] = at
	tx.state.dwellFired.Remove(geofenceID)
}

// Leave removes the geofence from the membership and ends the stay.
func (tx *Txn) Leave(geofenceID string) {
	tx.state.members.Remove(geofenceID)
	tx.leave(geofenceID)
}

func (tx *Txn) leave(geofenceID string) {
	delete(tx.state.enteredAt, geofenceID)
	tx.state.dwellFired.Remove(geofenceID)
}

// EnteredAt returns the start of the current stay, if one was accepted.
func (tx *Txn) EnteredAt(geofenceID string) (time.Time, bool) {
	t, ok := tx.state.enteredAt[geofenceID]
	return t, ok
}

// DwellReported reports whether a dwell breach was already emitted for the
// current stay.
func (tx *Txn) DwellReported(geofenceID string) bool { return tx.state.dwellFired.Has(geofenceID) }

// MarkDwellReported flags the current stay as reported.
func (tx *Txn) MarkDwellReported(geofenceID string) { tx.state.dwellFired.Add(geofenceID) }
