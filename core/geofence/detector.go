package geofence

import (
	"time"

	"github.com/kilianp07/fleetpulse/core/model"
)

// DefaultMinInterval is the hysteresis applied when none is configured.
const DefaultMinInterval = 5 * time.Second

// Transitions is the outcome of one detection step. All slices are sorted.
type Transitions struct {
	Entries []string
	Exits   []string
	// Suppressed transitions were rejected by hysteresis. Their membership
	// bit was left unchanged.
	SuppressedEntries []string
	SuppressedExits   []string
	// Staying lists geofences the vehicle was and still is inside.
	Staying []string
}

// Empty reports whether no transition was accepted.
func (t Transitions) Empty() bool { return len(t.Entries) == 0 && len(t.Exits) == 0 }

// Detector computes debounced entry and exit transitions.
type Detector struct {
	store       *Store
	minInterval time.Duration
}

// NewDetector returns a Detector over store. A non-positive minInterval
// selects DefaultMinInterval.
func NewDetector(store *Store, minInterval time.Duration) *Detector {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Detector{store: store, minInterval: minInterval}
}

// Store returns the underlying state store.
func (d *Detector) Store() *Store { return d.store }

// MinInterval returns the hysteresis interval.
func (d *Detector) MinInterval() time.Duration { return d.minInterval }

func (d *Detector) allowed(last, at time.Time) bool {
	return at.Sub(last) > d.minInterval
}

// Detect compares current with the stored membership of vehicleID and
// applies the accepted transitions at time at. Entries are current minus
// previous and exits previous minus current. A transition of kind K for
// geofence G is accepted only when more than the minimum interval elapsed
// since the last accepted K transition for G. The whole step holds the
// vehicle's lock.
func (d *Detector) Detect(vehicleID string, current Set, at time.Time) Transitions {
	var tr Transitions
	d.store.Update(vehicleID, func(tx *Txn) {
		previous := tx.Members()
		for _, id := range current.Minus(previous) {
			if !d.allowed(tx.Last(id, model.BreachEntry), at) {
				tr.SuppressedEntries = append(tr.SuppressedEntries, id)
				continue
			}
			tx.Record(id, model.BreachEntry, at)
			tx.Enter(id, at)
			tr.Entries = append(tr.Entries, id)
		}
		for _, id := range previous.Minus(current) {
			if !d.allowed(tx.Last(id, model.BreachExit), at) {
				tr.SuppressedExits = append(tr.SuppressedExits, id)
				continue
			}
			tx.Record(id, model.BreachExit, at)
			tx.Leave(id)
			tr.Exits = append(tr.Exits, id)
		}
		tr.Staying = previous.Intersect(current)
	})
	return tr
}

// Accept records a transition of kind for (vehicleID, geofenceID) when the
// hysteresis allows it and reports whether it did.
func (d *Detector) Accept(vehicleID, geofenceID string, kind model.BreachKind, at time.Time) bool {
	ok := false
	d.store.Update(vehicleID, func(tx *Txn) {
		if d.allowed(tx.Last(geofenceID, kind), at) {
			tx.Record(geofenceID, kind, at)
			ok = true
		}
	})
	return ok
}

// DwellDue reports, at most once per stay, that vehicleID has been inside
// geofenceID for at least dwell. A stay only counts from an accepted entry.
func (d *Detector) DwellDue(vehicleID, geofenceID string, dwell time.Duration, at time.Time) bool {
	if dwell <= 0 {
		return false
	}
	due := false
	d.store.Update(vehicleID, func(tx *Txn) {
		if !tx.Has(geofenceID) || tx.DwellReported(geofenceID) {
			return
		}
		since, ok := tx.EnteredAt(geofenceID)
		if !ok || at.Sub(since) < dwell {
			return
		}
		if !d.allowed(tx.Last(geofenceID, model.BreachDwell), at) {
			return
		}
		tx.Record(geofenceID, model.BreachDwell, at)
		tx.MarkDwellReported(geofenceID)
		due = true
	})
	return due
}
