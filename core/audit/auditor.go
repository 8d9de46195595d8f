package audit

import (
	"context"
	"time"

	"github.com/kilianp07/fleetpulse/core/events"
	"github.com/kilianp07/fleetpulse/core/model"
)

// Auditor turns dispatch decisions into Records.
type Auditor struct {
	store Store
	now   func() time.Time
}

// NewAuditor returns an Auditor writing to store.
func NewAuditor(store Store) *Auditor {
	return &Auditor{store: store, now: time.Now}
}

// Record appends the decision taken for req.
func (a *Auditor) Record(ctx context.Context, req model.DispatchRequest, dec model.DispatchDecision) error {
	info := req.Info()
	view := model.DescribeDecision(dec)
	ts := view.DecidedAt
	if ts.IsZero() {
		ts = a.now()
	}
	return a.store.Append(ctx, Record{
		Timestamp:   ts,
		RequestID:   info.ID,
		RequestKind: events.RequestKind(req),
		FleetID:     info.FleetID,
		Location:    info.Location,
		Decision:    view,
	})
}

// Query forwards to the store.
func (a *Auditor) Query(ctx context.Context, q Query) ([]Record, error) {
	return a.store.Query(ctx, q)
}

// Close closes the store.
func (a *Auditor) Close() error { return a.store.Close() }
