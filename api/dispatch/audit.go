package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kilianp07/fleetpulse/api/respond"
	"github.com/kilianp07/fleetpulse/core/audit"
)

// AuditQuerier reads the decision audit.
type AuditQuerier interface {
	Query(ctx context.Context, q audit.Query) ([]audit.Record, error)
}

// DefaultAuditLimit caps the records returned when no limit is given.
const DefaultAuditLimit = 500

// NewAuditHandler returns the handler of GET /api/v1/audit. Filters: start,
// end (RFC3339), request_id, vehicle_id, fleet_id, kind and limit.
func NewAuditHandler(store AuditQuerier) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q, err := parseQuery(r)
		if err != nil {
			respond.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			respond.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		if records == nil {
			records = []audit.Record{}
		}
		respond.JSON(w, http.StatusOK, records)
	})
}

func parseQuery(r *http.Request) (audit.Query, error) {
	v := r.URL.Query()
	q := audit.Query{
		RequestID: v.Get("request_id"),
		VehicleID: v.Get("vehicle_id"),
		FleetID:   v.Get("fleet_id"),
		Kind:      v.Get("kind"),
		Limit:     DefaultAuditLimit,
	}
	var err error
	if s := v.Get("start"); s != "" {
		if q.Start, err = time.Parse(time.RFC3339, s); err != nil {
			return q, fmt.Errorf("start: %w", err)
		}
	}
	if s := v.Get("end"); s != "" {
		if q.End, err = time.Parse(time.RFC3339, s); err != nil {
			return q, fmt.Errorf("end: %w", err)
		}
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return q, fmt.Errorf("limit must be a positive integer")
		}
		q.Limit = n
	}
	return q, nil
}
