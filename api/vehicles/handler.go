// Package vehicles exposes per-vehicle state over HTTP.
package vehicles

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kilianp07/fleetpulse/api/respond"
	"github.com/kilianp07/fleetpulse/core/model"
)

// MembershipSource reports the geofences a vehicle is inside.
type MembershipSource interface {
	Membership(vehicleID string) []string
}

// ProfileStore stores the dispatch attributes of a vehicle.
type ProfileStore interface {
	SetProfile(ctx context.Context, c model.VehicleCandidate) error
}

// Membership is the body of GET /api/v1/vehicles/{id}/geofences.
type Membership struct {
	VehicleID string   `json:"vehicle_id"`
	Geofences []string `json:"geofences"`
}

// NewMembershipHandler returns the current geofence membership of the
// vehicle named by the {id} route parameter. Unknown vehicles have an empty
// membership.
func NewMembershipHandler(src MembershipSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ids := src.Membership(id)
		if ids == nil {
			ids = []string{}
		}
		respond.JSON(w, http.StatusOK, Membership{VehicleID: id, Geofences: ids})
	})
}

// NewProfileHandler stores the profile in the body under the {id} route
// parameter.
func NewProfileHandler(store ProfileStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c model.VehicleCandidate
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&c); err != nil {
			respond.Error(w, http.StatusBadRequest, "decode profile: "+err.Error())
			return
		}
		c.ID = chi.URLParam(r, "id")
		if c.CurrentUtilization < 0 || c.CurrentUtilization > 1 || c.Rating < 0 || c.Rating > 5 {
			respond.Error(w, http.StatusBadRequest, "current_utilization must be in [0,1] and rating in [0,5]")
			return
		}
		if err := store.SetProfile(r.Context(), c); err != nil {
			respond.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
