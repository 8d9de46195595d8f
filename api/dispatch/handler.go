// Package dispatch exposes dispatch requests and the decision audit over HTTP.
package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/fleetpulse/api/respond"
	"github.com/kilianp07/fleetpulse/core/events"
	"github.com/kilianp07/fleetpulse/core/model"
)

// Dispatcher decides which vehicle serves a request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req model.DispatchRequest) model.DispatchDecision
}

// Response is the body of POST /api/v1/dispatch.
type Response struct {
	RequestKind string             `json:"request_kind"`
	Decision    model.DecisionView `json:"decision"`
}

// NewDispatchHandler returns the handler of POST /api/v1/dispatch. A
// missing request id is generated. Assignments and deferrals answer 200,
// rejections 422.
func NewDispatchHandler(d Dispatcher, now func() time.Time) http.Handler {
	if now == nil {
		now = time.Now
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env model.RequestEnvelope
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&env); err != nil {
			respond.Error(w, http.StatusBadRequest, "decode request: "+err.Error())
			return
		}
		if env.ID == "" {
			env.ID = uuid.NewString()
		}
		if env.CreatedAt.IsZero() {
			env.CreatedAt = now().UTC()
		}
		req, err := env.ToRequest()
		if err != nil {
			respond.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		view := model.DescribeDecision(d.Dispatch(r.Context(), req))
		status := http.StatusOK
		if view.Kind == model.DecisionRejected {
			status = http.StatusUnprocessableEntity
		}
		respond.JSON(w, status, Response{RequestKind: events.RequestKind(req), Decision: view})
	})
}
