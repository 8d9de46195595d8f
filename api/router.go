// Package api serves the fleetpulse HTTP API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/fleetpulse/api/dispatch"
	"github.com/kilianp07/fleetpulse/api/locations"
	"github.com/kilianp07/fleetpulse/api/respond"
	"github.com/kilianp07/fleetpulse/api/vehicles"
	"github.com/kilianp07/fleetpulse/core/logger"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps are the services behind the routes. Nil services leave their routes
// unregistered.
type Deps struct {
	Locations  locations.Submitter
	Dispatcher dispatch.Dispatcher
	Audit      dispatch.AuditQuerier
	Membership vehicles.MembershipSource
	Profiles   vehicles.ProfileStore
	// Events serves GET /ws.
	Events http.Handler
	// Metrics serves GET /metrics; promhttp.Handler() when nil.
	Metrics http.Handler
	Health  map[string]HealthCheck
	Logger  logger.Logger
	Now     func() time.Time
}

// NewRouter builds the chi router.
func NewRouter(d Deps) http.Handler {
	log := logger.OrNop(d.Logger)
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(log), middleware.Recoverer)

	r.Get("/healthz", healthHandler(d.Health))
	if d.Metrics == nil {
		d.Metrics = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", d.Metrics)
	if d.Events != nil {
		r.Method(http.MethodGet, "/ws", d.Events)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if d.Locations != nil {
			r.Method(http.MethodPost, "/locations", locations.NewSubmitHandler(d.Locations))
		}
		if d.Dispatcher != nil {
			r.Method(http.MethodPost, "/dispatch", dispatch.NewDispatchHandler(d.Dispatcher, d.Now))
		}
		if d.Audit != nil {
			r.Method(http.MethodGet, "/audit", dispatch.NewAuditHandler(d.Audit))
		}
		if d.Membership != nil {
			r.Method(http.MethodGet, "/vehicles/{id}/geofences", vehicles.NewMembershipHandler(d.Membership))
		}
		if d.Profiles != nil {
			r.Method(http.MethodPut, "/vehicles/{id}/profile", vehicles.NewProfileHandler(d.Profiles))
		}
	})
	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		failed := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			respond.JSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "failed": failed})
			return
		}
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debugw("http request", map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			})
		})
	}
}
