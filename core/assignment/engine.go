// Package assignment scores candidate vehicles against dispatch requests and
// decides which vehicle serves each request.
package assignment

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/fleetpulse/core/events"
	"github.com/kilianp07/fleetpulse/core/logger"
	coremetrics "github.com/kilianp07/fleetpulse/core/metrics"
	"github.com/kilianp07/fleetpulse/core/model"
)

// VehiclePool lists the vehicles that may serve a request of a fleet. The
// result is a best-effort snapshot.
type VehiclePool interface {
	Available(ctx context.Context, fleetID string) ([]model.VehicleCandidate, error)
}

// Router estimates the travel time and route from a vehicle to a destination.
type Router interface {
	Route(ctx context.Context, from, to model.Point) (eta time.Duration, routeRef string, err error)
}

// DecisionAudit stores decisions for later analysis.
type DecisionAudit interface {
	Record(ctx context.Context, req model.DispatchRequest, dec model.DispatchDecision) error
}

type sideEffect struct {
	req        model.DispatchRequest
	dec        model.DispatchDecision
	candidates int
	at         time.Time
}

// Engine is the assignment engine. It keeps no state between requests;
// auditing and broadcasting run on a background worker fed by a bounded queue.
type Engine struct {
	cfg    Config
	pool   VehiclePool
	router Router
	audit  DecisionAudit
	pub    events.Publisher
	sink   coremetrics.MetricsSink
	log    logger.Logger
	now    func() time.Time

	effects   chan sideEffect
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option customises an Engine.
type Option func(*Engine)

// WithAudit sets the decision audit.
func WithAudit(a DecisionAudit) Option { return func(e *Engine) { e.audit = a } }

// WithPublisher sets where decisions are broadcast.
func WithPublisher(p events.Publisher) Option { return func(e *Engine) { e.pub = p } }

// WithMetricsSink sets the sink receiving decisions.
func WithMetricsSink(s coremetrics.MetricsSink) Option { return func(e *Engine) { e.sink = s } }

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(e *Engine) { e.log = logger.OrNop(l) } }

// WithClock sets the clock used for decision and retry times.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New returns an engine and starts its side-effect worker. pool is only
// needed by Dispatch and router may be nil, in which case assignments carry
// no route.
func New(cfg Config, pool VehiclePool, router Router, opts ...Option) *Engine {
	cfg.SetDefaults()
	e := &Engine{
		cfg:     cfg,
		pool:    pool,
		router:  router,
		log:     logger.NopLogger{},
		now:     time.Now,
		effects: make(chan sideEffect, cfg.SideEffectQueue),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	e.wg.Add(1)
	go e.worker()
	return e
}

// Dispatch fetches the available vehicles of the request's fleet and assigns
// one. A pool failure defers the request.
func (e *Engine) Dispatch(ctx context.Context, req model.DispatchRequest) model.DispatchDecision {
	if e.pool == nil {
		return e.finish(req, e.deferral(req, model.ReasonPoolUnavailable, nil), 0)
	}
	cands, err := e.pool.Available(ctx, req.Info().FleetID)
	if err != nil {
		e.log.Errorf("vehicle pool for request %s: %v", req.Info().ID, err)
		return e.finish(req, e.deferral(req, model.ReasonPoolUnavailable, nil), 0)
	}
	return e.Assign(ctx, req, cands)
}

// Assign decides which candidate serves req. It always returns exactly one
// decision; the absence of a suitable vehicle is a deferral, not an error.
func (e *Engine) Assign(ctx context.Context, req model.DispatchRequest, candidates []model.VehicleCandidate) model.DispatchDecision {
	return e.finish(req, e.decide(ctx, req, candidates), len(candidates))
}

func (e *Engine) decide(ctx context.Context, req model.DispatchRequest, candidates []model.VehicleCandidate) model.DispatchDecision {
	info := req.Info()
	if info.ID == "" || !info.Location.Valid() {
		return model.RequestRejected{RequestID: info.ID, Reason: model.ReasonInvalidRequest}
	}
	switch r := req.(type) {
	case model.EmergencyRequest:
		if r.Severity < 1 || r.Severity > 5 {
			return model.RequestRejected{RequestID: info.ID, Reason: model.ReasonInvalidRequest}
		}
		return e.assignEmergency(ctx, r, candidates)
	case model.ServiceRequest:
		return e.assignStandard(ctx, r, r.Requirements, candidates)
	case model.ScheduledRequest:
		return e.assignStandard(ctx, r, nil, candidates)
	default:
		return model.RequestRejected{RequestID: info.ID, Reason: model.ReasonInvalidRequest}
	}
}

func (e *Engine) assignEmergency(ctx context.Context, req model.EmergencyRequest, candidates []model.VehicleCandidate) model.DispatchDecision {
	var capable []model.VehicleCandidate
	for _, c := range candidates {
		if c.EmergencyCapable {
			capable = append(capable, c)
		}
	}
	if len(capable) == 0 {
		// nearest general-purpose vehicles as a fallback for the operator
		alt := e.standardScorer(req.Location, nil)
		return e.deferral(req, model.ReasonNoEmergencyVehicles, topIDs(available(candidates), alt, e.cfg.MaxAlternatives))
	}
	top := best(capable, func(c model.VehicleCandidate) float64 {
		return EmergencyScore(e.cfg.Emergency, e.cfg.DistanceScaleKm, req, c)
	})
	return e.assigned(ctx, req, top)
}

func (e *Engine) assignStandard(ctx context.Context, req model.DispatchRequest, requirements []string, candidates []model.VehicleCandidate) model.DispatchDecision {
	avail := available(candidates)
	if len(avail) == 0 {
		return e.deferral(req, model.ReasonNoVehicles, nil)
	}
	top := best(avail, e.standardScorer(req.Info().Location, requirements))
	return e.assigned(ctx, req, top)
}

func (e *Engine) standardScorer(at model.Point, requirements []string) func(model.VehicleCandidate) float64 {
	return func(c model.VehicleCandidate) float64 {
		return StandardScore(e.cfg.Standard, e.cfg.DistanceScaleKm, at, requirements, c)
	}
}

// available keeps the candidates that are free to take a request.
func available(cands []model.VehicleCandidate) []model.VehicleCandidate {
	var out []model.VehicleCandidate
	for _, c := range cands {
		if c.Available && c.CurrentUtilization < 1 {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) assigned(ctx context.Context, req model.DispatchRequest, top ranked) model.VehicleAssigned {
	dec := model.VehicleAssigned{
		RequestID: req.Info().ID,
		VehicleID: top.candidate.ID,
		Score:     top.score,
		DecidedAt: e.now(),
	}
	if e.router != nil {
		eta, ref, err := e.router.Route(ctx, top.candidate.Location, req.Info().Location)
		if err != nil {
			e.log.Warnf("route for request %s: %v", dec.RequestID, err)
		} else {
			dec.ETA, dec.RouteRef = eta, ref
		}
	}
	return dec
}

func (e *Engine) deferral(req model.DispatchRequest, reason string, alternatives []string) model.AssignmentDeferred {
	return model.AssignmentDeferred{
		RequestID:    req.Info().ID,
		Reason:       reason,
		RetryAfter:   e.now().Add(e.cfg.RetryAfter()),
		Alternatives: alternatives,
	}
}

// finish counts the decision and hands it to the side-effect worker without
// blocking. A full queue drops the side effects, never the decision.
func (e *Engine) finish(req model.DispatchRequest, dec model.DispatchDecision, candidates int) model.DispatchDecision {
	view := model.DescribeDecision(dec)
	decisionsTotal.WithLabelValues(events.RequestKind(req), view.Kind).Inc()
	if a, ok := dec.(model.VehicleAssigned); ok {
		assignmentScore.Observe(a.Score)
	}
	e.log.Debugw("dispatch decision", map[string]any{
		"request_id": view.RequestID,
		"decision":   view.Kind,
		"vehicle_id": view.VehicleID,
		"reason":     view.Reason,
	})
	select {
	case <-e.done:
		sideEffectsDropped.Inc()
		return dec
	default:
	}
	select {
	case e.effects <- sideEffect{req: req, dec: dec, candidates: candidates, at: e.now()}:
	default:
		sideEffectsDropped.Inc()
		e.log.Warnf("side-effect queue full, decision %s not audited", view.RequestID)
	}
	return dec
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case se := <-e.effects:
			e.apply(se)
		case <-e.done:
			for {
				select {
				case se := <-e.effects:
					e.apply(se)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) apply(se sideEffect) {
	info := se.req.Info()
	kind := events.RequestKind(se.req)
	view := model.DescribeDecision(se.dec)
	if e.audit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.audit.Record(ctx, se.req, se.dec); err != nil {
			e.log.Errorf("audit decision %s: %v", info.ID, err)
		}
		cancel()
	}
	if e.pub != nil {
		env := events.New(events.TypeDecision, se.at, events.DecisionPayload{
			RequestKind: kind,
			FleetID:     info.FleetID,
			Decision:    view,
		})
		e.pub.Publish(events.FleetTopic(info.FleetID), env)
		if view.VehicleID != "" {
			e.pub.Publish(events.VehicleTopic(view.VehicleID), env)
		}
	}
	if r, ok := e.sink.(coremetrics.DecisionRecorder); ok {
		err := r.RecordDecision(coremetrics.DecisionEvent{
			RequestKind: kind,
			FleetID:     info.FleetID,
			Decision:    view,
			Candidates:  se.candidates,
			Time:        se.at,
		})
		if err != nil {
			e.log.Warnf("record decision %s: %v", info.ID, err)
		}
	}
}

// Close stops the worker after the queued side effects were applied.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.done) })
	e.wg.Wait()
}
