package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/fleetpulse/core/events"
	"github.com/kilianp07/fleetpulse/core/geo"
	"github.com/kilianp07/fleetpulse/core/geofence"
	"github.com/kilianp07/fleetpulse/core/logger"
	coremetrics "github.com/kilianp07/fleetpulse/core/metrics"
	"github.com/kilianp07/fleetpulse/core/model"
	"github.com/kilianp07/fleetpulse/core/monitoring"
)

// ErrClosed is returned by Submit once the processor stopped accepting updates.
var ErrClosed = errors.New("pipeline: processor closed")

type nopPublisher struct{}

func (nopPublisher) Publish(string, events.Envelope) {}

// Processor is the batch processor. It owns the pending queue and drives
// transition detection for every drained update.
type Processor struct {
	cfg      Config
	queue    *Queue
	index    SpatialIndex
	fences   GeofenceSource
	detector *geofence.Detector
	eval     ConditionEvaluator

	persist BulkPersister
	pub     events.Publisher
	sink    coremetrics.MetricsSink
	states  VehicleStateSource
	log     logger.Logger
	now     func() time.Time

	flushMu sync.Mutex
}

// Option customises a Processor.
type Option func(*Processor)

// WithPersister sets the bulk persistence collaborator.
func WithPersister(bp BulkPersister) Option { return func(p *Processor) { p.persist = bp } }

// WithPublisher sets where location and breach events are published.
func WithPublisher(pub events.Publisher) Option {
	return func(p *Processor) {
		if pub != nil {
			p.pub = pub
		}
	}
}

// WithMetricsSink sets the sink receiving batch statistics and breaches.
func WithMetricsSink(s coremetrics.MetricsSink) Option {
	return func(p *Processor) {
		if s != nil {
			p.sink = s
		}
	}
}

// WithVehicleState sets the source used to complete vehicle snapshots.
func WithVehicleState(s VehicleStateSource) Option { return func(p *Processor) { p.states = s } }

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(p *Processor) { p.log = logger.OrNop(l) } }

// WithClock sets the clock used to timestamp updates submitted without one.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// New returns a Processor. Call Run to start the flush timer.
func New(cfg Config, index SpatialIndex, fences GeofenceSource, detector *geofence.Detector, eval ConditionEvaluator, opts ...Option) *Processor {
	cfg.SetDefaults()
	p := &Processor{
		cfg:      cfg,
		queue:    NewQueue(cfg.QueueCapacity),
		index:    index,
		fences:   fences,
		detector: detector,
		eval:     eval,
		pub:      nopPublisher{},
		sink:     coremetrics.NopSink{},
		log:      logger.NopLogger{},
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Submit validates u and enqueues it. It never blocks on processing. An
// update without timestamp is stamped with the current time.
func (p *Processor) Submit(u model.LocationUpdate) error {
	if u.Timestamp.IsZero() {
		u.Timestamp = p.now()
	}
	if err := u.Validate(); err != nil {
		return err
	}
	return p.queue.Push(u)
}

// Pending returns the number of queued updates.
func (p *Processor) Pending() int { return p.queue.Len() }

// Membership returns the sorted geofence ids vehicleID is currently inside.
func (p *Processor) Membership(vehicleID string) []string {
	return p.detector.Store().Membership(vehicleID).Sorted()
}

// Close stops accepting updates. Updates already queued are flushed by Run
// on its way out.
func (p *Processor) Close() { p.queue.Close() }

// Run flushes the queue every flush interval until ctx is cancelled, then
// closes the processor and flushes what is left once.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.FlushInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Close()
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ItemTimeout())
			p.Flush(final)
			cancel()
			return
		case <-ticker.C:
			p.Flush(ctx)
		}
	}
}

type itemResult struct {
	breaches   []model.BreachEvent
	suppressed int
	failed     bool
	timedOut   bool
}

// Flush drains the queue and processes the batch. An empty queue is a no-op.
// Flushes never overlap.
func (p *Processor) Flush(ctx context.Context) coremetrics.BatchStats {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	batch := p.queue.Drain()
	if len(batch) == 0 {
		return coremetrics.BatchStats{}
	}
	start := time.Now()
	stats := coremetrics.BatchStats{Size: len(batch), Time: p.now()}
	batchSize.Observe(float64(len(batch)))

	stats.Persisted = p.persistBatch(ctx, batch)

	results := make([]itemResult, len(batch))
	var g errgroup.Group
	g.SetLimit(p.cfg.Workers())
	for _, idxs := range groupByVehicle(batch) {
		g.Go(func() error {
			for _, i := range idxs {
				results[i] = p.processItem(ctx, batch[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, u := range batch {
		p.publishLocation(u)
		res := results[i]
		stats.Suppressed += res.suppressed
		if res.failed {
			stats.Failed++
		}
		if res.timedOut {
			stats.TimedOut++
		}
		for _, b := range res.breaches {
			p.publishBreach(b)
			switch b.Kind {
			case model.BreachEntry:
				stats.Entries++
			case model.BreachExit:
				stats.Exits++
			case model.BreachDwell:
				stats.Dwells++
			case model.BreachSpeed:
				stats.Speeding++
			}
		}
	}

	stats.Duration = time.Since(start)
	flushLatency.Observe(stats.Duration.Seconds())
	if err := p.sink.RecordBatch(stats); err != nil {
		p.log.Warnf("record batch stats: %v", err)
	}
	return stats
}

func (p *Processor) persistBatch(ctx context.Context, batch []model.LocationUpdate) bool {
	if p.persist == nil {
		return false
	}
	if err := p.persist.Upsert(ctx, batch); err != nil {
		persistFailures.Inc()
		p.log.Errorf("bulk persist of %d updates failed: %v", len(batch), err)
		monitoring.CaptureException(err, map[string]string{"component": "pipeline"})
		return false
	}
	return true
}

// groupByVehicle returns the batch indices of every vehicle, in order of first
// appearance. Each group keeps submission order.
func groupByVehicle(batch []model.LocationUpdate) [][]int {
	pos := make(map[string]int)
	var groups [][]int
	for i, u := range batch {
		g, ok := pos[u.VehicleID]
		if !ok {
			g = len(groups)
			pos[u.VehicleID] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}

// Item states shared by processItem and the check it supervises. A check
// commits its transitions only from itemRunning, and a timeout abandons the
// item only from itemRunning.
const (
	itemRunning int32 = iota
	itemCommitted
	itemAbandoned
)

// processItem runs the geofence check of u under the item timeout. Panics
// and timeouts are converted into a failed result. A check that already
// started committing transitions is waited for, so a timeout never drops
// transitions the store has recorded.
func (p *Processor) processItem(ctx context.Context, u model.LocationUpdate) itemResult {
	ictx, cancel := context.WithTimeout(ctx, p.cfg.ItemTimeout())
	defer cancel()

	var state atomic.Int32
	done := make(chan itemResult, 1)
	go func() {
		var res itemResult
		defer func() {
			if r := recover(); r != nil {
				err := monitoring.CapturePanic(r, map[string]string{"vehicle_id": u.VehicleID})
				itemFailures.WithLabelValues("panic").Inc()
				p.log.Errorf("geofence check for %s: %v", u.VehicleID, err)
				res = itemResult{failed: true}
			}
			done <- res
		}()
		res = p.check(ictx, u, &state)
	}()

	select {
	case res := <-done:
		return res
	case <-ictx.Done():
		if !state.CompareAndSwap(itemRunning, itemAbandoned) {
			return <-done
		}
		itemsTimedOut.Inc()
		p.log.Warnf("geofence check for %s abandoned: %v", u.VehicleID, ictx.Err())
		return itemResult{timedOut: true}
	}
}

// check resolves containment and evaluates every condition first, then
// commits the transitions. Nothing after the commit blocks on ctx.
func (p *Processor) check(ctx context.Context, u model.LocationUpdate, state *atomic.Int32) itemResult {
	var res itemResult
	snap := p.enrich(ctx, u.Snapshot())
	if obs, ok := p.index.(PositionObserver); ok {
		obs.ObservePosition(u.VehicleID, u.Position)
	}

	ids, err := p.containing(ctx, u)
	if err != nil {
		itemFailures.WithLabelValues("spatial").Inc()
		p.log.Warnf("spatial lookup for %s: %v", u.VehicleID, err)
		res.failed = true
		return res
	}
	current := geofence.NewSet(ids...)
	previous := p.detector.Store().Membership(u.VehicleID)
	p.retainBuffered(previous, current, u.Position)
	predicted := p.addPredictive(ctx, snap, current)
	passed := p.gates(ctx, snap, previous, current, predicted, &res)
	if ctx.Err() != nil || !state.CompareAndSwap(itemRunning, itemCommitted) {
		res.timedOut = true
		return res
	}

	tr := p.detector.Detect(u.VehicleID, current, u.Timestamp)
	p.countTransitions(u.VehicleID, tr)
	res.suppressed = len(tr.SuppressedEntries) + len(tr.SuppressedExits)

	for _, id := range tr.Entries {
		g := p.geofence(id)
		if !passed[id] {
			continue
		}
		if geofence.HasSpeedCondition(g) {
			if p.detector.Accept(u.VehicleID, id, model.BreachSpeed, u.Timestamp) {
				res.breaches = append(res.breaches, newBreach(u, g, model.BreachSpeed))
			}
			continue
		}
		res.breaches = append(res.breaches, newBreach(u, g, model.BreachEntry))
	}
	for _, id := range tr.Exits {
		res.breaches = append(res.breaches, newBreach(u, p.geofence(id), model.BreachExit))
	}
	for _, id := range tr.Staying {
		g := p.geofence(id)
		if geofence.HasSpeedCondition(g) && passed[id] &&
			p.detector.Accept(u.VehicleID, id, model.BreachSpeed, u.Timestamp) {
			res.breaches = append(res.breaches, newBreach(u, g, model.BreachSpeed))
		}
		if st, ok := g.Spec.(model.StaticGeofence); ok && st.DwellTimeS > 0 {
			if p.detector.DwellDue(u.VehicleID, id, time.Duration(st.DwellTimeS)*time.Second, u.Timestamp) {
				res.breaches = append(res.breaches, newBreach(u, g, model.BreachDwell))
			}
		}
	}
	return res
}

// gates evaluates the breach condition of every geofence in current that can
// produce a breach on this update: candidate entries and speed zones the
// vehicle stays in. Predicted geofences already passed their condition.
func (p *Processor) gates(ctx context.Context, snap model.VehicleSnapshot, previous, current, predicted geofence.Set, res *itemResult) map[string]bool {
	passed := make(map[string]bool, len(current))
	for _, id := range current.Sorted() {
		if predicted.Has(id) {
			passed[id] = true
			continue
		}
		g := p.geofence(id)
		if previous.Has(id) && !geofence.HasSpeedCondition(g) {
			continue
		}
		passed[id] = p.gate(ctx, snap, g, res)
	}
	return passed
}

func (p *Processor) containing(ctx context.Context, u model.LocationUpdate) ([]string, error) {
	if va, ok := p.index.(VehicleAwareIndex); ok {
		return va.ContainingFor(ctx, u.VehicleID, u.Position)
	}
	return p.index.Containing(ctx, u.Position)
}

// enrich fills the vehicle type and battery level from the vehicle state
// source when the update lacks them.
func (p *Processor) enrich(ctx context.Context, snap model.VehicleSnapshot) model.VehicleSnapshot {
	if p.states == nil || (snap.VehicleType != "" && snap.BatteryLevel != nil) {
		return snap
	}
	v, ok, err := p.states.Vehicle(ctx, snap.VehicleID)
	if err != nil {
		p.log.Debugf("vehicle state for %s: %v", snap.VehicleID, err)
		return snap
	}
	if !ok {
		return snap
	}
	if snap.VehicleType == "" {
		snap.VehicleType = v.VehicleType
	}
	if snap.BatteryLevel == nil {
		snap.BatteryLevel = v.BatteryLevel
	}
	return snap
}

// retainBuffered keeps static geofences the vehicle just left in current
// while it is still within their hysteresis buffer.
func (p *Processor) retainBuffered(previous, current geofence.Set, pos model.Point) {
	for _, id := range previous.Minus(current) {
		g, ok := p.fences.Get(id)
		if !ok {
			continue
		}
		st, ok := g.Spec.(model.StaticGeofence)
		if !ok || st.HysteresisBufferM <= 0 {
			continue
		}
		if geo.DistanceToBoundaryM(st.Boundary, pos) <= st.HysteresisBufferM {
			current.Add(id)
		}
	}
}

// addPredictive adds the predictive geofences of the vehicle's fleet whose
// risk score reaches the threshold and returns their ids.
func (p *Processor) addPredictive(ctx context.Context, snap model.VehicleSnapshot, current geofence.Set) geofence.Set {
	predicted := geofence.NewSet()
	for _, g := range p.fences.Predictive(snap.FleetID) {
		ok, err := p.eval.Evaluate(ctx, snap, g)
		if err != nil {
			p.evaluationFailed(snap.VehicleID, g, err)
			continue
		}
		if ok {
			current.Add(g.ID)
			predicted.Add(g.ID)
		}
	}
	return predicted
}

// gate evaluates the breach condition of g. Evaluation errors count as a
// failed check and suppress the breach.
func (p *Processor) gate(ctx context.Context, snap model.VehicleSnapshot, g model.Geofence, res *itemResult) bool {
	if g.Spec == nil {
		return true
	}
	ok, err := p.eval.Evaluate(ctx, snap, g)
	if err != nil {
		p.evaluationFailed(snap.VehicleID, g, err)
		res.failed = true
		return false
	}
	return ok
}

func (p *Processor) evaluationFailed(vehicleID string, g model.Geofence, err error) {
	if geofence.IsDefinitionError(err) {
		itemFailures.WithLabelValues("definition").Inc()
		p.log.Errorf("geofence %s is malformed: %v", g.ID, err)
		monitoring.CaptureException(err, map[string]string{"geofence_id": g.ID, "vehicle_id": vehicleID})
		return
	}
	itemFailures.WithLabelValues("evaluation").Inc()
	p.log.Warnf("evaluate geofence %s for %s: %v", g.ID, vehicleID, err)
}

// geofence resolves id. Geofences unknown to the source still produce
// transitions, with the default severity and no extra rule.
func (p *Processor) geofence(id string) model.Geofence {
	if g, ok := p.fences.Get(id); ok {
		return g
	}
	return model.Geofence{ID: id, Severity: model.SeverityMedium}
}

func (p *Processor) countTransitions(vehicleID string, tr geofence.Transitions) {
	transitions.WithLabelValues("entry", "accepted").Add(float64(len(tr.Entries)))
	transitions.WithLabelValues("exit", "accepted").Add(float64(len(tr.Exits)))
	if len(tr.SuppressedEntries)+len(tr.SuppressedExits) == 0 {
		return
	}
	transitions.WithLabelValues("entry", "suppressed").Add(float64(len(tr.SuppressedEntries)))
	transitions.WithLabelValues("exit", "suppressed").Add(float64(len(tr.SuppressedExits)))
	p.log.Debugw("hysteresis suppressed transitions", map[string]any{
		"vehicle_id": vehicleID,
		"entries":    tr.SuppressedEntries,
		"exits":      tr.SuppressedExits,
	})
}

func newBreach(u model.LocationUpdate, g model.Geofence, kind model.BreachKind) model.BreachEvent {
	sev := g.Severity
	if sev == "" {
		sev = model.SeverityMedium
	}
	return model.BreachEvent{
		ID:         uuid.NewString(),
		VehicleID:  u.VehicleID,
		FleetID:    u.FleetID,
		GeofenceID: g.ID,
		Kind:       kind,
		Location:   u.Position,
		Timestamp:  u.Timestamp,
		Severity:   sev,
	}
}

func (p *Processor) publishLocation(u model.LocationUpdate) {
	env := events.New(events.TypeLocation, u.Timestamp, events.LocationPayload{Update: u})
	p.pub.Publish(events.FleetTopic(u.FleetID), env)
	p.pub.Publish(events.VehicleTopic(u.VehicleID), env)
}

func (p *Processor) publishBreach(b model.BreachEvent) {
	env := events.New(events.TypeBreach, b.Timestamp, b)
	p.pub.Publish(events.GeofenceTopic(b.GeofenceID), env)
	p.pub.Publish(events.VehicleTopic(b.VehicleID), env)
	p.pub.Publish(events.FleetTopic(b.FleetID), env)
	if r, ok := p.sink.(coremetrics.BreachRecorder); ok {
		if err := r.RecordBreach(b); err != nil {
			p.log.Warnf("record breach %s: %v", b.ID, err)
		}
	}
}

// String describes the processor configuration.
func (p *Processor) String() string {
	return fmt.Sprintf("pipeline(flush=%s workers=%d timeout=%s)", p.cfg.FlushInterval(), p.cfg.Workers(), p.cfg.ItemTimeout())
}
