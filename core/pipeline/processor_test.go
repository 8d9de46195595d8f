package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetpulse/core/events"
	"github.com/kilianp07/fleetpulse/core/geo"
	"github.com/kilianp07/fleetpulse/core/geofence"
	"github.com/kilianp07/fleetpulse/core/model"
	"github.com/kilianp07/fleetpulse/core/prediction"
)

var t0 = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

var square = model.Polygon{{Lon: 0, Lat: 0}, {Lon: 1, Lat: 0}, {Lon: 1, Lat: 1}, {Lon: 0, Lat: 1}}

var (
	inside  = model.Point{Lon: 0.5, Lat: 0.5}
	outside = model.Point{Lon: 2, Lat: 2}
)

type published struct {
	topic string
	env   events.Envelope
}

type recordingPublisher struct {
	mu  sync.Mutex
	out []published
}

func (r *recordingPublisher) Publish(topic string, env events.Envelope) {
	r.mu.Lock()
	r.out = append(r.out, published{topic, env})
	r.mu.Unlock()
}

func (r *recordingPublisher) breaches(topic string) []model.BreachEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.BreachEvent
	for _, p := range r.out {
		if p.topic == topic && p.env.Type == events.TypeBreach {
			out = append(out, p.env.Payload.(model.BreachEvent))
		}
	}
	return out
}

func (r *recordingPublisher) locations(topic string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, p := range r.out {
		if p.topic == topic && p.env.Type == events.TypeLocation {
			out = append(out, p.env.Payload.(events.LocationPayload).Update.VehicleID)
		}
	}
	return out
}

type recordingPersister struct {
	mu    sync.Mutex
	calls [][]model.LocationUpdate
	err   error
}

func (r *recordingPersister) Upsert(_ context.Context, updates []model.LocationUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]model.LocationUpdate(nil), updates...))
	return r.err
}

func (r *recordingPersister) Calls() [][]model.LocationUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// funcIndex delegates containment to a test function.
type funcIndex func(ctx context.Context, vehicleID string, p model.Point) ([]string, error)

func (f funcIndex) Containing(ctx context.Context, p model.Point) ([]string, error) {
	return f(ctx, "", p)
}

func (f funcIndex) ContainingFor(ctx context.Context, vehicleID string, p model.Point) ([]string, error) {
	return f(ctx, vehicleID, p)
}

type harness struct {
	proc    *Processor
	pub     *recordingPublisher
	persist *recordingPersister
	catalog *geofence.Catalog
}

func newHarness(t *testing.T, cfg Config, index SpatialIndex, scorer prediction.RiskScorer, fences ...model.Geofence) *harness {
	t.Helper()
	ResetMetrics(prometheus.NewRegistry())
	cat, err := geofence.NewCatalog(fences...)
	require.NoError(t, err)
	if index == nil {
		index = geo.NewMemoryIndex(cat.All())
	}
	h := &harness{pub: &recordingPublisher{}, persist: &recordingPersister{}, catalog: cat}
	det := geofence.NewDetector(geofence.NewStore(8), 5*time.Second)
	h.proc = New(cfg, index, cat, det, geofence.NewEvaluator(scorer),
		WithPersister(h.persist),
		WithPublisher(h.pub),
		WithClock(func() time.Time { return t0 }),
	)
	return h
}

func staticFence(id string) model.Geofence {
	return model.Geofence{ID: id, FleetID: "f1", Severity: model.SeverityHigh, Spec: model.StaticGeofence{Boundary: square}}
}

func update(vehicle string, p model.Point, at time.Time) model.LocationUpdate {
	return model.LocationUpdate{VehicleID: vehicle, FleetID: "f1", Position: p, Timestamp: at}
}

func TestFlush_PersistsOnceInSubmissionOrder(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)
	ctx := context.Background()

	subs := []model.LocationUpdate{
		update("v1", outside, t0),
		update("v2", outside, t0.Add(time.Millisecond)),
		update("v1", outside, t0.Add(2*time.Millisecond)),
	}
	for _, u := range subs {
		require.NoError(t, h.proc.Submit(u))
	}
	require.Equal(t, 3, h.proc.Pending())

	stats := h.proc.Flush(ctx)
	assert.Equal(t, 3, stats.Size)
	assert.True(t, stats.Persisted)
	calls := h.persist.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, subs, calls[0])

	stats = h.proc.Flush(ctx)
	assert.Zero(t, stats.Size)
	assert.Len(t, h.persist.Calls(), 1, "empty window must not persist")
}

func TestFlush_StayingInsideEmitsNoTransition(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil, staticFence("sq"))
	ctx := context.Background()

	require.NoError(t, h.proc.Submit(update("v1", inside, t0)))
	stats := h.proc.Flush(ctx)
	assert.Equal(t, 1, stats.Entries)

	require.NoError(t, h.proc.Submit(update("v1", inside, t0.Add(10*time.Second))))
	stats = h.proc.Flush(ctx)
	assert.Zero(t, stats.Entries)
	assert.Zero(t, stats.Exits)

	got := h.pub.breaches("geofence:sq")
	require.Len(t, got, 1)
	assert.Equal(t, model.BreachEntry, got[0].Kind)
	assert.Equal(t, model.SeverityHigh, got[0].Severity)
	assert.Len(t, h.pub.breaches("vehicle:v1"), 1)
	assert.Len(t, h.pub.breaches("fleet:f1"), 1)
}

func TestMembershipVisibleOnlyAfterFlush(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil, staticFence("sq"))

	require.NoError(t, h.proc.Submit(update("v1", inside, t0)))
	assert.Empty(t, h.proc.Membership("v1"))

	h.proc.Flush(context.Background())
	assert.Equal(t, []string{"sq"}, h.proc.Membership("v1"))
}

func TestFlush_SpatialErrorKeepsMembership(t *testing.T) {
	var mu sync.Mutex
	broken := false
	index := funcIndex(func(_ context.Context, vehicleID string, _ model.Point) ([]string, error) {
		mu.Lock()
		defer mu.Unlock()
		if broken && vehicleID == "v1" {
			return nil, errors.New("index unavailable")
		}
		return []string{"sq"}, nil
	})
	h := newHarness(t, Config{}, index, nil, staticFence("sq"))
	ctx := context.Background()

	require.NoError(t, h.proc.Submit(update("v1", inside, t0)))
	h.proc.Flush(ctx)

	mu.Lock()
	broken = true
	mu.Unlock()
	require.NoError(t, h.proc.Submit(update("v1", outside, t0.Add(10*time.Second))))
	require.NoError(t, h.proc.Submit(update("v2", inside, t0.Add(10*time.Second))))
	stats := h.proc.Flush(ctx)

	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Exits)
	assert.Equal(t, 1, stats.Entries, "sibling item still processed")
	assert.Equal(t, []string{"sq"}, h.proc.Membership("v1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(itemFailures.WithLabelValues("spatial")))
}

func TestFlush_PanicIsContained(t *testing.T) {
	index := funcIndex(func(_ context.Context, vehicleID string, _ model.Point) ([]string, error) {
		if vehicleID == "bad" {
			panic("corrupt geometry")
		}
		return []string{"sq"}, nil
	})
	h := newHarness(t, Config{}, index, nil, staticFence("sq"))

	require.NoError(t, h.proc.Submit(update("bad", inside, t0)))
	require.NoError(t, h.proc.Submit(update("good", inside, t0)))
	stats := h.proc.Flush(context.Background())

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, []string{"bad", "good"}, h.pub.locations("fleet:f1"))
}

func TestFlush_ItemTimeoutAbandonsOnlyThatItem(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	index := funcIndex(func(_ context.Context, vehicleID string, _ model.Point) ([]string, error) {
		if vehicleID == "slow" {
			<-release
		}
		return []string{"sq"}, nil
	})
	h := newHarness(t, Config{ItemTimeoutMS: 20, Concurrency: 2}, index, nil, staticFence("sq"))

	require.NoError(t, h.proc.Submit(update("slow", inside, t0)))
	require.NoError(t, h.proc.Submit(update("fast", inside, t0)))
	stats := h.proc.Flush(context.Background())

	assert.Equal(t, 1, stats.TimedOut)
	assert.Equal(t, 1, stats.Entries)
	assert.Empty(t, h.proc.Membership("slow"))
	assert.Equal(t, 1.0, testutil.ToFloat64(itemsTimedOut))
}

// slowEvaluator passes every condition. Its first call sleeps past the item
// timeout without watching ctx.
type slowEvaluator struct {
	calls atomic.Int32
	delay time.Duration
}

func (e *slowEvaluator) Evaluate(context.Context, model.VehicleSnapshot, model.Geofence) (bool, error) {
	if e.calls.Add(1) == 1 {
		time.Sleep(e.delay)
	}
	return true, nil
}

func TestFlush_TimeoutBeforeCommitKeepsEntryForNextUpdate(t *testing.T) {
	ResetMetrics(prometheus.NewRegistry())
	zone := model.Geofence{ID: "zone", FleetID: "f1", Severity: model.SeverityHigh,
		Spec: model.ConditionalGeofence{Boundary: square, Operator: model.OpAnd}}
	cat, err := geofence.NewCatalog(zone)
	require.NoError(t, err)
	pub := &recordingPublisher{}
	proc := New(Config{ItemTimeoutMS: 20}, geo.NewMemoryIndex(cat.All()), cat,
		geofence.NewDetector(geofence.NewStore(8), 5*time.Second),
		&slowEvaluator{delay: 80 * time.Millisecond},
		WithPublisher(pub))

	require.NoError(t, proc.Submit(update("v1", inside, t0)))
	stats := proc.Flush(context.Background())
	assert.Equal(t, 1, stats.TimedOut)
	assert.Zero(t, stats.Entries)

	// Let the abandoned check finish: it must not commit the membership.
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, proc.Membership("v1"))

	require.NoError(t, proc.Submit(update("v1", inside, t0.Add(10*time.Second))))
	stats = proc.Flush(context.Background())
	assert.Zero(t, stats.TimedOut)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, []string{"zone"}, proc.Membership("v1"))
	require.Len(t, pub.breaches("geofence:zone"), 1)
	assert.Equal(t, model.BreachEntry, pub.breaches("geofence:zone")[0].Kind)
}

func TestFlush_ConcurrentSubmitDeliversEachUpdateOnce(t *testing.T) {
	h := newHarness(t, Config{Concurrency: 4}, nil, nil)
	const producers, perProducer = 8, 200

	var wg sync.WaitGroup
	stop := make(chan struct{})
	flushed := make(chan struct{})
	go func() {
		defer close(flushed)
		for {
			select {
			case <-stop:
				h.proc.Flush(context.Background())
				return
			default:
				h.proc.Flush(context.Background())
			}
		}
	}()
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			id := fmt.Sprintf("v%d", p)
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, h.proc.Submit(update(id, outside, t0.Add(time.Duration(i)*time.Millisecond))))
			}
		}(p)
	}
	wg.Wait()
	close(stop)
	<-flushed

	seen := make(map[string][]time.Time)
	total := 0
	for _, call := range h.persist.Calls() {
		for _, u := range call {
			seen[u.VehicleID] = append(seen[u.VehicleID], u.Timestamp)
			total++
		}
	}
	assert.Equal(t, producers*perProducer, total)
	require.Len(t, seen, producers)
	for id, ts := range seen {
		require.Len(t, ts, perProducer, id)
		for i, at := range ts {
			assert.Equal(t, t0.Add(time.Duration(i)*time.Millisecond), at, "%s update %d out of order", id, i)
		}
	}
	assert.Zero(t, h.proc.Pending())
}

func TestQueue_PushAfterCloseIsRejected(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.Push(update("v1", inside, t0)))
	q.Close()
	require.ErrorIs(t, q.Push(update("v2", inside, t0)), ErrClosed)

	drained := q.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, "v1", drained[0].VehicleID)
}

func TestFlush_PersistFailureStillBroadcasts(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil, staticFence("sq"))
	h.persist.err = errors.New("db down")

	require.NoError(t, h.proc.Submit(update("v1", inside, t0)))
	stats := h.proc.Flush(context.Background())

	assert.False(t, stats.Persisted)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, []string{"v1"}, h.pub.locations("fleet:f1"))
	assert.Equal(t, []string{"v1"}, h.pub.locations("vehicle:v1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(persistFailures))
}

func TestFlush_PublishesInDrainOrder(t *testing.T) {
	h := newHarness(t, Config{Concurrency: 4}, nil, nil)
	ids := []string{"v3", "v1", "v2", "v1", "v4"}
	for i, id := range ids {
		require.NoError(t, h.proc.Submit(update(id, outside, t0.Add(time.Duration(i)*time.Millisecond))))
	}
	h.proc.Flush(context.Background())
	assert.Equal(t, ids, h.pub.locations("fleet:f1"))
}

func TestSubmit_RejectsInvalidAndClosed(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)

	err := h.proc.Submit(model.LocationUpdate{VehicleID: "v1", Position: inside, Speed: -1})
	require.ErrorIs(t, err, model.ErrInvalidUpdate)
	assert.Zero(t, h.proc.Pending())

	require.NoError(t, h.proc.Submit(model.LocationUpdate{VehicleID: "v1", Position: inside}))
	h.proc.Flush(context.Background())
	require.Len(t, h.persist.Calls(), 1)
	assert.Equal(t, t0, h.persist.Calls()[0][0].Timestamp, "missing timestamp is stamped")

	h.proc.Close()
	require.ErrorIs(t, h.proc.Submit(update("v1", inside, t0)), ErrClosed)
}

func TestFlush_TemporalGateSuppressesEntryBreach(t *testing.T) {
	school := model.Geofence{ID: "school", Spec: model.TemporalGeofence{
		Boundary: square,
		Schedule: model.DailySchedule{Start: model.TimeOfDay{Hour: 8}, End: model.TimeOfDay{Hour: 9}},
		Timezone: "UTC",
	}}
	h := newHarness(t, Config{}, nil, nil, school)
	ctx := context.Background()

	require.NoError(t, h.proc.Submit(update("v1", inside, t0)))
	stats := h.proc.Flush(ctx)
	assert.Zero(t, stats.Entries)
	assert.Equal(t, []string{"school"}, h.proc.Membership("v1"), "membership follows containment")

	require.NoError(t, h.proc.Submit(update("v1", outside, t0.Add(10*time.Second))))
	stats = h.proc.Flush(ctx)
	assert.Equal(t, 1, stats.Exits, "exits always emit")
}

func TestFlush_SpeedZoneEmitsSpeedBreaches(t *testing.T) {
	zone := model.Geofence{ID: "slow", Spec: model.ConditionalGeofence{
		Boundary:   square,
		Conditions: []model.Condition{model.SpeedCondition{Op: model.OpGT, Value: 50}},
		Operator:   model.OpAnd,
	}}
	h := newHarness(t, Config{}, nil, nil, zone)
	ctx := context.Background()

	fast := func(at time.Duration, speed float64) {
		u := update("v1", inside, t0.Add(at))
		u.Speed = speed
		require.NoError(t, h.proc.Submit(u))
		h.proc.Flush(ctx)
	}
	fast(0, 80)
	fast(6*time.Second, 90)
	fast(7*time.Second, 90)
	fast(20*time.Second, 30)

	got := h.pub.breaches("geofence:slow")
	require.Len(t, got, 2)
	for _, b := range got {
		assert.Equal(t, model.BreachSpeed, b.Kind)
	}
	assert.Equal(t, t0.Add(6*time.Second), got[1].Timestamp)
}

func TestFlush_DwellBreachOncePerStay(t *testing.T) {
	depot := staticFence("depot")
	depot.Spec = model.StaticGeofence{Boundary: square, DwellTimeS: 60}
	h := newHarness(t, Config{}, nil, nil, depot)
	ctx := context.Background()

	for _, at := range []time.Duration{0, 30 * time.Second, 61 * time.Second, 200 * time.Second} {
		require.NoError(t, h.proc.Submit(update("v1", inside, t0.Add(at))))
		h.proc.Flush(ctx)
	}
	got := h.pub.breaches("geofence:depot")
	require.Len(t, got, 2)
	assert.Equal(t, model.BreachEntry, got[0].Kind)
	assert.Equal(t, model.BreachDwell, got[1].Kind)
	assert.Equal(t, t0.Add(61*time.Second), got[1].Timestamp)
}

func TestFlush_HysteresisBufferRetainsMembership(t *testing.T) {
	yard := staticFence("yard")
	yard.Spec = model.StaticGeofence{Boundary: square, HysteresisBufferM: 500}
	h := newHarness(t, Config{}, nil, nil, yard)
	ctx := context.Background()

	require.NoError(t, h.proc.Submit(update("v1", inside, t0)))
	h.proc.Flush(ctx)

	// about 110 m east of the boundary
	require.NoError(t, h.proc.Submit(update("v1", model.Point{Lon: 1.001, Lat: 0.5}, t0.Add(10*time.Second))))
	stats := h.proc.Flush(ctx)
	assert.Zero(t, stats.Exits)
	assert.Equal(t, []string{"yard"}, h.proc.Membership("v1"))

	require.NoError(t, h.proc.Submit(update("v1", model.Point{Lon: 1.1, Lat: 0.5}, t0.Add(20*time.Second))))
	stats = h.proc.Flush(ctx)
	assert.Equal(t, 1, stats.Exits)
	assert.Empty(t, h.proc.Membership("v1"))
}

func TestFlush_PredictiveFence(t *testing.T) {
	flood := model.Geofence{ID: "flood", FleetID: "f1", Severity: model.SeverityCritical, Spec: model.PredictiveGeofence{
		ModelID: "river", WindowMin: 30, ConfidenceThreshold: 0.7,
	}}
	scorer := prediction.StaticScorer{Scores: map[string]map[string]float64{
		"river": {"v1": 0.9, "*": 0.1},
	}}
	h := newHarness(t, Config{}, nil, scorer, flood)

	require.NoError(t, h.proc.Submit(update("v1", outside, t0)))
	require.NoError(t, h.proc.Submit(update("v2", outside, t0)))
	stats := h.proc.Flush(context.Background())

	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, []string{"flood"}, h.proc.Membership("v1"))
	assert.Empty(t, h.proc.Membership("v2"))
	got := h.pub.breaches("geofence:flood")
	require.Len(t, got, 1)
	assert.Equal(t, model.SeverityCritical, got[0].Severity)
}

func TestRun_FlushesOnCancel(t *testing.T) {
	h := newHarness(t, Config{FlushIntervalMS: 3_600_000}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.proc.Run(ctx)
		close(done)
	}()

	require.NoError(t, h.proc.Submit(update("v1", outside, t0)))
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Len(t, h.persist.Calls(), 1)
	require.ErrorIs(t, h.proc.Submit(update("v1", outside, t0)), ErrClosed)
}

func TestRun_FlushesOnTick(t *testing.T) {
	h := newHarness(t, Config{FlushIntervalMS: 10}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.proc.Run(ctx)

	require.NoError(t, h.proc.Submit(update("v1", outside, t0)))
	require.Eventually(t, func() bool { return len(h.persist.Calls()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	require.NoError(t, c.Validate())
	assert.Equal(t, 100*time.Millisecond, c.FlushInterval())
	assert.Equal(t, 5*time.Second, c.ItemTimeout())
	assert.Positive(t, c.Workers())
	assert.Equal(t, 3, Config{Concurrency: 3}.Workers())
	assert.Error(t, Config{Concurrency: -1}.Validate())
}
