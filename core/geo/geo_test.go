package geo

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetpulse/core/model"
)

var square = model.Polygon{{Lon: 0, Lat: 0}, {Lon: 0, Lat: 1}, {Lon: 1, Lat: 1}, {Lon: 1, Lat: 0}}

func TestDistance(t *testing.T) {
	paris := model.Point{Lon: 2.3522, Lat: 48.8566}
	london := model.Point{Lon: -0.1276, Lat: 51.5072}
	d := DistanceKm(paris, london)
	if math.Abs(d-343.5) > 2 {
		t.Fatalf("unexpected distance %.1f km", d)
	}
	if DistanceM(paris, paris) != 0 {
		t.Fatal("distance to self must be zero")
	}
}

func TestContains(t *testing.T) {
	assert.True(t, Contains(square, model.Point{Lon: 0.5, Lat: 0.5}))
	assert.False(t, Contains(square, model.Point{Lon: 1.5, Lat: 0.5}))
	assert.False(t, Contains(square, model.Point{Lon: 0.5, Lat: -0.1}))
	assert.False(t, Contains(nil, model.Point{}))

	closed := append(model.Polygon{}, square...)
	closed = append(closed, square[0])
	assert.True(t, Contains(closed, model.Point{Lon: 0.25, Lat: 0.75}), "explicitly closed ring")
	assert.Len(t, Ring(square), 5)
	assert.Len(t, Ring(closed), 5)
	assert.Len(t, square, 4, "Ring does not modify its input")
}

func TestDistanceToBoundary(t *testing.T) {
	// 0.001 degrees of latitude is roughly 111 m.
	d := DistanceToBoundaryM(square, model.Point{Lon: 0.5, Lat: 1.001})
	assert.InDelta(t, 111.2, d, 1)
	d = DistanceToBoundaryM(square, model.Point{Lon: 0.5, Lat: 0.5})
	assert.Greater(t, d, 50_000.0)
	// the implicit closing edge runs along the equator
	d = DistanceToBoundaryM(square, model.Point{Lon: 0.5, Lat: -0.001})
	assert.InDelta(t, 111.3, d, 1)
	assert.True(t, math.IsInf(DistanceToBoundaryM(nil, model.Point{}), 1))
}

func TestMemoryIndex(t *testing.T) {
	idx := NewMemoryIndex([]model.Geofence{
		{ID: "sq", Spec: model.StaticGeofence{Boundary: square}},
		{ID: "escort", Spec: model.DynamicGeofence{CenterVehicleID: "lead", RadiusM: 500}},
		{ID: "p", Spec: model.PredictiveGeofence{ModelID: "m", WindowMin: 1}},
	})
	ctx := context.Background()
	p := model.Point{Lon: 0.5, Lat: 0.5}

	ids, err := idx.Containing(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"sq"}, ids, "dynamic geofence without a known center")

	idx.ObservePosition("lead", model.Point{Lon: 0.501, Lat: 0.5})
	ids, _ = idx.ContainingFor(ctx, "follower", p)
	assert.Equal(t, []string{"escort", "sq"}, ids)
	ids, _ = idx.ContainingFor(ctx, "lead", p)
	assert.Equal(t, []string{"sq"}, ids, "a vehicle is not inside its own escort zone")

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = idx.Containing(cctx, p)
	assert.Error(t, err)
}

func TestStraightLineRouter(t *testing.T) {
	r := StraightLineRouter{SpeedKmh: 60}
	from := model.Point{Lon: 0, Lat: 0}
	to := model.Point{Lon: 0, Lat: 0.5} // ~55.6 km
	eta, ref, err := r.Route(context.Background(), from, to)
	require.NoError(t, err)
	assert.InDelta(t, (55*time.Minute + 36*time.Second).Seconds(), eta.Seconds(), 30)
	assert.Contains(t, ref, "direct:")
}
