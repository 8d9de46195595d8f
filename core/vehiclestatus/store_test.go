package vehiclestatus

import (
	"context"
	"testing"
	"time"

	"github.com/kilianp07/fleetpulse/core/model"
)

func update(id, fleet string, at time.Time) model.LocationUpdate {
	return model.LocationUpdate{VehicleID: id, FleetID: fleet, Position: model.Point{Lat: 48.85, Lon: 2.35}, Timestamp: at}
}

func TestMemoryStore_Filter(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	_ = s.Upsert(context.Background(), []model.LocationUpdate{update("v1", "f1", now), update("v2", "f2", now)})
	out := s.List(Filter{FleetID: "f1"})
	if len(out) != 1 || out[0].Last.VehicleID != "v1" {
		t.Fatalf("filter failed: %#v", out)
	}
}

func TestMemoryStore_KeepsNewest(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	ctx := context.Background()
	newer := update("v1", "f1", now)
	newer.Speed = 40
	_ = s.Upsert(ctx, []model.LocationUpdate{newer})
	_ = s.Upsert(ctx, []model.LocationUpdate{update("v1", "f1", now.Add(-time.Minute))})
	c, ok, err := s.Vehicle(ctx, "v1")
	if err != nil || !ok {
		t.Fatalf("vehicle: %v %v", ok, err)
	}
	if c.Speed != 40 {
		t.Fatalf("older update replaced newer: %#v", c)
	}
}

func TestMemoryStore_AvailableDefaultFleetAndProfile(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Upsert(ctx, []model.LocationUpdate{update("v2", "", time.Now()), update("v1", "", time.Now())})
	_ = s.SetProfile(ctx, model.VehicleCandidate{ID: "v2", Rating: 4, CurrentUtilization: 0.5, Capabilities: []string{"medical"}})
	// a profile alone is not a live vehicle
	_ = s.SetProfile(ctx, model.VehicleCandidate{ID: "v9", Available: true})

	out, err := s.Available(ctx, "")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(out) != 2 || out[0].ID != "v1" || out[1].ID != "v2" {
		t.Fatalf("unexpected candidates %#v", out)
	}
	if !out[0].Available {
		t.Fatalf("vehicle without profile should be available")
	}
	if out[1].Available || out[1].Rating != 4 || out[1].Capabilities[0] != "medical" {
		t.Fatalf("profile not merged: %#v", out[1])
	}
}

func TestMemoryStore_TTL(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	s := NewMemoryStore(WithTTL(time.Minute), WithClock(func() time.Time { return clock }))
	ctx := context.Background()
	_ = s.Upsert(ctx, []model.LocationUpdate{update("v1", "f1", now)})
	clock = now.Add(2 * time.Minute)
	out, _ := s.Available(ctx, "f1")
	if len(out) != 0 {
		t.Fatalf("stale vehicle listed: %#v", out)
	}
}
