package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetpulse/core/model"
)

var t0 = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func ptr(v float64) *float64 { return &v }

func TestFleetState_UpsertKeepsLastPerVehicle(t *testing.T) {
	mr, client := newRedis(t)
	s := NewFleetState(client, Config{})
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []model.LocationUpdate{
		{VehicleID: "v1", FleetID: "f1", Position: model.Point{Lat: 48.80, Lon: 2.30}, Timestamp: t0, BatteryLevel: ptr(80)},
		{VehicleID: "v1", FleetID: "f1", Position: model.Point{Lat: 48.85, Lon: 2.35}, Timestamp: t0.Add(time.Second), Speed: 20},
	}))

	assert.Equal(t, "48.85", mr.HGet("vehicle:v1:state", "lat"))
	assert.Equal(t, "20", mr.HGet("vehicle:v1:state", "speed"))
	assert.Empty(t, mr.HGet("vehicle:v1:state", "battery_level"))
	assert.Equal(t, 300*time.Second, mr.TTL("vehicle:v1:state"))

	members, err := mr.ZMembers("fleet:f1:geo")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, members)
}

func TestFleetState_Available(t *testing.T) {
	mr, client := newRedis(t)
	s := NewFleetState(client, Config{StateTTLSeconds: 60})
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []model.LocationUpdate{
		{VehicleID: "v2", FleetID: "f1", Position: model.Point{Lat: 48.86, Lon: 2.36}, Timestamp: t0, BatteryLevel: ptr(55)},
		{VehicleID: "v1", FleetID: "f1", Position: model.Point{Lat: 48.85, Lon: 2.35}, Timestamp: t0, VehicleType: "van"},
		{VehicleID: "v3", FleetID: "f2", Position: model.Point{Lat: 45.0, Lon: 5.0}, Timestamp: t0},
	}))
	require.NoError(t, s.SetProfile(ctx, model.VehicleCandidate{
		ID: "v2", Available: false, CurrentUtilization: 0.5, Rating: 4.5,
		EmergencyCapable: true, Capabilities: []string{"medical", "oxygen"}, VehicleType: "ambulance",
	}))

	got, err := s.Available(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "v1", got[0].ID)
	assert.True(t, got[0].Available, "no profile means available")
	assert.Equal(t, "van", got[0].VehicleType)
	assert.InDelta(t, 48.85, got[0].Location.Lat, 1e-9)

	v2 := got[1]
	assert.False(t, v2.Available)
	assert.True(t, v2.EmergencyCapable)
	assert.Equal(t, []string{"medical", "oxygen"}, v2.Capabilities)
	assert.Equal(t, "ambulance", v2.VehicleType)
	assert.InDelta(t, 0.5, v2.CurrentUtilization, 1e-9)
	require.NotNil(t, v2.BatteryLevel)
	assert.InDelta(t, 55, *v2.BatteryLevel, 1e-9)

	// positions expire, the fleet set is pruned
	mr.FastForward(61 * time.Second)
	got, err = s.Available(ctx, "f1")
	require.NoError(t, err)
	assert.Empty(t, got)
	members, _ := mr.ZMembers("fleet:f1:geo")
	assert.Empty(t, members)
}

func TestFleetState_MovedVehicle(t *testing.T) {
	_, client := newRedis(t)
	s := NewFleetState(client, Config{})
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []model.LocationUpdate{{VehicleID: "v1", FleetID: "f1", Position: model.Point{Lat: 1, Lon: 1}}}))
	require.NoError(t, s.Upsert(ctx, []model.LocationUpdate{{VehicleID: "v1", FleetID: "f2", Position: model.Point{Lat: 1, Lon: 1}}}))

	f1, err := s.Available(ctx, "f1")
	require.NoError(t, err)
	assert.Empty(t, f1)
	f2, err := s.Available(ctx, "f2")
	require.NoError(t, err)
	assert.Len(t, f2, 1)
}

func TestFleetState_DefaultFleet(t *testing.T) {
	_, client := newRedis(t)
	s := NewFleetState(client, Config{})
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, []model.LocationUpdate{{VehicleID: "v1", Position: model.Point{Lat: 1, Lon: 1}}}))

	got, err := s.Available(ctx, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "default", got[0].FleetID)
}

func TestFleetState_Vehicle(t *testing.T) {
	_, client := newRedis(t)
	s := NewFleetState(client, Config{})
	ctx := context.Background()

	_, ok, err := s.Vehicle(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetProfile(ctx, model.VehicleCandidate{ID: "v1", VehicleType: "truck", Available: true}))
	v, ok, err := s.Vehicle(ctx, "v1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "truck", v.VehicleType)
	assert.Nil(t, v.BatteryLevel)
}

func TestFleetState_ServerDown(t *testing.T) {
	mr, client := newRedis(t)
	s := NewFleetState(client, Config{})
	mr.Close()

	_, err := s.Available(context.Background(), "f1")
	require.Error(t, err)
	require.Error(t, s.Upsert(context.Background(), []model.LocationUpdate{{VehicleID: "v1"}}))
}

func TestRelay_Publish(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()
	sub := client.Subscribe(ctx, "fp:fleet:f1")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	r := NewRelayWithClient(client, "fp:")
	assert.Equal(t, "redis", r.Name())
	require.NoError(t, r.Relay(ctx, "fleet:f1", []byte(`{"id":"e1"}`)))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, `{"id":"e1"}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("message not relayed")
	}
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), Config{Addr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	mr.Close()
	_, err = Connect(context.Background(), Config{Addr: mr.Addr()})
	require.Error(t, err)
}
