package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetpulse/core/model"
)

func TestTopics(t *testing.T) {
	assert.Equal(t, "fleet:f1", FleetTopic("f1"))
	assert.Equal(t, "fleet:default", FleetTopic(""))
	assert.Equal(t, "vehicle:v1", VehicleTopic("v1"))
	assert.Equal(t, "geofence:g1", GeofenceTopic("g1"))

	assert.True(t, ValidTopic("geofence:g1"))
	assert.False(t, ValidTopic("geofence:"))
	assert.False(t, ValidTopic("route:r1"))
	assert.False(t, ValidTopic("fleet"))
}

func TestEnvelopeMarshal(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	env := New(TypeBreach, at, model.BreachEvent{VehicleID: "v1", GeofenceID: "g1", Kind: model.BreachExit})
	env.Topic = GeofenceTopic("g1")
	require.NotEmpty(t, env.ID)

	b, err := env.Marshal()
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "geofence:g1", got["topic"])
	assert.Equal(t, "breach", got["type"])
	payload := got["payload"].(map[string]any)
	assert.Equal(t, "exit", payload["kind"])
	assert.NotEqual(t, env.ID, New(TypeBreach, at, nil).ID)
}

func TestRequestKind(t *testing.T) {
	assert.Equal(t, "service", RequestKind(model.ServiceRequest{}))
	assert.Equal(t, "emergency", RequestKind(model.EmergencyRequest{}))
	assert.Equal(t, "scheduled", RequestKind(model.ScheduledRequest{}))
}
