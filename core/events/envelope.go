package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/fleetpulse/core/model"
)

// Event types.
const (
	TypeLocation = "location"
	TypeBreach   = "breach"
	TypeDecision = "decision"
)

// DefaultFleet scopes vehicles that report no fleet.
const DefaultFleet = "default"

// Envelope is the unit delivered to subscribers and relays.
type Envelope struct {
	ID      string    `json:"id"`
	Topic   string    `json:"topic"`
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// New wraps payload in an envelope with a fresh id. Topic is set on publish.
func New(typ string, at time.Time, payload any) Envelope {
	return Envelope{ID: uuid.NewString(), Type: typ, Time: at, Payload: payload}
}

// Marshal encodes the envelope as JSON.
func (e Envelope) Marshal() ([]byte, error) { return json.Marshal(e) }

// Publisher delivers an envelope to the subscribers of a topic.
type Publisher interface {
	Publish(topic string, env Envelope)
}

func FleetTopic(fleetID string) string {
	if fleetID == "" {
		fleetID = DefaultFleet
	}
	return "fleet:" + fleetID
}

func VehicleTopic(vehicleID string) string { return "vehicle:" + vehicleID }

func GeofenceTopic(geofenceID string) string { return "geofence:" + geofenceID }

// ValidTopic reports whether topic uses one of the known scopes and has a
// non-empty id.
func ValidTopic(topic string) bool {
	scope, id, ok := strings.Cut(topic, ":")
	if !ok || id == "" {
		return false
	}
	switch scope {
	case "fleet", "vehicle", "geofence":
		return true
	}
	return false
}

// LocationPayload is the payload of a location event.
type LocationPayload struct {
	Update model.LocationUpdate `json:"update"`
}

// DecisionPayload is the payload of a decision event.
type DecisionPayload struct {
	RequestKind string             `json:"request_kind"`
	FleetID     string             `json:"fleet_id,omitempty"`
	Decision    model.DecisionView `json:"decision"`
}

// RequestKind names the variant of a dispatch request.
func RequestKind(r model.DispatchRequest) string {
	switch r.(type) {
	case model.ServiceRequest:
		return "service"
	case model.EmergencyRequest:
		return "emergency"
	case model.ScheduledRequest:
		return "scheduled"
	default:
		return "unknown"
	}
}
