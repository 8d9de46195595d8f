package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority of a service request.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// RequestInfo holds the fields shared by every dispatch request.
type RequestInfo struct {
	ID        string    `json:"id"`
	FleetID   string    `json:"fleet_id"`
	Location  Point     `json:"location"`
	CreatedAt time.Time `json:"created_at"`
}

// DispatchRequest is implemented by ServiceRequest, EmergencyRequest and
// ScheduledRequest.
type DispatchRequest interface {
	Info() RequestInfo
	isDispatchRequest()
}

type ServiceRequest struct {
	RequestInfo
	Priority     Priority
	ServiceType  string
	DurationEst  time.Duration
	Requirements []string
	CustomerID   string
}

type EmergencyRequest struct {
	RequestInfo
	EmergencyType string
	Severity      int // 1..5
	ReportedBy    string
}

type ScheduledRequest struct {
	RequestInfo
	ScheduledTime time.Time
	WindowMin     int
	Recurring     bool
}

func (r ServiceRequest) Info() RequestInfo   { return r.RequestInfo }
func (r EmergencyRequest) Info() RequestInfo { return r.RequestInfo }
func (r ScheduledRequest) Info() RequestInfo { return r.RequestInfo }

func (ServiceRequest) isDispatchRequest()   {}
func (EmergencyRequest) isDispatchRequest() {}
func (ScheduledRequest) isDispatchRequest() {}

// Decision reasons.
const (
	ReasonNoEmergencyVehicles = "no_emergency_vehicles_available"
	ReasonNoVehicles          = "no_vehicles_available"
	ReasonInvalidRequest      = "invalid_request"
	ReasonPoolUnavailable     = "vehicle_pool_unavailable"
)

// DispatchDecision is the terminal outcome of one request.
type DispatchDecision interface {
	Request() string
	isDispatchDecision()
}

type VehicleAssigned struct {
	RequestID string
	VehicleID string
	ETA       time.Duration
	RouteRef  string
	Score     float64
	DecidedAt time.Time
}

type AssignmentDeferred struct {
	RequestID    string
	Reason       string
	RetryAfter   time.Time
	Alternatives []string
}

type RequestRejected struct {
	RequestID    string
	Reason       string
	Alternatives []string
}

func (d VehicleAssigned) Request() string    { return d.RequestID }
func (d AssignmentDeferred) Request() string { return d.RequestID }
func (d RequestRejected) Request() string    { return d.RequestID }

func (VehicleAssigned) isDispatchDecision()    {}
func (AssignmentDeferred) isDispatchDecision() {}
func (RequestRejected) isDispatchDecision()    {}

// VehicleCandidate is a read-only snapshot of a vehicle that may be assigned.
type VehicleCandidate struct {
	ID                 string   `json:"id"`
	FleetID            string   `json:"fleet_id,omitempty"`
	Location           Point    `json:"location"`
	Speed              float64  `json:"speed"`
	BatteryLevel       *float64 `json:"battery_level,omitempty"`
	VehicleType        string   `json:"vehicle_type"`
	Capabilities       []string `json:"capabilities"`
	CurrentUtilization float64  `json:"current_utilization"` // 0..1
	Rating             float64  `json:"rating"`              // 0..5
	EmergencyCapable   bool     `json:"emergency_capable"`
	Available          bool     `json:"available"`
}

// DecisionView is the flat, serialisable form of a DispatchDecision.
type DecisionView struct {
	Kind         string    `json:"kind"`
	RequestID    string    `json:"request_id"`
	VehicleID    string    `json:"vehicle_id,omitempty"`
	ETASeconds   float64   `json:"eta_seconds,omitempty"`
	RouteRef     string    `json:"route_ref,omitempty"`
	Score        float64   `json:"assignment_score,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	RetryAfter   time.Time `json:"retry_after,omitempty"`
	Alternatives []string  `json:"alternatives,omitempty"`
	DecidedAt    time.Time `json:"decided_at,omitempty"`
}

// Decision kinds used in DecisionView.Kind.
const (
	DecisionAssigned = "assigned"
	DecisionDeferred = "deferred"
	DecisionRejected = "rejected"
)

// DescribeDecision flattens a decision.
func DescribeDecision(d DispatchDecision) DecisionView {
	switch v := d.(type) {
	case VehicleAssigned:
		return DecisionView{
			Kind:       DecisionAssigned,
			RequestID:  v.RequestID,
			VehicleID:  v.VehicleID,
			ETASeconds: v.ETA.Seconds(),
			RouteRef:   v.RouteRef,
			Score:      v.Score,
			DecidedAt:  v.DecidedAt,
		}
	case AssignmentDeferred:
		return DecisionView{
			Kind:         DecisionDeferred,
			RequestID:    v.RequestID,
			Reason:       v.Reason,
			RetryAfter:   v.RetryAfter,
			Alternatives: v.Alternatives,
		}
	case RequestRejected:
		return DecisionView{
			Kind:         DecisionRejected,
			RequestID:    v.RequestID,
			Reason:       v.Reason,
			Alternatives: v.Alternatives,
		}
	default:
		panic(fmt.Sprintf("model: unhandled decision %T", d))
	}
}

// RequestEnvelope is the JSON form of a DispatchRequest. Kind selects the
// variant; only the fields of that variant are read.
type RequestEnvelope struct {
	Kind string `json:"kind"` // service | emergency | scheduled
	RequestInfo

	Priority       Priority `json:"priority,omitempty"`
	ServiceType    string   `json:"service_type,omitempty"`
	DurationEstMin float64  `json:"duration_est_min,omitempty"`
	Requirements   []string `json:"requirements,omitempty"`
	CustomerID     string   `json:"customer_id,omitempty"`

	EmergencyType string `json:"emergency_type,omitempty"`
	Severity      int    `json:"severity,omitempty"`
	ReportedBy    string `json:"reported_by,omitempty"`

	ScheduledTime time.Time `json:"scheduled_time,omitempty"`
	WindowMin     int       `json:"window_min,omitempty"`
	Recurring     bool      `json:"recurring,omitempty"`
}

// ToRequest converts the envelope into its variant.
func (e RequestEnvelope) ToRequest() (DispatchRequest, error) {
	switch e.Kind {
	case "service", "":
		return ServiceRequest{
			RequestInfo:  e.RequestInfo,
			Priority:     e.Priority,
			ServiceType:  e.ServiceType,
			DurationEst:  time.Duration(e.DurationEstMin * float64(time.Minute)),
			Requirements: e.Requirements,
			CustomerID:   e.CustomerID,
		}, nil
	case "emergency":
		return EmergencyRequest{
			RequestInfo:   e.RequestInfo,
			EmergencyType: e.EmergencyType,
			Severity:      e.Severity,
			ReportedBy:    e.ReportedBy,
		}, nil
	case "scheduled":
		return ScheduledRequest{
			RequestInfo:   e.RequestInfo,
			ScheduledTime: e.ScheduledTime,
			WindowMin:     e.WindowMin,
			Recurring:     e.Recurring,
		}, nil
	default:
		return nil, fmt.Errorf("unknown request kind %q", e.Kind)
	}
}

// DecodeRequest parses a JSON request envelope.
func DecodeRequest(b []byte) (DispatchRequest, error) {
	var env RequestEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return env.ToRequest()
}
