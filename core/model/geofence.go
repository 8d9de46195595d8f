package model

import (
	"fmt"
	"time"
)

// Severity qualifies how urgent a breach of a geofence is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Polygon is a closed ring of points. The closing point may be omitted.
type Polygon []Point

// Geofence is a named region with the rule set governing it. Exactly one
// variant is carried in Spec.
type Geofence struct {
	ID       string
	Name     string
	FleetID  string
	Severity Severity
	Spec     GeofenceSpec
}

// GeofenceKind names the variant of a geofence.
type GeofenceKind string

const (
	KindStatic      GeofenceKind = "static"
	KindDynamic     GeofenceKind = "dynamic"
	KindTemporal    GeofenceKind = "temporal"
	KindConditional GeofenceKind = "conditional"
	KindPredictive  GeofenceKind = "predictive"
)

// GeofenceSpec is implemented by the geofence variants of this package only.
type GeofenceSpec interface {
	Kind() GeofenceKind
	isGeofenceSpec()
}

// StaticGeofence is a fixed polygon.
type StaticGeofence struct {
	Boundary          Polygon
	HysteresisBufferM float64
	DwellTimeS        int
}

// DynamicGeofence is a circle following another vehicle.
type DynamicGeofence struct {
	CenterVehicleID string
	RadiusM         float64
	Follow          bool
}

// TemporalGeofence is a polygon that is only active during a schedule.
type TemporalGeofence struct {
	Boundary Polygon
	Schedule Schedule
	Timezone string
}

// ConditionalGeofence is a polygon whose breach depends on vehicle conditions.
type ConditionalGeofence struct {
	Boundary   Polygon
	Conditions []Condition
	Operator   LogicalOperator
}

// PredictiveGeofence has no boundary: membership is the outcome of a risk model.
type PredictiveGeofence struct {
	ModelID             string
	WindowMin           int
	ConfidenceThreshold float64
}

func (StaticGeofence) Kind() GeofenceKind      { return KindStatic }
func (DynamicGeofence) Kind() GeofenceKind     { return KindDynamic }
func (TemporalGeofence) Kind() GeofenceKind    { return KindTemporal }
func (ConditionalGeofence) Kind() GeofenceKind { return KindConditional }
func (PredictiveGeofence) Kind() GeofenceKind  { return KindPredictive }

func (StaticGeofence) isGeofenceSpec()      {}
func (DynamicGeofence) isGeofenceSpec()     {}
func (TemporalGeofence) isGeofenceSpec()    {}
func (ConditionalGeofence) isGeofenceSpec() {}
func (PredictiveGeofence) isGeofenceSpec()  {}

// LogicalOperator combines the conditions of a ConditionalGeofence.
type LogicalOperator string

const (
	OpAnd LogicalOperator = "AND"
	OpOr  LogicalOperator = "OR"
	OpNot LogicalOperator = "NOT"
)

// Operator compares a vehicle field with a condition value.
type Operator string

const (
	OpGT  Operator = "gt"
	OpLT  Operator = "lt"
	OpEQ  Operator = "eq"
	OpGTE Operator = "gte"
	OpLTE Operator = "lte"
)

// Condition is implemented by the condition variants of this package only.
type Condition interface {
	isCondition()
}

type SpeedCondition struct {
	Op    Operator
	Value float64
}

// TimeCondition holds when the local time of day is within [Start, End).
type TimeCondition struct {
	Start TimeOfDay
	End   TimeOfDay
}

type VehicleTypeCondition struct {
	Allowed []string
}

type BatteryCondition struct {
	Op    Operator
	Value float64
}

// CustomCondition is a boolean expression over the vehicle fields (speed,
// heading, accuracy, lat, lon, battery_level, vehicle_type) and Variables,
// such as "speed gt limit and heading lt 180". Comparisons accept the
// condition operator keywords or their symbols.
type CustomCondition struct {
	Expression string
	Variables  map[string]float64
}

func (SpeedCondition) isCondition()       {}
func (TimeCondition) isCondition()        {}
func (VehicleTypeCondition) isCondition() {}
func (BatteryCondition) isCondition()     {}
func (CustomCondition) isCondition()      {}

// TimeOfDay is a wall clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Minutes returns the number of minutes since midnight.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Within reports whether the clock time of at lies in [start, end). A range
// whose end is before its start wraps past midnight.
func Within(at time.Time, start, end TimeOfDay) bool {
	m := at.Hour()*60 + at.Minute()
	s, e := start.Minutes(), end.Minutes()
	if s <= e {
		return m >= s && m < e
	}
	return m >= s || m < e
}

// Schedule is implemented by the schedule variants of this package only.
type Schedule interface {
	isSchedule()
}

// DailySchedule is active on the listed weekdays between Start and End.
type DailySchedule struct {
	Days  []time.Weekday
	Start TimeOfDay
	End   TimeOfDay
}

// WeeklySchedule is active when any of its daily schedules is.
type WeeklySchedule struct {
	Days []DailySchedule
}

// HolidaySchedule is active on the listed dates ("2006-01-02") that are not exceptions.
type HolidaySchedule struct {
	Dates      []string
	Exceptions []string
}

func (DailySchedule) isSchedule()   {}
func (WeeklySchedule) isSchedule()  {}
func (HolidaySchedule) isSchedule() {}
