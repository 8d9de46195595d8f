package geofence

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/kilianp07/fleetpulse/core/model"
	"github.com/kilianp07/fleetpulse/core/prediction"
)

// floatEpsilon is the tolerance of the eq operator.
const floatEpsilon = 1e-9

// Evaluator decides whether a vehicle inside a geofence breaches it.
type Evaluator struct {
	scorer prediction.RiskScorer
	now    func() time.Time

	locMu     sync.RWMutex
	locations map[string]*time.Location
}

// EvaluatorOption customises an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithClock sets the clock used when a snapshot carries no timestamp.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEvaluator returns an Evaluator. scorer may be nil when no predictive
// geofence is configured.
func NewEvaluator(scorer prediction.RiskScorer, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{scorer: scorer, now: time.Now, locations: make(map[string]*time.Location)}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate dispatches on the geofence variant. Definition defects are
// returned as *DefinitionError; scorer failures are returned unchanged.
func (e *Evaluator) Evaluate(ctx context.Context, snap model.VehicleSnapshot, g model.Geofence) (bool, error) {
	at := snap.Timestamp
	if at.IsZero() {
		at = e.now()
	}
	switch spec := g.Spec.(type) {
	case model.StaticGeofence, model.DynamicGeofence:
		return true, nil
	case model.TemporalGeofence:
		loc, err := e.location(spec.Timezone)
		if err != nil {
			return false, &DefinitionError{GeofenceID: g.ID, Err: fmt.Errorf("%w: timezone %q: %v", ErrMalformedGeofence, spec.Timezone, err)}
		}
		ok, err := ScheduleActive(spec.Schedule, at.In(loc))
		if err != nil {
			return false, &DefinitionError{GeofenceID: g.ID, Err: err}
		}
		return ok, nil
	case model.ConditionalGeofence:
		ok, err := EvaluateConditions(snap, at, spec.Conditions, spec.Operator)
		if err != nil {
			return false, &DefinitionError{GeofenceID: g.ID, Err: err}
		}
		return ok, nil
	case model.PredictiveGeofence:
		if e.scorer == nil {
			return false, definitionErr(g.ID, ErrMalformedGeofence, "no risk scorer for model %q", spec.ModelID)
		}
		score, err := e.scorer.Score(ctx, spec.ModelID, snap, time.Duration(spec.WindowMin)*time.Minute)
		if err != nil {
			return false, fmt.Errorf("risk score %s: %w", g.ID, err)
		}
		return score >= spec.ConfidenceThreshold, nil
	case nil:
		return false, definitionErr(g.ID, ErrMalformedGeofence, "no variant")
	default:
		return false, definitionErr(g.ID, ErrMalformedGeofence, "unsupported variant %T", spec)
	}
}

func (e *Evaluator) location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	e.locMu.RLock()
	loc, ok := e.locations[name]
	e.locMu.RUnlock()
	if ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	e.locMu.Lock()
	e.locations[name] = loc
	e.locMu.Unlock()
	return loc, nil
}

// ScheduleActive reports whether local falls within the schedule. local must
// already be expressed in the geofence's timezone.
func ScheduleActive(s model.Schedule, local time.Time) (bool, error) {
	switch v := s.(type) {
	case model.DailySchedule:
		return dailyActive(v, local), nil
	case model.WeeklySchedule:
		for _, d := range v.Days {
			if dailyActive(d, local) {
				return true, nil
			}
		}
		return false, nil
	case model.HolidaySchedule:
		date := local.Format(time.DateOnly)
		return slices.Contains(v.Dates, date) && !slices.Contains(v.Exceptions, date), nil
	case nil:
		return false, fmt.Errorf("%w: missing schedule", ErrMalformedGeofence)
	default:
		return false, fmt.Errorf("%w: unsupported schedule %T", ErrMalformedGeofence, s)
	}
}

// dailyActive checks the weekday of local and the time range. A range that
// wraps past midnight belongs to the day it starts on.
func dailyActive(d model.DailySchedule, local time.Time) bool {
	if !model.Within(local, d.Start, d.End) {
		return false
	}
	day := local.Weekday()
	wraps := d.Start.Minutes() > d.End.Minutes()
	if wraps && local.Hour()*60+local.Minute() < d.End.Minutes() {
		day = (day + 6) % 7
	}
	return len(d.Days) == 0 || slices.Contains(d.Days, day)
}

// EvaluateConditions reduces conds with op. AND stops at the first false
// condition and OR at the first true one. NOT is the negation of AND. An
// empty list is true under AND and OR.
func EvaluateConditions(snap model.VehicleSnapshot, at time.Time, conds []model.Condition, op model.LogicalOperator) (bool, error) {
	switch op {
	case model.OpAnd, "":
		return all(snap, at, conds)
	case model.OpOr:
		for _, c := range conds {
			ok, err := EvaluateSingle(snap, at, c)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return len(conds) == 0, nil
	case model.OpNot:
		ok, err := all(snap, at, conds)
		return !ok, err
	default:
		return false, fmt.Errorf("%w: logical operator %q", ErrUnknownOperator, op)
	}
}

func all(snap model.VehicleSnapshot, at time.Time, conds []model.Condition) (bool, error) {
	for _, c := range conds {
		ok, err := EvaluateSingle(snap, at, c)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// EvaluateSingle compares one vehicle field against the condition. A battery
// condition fails for vehicles that report no battery level.
func EvaluateSingle(snap model.VehicleSnapshot, at time.Time, c model.Condition) (bool, error) {
	switch v := c.(type) {
	case model.SpeedCondition:
		return Compare(snap.Speed, v.Op, v.Value)
	case model.BatteryCondition:
		if snap.BatteryLevel == nil {
			// the operator must still be valid
			_, err := Compare(0, v.Op, v.Value)
			return false, err
		}
		return Compare(*snap.BatteryLevel, v.Op, v.Value)
	case model.TimeCondition:
		return model.Within(at, v.Start, v.End), nil
	case model.VehicleTypeCondition:
		return slices.Contains(v.Allowed, snap.VehicleType), nil
	case model.CustomCondition:
		return evalCustom(snap, v)
	case nil:
		return false, fmt.Errorf("%w: nil condition", ErrMalformedGeofence)
	default:
		return false, fmt.Errorf("%w: unsupported condition %T", ErrMalformedGeofence, c)
	}
}

// Compare applies op to a and b.
func Compare(a float64, op model.Operator, b float64) (bool, error) {
	switch op {
	case model.OpGT:
		return a > b, nil
	case model.OpLT:
		return a < b, nil
	case model.OpEQ:
		return math.Abs(a-b) <= floatEpsilon, nil
	case model.OpGTE:
		return a >= b, nil
	case model.OpLTE:
		return a <= b, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, op)
	}
}
