package geofence

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/fleetpulse/core/model"
)

// Catalog holds the geofence definitions known to the pipeline.
type Catalog struct {
	mu   sync.RWMutex
	byID map[string]model.Geofence
}

// NewCatalog validates gs and returns a catalog holding them.
func NewCatalog(gs ...model.Geofence) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]model.Geofence, len(gs))}
	for _, g := range gs {
		if err := c.Put(g); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Get returns the geofence with the given id.
func (c *Catalog) Get(id string) (model.Geofence, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.byID[id]
	return g, ok
}

// All returns every geofence ordered by id.
func (c *Catalog) All() []model.Geofence {
	c.mu.RLock()
	out := make([]model.Geofence, 0, len(c.byID))
	for _, g := range c.byID {
		out = append(out, g)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Predictive returns the predictive geofences applying to fleetID. Geofences
// without a fleet apply to every fleet.
func (c *Catalog) Predictive(fleetID string) []model.Geofence {
	var out []model.Geofence
	for _, g := range c.All() {
		if g.Spec.Kind() != model.KindPredictive {
			continue
		}
		if g.FleetID == "" || g.FleetID == fleetID {
			out = append(out, g)
		}
	}
	return out
}

// Put validates and stores g, replacing any geofence with the same id.
func (c *Catalog) Put(g model.Geofence) error {
	if g.Severity == "" {
		g.Severity = model.SeverityMedium
	}
	if err := Validate(g); err != nil {
		return err
	}
	c.mu.Lock()
	c.byID[g.ID] = g
	c.mu.Unlock()
	return nil
}

// Remove deletes the geofence with the given id.
func (c *Catalog) Remove(id string) {
	c.mu.Lock()
	delete(c.byID, id)
	c.mu.Unlock()
}

// Len returns the number of geofences.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// Validate checks the required fields of the geofence variant.
func Validate(g model.Geofence) error {
	if g.ID == "" {
		return definitionErr("", ErrMalformedGeofence, "missing id")
	}
	if g.Severity != "" && !g.Severity.Valid() {
		return definitionErr(g.ID, ErrMalformedGeofence, "unknown severity %q", g.Severity)
	}
	switch spec := g.Spec.(type) {
	case model.StaticGeofence:
		if err := validPolygon(spec.Boundary); err != nil {
			return &DefinitionError{GeofenceID: g.ID, Err: err}
		}
		if spec.HysteresisBufferM < 0 || spec.DwellTimeS < 0 {
			return definitionErr(g.ID, ErrMalformedGeofence, "hysteresis_buffer_m and dwell_time_s must be >= 0")
		}
	case model.DynamicGeofence:
		if spec.CenterVehicleID == "" {
			return definitionErr(g.ID, ErrMalformedGeofence, "missing center_vehicle_id")
		}
		if spec.RadiusM <= 0 {
			return definitionErr(g.ID, ErrMalformedGeofence, "radius_m must be > 0")
		}
	case model.TemporalGeofence:
		if err := validPolygon(spec.Boundary); err != nil {
			return &DefinitionError{GeofenceID: g.ID, Err: err}
		}
		if spec.Schedule == nil {
			return definitionErr(g.ID, ErrMalformedGeofence, "missing schedule")
		}
		if spec.Timezone != "" {
			if _, err := time.LoadLocation(spec.Timezone); err != nil {
				return definitionErr(g.ID, ErrMalformedGeofence, "timezone %q: %v", spec.Timezone, err)
			}
		}
	case model.ConditionalGeofence:
		if err := validPolygon(spec.Boundary); err != nil {
			return &DefinitionError{GeofenceID: g.ID, Err: err}
		}
		switch spec.Operator {
		case model.OpAnd, model.OpOr, model.OpNot:
		default:
			return definitionErr(g.ID, ErrUnknownOperator, "logical operator %q", spec.Operator)
		}
		for i, cond := range spec.Conditions {
			if err := validCondition(cond); err != nil {
				return &DefinitionError{GeofenceID: g.ID, Err: fmt.Errorf("condition %d: %w", i, err)}
			}
		}
	case model.PredictiveGeofence:
		if spec.ModelID == "" {
			return definitionErr(g.ID, ErrMalformedGeofence, "missing model_id")
		}
		if spec.WindowMin <= 0 {
			return definitionErr(g.ID, ErrMalformedGeofence, "window_min must be > 0")
		}
		if spec.ConfidenceThreshold < 0 || spec.ConfidenceThreshold > 1 {
			return definitionErr(g.ID, ErrMalformedGeofence, "confidence_threshold must be in [0,1]")
		}
	case nil:
		return definitionErr(g.ID, ErrMalformedGeofence, "no variant")
	default:
		return definitionErr(g.ID, ErrMalformedGeofence, "unsupported variant %T", spec)
	}
	return nil
}

func validPolygon(p model.Polygon) error {
	if len(p) < 3 {
		return fmt.Errorf("%w: boundary needs at least 3 points, got %d", ErrMalformedGeofence, len(p))
	}
	for _, pt := range p {
		if !pt.Valid() {
			return fmt.Errorf("%w: boundary point %v out of range", ErrMalformedGeofence, pt)
		}
	}
	return nil
}

func validCondition(c model.Condition) error {
	switch v := c.(type) {
	case model.SpeedCondition:
		_, err := Compare(0, v.Op, 0)
		return err
	case model.BatteryCondition:
		_, err := Compare(0, v.Op, 0)
		return err
	case model.TimeCondition, model.VehicleTypeCondition:
		return nil
	case model.CustomCondition:
		_, err := cachedCustom(v)
		return err
	default:
		return fmt.Errorf("%w: unsupported condition %T", ErrMalformedGeofence, c)
	}
}

// HasSpeedCondition reports whether a conditional geofence limits speed.
func HasSpeedCondition(g model.Geofence) bool {
	spec, ok := g.Spec.(model.ConditionalGeofence)
	if !ok {
		return false
	}
	for _, c := range spec.Conditions {
		if _, ok := c.(model.SpeedCondition); ok {
			return true
		}
	}
	return false
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	gs, err := DecodeCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewCatalog(gs...)
}

// DecodeCatalog parses a YAML catalog. Every definition error is reported,
// joined into one error.
func DecodeCatalog(r io.Reader) ([]model.Geofence, error) {
	var doc catalogDoc
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	var (
		out  []model.Geofence
		errs []error
		seen = make(map[string]bool)
	)
	for i, d := range doc.Geofences {
		g, err := d.toModel()
		if err == nil && seen[g.ID] {
			err = definitionErr(g.ID, ErrMalformedGeofence, "duplicate id")
		}
		if err == nil {
			if g.Severity == "" {
				g.Severity = model.SeverityMedium
			}
			err = Validate(g)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("geofences[%d]: %w", i, err))
			continue
		}
		seen[g.ID] = true
		out = append(out, g)
	}
	return out, errors.Join(errs...)
}

type catalogDoc struct {
	Geofences []geofenceDoc `yaml:"geofences"`
}

type geofenceDoc struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	FleetID  string `yaml:"fleet_id"`
	Severity string `yaml:"severity"`

	Static      *staticDoc      `yaml:"static"`
	Dynamic     *dynamicDoc     `yaml:"dynamic"`
	Temporal    *temporalDoc    `yaml:"temporal"`
	Conditional *conditionalDoc `yaml:"conditional"`
	Predictive  *predictiveDoc  `yaml:"predictive"`
}

type staticDoc struct {
	Boundary          model.Polygon `yaml:"boundary"`
	HysteresisBufferM float64       `yaml:"hysteresis_buffer_m"`
	DwellTimeS        int           `yaml:"dwell_time_s"`
}

type dynamicDoc struct {
	CenterVehicleID string  `yaml:"center_vehicle_id"`
	RadiusM         float64 `yaml:"radius_m"`
	Follow          bool    `yaml:"follow"`
}

type temporalDoc struct {
	Boundary model.Polygon `yaml:"boundary"`
	Timezone string        `yaml:"timezone"`
	Schedule scheduleDoc   `yaml:"schedule"`
}

type dailyDoc struct {
	Days  []string `yaml:"days"`
	Start string   `yaml:"start"`
	End   string   `yaml:"end"`
}

type scheduleDoc struct {
	Daily   *dailyDoc   `yaml:"daily"`
	Weekly  []dailyDoc  `yaml:"weekly"`
	Holiday *holidayDoc `yaml:"holiday"`
}

type holidayDoc struct {
	Dates      []string `yaml:"dates"`
	Exceptions []string `yaml:"exceptions"`
}

type conditionalDoc struct {
	Boundary   model.Polygon  `yaml:"boundary"`
	Operator   string         `yaml:"operator"`
	Conditions []conditionDoc `yaml:"conditions"`
}

type comparisonDoc struct {
	Op    string  `yaml:"op"`
	Value float64 `yaml:"value"`
}

type timeRangeDoc struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type customDoc struct {
	Expression string             `yaml:"expression"`
	Variables  map[string]float64 `yaml:"variables"`
}

type conditionDoc struct {
	Speed       *comparisonDoc `yaml:"speed"`
	Battery     *comparisonDoc `yaml:"battery"`
	Time        *timeRangeDoc  `yaml:"time"`
	VehicleType []string       `yaml:"vehicle_type"`
	Custom      *customDoc     `yaml:"custom"`
}

type predictiveDoc struct {
	ModelID             string  `yaml:"model_id"`
	WindowMin           int     `yaml:"window_min"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

func (d geofenceDoc) toModel() (model.Geofence, error) {
	g := model.Geofence{ID: d.ID, Name: d.Name, FleetID: d.FleetID, Severity: model.Severity(strings.ToLower(d.Severity))}
	n := 0
	if d.Static != nil {
		n++
		g.Spec = model.StaticGeofence{Boundary: d.Static.Boundary, HysteresisBufferM: d.Static.HysteresisBufferM, DwellTimeS: d.Static.DwellTimeS}
	}
	if d.Dynamic != nil {
		n++
		g.Spec = model.DynamicGeofence{CenterVehicleID: d.Dynamic.CenterVehicleID, RadiusM: d.Dynamic.RadiusM, Follow: d.Dynamic.Follow}
	}
	if d.Temporal != nil {
		n++
		sched, err := d.Temporal.Schedule.toModel()
		if err != nil {
			return g, &DefinitionError{GeofenceID: d.ID, Err: err}
		}
		g.Spec = model.TemporalGeofence{Boundary: d.Temporal.Boundary, Schedule: sched, Timezone: d.Temporal.Timezone}
	}
	if d.Conditional != nil {
		n++
		conds := make([]model.Condition, 0, len(d.Conditional.Conditions))
		for i, cd := range d.Conditional.Conditions {
			c, err := cd.toModel()
			if err != nil {
				return g, &DefinitionError{GeofenceID: d.ID, Err: fmt.Errorf("condition %d: %w", i, err)}
			}
			conds = append(conds, c)
		}
		op := model.LogicalOperator(strings.ToUpper(d.Conditional.Operator))
		if op == "" {
			op = model.OpAnd
		}
		g.Spec = model.ConditionalGeofence{Boundary: d.Conditional.Boundary, Conditions: conds, Operator: op}
	}
	if d.Predictive != nil {
		n++
		g.Spec = model.PredictiveGeofence{ModelID: d.Predictive.ModelID, WindowMin: d.Predictive.WindowMin, ConfidenceThreshold: d.Predictive.ConfidenceThreshold}
	}
	if n != 1 {
		return g, definitionErr(d.ID, ErrMalformedGeofence, "exactly one variant required, got %d", n)
	}
	return g, nil
}

func (d scheduleDoc) toModel() (model.Schedule, error) {
	n := 0
	var s model.Schedule
	if d.Daily != nil {
		n++
		daily, err := d.Daily.toModel()
		if err != nil {
			return nil, err
		}
		s = daily
	}
	if d.Weekly != nil {
		n++
		w := model.WeeklySchedule{}
		for _, dd := range d.Weekly {
			daily, err := dd.toModel()
			if err != nil {
				return nil, err
			}
			w.Days = append(w.Days, daily)
		}
		s = w
	}
	if d.Holiday != nil {
		n++
		for _, date := range append(append([]string{}, d.Holiday.Dates...), d.Holiday.Exceptions...) {
			if _, err := time.Parse(time.DateOnly, date); err != nil {
				return nil, fmt.Errorf("%w: holiday date %q", ErrMalformedGeofence, date)
			}
		}
		s = model.HolidaySchedule{Dates: d.Holiday.Dates, Exceptions: d.Holiday.Exceptions}
	}
	if n != 1 {
		return nil, fmt.Errorf("%w: exactly one schedule kind required, got %d", ErrMalformedGeofence, n)
	}
	return s, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func (d dailyDoc) toModel() (model.DailySchedule, error) {
	var out model.DailySchedule
	for _, name := range d.Days {
		wd, ok := weekdays[strings.ToLower(name)[:min(3, len(name))]]
		if !ok {
			return out, fmt.Errorf("%w: unknown weekday %q", ErrMalformedGeofence, name)
		}
		out.Days = append(out.Days, wd)
	}
	var err error
	if out.Start, err = model.ParseTimeOfDay(d.Start); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedGeofence, err)
	}
	if out.End, err = model.ParseTimeOfDay(d.End); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedGeofence, err)
	}
	return out, nil
}

func (d conditionDoc) toModel() (model.Condition, error) {
	var (
		n int
		c model.Condition
	)
	if d.Speed != nil {
		n++
		c = model.SpeedCondition{Op: model.Operator(d.Speed.Op), Value: d.Speed.Value}
	}
	if d.Battery != nil {
		n++
		c = model.BatteryCondition{Op: model.Operator(d.Battery.Op), Value: d.Battery.Value}
	}
	if d.Time != nil {
		n++
		start, err := model.ParseTimeOfDay(d.Time.Start)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedGeofence, err)
		}
		end, err := model.ParseTimeOfDay(d.Time.End)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedGeofence, err)
		}
		c = model.TimeCondition{Start: start, End: end}
	}
	if d.VehicleType != nil {
		n++
		c = model.VehicleTypeCondition{Allowed: d.VehicleType}
	}
	if d.Custom != nil {
		n++
		c = model.CustomCondition{Expression: d.Custom.Expression, Variables: d.Custom.Variables}
	}
	if n != 1 {
		return nil, fmt.Errorf("%w: exactly one condition kind required, got %d", ErrMalformedGeofence, n)
	}
	return c, nil
}
