package geofence

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"

	"github.com/kilianp07/fleetpulse/core/model"
)

// Catalog files spell comparisons with the condition operator keywords.
var wordOperators = regexp.MustCompile(`\b(gte|lte|gt|lt|eq)\b`)

var operatorSymbols = map[string]string{
	string(model.OpGT):  ">",
	string(model.OpLT):  "<",
	string(model.OpEQ):  "==",
	string(model.OpGTE): ">=",
	string(model.OpLTE): "<=",
}

// snapshotFields are the names a custom expression reads from the vehicle.
var snapshotFields = []string{"speed", "heading", "accuracy", "lat", "lon", "battery_level", "vehicle_type"}

type customProgram struct {
	program     *vm.Program
	usesBattery bool
}

// compiled custom expressions, keyed by expression and variable names
var customPrograms sync.Map

type identifiers map[string]bool

func (ids identifiers) Visit(node *ast.Node) {
	if n, ok := (*node).(*ast.IdentifierNode); ok {
		ids[n.Value] = true
	}
}

// compileCustom type-checks c against the snapshot fields and its variables.
// The expression must yield a boolean.
func compileCustom(c model.CustomCondition) (customProgram, error) {
	for name := range c.Variables {
		if slices.Contains(snapshotFields, name) {
			return customProgram{}, fmt.Errorf("%w: variable %q shadows a vehicle field", ErrMalformedGeofence, name)
		}
	}
	source := wordOperators.ReplaceAllStringFunc(c.Expression, func(w string) string { return operatorSymbols[w] })
	ids := identifiers{}
	program, err := expr.Compile(source,
		expr.Env(customEnv(model.VehicleSnapshot{}, c.Variables)),
		expr.AsBool(),
		expr.Patch(ids),
	)
	if err != nil {
		return customProgram{}, fmt.Errorf("%w: expression %q: %v", ErrMalformedGeofence, c.Expression, err)
	}
	return customProgram{program: program, usesBattery: ids["battery_level"]}, nil
}

func cachedCustom(c model.CustomCondition) (customProgram, error) {
	names := make([]string, 0, len(c.Variables))
	for name := range c.Variables {
		names = append(names, name)
	}
	slices.Sort(names)
	key := c.Expression + "\x00" + strings.Join(names, ",")
	if p, ok := customPrograms.Load(key); ok {
		return p.(customProgram), nil
	}
	p, err := compileCustom(c)
	if err != nil {
		return customProgram{}, err
	}
	customPrograms.Store(key, p)
	return p, nil
}

func customEnv(s model.VehicleSnapshot, vars map[string]float64) map[string]any {
	env := make(map[string]any, len(snapshotFields)+len(vars))
	for name, v := range vars {
		env[name] = v
	}
	battery := 0.0
	if s.BatteryLevel != nil {
		battery = *s.BatteryLevel
	}
	env["speed"] = s.Speed
	env["heading"] = s.Heading
	env["accuracy"] = s.Accuracy
	env["lat"] = s.Position.Lat
	env["lon"] = s.Position.Lon
	env["battery_level"] = battery
	env["vehicle_type"] = s.VehicleType
	return env
}

// evalCustom runs c against snap. An expression reading the battery level
// is false for vehicles that report none.
func evalCustom(snap model.VehicleSnapshot, c model.CustomCondition) (bool, error) {
	p, err := cachedCustom(c)
	if err != nil {
		return false, err
	}
	if p.usesBattery && snap.BatteryLevel == nil {
		return false, nil
	}
	out, err := expr.Run(p.program, customEnv(snap, c.Variables))
	if err != nil {
		return false, fmt.Errorf("%w: expression %q: %v", ErrMalformedGeofence, c.Expression, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}
