package geofence

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownOperator is returned when a condition uses an operator
	// outside gt, lt, eq, gte and lte, or an unknown logical operator.
	ErrUnknownOperator = errors.New("unknown operator")
	// ErrMalformedGeofence is returned for a geofence whose variant is
	// missing or has invalid required fields.
	ErrMalformedGeofence = errors.New("malformed geofence")
)

// DefinitionError reports a defect in a geofence definition. It is never
// transient: evaluating the same geofence again yields the same error.
type DefinitionError struct {
	GeofenceID string
	Err        error
}

func (e *DefinitionError) Error() string {
	if e.GeofenceID == "" {
		return fmt.Sprintf("geofence definition: %v", e.Err)
	}
	return fmt.Sprintf("geofence %s: %v", e.GeofenceID, e.Err)
}

func (e *DefinitionError) Unwrap() error { return e.Err }

func definitionErr(id string, sentinel error, format string, args ...any) error {
	return &DefinitionError{GeofenceID: id, Err: fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))}
}

// IsDefinitionError reports whether err is caused by a bad geofence definition.
func IsDefinitionError(err error) bool {
	var de *DefinitionError
	return errors.As(err, &de)
}
