// Package events defines the envelopes fanned out by the broadcaster and the
// topic naming scheme.
//
// Topics are scoped strings:
//   - fleet:{fleet_id}
//   - vehicle:{vehicle_id}
//   - geofence:{geofence_id}
//
// Event types:
//   - location: a processed LocationUpdate
//   - breach: an accepted geofence transition
//   - decision: the outcome of a dispatch request
package events
