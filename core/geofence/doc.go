// Package geofence tracks which geofences each vehicle is inside and turns
// containment changes into debounced transitions.
//
// The Store is the only long-lived mutable state of the pipeline. It is
// sharded by vehicle id so that updates for different vehicles never contend
// on the same lock, while Update gives a single writer per vehicle for a
// whole read-modify-write step. The Detector applies the hysteresis filter on
// top of the Store, and the Evaluator decides whether an accepted transition
// is worth reporting for a given geofence variant.
package geofence
