// Package prediction provides the risk scoring used by predictive geofences.
// A scorer turns a vehicle's telemetry into a probability in [0,1] that the
// vehicle will breach the modelled zone within the prediction window. Model
// inference is pluggable; the geofence evaluator only enforces the threshold.
package prediction
