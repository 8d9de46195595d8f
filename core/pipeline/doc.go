// Package pipeline implements the batch processor that turns the stream of
// vehicle location updates into persisted positions, geofence membership
// changes and breach events.
//
// Updates submitted with Submit are queued without blocking. Every flush
// interval the queue is drained atomically, persisted with one bulk call and
// checked against the spatial index with bounded concurrency. Updates of the
// same vehicle are always processed sequentially in submission order.
package pipeline
