// Package metrics defines the sinks that record pipeline activity. A sink
// must implement MetricsSink (per-batch statistics) and may implement the
// optional BreachRecorder and DecisionRecorder interfaces. Sinks like
// PromSink and InfluxSink live in infra/metrics and can be combined with
// NewMultiSink. NewMetricsSink returns a MultiSink automatically when
// multiple sinks are configured.
package metrics
