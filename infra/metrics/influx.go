package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/fleetpulse/core/metrics"
	"github.com/kilianp07/fleetpulse/core/model"
	"github.com/kilianp07/fleetpulse/infra/logger"
)

// InfluxSink writes batch, breach and decision points to an InfluxDB
// instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordBatch writes one point per flushed batch.
func (s *InfluxSink) RecordBatch(st coremetrics.BatchStats) error {
	if st.Size == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("pipeline_batch").
		AddTag("component", "batch_processor").
		AddField("size", st.Size).
		AddField("persisted", st.Persisted).
		AddField("failed", st.Failed).
		AddField("timed_out", st.TimedOut).
		AddField("entries", st.Entries).
		AddField("exits", st.Exits).
		AddField("dwells", st.Dwells).
		AddField("speeding", st.Speeding).
		AddField("suppressed", st.Suppressed).
		AddField("duration_ms", round3(st.Duration.Seconds()*1000)).
		SetTime(st.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordBreach writes a geofence breach.
func (s *InfluxSink) RecordBreach(ev model.BreachEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("geofence_breach").
		AddTag("vehicle_id", ev.VehicleID).
		AddTag("geofence_id", ev.GeofenceID).
		AddTag("kind", ev.Kind.String()).
		AddTag("severity", string(ev.Severity))
	if ev.FleetID != "" {
		p = p.AddTag("fleet_id", ev.FleetID)
	}
	p = p.AddField("lat", ev.Location.Lat).
		AddField("lon", ev.Location.Lon).
		SetTime(ev.Timestamp)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordDecision writes a dispatch decision.
func (s *InfluxSink) RecordDecision(ev coremetrics.DecisionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d := ev.Decision
	p := write.NewPointWithMeasurement("dispatch_decision").
		AddTag("request_kind", ev.RequestKind).
		AddTag("decision", d.Kind).
		AddTag("component", "assignment_engine")
	if d.VehicleID != "" {
		p = p.AddTag("vehicle_id", d.VehicleID)
	}
	if d.Reason != "" {
		p = p.AddTag("reason", d.Reason)
	}
	p = p.AddField("request_id", d.RequestID).
		AddField("score", round3(d.Score)).
		AddField("eta_s", round3(d.ETASeconds)).
		AddField("candidates", ev.Candidates).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
