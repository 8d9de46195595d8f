package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetpulse/core/audit"
	"github.com/kilianp07/fleetpulse/core/model"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func writeTemp(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

const square = `
      boundary:
        - {lon: 2.30, lat: 48.80}
        - {lon: 2.30, lat: 48.90}
        - {lon: 2.40, lat: 48.90}
        - {lon: 2.40, lat: 48.80}`

func TestGeofenceCheck(t *testing.T) {
	good := writeTemp(t, "good.yaml", "geofences:\n  - id: depot\n    static:"+square+"\n")
	out, err := execute(t, "geofence", "check", good)
	require.NoError(t, err)
	assert.Contains(t, out, "1 valid geofences")

	bad := writeTemp(t, "bad.yaml", `geofences:
  - id: no-variant
  - id: bad-radius
    dynamic: {center_vehicle_id: a, radius_m: 0}
`)
	out, err = execute(t, "geofence", "check", bad)
	assert.ErrorIs(t, err, errCatalogDefects)
	assert.Contains(t, out, "no-variant")
	assert.Contains(t, out, "bad-radius")
	assert.Contains(t, out, "0 valid geofences")
}

func TestGeofenceLocate(t *testing.T) {
	cat := writeTemp(t, "cat.yaml", "geofences:\n  - id: depot\n    static:"+square+"\n")
	out, err := execute(t, "geofence", "locate", cat, "--lat", "48.85", "--lon", "2.35")
	require.NoError(t, err)
	assert.Equal(t, "depot\n", out)

	out, err = execute(t, "geofence", "locate", cat, "--lat", "10", "--lon", "10")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDispatchCommand(t *testing.T) {
	cfgPath = filepath.Join(t.TempDir(), "absent.yaml")
	req := writeTemp(t, "req.json", `{"kind":"emergency","id":"e1","fleet_id":"paris","location":{"lon":2.35,"lat":48.85},"severity":4,"emergency_type":"medical"}`)
	vehicles := writeTemp(t, "vehicles.json", `[
  {"id":"far","location":{"lon":2.50,"lat":48.95},"available":true,"emergency_capable":true,"capabilities":["medical"]},
  {"id":"near","location":{"lon":2.351,"lat":48.851},"available":true,"emergency_capable":true,"capabilities":["medical"]},
  {"id":"plain","location":{"lon":2.35,"lat":48.85},"available":true}
]`)
	out, err := execute(t, "dispatch", "--config", cfgPath, "--request", req, "--vehicles", vehicles)
	require.NoError(t, err)

	var got dispatchOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "emergency", got.RequestKind)
	assert.Equal(t, 3, got.Candidates)
	assert.Equal(t, model.DecisionAssigned, got.Decision.Kind)
	assert.Equal(t, "near", got.Decision.VehicleID)
}

func TestSimulateCommand(t *testing.T) {
	var locations, profiles atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			profiles.Add(1)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		var batch []model.LocationUpdate
		if err := json.NewDecoder(r.Body).Decode(&batch); err == nil {
			locations.Add(int64(len(batch)))
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	out, err := execute(t, "simulate", "--size", "2", "--interval", "10ms", "--duration", "200ms",
		"--target", srv.URL, "--seed", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "updates sent")
	assert.Equal(t, int64(2), profiles.Load())
	assert.Greater(t, locations.Load(), int64(0))

	_, err = execute(t, "simulate", "--transport", "carrier-pigeon", "--duration", "10ms")
	assert.Error(t, err)
}

func TestAuditExportCommand(t *testing.T) {
	dir := t.TempDir()
	trail := filepath.Join(dir, "decisions.jsonl")
	store, err := audit.NewJSONLStore(trail)
	require.NoError(t, err)
	at := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	for i, vid := range []string{"v1", "v2"} {
		require.NoError(t, store.Append(context.Background(), audit.Record{
			Timestamp: at.Add(time.Duration(i) * time.Hour), RequestID: "r" + vid, RequestKind: "service",
			Decision: model.DecisionView{Kind: model.DecisionAssigned, VehicleID: vid},
		}))
	}
	cfg := writeTemp(t, "config.yaml", "audit:\n  path: "+trail+"\n")

	out, err := execute(t, "audit", "export", "--config", cfg, "--vehicle", "v2", "--format", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "rv2")
	assert.NotContains(t, out, "rv1")

	out, err = execute(t, "audit", "export", "--config", cfg, "--vehicle", "", "--format", "json",
		"--end", "2024-03-04T12:30:00Z")
	require.NoError(t, err)
	var recs []audit.Record
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "rv1", recs[0].RequestID)

	_, err = execute(t, "audit", "export", "--config", cfg, "--start", "yesterday")
	assert.Error(t, err)
}
