package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetpulse/core/audit"
	"github.com/kilianp07/fleetpulse/core/model"
)

var at = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func sample() []audit.Record {
	return []audit.Record{
		{
			Timestamp: at, RequestID: "r1", RequestKind: "emergency", FleetID: "paris",
			Location: model.Point{Lon: 2.35, Lat: 48.85},
			Decision: model.DecisionView{Kind: model.DecisionAssigned, RequestID: "r1", VehicleID: "v1", Score: 0.75, ETASeconds: 120},
		},
		{
			Timestamp: at.Add(time.Minute), RequestID: "r2", RequestKind: "service",
			Decision: model.DecisionView{
				Kind: model.DecisionDeferred, RequestID: "r2", Reason: "no_vehicles",
				RetryAfter: at.Add(6 * time.Minute), Alternatives: []string{"v2", "v3"},
			},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sample()))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, []string{
		"2024-03-04T12:00:00Z", "r1", "emergency", "paris", "2.35", "48.85",
		"assigned", "v1", "0.75", "120", "", "", "",
	}, rows[1])
	assert.Equal(t, "2024-03-04T12:07:00Z", rows[2][11])
	assert.Equal(t, "v2;v3", rows[2][12])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, nil))
	assert.JSONEq(t, `[]`, buf.String())

	buf.Reset()
	require.NoError(t, Write(&buf, "JSON", sample()))
	var got []audit.Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "v1", got[0].Decision.VehicleID)
}

func TestWrite_UnknownFormat(t *testing.T) {
	assert.Error(t, Write(&bytes.Buffer{}, "xml", nil))
}
