// Package export writes dispatch audit trails for offline analysis.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/fleetpulse/core/audit"
)

// Header is the column order of WriteCSV.
var Header = []string{
	"timestamp", "request_id", "request_kind", "fleet_id", "lon", "lat",
	"decision", "vehicle_id", "assignment_score", "eta_seconds", "reason", "retry_after", "alternatives",
}

// WriteJSON writes the records to w as a JSON array.
func WriteJSON(w io.Writer, records []audit.Record) error {
	if records == nil {
		records = []audit.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// WriteCSV writes one row per record. Alternatives are joined with ';'.
func WriteCSV(w io.Writer, records []audit.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		d := r.Decision
		row := []string{
			r.Timestamp.UTC().Format(time.RFC3339),
			r.RequestID,
			r.RequestKind,
			r.FleetID,
			formatFloat(r.Location.Lon),
			formatFloat(r.Location.Lat),
			d.Kind,
			d.VehicleID,
			formatFloat(d.Score),
			formatFloat(d.ETASeconds),
			d.Reason,
			formatTime(d.RetryAfter),
			strings.Join(d.Alternatives, ";"),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Write dispatches on format, "json" or "csv".
func Write(w io.Writer, format string, records []audit.Record) error {
	switch strings.ToLower(format) {
	case "json":
		return WriteJSON(w, records)
	case "csv":
		return WriteCSV(w, records)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
