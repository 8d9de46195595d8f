package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetpulse/core/audit"
	"github.com/kilianp07/fleetpulse/pkg/export"
)

var auditOpts struct {
	start, end string
	vehicle    string
	fleet      string
	kind       string
	format     string
	limit      int
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Dispatch decision trail tools",
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export recorded dispatch decisions as JSON or CSV",
	RunE:  runAuditExport,
}

func init() {
	f := auditExportCmd.Flags()
	f.StringVar(&auditOpts.start, "start", "", "only decisions at or after this RFC3339 time")
	f.StringVar(&auditOpts.end, "end", "", "only decisions at or before this RFC3339 time")
	f.StringVar(&auditOpts.vehicle, "vehicle", "", "only decisions assigning or proposing this vehicle")
	f.StringVar(&auditOpts.fleet, "fleet", "", "only decisions of this fleet")
	f.StringVar(&auditOpts.kind, "kind", "", "assigned, deferred or rejected")
	f.StringVar(&auditOpts.format, "format", "json", "json or csv")
	f.IntVar(&auditOpts.limit, "limit", 0, "maximum number of records (0 for all)")
	auditCmd.AddCommand(auditExportCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadOrDefault()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	q := audit.Query{VehicleID: auditOpts.vehicle, FleetID: auditOpts.fleet, Kind: auditOpts.kind, Limit: auditOpts.limit}
	if q.Start, err = parseTimeFlag("start", auditOpts.start); err != nil {
		return err
	}
	if q.End, err = parseTimeFlag("end", auditOpts.end); err != nil {
		return err
	}

	store, err := audit.Open(cfg.Audit)
	if err != nil {
		return fmt.Errorf("audit store: %w", err)
	}
	defer store.Close()
	records, err := store.Query(cmd.Context(), q)
	if err != nil {
		return err
	}
	return export.Write(cmd.OutOrStdout(), auditOpts.format, records)
}

func parseTimeFlag(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}
