package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetpulse/core/geo"
	"github.com/kilianp07/fleetpulse/core/geofence"
	"github.com/kilianp07/fleetpulse/core/model"
)

// errCatalogDefects is returned by geofence check when a catalog is invalid.
var errCatalogDefects = errors.New("catalog has defects")

var geofenceCmd = &cobra.Command{
	Use:   "geofence",
	Short: "Geofence catalog tools",
}

var geofenceCheckCmd = &cobra.Command{
	Use:   "check <catalog.yaml>...",
	Short: "Validate geofence catalogs and list every defect",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGeofenceCheck,
}

var (
	locateLat float64
	locateLon float64
)

var geofenceLocateCmd = &cobra.Command{
	Use:   "locate <catalog.yaml>",
	Short: "List the geofences of a catalog containing a point",
	Args:  cobra.ExactArgs(1),
	RunE:  runGeofenceLocate,
}

func init() {
	geofenceLocateCmd.Flags().Float64Var(&locateLat, "lat", 0, "latitude")
	geofenceLocateCmd.Flags().Float64Var(&locateLon, "lon", 0, "longitude")
	_ = geofenceLocateCmd.MarkFlagRequired("lat")
	_ = geofenceLocateCmd.MarkFlagRequired("lon")
	geofenceCmd.AddCommand(geofenceCheckCmd, geofenceLocateCmd)
	rootCmd.AddCommand(geofenceCmd)
}

func runGeofenceCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failed := false
	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		gs, err := geofence.DecodeCatalog(f)
		f.Close()
		if err != nil {
			failed = true
			for _, line := range strings.Split(err.Error(), "\n") {
				fmt.Fprintf(out, "%s: %s\n", path, line)
			}
		}
		fmt.Fprintf(out, "%s: %d valid geofences\n", path, len(gs))
	}
	if failed {
		return errCatalogDefects
	}
	return nil
}

func runGeofenceLocate(cmd *cobra.Command, args []string) error {
	cat, err := geofence.LoadCatalog(args[0])
	if err != nil {
		return err
	}
	p := model.Point{Lat: locateLat, Lon: locateLon}
	if !p.Valid() {
		return fmt.Errorf("point %v out of range", p)
	}
	ids, err := geo.NewMemoryIndex(cat.All()).Containing(context.Background(), p)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}
