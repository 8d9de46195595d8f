package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetpulse/core/assignment"
	"github.com/kilianp07/fleetpulse/core/events"
	"github.com/kilianp07/fleetpulse/core/geo"
	"github.com/kilianp07/fleetpulse/core/model"
)

var (
	requestPath  string
	vehiclesPath string
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Score a dispatch request against a list of vehicles offline",
	Long: `Reads a request envelope and a JSON array of vehicle candidates and
prints the decision the assignment engine would take, using the weights of
the configuration file when present.`,
	RunE: runDispatch,
}

func init() {
	dispatchCmd.Flags().StringVar(&requestPath, "request", "", "request envelope JSON file")
	dispatchCmd.Flags().StringVar(&vehiclesPath, "vehicles", "", "vehicle candidates JSON file")
	_ = dispatchCmd.MarkFlagRequired("request")
	_ = dispatchCmd.MarkFlagRequired("vehicles")
	rootCmd.AddCommand(dispatchCmd)
}

type dispatchOutput struct {
	RequestKind string             `json:"request_kind"`
	Candidates  int                `json:"candidates"`
	Decision    model.DecisionView `json:"decision"`
}

func runDispatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadOrDefault()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	raw, err := os.ReadFile(requestPath)
	if err != nil {
		return err
	}
	var env model.RequestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	req, err := env.ToRequest()
	if err != nil {
		return err
	}
	raw, err = os.ReadFile(vehiclesPath)
	if err != nil {
		return err
	}
	var cands []model.VehicleCandidate
	if err := json.Unmarshal(raw, &cands); err != nil {
		return fmt.Errorf("decode vehicles: %w", err)
	}

	engine := assignment.New(cfg.Assignment, nil, geo.StraightLineRouter{})
	defer engine.Close()
	dec := engine.Assign(cmd.Context(), req, cands)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(dispatchOutput{
		RequestKind: events.RequestKind(req),
		Candidates:  len(cands),
		Decision:    model.DescribeDecision(dec),
	})
}
