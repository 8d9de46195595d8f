package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetpulse/infra/logger"
	"github.com/kilianp07/fleetpulse/infra/mqtt"
	"github.com/kilianp07/fleetpulse/internal/simulator"
)

var simOpts struct {
	size      int
	fleetID   string
	interval  time.Duration
	duration  time.Duration
	transport string
	target    string
	seed      int64
	emergency float64
	oauth     simulator.ClientCredentials
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive a synthetic fleet and feed its positions to the service",
	Long: `Generates vehicles around Paris, announces their dispatch profile and
sends their positions every interval, either to the HTTP API or to the MQTT
ingest topics of the configured broker.`,
	RunE: runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.IntVar(&simOpts.size, "size", 10, "number of vehicles")
	f.StringVar(&simOpts.fleetID, "fleet", "", "fleet id of the vehicles")
	f.DurationVar(&simOpts.interval, "interval", time.Second, "time between position reports")
	f.DurationVar(&simOpts.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	f.StringVar(&simOpts.transport, "transport", "http", "http or mqtt")
	f.StringVar(&simOpts.target, "target", "http://localhost:8080", "API base URL for the http transport")
	f.Int64Var(&simOpts.seed, "seed", time.Now().UnixNano(), "random seed")
	f.Float64Var(&simOpts.emergency, "emergency", 0.2, "ratio of emergency-capable vehicles")
	f.StringVar(&simOpts.oauth.TokenURL, "token-url", "", "OAuth2 token endpoint guarding the API")
	f.StringVar(&simOpts.oauth.ClientID, "client-id", "", "OAuth2 client id")
	f.StringVar(&simOpts.oauth.ClientSecret, "client-secret", os.Getenv("FP_SIM_CLIENT_SECRET"), "OAuth2 client secret")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if simOpts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, simOpts.duration)
		defer cancel()
	}

	log := logger.New("simulator")
	var sender simulator.Sender
	switch simOpts.transport {
	case "http":
		hs := simulator.NewHTTPSender(simOpts.target)
		if simOpts.oauth.TokenURL != "" {
			var err error
			if hs, err = hs.WithClientCredentials(ctx, simOpts.oauth); err != nil {
				return err
			}
		}
		sender = hs
	case "mqtt":
		cfg, err := loadOrDefault()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		pub, err := mqtt.NewLocationPublisher(cfg.MQTT.Config, log)
		if err != nil {
			return err
		}
		defer pub.Close()
		sender = pub
	default:
		return fmt.Errorf("unknown transport %q", simOpts.transport)
	}

	fleet := simulator.GenerateFleet(simulator.FleetConfig{
		Size:         simOpts.size,
		FleetID:      simOpts.fleetID,
		EmergencyPct: simOpts.emergency,
	}, rand.New(rand.NewSource(simOpts.seed)))
	sim := simulator.New(fleet, sender, simOpts.interval, simOpts.seed)
	sim.Log = log
	if err := sim.Announce(ctx); err != nil {
		log.Warnf("announce profiles: %v", err)
	}
	log.Infof("simulating %d vehicles every %s over %s", len(fleet), simOpts.interval, simOpts.transport)
	sim.Run(ctx)
	sent, failed := sim.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "%d updates sent, %d failed\n", sent, failed)
	return nil
}
