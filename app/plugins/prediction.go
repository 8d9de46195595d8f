package plugins

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/fleetpulse/config"
	"github.com/kilianp07/fleetpulse/core/model"
	"github.com/kilianp07/fleetpulse/core/prediction"
)

// NewRiskScorer builds the scorer of predictive geofences. It returns nil
// when no model is declared.
func NewRiskScorer(cfg config.PredictionConfig) prediction.RiskScorer {
	if !cfg.Enabled() {
		return nil
	}
	switch {
	case len(cfg.Models) == 0:
		return prediction.StaticScorer{Scores: cfg.Static}
	case len(cfg.Static) == 0:
		return prediction.NewTelemetryScorer(cfg.Models)
	}
	byModel := scorerByModel{}
	static := prediction.StaticScorer{Scores: cfg.Static}
	for id := range cfg.Static {
		byModel[id] = static
	}
	logistic := prediction.NewTelemetryScorer(cfg.Models)
	for id := range cfg.Models {
		byModel[id] = logistic
	}
	return byModel
}

// scorerByModel routes each model id to the scorer declaring it.
type scorerByModel map[string]prediction.RiskScorer

func (s scorerByModel) Score(ctx context.Context, modelID string, snap model.VehicleSnapshot, window time.Duration) (float64, error) {
	sc, ok := s[modelID]
	if !ok {
		return 0, fmt.Errorf("prediction: unknown model %q", modelID)
	}
	return sc.Score(ctx, modelID, snap, window)
}
