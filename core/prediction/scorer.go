package prediction

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kilianp07/fleetpulse/core/model"
)

// RiskScorer computes a breach probability for a vehicle.
type RiskScorer interface {
	// Score returns a value in [0,1]. Unknown models return an error.
	Score(ctx context.Context, modelID string, snap model.VehicleSnapshot, window time.Duration) (float64, error)
}

// StaticScorer returns fixed scores keyed by model id then vehicle id. The
// "*" vehicle key acts as a default for the model.
type StaticScorer struct {
	Scores map[string]map[string]float64
}

// Score implements RiskScorer.
func (s StaticScorer) Score(_ context.Context, modelID string, snap model.VehicleSnapshot, _ time.Duration) (float64, error) {
	m, ok := s.Scores[modelID]
	if !ok {
		return 0, fmt.Errorf("prediction: unknown model %q", modelID)
	}
	if v, ok := m[snap.VehicleID]; ok {
		return v, nil
	}
	return m["*"], nil
}

// LogisticModel weights speed and heading into a logistic score.
//
//	score = 1 / (1 + exp(-(Bias + SpeedWeight*speed_kmh*window_h + HeadingWeight*cos(heading-TargetHeading))))
//
// With TargetHeading pointing at the zone, a vehicle moving fast towards it
// scores close to 1.
type LogisticModel struct {
	Bias          float64 `json:"bias"`
	SpeedWeight   float64 `json:"speed_weight"`
	HeadingWeight float64 `json:"heading_weight"`
	TargetHeading float64 `json:"target_heading"`
}

// TelemetryScorer evaluates registered logistic models.
type TelemetryScorer struct {
	mu     sync.RWMutex
	models map[string]LogisticModel
}

// NewTelemetryScorer returns a scorer with the given models.
func NewTelemetryScorer(models map[string]LogisticModel) *TelemetryScorer {
	s := &TelemetryScorer{models: make(map[string]LogisticModel, len(models))}
	for id, m := range models {
		s.models[id] = m
	}
	return s
}

// SetModel registers or replaces a model.
func (s *TelemetryScorer) SetModel(id string, m LogisticModel) {
	s.mu.Lock()
	s.models[id] = m
	s.mu.Unlock()
}

// Score implements RiskScorer.
func (s *TelemetryScorer) Score(ctx context.Context, modelID string, snap model.VehicleSnapshot, window time.Duration) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	m, ok := s.models[modelID]
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("prediction: unknown model %q", modelID)
	}
	delta := (snap.Heading - m.TargetHeading) * math.Pi / 180
	z := m.Bias + m.SpeedWeight*snap.Speed*window.Hours() + m.HeadingWeight*math.Cos(delta)
	return 1 / (1 + math.Exp(-z)), nil
}
