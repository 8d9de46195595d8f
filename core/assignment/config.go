package assignment

import (
	"fmt"
	"math"
	"time"
)

// EmergencyWeights weight the emergency-path sub-scores.
type EmergencyWeights struct {
	Distance     float64 `json:"distance"`
	Capability   float64 `json:"capability"`
	Availability float64 `json:"availability"`
}

// StandardWeights weight the standard-path sub-scores.
type StandardWeights struct {
	Distance    float64 `json:"distance"`
	Efficiency  float64 `json:"efficiency"`
	Utilization float64 `json:"utilization"`
	Rating      float64 `json:"rating"`
}

// Config tunes the assignment engine.
type Config struct {
	RetryAfterSeconds int              `json:"retry_after_seconds"`
	DistanceScaleKm   float64          `json:"distance_scale_km"`
	Emergency         EmergencyWeights `json:"emergency"`
	Standard          StandardWeights  `json:"standard"`
	// SideEffectQueue bounds the audit and broadcast backlog.
	SideEffectQueue int `json:"side_effect_queue"`
	// MaxAlternatives bounds the alternatives listed in a deferral.
	MaxAlternatives int `json:"max_alternatives"`
}

// SetDefaults applies the reference weights and limits.
func (c *Config) SetDefaults() {
	if c.RetryAfterSeconds <= 0 {
		c.RetryAfterSeconds = 300
	}
	if c.DistanceScaleKm <= 0 {
		c.DistanceScaleKm = 10
	}
	if c.Emergency == (EmergencyWeights{}) {
		c.Emergency = EmergencyWeights{Distance: 0.4, Capability: 0.4, Availability: 0.2}
	}
	if c.Standard == (StandardWeights{}) {
		c.Standard = StandardWeights{Distance: 0.3, Efficiency: 0.25, Utilization: 0.25, Rating: 0.2}
	}
	if c.SideEffectQueue <= 0 {
		c.SideEffectQueue = 256
	}
	if c.MaxAlternatives <= 0 {
		c.MaxAlternatives = 3
	}
}

// Validate checks that each weight set is non-negative and sums to one, so
// that assignment scores stay in [0,1].
func (c Config) Validate() error {
	if err := checkWeights("emergency", c.Emergency.vector()); err != nil {
		return err
	}
	return checkWeights("standard", c.Standard.vector())
}

func checkWeights(name string, w []float64) error {
	sum := 0.0
	for _, v := range w {
		if v < 0 {
			return fmt.Errorf("assignment: %s weights must be >= 0", name)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("assignment: %s weights must sum to 1, got %.3f", name, sum)
	}
	return nil
}

// RetryAfter returns the deferral delay.
func (c Config) RetryAfter() time.Duration {
	return time.Duration(c.RetryAfterSeconds) * time.Second
}

func (w EmergencyWeights) vector() []float64 {
	return []float64{w.Distance, w.Capability, w.Availability}
}

func (w StandardWeights) vector() []float64 {
	return []float64{w.Distance, w.Efficiency, w.Utilization, w.Rating}
}
