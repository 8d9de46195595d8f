package assignment

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/fleetpulse/core/geo"
	"github.com/kilianp07/fleetpulse/core/model"
)

// clamp01 bounds v to [0,1]. NaN, from a corrupt utilization or battery
// reading, scores 0.
func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// distanceScore decays from 1 at the request location to 0.5 at scaleKm.
func distanceScore(from, to model.Point, scaleKm float64) float64 {
	return 1 / (1 + geo.DistanceKm(from, to)/scaleKm)
}

// capabilityScore is 1 when the vehicle lists the emergency type. Other
// emergency-capable vehicles lose 0.1 per severity level.
func capabilityScore(c model.VehicleCandidate, emergencyType string, severity int) float64 {
	if emergencyType != "" && slices.Contains(c.Capabilities, emergencyType) {
		return 1
	}
	return clamp01(1 - 0.1*float64(severity))
}

func availabilityScore(c model.VehicleCandidate) float64 {
	return clamp01(1 - c.CurrentUtilization)
}

// efficiencyScore is the share of requirements the vehicle covers, scaled by
// its battery level when known.
func efficiencyScore(c model.VehicleCandidate, requirements []string) float64 {
	coverage := 1.0
	if len(requirements) > 0 {
		n := 0
		for _, r := range requirements {
			if slices.Contains(c.Capabilities, r) {
				n++
			}
		}
		coverage = float64(n) / float64(len(requirements))
	}
	battery := 1.0
	if c.BatteryLevel != nil {
		battery = clamp01(*c.BatteryLevel / 100)
	}
	return coverage * battery
}

func ratingScore(c model.VehicleCandidate) float64 {
	return clamp01(c.Rating / 5)
}

// EmergencyScore is the weighted emergency-path score of c.
func EmergencyScore(w EmergencyWeights, scaleKm float64, req model.EmergencyRequest, c model.VehicleCandidate) float64 {
	sub := []float64{
		distanceScore(c.Location, req.Location, scaleKm),
		capabilityScore(c, req.EmergencyType, req.Severity),
		availabilityScore(c),
	}
	return clamp01(floats.Dot(w.vector(), sub))
}

// StandardScore is the weighted standard-path score of c. requirements may be
// nil for requests that carry none.
func StandardScore(w StandardWeights, scaleKm float64, at model.Point, requirements []string, c model.VehicleCandidate) float64 {
	sub := []float64{
		distanceScore(c.Location, at, scaleKm),
		efficiencyScore(c, requirements),
		availabilityScore(c),
		ratingScore(c),
	}
	return clamp01(floats.Dot(w.vector(), sub))
}

type ranked struct {
	candidate model.VehicleCandidate
	score     float64
}

// best returns the highest scoring candidate. Ties keep the first candidate in
// input order.
func best(cands []model.VehicleCandidate, score func(model.VehicleCandidate) float64) ranked {
	top := ranked{candidate: cands[0], score: score(cands[0])}
	for _, c := range cands[1:] {
		if s := score(c); s > top.score {
			top = ranked{candidate: c, score: s}
		}
	}
	return top
}

// topIDs returns up to n candidate ids by descending score, stable on ties.
func topIDs(cands []model.VehicleCandidate, score func(model.VehicleCandidate) float64, n int) []string {
	rs := make([]ranked, len(cands))
	for i, c := range cands {
		rs[i] = ranked{candidate: c, score: score(c)}
	}
	slices.SortStableFunc(rs, func(a, b ranked) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return 0
		}
	})
	if len(rs) > n {
		rs = rs[:n]
	}
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.candidate.ID
	}
	return out
}
