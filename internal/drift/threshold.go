package drift

import (
	"math"

	"driftwatch/internal/baseline"
	"driftwatch/internal/features"
)

// thresholdDeviationsFor drives issue emission when the active scorer does
// not expose z-scores (the remote anomaly detector). Each feature's change
// relative to the baseline mean is bucketed onto the shared magnitude scale,
// so the issue rules and explanation phrasing apply unchanged.
//
// The relative change is |value - mean| / max(|mean|, 1); the unit floor
// keeps near-zero baselines from turning tiny absolute changes into dramatic
// deviations.
func thresholdDeviationsFor(vec features.Vector, model *baseline.Model) []deviation {
	devs := make([]deviation, 0, features.Count)
	for i, name := range features.Names {
		stats := model.Features[name]
		diff := vec[i] - stats.Mean

		denom := math.Abs(stats.Mean)
		if denom < 1 {
			denom = 1
		}

		magnitude := thresholdMagnitude(math.Abs(diff) / denom)
		if diff < 0 {
			magnitude = -magnitude
		}

		devs = append(devs, deviation{
			Feature:   name,
			Value:     vec[i],
			Mean:      stats.Mean,
			Magnitude: magnitude,
		})
	}
	return devs
}

// thresholdMagnitude buckets a relative change onto the tier scale used by
// magnitudeOf: below 25% is noise, then minor/moderate/major/dramatic.
func thresholdMagnitude(relative float64) float64 {
	switch {
	case relative < 0.25:
		return 0
	case relative < 0.75:
		return 1.5
	case relative < 1.5:
		return 2.5
	case relative < 3:
		return 3.5
	default:
		return 4.5
	}
}
