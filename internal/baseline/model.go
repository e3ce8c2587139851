// Package baseline trains and persists the per-feature statistics that drift
// detection scores against.
package baseline

import (
	"errors"
	"fmt"
	"math"
	"time"

	"driftwatch/internal/features"
)

// ModelVersion tags the persisted format. The feature order in the features
// package is part of this contract; a mismatched version is refused at load.
const ModelVersion = "1.0"

// MinStdDev is the floor applied to every trained standard deviation so
// z-scores stay finite for constant features.
const MinStdDev = 0.1

// FeatureStats holds the trained statistics for a single feature.
type FeatureStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Model is the trained baseline for one pipeline.
type Model struct {
	Version          string                  `json:"version"`
	PipelineName     string                  `json:"pipelineName"`
	TrainedAt        time.Time               `json:"trainedAt"`
	BaselineRunCount int                     `json:"baselineRunCount"`
	Features         map[string]FeatureStats `json:"features"`
}

// ErrNoVectors is returned when training is attempted without data.
var ErrNoVectors = errors.New("no feature vectors to train on")

// Train fits a model from one or more feature vectors using population
// statistics. Single-sample and zero-variance features get the MinStdDev floor.
func Train(vectors []features.Vector, pipelineName string) (*Model, error) {
	if len(vectors) == 0 {
		return nil, ErrNoVectors
	}
	for i, v := range vectors {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
	}

	n := float64(len(vectors))
	stats := make(map[string]FeatureStats, features.Count)

	for i, name := range features.Names {
		var sum float64
		min := math.Inf(1)
		max := math.Inf(-1)
		for _, v := range vectors {
			sum += v[i]
			if v[i] < min {
				min = v[i]
			}
			if v[i] > max {
				max = v[i]
			}
		}
		mean := sum / n

		var variance float64
		for _, v := range vectors {
			d := v[i] - mean
			variance += d * d
		}
		variance /= n

		stdDev := math.Sqrt(variance)
		if len(vectors) < 2 || stdDev < MinStdDev {
			stdDev = MinStdDev
		}

		stats[name] = FeatureStats{
			Mean:   mean,
			StdDev: stdDev,
			Count:  len(vectors),
			Min:    min,
			Max:    max,
		}
	}

	return &Model{
		Version:          ModelVersion,
		PipelineName:     pipelineName,
		TrainedAt:        time.Now().UTC(),
		BaselineRunCount: len(vectors),
		Features:         stats,
	}, nil
}

// Retrain pools an existing model with new vectors. Because raw samples are
// not retained, the combined standard deviation is the pooled approximation
// sqrt((s_old^2*n_old + s_new^2*n_new) / n_total) — acceptable for drift
// thresholds, not an exact recomputation.
func Retrain(old *Model, vectors []features.Vector, pipelineName string) (*Model, error) {
	fresh, err := Train(vectors, pipelineName)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return fresh, nil
	}

	combined := make(map[string]FeatureStats, features.Count)
	for _, name := range features.Names {
		newStats := fresh.Features[name]
		oldStats, ok := old.Features[name]
		if !ok || oldStats.Count == 0 {
			// Features absent from the old model start from the new data.
			combined[name] = newStats
			continue
		}

		nOld := float64(oldStats.Count)
		nNew := float64(newStats.Count)
		nTotal := nOld + nNew

		mean := (oldStats.Mean*nOld + newStats.Mean*nNew) / nTotal
		stdDev := math.Sqrt((oldStats.StdDev*oldStats.StdDev*nOld + newStats.StdDev*newStats.StdDev*nNew) / nTotal)
		if stdDev < MinStdDev {
			stdDev = MinStdDev
		}

		combined[name] = FeatureStats{
			Mean:   mean,
			StdDev: stdDev,
			Count:  oldStats.Count + newStats.Count,
			Min:    math.Min(oldStats.Min, newStats.Min),
			Max:    math.Max(oldStats.Max, newStats.Max),
		}
	}

	return &Model{
		Version:          ModelVersion,
		PipelineName:     pipelineName,
		TrainedAt:        time.Now().UTC(),
		BaselineRunCount: old.BaselineRunCount + fresh.BaselineRunCount,
		Features:         combined,
	}, nil
}

// Validate checks a loaded model against the current feature contract.
func (m *Model) Validate() error {
	if m.Version != ModelVersion {
		return fmt.Errorf("model version %q does not match %q; retrain required", m.Version, ModelVersion)
	}
	if len(m.Features) != features.Count {
		return fmt.Errorf("model has %d features, want %d", len(m.Features), features.Count)
	}
	for _, name := range features.Names {
		stats, ok := m.Features[name]
		if !ok {
			return fmt.Errorf("model is missing feature %q", name)
		}
		if stats.StdDev < 0 {
			return fmt.Errorf("model feature %q has negative stdDev", name)
		}
	}
	return nil
}
