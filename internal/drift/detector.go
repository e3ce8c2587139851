package drift

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"driftwatch/internal/baseline"
	"driftwatch/internal/features"
	"driftwatch/internal/normalizer"
)

// Detector runs the configured scorer and layers issue and explanation
// emission on top. Detect never persists anything.
type Detector struct {
	scorer Scorer
}

// NewDetector wraps a scorer.
func NewDetector(scorer Scorer) *Detector {
	return &Detector{scorer: scorer}
}

// Detect scores one vector against the model and assembles the analysis.
// Deterministic modulo ID and Timestamp.
func (d *Detector) Detect(ctx context.Context, vec features.Vector, model *baseline.Model, pipelineName string, steps []normalizer.Step) (*Analysis, error) {
	if err := vec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feature vector: %w", err)
	}
	if model == nil {
		return nil, baseline.ErrNoModel
	}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("invalid baseline model: %w", err)
	}

	result, err := d.scorer.Score(ctx, vec, model)
	if err != nil {
		return nil, err
	}

	// Issues and explanations apply in both scorer modes, but their deviation
	// source differs: z-scores for the built-in scorer, thresholded feature
	// values when the score came from a remote detector.
	var devs []deviation
	if d.scorer.ZScoreDriven() {
		devs = deviationsFor(vec, model)
	} else {
		devs = thresholdDeviationsFor(vec, model)
	}

	if steps == nil {
		steps = []normalizer.Step{}
	}

	return &Analysis{
		ID:            uuid.NewString(),
		PipelineName:  pipelineName,
		DriftScore:    result.DriftScore,
		RiskLevel:     result.RiskLevel,
		Timestamp:     time.Now().UTC(),
		Issues:        issuesFor(devs, uuid.NewString),
		Explanations:  explanationsFor(devs),
		FeatureVector: vec,
		ParsedSteps:   steps,
		AnomalyScore:  result.AnomalyScore,
		IsAnomaly:     result.IsAnomaly,
	}, nil
}
