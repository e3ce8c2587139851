package drift

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"driftwatch/internal/baseline"
	"driftwatch/internal/features"
)

// RemoteScorer calls an external anomaly detector over HTTP instead of the
// built-in z-score aggregation. Failures are retried with backoff; the final
// failure surfaces to the caller — there is no silent fallback to the local
// algorithm.
type RemoteScorer struct {
	url     string
	retries int
	client  *http.Client
}

// NewRemoteScorer builds a scorer for the given endpoint.
func NewRemoteScorer(url string, timeout time.Duration, retries int) *RemoteScorer {
	if retries < 1 {
		retries = 1
	}
	return &RemoteScorer{
		url:     url,
		retries: retries,
		client:  &http.Client{Timeout: timeout},
	}
}

// ZScoreDriven implements Scorer: a remote detector exposes no per-feature
// z-scores, so issue emission falls back to thresholded feature values.
func (r *RemoteScorer) ZScoreDriven() bool {
	return false
}

type remoteRequest struct {
	Features     features.Vector `json:"features"`
	FeatureNames []string        `json:"featureNames"`
	PipelineName string          `json:"pipelineName,omitempty"`
}

// Score implements Scorer.
func (r *RemoteScorer) Score(ctx context.Context, vec features.Vector, model *baseline.Model) (ScoreResult, error) {
	if err := vec.Validate(); err != nil {
		return ScoreResult{}, err
	}

	payload, err := json.Marshal(remoteRequest{
		Features:     vec,
		FeatureNames: features.Names[:],
		PipelineName: model.PipelineName,
	})
	if err != nil {
		return ScoreResult{}, fmt.Errorf("failed to encode scorer request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < r.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(500*(1<<(attempt-1))) * time.Millisecond
			log.Warn().Err(lastErr).Dur("backoff", backoff).Int("attempt", attempt).Msg("Retrying external scorer")
			select {
			case <-ctx.Done():
				return ScoreResult{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := r.call(ctx, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	return ScoreResult{}, fmt.Errorf("external scorer unreachable after %d attempts: %w", r.retries, lastErr)
}

func (r *RemoteScorer) call(ctx context.Context, payload []byte) (ScoreResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return ScoreResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return ScoreResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ScoreResult{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return ScoreResult{}, fmt.Errorf("scorer returned %d: %s", resp.StatusCode, body)
	}

	var result ScoreResult
	if err := json.Unmarshal(body, &result); err != nil {
		return ScoreResult{}, fmt.Errorf("failed to decode scorer response: %w", err)
	}
	if result.RiskLevel == "" {
		result.RiskLevel = RiskLevelFor(result.DriftScore)
	}
	return result, nil
}
