package drift

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"driftwatch/internal/baseline"
	"driftwatch/internal/features"
	"driftwatch/internal/normalizer"
)

func remoteModel(t *testing.T) *baseline.Model {
	t.Helper()
	vec := make(features.Vector, features.Count)
	model, err := baseline.Train([]features.Vector{vec, vec}, "api-ci")
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	return model
}

func TestRemoteScorerSuccess(t *testing.T) {
	var received remoteRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		anomaly := 0.87
		isAnomaly := true
		json.NewEncoder(w).Encode(ScoreResult{
			DriftScore:   62.5,
			RiskLevel:    RiskHigh,
			AnomalyScore: &anomaly,
			IsAnomaly:    &isAnomaly,
		})
	}))
	defer server.Close()

	scorer := NewRemoteScorer(server.URL, time.Second, 3)
	result, err := scorer.Score(context.Background(), make(features.Vector, features.Count), remoteModel(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.DriftScore != 62.5 || result.RiskLevel != RiskHigh {
		t.Errorf("result = %+v", result)
	}
	if result.AnomalyScore == nil || *result.AnomalyScore != 0.87 {
		t.Errorf("anomalyScore = %v", result.AnomalyScore)
	}
	if len(received.Features) != features.Count {
		t.Errorf("scorer received %d features", len(received.Features))
	}
}

func TestRemoteScorerRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	scorer := NewRemoteScorer(server.URL, time.Second, 3)
	_, err := scorer.Score(context.Background(), make(features.Vector, features.Count), remoteModel(t))
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != 3 {
		t.Errorf("scorer called %d times, want 3", calls.Load())
	}
}

// A detector wired with the remote scorer takes score and risk from the
// remote response while issues come from thresholded feature values.
func TestDetectWithRemoteScorer(t *testing.T) {
	anomaly := 0.91
	isAnomaly := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ScoreResult{
			DriftScore:   80,
			RiskLevel:    RiskCritical,
			AnomalyScore: &anomaly,
			IsAnomaly:    &isAnomaly,
		})
	}))
	defer server.Close()

	quiet := []normalizer.Step{
		step("fetch config", 1, func(s *normalizer.Step) { s.Secrets = true }),
		step("build", 2, nil),
		step("upload", 3, nil),
	}
	model := trainOn(t, quiet, 3)

	leaky := []normalizer.Step{
		step("fetch config", 1, func(s *normalizer.Step) { s.Secrets = true }),
		step("build", 2, func(s *normalizer.Step) {
			s.Secrets = true
			s.Permissions = []string{"write"}
		}),
		step("upload", 3, func(s *normalizer.Step) {
			s.Secrets = true
			s.Permissions = []string{"write"}
		}),
	}

	detector := NewDetector(NewRemoteScorer(server.URL, time.Second, 3))
	analysis, err := detector.Detect(context.Background(), extract(t, leaky), model, "api-ci", leaky)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}

	if analysis.DriftScore != 80 || analysis.RiskLevel != RiskCritical {
		t.Errorf("score/risk = %v/%v, want remote values", analysis.DriftScore, analysis.RiskLevel)
	}
	if analysis.AnomalyScore == nil || *analysis.AnomalyScore != 0.91 {
		t.Errorf("anomalyScore = %v", analysis.AnomalyScore)
	}
	if analysis.IsAnomaly == nil || !*analysis.IsAnomaly {
		t.Errorf("isAnomaly = %v", analysis.IsAnomaly)
	}
	if !hasIssue(analysis, IssueSecretsExposure, RiskLow) {
		t.Errorf("expected threshold-driven secrets_exposure issue, got %+v", analysis.Issues)
	}
	if len(analysis.Explanations) == 0 {
		t.Error("expected threshold-driven explanations")
	}
}

// A run matching the baseline mean emits no issues in remote mode either.
func TestDetectWithRemoteScorerNoDeviations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ScoreResult{DriftScore: 5, RiskLevel: RiskLow})
	}))
	defer server.Close()

	model := trainOn(t, healthySteps(), 3)
	detector := NewDetector(NewRemoteScorer(server.URL, time.Second, 3))
	analysis, err := detector.Detect(context.Background(), extract(t, healthySteps()), model, "api-ci", healthySteps())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(analysis.Issues) != 0 {
		t.Errorf("issues = %+v, want none for a baseline match", analysis.Issues)
	}
}

func TestRemoteScorerRecoversOnRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(ScoreResult{DriftScore: 12})
	}))
	defer server.Close()

	scorer := NewRemoteScorer(server.URL, time.Second, 3)
	result, err := scorer.Score(context.Background(), make(features.Vector, features.Count), remoteModel(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DriftScore != 12 {
		t.Errorf("driftScore = %v", result.DriftScore)
	}
	// Missing risk level is derived from the score.
	if result.RiskLevel != RiskLow {
		t.Errorf("riskLevel = %v, want low", result.RiskLevel)
	}
}
