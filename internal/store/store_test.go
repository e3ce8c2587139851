package store

import (
	"fmt"
	"math"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"driftwatch/internal/drift"
	"driftwatch/internal/features"
	"driftwatch/internal/normalizer"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "driftwatch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func analysisAt(id, pipeline string, score float64, ts time.Time) *drift.Analysis {
	return &drift.Analysis{
		ID:            id,
		PipelineName:  pipeline,
		DriftScore:    score,
		RiskLevel:     drift.RiskLevelFor(score),
		Timestamp:     ts,
		Issues:        []drift.Issue{},
		Explanations:  []string{},
		FeatureVector: make(features.Vector, features.Count),
		ParsedSteps:   []normalizer.Step{},
	}
}

func TestUpsertAndRoundTrip(t *testing.T) {
	s := newStore(t)

	a := analysisAt("a-1", "api-ci", 42.5, time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC))
	a.Issues = []drift.Issue{{ID: "i-1", Type: drift.IssueSecretsExposure, Severity: drift.RiskHigh, Description: "secrets spread"}}
	a.Explanations = []string{"Steps referencing secrets increased dramatically (3.00 vs baseline 1.00, change: 2.00)"}

	if err := s.Upsert(a); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetByID("a-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(a, got) {
		t.Errorf("round trip mismatch:\nwant %+v\ngot  %+v", a, got)
	}

	// Upsert with the same id replaces, not duplicates.
	a.DriftScore = 50
	a.RiskLevel = drift.RiskLevelFor(50)
	if err := s.Upsert(a); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	all, err := s.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 1 || all[0].DriftScore != 50 {
		t.Errorf("expected single updated analysis, got %d entries", len(all))
	}
}

func TestQueryNewestFirst(t *testing.T) {
	s := newStore(t)
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		a := analysisAt(fmt.Sprintf("a-%d", i), "api-ci", float64(i), base.Add(time.Duration(i)*time.Hour))
		if err := s.Upsert(a); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Upsert(analysisAt("other", "web-ci", 9, base.Add(10*time.Hour))); err != nil {
		t.Fatal(err)
	}

	got, err := s.Query(QueryOptions{Pipeline: "api-ci"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d analyses", len(got))
	}
	if got[0].ID != "a-4" {
		t.Errorf("newest analysis not at head: %s", got[0].ID)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Error("results not newest-first")
		}
	}

	// A newly upserted newest analysis appears at the head.
	if err := s.Upsert(analysisAt("a-new", "api-ci", 1, base.Add(24*time.Hour))); err != nil {
		t.Fatal(err)
	}
	got, err = s.Query(QueryOptions{Pipeline: "api-ci"})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].ID != "a-new" {
		t.Errorf("upserted newest not at head: %s", got[0].ID)
	}
}

func TestQuerySinceAndLimit(t *testing.T) {
	s := newStore(t)
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		if err := s.Upsert(analysisAt(fmt.Sprintf("a-%d", i), "api-ci", 0, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Query(QueryOptions{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("limit ignored: got %d", len(got))
	}

	got, err = s.Query(QueryOptions{Since: base.Add(7 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("since filter: got %d, want 3", len(got))
	}
}

func TestOldestNewestAndPrevious(t *testing.T) {
	s := newStore(t)
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := s.Upsert(analysisAt(fmt.Sprintf("a-%d", i), "api-ci", 0, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	oldest, newest, err := s.OldestNewest("api-ci")
	if err != nil {
		t.Fatal(err)
	}
	if oldest.ID != "a-0" || newest.ID != "a-2" {
		t.Errorf("oldest/newest = %s/%s", oldest.ID, newest.ID)
	}

	prev, err := s.PreviousFor("api-ci", newest.Timestamp)
	if err != nil {
		t.Fatal(err)
	}
	if prev.ID != "a-1" {
		t.Errorf("previous = %s, want a-1", prev.ID)
	}

	if _, _, err := s.OldestNewest("missing"); err == nil {
		t.Error("expected ErrNotFound for unknown pipeline")
	}
}

func TestStats(t *testing.T) {
	s := newStore(t)
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	scores := []float64{10, 20, 30}
	for i, score := range scores {
		a := analysisAt(fmt.Sprintf("a-%d", i), "api-ci", score, base.Add(time.Duration(i)*time.Hour))
		if i == 0 {
			a.Issues = []drift.Issue{
				{ID: "i-1", Type: drift.IssuePermissionEscalation, Severity: drift.RiskHigh},
				{ID: "i-2", Type: drift.IssueSecretsExposure, Severity: drift.RiskCritical},
				{ID: "i-3", Type: drift.IssueApprovalBypassed, Severity: drift.RiskLow},
			}
		}
		if err := s.Upsert(a); err != nil {
			t.Fatal(err)
		}
	}
	// Test-data pipeline that the production filter must drop.
	noisy := analysisAt("noise", "sample-pipeline", 100, base.Add(48*time.Hour))
	if err := s.Upsert(noisy); err != nil {
		t.Fatal(err)
	}

	stats, err := s.GetStats(false)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalAnalyses != 4 {
		t.Errorf("totalAnalyses = %d", stats.TotalAnalyses)
	}
	if math.Abs(stats.AverageScore-40) > 0.01 {
		t.Errorf("averageScore = %v, want 40", stats.AverageScore)
	}

	filtered, err := s.GetStats(true)
	if err != nil {
		t.Fatal(err)
	}
	if filtered.TotalAnalyses != 3 {
		t.Errorf("filtered totalAnalyses = %d", filtered.TotalAnalyses)
	}
	if math.Abs(filtered.AverageScore-20) > 0.01 {
		t.Errorf("filtered averageScore = %v, want 20", filtered.AverageScore)
	}
	if filtered.CriticalIssues != 2 {
		t.Errorf("criticalIssues = %d, want 2 (high+critical)", filtered.CriticalIssues)
	}
	if filtered.LastAnalysis == nil || !filtered.LastAnalysis.Equal(base.Add(2*time.Hour)) {
		t.Errorf("lastAnalysis = %v", filtered.LastAnalysis)
	}
}

func TestStatsEmptyStore(t *testing.T) {
	s := newStore(t)
	stats, err := s.GetStats(true)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalAnalyses != 0 || stats.AverageScore != 0 || stats.LastAnalysis != nil {
		t.Errorf("empty stats = %+v", stats)
	}
}
