package report

import (
	"fmt"
	"testing"
	"time"

	"driftwatch/internal/drift"
	"driftwatch/internal/store"
)

func analysis(score float64, ts time.Time) *drift.Analysis {
	return &drift.Analysis{
		ID:           fmt.Sprintf("a-%v", ts.UnixMicro()),
		PipelineName: "api-ci",
		DriftScore:   score,
		RiskLevel:    drift.RiskLevelFor(score),
		Timestamp:    ts,
		Issues:       []drift.Issue{},
	}
}

func TestTimelineAscendingWithEvents(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	quiet := analysis(10, base.Add(1*time.Hour))
	elevated := analysis(55, base.Add(2*time.Hour))
	critical := analysis(85, base.Add(3*time.Hour))
	flagged := analysis(5, base.Add(4*time.Hour))
	flagged.Issues = []drift.Issue{{ID: "i", Type: drift.IssueSecretsExposure, Severity: drift.RiskCritical}}

	// Newest-first input, as the store returns it.
	points := Timeline([]*drift.Analysis{flagged, critical, elevated, quiet})

	if len(points) != 4 {
		t.Fatalf("got %d points", len(points))
	}
	for i := 1; i < len(points); i++ {
		if points[i].Date.Before(points[i-1].Date) {
			t.Error("timeline not chronologically ascending")
		}
	}
	if points[0].Event != nil {
		t.Errorf("quiet point has event %q", *points[0].Event)
	}
	for i, name := range []string{"elevated", "critical", "flagged"} {
		if points[i+1].Event == nil {
			t.Errorf("%s point missing event", name)
		}
	}
}

func TestTrendFor(t *testing.T) {
	now := time.Now()
	current := analysis(60, now)
	previous := analysis(40, now.Add(-time.Hour))

	trend := TrendFor(current, previous)
	if trend == nil {
		t.Fatal("expected trend")
	}
	if trend.Change != 20 || trend.ChangePercent != 50 || trend.Direction != "up" {
		t.Errorf("trend = %+v", trend)
	}

	down := TrendFor(previous, current)
	if down.Direction != "down" || down.Change != -20 {
		t.Errorf("down trend = %+v", down)
	}

	flat := TrendFor(current, analysis(60, now.Add(-time.Hour)))
	if flat.Direction != "neutral" {
		t.Errorf("flat trend = %+v", flat)
	}

	if TrendFor(current, nil) != nil {
		t.Error("expected nil trend without predecessor")
	}
}

func TestQuickStatsTiles(t *testing.T) {
	last := time.Now().Add(-2 * time.Minute)
	stats := store.Stats{TotalAnalyses: 12, AverageScore: 33.33, CriticalIssues: 4, LastAnalysis: &last}

	tiles := QuickStats(stats, nil)
	if len(tiles) != 4 {
		t.Fatalf("got %d tiles", len(tiles))
	}

	titles := []string{"Total Analyses", "Average Score", "Critical Issues", "Last Analysis"}
	for i, want := range titles {
		if tiles[i].Title != want {
			t.Errorf("tile %d = %q, want %q", i, tiles[i].Title, want)
		}
	}
	if tiles[0].Value != "12" || tiles[1].Value != "33.33" || tiles[2].Value != "4" {
		t.Errorf("tile values wrong: %+v", tiles)
	}
	if tiles[3].Value == "" || tiles[3].Value == "never" {
		t.Errorf("last analysis tile = %q", tiles[3].Value)
	}
}

func TestQuickStatsRollingChange(t *testing.T) {
	base := time.Now()

	// 10 recent analyses at 50, then 10 older at 10: delta well past the
	// threshold, so the Average Score tile carries a change indicator.
	var moving []*drift.Analysis
	for i := 0; i < 10; i++ {
		moving = append(moving, analysis(50, base.Add(-time.Duration(i)*time.Minute)))
	}
	for i := 10; i < 20; i++ {
		moving = append(moving, analysis(10, base.Add(-time.Duration(i)*time.Minute)))
	}

	tiles := QuickStats(store.Stats{}, moving)
	if tiles[1].Change != "+40.00" {
		t.Errorf("change indicator = %q, want +40.00", tiles[1].Change)
	}

	// A flat window stays quiet.
	var flat []*drift.Analysis
	for i := 0; i < 20; i++ {
		flat = append(flat, analysis(30, base.Add(-time.Duration(i)*time.Minute)))
	}
	tiles = QuickStats(store.Stats{}, flat)
	if tiles[1].Change != "" {
		t.Errorf("flat window produced change %q", tiles[1].Change)
	}
}
