// Package report assembles the presentation-facing summaries: score timeline,
// trend against the previous run and the dashboard quick-stat tiles.
package report

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"driftwatch/internal/drift"
	"driftwatch/internal/store"
)

// TimelinePoint is one analysis on the score timeline.
type TimelinePoint struct {
	Date  time.Time `json:"date"`
	Score float64   `json:"score"`
	Event *string   `json:"event"`
}

// Trend compares the current analysis with its predecessor.
type Trend struct {
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	Direction     string  `json:"direction"` // up, down or neutral
}

// StatTile is one dashboard quick-stat.
type StatTile struct {
	Title  string `json:"title"`
	Value  string `json:"value"`
	Change string `json:"change,omitempty"`
}

// rollingDeltaThreshold gates the change indicator on the Average Score tile.
const rollingDeltaThreshold = 5.0

// Timeline converts analyses into chronologically ascending points. An event
// marker appears for high scores or high/critical issues.
func Timeline(analyses []*drift.Analysis) []TimelinePoint {
	points := make([]TimelinePoint, 0, len(analyses))
	// Listings arrive newest-first; walk backwards for ascending order.
	for i := len(analyses) - 1; i >= 0; i-- {
		a := analyses[i]
		points = append(points, TimelinePoint{
			Date:  a.Timestamp,
			Score: a.DriftScore,
			Event: eventFor(a),
		})
	}
	return points
}

func eventFor(a *drift.Analysis) *string {
	var event string
	switch {
	case a.DriftScore >= 70:
		event = "Critical drift detected"
	case a.DriftScore >= 50:
		event = "Elevated drift"
	default:
		for _, issue := range a.Issues {
			if issue.Severity == drift.RiskHigh || issue.Severity == drift.RiskCritical {
				event = "Security issue detected"
				break
			}
		}
	}
	if event == "" {
		return nil
	}
	return &event
}

// TrendFor computes the score movement against the previous analysis of the
// same pipeline. Nil without a predecessor.
func TrendFor(current, previous *drift.Analysis) *Trend {
	if current == nil || previous == nil {
		return nil
	}

	change := round2(current.DriftScore - previous.DriftScore)
	percent := 0.0
	if previous.DriftScore != 0 {
		percent = round2(change / previous.DriftScore * 100)
	}

	direction := "neutral"
	switch {
	case change > 0:
		direction = "up"
	case change < 0:
		direction = "down"
	}

	return &Trend{Change: change, ChangePercent: percent, Direction: direction}
}

// QuickStats builds the four dashboard tiles. recent must be newest-first;
// the Average Score tile compares the last 10 analyses against the preceding
// 10 and only reports movement beyond the threshold.
func QuickStats(stats store.Stats, recent []*drift.Analysis) []StatTile {
	lastAnalysis := "never"
	if stats.LastAnalysis != nil {
		lastAnalysis = humanize.Time(*stats.LastAnalysis)
	}

	return []StatTile{
		{Title: "Total Analyses", Value: fmt.Sprintf("%d", stats.TotalAnalyses)},
		{
			Title:  "Average Score",
			Value:  fmt.Sprintf("%.2f", stats.AverageScore),
			Change: rollingChange(recent),
		},
		{Title: "Critical Issues", Value: fmt.Sprintf("%d", stats.CriticalIssues)},
		{Title: "Last Analysis", Value: lastAnalysis},
	}
}

func rollingChange(recent []*drift.Analysis) string {
	if len(recent) < 11 {
		return ""
	}
	last := meanScore(recent[:10])
	window := recent[10:]
	if len(window) > 10 {
		window = window[:10]
	}
	previous := meanScore(window)

	delta := last - previous
	if math.Abs(delta) < rollingDeltaThreshold {
		return ""
	}
	return fmt.Sprintf("%+.2f", round2(delta))
}

func meanScore(analyses []*drift.Analysis) float64 {
	var sum float64
	for _, a := range analyses {
		sum += a.DriftScore
	}
	return sum / float64(len(analyses))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
