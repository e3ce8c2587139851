package drift

import (
	"context"
	"fmt"
	"math"

	"driftwatch/internal/baseline"
	"driftwatch/internal/features"
)

// featureWeights encode the semantic importance of each feature when
// aggregating z-scores. Fixed constants; changing them changes every score.
var featureWeights = map[string]float64{
	"permissionEscalation":        2.5,
	"secretsWithWriteCount":       2.2,
	"adminPermissionCount":        2.0,
	"stepsWithAdminCount":         2.0,
	"secretsUsageCount":           1.8,
	"securityBeforeDeploy":        1.7,
	"securityStepRatio":           1.6,
	"securityScanCount":           1.5,
	"securityStepCount":           1.4,
	"approvalStepCount":           1.3,
	"writePermissionCount":        1.2,
	"normalizedFirstSecurityStep": 1.1,
	"normalizedLastSecurityStep":  1.1,
	"avgSecurityStepOrder":        1.0,
	"normalizedAvgStepOrder":      0.9,
	"readPermissionCount":         0.8,
	"totalStepCount":              0.5,
}

// significantMagnitude is the threshold below which a deviation is ignored
// entirely.
const significantMagnitude = 1.5

// deviation captures how far one feature sits from its baseline. Magnitude is
// signed and drives both direction and severity: the z-score in z-score mode,
// or a tier value synthesized from thresholded feature values in remote mode.
type deviation struct {
	Feature   string
	Value     float64
	Mean      float64
	Magnitude float64
}

// deviationsFor computes per-feature z-scores against the model. The sigma
// floor keeps constant features finite; when sigma is at the floor and the
// value is effectively unchanged, the z-score is forced to zero.
func deviationsFor(vec features.Vector, model *baseline.Model) []deviation {
	devs := make([]deviation, 0, features.Count)
	for i, name := range features.Names {
		stats := model.Features[name]
		sigma := stats.StdDev
		if sigma < baseline.MinStdDev {
			sigma = baseline.MinStdDev
		}
		diff := vec[i] - stats.Mean
		z := diff / sigma
		if stats.StdDev <= baseline.MinStdDev && math.Abs(diff) < 0.01 {
			z = 0
		}
		devs = append(devs, deviation{
			Feature:   name,
			Value:     vec[i],
			Mean:      stats.Mean,
			Magnitude: z,
		})
	}
	return devs
}

// ZScoreScorer is the default explainable scorer: a weighted aggregate of
// per-feature z-score magnitudes, clipped to [0,100].
type ZScoreScorer struct{}

// ZScoreDriven implements Scorer: issue emission uses the same per-feature
// z-scores this scorer aggregates.
func (ZScoreScorer) ZScoreDriven() bool {
	return true
}

// Score implements Scorer.
func (ZScoreScorer) Score(_ context.Context, vec features.Vector, model *baseline.Model) (ScoreResult, error) {
	if err := vec.Validate(); err != nil {
		return ScoreResult{}, err
	}
	if model == nil {
		return ScoreResult{}, baseline.ErrNoModel
	}

	var weighted, totalWeight float64
	for _, dev := range deviationsFor(vec, model) {
		w := featureWeights[dev.Feature]
		weighted += math.Abs(dev.Magnitude) * w
		totalWeight += w
	}

	score := 20 * weighted / totalWeight
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	score = math.Round(score*100) / 100

	return ScoreResult{
		DriftScore: score,
		RiskLevel:  RiskLevelFor(score),
	}, nil
}

// magnitude tiers for severity assignment and explanation phrasing.
func magnitudeOf(z float64) (severity, adverb string) {
	switch abs := math.Abs(z); {
	case abs < 2.5:
		return RiskLow, "slightly"
	case abs < 3.5:
		return RiskMedium, "moderately"
	case abs < 4.5:
		return RiskHigh, "significantly"
	default:
		return RiskCritical, "dramatically"
	}
}

// issueRule maps a feature deviation onto an issue type. direction -1 fires
// on decreases, +1 on increases, 0 on any significant deviation.
type issueRule struct {
	feature   string
	direction int
	issueType string
}

var issueRules = []issueRule{
	{"securityScanCount", -1, IssueSecurityScanRemoved},
	{"securityStepCount", -1, IssueSecurityScanRemoved},
	{"securityStepRatio", -1, IssueSecurityScanRemoved},
	{"adminPermissionCount", +1, IssuePermissionEscalation},
	{"permissionEscalation", +1, IssuePermissionEscalation},
	{"secretsUsageCount", 0, IssueSecretsExposure},
	{"secretsWithWriteCount", +1, IssueSecretsExposure},
	{"approvalStepCount", -1, IssueApprovalBypassed},
	{"securityBeforeDeploy", -1, IssueExecutionOrderChanged},
	{"normalizedFirstSecurityStep", +1, IssueExecutionOrderChanged},
}

// featureDescriptors phrase each feature for issue descriptions and
// explanation lines.
var featureDescriptors = map[string]string{
	"securityScanCount":           "Security scan steps",
	"securityStepCount":           "Security-related steps",
	"readPermissionCount":         "Steps with read permissions",
	"writePermissionCount":        "Steps with write permissions",
	"adminPermissionCount":        "Steps with admin permissions",
	"secretsUsageCount":           "Steps referencing secrets",
	"approvalStepCount":           "Manual approval gates",
	"avgSecurityStepOrder":        "Average security step position",
	"permissionEscalation":        "Permission escalation between steps",
	"totalStepCount":              "Total pipeline steps",
	"securityStepRatio":           "Share of security steps",
	"normalizedFirstSecurityStep": "Position of the first security step",
	"normalizedLastSecurityStep":  "Position of the last security step",
	"secretsWithWriteCount":       "Secrets used in steps with write access",
	"stepsWithAdminCount":         "Steps running with admin access",
	"securityBeforeDeploy":        "Security steps ahead of deployment",
	"normalizedAvgStepOrder":      "Average step position",
}

// issuesFor emits one issue per significant feature deviation that matches a
// rule. permissionEscalation severity is pinned to high regardless of tier.
func issuesFor(devs []deviation, newID func() string) []Issue {
	byFeature := make(map[string]deviation, len(devs))
	for _, d := range devs {
		byFeature[d.Feature] = d
	}

	issues := []Issue{}
	for _, rule := range issueRules {
		dev, ok := byFeature[rule.feature]
		if !ok || math.Abs(dev.Magnitude) < significantMagnitude {
			continue
		}
		switch rule.direction {
		case -1:
			if dev.Magnitude >= 0 {
				continue
			}
		case +1:
			if dev.Magnitude <= 0 {
				continue
			}
		}

		severity, _ := magnitudeOf(dev.Magnitude)
		if rule.feature == "permissionEscalation" {
			severity = RiskHigh
		}

		issues = append(issues, Issue{
			ID:          newID(),
			Type:        rule.issueType,
			Severity:    severity,
			Description: describeDeviation(dev),
		})
	}
	return issues
}

// explanationsFor emits one line for every significant deviation.
func explanationsFor(devs []deviation) []string {
	lines := []string{}
	for _, dev := range devs {
		if math.Abs(dev.Magnitude) < significantMagnitude {
			continue
		}
		lines = append(lines, describeDeviation(dev))
	}
	return lines
}

func describeDeviation(dev deviation) string {
	direction := "increased"
	if dev.Magnitude < 0 {
		direction = "decreased"
	}
	_, adverb := magnitudeOf(dev.Magnitude)
	return fmt.Sprintf("%s %s %s (%.2f vs baseline %.2f, change: %.2f)",
		featureDescriptors[dev.Feature], direction, adverb,
		dev.Value, dev.Mean, math.Abs(dev.Value-dev.Mean))
}
