package drift

import (
	"testing"

	"driftwatch/internal/baseline"
	"driftwatch/internal/features"
)

func TestThresholdMagnitudeBuckets(t *testing.T) {
	tests := []struct {
		relative float64
		expected float64
	}{
		{0, 0},
		{0.2, 0},
		{0.25, 1.5},
		{0.5, 1.5},
		{0.75, 2.5},
		{1.0, 2.5},
		{1.5, 3.5},
		{2.9, 3.5},
		{3.0, 4.5},
		{10, 4.5},
	}
	for _, tt := range tests {
		if got := thresholdMagnitude(tt.relative); got != tt.expected {
			t.Errorf("thresholdMagnitude(%v) = %v, want %v", tt.relative, got, tt.expected)
		}
	}
}

func TestThresholdDeviations(t *testing.T) {
	base := make(features.Vector, features.Count)
	base[0] = 4 // securityScanCount
	model, err := baseline.Train([]features.Vector{base, base}, "p")
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	tests := []struct {
		name      string
		value     float64
		magnitude float64
	}{
		{"Unchanged", 4, 0},
		{"SmallDrop", 3.5, 0},       // 12.5% change is noise
		{"ModerateRise", 6, 1.5},    // 50% change
		{"LargeDrop", 1, -2.5},      // 75% change, decreasing
		{"Vanished", 0, -2.5},       // 100% change
		{"Explosion", 20, 4.5},      // 400% change
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vec := make(features.Vector, features.Count)
			vec[0] = tt.value
			devs := thresholdDeviationsFor(vec, model)
			if devs[0].Magnitude != tt.magnitude {
				t.Errorf("magnitude = %v, want %v", devs[0].Magnitude, tt.magnitude)
			}
		})
	}

	// A zero-mean feature uses the unit floor: small absolute changes stay
	// below significance.
	vec := make(features.Vector, features.Count)
	vec[0] = 4
	vec[4] = 0.2 // adminPermissionCount, baseline mean 0
	devs := thresholdDeviationsFor(vec, model)
	if devs[4].Magnitude != 0 {
		t.Errorf("zero-mean small change magnitude = %v, want 0", devs[4].Magnitude)
	}
}
