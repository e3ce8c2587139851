// Package diff classifies per-step change between two canonical runs.
package diff

import (
	"cmp"
	"encoding/json"
	"slices"

	"driftwatch/internal/normalizer"
)

// Step change statuses.
const (
	StatusUnchanged = "unchanged"
	StatusAdded     = "added"
	StatusRemoved   = "removed"
	StatusModified  = "modified"
)

// StepDiff is one step on one side of the comparison.
type StepDiff struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Security bool   `json:"security"`
}

// Result carries both sides of the comparison, each sorted by name.
type Result struct {
	Baseline []StepDiff `json:"baseline"`
	Current  []StepDiff `json:"current"`
}

// Compare matches steps by name across the two runs. Steps present only in
// the baseline are removed; steps only in the current run are added; steps in
// both are modified on the current side when permissions or any security
// attribute differ. The baseline side reports shared steps as unchanged.
func Compare(baselineSteps, currentSteps []normalizer.Step) Result {
	baseByName := stepsByName(baselineSteps)
	curByName := stepsByName(currentSteps)

	result := Result{Baseline: []StepDiff{}, Current: []StepDiff{}}

	for name, base := range baseByName {
		if _, ok := curByName[name]; ok {
			result.Baseline = append(result.Baseline, StepDiff{
				Name:     name,
				Status:   StatusUnchanged,
				Security: base.Security,
			})
		} else {
			result.Baseline = append(result.Baseline, StepDiff{
				Name:     name,
				Status:   StatusRemoved,
				Security: base.Security,
			})
		}
	}

	for name, cur := range curByName {
		base, ok := baseByName[name]
		switch {
		case !ok:
			result.Current = append(result.Current, StepDiff{
				Name:     name,
				Status:   StatusAdded,
				Security: cur.Security,
			})
		case stepChanged(base, cur):
			result.Current = append(result.Current, StepDiff{
				Name:     name,
				Status:   StatusModified,
				Security: cur.Security,
			})
		default:
			result.Current = append(result.Current, StepDiff{
				Name:     name,
				Status:   StatusUnchanged,
				Security: cur.Security,
			})
		}
	}

	byName := func(a, b StepDiff) int { return cmp.Compare(a.Name, b.Name) }
	slices.SortFunc(result.Baseline, byName)
	slices.SortFunc(result.Current, byName)

	return result
}

func stepsByName(steps []normalizer.Step) map[string]normalizer.Step {
	m := make(map[string]normalizer.Step, len(steps))
	for _, s := range steps {
		m[s.Name] = s
	}
	return m
}

// stepChanged compares the security-relevant attributes. Permission sets are
// compared by a sorted canonical serialization to avoid order-induced
// spurious modifications.
func stepChanged(a, b normalizer.Step) bool {
	if a.Security != b.Security || a.Secrets != b.Secrets || a.Approval != b.Approval {
		return true
	}
	return canonicalPermissions(a.Permissions) != canonicalPermissions(b.Permissions)
}

func canonicalPermissions(perms []string) string {
	if len(perms) == 0 {
		return "[]"
	}
	sorted := slices.Clone(perms)
	slices.Sort(sorted)
	out, _ := json.Marshal(sorted)
	return string(out)
}
