// Package features projects a canonical run onto the fixed numeric vector the
// baseline model is trained over.
package features

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"driftwatch/internal/normalizer"
)

// Count is the frozen vector length. The index → name mapping below is part
// of the persisted model contract; changing it is a breaking model-format
// bump that requires retraining.
const Count = 17

// Names lists the features in index order.
var Names = [Count]string{
	"securityScanCount",
	"securityStepCount",
	"readPermissionCount",
	"writePermissionCount",
	"adminPermissionCount",
	"secretsUsageCount",
	"approvalStepCount",
	"avgSecurityStepOrder",
	"permissionEscalation",
	"totalStepCount",
	"securityStepRatio",
	"normalizedFirstSecurityStep",
	"normalizedLastSecurityStep",
	"secretsWithWriteCount",
	"stepsWithAdminCount",
	"securityBeforeDeploy",
	"normalizedAvgStepOrder",
}

// Vector is an ordered tuple of Count finite floats.
type Vector []float64

var (
	// ErrNoRun is returned when Extract is handed a nil run.
	ErrNoRun = errors.New("no canonical run to extract features from")
)

// Validate rejects vectors of the wrong length or containing non-finite values.
func (v Vector) Validate() error {
	if len(v) != Count {
		return fmt.Errorf("feature vector has %d values, want %d", len(v), Count)
	}
	for i, val := range v {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Errorf("feature %s is not finite", Names[i])
		}
	}
	return nil
}

// AsMap returns the vector keyed by feature name.
func (v Vector) AsMap() map[string]float64 {
	m := make(map[string]float64, Count)
	for i, name := range Names {
		if i < len(v) {
			m[name] = v[i]
		}
	}
	return m
}

// Extract computes the feature vector for a canonical run. An empty step list
// produces the all-zero vector.
func Extract(run *normalizer.Run) (Vector, error) {
	if run == nil {
		return nil, ErrNoRun
	}

	v := make(Vector, Count)
	total := len(run.Steps)
	v[9] = float64(total)
	if total == 0 {
		return v, nil
	}

	var (
		securitySteps   int
		securityScans   int
		securityOrdSum  float64
		firstSecurity   = math.MaxInt
		lastSecurity    = 0
		readCount       int
		writeCount      int
		adminCount      int
		secretsCount    int
		approvalCount   int
		secretsWrite    int
		orderSum        float64
		firstDeploy     = math.MaxInt
		escalation      float64
		prevLevel       = -1
	)

	for _, step := range run.Steps {
		orderSum += float64(step.ExecutionOrder)

		hasRead := hasPermission(step, "read")
		hasWrite := hasPermission(step, "write")
		hasAdmin := hasPermission(step, "admin")

		if hasRead {
			readCount++
		}
		if hasWrite {
			writeCount++
		}
		if hasAdmin {
			adminCount++
		}

		if step.Security {
			securitySteps++
			securityOrdSum += float64(step.ExecutionOrder)
			if step.ExecutionOrder < firstSecurity {
				firstSecurity = step.ExecutionOrder
			}
			if step.ExecutionOrder > lastSecurity {
				lastSecurity = step.ExecutionOrder
			}
			lower := strings.ToLower(step.Name)
			if strings.Contains(lower, "scan") || strings.Contains(lower, "check") {
				securityScans++
			}
		}

		if step.Secrets {
			secretsCount++
			if hasWrite {
				secretsWrite++
			}
		}
		if step.Approval {
			approvalCount++
		}
		if step.Type == "deploy" && step.ExecutionOrder < firstDeploy {
			firstDeploy = step.ExecutionOrder
		}

		// Permission levels: none 0, read 1, write 2, admin 3. A strict
		// increase between adjacent steps marks an escalation.
		level := 0
		switch {
		case hasAdmin:
			level = 3
		case hasWrite:
			level = 2
		case hasRead:
			level = 1
		}
		if prevLevel >= 0 && level > prevLevel {
			escalation = 1
		}
		prevLevel = level
	}

	totalF := float64(total)
	v[0] = float64(securityScans)
	v[1] = float64(securitySteps)
	v[2] = float64(readCount)
	v[3] = float64(writeCount)
	v[4] = float64(adminCount)
	v[5] = float64(secretsCount)
	v[6] = float64(approvalCount)
	if securitySteps > 0 {
		v[7] = securityOrdSum / float64(securitySteps)
		v[10] = float64(securitySteps) / totalF
		v[11] = float64(firstSecurity) / totalF
		v[12] = float64(lastSecurity) / totalF
	}
	v[8] = escalation
	v[13] = float64(secretsWrite)
	v[14] = float64(adminCount)
	v[15] = securityBeforeDeploy(run.Steps, firstDeploy, securitySteps)
	v[16] = (orderSum / totalF) / totalF

	return v, nil
}

// securityBeforeDeploy counts security steps ordered before the earliest
// deploy step; with no deploy step every security step counts.
func securityBeforeDeploy(steps []normalizer.Step, firstDeploy, securitySteps int) float64 {
	if firstDeploy == math.MaxInt {
		return float64(securitySteps)
	}
	count := 0
	for _, step := range steps {
		if step.Security && step.ExecutionOrder < firstDeploy {
			count++
		}
	}
	return float64(count)
}

func hasPermission(step normalizer.Step, perm string) bool {
	for _, p := range step.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
