package normalizer

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Keyword sets driving step classification. The secrets tokens are
// intentionally aggressive: a step merely named "key" will be flagged.
// Tune these lists rather than changing the detection shape.
var (
	securityKeywords = []string{
		"security", "scan", "audit", "test", "check", "verify", "validate",
		"dependency-check", "sast", "dast", "secrets", "token", "key",
		"vulnerability", "compliance", "policy",
	}
	approvalKeywords = []string{"approval", "manual", "gate", "review"}
	deployKeywords   = []string{"deploy", "release", "publish", "rollout", "promote"}
	buildKeywords    = []string{"build", "compile", "package", "install", "docker", "bundle"}
	testKeywords     = []string{"test", "verify", "validate", "check", "lint", "qa"}
	secretTokens     = []string{"secret", "token", "key"}
	envSecretTokens  = []string{"secret", "token", "key", "password"}
)

// gitlabReservedKeys are top-level GitLab CI keys that are configuration, not jobs.
var gitlabReservedKeys = map[string]bool{
	"stages": true, "before_script": true, "after_script": true,
	"image": true, "services": true, "variables": true, "workflow": true,
	"include": true, "default": true, "cache": true, "project": true,
	"name": true, "timestamp": true, "pipeline": true,
}

const maxSearchDepth = 5

// stepLikeFields mark an object as a plausible pipeline step during the
// generic recursive search.
var stepLikeFields = []string{"name", "id", "step", "action", "script", "task", "label"}

// extractSteps pulls raw step objects out of a document using format-specific
// shapes first, then the recursive generic fallback.
func extractSteps(m map[string]any, format string) []Step {
	var rawSteps []map[string]any

	switch format {
	case FormatGitHubActions:
		rawSteps = extractGitHubSteps(m)
	case FormatGitLabCI:
		rawSteps = extractGitLabSteps(m)
	case FormatJenkins:
		// Jenkins stages are the unit of analysis; their nested shell steps
		// rarely carry their own metadata.
		rawSteps = objectsOf(anySlice(m["stages"]))
	case FormatAzureDevOps:
		rawSteps = extractAzureSteps(m)
	case FormatCircleCI:
		rawSteps = extractCircleSteps(m)
	case FormatStandard:
		rawSteps = objectsOf(anySlice(m["steps"]))
	}

	if len(rawSteps) == 0 {
		rawSteps = findLargestStepArray(m, 0)
	}
	if len(rawSteps) == 0 {
		// Last resort: the entire document is one step.
		rawSteps = []map[string]any{m}
	}

	return normalizeSteps(rawSteps)
}

func extractGitHubSteps(m map[string]any) []map[string]any {
	jobs := anySlice(m["jobs"])
	if jobs == nil {
		return nil
	}
	var out []map[string]any
	for _, j := range jobs {
		job, ok := j.(map[string]any)
		if !ok {
			continue
		}
		steps := objectsOf(anySlice(job["steps"]))
		if len(steps) > 0 {
			out = append(out, steps...)
		} else {
			out = append(out, job)
		}
	}
	return out
}

func extractGitLabSteps(m map[string]any) []map[string]any {
	// GitLab jobs are top-level objects carrying a script or stage; iterate
	// keys in sorted order for determinism and inject the key as the name.
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var out []map[string]any
	for _, k := range keys {
		if gitlabReservedKeys[k] {
			continue
		}
		job, ok := m[k].(map[string]any)
		if !ok {
			continue
		}
		_, hasScript := job["script"]
		_, hasStage := job["stage"]
		if !hasScript && !hasStage {
			continue
		}
		if _, named := job["name"]; !named {
			job = withName(job, k)
		}
		out = append(out, job)
	}
	return out
}

func extractAzureSteps(m map[string]any) []map[string]any {
	stages := objectsOf(anySlice(m["stages"]))
	var out []map[string]any
	for _, stage := range stages {
		jobs := objectsOf(anySlice(stage["jobs"]))
		if jobs == nil {
			jobs = objectsOf(anySlice(stage["phases"]))
		}
		if len(jobs) == 0 {
			out = append(out, stage)
			continue
		}
		for _, job := range jobs {
			steps := objectsOf(anySlice(job["steps"]))
			if len(steps) > 0 {
				out = append(out, steps...)
			} else {
				out = append(out, job)
			}
		}
	}
	return out
}

func extractCircleSteps(m map[string]any) []map[string]any {
	jobs, ok := m["jobs"].(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(jobs))
	for k := range jobs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var out []map[string]any
	for _, k := range keys {
		job, ok := jobs[k].(map[string]any)
		if !ok {
			continue
		}
		if _, named := job["name"]; !named {
			job = withName(job, k)
		}
		out = append(out, job)
	}
	return out
}

// findLargestStepArray recursively descends up to maxSearchDepth and returns
// the largest array whose object elements carry at least one step-like field.
func findLargestStepArray(node any, depth int) []map[string]any {
	if depth > maxSearchDepth {
		return nil
	}

	var best []map[string]any
	consider := func(candidate []map[string]any) {
		if len(candidate) > len(best) {
			best = candidate
		}
	}

	switch v := node.(type) {
	case []any:
		objs := objectsOf(v)
		if len(objs) > 0 && isStepLike(objs) {
			consider(objs)
		}
		for _, item := range v {
			consider(findLargestStepArray(item, depth+1))
		}
	case map[string]any:
		for _, val := range v {
			consider(findLargestStepArray(val, depth+1))
		}
	}
	return best
}

func isStepLike(objs []map[string]any) bool {
	for _, o := range objs {
		for _, f := range stepLikeFields {
			if _, ok := o[f]; ok {
				return true
			}
		}
	}
	return false
}

// normalizeSteps applies the canonical step rules to each raw object.
func normalizeSteps(raw []map[string]any) []Step {
	steps := make([]Step, 0, len(raw))
	for i, obj := range raw {
		steps = append(steps, normalizeStep(obj, i))
	}
	return steps
}

func normalizeStep(obj map[string]any, index int) Step {
	name := firstString(obj, "name", "id", "step", "action", "task", "label", "job")
	if name == "" {
		name = fmt.Sprintf("step-%d", index+1)
	}

	step := Step{
		Name:           name,
		ExecutionOrder: resolveOrder(obj, index),
		Status:         firstString(obj, "status", "state", "result", "conclusion"),
		Permissions:    extractPermissions(obj),
	}

	step.Security = resolveSecurity(obj, name)
	step.Secrets = resolveSecrets(obj, name)
	step.Approval = resolveApproval(obj, name)
	step.Type = resolveType(obj, name, step)

	return step
}

func resolveOrder(obj map[string]any, index int) int {
	for _, field := range []string{"executionOrder", "order", "index", "run_number"} {
		if n, ok := numberOf(obj[field]); ok && n >= 1 {
			return int(n)
		}
	}
	return index + 1
}

func resolveType(obj map[string]any, name string, step Step) string {
	if t := firstString(obj, "type", "category", "kind"); t != "" {
		return strings.ToLower(t)
	}

	lower := strings.ToLower(name)
	switch {
	case step.Approval || matchesAny(lower, approvalKeywords):
		return "approval"
	case matchesAny(lower, deployKeywords):
		return "deploy"
	case step.Security:
		return "security"
	case matchesAny(lower, testKeywords):
		return "test"
	case matchesAny(lower, buildKeywords):
		return "build"
	default:
		return "other"
	}
}

func resolveSecurity(obj map[string]any, name string) bool {
	if b, ok := obj["security"].(bool); ok {
		return b
	}
	return matchesAny(strings.ToLower(name), securityKeywords)
}

func resolveSecrets(obj map[string]any, name string) bool {
	// (a) env keys
	if env, ok := obj["env"].(map[string]any); ok {
		for k := range env {
			if matchesAny(strings.ToLower(k), envSecretTokens) {
				return true
			}
		}
	}
	// (b) inputs keys
	if inputs, ok := obj["inputs"].(map[string]any); ok {
		for k := range inputs {
			if matchesAny(strings.ToLower(k), secretTokens) {
				return true
			}
		}
	}
	// (c) name/description/id
	haystack := strings.ToLower(name + " " + firstString(obj, "description") + " " + firstString(obj, "id"))
	if matchesAny(haystack, secretTokens) {
		return true
	}
	// (d) script/run/command body
	body := strings.ToLower(scriptBody(obj))
	return matchesAny(body, secretTokens)
}

func resolveApproval(obj map[string]any, name string) bool {
	kind := strings.ToLower(firstString(obj, "type", "kind"))
	if kind == "approval" {
		return true
	}
	haystack := strings.ToLower(strings.Join([]string{
		name,
		firstString(obj, "description"),
		kind,
		firstString(obj, "id"),
	}, " "))
	return matchesAny(haystack, approvalKeywords)
}

// extractPermissions unions every permission source the dialects expose and
// returns a sorted, deduplicated set.
func extractPermissions(obj map[string]any) []string {
	set := map[string]bool{}

	add := func(v any) {
		switch p := v.(type) {
		case string:
			if p != "" {
				set[p] = true
			}
		case []any:
			for _, item := range p {
				if s, ok := item.(string); ok && s != "" {
					set[s] = true
				}
			}
		case map[string]any:
			// GitHub style: keys whose value is boolean true.
			for k, val := range p {
				if b, ok := val.(bool); ok && b {
					set[k] = true
				}
			}
		}
	}

	add(obj["permissions"])
	add(obj["scopes"])
	add(obj["access"])

	// Permission tokens hiding in environment values.
	if env, ok := obj["env"].(map[string]any); ok {
		for _, val := range env {
			s, ok := val.(string)
			if !ok {
				continue
			}
			lower := strings.ToLower(s)
			for _, tok := range []string{"read", "write", "admin"} {
				if strings.Contains(lower, tok) {
					set[tok] = true
				}
			}
		}
	}

	if len(set) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func scriptBody(obj map[string]any) string {
	var parts []string
	for _, field := range []string{"script", "run", "command"} {
		switch v := obj[field].(type) {
		case string:
			parts = append(parts, v)
		case []any:
			for _, line := range v {
				if s, ok := line.(string); ok {
					parts = append(parts, s)
				}
			}
		}
	}
	return strings.Join(parts, "\n")
}

func firstString(obj map[string]any, fields ...string) string {
	for _, f := range fields {
		if s, ok := obj[f].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func anySlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func objectsOf(items []any) []map[string]any {
	var out []map[string]any
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func withName(obj map[string]any, name string) map[string]any {
	clone := make(map[string]any, len(obj)+1)
	for k, v := range obj {
		clone[k] = v
	}
	clone["name"] = name
	return clone
}

func matchesAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
