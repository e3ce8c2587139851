// Package normalizer turns heterogeneous CI/CD pipeline-log documents into a
// canonical run. All downstream analysis consumes the canonical form only;
// raw JSON never travels past this package.
package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrParse is returned for input that is not JSON, or JSON that is neither an
// object nor an array. Every other input yields a valid (possibly empty) run.
var ErrParse = errors.New("input is not a JSON object or array")

// Step is a canonical pipeline step.
type Step struct {
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	ExecutionOrder int      `json:"executionOrder"`
	Status         string   `json:"status,omitempty"`
	Permissions    []string `json:"permissions"`
	Security       bool     `json:"security"`
	Secrets        bool     `json:"secrets"`
	Approval       bool     `json:"approval"`
}

// Run is a canonical pipeline run.
type Run struct {
	Pipeline  string `json:"pipeline"`
	Timestamp string `json:"timestamp"` // RFC3339
	Format    string `json:"format"`
	Steps     []Step `json:"steps"`
}

// Normalize parses a raw pipeline-log document and produces a canonical run.
// It fails only for malformed JSON or JSON that is neither an object nor an
// array; missing fields are synthesized.
func Normalize(raw []byte) (*Run, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	switch v := doc.(type) {
	case string:
		// The document may arrive as a JSON string wrapping the real payload.
		return Normalize([]byte(v))
	case map[string]any:
		return normalizeObject(v), nil
	case []any:
		// A bare array is treated as the step list itself.
		run := &Run{
			Pipeline:  syntheticPipelineName(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Format:    FormatGeneric,
			Steps:     normalizeSteps(objectsOf(v)),
		}
		return run, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrParse, doc)
	}
}

// NormalizeString is a convenience wrapper for string payloads.
func NormalizeString(raw string) (*Run, error) {
	return Normalize([]byte(raw))
}

func normalizeObject(m map[string]any) *Run {
	format := DetectFormat(m)
	return &Run{
		Pipeline:  resolvePipelineName(m, format),
		Timestamp: resolveTimestamp(m),
		Format:    format,
		Steps:     extractSteps(m, format),
	}
}

// pipelineNameFields is the lookup chain for the pipeline name; dots denote
// nested object traversal.
var pipelineNameFields = []string{
	"pipeline", "pipelineName", "name", "workflow", "workflow_name",
	"job.name", "definition.name", "repository.name", "project.name",
	"pipeline_name",
}

func resolvePipelineName(m map[string]any, format string) string {
	for _, field := range pipelineNameFields {
		if s := lookupString(m, field); s != "" {
			return s
		}
	}
	switch format {
	case FormatGitHubActions:
		if s := lookupString(m, "repository.full_name"); s != "" {
			return s
		}
	case FormatGitLabCI:
		if s := lookupString(m, "project.name"); s != "" {
			return s
		}
	}
	return syntheticPipelineName()
}

func syntheticPipelineName() string {
	return "pipeline-" + strconv.FormatInt(time.Now().UnixMilli(), 10)
}

var timestampFields = []string{
	"timestamp", "created_at", "time", "started_at", "finished_at",
	"date", "run_date", "created", "start_time", "end_time",
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func resolveTimestamp(m map[string]any) string {
	for _, field := range timestampFields {
		s, ok := m[field].(string)
		if !ok || s == "" {
			continue
		}
		if t, ok := parseTime(s); ok {
			return t.Format(time.RFC3339)
		}
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// lookupString resolves a possibly dotted field path to a non-empty string.
func lookupString(m map[string]any, path string) string {
	cur := any(m)
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur, ok = obj[key]
		if !ok {
			return ""
		}
	}
	s, _ := cur.(string)
	return s
}
