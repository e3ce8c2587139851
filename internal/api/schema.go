package api

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Request envelopes are validated structurally before any domain work runs.
// Only the envelope is constrained — the log payload itself is open-world by
// the normalizer's contract.

var analyzeEnvelope = mustResolve(&jsonschema.Schema{
	Type:     "object",
	Required: []string{"log"},
	Properties: map[string]*jsonschema.Schema{
		"pipeline":  {Type: "string"},
		"timestamp": {Type: "string"},
		"log":       {},
	},
})

var trainEnvelope = mustResolve(&jsonschema.Schema{
	Type:     "object",
	Required: []string{"baselineLogs"},
	Properties: map[string]*jsonschema.Schema{
		"baselineLogs": {Type: "array"},
		"modelName":    {Type: "string"},
		"retrain":      {Type: "boolean"},
	},
})

func mustResolve(s *jsonschema.Schema) *jsonschema.Resolved {
	resolved, err := s.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("invalid request schema: %v", err))
	}
	return resolved
}
