package mcp

func (s *Server) listTools() any {
	return map[string]any{
		"tools": []any{
			map[string]any{
				"name": "analyze_pipeline",
				"description": "Analyze one CI/CD pipeline run for security drift against the trained baseline. " +
					"Accepts any pipeline-log JSON (GitHub Actions, GitLab CI, Jenkins, Azure DevOps, CircleCI or arbitrary). " +
					"Guidance: a baseline must exist first; run 'train_baseline' if this fails with a missing-model error.",
				"inputSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"log":      map[string]any{"type": "string", "description": "The raw pipeline-log JSON document"},
						"pipeline": map[string]any{"type": "string", "description": "Optional pipeline name override"},
					},
					"required": []string{"log"},
				},
			},
			map[string]any{
				"name": "train_baseline",
				"description": "Fit the baseline model from stored pipeline-log-*.json files. " +
					"At least 2 usable logs are required; the previous model is replaced atomically.",
				"inputSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"filenames": map[string]any{
							"type":        "array",
							"items":       map[string]any{"type": "string"},
							"description": "Optional subset of log files; defaults to every stored file",
						},
						"model_name": map[string]any{"type": "string", "description": "Name recorded in the trained model"},
					},
				},
			},
			map[string]any{
				"name":        "get_drift_history",
				"description": "List stored drift analyses newest-first, optionally filtered by pipeline name.",
				"inputSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"pipeline": map[string]any{"type": "string", "description": "Optional pipeline name filter"},
						"limit":    map[string]any{"type": "integer", "description": "Maximum results (1-1000, default 50)"},
					},
				},
			},
			map[string]any{
				"name":        "diff_pipeline",
				"description": "Compare the oldest stored run of a pipeline against the newest: added, removed and modified steps.",
				"inputSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"pipeline": map[string]any{"type": "string", "description": "The pipeline name"},
					},
					"required": []string{"pipeline"},
				},
			},
		},
	}
}
