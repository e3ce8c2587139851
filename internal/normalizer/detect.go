package normalizer

// Recognized pipeline-log formats.
const (
	FormatGitHubActions = "github-actions"
	FormatGitLabCI      = "gitlab-ci"
	FormatJenkins       = "jenkins"
	FormatAzureDevOps   = "azure-devops"
	FormatCircleCI      = "circleci"
	FormatStandard      = "standard"
	FormatGeneric       = "generic"
)

// DetectFormat applies the detection heuristics in priority order; the first
// match wins and anything unrecognized is generic.
func DetectFormat(m map[string]any) string {
	if _, ok := m["workflow"]; ok {
		return FormatGitHubActions
	}
	if _, ok := m["workflow_run"]; ok {
		return FormatGitHubActions
	}
	if _, ok := m["jobs"].([]any); ok {
		return FormatGitHubActions
	}

	for _, key := range []string{"stages", "before_script", "after_script", "image", "services"} {
		if _, ok := m[key]; ok {
			// A stages array may also indicate Jenkins or Azure DevOps;
			// disambiguate on the shape of the first stage.
			if stages, isArray := m["stages"].([]any); isArray && len(stages) > 0 {
				if first, isObj := stages[0].(map[string]any); isObj {
					if _, hasSteps := first["steps"]; hasSteps {
						return FormatJenkins
					}
					if _, hasJobs := first["jobs"]; hasJobs {
						return FormatAzureDevOps
					}
					if _, hasPhases := first["phases"]; hasPhases {
						return FormatAzureDevOps
					}
				}
			}
			return FormatGitLabCI
		}
	}

	if _, ok := m["jobs"].(map[string]any); ok {
		return FormatCircleCI
	}

	if _, ok := m["steps"].([]any); ok {
		return FormatStandard
	}

	return FormatGeneric
}
