package engine

import "strings"

// Canonical workflow step names.
const (
	StepCreateBranch      = "create_branch"
	StepUpdateFile        = "update_file"
	StepCreatePullRequest = "create_pull_request"
	StepCreateIssue       = "create_issue"
	StepVerifyFixRuntime  = "verify_fix_runtime"
)

// stepSynonyms maps tool-name tokens to canonical steps. Order matters for
// the substring fallback, so this is a slice rather than a map.
var stepSynonyms = []struct {
	token string
	step  string
}{
	{"create_branch", StepCreateBranch},
	{"git_checkout", StepCreateBranch},
	{"update_file", StepUpdateFile},
	{"search_replace", StepUpdateFile},
	{"write", StepUpdateFile},
	{"create_pull_request", StepCreatePullRequest},
	{"create_issue", StepCreateIssue},
	{"run_terminal_cmd", StepVerifyFixRuntime},
	{"execute_command", StepVerifyFixRuntime},
}

// DeriveStep maps a tool call to a canonical workflow step. Exact tool-name
// match wins; otherwise the first synonym token contained in the lower-cased
// tool name applies. A terminal-command call only counts as a runtime
// verification when its command argument looks like a test run; calls that
// map to nothing are still evaluated against constraints but do not extend
// the trace.
func DeriveStep(toolName string, toolArgs map[string]interface{}) (string, bool) {
	lower := strings.ToLower(toolName)

	for _, syn := range stepSynonyms {
		if syn.token == toolName {
			return qualifyStep(syn.step, toolArgs)
		}
	}
	for _, syn := range stepSynonyms {
		if strings.Contains(lower, syn.token) {
			return qualifyStep(syn.step, toolArgs)
		}
	}
	return "", false
}

func qualifyStep(step string, toolArgs map[string]interface{}) (string, bool) {
	if step != StepVerifyFixRuntime {
		return step, true
	}
	cmd, _ := toolArgs["command"].(string)
	if strings.Contains(cmd, "test") || strings.Contains(cmd, "npm") {
		return StepVerifyFixRuntime, true
	}
	return "", false
}
