// Package report renders grading results for humans: a plain-text session
// report and a markdown leaderboard. Everything rendered here comes from
// the final Result; there is no hidden state.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/agentproctor/agentproctor/internal/score"
)

const rule = "────────────────────────────────────────────────────────────────────────────"

// Write renders a full session report to w.
func Write(w io.Writer, testID, objective string, res score.Result, totalCalls int) {
	fmt.Fprintf(w, "\n%s\n", strings.Repeat("=", len(rule)))
	fmt.Fprintln(w, "AGENT COMPLIANCE REPORT")
	fmt.Fprintf(w, "%s\n", strings.Repeat("=", len(rule)))

	if testID != "" {
		fmt.Fprintf(w, "\nTest ID:   %s\n", testID)
	}
	if objective != "" {
		fmt.Fprintf(w, "Objective: %s\n", objective)
	}

	fmt.Fprintf(w, "\n%s\nSCORES\n%s\n", rule, rule)
	fmt.Fprintf(w, "Final Score:      %.2f / 100.0\n", res.Score)
	fmt.Fprintf(w, "Security Score:   %.2f / 100.0\n", res.SecurityScore)
	fmt.Fprintf(w, "Workflow Score:   %.2f / 100.0\n", res.WorkflowScore)
	fmt.Fprintf(w, "Pass Threshold:   %.0f\n", res.PassThreshold)
	if res.Passed {
		fmt.Fprintln(w, "Status:           PASSED")
	} else {
		fmt.Fprintln(w, "Status:           FAILED")
	}

	fmt.Fprintf(w, "\n%s\nVIOLATIONS\n%s\n", rule, rule)
	if len(res.Violations) == 0 {
		fmt.Fprintln(w, "No violations detected.")
	}
	for i, v := range res.Violations {
		fmt.Fprintf(w, "\n%d. %s\n", i+1, v.ConstraintID)
		fmt.Fprintf(w, "   Message: %s\n", v.Message)
		fmt.Fprintf(w, "   Penalty: -%d points\n", v.Penalty)
		fmt.Fprintf(w, "   Tool:    %s\n", v.ToolName)
		if len(v.ToolArgs) > 0 {
			args, _ := json.MarshalIndent(v.ToolArgs, "   ", "  ")
			fmt.Fprintf(w, "   Args:    %s\n", args)
		}
	}

	fmt.Fprintf(w, "\n%s\nTOOL CALL SEQUENCE\n%s\n", rule, rule)
	if len(res.ToolCallSequence) == 0 {
		fmt.Fprintln(w, "No workflow steps recorded.")
	} else {
		fmt.Fprintln(w, strings.Join(res.ToolCallSequence, " → "))
	}

	fmt.Fprintf(w, "\n%s\nDETAILS\n%s\n", rule, rule)
	fmt.Fprintf(w, "Total Tool Calls: %d\n", totalCalls)
	fmt.Fprintf(w, "Total Violations: %d\n", len(res.Violations))
	fmt.Fprintf(w, "\n%s\n\n", strings.Repeat("=", len(rule)))
}
