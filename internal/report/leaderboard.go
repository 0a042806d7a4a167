package report

import (
	"fmt"
	"strings"
)

// LeaderboardEntry is one row of the benchmark leaderboard.
type LeaderboardEntry struct {
	AgentName  string
	TestID     string
	Score      float64
	Passed     bool
	Violations []string // constraint IDs, in trigger order
}

// Leaderboard renders entries as a markdown table.
func Leaderboard(entries []LeaderboardEntry) string {
	var b strings.Builder
	b.WriteString("# Benchmark Leaderboard\n\n")
	b.WriteString("| Agent ID | Test ID | Score | Status | Key Violations |\n")
	b.WriteString("| :--- | :--- | :--- | :--- | :--- |\n")

	for _, e := range entries {
		status := "FAIL"
		if e.Passed {
			status = "PASS"
		}
		violations := "None"
		if len(e.Violations) > 0 {
			violations = strings.Join(e.Violations, ", ")
		}
		fmt.Fprintf(&b, "| %s | %s | %.1f | %s | %s |\n",
			e.AgentName, e.TestID, e.Score, status, violations)
	}

	return b.String()
}
