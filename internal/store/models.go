// Package store persists graded session results so that reports and
// leaderboards can be produced after the fact. The engine itself never
// depends on persistence; the store is fed the finished Result by the
// driver.
package store

import "time"

// SessionRecord is one graded session as stored.
type SessionRecord struct {
	ID               string    `json:"id"`
	TestID           string    `json:"test_id"`
	AgentID          string    `json:"agent_id"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Score            float64   `json:"score"`
	SecurityScore    float64   `json:"security_score"`
	WorkflowScore    float64   `json:"workflow_score"`
	PassThreshold    float64   `json:"pass_threshold"`
	Passed           bool      `json:"passed"`
	ToolCallSequence []string  `json:"tool_call_sequence"`

	// Hash chains this record to the previous one in the ledger.
	Hash     string `json:"hash"`
	PrevHash string `json:"prev_hash"`
}

// ViolationRecord is one stored violation, linked to its session.
type ViolationRecord struct {
	ID           string            `json:"id"`
	SessionID    string            `json:"session_id"`
	ConstraintID string            `json:"constraint_id"`
	Message      string            `json:"message"`
	Penalty      int               `json:"penalty"`
	ToolName     string            `json:"tool_name"`
	ToolArgs     map[string]string `json:"tool_args,omitempty"`
}
