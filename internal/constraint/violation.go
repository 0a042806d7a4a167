package constraint

// Sentinel tool names recorded on violations that are not attributable to
// a single agent tool call.
const (
	ToolSystem          = "system"           // end-of-session required-step checks
	ToolSemanticScanner = "semantic_scanner" // findings from the external scanner
	ToolRedTeam         = "red_team"         // exploit simulator probes
)

// Violation is one recorded instance of a constraint being triggered.
// ToolArgs carries only the offending field, never the full argument set,
// so reports do not re-leak content the rule flagged.
type Violation struct {
	ConstraintID string            `json:"constraint_id"`
	Message      string            `json:"message"`
	Penalty      int               `json:"penalty"`
	ToolName     string            `json:"tool_name"`
	ToolArgs     map[string]string `json:"tool_args,omitempty"`
}

// Category returns the penalty bucket this violation counts against.
func (v Violation) Category() Category {
	return CategoryOf(v.ConstraintID)
}
