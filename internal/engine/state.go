package engine

// State is the mutable per-session evaluation state. It is owned by
// exactly one monitor and never shared across concurrent sessions; the
// evaluator receives it explicitly on every call.
type State struct {
	// WorkflowTrace is the ordered list of canonical step names derived
	// from observed tool calls. Append-only, never reordered.
	WorkflowTrace []string

	// FileSnapshot maps file path to the latest written content.
	// Last write wins; entries are never removed during a session.
	FileSnapshot map[string]string
}

// NewState returns an empty session state.
func NewState() *State {
	return &State{
		FileSnapshot: make(map[string]string),
	}
}

// Reset clears the state in place for a fresh monitoring run.
func (s *State) Reset() {
	s.WorkflowTrace = nil
	s.FileSnapshot = make(map[string]string)
}
