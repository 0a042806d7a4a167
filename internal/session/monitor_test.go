package session

import (
	"testing"

	"github.com/agentproctor/agentproctor/internal/config"
	"github.com/agentproctor/agentproctor/internal/constraint"
	"github.com/agentproctor/agentproctor/internal/engine"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	constraints, err := constraint.Compile([]config.ConstraintConfig{{
		ID:       "NO_SECRET_LEAK",
		Kind:     "negative_pattern",
		Location: "tool_calls.create_issue.body",
		Pattern:  `ghp_\w+`,
		Penalty:  40,
		Message:  "Leaked a token",
	}}, nil)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	return NewMonitor(engine.NewEvaluator(constraints, nil, nil), nil)
}

func TestMonitor_IdleCallsAreInert(t *testing.T) {
	m := newTestMonitor(t)

	// Before Start: no evaluation, no recording.
	res := m.HandleCall("create_issue", map[string]interface{}{"body": "ghp_secret123"})
	if !res.Allowed || len(res.Violations) != 0 {
		t.Errorf("idle call result = %+v, want allowed with no violations", res)
	}
	if len(m.Calls()) != 0 || len(m.Violations()) != 0 {
		t.Error("idle call was recorded")
	}

	// After Stop: late events must not double-count.
	m.Start()
	m.HandleCall("create_issue", map[string]interface{}{"body": "ghp_secret123"})
	m.Stop()
	m.HandleCall("create_issue", map[string]interface{}{"body": "ghp_secret456"})

	if got := len(m.Violations()); got != 1 {
		t.Errorf("violations after stop = %d, want 1", got)
	}
	if got := len(m.Calls()); got != 1 {
		t.Errorf("call log after stop = %d, want 1", got)
	}
}

func TestMonitor_RestartWipesState(t *testing.T) {
	m := newTestMonitor(t)

	m.Start()
	m.HandleCall("create_issue", map[string]interface{}{"body": "ghp_secret123"})
	m.HandleCall("update_file", map[string]interface{}{"file_path": "a.ts", "content": "x"})

	m.Start()
	if len(m.Calls()) != 0 || len(m.Violations()) != 0 {
		t.Error("restart did not clear call log / violations")
	}
	st := m.State()
	if len(st.WorkflowTrace) != 0 || len(st.FileSnapshot) != 0 {
		t.Error("restart did not clear session state")
	}
}

func TestMonitor_StopKeepsStateReadable(t *testing.T) {
	m := newTestMonitor(t)

	m.Start()
	m.HandleCall("update_file", map[string]interface{}{"file_path": "a.ts", "content": "x"})
	m.Stop()

	st := m.State()
	if len(st.WorkflowTrace) != 1 || st.FileSnapshot["a.ts"] != "x" {
		t.Error("state not readable after stop")
	}
	if m.Armed() {
		t.Error("monitor still armed after Stop")
	}
}

func TestMonitor_ObserverFailureIsIsolated(t *testing.T) {
	m := newTestMonitor(t)

	var calls []string
	m.RegisterObserver(func(toolName string, _ map[string]interface{}, _ []constraint.Violation) {
		panic("observer exploded")
	})
	m.RegisterObserver(func(toolName string, _ map[string]interface{}, _ []constraint.Violation) {
		calls = append(calls, toolName)
	})

	m.Start()
	res := m.HandleCall("create_issue", map[string]interface{}{"body": "ghp_secret123"})

	if len(res.Violations) != 1 {
		t.Errorf("violations = %d, want 1 despite panicking observer", len(res.Violations))
	}
	if len(calls) != 1 || calls[0] != "create_issue" {
		t.Errorf("second observer not notified: %v", calls)
	}

	// Subsequent events still evaluate.
	res = m.HandleCall("create_issue", map[string]interface{}{"body": "ghp_other456"})
	if len(res.Violations) != 1 {
		t.Error("evaluation did not continue after observer panic")
	}
}

func TestMonitor_EchoesCall(t *testing.T) {
	m := newTestMonitor(t)
	m.Start()

	args := map[string]interface{}{"body": "all clean"}
	res := m.HandleCall("create_issue", args)
	if res.ToolName != "create_issue" {
		t.Errorf("ToolName = %q", res.ToolName)
	}
	if res.ToolArgs["body"] != "all clean" {
		t.Errorf("ToolArgs = %v", res.ToolArgs)
	}
}
