// Package session owns the lifecycle of one grading session. A Monitor
// wraps the evaluator with an armed/idle state machine, accumulates the
// call log and live violations, and notifies registered observers per
// event. Each Monitor owns its state exclusively; independent sessions run
// concurrently by giving each its own Monitor.
package session

import (
	"log/slog"
	"sync"

	"github.com/agentproctor/agentproctor/internal/constraint"
	"github.com/agentproctor/agentproctor/internal/engine"
)

// Call is one observed tool invocation, recorded verbatim.
type Call struct {
	ToolName string                 `json:"tool_name"`
	ToolArgs map[string]interface{} `json:"tool_args"`
}

// CallResult echoes the call back to the transport together with the
// violations it triggered. Calls are always allowed: the engine judges,
// it does not block.
type CallResult struct {
	Allowed    bool                   `json:"allowed"`
	Violations []constraint.Violation `json:"violations"`
	ToolName   string                 `json:"tool_name"`
	ToolArgs   map[string]interface{} `json:"tool_args"`
}

// Observer is notified after each evaluated call. Observer failures are
// isolated: a panicking observer never interrupts evaluation.
type Observer func(toolName string, toolArgs map[string]interface{}, violations []constraint.Violation)

// Monitor is the session state tracker. It starts idle; calls received
// while idle are inert, which guards integrations that deliver late events
// after Stop against double-counting.
type Monitor struct {
	mu         sync.Mutex
	eval       *engine.Evaluator
	state      *engine.State
	armed      bool
	calls      []Call
	violations []constraint.Violation
	observers  []Observer
	logger     *slog.Logger
}

// NewMonitor creates an idle Monitor around the given evaluator.
func NewMonitor(eval *engine.Evaluator, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		eval:   eval,
		state:  engine.NewState(),
		logger: logger.With("component", "session.Monitor"),
	}
}

// RegisterObserver adds a per-event observer. Observers are invoked in
// registration order after each evaluated call.
func (m *Monitor) RegisterObserver(obs Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, obs)
	m.mu.Unlock()
}

// Start arms the monitor. A restart always wipes prior state: the trace,
// snapshot, call log and accumulated violations never survive across runs.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed = true
	m.state.Reset()
	m.calls = nil
	m.violations = nil
	m.logger.Info("monitoring started")
}

// Stop disarms the monitor without clearing state, so the session remains
// readable for report generation.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed = false
	m.logger.Info("monitoring stopped", "calls", len(m.calls), "violations", len(m.violations))
}

// Armed reports whether the monitor is currently recording.
func (m *Monitor) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

// HandleCall feeds one tool-call event through the evaluator. While idle it
// returns immediately without evaluating. Events are processed to
// completion in arrival order; there is no cancellation mid-event.
func (m *Monitor) HandleCall(toolName string, toolArgs map[string]interface{}) CallResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.armed {
		return CallResult{Allowed: true}
	}

	violations := m.eval.EvaluateCall(m.state, toolName, toolArgs)

	m.calls = append(m.calls, Call{ToolName: toolName, ToolArgs: toolArgs})
	m.violations = append(m.violations, violations...)

	for _, obs := range m.observers {
		m.notify(obs, toolName, toolArgs, violations)
	}

	return CallResult{
		Allowed:    true,
		Violations: violations,
		ToolName:   toolName,
		ToolArgs:   toolArgs,
	}
}

// notify runs one observer with panic isolation.
func (m *Monitor) notify(obs Observer, toolName string, toolArgs map[string]interface{}, violations []constraint.Violation) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("observer panicked, continuing", "tool", toolName, "panic", r)
		}
	}()
	obs(toolName, toolArgs, violations)
}

// State exposes the session state for finalization. The caller must not
// mutate it.
func (m *Monitor) State() *engine.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Violations returns the live violations recorded so far, in trigger order.
func (m *Monitor) Violations() []constraint.Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]constraint.Violation, len(m.violations))
	copy(out, m.violations)
	return out
}

// Calls returns the recorded call log in arrival order.
func (m *Monitor) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}
