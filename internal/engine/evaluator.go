// Package engine implements the per-call constraint evaluator. It applies
// pattern and expression rules to each observed tool call in arrival order
// and maintains the session's workflow trace and file snapshot as it goes.
package engine

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/agentproctor/agentproctor/internal/constraint"
)

// Evaluator applies per-call constraint checks. The compiled constraint
// slice is read-only after construction, so one Evaluator can serve many
// concurrent sessions as long as each session owns its own State.
type Evaluator struct {
	constraints []constraint.Constraint
	cel         *constraint.CELEvaluator
	logger      *slog.Logger
}

// NewEvaluator creates an Evaluator over a compiled constraint set. celEval
// may be nil when no expression constraints are present.
func NewEvaluator(constraints []constraint.Constraint, celEval *constraint.CELEvaluator, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		constraints: constraints,
		cel:         celEval,
		logger:      logger.With("component", "engine.Evaluator"),
	}
}

// Constraints returns the compiled constraint set in declaration order.
func (e *Evaluator) Constraints() []constraint.Constraint {
	return e.constraints
}

// EvaluateCall checks one tool call against every per-call constraint, in
// declaration order, and returns the violations it triggered. It appends at
// most one step to the workflow trace and records write-class calls in the
// file snapshot. A pattern rule fires independently for every call where it
// matches; matches are not deduplicated across calls.
func (e *Evaluator) EvaluateCall(state *State, toolName string, toolArgs map[string]interface{}) []constraint.Violation {
	if toolName == "" {
		e.logger.Warn("skipping malformed event with empty tool name")
		return nil
	}

	if step, ok := DeriveStep(toolName, toolArgs); ok {
		state.WorkflowTrace = append(state.WorkflowTrace, step)
	}

	var violations []constraint.Violation
	for _, c := range e.constraints {
		switch c.Kind {
		case constraint.KindNegativePattern:
			violations = append(violations, e.checkNegativePattern(c, toolName, toolArgs)...)
		case constraint.KindPositivePattern:
			violations = append(violations, e.checkPositivePattern(c, toolName, toolArgs)...)
		case constraint.KindExpression:
			violations = append(violations, e.checkExpression(c, state, toolName, toolArgs)...)
		case constraint.KindRequiredSequence:
			// Declared but deliberately not enforced: exact-order sequence
			// checking is unspecified, so the kind is accepted and ignored.
		default:
			// required_step, semantic_scan and exploit_probe only apply at
			// session end.
		}
	}

	e.recordFileWrite(state, toolName, toolArgs)

	return violations
}

// checkNegativePattern fires when a forbidden pattern appears in the
// targeted field, or in any string-valued field when the location names no
// field. Each matching field produces its own violation carrying only that
// field. Absence of a match is silent.
func (e *Evaluator) checkNegativePattern(c constraint.Constraint, toolName string, toolArgs map[string]interface{}) []constraint.Violation {
	if c.Tool == "" || !strings.Contains(toolName, c.Tool) {
		return nil
	}

	fields := []string{c.Field}
	if c.Field == "" {
		fields = sortedKeys(toolArgs)
	}

	var violations []constraint.Violation
	for _, field := range fields {
		value, ok := toolArgs[field].(string)
		if !ok {
			continue
		}
		if c.Pattern.MatchString(value) {
			violations = append(violations, constraint.Violation{
				ConstraintID: c.ID,
				Message:      c.Message,
				Penalty:      c.Penalty,
				ToolName:     toolName,
				ToolArgs:     map[string]string{field: value},
			})
		}
	}
	return violations
}

// checkPositivePattern is the inverse polarity: a file-writing call whose
// content is present but does NOT contain the required pattern is itself
// the failure condition.
func (e *Evaluator) checkPositivePattern(c constraint.Constraint, toolName string, toolArgs map[string]interface{}) []constraint.Violation {
	if !isWriteTool(toolName) {
		return nil
	}
	if c.Tool != "" && !strings.Contains(toolName, c.Tool) {
		return nil
	}

	field := c.Field
	if field == "" {
		field = "content"
	}
	value, ok := toolArgs[field].(string)
	if !ok {
		return nil
	}
	if c.Pattern.MatchString(value) {
		return nil
	}

	return []constraint.Violation{{
		ConstraintID: c.ID,
		Message:      c.Message,
		Penalty:      c.Penalty,
		ToolName:     toolName,
		ToolArgs:     map[string]string{field: value},
	}}
}

func (e *Evaluator) checkExpression(c constraint.Constraint, state *State, toolName string, toolArgs map[string]interface{}) []constraint.Violation {
	if c.Tool != "" && !strings.Contains(toolName, c.Tool) {
		return nil
	}

	matched, err := e.cel.Evaluate(*c.Condition, toolName, toolArgs, state.WorkflowTrace)
	if err != nil {
		// A condition that cannot be evaluated for this event skips this
		// event only; the session continues.
		e.logger.Warn("expression constraint skipped for event",
			"constraint_id", c.ID, "tool", toolName, "error", err)
		return nil
	}
	if !matched {
		return nil
	}

	return []constraint.Violation{{
		ConstraintID: c.ID,
		Message:      c.Message,
		Penalty:      c.Penalty,
		ToolName:     toolName,
	}}
}

// recordFileWrite updates the file snapshot for write-class calls. This is
// the only place the snapshot changes: last write to a path wins.
func (e *Evaluator) recordFileWrite(state *State, toolName string, toolArgs map[string]interface{}) {
	if !isWriteTool(toolName) {
		return
	}
	path, ok := toolArgs["file_path"].(string)
	if !ok {
		path, ok = toolArgs["path"].(string)
	}
	content, cok := toolArgs["content"].(string)
	if !ok || !cok || path == "" {
		return
	}
	state.FileSnapshot[path] = content
}

func isWriteTool(toolName string) bool {
	lower := strings.ToLower(toolName)
	return strings.Contains(lower, "update_file") || strings.Contains(lower, "write")
}

// sortedKeys keeps multi-field matching deterministic; argument maps have
// no inherent order.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
