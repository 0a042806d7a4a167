package constraint

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
)

// CompiledCondition wraps a pre-compiled CEL program for fast repeated
// evaluation.
type CompiledCondition struct {
	Expression string
	program    cel.Program
}

// CELEvaluator compiles and evaluates CEL conditions against tool calls.
// Conditions are compiled once at manifest load; evaluation is lock-free
// and safe for concurrent use.
type CELEvaluator struct {
	env    *cel.Env
	logger *slog.Logger
}

// NewCELEvaluator creates a CELEvaluator with the variable declarations
// available in expression constraints:
//
//	call.tool  — the raw tool name of the current call
//	call.args  — the tool argument map
//	trace      — the workflow trace accumulated so far, oldest first
func NewCELEvaluator(logger *slog.Logger) (*CELEvaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("call.tool", cel.StringType),
		cel.Variable("call.args", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("trace", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CELEvaluator{
		env:    env,
		logger: logger.With("component", "constraint.CELEvaluator"),
	}, nil
}

// CompileCondition parses and type-checks a CEL expression, returning a
// CompiledCondition ready for evaluation. Called at load time, not in the
// hot path.
func (c *CELEvaluator) CompileCondition(expr string) (CompiledCondition, error) {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return CompiledCondition{}, fmt.Errorf("CEL compile error in %q: %w", expr, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return CompiledCondition{}, fmt.Errorf("CEL condition %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := c.env.Program(ast)
	if err != nil {
		return CompiledCondition{}, fmt.Errorf("CEL program creation failed for %q: %w", expr, err)
	}

	c.logger.Debug("compiled CEL condition", "expression", expr)

	return CompiledCondition{
		Expression: expr,
		program:    prg,
	}, nil
}

// Evaluate runs a pre-compiled condition against one tool call. Returns
// true when the condition matches, i.e. the constraint should fire.
func (c *CELEvaluator) Evaluate(cond CompiledCondition, toolName string, toolArgs map[string]interface{}, trace []string) (bool, error) {
	// CEL map access on nil panics.
	if toolArgs == nil {
		toolArgs = map[string]interface{}{}
	}
	if trace == nil {
		trace = []string{}
	}

	out, _, err := cond.program.Eval(map[string]interface{}{
		"call.tool": toolName,
		"call.args": toolArgs,
		"trace":     trace,
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error for %q: %w", cond.Expression, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL condition %q returned non-bool: %T", cond.Expression, out.Value())
	}

	return result, nil
}
