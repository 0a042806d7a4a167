// Package constraint holds the typed rule and violation model for the
// compliance engine. Raw manifest entries are compiled once at engine
// construction into Constraint values with pre-compiled regex and CEL
// artefacts; the compiled slice is immutable afterwards and safe to share
// across concurrent sessions.
package constraint

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agentproctor/agentproctor/internal/config"
)

// Kind classifies how a constraint is evaluated.
type Kind string

const (
	KindNegativePattern  Kind = "negative_pattern"
	KindPositivePattern  Kind = "positive_pattern"
	KindRequiredStep     Kind = "required_step"
	KindRequiredSequence Kind = "required_sequence"
	KindSemanticScan     Kind = "semantic_scan"
	KindExploitProbe     Kind = "exploit_probe"
	KindExpression       Kind = "expression"
)

// Category is the penalty bucket a violation counts against.
type Category string

const (
	CategorySecurity Category = "security"
	CategoryWorkflow Category = "workflow"
)

// securityKeywords drive category inference from constraint IDs. This is a
// loose convention rule authors rely on, so it stays a substring check
// rather than a stricter taxonomy.
var securityKeywords = []string{
	"SECURITY", "SQLI", "CRYPTO", "SECRET", "SEMGREP", "REDTEAM", "ATTACK",
}

// CategoryOf infers the penalty bucket from a constraint ID.
func CategoryOf(id string) Category {
	upper := strings.ToUpper(id)
	for _, kw := range securityKeywords {
		if strings.Contains(upper, kw) {
			return CategorySecurity
		}
	}
	return CategoryWorkflow
}

// Constraint is a single compiled rule, immutable for the session.
type Constraint struct {
	ID       string
	Kind     Kind
	Category Category

	// Location targets pattern and expression rules at a tool and
	// optionally one argument field. Empty Tool means the rule carries no
	// location restriction.
	Tool  string
	Field string

	Pattern   *regexp.Regexp // negative_pattern / positive_pattern
	Step      string         // required_step
	Steps     []string       // required_sequence (declared, never enforced)
	RulesFile string         // semantic_scan
	Condition *CompiledCondition

	Penalty int
	Message string
}

// Compile turns raw manifest entries into evaluation-ready constraints.
// Declaration order is preserved; any malformed entry fails the whole
// compile so the engine never runs with a silently reduced rule set.
// celEval may be nil when the manifest contains no expression constraints.
func Compile(configs []config.ConstraintConfig, celEval *CELEvaluator) ([]Constraint, error) {
	constraints := make([]Constraint, 0, len(configs))

	for _, cfg := range configs {
		c := Constraint{
			ID:        cfg.ID,
			Kind:      Kind(cfg.Kind),
			Category:  CategoryOf(cfg.ID),
			Step:      cfg.Step,
			Steps:     cfg.Steps,
			RulesFile: cfg.RulesFile,
			Penalty:   cfg.Penalty,
			Message:   cfg.Message,
		}

		if cfg.Location != "" {
			tool, field, err := parseLocation(cfg.Location)
			if err != nil {
				return nil, fmt.Errorf("constraint %q: %w", cfg.ID, err)
			}
			c.Tool, c.Field = tool, field
		}

		if cfg.Pattern != "" {
			re, err := regexp.Compile(cfg.Pattern)
			if err != nil {
				return nil, fmt.Errorf("constraint %q: invalid pattern: %w", cfg.ID, err)
			}
			c.Pattern = re
		}

		if c.Kind == KindExpression {
			if celEval == nil {
				return nil, fmt.Errorf("constraint %q: expression constraint but no CEL evaluator", cfg.ID)
			}
			cond, err := celEval.CompileCondition(cfg.Condition)
			if err != nil {
				return nil, fmt.Errorf("constraint %q: %w", cfg.ID, err)
			}
			c.Condition = &cond
		}

		constraints = append(constraints, c)
	}

	return constraints, nil
}

// parseLocation splits "tool_calls.<tool>.<field>" into its parts. The
// field segment is optional; when absent the rule applies to every
// string-valued argument of the targeted tool.
func parseLocation(location string) (tool, field string, err error) {
	parts := strings.Split(location, ".")
	if len(parts) < 2 || parts[0] != "tool_calls" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid location %q", location)
	}
	tool = parts[1]
	if len(parts) > 2 {
		field = parts[2]
	}
	return tool, field, nil
}
