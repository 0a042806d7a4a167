// Package config defines the manifest format for a grading run and the
// loader that reads it from YAML. A manifest bundles the declarative
// constraints an agent session is graded against together with the scoring
// weights and pass threshold.
package config

// Manifest is the top-level grading manifest.
type Manifest struct {
	TestID      string             `yaml:"test_id"`
	Objective   string             `yaml:"objective"`
	Constraints []ConstraintConfig `yaml:"constraints"`
	Scoring     ScoringConfig      `yaml:"scoring"`
}

// ConstraintConfig is the raw, uncompiled form of a single rule as it
// appears in the manifest. Compilation (regex, CEL) happens in the
// constraint package.
type ConstraintConfig struct {
	ID        string   `yaml:"id"`
	Kind      string   `yaml:"kind"`
	Location  string   `yaml:"location"`   // tool_calls.<tool>.<field>, field optional
	Pattern   string   `yaml:"pattern"`    // negative_pattern / positive_pattern
	Step      string   `yaml:"step"`       // required_step
	Steps     []string `yaml:"steps"`      // required_sequence
	RulesFile string   `yaml:"rules_file"` // semantic_scan
	Condition string   `yaml:"condition"`  // expression (CEL)
	Penalty   int      `yaml:"penalty"`
	Message   string   `yaml:"message"`
}

// ScoringConfig controls how category penalty totals combine into the
// final score. Weights are applied literally and never normalized, so a
// manifest author can see exactly how a score was produced.
type ScoringConfig struct {
	PassThreshold float64       `yaml:"pass_threshold"`
	Weights       WeightsConfig `yaml:"weights"`
}

// WeightsConfig holds the per-category score weights.
type WeightsConfig struct {
	Security float64 `yaml:"security"`
	Workflow float64 `yaml:"workflow"`
}

// Default scoring values applied when the manifest omits them.
const (
	DefaultPassThreshold  = 80.0
	DefaultSecurityWeight = 0.7
	DefaultWorkflowWeight = 0.3
)

// applyDefaults fills in scoring defaults for fields the manifest left
// unset. A manifest that sets only one weight keeps the other's default.
func (m *Manifest) applyDefaults() {
	if m.Scoring.PassThreshold == 0 {
		m.Scoring.PassThreshold = DefaultPassThreshold
	}
	if m.Scoring.Weights.Security == 0 && m.Scoring.Weights.Workflow == 0 {
		m.Scoring.Weights.Security = DefaultSecurityWeight
		m.Scoring.Weights.Workflow = DefaultWorkflowWeight
	}
}
