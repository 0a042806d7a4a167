package semscan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentproctor/agentproctor/internal/constraint"
)

// Adapter materializes the session's edited-file snapshot into a temporary
// directory and runs every semantic_scan constraint's rule bundle against
// it, converting findings into violations. A scanner that errors, times
// out, or is missing degrades to zero findings: scanner availability must
// never change the deterministic score contract, only the logs.
type Adapter struct {
	scanner Scanner
	logger  *slog.Logger
}

// NewAdapter creates an Adapter around the given scanner port.
func NewAdapter(scanner Scanner, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		scanner: scanner,
		logger:  logger.With("component", "semscan.Adapter"),
	}
}

// Run executes all semantic_scan constraints against the file snapshot and
// returns the violations in constraint-declaration order. An empty
// snapshot means nothing was edited and nothing is scanned.
func (a *Adapter) Run(ctx context.Context, constraints []constraint.Constraint, snapshot map[string]string) []constraint.Violation {
	var violations []constraint.Violation

	for _, c := range constraints {
		if c.Kind != constraint.KindSemanticScan {
			continue
		}
		if len(snapshot) == 0 {
			continue
		}

		root, err := materialize(snapshot)
		if err != nil {
			a.logger.Warn("failed to materialize snapshot for semantic scan, treating as clean",
				"constraint_id", c.ID, "error", err)
			continue
		}

		findings, err := a.scanner.Scan(ctx, c.RulesFile, root)
		_ = os.RemoveAll(root)
		if err != nil {
			a.logger.Warn("semantic scanner unavailable, treating as zero findings",
				"constraint_id", c.ID, "rules_file", c.RulesFile, "error", err)
			continue
		}

		for _, f := range findings {
			violations = append(violations, constraint.Violation{
				ConstraintID: c.ID,
				Message:      fmt.Sprintf("%s (semantic match: %s)", c.Message, f.RuleID),
				Penalty:      c.Penalty,
				ToolName:     constraint.ToolSemanticScanner,
				ToolArgs: map[string]string{
					"file_path": strings.TrimPrefix(f.Path, root+string(filepath.Separator)),
				},
			})
		}
	}

	return violations
}

// materialize writes each snapshot entry into a fresh temp directory,
// preserving relative paths and extensions so language-aware rules match.
// The caller removes the directory.
func materialize(snapshot map[string]string) (string, error) {
	root, err := os.MkdirTemp("", "semscan-*")
	if err != nil {
		return "", fmt.Errorf("failed to create scan dir: %w", err)
	}

	for path, content := range snapshot {
		rel, err := sandboxPath(path)
		if err != nil {
			_ = os.RemoveAll(root)
			return "", err
		}
		dst := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			_ = os.RemoveAll(root)
			return "", fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
		}
		if err := os.WriteFile(dst, []byte(content), 0o644); err != nil {
			_ = os.RemoveAll(root)
			return "", fmt.Errorf("failed to write %s: %w", dst, err)
		}
	}

	return root, nil
}

// sandboxPath normalizes a snapshot path so it cannot escape the temp
// root: absolute paths become relative, parent traversal is rejected.
func sandboxPath(path string) (string, error) {
	rel := filepath.Clean(filepath.ToSlash(path))
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("snapshot path %q escapes scan root", path)
	}
	return filepath.FromSlash(rel), nil
}
