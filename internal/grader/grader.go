// Package grader wires the compliance engine together: it compiles a
// manifest into constraints, builds the shared evaluator and aggregator,
// and hands out per-session monitors. One Grader serves any number of
// concurrent sessions because everything it shares is read-only.
package grader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agentproctor/agentproctor/internal/config"
	"github.com/agentproctor/agentproctor/internal/constraint"
	"github.com/agentproctor/agentproctor/internal/engine"
	"github.com/agentproctor/agentproctor/internal/score"
	"github.com/agentproctor/agentproctor/internal/semscan"
	"github.com/agentproctor/agentproctor/internal/session"
)

// Grader grades agent sessions against one compiled manifest.
type Grader struct {
	manifest   *config.Manifest
	evaluator  *engine.Evaluator
	aggregator *score.Aggregator
	logger     *slog.Logger
}

// New compiles the manifest and builds a ready-to-use Grader. scanner is
// the semantic-scan port; pass nil to default to the semgrep CLI.
// Compilation errors are fatal: the grader never runs with a reduced rule
// set.
func New(manifest *config.Manifest, scanner semscan.Scanner, logger *slog.Logger) (*Grader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	celEval, err := constraint.NewCELEvaluator(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build CEL evaluator: %w", err)
	}

	constraints, err := constraint.Compile(manifest.Constraints, celEval)
	if err != nil {
		return nil, fmt.Errorf("failed to compile constraints: %w", err)
	}

	if scanner == nil {
		scanner = semscan.NewSemgrepScanner(logger)
	}
	adapter := semscan.NewAdapter(scanner, logger)

	return &Grader{
		manifest:   manifest,
		evaluator:  engine.NewEvaluator(constraints, celEval, logger),
		aggregator: score.NewAggregator(constraints, manifest.Scoring, adapter, logger),
		logger:     logger.With("component", "grader.Grader"),
	}, nil
}

// Manifest returns the manifest this grader was compiled from.
func (g *Grader) Manifest() *config.Manifest {
	return g.manifest
}

// NewSession creates an idle monitor bound to the shared evaluator. The
// caller owns its lifecycle.
func (g *Grader) NewSession() *session.Monitor {
	return session.NewMonitor(g.evaluator, g.logger)
}

// Finalize stops the monitor if still armed and computes the final result.
// Finalizing the same stopped session twice yields identical results.
func (g *Grader) Finalize(ctx context.Context, m *session.Monitor) score.Result {
	if m.Armed() {
		m.Stop()
	}
	return g.aggregator.Finalize(ctx, m.State(), m.Violations())
}
