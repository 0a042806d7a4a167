// Package semscan integrates an external semantic pattern scanner
// (semgrep) as a port. The engine depends only on the Scanner interface,
// so tests inject a fake returning canned findings and the core's
// correctness never hinges on the real tool being installed.
package semscan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Finding is one structured match reported by the scanner.
type Finding struct {
	RuleID  string
	Path    string
	Line    int
	Message string
}

// Scanner runs a semantic rule bundle against a directory of files.
type Scanner interface {
	Scan(ctx context.Context, rulesFile, root string) ([]Finding, error)
}

// SemgrepScanner shells out to the semgrep CLI.
type SemgrepScanner struct {
	// Binary is the semgrep executable name or path. Defaults to "semgrep".
	Binary string
	// Timeout bounds a single scan invocation. Defaults to 60s.
	Timeout time.Duration

	logger *slog.Logger
}

// NewSemgrepScanner creates a scanner with default binary and timeout.
func NewSemgrepScanner(logger *slog.Logger) *SemgrepScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &SemgrepScanner{
		Binary:  "semgrep",
		Timeout: 60 * time.Second,
		logger:  logger.With("component", "semscan.SemgrepScanner"),
	}
}

// semgrepOutput mirrors the subset of semgrep's --json schema we consume.
type semgrepOutput struct {
	Results []struct {
		CheckID string `json:"check_id"`
		Path    string `json:"path"`
		Start   struct {
			Line int `json:"line"`
		} `json:"start"`
		Extra struct {
			Message string `json:"message"`
		} `json:"extra"`
	} `json:"results"`
}

// Scan invokes semgrep with the given rule bundle against root and parses
// its JSON result list. Semgrep's exit code varies with findings and
// configuration, so the output is authoritative: if stdout parses as a
// result document it is used regardless of exit status; otherwise the
// invocation error is returned for the caller to degrade to zero findings.
func (s *SemgrepScanner) Scan(ctx context.Context, rulesFile, root string) ([]Finding, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.Binary, "scan", "--json", "--quiet", "--config", rulesFile, root)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	var out semgrepOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		if runErr != nil {
			return nil, fmt.Errorf("semgrep invocation failed: %w (stderr: %s)", runErr, stderr.String())
		}
		return nil, fmt.Errorf("failed to parse semgrep output: %w", err)
	}

	findings := make([]Finding, 0, len(out.Results))
	for _, r := range out.Results {
		findings = append(findings, Finding{
			RuleID:  r.CheckID,
			Path:    r.Path,
			Line:    r.Start.Line,
			Message: r.Extra.Message,
		})
	}

	s.logger.Debug("semgrep scan complete", "rules_file", rulesFile, "findings", len(findings))
	return findings, nil
}
