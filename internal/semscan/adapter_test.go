package semscan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentproctor/agentproctor/internal/config"
	"github.com/agentproctor/agentproctor/internal/constraint"
)

// fakeScanner is the injected port implementation used in tests. It records
// the scan root so materialization can be inspected before cleanup.
type fakeScanner struct {
	findings []Finding
	err      error

	calls     int
	rulesFile string
	seenFiles map[string]string
}

func (f *fakeScanner) Scan(_ context.Context, rulesFile, root string) ([]Finding, error) {
	f.calls++
	f.rulesFile = rulesFile

	f.seenFiles = make(map[string]string)
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, _ := os.ReadFile(path)
		rel, _ := filepath.Rel(root, path)
		f.seenFiles[filepath.ToSlash(rel)] = string(data)
		return nil
	})

	return f.findings, f.err
}

func scanConstraints(t *testing.T) []constraint.Constraint {
	t.Helper()
	constraints, err := constraint.Compile([]config.ConstraintConfig{{
		ID:        "SEMGREP_SQLI_RULES",
		Kind:      "semantic_scan",
		RulesFile: "rules/sqli.yaml",
		Penalty:   25,
		Message:   "Residual injection risk",
	}}, nil)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	return constraints
}

func TestAdapter_ConvertsFindings(t *testing.T) {
	fake := &fakeScanner{
		findings: []Finding{
			{RuleID: "sqli.tainted-concat", Path: "routes/search.ts", Line: 3, Message: "tainted"},
			{RuleID: "sqli.raw-like", Path: "routes/search.ts", Line: 9, Message: "raw like"},
		},
	}
	adapter := NewAdapter(fake, nil)

	snapshot := map[string]string{
		"routes/search.ts": "models.sequelize.query('...' + criteria)",
	}
	violations := adapter.Run(context.Background(), scanConstraints(t), snapshot)

	if len(violations) != 2 {
		t.Fatalf("got %d violations, want one per finding", len(violations))
	}
	v := violations[0]
	if v.ConstraintID != "SEMGREP_SQLI_RULES" || v.Penalty != 25 {
		t.Errorf("violation carries wrong constraint: %+v", v)
	}
	if v.ToolName != constraint.ToolSemanticScanner {
		t.Errorf("ToolName = %q, want scanner sentinel", v.ToolName)
	}
	if !strings.Contains(v.Message, "semantic match: sqli.tainted-concat") {
		t.Errorf("Message = %q, want semantic-match suffix", v.Message)
	}
	if fake.rulesFile != "rules/sqli.yaml" {
		t.Errorf("scanner invoked with rules file %q", fake.rulesFile)
	}
}

func TestAdapter_MaterializesSnapshot(t *testing.T) {
	fake := &fakeScanner{}
	adapter := NewAdapter(fake, nil)

	snapshot := map[string]string{
		"routes/search.ts":  "query stuff",
		"lib/insecurity.ts": "hash stuff",
		"/abs/path/file.py": "absolute paths are rooted inside the scan dir",
	}
	adapter.Run(context.Background(), scanConstraints(t), snapshot)

	if fake.calls != 1 {
		t.Fatalf("scanner invoked %d times, want 1", fake.calls)
	}
	want := map[string]string{
		"routes/search.ts":  "query stuff",
		"lib/insecurity.ts": "hash stuff",
		"abs/path/file.py":  "absolute paths are rooted inside the scan dir",
	}
	for rel, content := range want {
		if fake.seenFiles[rel] != content {
			t.Errorf("materialized %q = %q, want %q", rel, fake.seenFiles[rel], content)
		}
	}
}

func TestAdapter_EmptySnapshotSkipsScan(t *testing.T) {
	fake := &fakeScanner{findings: []Finding{{RuleID: "x", Path: "y"}}}
	adapter := NewAdapter(fake, nil)

	violations := adapter.Run(context.Background(), scanConstraints(t), nil)
	if len(violations) != 0 {
		t.Errorf("got %d violations for empty snapshot", len(violations))
	}
	if fake.calls != 0 {
		t.Errorf("scanner invoked %d times for empty snapshot, want 0", fake.calls)
	}
}

func TestAdapter_ScannerErrorDegradesToZeroFindings(t *testing.T) {
	fake := &fakeScanner{err: errors.New("semgrep: command not found")}
	adapter := NewAdapter(fake, nil)

	violations := adapter.Run(context.Background(), scanConstraints(t), map[string]string{
		"a.ts": "content",
	})
	if len(violations) != 0 {
		t.Errorf("scanner error produced %d violations, want 0", len(violations))
	}
}

func TestAdapter_IgnoresNonScanConstraints(t *testing.T) {
	constraints, err := constraint.Compile([]config.ConstraintConfig{{
		ID: "WORKFLOW_BRANCH", Kind: "required_step", Step: "create_branch", Penalty: 10,
	}}, nil)
	if err != nil {
		t.Fatal(err)
	}

	fake := &fakeScanner{}
	adapter := NewAdapter(fake, nil)
	adapter.Run(context.Background(), constraints, map[string]string{"a.ts": "x"})
	if fake.calls != 0 {
		t.Errorf("scanner invoked for non-scan constraint")
	}
}

func TestSandboxPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"routes/search.ts", "routes/search.ts", false},
		{"/abs/file.py", "abs/file.py", false},
		{"a/../b.ts", "b.ts", false},
		{"../escape.ts", "", true},
		{"a/../../escape.ts", "", true},
		{"", "", true},
		{".", "", true},
	}

	for _, tt := range tests {
		got, err := sandboxPath(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("sandboxPath(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != filepath.FromSlash(tt.want) {
			t.Errorf("sandboxPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
