package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader reads and validates a grading manifest from disk. It keeps the
// most recent good manifest in memory; a failed Reload leaves the previous
// manifest in place so a half-written file never wipes the rule set.
type Loader struct {
	mu       sync.RWMutex
	path     string
	manifest *Manifest

	// watcher state, guarded by mu
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewLoader creates an empty Loader. Call Load before Get.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads the manifest at path, validates it, and makes it current.
func (l *Loader) Load(path string) error {
	m, err := readManifest(path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.path = path
	l.manifest = m
	l.mu.Unlock()
	return nil
}

// Reload re-reads the manifest from the path given to the last Load call.
func (l *Loader) Reload() error {
	l.mu.RLock()
	path := l.path
	l.mu.RUnlock()

	if path == "" {
		return fmt.Errorf("no manifest loaded yet")
	}

	m, err := readManifest(path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.manifest = m
	l.mu.Unlock()
	return nil
}

// Get returns the current manifest. It panics if Load was never called,
// which is always a programming error in the caller.
func (l *Loader) Get() *Manifest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.manifest == nil {
		panic("config: Get called before Load")
	}
	return l.manifest
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", filepath.Base(path), err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", filepath.Base(path), err)
	}

	m.applyDefaults()
	return &m, nil
}

// validKinds is the closed set of constraint kinds the engine dispatches on.
var validKinds = map[string]bool{
	"negative_pattern":  true,
	"positive_pattern":  true,
	"required_step":     true,
	"required_sequence": true,
	"semantic_scan":     true,
	"exploit_probe":     true,
	"expression":        true,
}

// Validate checks the structural invariants of a manifest. A malformed
// entry fails the whole load: running with fewer rules than the author
// wrote is worse than not running at all.
func (m *Manifest) Validate() error {
	if len(m.Constraints) == 0 {
		return fmt.Errorf("manifest declares no constraints")
	}

	seen := make(map[string]bool, len(m.Constraints))
	for i, c := range m.Constraints {
		if c.ID == "" {
			return fmt.Errorf("constraint %d: missing id", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("constraint %q: duplicate id", c.ID)
		}
		seen[c.ID] = true

		if !validKinds[c.Kind] {
			return fmt.Errorf("constraint %q: unknown kind %q", c.ID, c.Kind)
		}
		if c.Penalty < 0 {
			return fmt.Errorf("constraint %q: negative penalty %d", c.ID, c.Penalty)
		}
		if c.Location != "" && !strings.HasPrefix(c.Location, "tool_calls.") {
			return fmt.Errorf("constraint %q: location %q must start with tool_calls.", c.ID, c.Location)
		}

		switch c.Kind {
		case "negative_pattern", "positive_pattern":
			if c.Pattern == "" {
				return fmt.Errorf("constraint %q: %s requires a pattern", c.ID, c.Kind)
			}
		case "required_step":
			if c.Step == "" {
				return fmt.Errorf("constraint %q: required_step requires a step", c.ID)
			}
		case "semantic_scan":
			if c.RulesFile == "" {
				return fmt.Errorf("constraint %q: semantic_scan requires a rules_file", c.ID)
			}
		case "expression":
			if c.Condition == "" {
				return fmt.Errorf("constraint %q: expression requires a condition", c.ID)
			}
		}
	}

	if m.Scoring.PassThreshold < 0 || m.Scoring.PassThreshold > 100 {
		return fmt.Errorf("scoring.pass_threshold %v outside [0, 100]", m.Scoring.PassThreshold)
	}
	if m.Scoring.Weights.Security < 0 || m.Scoring.Weights.Workflow < 0 {
		return fmt.Errorf("scoring weights must be non-negative")
	}

	return nil
}
