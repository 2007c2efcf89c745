package improver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// VersionLog is the append-only record of prompt versions per agent.
// Entries are never rewritten; rollback means re-appending an old prompt
// body as a new version.
type VersionLog struct {
	path string

	mu      sync.Mutex
	entries []schemas.PromptConfig
}

// NewVersionLog loads the log at path, which may not exist yet.
func NewVersionLog(path string) (*VersionLog, error) {
	vl := &VersionLog{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return vl, nil
		}
		return nil, fmt.Errorf("failed to read version log %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &vl.entries); err != nil {
		return nil, fmt.Errorf("failed to parse version log %s: %w", path, err)
	}
	return vl, nil
}

// Append records a new version and persists the log. The version number
// must strictly increase within its agent.
func (vl *VersionLog) Append(cfg schemas.PromptConfig) error {
	vl.mu.Lock()
	defer vl.mu.Unlock()

	if latest, ok := vl.latestLocked(cfg.Agent); ok && cfg.Version <= latest.Version {
		return fmt.Errorf("version %d for agent %q does not advance past %d", cfg.Version, cfg.Agent, latest.Version)
	}
	vl.entries = append(vl.entries, cfg)
	return vl.persistLocked()
}

// Latest returns the highest version recorded for the agent.
func (vl *VersionLog) Latest(agent string) (schemas.PromptConfig, bool) {
	vl.mu.Lock()
	defer vl.mu.Unlock()
	return vl.latestLocked(agent)
}

// History returns every version recorded for the agent, in append order.
func (vl *VersionLog) History(agent string) []schemas.PromptConfig {
	vl.mu.Lock()
	defer vl.mu.Unlock()
	var out []schemas.PromptConfig
	for _, e := range vl.entries {
		if e.Agent == agent {
			out = append(out, e)
		}
	}
	return out
}

func (vl *VersionLog) latestLocked(agent string) (schemas.PromptConfig, bool) {
	var best schemas.PromptConfig
	found := false
	for _, e := range vl.entries {
		if e.Agent != agent {
			continue
		}
		if !found || e.Version > best.Version {
			best = e
			found = true
		}
	}
	return best, found
}

func (vl *VersionLog) persistLocked() error {
	data, err := json.MarshalIndent(vl.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal version log: %w", err)
	}
	if dir := filepath.Dir(vl.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create version log directory: %w", err)
		}
	}
	tmp := vl.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write version log: %w", err)
	}
	if err := os.Rename(tmp, vl.path); err != nil {
		return fmt.Errorf("failed to replace version log: %w", err)
	}
	return nil
}
