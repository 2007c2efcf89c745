// Package history is the aggregated failure record the self-improvement
// pipeline reads from. Failures with the same agent, category, and
// message are one row with a frequency count, not many rows.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/classifier"
	"github.com/xkilldash9x/suture-cli/internal/trace"
)

type key struct {
	agent    string
	category schemas.FailureCategory
	message  string
}

// History aggregates failure analyses in memory and persists them as a
// JSON file. Safe for concurrent use.
type History struct {
	log *zap.Logger

	mu      sync.Mutex
	entries map[key]*schemas.FailureAnalysis
}

// New returns an empty history.
func New(logger *zap.Logger) *History {
	return &History{
		log:     logger.Named("evolution.history"),
		entries: make(map[key]*schemas.FailureAnalysis),
	}
}

// Record merges one analysis into the history. An existing row with the
// same agent, category, and message gains the new row's frequency and a
// widened first/last-seen window; otherwise the row is inserted.
func (h *History) Record(analysis schemas.FailureAnalysis) {
	if analysis.Frequency <= 0 {
		analysis.Frequency = 1
	}
	k := key{agent: analysis.Agent, category: analysis.Category, message: analysis.Message}

	h.mu.Lock()
	defer h.mu.Unlock()

	existing, ok := h.entries[k]
	if !ok {
		copied := analysis
		h.entries[k] = &copied
		return
	}
	existing.Frequency += analysis.Frequency
	if analysis.FirstSeen.Before(existing.FirstSeen) {
		existing.FirstSeen = analysis.FirstSeen
	}
	if analysis.LastSeen.After(existing.LastSeen) {
		existing.LastSeen = analysis.LastSeen
		existing.TraceID = analysis.TraceID
		existing.OperationID = analysis.OperationID
	}
}

// RecordTrace extracts and records every failed leaf of a run tree.
func (h *History) RecordTrace(root *schemas.TraceOperation) int {
	analyses := ExtractFailures(root)
	for _, a := range analyses {
		h.Record(a)
	}
	return len(analyses)
}

// All returns the aggregated rows, most frequent first.
func (h *History) All() []schemas.FailureAnalysis {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]schemas.FailureAnalysis, 0, len(h.entries))
	for _, e := range h.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Message < out[j].Message
	})
	return out
}

// Len reports the number of distinct aggregated rows.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Load replaces the in-memory state with the file's contents. A missing
// file is an empty history, not an error.
func (h *History) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read history file %s: %w", path, err)
	}
	var rows []schemas.FailureAnalysis
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("failed to parse history file %s: %w", path, err)
	}

	h.mu.Lock()
	h.entries = make(map[key]*schemas.FailureAnalysis, len(rows))
	h.mu.Unlock()
	for _, row := range rows {
		h.Record(row)
	}
	h.log.Debug("Loaded failure history", zap.String("path", path), zap.Int("rows", len(rows)))
	return nil
}

// Save writes the aggregated rows out atomically.
func (h *History) Save(path string) error {
	rows := h.All()
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace history file: %w", err)
	}
	return nil
}

// ExtractFailures converts the failed leaves of a run tree into
// classified analysis rows, one per leaf.
func ExtractFailures(root *schemas.TraceOperation) []schemas.FailureAnalysis {
	leaves := trace.FailedLeaves(root)
	if len(leaves) == 0 {
		return nil
	}
	now := time.Now().UTC()
	out := make([]schemas.FailureAnalysis, 0, len(leaves))
	for _, leaf := range leaves {
		seen := leaf.EndTime
		if seen.IsZero() {
			seen = now
		}
		out = append(out, schemas.FailureAnalysis{
			TraceID:     root.ID,
			OperationID: leaf.ID,
			Operation:   leaf.Name,
			Agent:       leaf.Agent,
			Category:    classifier.ClassifyOperation(leaf),
			Message:     leaf.Error.Message,
			Detail:      leaf.Error.Type,
			Frequency:   1,
			FirstSeen:   seen,
			LastSeen:    seen,
		})
	}
	return out
}
