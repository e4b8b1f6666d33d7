// Package jsonfile implements the failure ledger as a JSON snapshot file.
// Failure entries are low volume, so the whole mapping is flushed at run end
// rather than per entry.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ozgrid/bulkcheck/internal/check"
)

// Ledger keeps the failure mapping in memory and persists it on Flush.
type Ledger struct {
	path string

	mu      sync.Mutex
	entries map[string]check.FailureEntry
}

// New creates a Ledger backed by the JSON file at path.
func New(path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create ledger dir %s: %w", dir, err)
		}
	}
	return &Ledger{path: path, entries: make(map[string]check.FailureEntry)}, nil
}

// Load reads the persisted mapping. Call once at startup.
func (l *Ledger) Load(_ context.Context) (map[string]check.FailureEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]check.FailureEntry{}, nil
		}
		return nil, fmt.Errorf("read ledger %s: %w", l.path, err)
	}
	if len(data) == 0 {
		return map[string]check.FailureEntry{}, nil
	}

	var entries map[string]check.FailureEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", l.path, err)
	}
	l.entries = entries

	out := make(map[string]check.FailureEntry, len(entries))
	for k, v := range entries {
		out[k] = v
	}
	return out, nil
}

// Record upserts an entry by subject key.
func (l *Ledger) Record(_ context.Context, entry check.FailureEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[entry.Subject.Key] = entry
	return nil
}

// Clear removes an entry, called when a previously-failed subject succeeds.
func (l *Ledger) Clear(_ context.Context, subjectKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, subjectKey)
	return nil
}

// Flush writes the full current mapping atomically (temp file + rename).
func (l *Ledger) Flush(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write ledger %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace ledger %s: %w", l.path, err)
	}
	return nil
}
