// Package memory provides in-memory store implementations for tests and
// local development.
package memory

import (
	"context"
	"sync"

	"github.com/ozgrid/bulkcheck/internal/check"
)

// ResultStore is a map-backed check.ResultStore.
type ResultStore struct {
	mu      sync.RWMutex
	records map[string]check.EvaluationRecord
}

// NewResultStore constructs a ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{records: make(map[string]check.EvaluationRecord)}
}

// Load returns the keys of all stored records.
func (s *ResultStore) Load(_ context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.records))
	for k := range s.records {
		out[k] = struct{}{}
	}
	return out, nil
}

// Append stores one record. Existing records are never overwritten.
func (s *ResultStore) Append(_ context.Context, record check.EvaluationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.Subject.Key]; exists {
		return nil
	}
	s.records[record.Subject.Key] = record
	return nil
}

// Count returns the number of stored records.
func (s *ResultStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Get returns the record for a subject key, for test assertions.
func (s *ResultStore) Get(key string) (check.EvaluationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[key]
	return record, ok
}

// Ledger is a map-backed check.FailureLedger.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]check.FailureEntry
	flushes int
}

// NewLedger constructs a Ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]check.FailureEntry)}
}

// Load returns a copy of the current mapping.
func (l *Ledger) Load(_ context.Context) (map[string]check.FailureEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]check.FailureEntry, len(l.entries))
	for k, v := range l.entries {
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

// Clear removes an entry.
func (l *Ledger) Clear(_ context.Context, subjectKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, subjectKey)
	return nil
}

// Flush is a no-op beyond counting invocations for tests.
func (l *Ledger) Flush(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushes++
	return nil
}

// Flushes reports how many times Flush was called.
func (l *Ledger) Flushes() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.flushes
}

// Len reports the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
