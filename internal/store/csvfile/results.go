// Package csvfile implements the result store as an append-only CSV log,
// readable by downstream map tooling.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ozgrid/bulkcheck/internal/check"
	"github.com/ozgrid/bulkcheck/internal/geo"
)

var header = []string{"address", "lat", "lon", "status", "status_text", "elapsed_ms", "checked_at", "method"}

// ResultStore appends evaluation records to a CSV file. Each Append is an
// independent atomic row write; the file is never rewritten.
type ResultStore struct {
	path string

	mu    sync.Mutex
	keys  map[string]struct{}
	count int
}

// New creates a ResultStore rooted at path. The parent directory is created
// if missing; the file itself is created lazily on first Append.
func New(path string) (*ResultStore, error) {
	if path == "" {
		return nil, fmt.Errorf("results path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create results dir %s: %w", dir, err)
		}
	}
	return &ResultStore{path: path, keys: make(map[string]struct{})}, nil
}

// Load reads the already-evaluated subject keys. Call once at startup.
func (s *ResultStore) Load(_ context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("open results %s: %w", s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	first := true
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read results %s: %w", s.path, err)
		}
		if first {
			first = false
			if len(row) > 0 && row[0] == header[0] {
				continue
			}
		}
		if len(row) == 0 || row[0] == "" {
			continue
		}
		s.keys[geo.NormalizeAddress(row[0])] = struct{}{}
		s.count++
	}

	out := make(map[string]struct{}, len(s.keys))
	for k := range s.keys {
		out[k] = struct{}{}
	}
	return out, nil
}

// Append durably persists one record. Safe for concurrent use.
func (s *ResultStore) Append(_ context.Context, record check.EvaluationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open results %s: %w", s.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat results %s: %w", s.path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("write results header: %w", err)
		}
	}
	row := []string{
		record.Subject.Address,
		strconv.FormatFloat(record.Subject.Lat, 'f', -1, 64),
		strconv.FormatFloat(record.Subject.Lon, 'f', -1, 64),
		string(record.Status),
		record.StatusText,
		strconv.FormatInt(record.ElapsedMs, 10),
		record.CheckedAt.UTC().Format(time.RFC3339),
		record.Method,
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write result row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush result row: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync results %s: %w", s.path, err)
	}

	s.keys[record.Subject.Key] = struct{}{}
	s.count++
	return nil
}

// Count returns the number of persisted records seen by this process.
func (s *ResultStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count, nil
}
