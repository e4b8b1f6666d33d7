package postgres

import (
	"context"
	"fmt"

	"github.com/ozgrid/bulkcheck/internal/check"
)

// ResultStore writes evaluation rows into Postgres. Rows are insert-only;
// a conflicting key is left untouched so earlier results are never
// silently overwritten.
type ResultStore struct {
	conn  dbConn
	table string
}

// NewResultStore constructs a store from an existing pool or mock.
func NewResultStore(conn dbConn, table string) (*ResultStore, error) {
	if conn == nil {
		return nil, fmt.Errorf("db connection is required")
	}
	table, err := tableOrDefault(table, "evaluations")
	if err != nil {
		return nil, err
	}
	return &ResultStore{conn: conn, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.conn == nil {
		return
	}
	s.conn.Close()
}

// Load returns the set of already-evaluated subject keys.
func (s *ResultStore) Load(ctx context.Context) (map[string]struct{}, error) {
	query := fmt.Sprintf(`SELECT address_key FROM %s`, s.table)
	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load evaluations: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan evaluation key: %w", err)
		}
		keys[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evaluations: %w", err)
	}
	return keys, nil
}

// Append inserts one evaluation row.
func (s *ResultStore) Append(ctx context.Context, record check.EvaluationRecord) error {
	if record.Subject.Key == "" {
		return fmt.Errorf("subject key is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	address_key,
	address,
	lat,
	lon,
	status,
	status_text,
	elapsed_ms,
	checked_at,
	method
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
) ON CONFLICT (address_key) DO NOTHING`, s.table)

	args := []any{
		record.Subject.Key,
		record.Subject.Address,
		record.Subject.Lat,
		record.Subject.Lon,
		string(record.Status),
		record.StatusText,
		record.ElapsedMs,
		record.CheckedAt,
		record.Method,
	}
	if _, err := s.conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

// Count returns the number of persisted evaluation rows.
func (s *ResultStore) Count(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)
	var n int
	if err := s.conn.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count evaluations: %w", err)
	}
	return n, nil
}
