package postgres

import (
	"context"
	"fmt"

	"github.com/ozgrid/bulkcheck/internal/check"
)

// Ledger tracks exhausted subjects in a Postgres table, upserted by
// subject key. Every write is already durable, so Flush is a no-op.
type Ledger struct {
	conn  dbConn
	table string
}

// NewLedger constructs a Ledger from an existing pool or mock.
func NewLedger(conn dbConn, table string) (*Ledger, error) {
	if conn == nil {
		return nil, fmt.Errorf("db connection is required")
	}
	table, err := tableOrDefault(table, "failures")
	if err != nil {
		return nil, err
	}
	return &Ledger{conn: conn, table: table}, nil
}

// Load returns all persisted failure entries keyed by subject.
func (l *Ledger) Load(ctx context.Context) (map[string]check.FailureEntry, error) {
	query := fmt.Sprintf(`
SELECT address_key, address, lat, lon, kind, attempts, first_failed_at, last_failed_at
FROM %s`, l.table)
	rows, err := l.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load failures: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]check.FailureEntry)
	for rows.Next() {
		var (
			entry check.FailureEntry
			kind  string
		)
		if err := rows.Scan(
			&entry.Subject.Key,
			&entry.Subject.Address,
			&entry.Subject.Lat,
			&entry.Subject.Lon,
			&kind,
			&entry.Attempts,
			&entry.FirstFailedAt,
			&entry.LastFailedAt,
		); err != nil {
			return nil, fmt.Errorf("scan failure row: %w", err)
		}
		entry.Kind = check.ErrorKind(kind)
		entries[entry.Subject.Key] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return entries, nil
}

// Record upserts one failure entry by subject key.
func (l *Ledger) Record(ctx context.Context, entry check.FailureEntry) error {
	if entry.Subject.Key == "" {
		return fmt.Errorf("subject key is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	address_key, address, lat, lon, kind, attempts, first_failed_at, last_failed_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
) ON CONFLICT (address_key) DO UPDATE SET
	kind = EXCLUDED.kind,
	attempts = EXCLUDED.attempts,
	last_failed_at = EXCLUDED.last_failed_at`, l.table)

	args := []any{
		entry.Subject.Key,
		entry.Subject.Address,
		entry.Subject.Lat,
		entry.Subject.Lon,
		string(entry.Kind),
		entry.Attempts,
		entry.FirstFailedAt,
		entry.LastFailedAt,
	}
	if _, err := l.conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert failure: %w", err)
	}
	return nil
}

// Clear deletes the entry for a subject that later succeeded.
func (l *Ledger) Clear(ctx context.Context, subjectKey string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE address_key = $1`, l.table)
	if _, err := l.conn.Exec(ctx, query, subjectKey); err != nil {
		return fmt.Errorf("delete failure: %w", err)
	}
	return nil
}

// Flush is a no-op; each Record/Clear is independently durable.
func (l *Ledger) Flush(_ context.Context) error {
	return nil
}
