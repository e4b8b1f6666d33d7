package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ozgrid/bulkcheck/internal/check"
)

func entry(address string, kind check.ErrorKind, attempts int) check.FailureEntry {
	subject := check.NewSubject(address, -37.81, 144.96)
	at := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	return check.FailureEntry{
		Subject:       subject,
		Kind:          kind,
		Attempts:      attempts,
		FirstFailedAt: at,
		LastFailedAt:  at,
	}
}

func TestRecordFlushLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "failed_addresses.json")
	ledger, err := New(path)
	require.NoError(t, err)
	ctx := context.Background()

	first := entry("1 Swanston St Melbourne", check.KindTimeout, 3)
	second := entry("2 Collins St Melbourne", check.KindBlocked, 3)
	require.NoError(t, ledger.Record(ctx, first))
	require.NoError(t, ledger.Record(ctx, second))
	require.NoError(t, ledger.Flush(ctx))

	reopened, err := New(path)
	require.NoError(t, err)
	entries, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, first, entries[first.Subject.Key])
	require.Equal(t, check.KindBlocked, entries[second.Subject.Key].Kind)
}

func TestClearRemovesEntryFromSnapshot(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "failed_addresses.json")
	ledger, err := New(path)
	require.NoError(t, err)
	ctx := context.Background()

	kept := entry("1 Swanston St", check.KindTransport, 3)
	cleared := entry("2 Collins St", check.KindTimeout, 3)
	require.NoError(t, ledger.Record(ctx, kept))
	require.NoError(t, ledger.Record(ctx, cleared))
	require.NoError(t, ledger.Clear(ctx, cleared.Subject.Key))
	require.NoError(t, ledger.Flush(ctx))

	reopened, err := New(path)
	require.NoError(t, err)
	entries, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries, kept.Subject.Key)
}

func TestRecordUpsertsByKey(t *testing.T) {
	t.Parallel()

	ledger, err := New(filepath.Join(t.TempDir(), "failed_addresses.json"))
	require.NoError(t, err)
	ctx := context.Background()

	old := entry("1 Swanston St", check.KindTimeout, 3)
	require.NoError(t, ledger.Record(ctx, old))
	updated := old
	updated.Kind = check.KindBlocked
	updated.LastFailedAt = old.LastFailedAt.Add(time.Hour)
	require.NoError(t, ledger.Record(ctx, updated))
	require.NoError(t, ledger.Flush(ctx))

	entries, err := ledger.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, check.KindBlocked, entries[old.Subject.Key].Kind)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	ledger, err := New(filepath.Join(t.TempDir(), "sub", "failed.json"))
	require.NoError(t, err)

	entries, err := ledger.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFlushLeavesNoTempFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "failed.json")
	ledger, err := New(path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ledger.Record(ctx, entry("1 Swanston St", check.KindTimeout, 3)))
	require.NoError(t, ledger.Flush(ctx))

	names, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, names, 1)
	require.Equal(t, "failed.json", names[0].Name())
}

func TestLoadRejectsCorruptSnapshot(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "failed.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	ledger, err := New(path)
	require.NoError(t, err)
	_, err = ledger.Load(context.Background())
	require.Error(t, err)
}
