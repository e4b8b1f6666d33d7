package check

import (
	"context"
	"time"

	"github.com/ozgrid/bulkcheck/internal/geo"
)

// Lookup is the external availability capability. One call is one attempt
// against the rate-limited source; its mechanics are opaque to the core.
// Failed attempts should return a *LookupError so the executor can decide
// whether to retry.
type Lookup interface {
	Lookup(ctx context.Context, subject Subject) (Status, string, error)
}

// Discoverer obtains the candidate subjects for a region. The returned slice
// is deduplicated by key and bounded by maxCount. Errors wrap
// ErrDiscoveryUnavailable.
type Discoverer interface {
	Discover(ctx context.Context, region geo.BBox, maxCount int) ([]Subject, error)
}

// ResultStore is the durable, append-only record of completed evaluations.
// Append must be safe under concurrent calls from multiple workers.
type ResultStore interface {
	Load(ctx context.Context) (map[string]struct{}, error)
	Append(ctx context.Context, record EvaluationRecord) error
	Count(ctx context.Context) (int, error)
}

// FailureLedger tracks subjects that exhausted their retry budget. Record and
// Clear mutate the working set; Flush persists the snapshot at run end.
type FailureLedger interface {
	Load(ctx context.Context) (map[string]FailureEntry, error)
	Record(ctx context.Context, entry FailureEntry) error
	Clear(ctx context.Context, subjectKey string) error
	Flush(ctx context.Context) error
}

// Publisher pushes completed-check events to an external topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time so backoff and cooldown are testable. Sleep returns
// early with the context error when ctx finishes first.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}
