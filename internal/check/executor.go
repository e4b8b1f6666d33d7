package check

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ozgrid/bulkcheck/internal/metrics"
)

// ExecutorConfig controls retry behavior for a single subject.
type ExecutorConfig struct {
	// MaxAttempts bounds lookup attempts per subject.
	MaxAttempts int
	// BackoffBase is one backoff time unit; the sleep after failed attempt i
	// is BackoffBase << i (2u, 4u, ...).
	BackoffBase time.Duration
	// Method is stamped onto produced records (e.g. "bulk", "retry").
	Method string
}

// Executor wraps one lookup with bounded retry and exponential backoff.
// It never writes to any store; persistence is the caller's job.
type Executor struct {
	lookup Lookup
	clock  Clock
	cfg    ExecutorConfig
	logger *zap.Logger
}

// NewExecutor constructs an Executor.
func NewExecutor(lookup Lookup, clock Clock, cfg ExecutorConfig, logger *zap.Logger) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.Method == "" {
		cfg.Method = "bulk"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{lookup: lookup, clock: clock, cfg: cfg, logger: logger}
}

// Check evaluates one subject. On success it returns the record with elapsed
// wall-clock time across the whole attempt sequence. On failure it returns a
// *CheckError carrying the last error kind and the attempt count.
func (e *Executor) Check(ctx context.Context, subject Subject) (EvaluationRecord, error) {
	start := e.clock.Now()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		attempts = attempt
		status, statusText, err := e.lookup.Lookup(ctx, subject)
		if err == nil {
			checkedAt := e.clock.Now()
			return EvaluationRecord{
				Subject:    subject,
				Status:     status,
				StatusText: statusText,
				CheckedAt:  checkedAt,
				ElapsedMs:  checkedAt.Sub(start).Milliseconds(),
				Method:     e.cfg.Method,
			}, nil
		}

		lastErr = err
		kind := KindOf(err)
		if !kind.Transient() {
			e.logger.Warn("lookup failed with non-retryable error",
				zap.String("subject", subject.Key),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
			break
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}

		metrics.ObserveRetry()
		delay := e.cfg.BackoffBase << attempt
		e.logger.Info("retrying lookup after backoff",
			zap.String("subject", subject.Key),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.String("kind", string(kind)),
		)
		if sleepErr := e.clock.Sleep(ctx, delay); sleepErr != nil {
			lastErr = fmt.Errorf("backoff interrupted: %w", sleepErr)
			break
		}
	}

	return EvaluationRecord{}, &CheckError{
		Kind:     KindOf(lastErr),
		Attempts: attempts,
		Err:      lastErr,
	}
}
