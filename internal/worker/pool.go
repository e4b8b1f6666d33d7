// Package worker implements the bounded fan-out that runs one batch of
// subject checks.
package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ozgrid/bulkcheck/internal/check"
	"github.com/ozgrid/bulkcheck/internal/metrics"
)

// Outcome is the result of one subject's check. Exactly one of Record/Err is
// meaningful: Err is nil on success and a *check.CheckError on failure.
type Outcome struct {
	Subject check.Subject
	Record  check.EvaluationRecord
	Err     error
}

// Executor is the per-subject check the pool fans out to.
type Executor interface {
	Check(ctx context.Context, subject check.Subject) (check.EvaluationRecord, error)
}

// Pool executes batches with bounded concurrency.
type Pool struct {
	executor Executor
	logger   *zap.Logger
}

// New constructs a Pool.
func New(executor Executor, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{executor: executor, logger: logger}
}

// RunBatch dispatches at most concurrency subjects at a time and yields each
// outcome as soon as it completes, in completion order. The channel is closed
// once the batch drains. When ctx finishes, no new subject is dispatched but
// in-flight checks run to completion and their outcomes are still delivered.
func (p *Pool) RunBatch(ctx context.Context, subjects []check.Subject, concurrency int) <-chan Outcome {
	if concurrency <= 0 {
		concurrency = 1
	}
	out := make(chan Outcome, len(subjects))
	sem := make(chan struct{}, concurrency)

	go func() {
		defer close(out)
		var wg sync.WaitGroup
	dispatch:
		for _, subject := range subjects {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				p.logger.Info("stopping batch dispatch", zap.Error(ctx.Err()))
				break dispatch
			}
			wg.Add(1)
			go func(s check.Subject) {
				defer wg.Done()
				defer func() { <-sem }()
				metrics.IncActiveWorkers()
				defer metrics.DecActiveWorkers()

				// In-flight checks use a detached context so an operator
				// abort lets them finish and persist.
				record, err := p.executor.Check(context.WithoutCancel(ctx), s)
				out <- Outcome{Subject: s, Record: record, Err: err}
			}(subject)
		}
		wg.Wait()
	}()

	return out
}
