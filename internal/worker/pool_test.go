package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ozgrid/bulkcheck/internal/check"
)

// gateExecutor blocks each check until released and tracks peak concurrency.
type gateExecutor struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	started  chan struct{}
	release  chan struct{}
}

func newGateExecutor(n int) *gateExecutor {
	return &gateExecutor{
		started: make(chan struct{}, n),
		release: make(chan struct{}),
	}
}

func (e *gateExecutor) Check(_ context.Context, subject check.Subject) (check.EvaluationRecord, error) {
	e.mu.Lock()
	e.inFlight++
	if e.inFlight > e.peak {
		e.peak = e.inFlight
	}
	e.mu.Unlock()
	e.started <- struct{}{}

	<-e.release

	e.mu.Lock()
	e.inFlight--
	e.mu.Unlock()
	return check.EvaluationRecord{Subject: subject, Status: check.StatusAvailable}, nil
}

func (e *gateExecutor) Peak() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peak
}

func subjects(addrs ...string) []check.Subject {
	out := make([]check.Subject, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, check.NewSubject(a, -37.81, 144.96))
	}
	return out
}

func TestRunBatchBoundsConcurrency(t *testing.T) {
	t.Parallel()

	exec := newGateExecutor(10)
	pool := New(exec, zap.NewNop())

	batch := subjects("a st", "b st", "c st", "d st", "e st", "f st", "g st", "h st", "i st", "j st")
	out := pool.RunBatch(context.Background(), batch, 3)

	// Wait for the pool to saturate, then let everything finish.
	for i := 0; i < 3; i++ {
		<-exec.started
	}
	close(exec.release)

	count := 0
	for range out {
		count++
	}
	require.Equal(t, 10, count)
	require.Equal(t, 3, exec.Peak())
}

func TestRunBatchYieldsInCompletionOrder(t *testing.T) {
	t.Parallel()

	slow := check.NewSubject("slow st", -37.8, 144.9)
	fast := check.NewSubject("fast st", -37.8, 144.9)
	exec := &delayExecutor{delays: map[string]time.Duration{
		slow.Key: 150 * time.Millisecond,
		fast.Key: 5 * time.Millisecond,
	}}
	pool := New(exec, zap.NewNop())

	out := pool.RunBatch(context.Background(), []check.Subject{slow, fast}, 2)

	first := <-out
	require.Equal(t, fast.Key, first.Subject.Key)
	second := <-out
	require.Equal(t, slow.Key, second.Subject.Key)
	_, open := <-out
	require.False(t, open)
}

type delayExecutor struct {
	delays map[string]time.Duration
}

func (e *delayExecutor) Check(_ context.Context, subject check.Subject) (check.EvaluationRecord, error) {
	time.Sleep(e.delays[subject.Key])
	return check.EvaluationRecord{Subject: subject, Status: check.StatusUnavailable}, nil
}

func TestRunBatchDeliversFailures(t *testing.T) {
	t.Parallel()

	exec := &failingExecutor{}
	pool := New(exec, zap.NewNop())

	out := pool.RunBatch(context.Background(), subjects("x st"), 1)
	outcome := <-out
	require.Error(t, outcome.Err)

	var ce *check.CheckError
	require.ErrorAs(t, outcome.Err, &ce)
	require.Equal(t, 3, ce.Attempts)
}

type failingExecutor struct{}

func (failingExecutor) Check(_ context.Context, _ check.Subject) (check.EvaluationRecord, error) {
	return check.EvaluationRecord{}, &check.CheckError{
		Kind:     check.KindTimeout,
		Attempts: 3,
		Err:      errors.New("nav deadline"),
	}
}

func TestRunBatchStopsDispatchOnCancelButFinishesInFlight(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	exec := newGateExecutor(10)
	pool := New(exec, zap.NewNop())

	out := pool.RunBatch(ctx, subjects("a st", "b st", "c st", "d st", "e st"), 2)

	// Two in flight; abort, then let them complete.
	<-exec.started
	<-exec.started
	cancel()
	// Give the dispatcher a beat to observe the cancellation before
	// freeing worker slots.
	time.Sleep(50 * time.Millisecond)
	close(exec.release)

	count := 0
	for range out {
		count++
	}
	// The two in-flight checks still deliver; nothing new is dispatched
	// once the context is done.
	require.Equal(t, 2, count)
}
