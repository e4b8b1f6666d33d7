// Package scheduler orchestrates a bulk-check run: pending-set computation,
// batch slicing, worker fan-out and streaming persistence.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ozgrid/bulkcheck/internal/check"
	"github.com/ozgrid/bulkcheck/internal/geo"
	"github.com/ozgrid/bulkcheck/internal/metrics"
	"github.com/ozgrid/bulkcheck/internal/worker"
)

// Mode selects what a run does.
type Mode string

// Supported run modes.
const (
	ModeNormal      Mode = "normal"
	ModeDryRun      Mode = "dry-run"
	ModeRetryFailed Mode = "retry-failed"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeNormal, ModeDryRun, ModeRetryFailed:
		return true
	default:
		return false
	}
}

// Config controls a run.
type Config struct {
	Mode        Mode
	Region      geo.BBox
	MaxSubjects int
	BatchSize   int
	Concurrency int
	// Cooldown is the mandatory pause between batches, protecting the
	// rate-limited lookup source from sustained full-concurrency load.
	Cooldown time.Duration
	// Topic, when set together with a publisher, receives one event per
	// successful check.
	Topic string
}

// Summary is emitted when a run reaches Done.
type Summary struct {
	RunID       string               `json:"run_id"`
	Mode        Mode                 `json:"mode"`
	Discovered  int                  `json:"discovered"`
	Skipped     int                  `json:"skipped"`
	Pending     int                  `json:"pending"`
	Succeeded   int                  `json:"succeeded"`
	Failed      int                  `json:"failed"`
	Unpersisted int                  `json:"unpersisted"`
	Aborted     bool                 `json:"aborted,omitempty"`
	Failures    []check.FailureEntry `json:"failures,omitempty"`
}

// Scheduler runs batches of subject checks against the stores.
type Scheduler struct {
	discoverer check.Discoverer
	results    check.ResultStore
	ledger     check.FailureLedger
	pool       *worker.Pool
	publisher  check.Publisher
	clock      check.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Scheduler. publisher may be nil.
func New(
	discoverer check.Discoverer,
	results check.ResultStore,
	ledger check.FailureLedger,
	pool *worker.Pool,
	publisher check.Publisher,
	clock check.Clock,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.Mode == "" {
		cfg.Mode = ModeNormal
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		discoverer: discoverer,
		results:    results,
		ledger:     ledger,
		pool:       pool,
		publisher:  publisher,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run executes one full run and always produces a summary. Only an inability
// to compute the pending set (discovery or store load failure) returns an
// error alongside it.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	summary := Summary{
		RunID: uuid.NewString(),
		Mode:  s.cfg.Mode,
	}
	logger := s.logger.With(zap.String("run_id", summary.RunID), zap.String("mode", string(s.cfg.Mode)))

	pending, prior, err := s.computePending(ctx, logger, &summary)
	if err != nil {
		return summary, err
	}
	summary.Pending = len(pending)
	metrics.SetDiscovered(summary.Discovered)

	if s.cfg.Mode == ModeDryRun {
		logger.Info("dry run: no batches executed",
			zap.Int("discovered", summary.Discovered),
			zap.Int("skipped", summary.Skipped),
			zap.Int("pending", summary.Pending),
		)
		return summary, nil
	}
	if len(pending) == 0 {
		logger.Info("nothing to check, all subjects already evaluated")
		return summary, nil
	}

	// Persistence must survive an operator abort: in-flight outcomes are
	// written with a detached context.
	persistCtx := context.WithoutCancel(ctx)
	failures := make(map[string]check.FailureEntry)

	totalBatches := (len(pending) + s.cfg.BatchSize - 1) / s.cfg.BatchSize
	for start := 0; start < len(pending); start += s.cfg.BatchSize {
		if ctx.Err() != nil {
			summary.Aborted = true
			break
		}

		end := min(start+s.cfg.BatchSize, len(pending))
		batch := pending[start:end]
		batchNum := start/s.cfg.BatchSize + 1
		logger.Info("running batch",
			zap.Int("batch", batchNum),
			zap.Int("total_batches", totalBatches),
			zap.Int("size", len(batch)),
		)
		metrics.ObserveBatch()

		for outcome := range s.pool.RunBatch(ctx, batch, s.cfg.Concurrency) {
			s.handleOutcome(persistCtx, logger, outcome, prior, failures, &summary)
		}

		if end < len(pending) && ctx.Err() == nil {
			logger.Info("cooling down before next batch", zap.Duration("delay", s.cfg.Cooldown))
			metrics.ObserveCooldown(s.cfg.Cooldown)
			if err := s.clock.Sleep(ctx, s.cfg.Cooldown); err != nil {
				summary.Aborted = true
				break
			}
		}
	}
	if ctx.Err() != nil {
		summary.Aborted = true
	}

	s.finish(persistCtx, logger, failures, &summary)
	return summary, nil
}

// computePending resolves the set of subjects the run will dispatch plus the
// prior ledger contents (for first-failure timestamps and the retry set).
func (s *Scheduler) computePending(
	ctx context.Context,
	logger *zap.Logger,
	summary *Summary,
) ([]check.Subject, map[string]check.FailureEntry, error) {
	done, err := s.results.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load result store: %w", err)
	}
	prior, err := s.ledger.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load failure ledger: %w", err)
	}

	var candidates []check.Subject
	if s.cfg.Mode == ModeRetryFailed {
		// Retry-only runs ignore fresh discovery and work the ledger alone.
		candidates = make([]check.Subject, 0, len(prior))
		for _, entry := range prior {
			candidates = append(candidates, entry.Subject)
		}
		logger.Info("retry run, pending set built from failure ledger", zap.Int("entries", len(candidates)))
	} else {
		candidates, err = s.discoverer.Discover(ctx, s.cfg.Region, s.cfg.MaxSubjects)
		if err != nil {
			if !errors.Is(err, check.ErrDiscoveryUnavailable) {
				err = fmt.Errorf("%w: %w", check.ErrDiscoveryUnavailable, err)
			}
			return nil, nil, err
		}
		logger.Info("discovered subjects", zap.Int("count", len(candidates)), zap.String("region", s.cfg.Region.String()))
	}
	summary.Discovered = len(candidates)

	seen := make(map[string]struct{}, len(candidates))
	pending := make([]check.Subject, 0, len(candidates))
	for _, subject := range candidates {
		if _, dup := seen[subject.Key]; dup {
			continue
		}
		seen[subject.Key] = struct{}{}
		if _, ok := done[subject.Key]; ok {
			summary.Skipped++
			continue
		}
		pending = append(pending, subject)
	}
	return pending, prior, nil
}

func (s *Scheduler) handleOutcome(
	ctx context.Context,
	logger *zap.Logger,
	outcome worker.Outcome,
	prior map[string]check.FailureEntry,
	failures map[string]check.FailureEntry,
	summary *Summary,
) {
	if outcome.Err == nil {
		elapsed := time.Duration(outcome.Record.ElapsedMs) * time.Millisecond
		metrics.ObserveCheck(string(outcome.Record.Status), elapsed)
		if err := s.results.Append(ctx, outcome.Record); err != nil {
			// A single dropped write must not sink the batch; it is
			// surfaced as a distinct count in the summary.
			summary.Unpersisted++
			metrics.ObservePersistenceError()
			logger.Error("result append failed",
				zap.String("subject", outcome.Subject.Key),
				zap.Error(err),
			)
		} else {
			summary.Succeeded++
		}
		if err := s.ledger.Clear(ctx, outcome.Subject.Key); err != nil {
			logger.Warn("failure ledger clear failed",
				zap.String("subject", outcome.Subject.Key),
				zap.Error(err),
			)
		}
		s.publishResult(ctx, logger, summary.RunID, outcome.Record)
		logger.Info("subject checked",
			zap.String("subject", outcome.Subject.Key),
			zap.String("status", string(outcome.Record.Status)),
			zap.Int64("elapsed_ms", outcome.Record.ElapsedMs),
		)
		return
	}

	summary.Failed++
	metrics.ObserveCheck("failed", 0)

	kind := check.KindOf(outcome.Err)
	attempts := 1
	var ce *check.CheckError
	if errors.As(outcome.Err, &ce) {
		attempts = ce.Attempts
	}
	now := s.clock.Now()
	entry := check.FailureEntry{
		Subject:       outcome.Subject,
		Kind:          kind,
		Attempts:      attempts,
		FirstFailedAt: now,
		LastFailedAt:  now,
	}
	if old, ok := prior[outcome.Subject.Key]; ok {
		entry.FirstFailedAt = old.FirstFailedAt
	}
	failures[outcome.Subject.Key] = entry
	logger.Warn("subject failed",
		zap.String("subject", outcome.Subject.Key),
		zap.String("kind", string(kind)),
		zap.Int("attempts", attempts),
	)
}

func (s *Scheduler) publishResult(ctx context.Context, logger *zap.Logger, runID string, record check.EvaluationRecord) {
	if s.publisher == nil || s.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"run_id":     runID,
		"address":    record.Subject.Address,
		"lat":        record.Subject.Lat,
		"lon":        record.Subject.Lon,
		"status":     record.Status,
		"checked_at": record.CheckedAt.Format(time.RFC3339),
		"elapsed_ms": record.ElapsedMs,
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.Topic, payload); err != nil {
		logger.Warn("publish check event failed", zap.Error(err))
	}
}

// finish records the run's failures, flushes the ledger and logs the summary.
func (s *Scheduler) finish(
	ctx context.Context,
	logger *zap.Logger,
	failures map[string]check.FailureEntry,
	summary *Summary,
) {
	byKind := make(map[check.ErrorKind]int)
	for _, entry := range failures {
		byKind[entry.Kind]++
		summary.Failures = append(summary.Failures, entry)
		if err := s.ledger.Record(ctx, entry); err != nil {
			summary.Unpersisted++
			metrics.ObservePersistenceError()
			logger.Error("failure ledger record failed",
				zap.String("subject", entry.Subject.Key),
				zap.Error(err),
			)
		}
	}
	if err := s.ledger.Flush(ctx); err != nil {
		summary.Unpersisted++
		metrics.ObservePersistenceError()
		logger.Error("failure ledger flush failed", zap.Error(err))
	}

	fields := []zap.Field{
		zap.Int("discovered", summary.Discovered),
		zap.Int("skipped", summary.Skipped),
		zap.Int("pending", summary.Pending),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("unpersisted", summary.Unpersisted),
		zap.Bool("aborted", summary.Aborted),
	}
	for kind, n := range byKind {
		fields = append(fields, zap.Int("failed_"+string(kind), n))
	}
	logger.Info("run finished", fields...)
}
