// Package main wires together the bulk availability checker binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ozgrid/bulkcheck/internal/api"
	"github.com/ozgrid/bulkcheck/internal/check"
	"github.com/ozgrid/bulkcheck/internal/clock/system"
	"github.com/ozgrid/bulkcheck/internal/config"
	"github.com/ozgrid/bulkcheck/internal/discovery/overpass"
	"github.com/ozgrid/bulkcheck/internal/logging"
	chromedplookup "github.com/ozgrid/bulkcheck/internal/lookup/chromedp"
	nooplookup "github.com/ozgrid/bulkcheck/internal/lookup/noop"
	"github.com/ozgrid/bulkcheck/internal/metrics"
	pubsubpublisher "github.com/ozgrid/bulkcheck/internal/publisher/pubsub"
	"github.com/ozgrid/bulkcheck/internal/scheduler"
	"github.com/ozgrid/bulkcheck/internal/store/csvfile"
	"github.com/ozgrid/bulkcheck/internal/store/jsonfile"
	"github.com/ozgrid/bulkcheck/internal/store/memory"
	"github.com/ozgrid/bulkcheck/internal/store/postgres"
	"github.com/ozgrid/bulkcheck/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	workers := flag.Int("workers", 0, "Override worker count")
	limit := flag.Int("limit", 0, "Override max subjects to discover")
	batchSize := flag.Int("batch-size", 0, "Override batch size")
	dryRun := flag.Bool("dry-run", false, "Report the pending set without checking anything")
	retryFailed := flag.Bool("retry-failed", false, "Only retry subjects from the failure ledger")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *workers > 0 {
		cfg.Run.WorkerCount = *workers
	}
	if *limit > 0 {
		cfg.Run.MaxSubjects = *limit
	}
	if *batchSize > 0 {
		cfg.Run.BatchSize = *batchSize
	}
	if *dryRun {
		cfg.Run.Mode = string(scheduler.ModeDryRun)
	}
	if *retryFailed {
		cfg.Run.Mode = string(scheduler.ModeRetryFailed)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("run failed", zap.Error(err))
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	results, ledger, cleanup, err := buildStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer cleanup()

	lookup, closeLookup, err := buildLookup(cfg, logger)
	if err != nil {
		return fmt.Errorf("init lookup: %w", err)
	}
	defer closeLookup()

	clock := system.New()
	method := "bulk"
	if cfg.Run.Mode == string(scheduler.ModeRetryFailed) {
		method = "retry"
	}
	executor := check.NewExecutor(lookup, clock, check.ExecutorConfig{
		MaxAttempts: cfg.Run.MaxAttempts,
		BackoffBase: cfg.RetryBackoffBase(),
		Method:      method,
	}, logger.Named("executor"))
	pool := worker.New(executor, logger.Named("worker"))

	discoverer := overpass.New(overpass.Config{
		Endpoint:    cfg.Discovery.Endpoint,
		UserAgent:   cfg.Discovery.UserAgent,
		Timeout:     cfg.DiscoveryTimeout(),
		StateSuffix: cfg.Discovery.StateSuffix,
	}, logger.Named("discovery"))

	var publisher check.Publisher
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.Topic != "" {
		p, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub: %w", err)
		}
		defer func() {
			_ = p.Close()
		}()
		publisher = p
	}

	if cfg.Server.Enabled {
		ops := api.New(cfg.Server.Port, logger.Named("ops"))
		go ops.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ops.Shutdown(shutdownCtx)
		}()
	}

	sched := scheduler.New(
		discoverer,
		results,
		ledger,
		pool,
		publisher,
		clock,
		scheduler.Config{
			Mode:        scheduler.Mode(cfg.Run.Mode),
			Region:      cfg.Region,
			MaxSubjects: cfg.Run.MaxSubjects,
			BatchSize:   cfg.Run.BatchSize,
			Concurrency: cfg.Run.WorkerCount,
			Cooldown:    cfg.InterBatchDelay(),
			Topic:       cfg.PubSub.Topic,
		},
		logger.Named("scheduler"),
	)

	summary, err := sched.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("bulk check completed",
		zap.String("run_id", summary.RunID),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("unpersisted", summary.Unpersisted),
		zap.Bool("aborted", summary.Aborted),
	)
	if summary.Failed > 0 {
		logger.Info("failed subjects saved for retry; rerun with -retry-failed")
	}
	return nil
}

func buildStores(ctx context.Context, cfg config.Config) (check.ResultStore, check.FailureLedger, func(), error) {
	switch cfg.Storage.Provider {
	case "csv":
		results, err := csvfile.New(cfg.Storage.ResultsPath)
		if err != nil {
			return nil, nil, nil, err
		}
		ledger, err := jsonfile.New(cfg.Storage.FailuresPath)
		if err != nil {
			return nil, nil, nil, err
		}
		return results, ledger, func() {}, nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		results, err := postgres.NewResultStore(pool, cfg.DB.ResultsTable)
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		ledger, err := postgres.NewLedger(pool, cfg.DB.FailuresTable)
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return results, ledger, pool.Close, nil
	case "memory":
		return memory.NewResultStore(), memory.NewLedger(), func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage provider: %s", cfg.Storage.Provider)
	}
}

func buildLookup(cfg config.Config, logger *zap.Logger) (check.Lookup, func(), error) {
	switch cfg.Lookup.Provider {
	case "chromedp":
		checker, err := chromedplookup.New(chromedplookup.Config{
			ServiceURL:      cfg.Lookup.ServiceURL,
			AvailablePhrase: cfg.Lookup.AvailablePhrase,
			UserAgent:       cfg.Lookup.UserAgent,
			NavTimeout:      cfg.LookupWait(),
			MaxParallel:     cfg.Lookup.MaxParallel,
			QPS:             cfg.Lookup.QPS,
		}, logger.Named("lookup"))
		if err != nil {
			return nil, nil, err
		}
		return checker, checker.Close, nil
	case "noop":
		return nooplookup.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown lookup provider: %s", cfg.Lookup.Provider)
	}
}
