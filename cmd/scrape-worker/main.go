package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ojscraper/internal/common/cache"
	"ojscraper/internal/scraper/batch"
	"ojscraper/internal/scraper/coordinator"
	"ojscraper/internal/scraper/source"
	"ojscraper/internal/scraper/stats"
	"ojscraper/internal/scraper/status"
	"ojscraper/internal/scraper/transport"
	"ojscraper/internal/scraper/worker"
	"ojscraper/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	appCfg, err := loadAppConfig(os.Getenv(configPathEnv), os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "scrape worker exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	workerID := uuid.NewString()
	counters := &stats.Counters{}

	coord, err := buildCoordinator(appCfg.Coordinator, counters)
	if err != nil {
		return err
	}

	fetcher, err := source.NewFetcher(source.Config{
		URLTemplate: appCfg.Source.URLTemplate,
		Timeout:     appCfg.Source.Timeout,
		UserAgent:   appCfg.Source.UserAgent,
	})
	if err != nil {
		return err
	}

	processor, err := batch.NewProcessor(fetcher, appCfg.Worker.PoolSize)
	if err != nil {
		return err
	}

	reporterCfg := stats.ReporterConfig{
		KeyPrefix: appCfg.Redis.Key,
		WorkerID:  workerID,
		Timeout:   appCfg.Redis.Timeout,
		TTL:       appCfg.Redis.TTL,
	}
	if appCfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis.RedisConfig)
		if err != nil {
			// The mirror is optional; run without it.
			logger.Warn(context.Background(), "init redis failed, stats mirror disabled", zap.Error(err))
		} else {
			defer func() { _ = redisCache.Close() }()
			reporterCfg.Store = redisCache
		}
	}
	reporter := stats.NewReporter(counters, reporterCfg)

	loop, err := worker.NewLoop(worker.Config{
		WorkerID:      workerID,
		IdleBackoff:   appCfg.Coordinator.IdleBackoff,
		ShutdownGrace: appCfg.Worker.ShutdownGrace,
	}, coord, processor, counters, worker.WithReporter(reporter))
	if err != nil {
		return err
	}

	if appCfg.Status.Addr != "" {
		statusServer := status.New(appCfg.Status, counters, loop)
		if _, err := statusServer.Start(); err != nil {
			return fmt.Errorf("start status server failed: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := statusServer.Shutdown(ctx); err != nil {
				logger.Error(context.Background(), "status server shutdown failed", zap.Error(err))
			}
		}()
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(context.Background(), "scrape worker starting",
		zap.String("worker_id", workerID),
		zap.String("coordinator", appCfg.Coordinator.BaseURL),
		zap.String("source", appCfg.Source.URLTemplate),
		zap.Int("pool_size", processor.PoolSize()),
		zap.Bool("stats_mirror", reporterCfg.Store != nil),
	)
	if err := loop.Run(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	_ = reporter.Flush(context.Background())
	logger.Info(context.Background(), "scrape worker stopped")
	return nil
}

// buildCoordinator wires the coordinator client over a resilient transport
// whose retries are counted in counters.
func buildCoordinator(cfg CoordinatorConfig, counters *stats.Counters, opts ...transport.Option) (*coordinator.Client, error) {
	opts = append([]transport.Option{
		transport.WithRetryHook(func() { counters.TransportRetries.Add(1) }),
	}, opts...)
	httpClient := transport.New(transport.Config{
		RetryDelay:     cfg.RetryDelay,
		AttemptTimeout: cfg.AttemptTimeout,
		UserAgent:      cfg.UserAgent,
	}, opts...)
	return coordinator.New(coordinator.Config{
		BaseURL:    cfg.BaseURL,
		WorkPath:   cfg.WorkPath,
		SubmitPath: cfg.SubmitPath,
	}, httpClient)
}
