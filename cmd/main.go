package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/okian/skillstats/internal/adapters/http/api"
	"github.com/okian/skillstats/internal/adapters/http/swagger"
	"github.com/okian/skillstats/internal/adapters/lock"
	"github.com/okian/skillstats/internal/adapters/repository"
	service "github.com/okian/skillstats/internal/app"
	"github.com/okian/skillstats/internal/config"
	"github.com/okian/skillstats/pkg/logger"
	"github.com/okian/skillstats/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Defaults -> optional file -> env.
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	metricsOpts, err := metricsOptions(cfg)
	if err != nil {
		return err
	}
	metrics.Init(metricsOpts...)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	opts := serviceOptions(cfg, log)
	opts = append(opts, service.WithStore(store))

	if cfg.RedisURL != "" {
		client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			_ = store.Close()
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer func() { _ = client.Close() }()
		opts = append(opts, service.WithLocker(newRedisLocker(client, cfg, log)))
	}

	svc := service.New(opts...)
	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr), logger.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return nil
}

// openStore connects the configured persistence driver and prepares its
// schema or indexes.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		s, err := repository.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to prepare postgres schema: %w", err)
		}
		return s, nil
	case config.StoreMongo:
		s, err := repository.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to open mongo store: %w", err)
		}
		if err := s.EnsureIndexes(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to prepare mongo indexes: %w", err)
		}
		return s, nil
	case config.StoreMemory:
		return repository.NewMemoryStore(ctx), nil
	}
	return nil, fmt.Errorf("%w: unknown store %q", config.ErrInvalidConfig, cfg.Store)
}

func metricsOptions(cfg *config.Config) ([]metrics.Option, error) {
	labels, err := cfg.MetricsLabels()
	if err != nil {
		return nil, err
	}
	buckets, err := cfg.MetricsBuckets()
	if err != nil {
		return nil, err
	}
	return []metrics.Option{
		metrics.WithNamespace(cfg.MetricsNamespace),
		metrics.WithSubsystem(cfg.MetricsSubsystem),
		metrics.WithConstLabels(labels),
		metrics.WithHistogramBuckets(buckets),
	}, nil
}

func serviceOptions(cfg *config.Config, log logger.Logger) []service.Option {
	return []service.Option{
		service.WithLogger(log),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.TaskQueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithBatchSize(cfg.BatchSize),
		service.WithGroupConcurrency(cfg.GroupConcurrency),
		service.WithSchedules(cfg.ProcessSchedule, cfg.PublishSchedule),
		service.WithTrendingLimit(cfg.TrendingLimit),
		service.WithRetention(cfg.KeepSnapshots, cfg.PruneCushion),
		service.WithTrendingCacheTTL(cfg.TrendingCacheTTL()),
	}
}

func newRedisLocker(client *redis.Client, cfg *config.Config, log logger.Logger) *lock.RedisLocker {
	return lock.NewRedisLocker(client,
		lock.WithTTL(cfg.LockTTL()),
		lock.WithLogger(log.Named("lock")),
	)
}

func newMux(ctx context.Context, svc *service.Service) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc).Register(ctx, mux)
	return mux
}

func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics refreshes gauges GetStats does not touch itself.
func updateServiceMetrics(svc *service.Service) {
	stats := svc.GetStats()
	if workerCount, ok := stats["workerCount"].(int); ok {
		metrics.UpdateWorkerCount(workerCount)
	}
}
