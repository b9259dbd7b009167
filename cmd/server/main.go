package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ricirt/print-queue/internal/api"
	"github.com/ricirt/print-queue/internal/batch"
	"github.com/ricirt/print-queue/internal/cache"
	"github.com/ricirt/print-queue/internal/config"
	"github.com/ricirt/print-queue/internal/db"
	"github.com/ricirt/print-queue/internal/metrics"
	"github.com/ricirt/print-queue/internal/ratelimiter"
	"github.com/ricirt/print-queue/internal/repository"
	"github.com/ricirt/print-queue/internal/service"
	"github.com/ricirt/print-queue/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ---- queue store ----
	store, closeStore, err := openStore(ctx, cfg, m, logger)
	if err != nil {
		logger.Fatal("failed to open queue store", zap.Error(err))
	}
	defer closeStore()

	// ---- cache port ----
	c, closeCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open cache", zap.Error(err))
	}
	defer closeCache()

	// ---- core dependencies ----
	batches := batch.NewManager(store, cfg.BatchSize, logger)
	svc := service.NewQueueService(store, batches, c, logger, service.Options{
		BatchTTL:    cfg.CacheBatchTTL,
		ReadTTL:     cfg.CacheReadTTL,
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		Hooks:       m.ServiceHooks(),
	})
	limiter := ratelimiter.New(cfg.RateLimitPerActor, cfg.RateLimitBurst)

	// ---- HTTP server ----
	router := api.NewRouter(svc, limiter, m.RateLimitRejects.Inc, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	sampler := worker.NewDepthSampler(store, cfg.DepthSampleInterval, func(depth int) {
		m.QueueDepth.Set(float64(depth))
	}, logger)
	g.Go(func() error {
		sampler.Run(gctx)
		return nil
	})

	// ---- graceful shutdown ----
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		// Stop accepting new HTTP requests and let in-flight ones finish.
		// The sampler stops on the same context.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "http server shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped cleanly")
}

// openStore selects the queue store backend. The Postgres store runs pending
// migrations before serving.
func openStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (repository.QueueStore, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using in-memory queue store; entries are lost on restart")
		return repository.NewMemoryQueueStore(), func() {}, nil
	}

	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect to database")
	}
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		pool.Close()
		return nil, nil, errors.Wrap(err, "run migrations")
	}
	logger.Info("database migrations applied")

	store := repository.NewPgQueueStore(pool, cfg.StoreTimeout).WithObserver(m.ObserveStore)
	return store, pool.Close, nil
}

// openCache selects the cache port implementation. A cache is an
// optimisation only; "none" runs every read against the store.
func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Cache, func(), error) {
	switch cfg.CacheDriver {
	case config.CacheDriverRedis:
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect to redis")
		}
		logger.Info("using redis cache", zap.String("key_space", cfg.CacheKeySpace))
		return cache.NewRedis(client, cfg.CacheKeySpace), func() { _ = client.Close() }, nil
	case config.CacheDriverMemory:
		logger.Info("using in-process cache", zap.Int("size", cfg.CacheSize))
		return cache.NewMemory(cfg.CacheSize, max(cfg.CacheBatchTTL, cfg.CacheReadTTL)), func() {}, nil
	default:
		logger.Info("cache disabled")
		return cache.Noop{}, func() {}, nil
	}
}
