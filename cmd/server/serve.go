package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reelhub/publish-queue/internal/api"
	"github.com/reelhub/publish-queue/internal/artifact"
	"github.com/reelhub/publish-queue/internal/config"
	"github.com/reelhub/publish-queue/internal/db"
	"github.com/reelhub/publish-queue/internal/metrics"
	"github.com/reelhub/publish-queue/internal/optimal"
	"github.com/reelhub/publish-queue/internal/publisher"
	"github.com/reelhub/publish-queue/internal/ratelimiter"
	"github.com/reelhub/publish-queue/internal/repository"
	"github.com/reelhub/publish-queue/internal/retry"
	"github.com/reelhub/publish-queue/internal/service"
	"github.com/reelhub/publish-queue/internal/worker"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the publishing scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		return err
	}

	// ---- queue store ----
	var (
		store repository.QueueStore
		ping  func(context.Context) error
	)
	switch cfg.QueueStore {
	case "memory":
		logger.Warn("using in-memory queue store; items are lost on restart")
		store = repository.NewMemoryQueueStore()
	default:
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			logger.Error("failed to connect to database", zap.Error(err))
			return err
		}
		defer pool.Close()

		if err := db.Migrate(pool); err != nil {
			logger.Error("failed to run migrations", zap.Error(err))
			return err
		}
		logger.Info("database migrations applied")
		store = repository.NewPgQueueStore(pool)
		ping = pool.Ping
	}

	// ---- rate limiter ----
	var limiter worker.Limiter
	switch cfg.RateLimitBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("failed to reach redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			return err
		}
		limiter = ratelimiter.NewRedis(rdb, cfg.RedisKeyPrefix, cfg.DefaultLimits(), cfg.PlatformLimits())
	default:
		limiter = ratelimiter.New(cfg.DefaultLimits(), cfg.PlatformLimits())
	}

	// ---- artifacts ----
	var locator artifact.Locator
	switch cfg.ArtifactBackend {
	case "s3":
		client, err := artifact.NewS3Client(ctx, cfg.S3Endpoint)
		if err != nil {
			logger.Error("failed to create s3 client", zap.Error(err))
			return err
		}
		locator = artifact.NewS3Locator(client, cfg.ArtifactBucket, cfg.ArtifactPrefix)
	default:
		locator = artifact.NewDirLocator(cfg.ArtifactDir)
	}

	// ---- publishers ----
	publishers := publisher.NewRegistry()
	for p, pc := range cfg.Platforms {
		publishers.Register(p, publisher.NewWebhookPublisher(p, pc.Endpoint, pc.Timeout))
		logger.Info("publisher registered", zap.String("platform", string(p)), zap.String("endpoint", pc.Endpoint))
	}

	calc, err := optimal.New(cfg.OptimalRules())
	if err != nil {
		logger.Error("invalid optimal-time rules", zap.Error(err))
		return err
	}

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := service.NewPublishingService(store, publishers, calc, cfg.DefaultMaxRetries, logger)
	sched := worker.NewScheduler(store, limiter, publishers, locator,
		retry.Policy{Base: cfg.RetryBaseDelay}, cfg.TickInterval, logger, m.SchedulerHooks())

	// ---- background loops ----
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	loops := worker.NewPool(
		sched,
		worker.NewDepthReporter(sched, cfg.TickInterval, logger, m.ObserveStatus),
	)
	loops.Start(workerCtx)

	// ---- HTTP server ----
	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.Deps{
			Service:   svc,
			Scheduler: sched,
			Gatherer:  reg,
			Ping:      ping,
			Platforms: publishers.Platforms,
			Logger:    logger,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		logger.Error("server error", zap.Error(err))
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop ticking. A publish already in flight runs on a context detached
	// from workerCtx and is given until the shutdown deadline to finish.
	cancelWorkers()
	if err := loops.WaitContext(shutdownCtx); err != nil {
		logger.Warn("in-flight publish did not finish before shutdown deadline; it will be reset to pending on next start",
			zap.Error(err))
	}

	logger.Info("server stopped cleanly")
	return runErr
}
