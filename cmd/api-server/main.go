package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api-server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("storage", cfg.Storage),
		zap.String("timezone", cfg.Location.String()),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repo   scheduling.Repository
		checks []api.HealthCheck
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 30*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.MigrateOnStart, logger)
		cancelPg()
		if err != nil {
			return fmt.Errorf("postgres connection: %w", err)
		}
		defer pool.Close()

		repo = scheduling.NewPgRepository(pool)
		checks = append(checks, api.HealthCheck{Name: "postgres", Critical: true, Ping: pool.Ping})
	default:
		logger.Warn("using in-memory storage, data is lost on restart")
		repo = scheduling.NewMemoryRepository()
	}

	var (
		locker    = redisclient.NewLocalSlotLocker()
		publisher events.Publisher
	)
	if cfg.RedisEnabled {
		rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.ClientConfig{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		}, logger)
		if err != nil {
			return fmt.Errorf("redis connection: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("close redis", zap.Error(err))
			}
		}()
		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
		publisher = redisclient.NewStreamPublisher(rdb, cfg.EventsStream)
		checks = append(checks, api.HealthCheck{Name: "redis", Ping: redisPing(rdb)})
	} else {
		logger.Warn("redis disabled, using in-process slot locks and no booking events")
	}

	svc := scheduling.NewService(repo, locker, publisher, cfg, logger)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service:        svc,
			HealthChecks:   checks,
			Env:            cfg.Env,
			Version:        version,
			Logger:         logger,
			RequestTimeout: cfg.RequestTimeout,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-rootCtx.Done():
	}

	logger.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func redisPing(rdb *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
