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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

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
		logger.Fatal("notify-worker stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if !cfg.RedisEnabled {
		return errors.New("notify-worker needs Redis, set REDIS_ENABLED=true")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.ClientConfig{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: 4,
	}, logger)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("close redis", zap.Error(err))
		}
	}()

	name := consumerName()
	logger.Info("notify-worker starting up",
		zap.String("env", cfg.Env),
		zap.String("stream", cfg.EventsStream),
		zap.String("group", cfg.NotifyGroup),
		zap.String("consumer", name),
		zap.Bool("smtp", cfg.SMTP.Enabled()),
	)

	consumer := redisclient.NewStreamConsumer(rdb, cfg.EventsStream, cfg.NotifyGroup, name, logger)
	dispatcher := notify.NewDispatcher(notify.NewSender(cfg.SMTP, logger), cfg.Location, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		return dispatcher.Run(ctx, consumer)
	})
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("shutting down notify-worker")
	return err
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "notify"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
