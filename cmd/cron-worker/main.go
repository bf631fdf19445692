package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/payrecon/internal/cron"
	"github.com/angelmondragon/payrecon/internal/ledger"
	"github.com/angelmondragon/payrecon/internal/review"
	"github.com/angelmondragon/payrecon/pkg/config"
	"github.com/angelmondragon/payrecon/pkg/db"
	"github.com/angelmondragon/payrecon/pkg/instance"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/metrics"
	"github.com/angelmondragon/payrecon/pkg/migrate"
	"github.com/angelmondragon/payrecon/pkg/outbox"
	"github.com/angelmondragon/payrecon/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker", cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"instance":    instance.GetID(),
		"serviceKind": cfg.Service.Kind,
		"jobs":        len(registry.Jobs()),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	conn := dbClient.DB()
	ledgerRepo := ledger.NewRepository(conn)
	outboxRepo := outbox.NewRepository(conn)

	reviews, err := review.NewService(review.ServiceParams{
		Tx:      dbClient,
		Ledgers: ledgerRepo,
		Outbox:  outbox.NewService(outboxRepo, logg),
		Metrics: metrics.NewReconciliationMetrics(prometheus.DefaultRegisterer),
		Logger:  logg,
	})
	if err != nil {
		return nil, err
	}

	stale, err := cron.NewStaleLedgerJob(cron.StaleLedgerJobParams{
		Logger:    logg,
		Ledgers:   ledgerRepo,
		Escalator: reviews,
		Window:    cfg.Polling.Window,
		Grace:     cfg.Cron.StaleLedgerGrace,
		Batch:     cfg.Cron.StaleLedgerBatch,
	})
	if err != nil {
		return nil, err
	}
	audits, err := cron.NewAuditRetentionJob(cron.AuditRetentionJobParams{
		Logger:     logg,
		Repository: ledger.NewAuditRepository(conn),
		Retention:  cfg.Cron.AuditRetentionDays,
	})
	if err != nil {
		return nil, err
	}
	published, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.RetentionDays,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	for _, job := range []cron.Job{stale, audits, published} {
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
