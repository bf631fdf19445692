package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/payrecon/api/controllers"
	"github.com/angelmondragon/payrecon/api/routes"
	"github.com/angelmondragon/payrecon/internal/gateway"
	"github.com/angelmondragon/payrecon/internal/ledger"
	"github.com/angelmondragon/payrecon/internal/locks"
	"github.com/angelmondragon/payrecon/internal/orders"
	"github.com/angelmondragon/payrecon/internal/payments"
	"github.com/angelmondragon/payrecon/internal/polling"
	"github.com/angelmondragon/payrecon/internal/reconciliation"
	"github.com/angelmondragon/payrecon/internal/review"
	gatewaywebhook "github.com/angelmondragon/payrecon/internal/webhooks/gateway"
	"github.com/angelmondragon/payrecon/pkg/config"
	"github.com/angelmondragon/payrecon/pkg/db"
	"github.com/angelmondragon/payrecon/pkg/instance"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/metrics"
	"github.com/angelmondragon/payrecon/pkg/migrate"
	"github.com/angelmondragon/payrecon/pkg/outbox"
	"github.com/angelmondragon/payrecon/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	app, err := wire(cfg, logg, dbClient, redisClient, prometheus.DefaultRegisterer)
	if err != nil {
		logg.Error(context.Background(), "failed to wire payment engine", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	handler := routes.NewRouter(routes.Params{
		Logger:         logg,
		Payments:       app.payments,
		GatewayWebhook: app.webhook,
		Readiness: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		Gatherer:    prometheus.DefaultGatherer,
		HTTPMetrics: metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
	})
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"instance":    instance.GetID(),
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting api server")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.scheduler.Run(gctx)
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "api server shutting down gracefully")
}

type engine struct {
	payments  *payments.Service
	webhook   *gatewaywebhook.Service
	scheduler *polling.Scheduler
}

func wire(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, reg prometheus.Registerer) (*engine, error) {
	conn := dbClient.DB()
	ledgerRepo := ledger.NewRepository(conn)
	auditRepo := ledger.NewAuditRepository(conn)
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)
	reconMetrics := metrics.NewReconciliationMetrics(reg)

	gw, err := gateway.NewClient(gateway.ClientParams{
		Config:  cfg.Gateway,
		Logger:  logg,
		Metrics: metrics.NewGatewayMetrics(reg),
	})
	if err != nil {
		return nil, err
	}

	locker, err := locks.FromConfig(cfg.FeatureFlags, redisClient)
	if err != nil {
		return nil, err
	}

	ledgers, err := ledger.NewService(ledger.ServiceParams{Repo: ledgerRepo, Tx: dbClient})
	if err != nil {
		return nil, err
	}
	manager, err := orders.NewManager(orders.ManagerParams{
		Repo:   orders.NewRepository(conn),
		Outbox: outboxSvc,
		Logger: logg,
	})
	if err != nil {
		return nil, err
	}
	reviews, err := review.NewService(review.ServiceParams{
		Tx:      dbClient,
		Ledgers: ledgerRepo,
		Outbox:  outboxSvc,
		Metrics: reconMetrics,
		Logger:  logg,
	})
	if err != nil {
		return nil, err
	}

	core, err := reconciliation.NewCore(reconciliation.CoreParams{
		Tx:      dbClient,
		Ledgers: ledgerRepo,
		Orders:  manager,
		Review:  reviews,
		Locker:  locker,
		Metrics: reconMetrics,
		Logger:  logg,
	})
	if err != nil {
		return nil, err
	}

	scheduler, err := polling.NewScheduler(polling.SchedulerParams{
		Config:    cfg.Polling,
		Gateway:   gw,
		Core:      core,
		Escalator: reviews,
		Ledgers:   ledgerRepo,
		Logger:    logg,
		Metrics:   metrics.NewPollingMetrics(reg),
	})
	if err != nil {
		return nil, err
	}
	core.Subscribe(scheduler.OnTerminal)

	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		Orders:      manager,
		Ledgers:     ledgers,
		Gateway:     gw,
		Core:        core,
		Scheduler:   scheduler,
		Limiter:     redisClient,
		StatusCheck: cfg.StatusCheck,
		Polling:     cfg.Polling,
		Logger:      logg,
	})
	if err != nil {
		return nil, err
	}

	webhook, err := gatewaywebhook.NewService(gatewaywebhook.ServiceParams{
		Parser:  gw,
		Ledgers: ledgerRepo,
		Audits:  auditRepo,
		Core:    core,
		Logger:  logg,
	})
	if err != nil {
		return nil, err
	}

	return &engine{payments: paymentsSvc, webhook: webhook, scheduler: scheduler}, nil
}
