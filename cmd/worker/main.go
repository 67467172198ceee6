package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"notification-gateway/internal/app"
	gwconfig "notification-gateway/internal/config"
	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/handler/http/respond"
	"notification-gateway/internal/infra/connector"
	"notification-gateway/internal/infra/db"
	workerPkg "notification-gateway/internal/infra/worker"
	"notification-gateway/internal/observability/logging"
	"notification-gateway/internal/observability/tracing"
	"notification-gateway/internal/pkg/config"
	"notification-gateway/internal/resilience/circuitbreaker"
	"notification-gateway/internal/usecase/reconcile"
	envconfig "notification-gateway/pkg/config"
)

// drainTimeout bounds the wait for fallback deliveries queued by the last sweep.
const drainTimeout = 30 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: failed to read .env: %v\n", err)
	}
	logger := initLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing := initTracing(ctx, logger)

	// Load worker configuration (fail-open strategy)
	workerMetrics := workerPkg.NewWorkerMetrics()
	workerConfig := workerPkg.LoadConfigFromEnv(logger, workerMetrics)
	logger.Info("worker configuration loaded",
		slog.String("schedule", workerConfig.Schedule),
		slog.String("timezone", workerConfig.Timezone),
		slog.Duration("queued_timeout", workerConfig.Timeouts.Queued),
		slog.Duration("sent_timeout", workerConfig.Timeouts.Sent),
		slog.Duration("delivered_timeout", workerConfig.Timeouts.Delivered),
		slog.Duration("run_timeout", workerConfig.RunTimeout),
		slog.Int("health_port", workerConfig.HealthPort))

	gatewayConfig, err := gwconfig.LoadGatewayConfig(gwconfig.ConfigPath())
	if err != nil {
		logger.Error("failed to load gateway configuration", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := app.OpenStore(ctx, logger)
	if err != nil {
		logger.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()
	if store.Driver == db.DriverMemory {
		logger.Warn("in-memory store is private to this process; the sweep will not see api deliveries")
	}

	publisher, err := app.NewPublisher(logger)
	if err != nil {
		logger.Error("failed to create event publisher", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = publisher.Close() }()

	creds, err := connector.LoadCredentials()
	if err != nil {
		logger.Error("failed to load provider credentials", slog.Any("error", err))
		os.Exit(1)
	}

	breakers := circuitbreaker.NewRegistry()
	gateway, err := app.Build(app.Options{
		Config:      gatewayConfig,
		Credentials: creds,
		Breakers:    breakers,
		Store:       store.Repos,
		Publisher:   publisher,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to build dispatch engines", slog.Any("error", err))
		os.Exit(1)
	}

	sweep := reconcile.NewSweep(gateway.Tracker, gateway.Router, workerConfig.Timeouts, logger)

	startMetricsServer(ctx, logger, workerConfig.MetricsPort, breakers)

	healthAddr := fmt.Sprintf(":%d", workerConfig.HealthPort)
	healthServer := workerPkg.NewHealthServer(healthAddr, logger)
	go func() {
		if err := healthServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()
	logger.Info("health check server started", slog.String("addr", healthAddr))

	c := startCronWorker(logger, sweep, workerConfig, workerMetrics, healthServer)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down worker...")
	healthServer.SetReady(false)

	// 実行中のスイープを待つ
	<-c.Stop().Done()
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if err := gateway.Shutdown(drainCtx); err != nil {
		logger.Error("fallback deliveries did not drain", slog.Any("error", err))
	}
	if err := shutdownTracing(drainCtx); err != nil {
		logger.Error("failed to flush traces", slog.Any("error", err))
	}
	logger.Info("worker stopped")
}

// initLogger initializes and returns a structured logger based on environment configuration.
func initLogger() *slog.Logger {
	logger := logging.NewLogger()
	slog.SetDefault(logger)
	return logger
}

// initTracing installs the tracer provider so fallback sends are traced
// like the api's. Spans leave the process only with an OTLP endpoint.
func initTracing(ctx context.Context, logger *slog.Logger) func(context.Context) error {
	exporter, err := tracing.NewOTLPExporter(ctx, os.Getenv(tracing.EnvOTLPEndpoint))
	if err != nil {
		logger.Warn("span export disabled", slog.Any("error", err))
	}
	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Component:   "worker",
		Version:     envconfig.GetEnvString("VERSION", "dev"),
		SampleRatio: envconfig.GetEnvFloat("TRACE_SAMPLE_RATIO", 1),
		Exporter:    exporter,
	})
	if err != nil {
		logger.Error("failed to set up tracing", slog.Any("error", err))
		os.Exit(1)
	}
	return shutdown
}

// runner is the part of the sweep the cron job needs.
type runner interface {
	Run(ctx context.Context) (reconcile.Stats, error)
}

// startCronWorker schedules the sweep. Overlapping runs are skipped.
func startCronWorker(
	logger *slog.Logger,
	sweep runner,
	cfg *workerPkg.WorkerConfig,
	metrics *workerPkg.WorkerMetrics,
	healthServer *workerPkg.HealthServer,
) *cron.Cron {
	c := cron.New(
		cron.WithParser(config.CronParser()),
		cron.WithLocation(cfg.Location()),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	_, err := c.AddFunc(cfg.Schedule, func() {
		runReconcileJob(logger, sweep, cfg, metrics, healthServer)
	})
	if err != nil {
		logger.Error("failed to add cron job", slog.Any("error", err))
		os.Exit(1)
	}
	c.Start()

	// Mark as ready after cron is set up
	healthServer.SetReady(true)
	logger.Info("worker marked as ready")

	logger.Info("worker started", slog.String("schedule", cfg.Schedule), slog.String("timezone", cfg.Timezone))
	return c
}

// runReconcileJob executes a single sweep with timeout and error handling.
func runReconcileJob(
	logger *slog.Logger,
	sweep runner,
	cfg *workerPkg.WorkerConfig,
	metrics *workerPkg.WorkerMetrics,
	healthServer *workerPkg.HealthServer,
) {
	startTime := time.Now()
	logger.Info("reconciliation started")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RunTimeout)
	defer cancel()

	stats, err := sweep.Run(ctx)
	metrics.RecordRun(time.Since(startTime).Seconds(), stats.Total(), stats.Fallbacks, err)
	healthServer.RecordRun(startTime, err)
	if err != nil {
		// 機密情報をマスクしてログ出力
		logger.Error("reconciliation failed", slog.Any("error", respond.SanitizeError(err)))
		return
	}

	logger.Info("reconciliation completed",
		slog.Int("stuck_queued", stats.Stuck[entity.StuckQueued]),
		slog.Int("stuck_sent", stats.Stuck[entity.StuckSent]),
		slog.Int("stuck_delivered", stats.Stuck[entity.StuckDelivered]),
		slog.Int("fallbacks", stats.Fallbacks),
		slog.Int("errors", stats.Errors),
		slog.Duration("duration", stats.Duration),
	)
}
