package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"notification-gateway/internal/app"
	gwconfig "notification-gateway/internal/config"
	"notification-gateway/internal/infra/connector"
	"notification-gateway/internal/observability/logging"
	"notification-gateway/internal/observability/tracing"
	"notification-gateway/internal/resilience/circuitbreaker"
	"notification-gateway/pkg/config"

	deliveryUC "notification-gateway/internal/usecase/delivery"
	dispatchUC "notification-gateway/internal/usecase/dispatch"
	webhookUC "notification-gateway/internal/usecase/webhook"

	hhttp "notification-gateway/internal/handler/http"
	hauth "notification-gateway/internal/handler/http/auth"
)

// shutdownTimeout bounds HTTP drain plus in-flight deliveries on SIGTERM.
const shutdownTimeout = 30 * time.Second

func main() {
	loadDotEnv()

	if len(os.Args) > 1 && os.Args[1] == "token" {
		os.Exit(runTokenCommand(os.Args[2:]))
	}

	logger := initLogger()
	validateJWTSecret(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	version := config.GetEnvString("VERSION", "dev")
	shutdownTracing := initTracing(ctx, logger, version)

	cfg, err := gwconfig.LoadGatewayConfig(gwconfig.ConfigPath())
	if err != nil {
		logger.Error("failed to load gateway configuration", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := app.OpenStore(ctx, logger)
	if err != nil {
		logger.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}

	publisher, err := app.NewPublisher(logger)
	if err != nil {
		logger.Error("failed to create event publisher", slog.Any("error", err))
		os.Exit(1)
	}

	creds, err := connector.LoadCredentials()
	if err != nil {
		logger.Error("failed to load provider credentials", slog.Any("error", err))
		os.Exit(1)
	}

	breakers := circuitbreaker.NewRegistry()
	gateway, err := app.Build(app.Options{
		Config:      cfg,
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

	quota := hhttp.NewCallerQuota(
		config.GetEnvInt("CALLER_QUOTA_LIMIT", 120),
		config.GetEnvDuration("CALLER_QUOTA_WINDOW", time.Minute),
	)
	go quota.StartCleanup(ctx, 5*time.Minute)

	handler := setupServer(logger, cfg, store, gateway, breakers, quota, version)
	runServer(ctx, logger, handler, version)
	cancel()

	// 受け付け済みの配信を待ってから資源を解放する
	drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer drainCancel()
	if err := gateway.Shutdown(drainCtx); err != nil {
		logger.Error("dispatch engines did not drain", slog.Any("error", err))
	}
	if err := publisher.Close(); err != nil {
		logger.Error("failed to close event publisher", slog.Any("error", err))
	}
	if err := store.Close(); err != nil {
		logger.Error("failed to close database", slog.Any("error", err))
	}
	if err := shutdownTracing(drainCtx); err != nil {
		logger.Error("failed to flush traces", slog.Any("error", err))
	}
	logger.Info("api stopped")
}

// loadDotEnv reads a local .env file when present. Real environment
// variables always win.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: failed to read .env: %v\n", err)
	}
}

// initLogger initializes and returns a structured logger based on environment configuration.
func initLogger() *slog.Logger {
	logger := logging.NewLogger()
	if os.Getenv("LOG_FORMAT") == "text" {
		logger = logging.NewTextLogger()
	}
	slog.SetDefault(logger)
	return logger
}

// validateJWTSecret validates the JWT_SECRET environment variable for security requirements.
func validateJWTSecret(logger *slog.Logger) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		logger.Error("JWT_SECRET must be set")
		os.Exit(1)
	}
	// セキュリティ: 最小32文字（256ビット）を強制
	if len(secret) < hauth.MinSecretLength {
		logger.Error("JWT_SECRET must be at least 32 characters (256 bits)")
		os.Exit(1)
	}
}

// initTracing installs the tracer provider. Spans are exported only when
// an OTLP endpoint is configured; trace ids are generated either way.
func initTracing(ctx context.Context, logger *slog.Logger, version string) func(context.Context) error {
	exporter, err := tracing.NewOTLPExporter(ctx, os.Getenv(tracing.EnvOTLPEndpoint))
	if err != nil {
		logger.Warn("span export disabled", slog.Any("error", err))
	}
	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Component:   "api",
		Version:     version,
		SampleRatio: config.GetEnvFloat("TRACE_SAMPLE_RATIO", 1),
		Exporter:    exporter,
	})
	if err != nil {
		logger.Error("failed to set up tracing", slog.Any("error", err))
		os.Exit(1)
	}
	return shutdown
}

// setupServer wires the use cases behind the HTTP router.
func setupServer(
	logger *slog.Logger,
	cfg *gwconfig.GatewayConfig,
	store *app.Store,
	gateway *app.Gateway,
	breakers *circuitbreaker.Registry,
	quota *hhttp.CallerQuota,
	version string,
) http.Handler {
	sender := dispatchUC.NewService(gateway.ChannelSettings(), store.Repos.Requests, logger)
	query := deliveryUC.NewQuery(store.Repos.Deliveries, store.Repos.Audit)

	verifyToken := os.Getenv(cfg.Webhook.VerifyTokenEnv)
	if verifyToken == "" {
		logger.Warn("webhook verification disabled: verify token not set",
			slog.String("env", cfg.Webhook.VerifyTokenEnv))
	}
	ingestor := webhookUC.NewIngestor(gateway.Tracker, store.Repos.Audit, verifyToken, logger)

	authenticator, err := hauth.NewAuthenticator(os.Getenv("JWT_SECRET"), logger)
	if err != nil {
		logger.Error("failed to create authenticator", slog.Any("error", err))
		os.Exit(1)
	}

	channels := make([]string, 0, len(gateway.Engines))
	for ch := range gateway.Engines {
		channels = append(channels, ch.MetricLabel())
	}
	logger.Info("gateway configured",
		slog.Any("channels", channels),
		slog.Bool("fallback_enabled", gateway.Router.Enabled()),
		slog.String("store", string(store.Driver)))

	return hhttp.NewRouter(hhttp.RouterDeps{
		Sender:   sender,
		Query:    query,
		Ingestor: ingestor,
		Auth:     authenticator.Middleware,
		Quota:    quota,
		DB:       store.DB,
		Breakers: breakers,
		Version:  version,
		Logger:   logger,
	})
}

// runServer serves until SIGINT or SIGTERM, then drains HTTP connections.
func runServer(ctx context.Context, logger *slog.Logger, handler http.Handler, version string) {
	addr := config.GetEnvString("API_ADDR", ":8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second, // Prevent Slowloris attacks
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", slog.Any("error", err))
	}
	logger.Info("server stopped")
}

// runTokenCommand prints a signed bearer token:
//
//	api token -sub ops -role sender -ttl 720h
func runTokenCommand(args []string) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("sub", "", "token subject (caller name)")
	role := fs.String("role", hauth.RoleSender, "role: admin, sender or viewer")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	token, err := hauth.IssueToken(os.Getenv("JWT_SECRET"), *subject, *role, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}
