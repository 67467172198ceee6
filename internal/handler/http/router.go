package http

import (
	"database/sql"
	"log/slog"
	"net/http"

	"notification-gateway/internal/handler/http/notification"
	"notification-gateway/internal/handler/http/requestid"
	"notification-gateway/internal/handler/http/webhook"
	"notification-gateway/internal/observability/tracing"
)

// RouterDeps carries everything NewRouter mounts.
type RouterDeps struct {
	Sender   notification.Sender
	Query    notification.StatusReader
	Ingestor webhook.Ingestor
	// Auth wraps the mux; nil disables authentication (tests, local runs).
	Auth func(http.Handler) http.Handler
	// Quota limits send requests per caller; nil means unlimited.
	Quota    *CallerQuota
	DB       *sql.DB
	Breakers BreakerStates
	Version  string
	Logger   *slog.Logger
}

// NewRouter registers every route and applies the middleware chain:
// Recover → Request ID → Tracing → Logging → Metrics → Size Limit → Auth → Quota.
func NewRouter(d RouterDeps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	notification.Register(mux, d.Sender, d.Query)
	webhook.Register(mux, d.Ingestor)

	// プローブとメトリクス（認証不要）
	mux.Handle("GET /health", &HealthHandler{DB: d.DB, Breakers: d.Breakers, Version: d.Version})
	mux.Handle("GET /ready", &ReadyHandler{DB: d.DB})
	mux.Handle("GET /live", &LiveHandler{})
	mux.Handle("GET /metrics", MetricsHandler())

	auth := d.Auth
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	return Chain(mux,
		Recover(logger),
		requestid.Middleware,
		tracing.Middleware,
		Logging(logger),
		MetricsMiddleware,
		LimitRequestSize(MaxRequestBodyBytes),
		auth,
		d.Quota.Middleware,
	)
}
