package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"notification-gateway/internal/pkg/config"
	"notification-gateway/internal/usecase/reconcile"
)

// WorkerConfig holds the reconciliation worker settings.
//
// Environment variables:
//   - RECONCILE_SCHEDULE: cron expression or descriptor (default "@every 5m")
//   - WORKER_TIMEZONE: IANA timezone for the schedule (default "UTC")
//   - RECONCILE_QUEUED_TIMEOUT / RECONCILE_SENT_TIMEOUT / RECONCILE_DELIVERED_TIMEOUT
//   - RECONCILE_RUN_TIMEOUT: upper bound for one sweep (default 5m)
//   - WORKER_HEALTH_PORT: 1024-65535 (default 9091)
//   - METRICS_PORT: 1024-65535 (default 9090)
type WorkerConfig struct {
	Schedule    string
	Timezone    string
	Timeouts    reconcile.Timeouts
	RunTimeout  time.Duration
	HealthPort  int
	MetricsPort int
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		Schedule:    "@every 5m",
		Timezone:    "UTC",
		Timeouts:    reconcile.DefaultTimeouts(),
		RunTimeout:  5 * time.Minute,
		HealthPort:  9091,
		MetricsPort: 9090,
	}
}

// Validate checks every field and returns all problems joined.
func (c *WorkerConfig) Validate() error {
	var errs []error
	if err := config.ValidateCronSchedule(c.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("schedule: %w", err))
	}
	if err := config.ValidateTimezone(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	for name, d := range map[string]time.Duration{
		"queued timeout":    c.Timeouts.Queued,
		"sent timeout":      c.Timeouts.Sent,
		"delivered timeout": c.Timeouts.Delivered,
		"run timeout":       c.RunTimeout,
	} {
		if err := config.ValidatePositiveDuration(d); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if err := config.ValidateIntRange(c.HealthPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("health port: %w", err))
	}
	if err := config.ValidateIntRange(c.MetricsPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("metrics port: %w", err))
	}
	if c.HealthPort == c.MetricsPort {
		errs = append(errs, fmt.Errorf("health port and metrics port must differ"))
	}
	return errors.Join(errs...)
}

// Location returns the schedule's time zone. Timezone is validated on
// load, so the UTC fallback only covers hand-built configs.
func (c *WorkerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LoadConfigFromEnv loads the worker configuration fail-open: each invalid
// value is replaced by its default, logged and counted in metrics. It
// never returns nil.
func LoadConfigFromEnv(logger *slog.Logger, metrics *WorkerMetrics) *WorkerConfig {
	cfg := DefaultConfig()
	fallback := false

	apply := func(field, warning string) {
		if warning == "" {
			return
		}
		fallback = true
		metrics.RecordFallback(field)
		logger.Warn("configuration fallback applied",
			slog.String("field", field),
			slog.String("warning", warning))
	}

	schedule := config.LoadEnvWithFallback("RECONCILE_SCHEDULE", cfg.Schedule, config.ValidateCronSchedule)
	cfg.Schedule = schedule.Value
	apply("schedule", schedule.Warning)

	tz := config.LoadEnvWithFallback("WORKER_TIMEZONE", cfg.Timezone, config.ValidateTimezone)
	cfg.Timezone = tz.Value
	apply("timezone", tz.Warning)

	// 滞留判定は 1 分未満にしない（送信直後の行を拾ってしまう）
	stuckRange := func(d time.Duration) error { return config.ValidateDuration(d, time.Minute, 7*24*time.Hour) }

	queued := config.LoadEnvDuration("RECONCILE_QUEUED_TIMEOUT", cfg.Timeouts.Queued, stuckRange)
	cfg.Timeouts.Queued = queued.Value
	apply("queued_timeout", queued.Warning)

	sent := config.LoadEnvDuration("RECONCILE_SENT_TIMEOUT", cfg.Timeouts.Sent, stuckRange)
	cfg.Timeouts.Sent = sent.Value
	apply("sent_timeout", sent.Warning)

	delivered := config.LoadEnvDuration("RECONCILE_DELIVERED_TIMEOUT", cfg.Timeouts.Delivered, stuckRange)
	cfg.Timeouts.Delivered = delivered.Value
	apply("delivered_timeout", delivered.Warning)

	run := config.LoadEnvDuration("RECONCILE_RUN_TIMEOUT", cfg.RunTimeout, func(d time.Duration) error {
		return config.ValidateDuration(d, 10*time.Second, time.Hour)
	})
	cfg.RunTimeout = run.Value
	apply("run_timeout", run.Warning)

	port := func(v int) error { return config.ValidateIntRange(v, 1024, 65535) }

	health := config.LoadEnvInt("WORKER_HEALTH_PORT", cfg.HealthPort, port)
	cfg.HealthPort = health.Value
	apply("health_port", health.Warning)

	metricsPort := config.LoadEnvInt("METRICS_PORT", cfg.MetricsPort, port)
	cfg.MetricsPort = metricsPort.Value
	apply("metrics_port", metricsPort.Warning)

	metrics.SetFallbackActive(fallback)
	metrics.RecordLoadTimestamp()
	return &cfg
}
