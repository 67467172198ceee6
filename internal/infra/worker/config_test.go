package worker

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearWorkerEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"RECONCILE_SCHEDULE", "WORKER_TIMEZONE",
		"RECONCILE_QUEUED_TIMEOUT", "RECONCILE_SENT_TIMEOUT", "RECONCILE_DELIVERED_TIMEOUT",
		"RECONCILE_RUN_TIMEOUT", "WORKER_HEALTH_PORT", "METRICS_PORT",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "@every 5m", cfg.Schedule)
	assert.Equal(t, 5*time.Minute, cfg.Timeouts.Queued)
	assert.Equal(t, 30*time.Minute, cfg.Timeouts.Sent)
	assert.Equal(t, 24*time.Hour, cfg.Timeouts.Delivered)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Schedule = "nonsense"
	cfg.Timezone = "Nowhere/City"
	cfg.RunTimeout = 0
	cfg.MetricsPort = cfg.HealthPort

	err := cfg.Validate()

	require.Error(t, err)
	for _, part := range []string{"schedule:", "timezone:", "run timeout:", "must differ"} {
		assert.Contains(t, err.Error(), part)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	clearWorkerEnv(t)
	t.Setenv("RECONCILE_SCHEDULE", "*/2 * * * *")
	t.Setenv("WORKER_TIMEZONE", "UTC")
	t.Setenv("RECONCILE_SENT_TIMEOUT", "45m")
	t.Setenv("WORKER_HEALTH_PORT", "9191")
	m := NewWorkerMetricsWith(prometheus.NewRegistry())

	cfg := LoadConfigFromEnv(slog.Default(), m)

	assert.Equal(t, "*/2 * * * *", cfg.Schedule)
	assert.Equal(t, 45*time.Minute, cfg.Timeouts.Sent)
	assert.Equal(t, 9191, cfg.HealthPort)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.FallbackActive))
	assert.Greater(t, testutil.ToFloat64(m.LoadTimestamp), 0.0)
}

func TestLoadConfigFromEnv_FallsBack(t *testing.T) {
	clearWorkerEnv(t)
	t.Setenv("RECONCILE_SCHEDULE", "every so often")
	t.Setenv("RECONCILE_QUEUED_TIMEOUT", "10s")
	t.Setenv("METRICS_PORT", "80")

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	m := NewWorkerMetricsWith(prometheus.NewRegistry())

	cfg := LoadConfigFromEnv(logger, m)

	def := DefaultConfig()
	assert.Equal(t, def.Schedule, cfg.Schedule)
	assert.Equal(t, def.Timeouts.Queued, cfg.Timeouts.Queued)
	assert.Equal(t, def.MetricsPort, cfg.MetricsPort)
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbackActive))
	for _, field := range []string{"schedule", "queued_timeout", "metrics_port"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbacksTotal.WithLabelValues(field)), field)
	}
	assert.Contains(t, logs.String(), "configuration fallback applied")
}

func TestLocation(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.UTC, cfg.Location())

	cfg.Timezone = "Invalid/Zone"
	assert.Equal(t, time.UTC, cfg.Location())
}
