package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
)

// HealthResponse represents a simple health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ChannelHealthResponse represents the breaker state of every provider.
type ChannelHealthResponse struct {
	Healthy  bool            `json:"healthy"`
	Channels []ChannelStatus `json:"channels"`
}

// ChannelStatus represents the breaker of a single provider.
type ChannelStatus struct {
	Name               string `json:"name"`
	State              string `json:"state"`
	CircuitBreakerOpen bool   `json:"circuit_breaker_open"`
}

// BreakerStates reports provider breaker states keyed by channel label.
type BreakerStates interface {
	States() map[string]string
}

// newMetricsMux builds the metrics server routes:
//   - GET /metrics - Prometheus metrics endpoint
//   - GET /health - liveness probe (always 200)
//   - GET /health/channels - 503 when any provider breaker is open
func newMetricsMux(breakers BreakerStates) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /health/channels", channelHealthHandler(breakers))
	return mux
}

// startMetricsServer starts the Prometheus metrics HTTP server on port.
// When ctx is canceled the server shuts down within 5 seconds.
func startMetricsServer(ctx context.Context, logger *slog.Logger, port int, breakers BreakerStates) *http.Server {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      newMetricsMux(breakers),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("metrics server starting", slog.Int("port", port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", slog.Any("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		logger.Info("metrics server shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", slog.Any("error", err))
		} else {
			logger.Info("metrics server stopped")
		}
	}()

	return server
}

// healthHandler handles GET /health requests (liveness probe).
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy"})
}

// channelHealthHandler reports every registered breaker. Channels whose
// breaker was never used are absent.
func channelHealthHandler(breakers BreakerStates) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		states := breakers.States()
		names := make([]string, 0, len(states))
		for name := range states {
			names = append(names, name)
		}
		sort.Strings(names)

		channels := make([]ChannelStatus, 0, len(names))
		healthy := true
		for _, name := range names {
			open := states[name] == gobreaker.StateOpen.String()
			if open {
				healthy = false
			}
			channels = append(channels, ChannelStatus{
				Name:               name,
				State:              states[name],
				CircuitBreakerOpen: open,
			})
		}

		statusCode := http.StatusOK
		if !healthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(ChannelHealthResponse{
			Healthy:  healthy,
			Channels: channels,
		})
	}
}
