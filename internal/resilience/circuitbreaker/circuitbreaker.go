// Package circuitbreaker provides circuit breakers for outbound provider calls.
// It uses the github.com/sony/gobreaker library to stop hammering a provider
// that is down and to fail fast while it recovers.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/resilience/retry"
)

// ErrOpenState is returned by Execute while the circuit is open.
var ErrOpenState = gobreaker.ErrOpenState

var breakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "gateway_circuit_breaker_state",
		Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open)",
	},
	[]string{"provider"},
)

// Config holds the configuration for a circuit breaker.
type Config struct {
	// Name is the circuit breaker name for logging and metrics
	Name string

	// MaxRequests is the maximum number of requests allowed in half-open state
	MaxRequests uint32

	// Interval is the cyclic period of the closed state to clear success/failure counts
	Interval time.Duration

	// Timeout is how long to wait in open state before trying again
	Timeout time.Duration

	// FailureThreshold is the failure ratio threshold to trip the circuit
	// For example, 0.6 means 60% failure rate
	FailureThreshold float64

	// MinRequests is the minimum number of requests before calculating failure ratio
	MinRequests uint32
}

// DefaultConfig returns a default configuration for circuit breakers.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// ProviderConfig returns the breaker settings for a messaging provider.
// Business messaging gets a shorter open window because the fallback path
// already covers prolonged outages.
func ProviderConfig(ch entity.Channel) Config {
	cfg := DefaultConfig(ch.MetricLabel())
	switch ch {
	case entity.ChannelWhatsApp:
		cfg.Timeout = 30 * time.Second
	case entity.ChannelSMS:
		cfg.MinRequests = 10
		cfg.FailureThreshold = 0.7
	}
	return cfg
}

// CircuitBreaker wraps gobreaker.CircuitBreaker with additional functionality.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	name    string
}

// New creates a new circuit breaker with the given configuration.
// Client errors (4xx other than 408/429) do not count as failures: they say
// nothing about provider health.
func New(cfg Config) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			breakerState.WithLabelValues(name).Set(float64(to))
		},
	}

	breakerState.WithLabelValues(cfg.Name).Set(float64(gobreaker.StateClosed))
	return &CircuitBreaker{
		breaker: gobreaker.NewCircuitBreaker(settings),
		name:    cfg.Name,
	}
}

func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	var respErr retry.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatus()
		return status >= 400 && status < 500 &&
			status != http.StatusTooManyRequests && status != http.StatusRequestTimeout
	}
	return false
}

// Execute runs the given function through the circuit breaker.
// If the circuit is open, it returns ErrOpenState immediately.
func (cb *CircuitBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return cb.breaker.Execute(fn)
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.breaker.State()
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// IsOpen returns true if the circuit breaker is in the open state.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.breaker.State() == gobreaker.StateOpen
}

// Registry holds one breaker per channel.
type Registry struct {
	mu       sync.RWMutex
	breakers map[entity.Channel]*CircuitBreaker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[entity.Channel]*CircuitBreaker)}
}

// For returns the breaker of ch, creating it with ProviderConfig on first use.
func (r *Registry) For(ch entity.Channel) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[ch]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok = r.breakers[ch]; ok {
		return cb
	}
	cb = New(ProviderConfig(ch))
	r.breakers[ch] = cb
	return cb
}

// States reports the state name of every registered breaker.
func (r *Registry) States() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.breakers))
	for ch, cb := range r.breakers {
		out[ch.MetricLabel()] = cb.State().String()
	}
	return out
}
