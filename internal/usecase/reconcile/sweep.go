// Package reconcile periodically detects deliveries stuck in a
// non-terminal status and hands them to the fallback router.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/usecase/delivery"
)

var reconciliationTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_reconciliation_total",
		Help: "Total number of stuck deliveries detected by the reconciliation sweep",
	},
	[]string{"channel", "result"}, // result: STUCK_QUEUED|STUCK_SENT|STUCK_DELIVERED
)

// Timeouts is how long a delivery may stay in each status before it is
// considered stuck.
type Timeouts struct {
	Queued    time.Duration
	Sent      time.Duration
	Delivered time.Duration
}

// DefaultTimeouts returns queued 5m, sent 30m, delivered 24h.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Queued:    5 * time.Minute,
		Sent:      30 * time.Minute,
		Delivered: 24 * time.Hour,
	}
}

// FallbackRouter reroutes one stuck delivery.
type FallbackRouter interface {
	AttemptFallback(ctx context.Context, st *entity.DeliveryState) (bool, error)
}

// Stats summarises one sweep.
type Stats struct {
	Stuck     map[entity.ReconciliationResult]int
	Fallbacks int
	Errors    int
	Duration  time.Duration
}

// Total returns the number of stuck deliveries found.
func (s Stats) Total() int {
	n := 0
	for _, c := range s.Stuck {
		n += c
	}
	return n
}

// Sweep scans for stuck deliveries. It only reads delivery states and
// sets the fallback flag through the router; rows are never deleted.
type Sweep struct {
	tracker  *delivery.Tracker
	router   FallbackRouter
	timeouts Timeouts
	logger   *slog.Logger
}

// NewSweep creates a Sweep. Zero timeouts take their defaults.
func NewSweep(tracker *delivery.Tracker, router FallbackRouter, timeouts Timeouts, logger *slog.Logger) *Sweep {
	def := DefaultTimeouts()
	if timeouts.Queued <= 0 {
		timeouts.Queued = def.Queued
	}
	if timeouts.Sent <= 0 {
		timeouts.Sent = def.Sent
	}
	if timeouts.Delivered <= 0 {
		timeouts.Delivered = def.Delivered
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweep{tracker: tracker, router: router, timeouts: timeouts, logger: logger}
}

type pass struct {
	status  entity.DeliveryStatus
	result  entity.ReconciliationResult
	timeout time.Duration
}

// Run performs one sweep over QUEUED, SENT and DELIVERED rows.
// A failing status scan does not stop the others; the joined scan errors
// are returned together with the partial Stats.
func (s *Sweep) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	stats := Stats{Stuck: make(map[entity.ReconciliationResult]int)}
	passes := []pass{
		{entity.DeliveryQueued, entity.StuckQueued, s.timeouts.Queued},
		{entity.DeliverySent, entity.StuckSent, s.timeouts.Sent},
		{entity.DeliveryDelivered, entity.StuckDelivered, s.timeouts.Delivered},
	}

	var errs []error
	for _, p := range passes {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		stale, err := s.tracker.FindStale(ctx, p.status, p.timeout)
		if err != nil {
			stats.Errors++
			errs = append(errs, fmt.Errorf("reconcile %s: %w", p.status, err))
			continue
		}
		for _, st := range stale {
			s.handle(ctx, p, st, &stats)
		}
	}

	stats.Duration = time.Since(start)
	s.logger.Info("reconciliation sweep finished",
		slog.Int("stuck", stats.Total()),
		slog.Int("fallbacks", stats.Fallbacks),
		slog.Int("errors", stats.Errors),
		slog.Duration("duration", stats.Duration))
	return stats, errors.Join(errs...)
}

func (s *Sweep) handle(ctx context.Context, p pass, st *entity.DeliveryState, stats *Stats) {
	stats.Stuck[p.result]++
	reconciliationTotal.WithLabelValues(st.Channel.MetricLabel(), string(p.result)).Inc()
	s.logger.Warn("stuck delivery detected",
		slog.String("result", string(p.result)),
		slog.Int64("delivery_id", st.ID),
		slog.String("request_id", st.RequestID),
		slog.String("channel", st.Channel.String()),
		slog.String("recipient", st.Recipient),
		slog.Time("updated_at", st.UpdatedAt))

	if s.router == nil {
		return
	}
	ok, err := s.router.AttemptFallback(ctx, st)
	if err != nil {
		stats.Errors++
		s.logger.Error("fallback from reconciliation failed",
			slog.Int64("delivery_id", st.ID),
			slog.Any("error", err))
		return
	}
	if ok {
		stats.Fallbacks++
	}
}
