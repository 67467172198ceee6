// Package idempotency guards each (requestId, channel, recipient, mediaKind)
// attempt so that at most one provider call is in progress or completed per key.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/repository"
)

var duplicatesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_idempotency_duplicates_total",
		Help: "Total number of attempts rejected because the key was already in progress or completed",
	},
	[]string{"channel"},
)

// Guard wraps the idempotency store. All atomicity lives in the store:
// TryStart is a single statement per key and no lock is held across keys.
type Guard struct {
	repo repository.IdempotencyRepository
	now  func() time.Time
}

// NewGuard creates a Guard over repo.
func NewGuard(repo repository.IdempotencyRepository) *Guard {
	return &Guard{repo: repo, now: time.Now}
}

// TryStart claims key for a new attempt.
//
// Returns:
//   - true: no record existed, or the previous attempt FAILED and was reset
//   - false: the key is IN_PROGRESS or COMPLETED
func (g *Guard) TryStart(ctx context.Context, key entity.DeliveryKey) (bool, error) {
	ok, err := g.repo.TryStart(ctx, key, g.now())
	if err != nil {
		return false, fmt.Errorf("idempotency TryStart: %w", err)
	}
	if !ok {
		duplicatesTotal.WithLabelValues(key.Channel.MetricLabel()).Inc()
	}
	return ok, nil
}

// MarkCompleted moves an IN_PROGRESS key to COMPLETED. Missing keys are ignored.
func (g *Guard) MarkCompleted(ctx context.Context, key entity.DeliveryKey) error {
	if err := g.repo.MarkCompleted(ctx, key, g.now()); err != nil {
		return fmt.Errorf("idempotency MarkCompleted: %w", err)
	}
	return nil
}

// MarkFailed moves an IN_PROGRESS key to FAILED so a later attempt may reuse it.
func (g *Guard) MarkFailed(ctx context.Context, key entity.DeliveryKey) error {
	if err := g.repo.MarkFailed(ctx, key); err != nil {
		return fmt.Errorf("idempotency MarkFailed: %w", err)
	}
	return nil
}
