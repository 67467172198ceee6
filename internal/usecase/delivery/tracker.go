// Package delivery tracks the latest known state of each delivery and
// answers status queries over it.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/repository"
)

// EventPublisher receives every applied state transition.
// Publishing is best-effort: errors are logged and never change the outcome.
type EventPublisher interface {
	Publish(ctx context.Context, ev entity.DeliveryEvent) error
}

// Tracker records delivery transitions.
//
// Local transitions from the dispatch pipeline always apply. Webhook
// transitions apply only when they rank strictly higher than the stored
// status and the stored status is not FAILED.
type Tracker struct {
	repo      repository.DeliveryStateRepository
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewTracker creates a Tracker. publisher and logger may be nil.
func NewTracker(repo repository.DeliveryStateRepository, publisher EventPublisher, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{repo: repo, publisher: publisher, logger: logger, now: time.Now}
}

// MarkQueued records that the attempt was accepted by the pipeline.
func (t *Tracker) MarkQueued(ctx context.Context, sc *entity.SendContext) error {
	return t.apply(ctx, sc, repository.DeliveryUpdate{Status: entity.DeliveryQueued})
}

// MarkSent records a provider acceptance. An empty providerMessageID keeps
// the stored one.
func (t *Tracker) MarkSent(ctx context.Context, sc *entity.SendContext, providerMessageID string) error {
	return t.apply(ctx, sc, repository.DeliveryUpdate{
		Status:            entity.DeliverySent,
		ProviderMessageID: providerMessageID,
	})
}

// MarkFailed records a terminal failure with a short reason bucket.
func (t *Tracker) MarkFailed(ctx context.Context, sc *entity.SendContext, reason string) error {
	return t.apply(ctx, sc, repository.DeliveryUpdate{
		Status:        entity.DeliveryFailed,
		FailureReason: reason,
	})
}

func (t *Tracker) apply(ctx context.Context, sc *entity.SendContext, upd repository.DeliveryUpdate) error {
	now := t.now()
	if err := t.repo.Upsert(ctx, sc.Key(), upd, now); err != nil {
		return fmt.Errorf("mark %s: %w", upd.Status, err)
	}
	t.publish(ctx, entity.DeliveryEvent{
		RequestID:         sc.RequestID,
		Channel:           sc.Channel,
		Recipient:         sc.Recipient,
		MediaKind:         sc.MediaKind,
		Status:            upd.Status,
		ProviderMessageID: upd.ProviderMessageID,
		FailureReason:     upd.FailureReason,
		Source:            entity.SourceDispatch,
		OccurredAt:        now,
	})
	return nil
}

// UpdateFromWebhook applies a provider-reported status to every row carrying
// providerMessageID.
//
// Returns:
//   - true: at least one row moved forward
//   - false: no row matched, the status was stale or duplicate, or the row is FAILED
func (t *Tracker) UpdateFromWebhook(ctx context.Context, providerMessageID string, status entity.DeliveryStatus) (bool, error) {
	if providerMessageID == "" || status.Precedence() <= 0 {
		// CREATED and FAILED never advance a row.
		return false, nil
	}
	now := t.now()
	applied, err := t.repo.ApplyWebhookStatus(ctx, providerMessageID, status, now)
	if err != nil {
		return false, fmt.Errorf("UpdateFromWebhook: %w", err)
	}
	if applied {
		t.publish(ctx, entity.DeliveryEvent{
			Status:            status,
			ProviderMessageID: providerMessageID,
			Source:            entity.SourceWebhook,
			OccurredAt:        now,
		})
	}
	return applied, nil
}

// Get returns the state of key, or nil when no attempt was recorded.
func (t *Tracker) Get(ctx context.Context, key entity.DeliveryKey) (*entity.DeliveryState, error) {
	st, err := t.repo.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("Get delivery: %w", err)
	}
	return st, nil
}

// FindStale lists deliveries stuck in status for longer than timeout.
func (t *Tracker) FindStale(ctx context.Context, status entity.DeliveryStatus, timeout time.Duration) ([]*entity.DeliveryState, error) {
	states, err := t.repo.FindStale(ctx, status, t.now().Add(-timeout))
	if err != nil {
		return nil, fmt.Errorf("FindStale %s: %w", status, err)
	}
	return states, nil
}

func (t *Tracker) publish(ctx context.Context, ev entity.DeliveryEvent) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.Publish(ctx, ev); err != nil {
		t.logger.Warn("failed to publish delivery event",
			slog.String("request_id", ev.RequestID),
			slog.String("status", string(ev.Status)),
			slog.Any("error", err))
	}
}
