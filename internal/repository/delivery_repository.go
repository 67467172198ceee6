package repository

import (
	"context"
	"time"

	"notification-gateway/internal/domain/entity"
)

// DeliveryUpdate is a synchronous state change from the dispatch pipeline.
// An empty ProviderMessageID keeps the stored one.
type DeliveryUpdate struct {
	Status            entity.DeliveryStatus
	ProviderMessageID string
	FailureReason     string
}

type DeliveryStateRepository interface {
	// Upsert creates the row for key or overwrites its status unconditionally.
	Upsert(ctx context.Context, key entity.DeliveryKey, upd DeliveryUpdate, now time.Time) error
	// ApplyWebhookStatus moves rows matching providerMessageID to status only
	// when the status ranks strictly higher than the stored one.
	ApplyWebhookStatus(ctx context.Context, providerMessageID string, status entity.DeliveryStatus, now time.Time) (bool, error)
	// MarkFallbackTriggered flips fallback_triggered from false to true.
	// It returns false if another caller already did.
	MarkFallbackTriggered(ctx context.Context, id int64, fallback entity.Channel) (bool, error)

	Get(ctx context.Context, key entity.DeliveryKey) (*entity.DeliveryState, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*entity.DeliveryState, error)
	ListByRequestID(ctx context.Context, requestID string) ([]*entity.DeliveryState, error)
	// FindStale lists rows in status whose updated_at is before cutoff.
	FindStale(ctx context.Context, status entity.DeliveryStatus, cutoff time.Time) ([]*entity.DeliveryState, error)
}
