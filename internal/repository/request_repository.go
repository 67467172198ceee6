package repository

import (
	"context"

	"notification-gateway/internal/domain/entity"
)

type SendRequestRepository interface {
	Save(ctx context.Context, req *entity.SendRequest) error
	Get(ctx context.Context, requestID string) (*entity.SendRequest, error)
}

// AuditRepository stores append-only provider outcomes and webhook callbacks.
type AuditRepository interface {
	RecordAttempt(ctx context.Context, attempt *entity.DeliveryAttempt) error
	RecordWebhookEvent(ctx context.Context, ev *entity.WebhookEventRecord) error
	ListWebhookEvents(ctx context.Context, providerMessageID string) ([]*entity.WebhookEventRecord, error)
}

// Store bundles the repositories of one persistence backend.
type Store struct {
	Idempotency IdempotencyRepository
	Deliveries  DeliveryStateRepository
	Requests    SendRequestRepository
	Audit       AuditRepository
}
