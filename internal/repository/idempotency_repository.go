package repository

import (
	"context"
	"time"

	"notification-gateway/internal/domain/entity"
)

// IdempotencyRepository persists attempt guards. Every method touches a
// single row and must be atomic on its own.
type IdempotencyRepository interface {
	// TryStart inserts an IN_PROGRESS record, or resets a FAILED one.
	// It returns false when the key is already IN_PROGRESS or COMPLETED.
	TryStart(ctx context.Context, key entity.DeliveryKey, now time.Time) (bool, error)
	MarkCompleted(ctx context.Context, key entity.DeliveryKey, now time.Time) error
	MarkFailed(ctx context.Context, key entity.DeliveryKey) error
	Get(ctx context.Context, key entity.DeliveryKey) (*entity.IdempotencyRecord, error)
}
