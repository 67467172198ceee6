package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/repository"
)

type IdempotencyRepo struct{ db *sql.DB }

func NewIdempotencyRepo(db *sql.DB) repository.IdempotencyRepository {
	return &IdempotencyRepo{db: db}
}

func (repo *IdempotencyRepo) TryStart(ctx context.Context, key entity.DeliveryKey, now time.Time) (bool, error) {
	const query = `
INSERT INTO idempotency_records (request_id, channel, recipient, media_kind, status, created_at)
VALUES (?, ?, ?, ?, 'IN_PROGRESS', ?)
ON CONFLICT (request_id, channel, recipient, media_kind) DO UPDATE
SET status = 'IN_PROGRESS', created_at = excluded.created_at, completed_at = NULL
WHERE idempotency_records.status = 'FAILED'
RETURNING id`
	var id int64
	err := repo.db.QueryRowContext(ctx, query,
		key.RequestID, string(key.Channel), key.Recipient, string(key.MediaKind), toMillis(now),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("TryStart: %w", err)
	}
	return true, nil
}

func (repo *IdempotencyRepo) MarkCompleted(ctx context.Context, key entity.DeliveryKey, now time.Time) error {
	const query = `
UPDATE idempotency_records
SET status = 'COMPLETED', completed_at = ?
WHERE request_id = ? AND channel = ? AND recipient = ? AND media_kind = ?
  AND status = 'IN_PROGRESS'`
	if _, err := repo.db.ExecContext(ctx, query,
		toMillis(now), key.RequestID, string(key.Channel), key.Recipient, string(key.MediaKind),
	); err != nil {
		return fmt.Errorf("MarkCompleted: %w", err)
	}
	return nil
}

func (repo *IdempotencyRepo) MarkFailed(ctx context.Context, key entity.DeliveryKey) error {
	const query = `
UPDATE idempotency_records
SET status = 'FAILED'
WHERE request_id = ? AND channel = ? AND recipient = ? AND media_kind = ?
  AND status = 'IN_PROGRESS'`
	if _, err := repo.db.ExecContext(ctx, query,
		key.RequestID, string(key.Channel), key.Recipient, string(key.MediaKind),
	); err != nil {
		return fmt.Errorf("MarkFailed: %w", err)
	}
	return nil
}

func (repo *IdempotencyRepo) Get(ctx context.Context, key entity.DeliveryKey) (*entity.IdempotencyRecord, error) {
	const query = `
SELECT id, request_id, channel, recipient, media_kind, status, created_at, completed_at
FROM idempotency_records
WHERE request_id = ? AND channel = ? AND recipient = ? AND media_kind = ?
LIMIT 1`
	var (
		rec                        entity.IdempotencyRecord
		channel, mediaKind, status string
		createdAt                  int64
		completedAt                sql.NullInt64
	)
	err := repo.db.QueryRowContext(ctx, query,
		key.RequestID, string(key.Channel), key.Recipient, string(key.MediaKind),
	).Scan(&rec.ID, &rec.RequestID, &channel, &rec.Recipient, &mediaKind, &status, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	rec.Channel = entity.Channel(channel)
	rec.MediaKind = entity.MediaKind(mediaKind)
	rec.Status = entity.IdempotencyStatus(status)
	rec.CreatedAt = fromMillis(createdAt)
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		rec.CompletedAt = &t
	}
	return &rec, nil
}
