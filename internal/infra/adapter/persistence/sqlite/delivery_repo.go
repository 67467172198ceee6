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

type DeliveryStateRepo struct{ db *sql.DB }

func NewDeliveryStateRepo(db *sql.DB) repository.DeliveryStateRepository {
	return &DeliveryStateRepo{db: db}
}

const deliveryColumns = `id, request_id, channel, recipient, media_kind, status,
       provider_message_id, failure_reason, fallback_triggered, fallback_channel,
       created_at, updated_at`

const statusRank = `CASE status
    WHEN 'QUEUED' THEN 1
    WHEN 'SENT' THEN 2
    WHEN 'DELIVERED' THEN 3
    WHEN 'READ' THEN 4
    ELSE 0 END`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeliveryState(s rowScanner) (*entity.DeliveryState, error) {
	var (
		st                                    entity.DeliveryState
		channel, mediaKind, status            string
		providerID, failureReason, fallbackCh sql.NullString
		createdAt, updatedAt                  int64
	)
	if err := s.Scan(
		&st.ID, &st.RequestID, &channel, &st.Recipient, &mediaKind, &status,
		&providerID, &failureReason, &st.FallbackTriggered, &fallbackCh,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	st.Channel = entity.Channel(channel)
	st.MediaKind = entity.MediaKind(mediaKind)
	st.Status = entity.DeliveryStatus(status)
	st.ProviderMessageID = providerID.String
	st.FailureReason = failureReason.String
	st.FallbackChannel = entity.Channel(fallbackCh.String)
	st.CreatedAt = fromMillis(createdAt)
	st.UpdatedAt = fromMillis(updatedAt)
	return &st, nil
}

func (repo *DeliveryStateRepo) Upsert(ctx context.Context, key entity.DeliveryKey, upd repository.DeliveryUpdate, now time.Time) error {
	const query = `
INSERT INTO delivery_states (request_id, channel, recipient, media_kind, status,
                             provider_message_id, failure_reason, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (request_id, channel, recipient, media_kind) DO UPDATE
SET status = excluded.status,
    provider_message_id = COALESCE(excluded.provider_message_id, delivery_states.provider_message_id),
    failure_reason = excluded.failure_reason,
    updated_at = excluded.updated_at`
	ms := toMillis(now)
	if _, err := repo.db.ExecContext(ctx, query,
		key.RequestID, string(key.Channel), key.Recipient, string(key.MediaKind), string(upd.Status),
		nullString(upd.ProviderMessageID), nullString(upd.FailureReason), ms, ms,
	); err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

func (repo *DeliveryStateRepo) ApplyWebhookStatus(ctx context.Context, providerMessageID string, status entity.DeliveryStatus, now time.Time) (bool, error) {
	const query = `
UPDATE delivery_states
SET status = ?, updated_at = ?
WHERE provider_message_id = ?
  AND status <> 'FAILED'
  AND ` + statusRank + ` < ?`
	res, err := repo.db.ExecContext(ctx, query, string(status), toMillis(now), providerMessageID, status.Precedence())
	if err != nil {
		return false, fmt.Errorf("ApplyWebhookStatus: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ApplyWebhookStatus: %w", err)
	}
	return n > 0, nil
}

func (repo *DeliveryStateRepo) MarkFallbackTriggered(ctx context.Context, id int64, fallback entity.Channel) (bool, error) {
	const query = `
UPDATE delivery_states
SET fallback_triggered = 1, fallback_channel = ?
WHERE id = ? AND fallback_triggered = 0`
	res, err := repo.db.ExecContext(ctx, query, string(fallback), id)
	if err != nil {
		return false, fmt.Errorf("MarkFallbackTriggered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("MarkFallbackTriggered: %w", err)
	}
	return n == 1, nil
}

func (repo *DeliveryStateRepo) Get(ctx context.Context, key entity.DeliveryKey) (*entity.DeliveryState, error) {
	query := `
SELECT ` + deliveryColumns + `
FROM delivery_states
WHERE request_id = ? AND channel = ? AND recipient = ? AND media_kind = ?
LIMIT 1`
	st, err := scanDeliveryState(repo.db.QueryRowContext(ctx, query,
		key.RequestID, string(key.Channel), key.Recipient, string(key.MediaKind)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return st, nil
}

func (repo *DeliveryStateRepo) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*entity.DeliveryState, error) {
	query := `
SELECT ` + deliveryColumns + `
FROM delivery_states
WHERE provider_message_id = ?
ORDER BY updated_at DESC
LIMIT 1`
	st, err := scanDeliveryState(repo.db.QueryRowContext(ctx, query, providerMessageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetByProviderMessageID: %w", err)
	}
	return st, nil
}

func (repo *DeliveryStateRepo) ListByRequestID(ctx context.Context, requestID string) ([]*entity.DeliveryState, error) {
	query := `
SELECT ` + deliveryColumns + `
FROM delivery_states
WHERE request_id = ?
ORDER BY id ASC`
	return repo.list(ctx, "ListByRequestID", query, requestID)
}

func (repo *DeliveryStateRepo) FindStale(ctx context.Context, status entity.DeliveryStatus, cutoff time.Time) ([]*entity.DeliveryState, error) {
	query := `
SELECT ` + deliveryColumns + `
FROM delivery_states
WHERE status = ? AND updated_at < ?
ORDER BY updated_at ASC`
	return repo.list(ctx, "FindStale", query, string(status), toMillis(cutoff))
}

func (repo *DeliveryStateRepo) list(ctx context.Context, op, query string, args ...any) ([]*entity.DeliveryState, error) {
	rows, err := repo.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var states []*entity.DeliveryState
	for rows.Next() {
		st, err := scanDeliveryState(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}
