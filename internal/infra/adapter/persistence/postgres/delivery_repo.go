package postgres

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

// statusRank mirrors entity.DeliveryStatus.Precedence for the conditional
// webhook update. FAILED never matches because it is excluded explicitly.
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
	)
	if err := s.Scan(
		&st.ID, &st.RequestID, &channel, &st.Recipient, &mediaKind, &status,
		&providerID, &failureReason, &st.FallbackTriggered, &fallbackCh,
		&st.CreatedAt, &st.UpdatedAt,
	); err != nil {
		return nil, err
	}
	st.Channel = entity.Channel(channel)
	st.MediaKind = entity.MediaKind(mediaKind)
	st.Status = entity.DeliveryStatus(status)
	st.ProviderMessageID = providerID.String
	st.FailureReason = failureReason.String
	st.FallbackChannel = entity.Channel(fallbackCh.String)
	return &st, nil
}

func (repo *DeliveryStateRepo) Upsert(ctx context.Context, key entity.DeliveryKey, upd repository.DeliveryUpdate, now time.Time) error {
	const query = `
INSERT INTO delivery_states (request_id, channel, recipient, media_kind, status,
                             provider_message_id, failure_reason, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
ON CONFLICT (request_id, channel, recipient, media_kind) DO UPDATE
SET status = EXCLUDED.status,
    provider_message_id = COALESCE(EXCLUDED.provider_message_id, delivery_states.provider_message_id),
    failure_reason = EXCLUDED.failure_reason,
    updated_at = EXCLUDED.updated_at`
	if _, err := repo.db.ExecContext(ctx, query,
		key.RequestID, string(key.Channel), key.Recipient, string(key.MediaKind), string(upd.Status),
		nullString(upd.ProviderMessageID), nullString(upd.FailureReason), now,
	); err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

func (repo *DeliveryStateRepo) ApplyWebhookStatus(ctx context.Context, providerMessageID string, status entity.DeliveryStatus, now time.Time) (bool, error) {
	const query = `
UPDATE delivery_states
SET status = $1, updated_at = $2
WHERE provider_message_id = $3
  AND status <> 'FAILED'
  AND ` + statusRank + ` < $4`
	res, err := repo.db.ExecContext(ctx, query, string(status), now, providerMessageID, status.Precedence())
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
SET fallback_triggered = TRUE, fallback_channel = $1
WHERE id = $2 AND fallback_triggered = FALSE`
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
WHERE request_id = $1 AND channel = $2 AND recipient = $3 AND media_kind = $4
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
WHERE provider_message_id = $1
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
WHERE request_id = $1
ORDER BY id ASC`
	return repo.list(ctx, "ListByRequestID", query, requestID)
}

func (repo *DeliveryStateRepo) FindStale(ctx context.Context, status entity.DeliveryStatus, cutoff time.Time) ([]*entity.DeliveryState, error) {
	query := `
SELECT ` + deliveryColumns + `
FROM delivery_states
WHERE status = $1 AND updated_at < $2
ORDER BY updated_at ASC`
	return repo.list(ctx, "FindStale", query, string(status), cutoff)
}

func (repo *DeliveryStateRepo) list(ctx context.Context, op, query string, args ...any) ([]*entity.DeliveryState, error) {
	rows, err := repo.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	states := make([]*entity.DeliveryState, 0, 8)
	for rows.Next() {
		st, err := scanDeliveryState(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}
