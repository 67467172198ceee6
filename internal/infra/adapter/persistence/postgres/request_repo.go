package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/repository"
)

type SendRequestRepo struct{ db *sql.DB }

func NewSendRequestRepo(db *sql.DB) repository.SendRequestRepository {
	return &SendRequestRepo{db: db}
}

func (repo *SendRequestRepo) Save(ctx context.Context, req *entity.SendRequest) error {
	const query = `
INSERT INTO send_requests (request_id, channel, recipients, media_kinds, text_message,
                           image_url, image_caption, video_url, video_caption, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (request_id) DO NOTHING`
	recipients, err := json.Marshal(req.Recipients)
	if err != nil {
		return fmt.Errorf("Save: marshal recipients: %w", err)
	}
	kinds, err := json.Marshal(req.MediaKinds)
	if err != nil {
		return fmt.Errorf("Save: marshal media kinds: %w", err)
	}
	if _, err := repo.db.ExecContext(ctx, query,
		req.RequestID, string(req.Channel), recipients, kinds, req.TextMessage,
		req.ImageURL, req.ImageCaption, req.VideoURL, req.VideoCaption, req.CreatedAt,
	); err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	return nil
}

func (repo *SendRequestRepo) Get(ctx context.Context, requestID string) (*entity.SendRequest, error) {
	const query = `
SELECT request_id, channel, recipients, media_kinds, text_message,
       image_url, image_caption, video_url, video_caption, created_at
FROM send_requests
WHERE request_id = $1
LIMIT 1`
	var (
		req               entity.SendRequest
		channel           string
		recipients, kinds []byte
	)
	err := repo.db.QueryRowContext(ctx, query, requestID).Scan(
		&req.RequestID, &channel, &recipients, &kinds, &req.TextMessage,
		&req.ImageURL, &req.ImageCaption, &req.VideoURL, &req.VideoCaption, &req.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	req.Channel = entity.Channel(channel)
	if err := json.Unmarshal(recipients, &req.Recipients); err != nil {
		return nil, fmt.Errorf("Get: unmarshal recipients: %w", err)
	}
	if err := json.Unmarshal(kinds, &req.MediaKinds); err != nil {
		return nil, fmt.Errorf("Get: unmarshal media kinds: %w", err)
	}
	return &req, nil
}

type AuditRepo struct{ db *sql.DB }

func NewAuditRepo(db *sql.DB) repository.AuditRepository {
	return &AuditRepo{db: db}
}

func (repo *AuditRepo) RecordAttempt(ctx context.Context, a *entity.DeliveryAttempt) error {
	const query = `
INSERT INTO delivery_attempts (request_id, channel, recipient, media_kind, success,
                               provider_message_id, response_body, error_message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`
	if err := repo.db.QueryRowContext(ctx, query,
		a.RequestID, string(a.Channel), a.Recipient, string(a.MediaKind), a.Success,
		nullString(a.ProviderMessageID), a.ResponseBody, a.ErrorMessage, a.CreatedAt,
	).Scan(&a.ID); err != nil {
		return fmt.Errorf("RecordAttempt: %w", err)
	}
	return nil
}

func (repo *AuditRepo) RecordWebhookEvent(ctx context.Context, ev *entity.WebhookEventRecord) error {
	const query = `
INSERT INTO webhook_events (provider_message_id, recipient, external_status, mapped_status,
                            error_code, error_details, applied, received_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`
	if err := repo.db.QueryRowContext(ctx, query,
		ev.ProviderMessageID, ev.Recipient, ev.ExternalStatus, string(ev.MappedStatus),
		ev.ErrorCode, ev.ErrorDetails, ev.Applied, ev.ReceivedAt,
	).Scan(&ev.ID); err != nil {
		return fmt.Errorf("RecordWebhookEvent: %w", err)
	}
	return nil
}

func (repo *AuditRepo) ListWebhookEvents(ctx context.Context, providerMessageID string) ([]*entity.WebhookEventRecord, error) {
	const query = `
SELECT id, provider_message_id, recipient, external_status, mapped_status,
       error_code, error_details, applied, received_at
FROM webhook_events
WHERE provider_message_id = $1
ORDER BY received_at ASC, id ASC`
	rows, err := repo.db.QueryContext(ctx, query, providerMessageID)
	if err != nil {
		return nil, fmt.Errorf("ListWebhookEvents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*entity.WebhookEventRecord
	for rows.Next() {
		var (
			ev     entity.WebhookEventRecord
			mapped string
		)
		if err := rows.Scan(
			&ev.ID, &ev.ProviderMessageID, &ev.Recipient, &ev.ExternalStatus, &mapped,
			&ev.ErrorCode, &ev.ErrorDetails, &ev.Applied, &ev.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("ListWebhookEvents: %w", err)
		}
		ev.MappedStatus = entity.DeliveryStatus(mapped)
		events = append(events, &ev)
	}
	return events, rows.Err()
}
