package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/repository"
)

type SendRequestRepo struct{ db *sql.DB }

func NewSendRequestRepo(db *sql.DB) repository.SendRequestRepository {
	return &SendRequestRepo{db: db}
}

// Recipients and media kinds are stored comma-separated. Neither value
// may contain a comma after validation.
func (repo *SendRequestRepo) Save(ctx context.Context, req *entity.SendRequest) error {
	const query = `
INSERT INTO send_requests (request_id, channel, recipients, media_kinds, text_message,
                           image_url, image_caption, video_url, video_caption, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (request_id) DO NOTHING`
	kinds := make([]string, len(req.MediaKinds))
	for i, k := range req.MediaKinds {
		kinds[i] = string(k)
	}
	if _, err := repo.db.ExecContext(ctx, query,
		req.RequestID, string(req.Channel), strings.Join(req.Recipients, ","), strings.Join(kinds, ","),
		req.TextMessage, req.ImageURL, req.ImageCaption, req.VideoURL, req.VideoCaption, toMillis(req.CreatedAt),
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
WHERE request_id = ?
LIMIT 1`
	var (
		req                        entity.SendRequest
		channel, recipients, kinds string
		createdAt                  int64
	)
	err := repo.db.QueryRowContext(ctx, query, requestID).Scan(
		&req.RequestID, &channel, &recipients, &kinds, &req.TextMessage,
		&req.ImageURL, &req.ImageCaption, &req.VideoURL, &req.VideoCaption, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	req.Channel = entity.Channel(channel)
	req.CreatedAt = fromMillis(createdAt)
	if recipients != "" {
		req.Recipients = strings.Split(recipients, ",")
	}
	if kinds != "" {
		for _, k := range strings.Split(kinds, ",") {
			req.MediaKinds = append(req.MediaKinds, entity.MediaKind(k))
		}
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
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := repo.db.ExecContext(ctx, query,
		a.RequestID, string(a.Channel), a.Recipient, string(a.MediaKind), a.Success,
		nullString(a.ProviderMessageID), a.ResponseBody, a.ErrorMessage, toMillis(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("RecordAttempt: %w", err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("RecordAttempt: %w", err)
	}
	return nil
}

func (repo *AuditRepo) RecordWebhookEvent(ctx context.Context, ev *entity.WebhookEventRecord) error {
	const query = `
INSERT INTO webhook_events (provider_message_id, recipient, external_status, mapped_status,
                            error_code, error_details, applied, received_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := repo.db.ExecContext(ctx, query,
		ev.ProviderMessageID, ev.Recipient, ev.ExternalStatus, string(ev.MappedStatus),
		ev.ErrorCode, ev.ErrorDetails, ev.Applied, toMillis(ev.ReceivedAt),
	)
	if err != nil {
		return fmt.Errorf("RecordWebhookEvent: %w", err)
	}
	if ev.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("RecordWebhookEvent: %w", err)
	}
	return nil
}

func (repo *AuditRepo) ListWebhookEvents(ctx context.Context, providerMessageID string) ([]*entity.WebhookEventRecord, error) {
	const query = `
SELECT id, provider_message_id, recipient, external_status, mapped_status,
       error_code, error_details, applied, received_at
FROM webhook_events
WHERE provider_message_id = ?
ORDER BY received_at ASC, id ASC`
	rows, err := repo.db.QueryContext(ctx, query, providerMessageID)
	if err != nil {
		return nil, fmt.Errorf("ListWebhookEvents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*entity.WebhookEventRecord
	for rows.Next() {
		var (
			ev         entity.WebhookEventRecord
			mapped     string
			receivedAt int64
		)
		if err := rows.Scan(
			&ev.ID, &ev.ProviderMessageID, &ev.Recipient, &ev.ExternalStatus, &mapped,
			&ev.ErrorCode, &ev.ErrorDetails, &ev.Applied, &receivedAt,
		); err != nil {
			return nil, fmt.Errorf("ListWebhookEvents: %w", err)
		}
		ev.MappedStatus = entity.DeliveryStatus(mapped)
		ev.ReceivedAt = fromMillis(receivedAt)
		events = append(events, &ev)
	}
	return events, rows.Err()
}
