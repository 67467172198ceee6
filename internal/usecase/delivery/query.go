package delivery

import (
	"context"
	"fmt"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/repository"
)

// StatusReport lists every delivery created for one request.
type StatusReport struct {
	RequestID  string
	Deliveries []*entity.DeliveryState
}

// MessageReport is a single provider message with its callback history.
type MessageReport struct {
	State  *entity.DeliveryState
	Events []*entity.WebhookEventRecord
}

// Query answers read-only status lookups.
type Query struct {
	deliveries repository.DeliveryStateRepository
	audit      repository.AuditRepository
}

func NewQuery(deliveries repository.DeliveryStateRepository, audit repository.AuditRepository) *Query {
	return &Query{deliveries: deliveries, audit: audit}
}

// GetStatus returns the deliveries of requestID, or entity.ErrNotFound when
// the request produced none.
func (q *Query) GetStatus(ctx context.Context, requestID string) (*StatusReport, error) {
	if requestID == "" {
		return nil, fmt.Errorf("%w: empty request id", entity.ErrInvalidInput)
	}
	states, err := q.deliveries.ListByRequestID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("GetStatus: %w", err)
	}
	if len(states) == 0 {
		return nil, entity.ErrNotFound
	}
	return &StatusReport{RequestID: requestID, Deliveries: states}, nil
}

// GetMessage looks a delivery up by the id the provider assigned to it.
func (q *Query) GetMessage(ctx context.Context, providerMessageID string) (*MessageReport, error) {
	if providerMessageID == "" {
		return nil, fmt.Errorf("%w: empty provider message id", entity.ErrInvalidInput)
	}
	st, err := q.deliveries.GetByProviderMessageID(ctx, providerMessageID)
	if err != nil {
		return nil, fmt.Errorf("GetMessage: %w", err)
	}
	if st == nil {
		return nil, entity.ErrNotFound
	}
	report := &MessageReport{State: st}
	if q.audit != nil {
		events, err := q.audit.ListWebhookEvents(ctx, providerMessageID)
		if err != nil {
			return nil, fmt.Errorf("GetMessage events: %w", err)
		}
		report.Events = events
	}
	return report, nil
}
