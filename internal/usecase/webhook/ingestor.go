// Package webhook ingests asynchronous delivery callbacks from the
// business-messaging provider.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidwall/gjson"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/repository"
)

// ErrVerificationFailed is returned by Verify when the handshake is rejected.
var ErrVerificationFailed = errors.New("webhook verification failed")

var webhookEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_webhook_events_total",
		Help: "Total number of webhook status entries received",
	},
	[]string{"event"},
)

// StatusUpdater applies a provider-reported status. *delivery.Tracker implements it.
type StatusUpdater interface {
	UpdateFromWebhook(ctx context.Context, providerMessageID string, status entity.DeliveryStatus) (bool, error)
}

// Stats summarises one callback body.
type Stats struct {
	Events  int
	Applied int
	Errors  int
}

// Ingestor parses callbacks and forwards each status entry to the tracker.
type Ingestor struct {
	updater     StatusUpdater
	audit       repository.AuditRepository
	verifyToken string
	logger      *slog.Logger
	now         func() time.Time
}

// NewIngestor creates an Ingestor. audit may be nil. An empty verifyToken
// rejects every handshake.
func NewIngestor(updater StatusUpdater, audit repository.AuditRepository, verifyToken string, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		updater:     updater,
		audit:       audit,
		verifyToken: verifyToken,
		logger:      logger,
		now:         time.Now,
	}
}

// MapStatus converts a provider status string. Unknown values map to SENT.
func MapStatus(s string) entity.DeliveryStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "delivered":
		return entity.DeliveryDelivered
	case "read":
		return entity.DeliveryRead
	case "failed":
		return entity.DeliveryFailed
	default:
		return entity.DeliverySent
	}
}

// eventLabel bounds the metric label to the statuses the provider
// documents. The body is unauthenticated, so anything else is "unknown".
func eventLabel(external string) string {
	switch s := strings.ToLower(strings.TrimSpace(external)); s {
	case "sent", "delivered", "read", "failed":
		return "status_" + s
	default:
		return "status_unknown"
	}
}

// Parse walks entry[].changes[].value.statuses[] and returns every status
// entry that carries a message id. Anything malformed is skipped.
func Parse(body []byte) []entity.WebhookEvent {
	if !gjson.ValidBytes(body) {
		return nil
	}
	var events []entity.WebhookEvent
	gjson.GetBytes(body, "entry").ForEach(func(_, entry gjson.Result) bool {
		entry.Get("changes").ForEach(func(_, change gjson.Result) bool {
			statuses := change.Get("value.statuses")
			if !statuses.IsArray() {
				return true
			}
			statuses.ForEach(func(_, st gjson.Result) bool {
				if !st.IsObject() {
					return true
				}
				events = append(events, entity.WebhookEvent{
					ProviderMessageID: st.Get("id").String(),
					Recipient:         st.Get("recipient_id").String(),
					ExternalStatus:    st.Get("status").String(),
					ErrorCode:         st.Get("errors.0.code").String(),
					ErrorDetails:      st.Get("errors.0.details").String(),
				})
				return true
			})
			return true
		})
		return true
	})
	return events
}

// Ingest applies every status entry of body. It never fails: malformed input
// yields zero events and store errors are counted and logged.
func (i *Ingestor) Ingest(ctx context.Context, body []byte) Stats {
	var stats Stats
	for _, ev := range Parse(body) {
		stats.Events++
		webhookEventsTotal.WithLabelValues(eventLabel(ev.ExternalStatus)).Inc()
		mapped := MapStatus(ev.ExternalStatus)

		i.logger.Info("webhook status received",
			slog.String("provider_message_id", ev.ProviderMessageID),
			slog.String("recipient", ev.Recipient),
			slog.String("status", ev.ExternalStatus),
			slog.String("error_code", ev.ErrorCode),
			slog.String("error_details", ev.ErrorDetails))

		applied := false
		if ev.ProviderMessageID != "" {
			ok, err := i.updater.UpdateFromWebhook(ctx, ev.ProviderMessageID, mapped)
			if err != nil {
				stats.Errors++
				i.logger.Error("failed to apply webhook status",
					slog.String("provider_message_id", ev.ProviderMessageID),
					slog.Any("error", err))
			}
			applied = ok
		}
		if applied {
			stats.Applied++
		}
		i.record(ctx, ev, mapped, applied)
	}
	return stats
}

func (i *Ingestor) record(ctx context.Context, ev entity.WebhookEvent, mapped entity.DeliveryStatus, applied bool) {
	if i.audit == nil {
		return
	}
	err := i.audit.RecordWebhookEvent(ctx, &entity.WebhookEventRecord{
		ProviderMessageID: ev.ProviderMessageID,
		Recipient:         ev.Recipient,
		ExternalStatus:    ev.ExternalStatus,
		MappedStatus:      mapped,
		ErrorCode:         ev.ErrorCode,
		ErrorDetails:      ev.ErrorDetails,
		Applied:           applied,
		ReceivedAt:        i.now(),
	})
	if err != nil {
		i.logger.Warn("failed to audit webhook event",
			slog.String("provider_message_id", ev.ProviderMessageID),
			slog.Any("error", err))
	}
}

// Verify answers the subscription handshake. It returns the challenge when
// mode is "subscribe" and token matches the configured verify token.
func (i *Ingestor) Verify(mode, token, challenge string) (string, error) {
	if mode != "subscribe" || i.verifyToken == "" {
		return "", ErrVerificationFailed
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(i.verifyToken)) != 1 {
		return "", ErrVerificationFailed
	}
	return challenge, nil
}
