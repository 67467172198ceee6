// Package webhook exposes the provider callback endpoint used by the
// WhatsApp Cloud API for delivery status updates.
package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"notification-gateway/internal/handler/http/respond"
	"notification-gateway/internal/observability/logging"
	webhookUC "notification-gateway/internal/usecase/webhook"
)

// Ingestor processes callbacks. *webhookUC.Ingestor implements it.
type Ingestor interface {
	Ingest(ctx context.Context, body []byte) webhookUC.Stats
	Verify(mode, token, challenge string) (string, error)
}

// VerifyHandler answers the GET subscription handshake.
type VerifyHandler struct{ Ingestor Ingestor }

func (h VerifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, err := h.Ingestor.Verify(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"))
	if err != nil {
		logging.FromContext(r.Context()).Warn("webhook verification rejected",
			slog.String("mode", q.Get("hub.mode")))
		respond.JSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// EventsHandler accepts POSTed status callbacks. It always answers 200 so
// the provider does not redeliver payloads the gateway cannot use.
type EventsHandler struct{ Ingestor Ingestor }

func (h EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Warn("webhook body unreadable", slog.Any("error", err))
		respond.JSON(w, http.StatusOK, map[string]int{"events": 0})
		return
	}

	stats := h.Ingestor.Ingest(r.Context(), body)
	logger.Debug("webhook processed",
		slog.Int("events", stats.Events),
		slog.Int("applied", stats.Applied),
		slog.Int("errors", stats.Errors))
	respond.JSON(w, http.StatusOK, map[string]int{"events": stats.Events})
}

// Register mounts the callback routes under /webhooks/{provider}.
func Register(mux *http.ServeMux, ing Ingestor) {
	mux.Handle("GET /webhooks/whatsapp", VerifyHandler{Ingestor: ing})
	mux.Handle("POST /webhooks/whatsapp", EventsHandler{Ingestor: ing})
}
