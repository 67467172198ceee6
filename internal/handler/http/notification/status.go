package notification

import (
	"context"
	"net/http"

	"notification-gateway/internal/handler/http/respond"
	"notification-gateway/internal/usecase/delivery"
)

// StatusReader answers read-only lookups. *delivery.Query implements it.
type StatusReader interface {
	GetStatus(ctx context.Context, requestID string) (*delivery.StatusReport, error)
	GetMessage(ctx context.Context, providerMessageID string) (*delivery.MessageReport, error)
}

// StatusHandler serves GET /status/{requestId}.
type StatusHandler struct{ Query StatusReader }

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, err := h.Query.GetStatus(r.Context(), r.PathValue("requestId"))
	if err != nil {
		respond.SafeError(w, respond.StatusFor(err), err)
		return
	}
	respond.JSON(w, http.StatusOK, toStatusDTO(report))
}

// MessageHandler serves GET /messages/{id}, where id is the provider's
// message id (wamid, Twilio SID or Telegram chat:message pair).
type MessageHandler struct{ Query StatusReader }

func (h MessageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, err := h.Query.GetMessage(r.Context(), r.PathValue("id"))
	if err != nil {
		respond.SafeError(w, respond.StatusFor(err), err)
		return
	}
	respond.JSON(w, http.StatusOK, toMessageDTO(report))
}
