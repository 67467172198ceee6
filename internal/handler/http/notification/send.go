package notification

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/handler/http/respond"
	"notification-gateway/internal/observability/logging"
	"notification-gateway/internal/usecase/dispatch"
)

// ClientTypeHeader names the target channel of a send request.
const ClientTypeHeader = "ClientType"

// Sender queues a validated send request. *dispatch.Service implements it.
type Sender interface {
	Send(ctx context.Context, ch entity.Channel, req *entity.SendRequest) dispatch.Response
}

// SendHandler serves POST /notifications and its legacy alias.
type SendHandler struct{ Svc Sender }

// ServeHTTP 通知送信リクエストを受け付ける
//
// The channel comes from the ClientType header, or the channel query
// parameter when the header is absent. The response mirrors
// dispatch.Response: 200 when every media kind was queued, 400 otherwise.
func (h SendHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	raw := r.Header.Get(ClientTypeHeader)
	if raw == "" {
		raw = r.URL.Query().Get("channel")
	}
	ch, err := entity.ParseChannel(raw)
	if err != nil {
		respond.JSON(w, http.StatusBadRequest, dispatch.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid or missing ClientType header.",
		})
		return
	}

	var body SendRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respond.JSON(w, http.StatusRequestEntityTooLarge, dispatch.Response{
				Status:  http.StatusRequestEntityTooLarge,
				Message: "Request body too large.",
			})
			return
		}
		logger.Debug("send request rejected", slog.String("reason", "decode"), slog.Any("error", err))
		respond.JSON(w, http.StatusBadRequest, dispatch.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid request body.",
		})
		return
	}

	resp := h.Svc.Send(r.Context(), ch, body.toEntity())
	respond.JSON(w, resp.Status, resp)
}
