package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/repository"
)

// Dispatcher is the fan-out entry point of one channel. *Engine implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, in DispatchInput) Result
}

// ChannelSettings binds a channel to its dispatcher and the media kinds it
// is allowed to send.
type ChannelSettings struct {
	Dispatcher Dispatcher
	Media      map[entity.MediaKind]bool
}

// Response is the synchronous answer to a send request. Status is 200 only
// when every requested media kind was queued.
type Response struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// Service validates send requests and hands each media kind to the
// channel's dispatcher.
type Service struct {
	channels map[entity.Channel]ChannelSettings
	requests repository.SendRequestRepository
	logger   *slog.Logger
	newID    func() string
}

// NewService creates a dispatch service. requests may be nil, in which case
// request content is not persisted and fallback routing has nothing to send.
func NewService(channels map[entity.Channel]ChannelSettings, requests repository.SendRequestRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		channels: channels,
		requests: requests,
		logger:   logger,
		newID:    func() string { return uuid.New().String() },
	}
}

// Send validates req and queues every enabled media kind on ch.
//
// Validation failures return 400 without side effects. Otherwise a request
// ID is assigned and the response reports whether all, some or none of the
// media kinds were queued. Recipient outcomes are never part of the response.
func (s *Service) Send(ctx context.Context, ch entity.Channel, req *entity.SendRequest) Response {
	settings, ok := s.channels[ch]
	if !ok || settings.Dispatcher == nil {
		return Response{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("Channel %s is not configured.", displayName(ch)),
		}
	}

	if err := entity.ValidateSendRequest(ch, req); err != nil {
		var vErrs entity.ValidationErrors
		if errors.As(err, &vErrs) {
			return Response{Status: http.StatusBadRequest, Message: vErrs.Error()}
		}
		return Response{Status: http.StatusBadRequest, Message: err.Error()}
	}

	requestID := s.newID()
	req.RequestID = requestID
	req.Channel = ch
	req.CreatedAt = time.Now()
	s.saveRequest(ctx, req)

	content := req.Content()
	allQueued, anyQueued := true, false
	var disabled []string
	for _, kind := range req.MediaKinds {
		if !settings.Media[kind] {
			disabled = append(disabled, kind.DisabledError())
			RecordDropped(ch.MetricLabel(), "media_disabled")
			allQueued = false
			continue
		}
		res := settings.Dispatcher.Dispatch(ctx, DispatchInput{
			RequestID:  requestID,
			MediaKind:  kind,
			Recipients: req.Recipients,
			Content:    content,
		})
		anyQueued = anyQueued || res.Queued
		allQueued = allQueued && res.Queued
	}

	name := displayName(ch)
	suffix := ""
	if len(disabled) > 0 {
		suffix = "[" + strings.Join(disabled, ", ") + "]"
	}

	s.logger.Info("send request processed",
		slog.String("request_id", requestID),
		slog.String("channel", ch.String()),
		slog.Int("recipients", len(req.Recipients)),
		slog.Bool("all_queued", allQueued),
		slog.Bool("any_queued", anyQueued))

	switch {
	case !anyQueued:
		return Response{
			Status:    http.StatusBadRequest,
			Message:   fmt.Sprintf("Notification request couldn't be processed for %s.%s", name, suffix),
			RequestID: requestID,
		}
	case !allQueued:
		return Response{
			Status:    http.StatusBadRequest,
			Message:   fmt.Sprintf("Notification request was only partially queued for %s.%s", name, suffix),
			RequestID: requestID,
		}
	default:
		return Response{
			Status:    http.StatusOK,
			Message:   fmt.Sprintf("Notification request added to queue successfully for %s.", name),
			RequestID: requestID,
		}
	}
}

func (s *Service) saveRequest(ctx context.Context, req *entity.SendRequest) {
	if s.requests == nil {
		return
	}
	if err := s.requests.Save(ctx, req); err != nil {
		s.logger.Warn("failed to persist send request",
			slog.String("request_id", req.RequestID),
			slog.Any("error", err))
	}
}

func displayName(ch entity.Channel) string {
	if ch == entity.ChannelWhatsApp {
		return "WhatsApp"
	}
	return ch.String()
}
