package fallback

import (
	"context"
	"fmt"
	"log/slog"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/repository"
)

// Dispatcher is the fallback channel's dispatch entry point. The call only
// queues the attempt; its outcome is tracked like any other delivery.
type Dispatcher interface {
	DispatchFallback(ctx context.Context, requestID, recipient string, kind entity.MediaKind, content entity.Content) bool
}

// Router performs at most one fallback per delivery. The set-once flag in
// the delivery store decides which caller wins when the dispatch pipeline
// and the reconciliation sweep race for the same row.
type Router struct {
	enabled    bool
	deliveries repository.DeliveryStateRepository
	requests   repository.SendRequestRepository
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewRouter creates a Router. A disabled router never reroutes.
func NewRouter(
	enabled bool,
	deliveries repository.DeliveryStateRepository,
	requests repository.SendRequestRepository,
	dispatcher Dispatcher,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		enabled:    enabled,
		deliveries: deliveries,
		requests:   requests,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Enabled reports whether the router reroutes at all.
func (r *Router) Enabled() bool { return r.enabled }

// AttemptFallback reroutes st when it is eligible and no other caller has
// already done so.
//
// Returns:
//   - true: this call won the flag and queued the fallback attempt
//   - false: disabled, ineligible, already rerouted, or nothing to send
func (r *Router) AttemptFallback(ctx context.Context, st *entity.DeliveryState) (bool, error) {
	if !r.enabled || !ShouldFallback(st) {
		return false, nil
	}
	to, err := FallbackChannel(st.Channel)
	if err != nil {
		return false, nil
	}
	from := st.Channel.MetricLabel()

	req, err := r.requests.Get(ctx, st.RequestID)
	if err != nil {
		RecordFallback(from, to.MetricLabel(), ResultStoreError)
		return false, fmt.Errorf("AttemptFallback load request: %w", err)
	}
	if req == nil {
		RecordFallback(from, to.MetricLabel(), ResultNoRequest)
		r.logger.Warn("fallback skipped: request content not found",
			slog.String("request_id", st.RequestID),
			slog.Int64("delivery_id", st.ID))
		return false, nil
	}

	won, err := r.deliveries.MarkFallbackTriggered(ctx, st.ID, to)
	if err != nil {
		RecordFallback(from, to.MetricLabel(), ResultStoreError)
		return false, fmt.Errorf("AttemptFallback mark: %w", err)
	}
	if !won {
		RecordFallback(from, to.MetricLabel(), ResultDuplicate)
		return false, nil
	}

	if !r.dispatcher.DispatchFallback(ctx, st.RequestID, st.Recipient, st.MediaKind, req.Content()) {
		RecordFallback(from, to.MetricLabel(), ResultNotQueued)
		r.logger.Error("fallback dispatch was not queued",
			slog.String("request_id", st.RequestID),
			slog.String("to", to.String()))
		return false, nil
	}

	RecordFallback(from, to.MetricLabel(), ResultTriggered)
	r.logger.Info("fallback triggered",
		slog.String("request_id", st.RequestID),
		slog.String("from", st.Channel.String()),
		slog.String("to", to.String()),
		slog.String("status", string(st.Status)))
	return true, nil
}
