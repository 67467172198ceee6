// Package dispatch fans one send request out into independent
// per-recipient delivery attempts against a single provider channel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/infra/connector"
	"notification-gateway/internal/repository"
	"notification-gateway/internal/resilience/retry"
	"notification-gateway/internal/usecase/delivery"
	"notification-gateway/internal/usecase/idempotency"
)

const (
	defaultMaxConcurrency = 5
	defaultAttemptTimeout = 2 * time.Minute
	maxAuditBodyBytes     = 4096
)

// FallbackHandler receives deliveries that failed terminally.
type FallbackHandler interface {
	AttemptFallback(ctx context.Context, st *entity.DeliveryState) (bool, error)
}

// Config holds the per-channel tuning of an Engine.
type Config struct {
	// MaxConcurrency bounds the parallel pipelines of one fan-out
	MaxConcurrency int

	// AttemptTimeout bounds one recipient pipeline including retries
	AttemptTimeout time.Duration
}

// Deps are the collaborators of an Engine. Audit, Fallback and Logger are optional.
type Deps struct {
	Connector connector.Connector
	Payloader connector.Payloader
	Policy    *retry.Policy
	Guard     *idempotency.Guard
	Tracker   *delivery.Tracker
	Audit     repository.AuditRepository
	Fallback  FallbackHandler
	Logger    *slog.Logger
}

// DispatchInput is one media kind of a send request.
type DispatchInput struct {
	RequestID  string
	MediaKind  entity.MediaKind
	Recipients []string
	Content    entity.Content
}

// Result reports whether the fan-out was accepted. It says nothing about
// the outcome of individual recipients.
type Result struct {
	Queued     bool
	Recipients int
}

// Engine dispatches deliveries for one channel.
type Engine struct {
	channel   entity.Channel
	cfg       Config
	conn      connector.Connector
	payloader connector.Payloader
	policy    *retry.Policy
	guard     *idempotency.Guard
	tracker   *delivery.Tracker
	audit     repository.AuditRepository
	fallback  FallbackHandler
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewEngine creates the dispatch engine of the connector's channel.
func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ch := deps.Connector.Channel()
	policy := deps.Policy
	if policy == nil {
		policy = retry.ForChannel(ch, retry.DefaultConfig()).WithLogger(logger)
	}
	return &Engine{
		channel:   ch,
		cfg:       cfg,
		conn:      deps.Connector,
		payloader: deps.Payloader,
		policy:    policy,
		guard:     deps.Guard,
		tracker:   deps.Tracker,
		audit:     deps.Audit,
		fallback:  deps.Fallback,
		logger:    logger.With(slog.String("channel", ch.String())),
	}
}

// Channel returns the channel this engine delivers to.
func (e *Engine) Channel() entity.Channel { return e.channel }

// Dispatch accepts the fan-out of in and returns immediately. Each trimmed,
// non-empty recipient runs its own pipeline; at most
// min(MaxConcurrency, len(recipients)) run at once. The pipelines outlive
// ctx's cancellation but keep its values.
func (e *Engine) Dispatch(ctx context.Context, in DispatchInput) Result {
	recipients := normalizeRecipients(in.Recipients)
	if len(recipients) == 0 {
		e.logger.Warn("no recipients to dispatch",
			slog.String("request_id", in.RequestID),
			slog.String("media", in.MediaKind.String()))
		return Result{}
	}

	limit := min(e.cfg.MaxConcurrency, len(recipients))
	bg := context.WithoutCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		var g errgroup.Group
		g.SetLimit(limit)
		for _, r := range recipients {
			g.Go(func() error {
				e.deliver(bg, in.RequestID, in.MediaKind, r, in.Content)
				// Pipelines never fail the group so siblings keep running.
				return nil
			})
		}
		_ = g.Wait()
		e.logger.Info("fan-out finished",
			slog.String("request_id", in.RequestID),
			slog.String("media", in.MediaKind.String()),
			slog.Int("recipients", len(recipients)))
	}()

	e.logger.Info("fan-out accepted",
		slog.String("request_id", in.RequestID),
		slog.String("media", in.MediaKind.String()),
		slog.Int("recipients", len(recipients)),
		slog.Int("concurrency", limit))
	return Result{Queued: true, Recipients: len(recipients)}
}

// DispatchFallback queues a single rerouted delivery on this engine.
// The media kind of the original attempt is kept in the idempotency key.
func (e *Engine) DispatchFallback(ctx context.Context, requestID, recipient string, kind entity.MediaKind, content entity.Content) bool {
	return e.Dispatch(ctx, DispatchInput{
		RequestID:  requestID,
		MediaKind:  kind,
		Recipients: []string{recipient},
		Content:    content,
	}).Queued
}

// Wait blocks until every accepted fan-out has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown waits for in-flight fan-outs until ctx expires.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s engine shutdown: %w", e.channel, ctx.Err())
	}
}

func normalizeRecipients(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// deliver runs the per-recipient pipeline. It never panics and never returns
// an error: every outcome is recorded in the stores and metrics.
func (e *Engine) deliver(parent context.Context, requestID string, kind entity.MediaKind, recipient string, content entity.Content) {
	sc := entity.NewSendContext(requestID, e.channel, kind, recipient)
	ch, media := e.channel.MetricLabel(), strings.ToLower(kind.String())
	// settled flips once the terminal metric is recorded. A pipeline that
	// started but never settled still owns its in-flight slot.
	started, settled := false, false

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in delivery pipeline",
				slog.String("request_id", requestID),
				slog.String("recipient", recipient),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			if started && !settled {
				e.failAfterPanic(parent, sc, r, &settled)
			}
		}
	}()

	ok, err := e.guard.TryStart(parent, sc.Key())
	if err != nil {
		RecordDropped(ch, "store_error")
		e.logger.Error("idempotency check failed",
			slog.String("request_id", requestID),
			slog.String("recipient", recipient),
			slog.Any("error", err))
		return
	}
	if !ok {
		RecordDropped(ch, "duplicate")
		e.logger.Info("duplicate attempt skipped",
			slog.String("request_id", requestID),
			slog.String("recipient", recipient),
			slog.String("media", kind.String()))
		return
	}

	started = true
	RecordAttempt(ch, media)
	if err := e.tracker.MarkQueued(parent, sc); err != nil {
		e.logger.Warn("failed to record QUEUED", slog.String("request_id", requestID), slog.Any("error", err))
	}

	ctx, cancel := context.WithTimeout(parent, e.cfg.AttemptTimeout)
	defer cancel()

	method, payload, err := e.payloader.Build(kind, recipient, content)
	if err != nil {
		e.fail(parent, sc, err, nil, &settled)
		return
	}

	sc.MarkStart()
	var body []byte
	err = e.policy.Do(ctx, func(ctx context.Context) error {
		b, err := e.conn.Send(ctx, method, payload)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		e.fail(parent, sc, err, responseBody(err), &settled)
		return
	}
	e.succeed(parent, sc, body, &settled)
}

// failAfterPanic settles a pipeline that panicked before its terminal
// metric. A second panic while failing is logged and dropped.
func (e *Engine) failAfterPanic(ctx context.Context, sc *entity.SendContext, cause any, settled *bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while failing delivery",
				slog.String("request_id", sc.RequestID),
				slog.Any("panic", r))
		}
	}()
	e.fail(ctx, sc, fmt.Errorf("panic: %v", cause), nil, settled)
}

func (e *Engine) succeed(ctx context.Context, sc *entity.SendContext, body []byte, settled *bool) {
	elapsed := sc.Elapsed()
	messageID := e.payloader.MessageID(sc.Recipient, body)

	if err := e.guard.MarkCompleted(ctx, sc.Key()); err != nil {
		e.logger.Warn("failed to complete idempotency record", slog.String("request_id", sc.RequestID), slog.Any("error", err))
	}
	e.recordAttempt(ctx, &entity.DeliveryAttempt{
		RequestID:         sc.RequestID,
		Channel:           sc.Channel,
		Recipient:         sc.Recipient,
		MediaKind:         sc.MediaKind,
		Success:           true,
		ProviderMessageID: messageID,
		ResponseBody:      truncateBody(body),
		CreatedAt:         time.Now(),
	})
	if err := e.tracker.MarkSent(ctx, sc, messageID); err != nil {
		e.logger.Warn("failed to record SENT", slog.String("request_id", sc.RequestID), slog.Any("error", err))
	}

	RecordSuccess(sc.Channel.MetricLabel(), strings.ToLower(sc.MediaKind.String()), elapsed)
	*settled = true
	e.logger.Info("delivery sent",
		slog.String("request_id", sc.RequestID),
		slog.String("recipient", sc.Recipient),
		slog.String("media", sc.MediaKind.String()),
		slog.String("provider_message_id", messageID),
		slog.Duration("duration", elapsed))
}

func (e *Engine) fail(ctx context.Context, sc *entity.SendContext, cause error, body []byte, settled *bool) {
	elapsed := sc.Elapsed()
	reason := FailureReason(cause)

	if err := e.guard.MarkFailed(ctx, sc.Key()); err != nil {
		e.logger.Warn("failed to fail idempotency record", slog.String("request_id", sc.RequestID), slog.Any("error", err))
	}
	e.recordAttempt(ctx, &entity.DeliveryAttempt{
		RequestID:    sc.RequestID,
		Channel:      sc.Channel,
		Recipient:    sc.Recipient,
		MediaKind:    sc.MediaKind,
		Success:      false,
		ResponseBody: truncateBody(body),
		ErrorMessage: cause.Error(),
		CreatedAt:    time.Now(),
	})
	if err := e.tracker.MarkFailed(ctx, sc, reason); err != nil {
		e.logger.Warn("failed to record FAILED", slog.String("request_id", sc.RequestID), slog.Any("error", err))
	}

	RecordFailure(sc.Channel.MetricLabel(), strings.ToLower(sc.MediaKind.String()), reason, elapsed)
	*settled = true
	e.logger.Warn("delivery failed",
		slog.String("request_id", sc.RequestID),
		slog.String("recipient", sc.Recipient),
		slog.String("media", sc.MediaKind.String()),
		slog.String("reason", reason),
		slog.Duration("duration", elapsed),
		slog.Any("error", cause))

	e.routeFallback(ctx, sc)
}

func (e *Engine) routeFallback(ctx context.Context, sc *entity.SendContext) {
	if e.fallback == nil {
		return
	}
	st, err := e.tracker.Get(ctx, sc.Key())
	if err != nil || st == nil {
		e.logger.Warn("fallback skipped: delivery state unavailable",
			slog.String("request_id", sc.RequestID),
			slog.Any("error", err))
		return
	}
	if _, err := e.fallback.AttemptFallback(ctx, st); err != nil {
		e.logger.Error("fallback routing failed",
			slog.String("request_id", sc.RequestID),
			slog.Any("error", err))
	}
}

// recordAttempt audits a terminal outcome. Errors are logged only.
func (e *Engine) recordAttempt(ctx context.Context, a *entity.DeliveryAttempt) {
	if e.audit == nil {
		return
	}
	if err := e.audit.RecordAttempt(ctx, a); err != nil {
		e.logger.Warn("failed to audit delivery attempt",
			slog.String("request_id", a.RequestID),
			slog.Any("error", err))
	}
}

func responseBody(err error) []byte {
	var re retry.ResponseError
	if errors.As(err, &re) {
		return re.ResponseBody()
	}
	return nil
}

func truncateBody(b []byte) string {
	if len(b) > maxAuditBodyBytes {
		return string(b[:maxAuditBodyBytes])
	}
	return string(b)
}
