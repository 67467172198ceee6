// Package retry provides provider-aware retry logic with exponential backoff and jitter.
// It classifies provider responses, honours Retry-After and re-invokes the
// operation until it succeeds, fails permanently or runs out of attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tidwall/gjson"

	"notification-gateway/internal/domain/entity"
)

// Config holds the configuration for retry logic.
type Config struct {
	// MaxAttempts is the total number of tries including the first one
	MaxAttempts int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff (not Retry-After)
	MaxDelay time.Duration

	// JitterFraction is the symmetric random spread applied to the backoff (0.0 to 1.0)
	JitterFraction float64

	// MinDelay is the floor applied after jitter
	MinDelay time.Duration
}

// DefaultConfig returns the per-channel provider defaults: 4 attempts,
// 1s initial backoff capped at 5s, ±20% jitter, never below 100ms.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    4,
		InitialDelay:   1 * time.Second,
		MaxDelay:       5 * time.Second,
		JitterFraction: 0.2,
		MinDelay:       100 * time.Millisecond,
	}
}

// WhatsAppRetryableCodes lists the Graph API error codes that are worth
// retrying even when the HTTP status is a 4xx.
var WhatsAppRetryableCodes = []int{1, 2, 4, 17, 341, 80007, 130429, 131000, 131016, 131056}

// CodeExtractor pulls a provider-specific error code out of a response body.
type CodeExtractor func(body []byte) (int, bool)

// GraphErrorCode reads error.code from a Graph API error body.
func GraphErrorCode(body []byte) (int, bool) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return 0, false
	}
	code := gjson.GetBytes(body, "error.code")
	if !code.Exists() || code.Type != gjson.Number {
		return 0, false
	}
	return int(code.Int()), true
}

// ResponseError is implemented by errors that carry an HTTP response.
type ResponseError interface {
	error
	HTTPStatus() int
	RetryAfterHeader() string
	ResponseBody() []byte
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Header     http.Header
	Body       []byte
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) HTTPStatus() int { return e.StatusCode }

func (e *HTTPError) RetryAfterHeader() string { return e.Header.Get("Retry-After") }

func (e *HTTPError) ResponseBody() []byte { return e.Body }

// Policy is the retry behaviour of one channel.
type Policy struct {
	Channel        entity.Channel
	Config         Config
	RetryableCodes map[int]struct{}
	ExtractCode    CodeExtractor

	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

// NewPolicy creates a policy without an error-code allowlist.
func NewPolicy(ch entity.Channel, cfg Config) *Policy {
	return &Policy{
		Channel: ch,
		Config:  cfg,
		logger:  slog.Default(),
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

// WhatsAppPolicy creates a policy that also retries allowlisted Graph API codes.
func WhatsAppPolicy(cfg Config) *Policy {
	p := NewPolicy(entity.ChannelWhatsApp, cfg)
	p.RetryableCodes = make(map[int]struct{}, len(WhatsAppRetryableCodes))
	for _, c := range WhatsAppRetryableCodes {
		p.RetryableCodes[c] = struct{}{}
	}
	p.ExtractCode = GraphErrorCode
	return p
}

// ForChannel returns the policy matching the channel's provider semantics.
func ForChannel(ch entity.Channel, cfg Config) *Policy {
	if ch == entity.ChannelWhatsApp {
		return WhatsAppPolicy(cfg)
	}
	return NewPolicy(ch, cfg)
}

// WithLogger sets the logger used for retry warnings.
func (p *Policy) WithLogger(l *slog.Logger) *Policy {
	if l != nil {
		p.logger = l
	}
	return p
}

// Do executes fn until it succeeds, returns a non-retryable error or the
// attempt budget is spent. fn receives ctx on every try and must build its
// request afresh. On exhaustion the last error is returned unchanged, as it
// is when ctx ends during a wait or its deadline falls before the next try.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	maxAttempts := p.Config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 1 {
				p.logger.Info("provider call succeeded after retry",
					slog.String("channel", p.Channel.String()),
					slog.Int("attempt", attempt))
			}
			return nil
		}

		if !p.IsRetryable(lastErr) {
			return lastErr
		}

		// Don't wait after last attempt
		if attempt == maxAttempts {
			break
		}

		delay := p.Delay(attempt, lastErr)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
			p.logger.Warn("provider retry delay exceeds attempt deadline, giving up",
				slog.String("channel", p.Channel.String()),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.Any("error", lastErr))
			return lastErr
		}
		p.logger.Warn("provider call failed, retrying",
			slog.String("channel", p.Channel.String()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("delay", delay),
			slog.Any("error", lastErr))
		RecordRetry(p.Channel)

		// 待機中に打ち切られても原因は直前の失敗のまま返す
		if err := p.sleep(ctx, delay); err != nil {
			return lastErr
		}
	}

	return lastErr
}

// IsRetryable determines if an error is worth retrying on this channel.
func (p *Policy) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are not retryable
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var respErr ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatus()
		switch {
		case status >= 500 && status < 600:
			return true
		case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
			return true
		case status >= 400 && status < 500:
			return p.allowlisted(respErr.ResponseBody())
		default:
			return false
		}
	}

	return isTransportError(err)
}

func (p *Policy) allowlisted(body []byte) bool {
	if p.ExtractCode == nil || len(p.RetryableCodes) == 0 {
		return false
	}
	code, ok := p.ExtractCode(body)
	if !ok {
		return false
	}
	_, ok = p.RetryableCodes[code]
	return ok
}

// isTransportError reports network level failures where no response was read.
func isTransportError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}

// Delay returns how long to wait after the given failed attempt (1-based).
// A parsable Retry-After header wins over the computed backoff.
func (p *Policy) Delay(attempt int, err error) time.Duration {
	var respErr ResponseError
	if errors.As(err, &respErr) {
		if d, ok := ParseRetryAfter(respErr.RetryAfterHeader(), p.now()); ok {
			return d
		}
	}
	return ComputeBackoff(p.Config, attempt)
}

// ComputeBackoff returns min(initial*2^(attempt-1), max) with symmetric
// jitter, floored at MinDelay.
func ComputeBackoff(cfg Config, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(cfg.InitialDelay) * math.Pow(2, float64(attempt-1))
	if cfg.MaxDelay > 0 && base > float64(cfg.MaxDelay) {
		base = float64(cfg.MaxDelay)
	}
	delay := addJitter(time.Duration(base), cfg.JitterFraction)
	if delay < cfg.MinDelay {
		delay = cfg.MinDelay
	}
	return delay
}

// ParseRetryAfter accepts delta-seconds or an HTTP-date.
func ParseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// addJitter spreads duration by ±jitterFraction to prevent thundering herd.
func addJitter(duration time.Duration, jitterFraction float64) time.Duration {
	if jitterFraction <= 0 {
		return duration
	}
	if jitterFraction > 1.0 {
		jitterFraction = 1.0
	}
	// #nosec G404 -- Using math/rand is acceptable for jitter calculation.
	// Cryptographic randomness is not required for retry backoff jitter.
	spread := (rand.Float64()*2 - 1) * jitterFraction
	return time.Duration(float64(duration) * (1 + spread))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
