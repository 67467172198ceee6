// Package connector provides HTTP clients for the outbound messaging
// providers (Telegram Bot API, WhatsApp Cloud API, Twilio SMS).
//
// Every connector shares the same call path: per-channel rate limiting,
// a per-channel circuit breaker, an OpenTelemetry span and a typed
// *ProviderError for non-2xx responses so the retry engine can classify
// the outcome.
package connector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/resilience/circuitbreaker"
)

const tracerName = "notification-gateway/connector"

// maxResponseBytes bounds how much of a provider response is read.
const maxResponseBytes = 1 << 20

// Connector sends one provider call. method selects the provider operation
// (e.g. sendPhoto for Telegram) and payload is the value produced by the
// channel's Payloader. The raw 2xx response body is returned.
type Connector interface {
	Channel() entity.Channel
	Send(ctx context.Context, method string, payload any) ([]byte, error)
}

// ProviderError is a non-2xx provider response.
type ProviderError struct {
	Channel    entity.Channel
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error: HTTP %d: %s", e.Channel, e.StatusCode, truncate(string(e.Body), 256))
}

func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

func (e *ProviderError) ResponseBody() []byte { return e.Body }

// RetryAfterHeader returns the Retry-After header, or the Bot API
// parameters.retry_after field when the header is absent.
func (e *ProviderError) RetryAfterHeader() string {
	if v := e.Header.Get("Retry-After"); v != "" {
		return v
	}
	if secs := gjson.GetBytes(e.Body, "parameters.retry_after"); secs.Exists() && secs.Int() > 0 {
		return strconv.FormatInt(secs.Int(), 10)
	}
	return ""
}

// Deps are the shared collaborators of every connector.
type Deps struct {
	HTTPClient *http.Client
	// Limiter throttles calls; nil means unlimited.
	Limiter *RateLimiter
	// Breaker guards calls; nil creates one from circuitbreaker.ProviderConfig.
	Breaker *circuitbreaker.CircuitBreaker
	Logger  *slog.Logger
}

// httpConnector is the call path shared by the provider connectors.
type httpConnector struct {
	channel entity.Channel
	client  *http.Client
	limiter *RateLimiter
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

func newHTTPConnector(ch entity.Channel, timeout time.Duration, deps Deps) httpConnector {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	breaker := deps.Breaker
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.ProviderConfig(ch))
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return httpConnector{
		channel: ch,
		client:  client,
		limiter: deps.Limiter,
		breaker: breaker,
		logger:  logger,
	}
}

func (c *httpConnector) Channel() entity.Channel { return c.channel }

// do executes the request built by build through limiter, breaker and span.
// build is invoked inside the breaker so each try gets a fresh body.
func (c *httpConnector) do(ctx context.Context, method string, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "connector."+c.channel.MetricLabel()+".send")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", c.channel.MetricLabel()),
		attribute.String("messaging.operation", method),
	)

	if c.limiter != nil {
		if err := c.limiter.Allow(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "rate limiter")
			return nil, fmt.Errorf("rate limiter error: %w", err)
		}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("create http request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}
		return nil, &ProviderError{
			Channel:    c.channel,
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Body:       body,
		}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed")
		c.logger.Debug("provider call failed",
			slog.String("channel", c.channel.String()),
			slog.String("method", method),
			slog.Any("error", err))
		return nil, err
	}
	return result.([]byte), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// New builds the connector of ch from credentials.
func New(ch entity.Channel, creds Credentials, deps Deps) (Connector, error) {
	switch ch {
	case entity.ChannelTelegram:
		return NewTelegram(creds, deps), nil
	case entity.ChannelWhatsApp:
		return NewWhatsApp(creds, deps), nil
	case entity.ChannelSMS:
		return NewTwilio(creds, deps), nil
	default:
		return nil, fmt.Errorf("%w: no connector for channel %q", entity.ErrInvalidInput, ch)
	}
}
