package dispatch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"notification-gateway/internal/resilience/retry"
)

// Failure reason buckets stored on FAILED deliveries and used as metric labels.
const (
	ReasonTimeout     = "timeout"
	ReasonRateLimit   = "rate_limit"
	ReasonServerError = "server_error"
	ReasonAuth        = "auth"
	ReasonOther       = "other"
)

// FailureReason buckets a terminal provider error. Typed HTTP statuses are
// checked first and message heuristics second.
func FailureReason(err error) string {
	if err == nil {
		return ReasonOther
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	var respErr retry.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatus()
		switch {
		case status == http.StatusTooManyRequests:
			return ReasonRateLimit
		case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
			return ReasonTimeout
		case status == http.StatusUnauthorized, status == http.StatusForbidden:
			return ReasonAuth
		case status >= 500:
			return ReasonServerError
		default:
			return ReasonOther
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return ReasonTimeout
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return ReasonRateLimit
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "forbidden"):
		return ReasonAuth
	default:
		return ReasonOther
	}
}
