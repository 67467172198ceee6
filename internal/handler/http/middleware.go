package http

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/trace"

	"notification-gateway/internal/handler/http/requestid"
	"notification-gateway/internal/handler/http/respond"
	"notification-gateway/internal/handler/http/responsewriter"
	"notification-gateway/internal/observability/logging"
)

// Request envelope limits enforced by LimitRequestSize.
const (
	MaxRequestBodyBytes  = 1 << 20 // 1MB; a full send request is a few KB
	MaxURLLength         = 2048
	MaxAuthHeaderLength  = 8192
	requestTooLargeError = "request too large"
)

// Logging logs one line per request and stores a request-scoped logger
// (carrying http_request_id and trace_id) in the context for handlers.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := responsewriter.Wrap(w)

			traceID := trace.SpanFromContext(r.Context()).SpanContext().TraceID().String()
			scoped := logging.WithRequestID(r.Context(), logger).With(slog.String("trace_id", traceID))
			r = r.WithContext(logging.WithLogger(r.Context(), scoped))

			next.ServeHTTP(wrapped, r)

			level := slog.LevelInfo
			if wrapped.StatusCode() >= 500 {
				level = slog.LevelError
			}
			scoped.LogAttrs(r.Context(), level, "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("user_agent", r.Header.Get("User-Agent")),
				slog.Int("status", wrapped.StatusCode()),
				slog.Int("bytes", wrapped.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// Recover converts a handler panic into a 500 response.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// http.ErrAbortHandler は net/http に処理を任せる
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					slog.String("http_request_id", requestid.FromContext(r.Context())),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
				)
				respond.SafeError(w, http.StatusInternalServerError, errors.New("internal error"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// LimitRequestSize rejects oversized URLs and Authorization headers with
// 414/431 and caps the body at maxBody bytes.
func LimitRequestSize(maxBody int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(r.URL.RequestURI()) > MaxURLLength {
				respond.JSON(w, http.StatusRequestURITooLong, map[string]string{"error": requestTooLargeError})
				return
			}
			if len(r.Header.Get("Authorization")) > MaxAuthHeaderLength {
				respond.JSON(w, http.StatusRequestHeaderFieldsTooLarge, map[string]string{"error": requestTooLargeError})
				return
			}
			if r.ContentLength > maxBody {
				respond.JSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": requestTooLargeError})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
			next.ServeHTTP(w, r)
		})
	}
}

// Chain applies middleware so that the first argument is outermost.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
