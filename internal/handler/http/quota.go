package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"notification-gateway/internal/handler/http/auth"
	"notification-gateway/internal/handler/http/respond"
)

var quotaRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "http_caller_quota_rejected_total",
	Help: "Send requests rejected because the caller exceeded its quota",
})

// CallerQuota is a sliding window limit on send requests per caller.
// Callers are keyed by JWT subject, or by remote IP when unauthenticated.
// Only POST requests count; status lookups are never limited.
type CallerQuota struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	requests map[string][]time.Time
}

// NewCallerQuota creates a quota of limit requests per window.
// A non-positive limit returns nil, which Middleware treats as unlimited.
func NewCallerQuota(limit int, window time.Duration) *CallerQuota {
	if limit <= 0 || window <= 0 {
		return nil
	}
	return &CallerQuota{
		limit:    limit,
		window:   window,
		now:      time.Now,
		requests: make(map[string][]time.Time),
	}
}

// Middleware rejects over-quota send requests with 429 and Retry-After.
// It must run inside the auth middleware so the principal is known.
func (q *CallerQuota) Middleware(next http.Handler) http.Handler {
	if q == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		key := callerKey(r)
		if wait, ok := q.allow(key); !ok {
			quotaRejectedTotal.Inc()
			slog.Warn("caller quota exceeded",
				slog.String("caller", key),
				slog.String("path", r.URL.Path),
				slog.Int("limit", q.limit),
				slog.Duration("window", q.window))
			w.Header().Set("Retry-After", strconv.Itoa(int(wait/time.Second)+1))
			respond.JSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerKey(r *http.Request) string {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok && p.Subject != "" {
		return "sub:" + p.Subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// allow records a request for key when it is within the quota. When it
// is not, the returned duration is the time until the oldest request in
// the window expires.
func (q *CallerQuota) allow(key string) (time.Duration, bool) {
	now := q.now()
	cutoff := now.Add(-q.window)

	q.mu.Lock()
	defer q.mu.Unlock()

	valid := q.requests[key][:0]
	for _, ts := range q.requests[key] {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}
	if len(valid) >= q.limit {
		q.requests[key] = valid
		return valid[0].Sub(cutoff), false
	}
	q.requests[key] = append(valid, now)
	return 0, true
}

// CleanupExpired drops callers with no request inside the window and
// returns how many were removed.
func (q *CallerQuota) CleanupExpired() int {
	cutoff := q.now().Add(-q.window)

	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for key, ts := range q.requests {
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(q.requests, key)
			removed++
		}
	}
	return removed
}

// StartCleanup runs CleanupExpired every interval until ctx is done.
func (q *CallerQuota) StartCleanup(ctx context.Context, interval time.Duration) {
	if q == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := q.CleanupExpired(); n > 0 {
				slog.Debug("caller quota cleanup", slog.Int("removed", n))
			}
		}
	}
}
