package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-gateway/internal/handler/http/auth"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestQuota(limit int, window time.Duration) (*CallerQuota, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := NewCallerQuota(limit, window)
	q.now = clock.now
	return q, clock
}

func postAs(t *testing.T, h http.Handler, subject string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/notifications", nil)
	if subject != "" {
		req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{Subject: subject, Role: auth.RoleSender}))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCallerQuota_LimitsPerSubject(t *testing.T) {
	q, clock := newTestQuota(2, time.Minute)
	h := q.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	assert.Equal(t, http.StatusOK, postAs(t, h, "billing").Code)
	clock.t = clock.t.Add(10 * time.Second)
	assert.Equal(t, http.StatusOK, postAs(t, h, "billing").Code)

	rec := postAs(t, h, "billing")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	// 最古のリクエストが窓から外れるまで 50 秒
	assert.Equal(t, "51", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"too many requests"}`, rec.Body.String())

	// 他の呼び出し元は影響を受けない
	assert.Equal(t, http.StatusOK, postAs(t, h, "marketing").Code)

	clock.t = clock.t.Add(51 * time.Second)
	assert.Equal(t, http.StatusOK, postAs(t, h, "billing").Code)
}

func TestCallerQuota_FallsBackToRemoteIP(t *testing.T) {
	q, _ := newTestQuota(1, time.Minute)
	h := q.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	assert.Equal(t, http.StatusOK, postAs(t, h, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, postAs(t, h, "").Code)
}

func TestCallerQuota_IgnoresReads(t *testing.T) {
	q, _ := newTestQuota(1, time.Minute)
	h := q.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/abc", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestCallerQuota_NilIsUnlimited(t *testing.T) {
	q := NewCallerQuota(0, time.Minute)
	require.Nil(t, q)

	h := q.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, postAs(t, h, "anyone").Code)
	}
}

func TestCallerQuota_CleanupExpired(t *testing.T) {
	q, clock := newTestQuota(5, time.Minute)
	_, _ = q.allow("sub:a")
	clock.t = clock.t.Add(45 * time.Second)
	_, _ = q.allow("sub:b")

	clock.t = clock.t.Add(30 * time.Second)
	assert.Equal(t, 1, q.CleanupExpired())

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.NotContains(t, q.requests, "sub:a")
	assert.Contains(t, q.requests, "sub:b")
}
