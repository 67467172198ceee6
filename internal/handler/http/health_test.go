package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBreakers map[string]string

func (f fakeBreakers) States() map[string]string { return f }

func decodeHealth(t *testing.T, rr *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

func TestHealthHandler_InMemoryStore(t *testing.T) {
	h := &HealthHandler{Version: "test", Breakers: fakeBreakers{"telegram": "closed", "sms": "closed"}}
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	resp := decodeHealth(t, rr)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, "in-memory store", resp.Checks["database"].Message)
	assert.Equal(t, StatusHealthy, resp.Checks["providers"].Status)
}

func TestHealthHandler_Database(t *testing.T) {
	tests := []struct {
		name       string
		maxOpen    int
		pingErr    error
		wantCode   int
		wantStatus string
	}{
		{"healthy pool", 10, nil, http.StatusOK, StatusHealthy},
		{"unbounded pool is degraded", 0, nil, http.StatusOK, StatusDegraded},
		{"ping failure", 10, errors.New("connection refused"), http.StatusServiceUnavailable, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
			require.NoError(t, err)
			defer db.Close()
			db.SetMaxOpenConns(tt.maxOpen)

			ping := mock.ExpectPing()
			if tt.pingErr != nil {
				ping.WillReturnError(tt.pingErr)
			}

			rr := httptest.NewRecorder()
			(&HealthHandler{DB: db}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Equal(t, tt.wantStatus, decodeHealth(t, rr).Checks["database"].Status)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestHealthHandler_OpenBreakerDegrades(t *testing.T) {
	h := &HealthHandler{Breakers: fakeBreakers{"whatsapp": "open", "telegram": "half-open", "sms": "closed"}}
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	resp := decodeHealth(t, rr)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, "circuit open: whatsapp", resp.Checks["providers"].Message)
}

func TestReadyHandler(t *testing.T) {
	t.Run("in-memory store", func(t *testing.T) {
		rr := httptest.NewRecorder()
		(&ReadyHandler{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "ready", rr.Body.String())
	})

	t.Run("database down", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectPing().WillReturnError(errors.New("down"))

		rr := httptest.NewRecorder()
		(&ReadyHandler{DB: db}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}

func TestLiveHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	(&LiveHandler{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "alive", rr.Body.String())
}
