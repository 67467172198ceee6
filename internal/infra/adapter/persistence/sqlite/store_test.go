package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/infra/adapter/persistence/sqlite"
	"notification-gateway/internal/infra/db"
	"notification-gateway/internal/repository"
)

// ─────────────────────────────────────────────
// ヘルパ
// ─────────────────────────────────────────────
func newStore(t *testing.T) repository.Store {
	t.Helper()
	sqlDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.MigrateUpSQLite(sqlDB))
	return sqlite.NewStore(sqlDB)
}

var key = entity.DeliveryKey{
	RequestID: "req-1",
	Channel:   entity.ChannelWhatsApp,
	Recipient: "+15550001",
	MediaKind: entity.MediaText,
}

// ─────────────────────────────────────────────
// 1. Idempotency
// ─────────────────────────────────────────────
func TestIdempotency_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).Idempotency
	now := time.Now()

	ok, err := repo.TryStart(ctx, key, now)
	require.NoError(t, err)
	assert.True(t, ok)
	first, err := repo.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, first)

	ok, err = repo.TryStart(ctx, key, now)
	require.NoError(t, err)
	assert.False(t, ok, "IN_PROGRESS must reject")

	require.NoError(t, repo.MarkFailed(ctx, key))
	ok, err = repo.TryStart(ctx, key, now)
	require.NoError(t, err)
	assert.True(t, ok, "FAILED must be reusable")
	reused, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first.ID, reused.ID, "retry resets the same row")

	require.NoError(t, repo.MarkCompleted(ctx, key, now))
	ok, err = repo.TryStart(ctx, key, now)
	require.NoError(t, err)
	assert.False(t, ok, "COMPLETED must reject")

	// MarkFailed after completion is a no-op
	require.NoError(t, repo.MarkFailed(ctx, key))
	rec, err := repo.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, entity.IdempotencyCompleted, rec.Status)
	require.NotNil(t, rec.CompletedAt)
	assert.Equal(t, now.UnixMilli(), rec.CompletedAt.UnixMilli())

	missing, err := repo.Get(ctx, entity.DeliveryKey{RequestID: "nope"})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIdempotency_ConcurrentTryStart(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).Idempotency

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.TryStart(ctx, key, time.Now())
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

// ─────────────────────────────────────────────
// 2. Delivery state
// ─────────────────────────────────────────────
func TestDeliveryState_UpsertAndWebhook(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).Deliveries
	t0 := time.Now().Add(-time.Hour)

	require.NoError(t, repo.Upsert(ctx, key, repository.DeliveryUpdate{Status: entity.DeliveryQueued}, t0))
	require.NoError(t, repo.Upsert(ctx, key, repository.DeliveryUpdate{Status: entity.DeliverySent, ProviderMessageID: "wamid.1"}, t0))

	// an empty provider id keeps the stored one
	require.NoError(t, repo.Upsert(ctx, key, repository.DeliveryUpdate{Status: entity.DeliverySent}, t0))
	st, err := repo.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "wamid.1", st.ProviderMessageID)

	t1 := t0.Add(time.Minute)
	applied, err := repo.ApplyWebhookStatus(ctx, "wamid.1", entity.DeliveryRead, t1)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.ApplyWebhookStatus(ctx, "wamid.1", entity.DeliveryDelivered, t1.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, applied, "stale status must not regress")

	applied, err = repo.ApplyWebhookStatus(ctx, "wamid.1", entity.DeliveryFailed, t1.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, applied, "webhook FAILED never applies")

	st, err = repo.GetByProviderMessageID(ctx, "wamid.1")
	require.NoError(t, err)
	assert.Equal(t, entity.DeliveryRead, st.Status)
	assert.Equal(t, t1.UnixMilli(), st.UpdatedAt.UnixMilli(), "rejected updates keep updatedAt")
}

func TestDeliveryState_FailedIsTerminalForWebhooks(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).Deliveries

	require.NoError(t, repo.Upsert(ctx, key, repository.DeliveryUpdate{Status: entity.DeliveryFailed, ProviderMessageID: "wamid.2", FailureReason: "server_error"}, time.Now()))
	applied, err := repo.ApplyWebhookStatus(ctx, "wamid.2", entity.DeliveryRead, time.Now())
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestDeliveryState_MarkFallbackTriggeredOnce(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).Deliveries
	t0 := time.Now().Add(-time.Hour)

	require.NoError(t, repo.Upsert(ctx, key, repository.DeliveryUpdate{Status: entity.DeliverySent}, t0))
	st, err := repo.Get(ctx, key)
	require.NoError(t, err)

	won, err := repo.MarkFallbackTriggered(ctx, st.ID, entity.ChannelSMS)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.MarkFallbackTriggered(ctx, st.ID, entity.ChannelSMS)
	require.NoError(t, err)
	assert.False(t, won)

	st, err = repo.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, st.FallbackTriggered)
	assert.Equal(t, entity.ChannelSMS, st.FallbackChannel)
	assert.Equal(t, t0.UnixMilli(), st.UpdatedAt.UnixMilli(), "flag must not touch updated_at")
}

func TestDeliveryState_FindStaleAndList(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).Deliveries
	now := time.Now()

	old := key
	fresh := key
	fresh.Recipient = "+15550002"
	require.NoError(t, repo.Upsert(ctx, old, repository.DeliveryUpdate{Status: entity.DeliverySent}, now.Add(-time.Hour)))
	require.NoError(t, repo.Upsert(ctx, fresh, repository.DeliveryUpdate{Status: entity.DeliverySent}, now))

	stale, err := repo.FindStale(ctx, entity.DeliverySent, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "+15550001", stale[0].Recipient)

	all, err := repo.ListByRequestID(ctx, "req-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// ─────────────────────────────────────────────
// 3. Requests and audit
// ─────────────────────────────────────────────
func TestSendRequest_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).Requests

	req := &entity.SendRequest{
		RequestID:   "req-1",
		Channel:     entity.ChannelWhatsApp,
		Recipients:  []string{"+1", "+2"},
		MediaKinds:  []entity.MediaKind{entity.MediaText, entity.MediaVideo},
		TextMessage: "hi",
		VideoURL:    "https://cdn.example.com/v.mp4",
		CreatedAt:   time.UnixMilli(time.Now().UnixMilli()).UTC(),
	}
	require.NoError(t, repo.Save(ctx, req))
	// duplicate save is ignored
	require.NoError(t, repo.Save(ctx, req))

	got, err := repo.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, req, got)

	missing, err := repo.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAudit_Records(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).Audit

	a := &entity.DeliveryAttempt{RequestID: "req-1", Channel: entity.ChannelSMS, Recipient: "+1", MediaKind: entity.MediaText, Success: false, ErrorMessage: "boom", CreatedAt: time.Now()}
	require.NoError(t, repo.RecordAttempt(ctx, a))
	assert.NotZero(t, a.ID)

	for _, s := range []string{"sent", "delivered"} {
		require.NoError(t, repo.RecordWebhookEvent(ctx, &entity.WebhookEventRecord{
			ProviderMessageID: "wamid.1", ExternalStatus: s, MappedStatus: entity.DeliveryStatus(s), Applied: true, ReceivedAt: time.Now(),
		}))
	}
	events, err := repo.ListWebhookEvents(ctx, "wamid.1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "sent", events[0].ExternalStatus)
	assert.True(t, events[1].Applied)
}
