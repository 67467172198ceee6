package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/repository"
)

var key = entity.DeliveryKey{RequestID: "r", Channel: entity.ChannelWhatsApp, Recipient: "+1", MediaKind: entity.MediaText}

func TestIdempotency_TryStartTransitions(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Repositories().Idempotency

	tests := []struct {
		name   string
		before func()
		want   bool
	}{
		{"absent", func() {}, true},
		{"in progress", func() {}, false},
		{"failed", func() { _ = repo.MarkFailed(ctx, key) }, true},
		{"completed", func() { _ = repo.MarkCompleted(ctx, key, time.Now()) }, false},
	}
	for _, tt := range tests {
		tt.before()
		ok, err := repo.TryStart(ctx, key, time.Now())
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, tt.name)
	}
}

func TestIdempotency_ConcurrentTryStart(t *testing.T) {
	repo := NewStore().Repositories().Idempotency
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := repo.TryStart(context.Background(), key, time.Now()); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestDelivery_WebhookPrecedence(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Repositories().Deliveries

	require.NoError(t, repo.Upsert(ctx, key, repository.DeliveryUpdate{Status: entity.DeliverySent, ProviderMessageID: "m1"}, time.Now()))

	ok, _ := repo.ApplyWebhookStatus(ctx, "m1", entity.DeliveryDelivered, time.Now())
	assert.True(t, ok)
	ok, _ = repo.ApplyWebhookStatus(ctx, "m1", entity.DeliverySent, time.Now())
	assert.False(t, ok)
	ok, _ = repo.ApplyWebhookStatus(ctx, "m1", entity.DeliveryFailed, time.Now())
	assert.False(t, ok)

	st, err := repo.GetByProviderMessageID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, entity.DeliveryDelivered, st.Status)
}

func TestIdempotency_RetryReusesRow(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Repositories().Idempotency
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	ok, err := repo.TryStart(ctx, key, first)
	require.NoError(t, err)
	require.True(t, ok)
	before, _ := repo.Get(ctx, key)
	require.NoError(t, repo.MarkFailed(ctx, key))

	ok, err = repo.TryStart(ctx, key, first.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	after, _ := repo.Get(ctx, key)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, entity.IdempotencyInProgress, after.Status)
	assert.Equal(t, first.Add(time.Minute), after.CreatedAt)
	assert.Nil(t, after.CompletedAt)
}

func TestDelivery_WebhookUpdatedAt(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Repositories().Deliveries
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Upsert(ctx, key, repository.DeliveryUpdate{Status: entity.DeliverySent, ProviderMessageID: "m1"}, t0))

	// 同順位の再送は何も変えない
	ok, err := repo.ApplyWebhookStatus(ctx, "m1", entity.DeliverySent, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
	st, _ := repo.Get(ctx, key)
	assert.Equal(t, entity.DeliverySent, st.Status)
	assert.Equal(t, t0, st.UpdatedAt)

	ok, err = repo.ApplyWebhookStatus(ctx, "m1", entity.DeliveryRead, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	st, _ = repo.Get(ctx, key)
	assert.Equal(t, entity.DeliveryRead, st.Status)
	assert.Equal(t, t0.Add(2*time.Minute), st.UpdatedAt)
}

func TestDelivery_ProviderIDIndexFollowsUpsert(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Repositories().Deliveries

	require.NoError(t, repo.Upsert(ctx, key, repository.DeliveryUpdate{Status: entity.DeliverySent, ProviderMessageID: "old"}, time.Now()))
	require.NoError(t, repo.Upsert(ctx, key, repository.DeliveryUpdate{Status: entity.DeliverySent, ProviderMessageID: "new"}, time.Now()))

	st, err := repo.GetByProviderMessageID(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, st)

	ok, _ := repo.ApplyWebhookStatus(ctx, "old", entity.DeliveryDelivered, time.Now())
	assert.False(t, ok)
	ok, _ = repo.ApplyWebhookStatus(ctx, "new", entity.DeliveryDelivered, time.Now())
	assert.True(t, ok)

	st, err = repo.GetByProviderMessageID(ctx, "new")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, entity.DeliveryDelivered, st.Status)
}

func TestDelivery_ConcurrentKeys(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Repositories().Deliveries

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k := key
			k.Recipient = fmt.Sprintf("+%d", i)
			id := fmt.Sprintf("m%d", i)
			_ = repo.Upsert(ctx, k, repository.DeliveryUpdate{Status: entity.DeliverySent, ProviderMessageID: id}, time.Now())
			_, _ = repo.ApplyWebhookStatus(ctx, id, entity.DeliveryDelivered, time.Now())
		}(i)
	}
	wg.Wait()

	rows, err := repo.ListByRequestID(ctx, key.RequestID)
	require.NoError(t, err)
	require.Len(t, rows, 50)
	for _, st := range rows {
		assert.Equal(t, entity.DeliveryDelivered, st.Status, st.Recipient)
	}
}

func TestDelivery_FallbackFlagAndStale(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Repositories().Deliveries
	old := time.Now().Add(-time.Hour)

	require.NoError(t, repo.Upsert(ctx, key, repository.DeliveryUpdate{Status: entity.DeliverySent}, old))
	st, _ := repo.Get(ctx, key)

	won, _ := repo.MarkFallbackTriggered(ctx, st.ID, entity.ChannelSMS)
	assert.True(t, won)
	won, _ = repo.MarkFallbackTriggered(ctx, st.ID, entity.ChannelSMS)
	assert.False(t, won)

	stale, err := repo.FindStale(ctx, entity.DeliverySent, time.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.True(t, stale[0].FallbackTriggered)
	assert.Equal(t, old, stale[0].UpdatedAt)
}

func TestRequestsAndAudit(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repos := s.Repositories()

	require.NoError(t, repos.Requests.Save(ctx, &entity.SendRequest{RequestID: "r", TextMessage: "first"}))
	require.NoError(t, repos.Requests.Save(ctx, &entity.SendRequest{RequestID: "r", TextMessage: "second"}))
	got, _ := repos.Requests.Get(ctx, "r")
	assert.Equal(t, "first", got.TextMessage)

	require.NoError(t, repos.Audit.RecordAttempt(ctx, &entity.DeliveryAttempt{RequestID: "r", Success: true}))
	assert.Len(t, s.Attempts(), 1)
}
