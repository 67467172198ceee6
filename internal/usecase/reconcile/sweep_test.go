package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/infra/adapter/persistence/memory"
	"notification-gateway/internal/repository"
	"notification-gateway/internal/usecase/delivery"
	"notification-gateway/internal/usecase/fallback"
)

type countingDispatcher struct{ calls atomic.Int32 }

func (d *countingDispatcher) DispatchFallback(context.Context, string, string, entity.MediaKind, entity.Content) bool {
	d.calls.Add(1)
	return true
}

type failingRouter struct{}

func (failingRouter) AttemptFallback(context.Context, *entity.DeliveryState) (bool, error) {
	return false, errors.New("store down")
}

func seedState(t *testing.T, repos repository.Store, key entity.DeliveryKey, status entity.DeliveryStatus, age time.Duration) {
	t.Helper()
	require.NoError(t, repos.Deliveries.Upsert(context.Background(), key,
		repository.DeliveryUpdate{Status: status, ProviderMessageID: "pm-" + key.Recipient},
		time.Now().Add(-age)))
}

func TestSweep_StuckSentFallsBackOnce(t *testing.T) {
	// Arrange
	ctx := context.Background()
	repos := memory.NewStore().Repositories()
	key := entity.DeliveryKey{RequestID: "req-1", Channel: entity.ChannelWhatsApp, Recipient: "+1555", MediaKind: entity.MediaText}
	seedState(t, repos, key, entity.DeliverySent, 40*time.Minute)
	require.NoError(t, repos.Requests.Save(ctx, &entity.SendRequest{
		RequestID: "req-1", Channel: entity.ChannelWhatsApp, Recipients: []string{"+1555"},
		MediaKinds: []entity.MediaKind{entity.MediaText}, TextMessage: "hello",
	}))

	d := &countingDispatcher{}
	router := fallback.NewRouter(true, repos.Deliveries, repos.Requests, d, nil)
	sweep := NewSweep(delivery.NewTracker(repos.Deliveries, nil, nil), router, Timeouts{}, nil)
	before := testutil.ToFloat64(reconciliationTotal.WithLabelValues("whatsapp", string(entity.StuckSent)))

	// Act
	first, err := sweep.Run(ctx)
	require.NoError(t, err)
	second, err := sweep.Run(ctx)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, 1, first.Stuck[entity.StuckSent])
	assert.Equal(t, 1, first.Fallbacks)
	assert.Equal(t, 1, second.Stuck[entity.StuckSent], "the row is still stuck")
	assert.Equal(t, 0, second.Fallbacks, "the flag stays set")
	assert.Equal(t, int32(1), d.calls.Load())
	assert.Equal(t, before+2, testutil.ToFloat64(reconciliationTotal.WithLabelValues("whatsapp", string(entity.StuckSent))))

	st, err := repos.Deliveries.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, st.FallbackTriggered)
	assert.Equal(t, entity.DeliverySent, st.Status, "reconciliation never rewrites status")
}

func TestSweep_PerStatusTimeouts(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().Repositories()
	mk := func(r string) entity.DeliveryKey {
		return entity.DeliveryKey{RequestID: "req-t", Channel: entity.ChannelTelegram, Recipient: r, MediaKind: entity.MediaText}
	}
	seedState(t, repos, mk("queued-old"), entity.DeliveryQueued, 6*time.Minute)
	seedState(t, repos, mk("queued-new"), entity.DeliveryQueued, 1*time.Minute)
	seedState(t, repos, mk("sent-new"), entity.DeliverySent, 10*time.Minute)
	seedState(t, repos, mk("delivered-old"), entity.DeliveryDelivered, 25*time.Hour)
	seedState(t, repos, mk("read-old"), entity.DeliveryRead, 48*time.Hour)
	seedState(t, repos, mk("failed-old"), entity.DeliveryFailed, 48*time.Hour)

	sweep := NewSweep(delivery.NewTracker(repos.Deliveries, nil, nil), nil, DefaultTimeouts(), nil)
	stats, err := sweep.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, map[entity.ReconciliationResult]int{
		entity.StuckQueued:    1,
		entity.StuckDelivered: 1,
	}, stats.Stuck)
	assert.Equal(t, 2, stats.Total())
	assert.Zero(t, stats.Fallbacks)
}

func TestSweep_RouterErrorsAreCounted(t *testing.T) {
	repos := memory.NewStore().Repositories()
	seedState(t, repos, entity.DeliveryKey{RequestID: "r", Channel: entity.ChannelWhatsApp, Recipient: "+1", MediaKind: entity.MediaText},
		entity.DeliveryQueued, time.Hour)

	sweep := NewSweep(delivery.NewTracker(repos.Deliveries, nil, nil), failingRouter{}, Timeouts{}, nil)
	stats, err := sweep.Run(context.Background())

	require.NoError(t, err, "router errors do not fail the sweep")
	assert.Equal(t, 1, stats.Errors)
}

func TestSweep_CanceledContext(t *testing.T) {
	repos := memory.NewStore().Repositories()
	sweep := NewSweep(delivery.NewTracker(repos.Deliveries, nil, nil), nil, Timeouts{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sweep.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
