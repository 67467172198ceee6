package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/infra/adapter/persistence/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []entity.DeliveryEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev entity.DeliveryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func newTestTracker(pub EventPublisher) (*Tracker, *memory.Store) {
	store := memory.NewStore()
	return NewTracker(store.Repositories().Deliveries, pub, nil), store
}

/* ──────────────────────────────── 1. local transitions ──────────────────────────────── */

func TestTracker_LocalTransitionsAlwaysApply(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	tr, store := newTestTracker(pub)
	sc := entity.NewSendContext("req-1", entity.ChannelWhatsApp, entity.MediaText, "+1555")

	require.NoError(t, tr.MarkQueued(ctx, sc))
	require.NoError(t, tr.MarkSent(ctx, sc, "wamid.1"))
	require.NoError(t, tr.MarkFailed(ctx, sc, "timeout"))

	st, err := store.Repositories().Deliveries.Get(ctx, sc.Key())
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, entity.DeliveryFailed, st.Status)
	assert.Equal(t, "wamid.1", st.ProviderMessageID, "MarkFailed keeps the provider id")
	assert.Equal(t, "timeout", st.FailureReason)

	require.Len(t, pub.events, 3)
	assert.Equal(t, entity.SourceDispatch, pub.events[0].Source)
	assert.Equal(t, entity.DeliveryQueued, pub.events[0].Status)
	assert.Equal(t, "wamid.1", pub.events[1].ProviderMessageID)
}

func TestTracker_PublishErrorIsIgnored(t *testing.T) {
	tr, _ := newTestTracker(&recordingPublisher{err: errors.New("broker down")})
	sc := entity.NewSendContext("req-1", entity.ChannelSMS, entity.MediaText, "+1")
	assert.NoError(t, tr.MarkQueued(context.Background(), sc))
}

/* ──────────────────────────────── 2. webhook transitions ──────────────────────────────── */

func TestTracker_UpdateFromWebhook(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	tr, store := newTestTracker(pub)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return clock }
	sc := entity.NewSendContext("req-1", entity.ChannelWhatsApp, entity.MediaText, "+1555")
	require.NoError(t, tr.MarkSent(ctx, sc, "wamid.1"))
	lastUpdate := clock

	tests := []struct {
		name   string
		status entity.DeliveryStatus
		want   bool
		final  entity.DeliveryStatus
	}{
		{"read skips delivered", entity.DeliveryRead, true, entity.DeliveryRead},
		{"late delivered is stale", entity.DeliveryDelivered, false, entity.DeliveryRead},
		{"failed never applies", entity.DeliveryFailed, false, entity.DeliveryRead},
		{"created never applies", entity.DeliveryCreated, false, entity.DeliveryRead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock = clock.Add(time.Minute)
			got, err := tr.UpdateFromWebhook(ctx, "wamid.1", tt.status)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if got {
				lastUpdate = clock
			}

			st, err := store.Repositories().Deliveries.Get(ctx, sc.Key())
			require.NoError(t, err)
			assert.Equal(t, tt.final, st.Status)
			// 適用されなかった更新は updatedAt も動かさない
			assert.Equal(t, lastUpdate, st.UpdatedAt)
		})
	}

	last := pub.events[len(pub.events)-1]
	assert.Equal(t, entity.SourceWebhook, last.Source)
	assert.Equal(t, entity.DeliveryRead, last.Status)
}

func TestTracker_UpdateFromWebhook_UnknownMessage(t *testing.T) {
	tr, _ := newTestTracker(nil)
	got, err := tr.UpdateFromWebhook(context.Background(), "nope", entity.DeliveryDelivered)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = tr.UpdateFromWebhook(context.Background(), "", entity.DeliveryDelivered)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestTracker_FailedIsTerminalForWebhooks(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(nil)
	sc := entity.NewSendContext("req-1", entity.ChannelWhatsApp, entity.MediaText, "+1555")
	require.NoError(t, tr.MarkSent(ctx, sc, "wamid.9"))
	require.NoError(t, tr.MarkFailed(ctx, sc, "other"))

	got, err := tr.UpdateFromWebhook(ctx, "wamid.9", entity.DeliveryRead)
	require.NoError(t, err)
	assert.False(t, got)
}

/* ──────────────────────────────── 3. stale lookup ──────────────────────────────── */

func TestTracker_FindStale(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(nil)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tr.now = func() time.Time { return base }
	require.NoError(t, tr.MarkSent(ctx, entity.NewSendContext("old", entity.ChannelWhatsApp, entity.MediaText, "+1"), "a"))
	tr.now = func() time.Time { return base.Add(25 * time.Minute) }
	require.NoError(t, tr.MarkSent(ctx, entity.NewSendContext("new", entity.ChannelWhatsApp, entity.MediaText, "+1"), "b"))

	tr.now = func() time.Time { return base.Add(31 * time.Minute) }
	stale, err := tr.FindStale(ctx, entity.DeliverySent, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].RequestID)
}
