package webhook

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/infra/adapter/persistence/memory"
	"notification-gateway/internal/repository"
	"notification-gateway/internal/usecase/delivery"
)

const callback = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "1",
    "changes": [{
      "field": "messages",
      "value": {
        "statuses": [
          {"id": "wamid.A", "status": "delivered", "recipient_id": "15550001"},
          {"id": "wamid.A", "status": "sent", "recipient_id": "15550001"},
          {"id": "wamid.B", "status": "failed", "recipient_id": "15550002",
           "errors": [{"code": 131026, "details": "Message undeliverable"}]}
        ]
      }
    }, {
      "field": "messages",
      "value": {"messages": [{"id": "inbound"}]}
    }]
  }]
}`

type errUpdater struct{}

func (errUpdater) UpdateFromWebhook(context.Context, string, entity.DeliveryStatus) (bool, error) {
	return false, errors.New("db down")
}

func setup(t *testing.T) (*Ingestor, repository.Store) {
	t.Helper()
	ctx := context.Background()
	repos := memory.NewStore().Repositories()
	for _, seed := range []struct{ recipient, id string }{{"15550001", "wamid.A"}, {"15550002", "wamid.B"}} {
		key := entity.DeliveryKey{RequestID: "req-1", Channel: entity.ChannelWhatsApp, Recipient: seed.recipient, MediaKind: entity.MediaText}
		require.NoError(t, repos.Deliveries.Upsert(ctx, key,
			repository.DeliveryUpdate{Status: entity.DeliverySent, ProviderMessageID: seed.id}, time.Now()))
	}
	tracker := delivery.NewTracker(repos.Deliveries, nil, nil)
	return NewIngestor(tracker, repos.Audit, "s3cret", nil), repos
}

/* ──────────────────────────────── 1. parsing ──────────────────────────────── */

func TestParse(t *testing.T) {
	events := Parse([]byte(callback))
	require.Len(t, events, 3)
	assert.Equal(t, entity.WebhookEvent{
		ProviderMessageID: "wamid.B",
		Recipient:         "15550002",
		ExternalStatus:    "failed",
		ErrorCode:         "131026",
		ErrorDetails:      "Message undeliverable",
	}, events[2])
}

func TestParse_Malformed(t *testing.T) {
	bodies := []string{
		``,
		`not json`,
		`{}`,
		`{"entry": "x"}`,
		`{"entry": [{"changes": [{"value": {"statuses": "nope"}}]}]}`,
		`{"entry": [{"changes": [{"value": {"statuses": [1, "two"]}}]}]}`,
	}
	for _, b := range bodies {
		assert.Empty(t, Parse([]byte(b)), b)
	}
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, entity.DeliverySent, MapStatus("sent"))
	assert.Equal(t, entity.DeliveryDelivered, MapStatus("delivered"))
	assert.Equal(t, entity.DeliveryRead, MapStatus("READ"))
	assert.Equal(t, entity.DeliveryFailed, MapStatus("failed"))
	assert.Equal(t, entity.DeliverySent, MapStatus("deleted"))
	assert.Equal(t, entity.DeliverySent, MapStatus(""))
}

/* ──────────────────────────────── 2. ingest ──────────────────────────────── */

func TestIngestor_Ingest(t *testing.T) {
	// Arrange
	ctx := context.Background()
	ing, repos := setup(t)
	before := testutil.ToFloat64(webhookEventsTotal.WithLabelValues("status_delivered"))

	// Act
	stats := ing.Ingest(ctx, []byte(callback))

	// Assert
	assert.Equal(t, Stats{Events: 3, Applied: 1}, stats)
	assert.Equal(t, before+1, testutil.ToFloat64(webhookEventsTotal.WithLabelValues("status_delivered")))

	a, err := repos.Deliveries.GetByProviderMessageID(ctx, "wamid.A")
	require.NoError(t, err)
	assert.Equal(t, entity.DeliveryDelivered, a.Status, "late sent is stale")

	b, err := repos.Deliveries.GetByProviderMessageID(ctx, "wamid.B")
	require.NoError(t, err)
	assert.Equal(t, entity.DeliverySent, b.Status, "webhook FAILED never applies")

	events, err := repos.Audit.ListWebhookEvents(ctx, "wamid.A")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].Applied)
	assert.False(t, events[1].Applied)
	assert.Equal(t, entity.DeliverySent, events[1].MappedStatus)
}

func TestIngestor_MetricLabelsAreBounded(t *testing.T) {
	// Arrange
	ctx := context.Background()
	ing, _ := setup(t)
	ing.Ingest(ctx, []byte(callback))
	series := testutil.CollectAndCount(webhookEventsTotal)
	unknown := testutil.ToFloat64(webhookEventsTotal.WithLabelValues("status_unknown"))

	// Act
	for i := 0; i < 100; i++ {
		body := fmt.Sprintf(`{"entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.A","status":"junk%d"}]}}]}]}`, i)
		ing.Ingest(ctx, []byte(body))
	}

	// Assert
	assert.LessOrEqual(t, testutil.CollectAndCount(webhookEventsTotal), series+1)
	assert.Equal(t, unknown+100, testutil.ToFloat64(webhookEventsTotal.WithLabelValues("status_unknown")))
}

func TestIngestor_Ingest_NeverFails(t *testing.T) {
	ing := NewIngestor(errUpdater{}, nil, "", nil)

	assert.Equal(t, Stats{}, ing.Ingest(context.Background(), []byte(`garbage`)))
	assert.Equal(t, Stats{Events: 3, Errors: 3}, ing.Ingest(context.Background(), []byte(callback)))
}

/* ──────────────────────────────── 3. verify ──────────────────────────────── */

func TestIngestor_Verify(t *testing.T) {
	ing, _ := setup(t)

	got, err := ing.Verify("subscribe", "s3cret", "12345")
	require.NoError(t, err)
	assert.Equal(t, "12345", got)

	_, err = ing.Verify("subscribe", "wrong", "12345")
	assert.ErrorIs(t, err, ErrVerificationFailed)
	_, err = ing.Verify("unsubscribe", "s3cret", "12345")
	assert.ErrorIs(t, err, ErrVerificationFailed)

	_, err = NewIngestor(errUpdater{}, nil, "", nil).Verify("subscribe", "", "1")
	assert.ErrorIs(t, err, ErrVerificationFailed)
}
