package postgres_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/infra/adapter/persistence/postgres"
	"notification-gateway/internal/repository"
)

/* ──────────────────────────────── ヘルパ ──────────────────────────────── */

var deliveryCols = []string{
	"id", "request_id", "channel", "recipient", "media_kind", "status",
	"provider_message_id", "failure_reason", "fallback_triggered", "fallback_channel",
	"created_at", "updated_at",
}

func deliveryRow(rows *sqlmock.Rows, st *entity.DeliveryState) *sqlmock.Rows {
	nullable := func(s string) any {
		if s == "" {
			return nil
		}
		return s
	}
	return rows.AddRow(
		st.ID, st.RequestID, string(st.Channel), st.Recipient, string(st.MediaKind), string(st.Status),
		nullable(st.ProviderMessageID), nullable(st.FailureReason), st.FallbackTriggered, nullable(string(st.FallbackChannel)),
		st.CreatedAt, st.UpdatedAt,
	)
}

/* ──────────────────────────────── 1. Upsert ──────────────────────────────── */

func TestDeliveryStateRepo_Upsert(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta(`COALESCE(EXCLUDED.provider_message_id, delivery_states.provider_message_id)`)).
		WithArgs("req-1", "Whatsapp", "+15550001", "TEXT", "SENT",
			sql.NullString{String: "wamid.1", Valid: true}, sql.NullString{}, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := postgres.NewDeliveryStateRepo(db)
	err := repo.Upsert(context.Background(), testKey, repository.DeliveryUpdate{
		Status:            entity.DeliverySent,
		ProviderMessageID: "wamid.1",
	}, now)
	if err != nil {
		t.Fatalf("Upsert err=%v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

/* ──────────────────────────────── 2. ApplyWebhookStatus ──────────────────────────────── */

func TestDeliveryStateRepo_ApplyWebhookStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   entity.DeliveryStatus
		affected int64
		want     bool
	}{
		{"advances", entity.DeliveryDelivered, 1, true},
		{"stale or terminal", entity.DeliverySent, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, _ := sqlmock.New()
			defer func() { _ = db.Close() }()

			now := time.Now()
			mock.ExpectExec(regexp.QuoteMeta(`AND status <> 'FAILED'`)).
				WithArgs(string(tt.status), now, "wamid.1", tt.status.Precedence()).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			repo := postgres.NewDeliveryStateRepo(db)
			got, err := repo.ApplyWebhookStatus(context.Background(), "wamid.1", tt.status, now)
			if err != nil {
				t.Fatalf("ApplyWebhookStatus err=%v", err)
			}
			if got != tt.want {
				t.Fatalf("applied=%v want %v", got, tt.want)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

/* ──────────────────────────────── 3. MarkFallbackTriggered ──────────────────────────────── */

func TestDeliveryStateRepo_MarkFallbackTriggered(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	q := regexp.QuoteMeta(`WHERE id = $2 AND fallback_triggered = FALSE`)
	mock.ExpectExec(q).WithArgs("SMS", int64(9)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("SMS", int64(9)).WillReturnResult(sqlmock.NewResult(0, 0))

	repo := postgres.NewDeliveryStateRepo(db)
	first, err := repo.MarkFallbackTriggered(context.Background(), 9, entity.ChannelSMS)
	if err != nil || !first {
		t.Fatalf("first won=%v err=%v", first, err)
	}
	second, err := repo.MarkFallbackTriggered(context.Background(), 9, entity.ChannelSMS)
	if err != nil || second {
		t.Fatalf("second won=%v err=%v", second, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

/* ──────────────────────────────── 4. Get ──────────────────────────────── */

func TestDeliveryStateRepo_Get(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	want := &entity.DeliveryState{
		ID: 1, RequestID: "req-1", Channel: entity.ChannelWhatsApp, Recipient: "+15550001",
		MediaKind: entity.MediaText, Status: entity.DeliveryFailed, FailureReason: "server_error",
		FallbackTriggered: true, FallbackChannel: entity.ChannelSMS, CreatedAt: ts, UpdatedAt: ts,
	}
	mock.ExpectQuery(regexp.QuoteMeta(`FROM delivery_states`)).
		WithArgs(keyArgs()...).
		WillReturnRows(deliveryRow(sqlmock.NewRows(deliveryCols), want))

	repo := postgres.NewDeliveryStateRepo(db)
	got, err := repo.Get(context.Background(), testKey)
	if err != nil {
		t.Fatalf("Get err=%v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestDeliveryStateRepo_GetByProviderMessageID_NotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`WHERE provider_message_id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(deliveryCols))

	repo := postgres.NewDeliveryStateRepo(db)
	got, err := repo.GetByProviderMessageID(context.Background(), "missing")
	if err != nil || got != nil {
		t.Fatalf("got=%v err=%v", got, err)
	}
}

/* ──────────────────────────────── 5. ListByRequestID / FindStale ──────────────────────────────── */

func TestDeliveryStateRepo_ListByRequestID(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	ts := time.Now()
	rows := sqlmock.NewRows(deliveryCols)
	deliveryRow(rows, &entity.DeliveryState{ID: 1, RequestID: "req-1", Channel: entity.ChannelTelegram, Recipient: "a", MediaKind: entity.MediaText, Status: entity.DeliverySent, ProviderMessageID: "a:10", CreatedAt: ts, UpdatedAt: ts})
	deliveryRow(rows, &entity.DeliveryState{ID: 2, RequestID: "req-1", Channel: entity.ChannelTelegram, Recipient: "b", MediaKind: entity.MediaText, Status: entity.DeliverySent, ProviderMessageID: "b:11", CreatedAt: ts, UpdatedAt: ts})
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE request_id = $1`)).WithArgs("req-1").WillReturnRows(rows)

	repo := postgres.NewDeliveryStateRepo(db)
	got, err := repo.ListByRequestID(context.Background(), "req-1")
	if err != nil || len(got) != 2 {
		t.Fatalf("List err=%v len=%d", err, len(got))
	}
	if got[1].ProviderMessageID != "b:11" {
		t.Fatalf("ProviderMessageID=%q", got[1].ProviderMessageID)
	}
}

func TestDeliveryStateRepo_FindStale(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	cutoff := time.Now().Add(-30 * time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE status = $1 AND updated_at < $2`)).
		WithArgs("SENT", cutoff).
		WillReturnRows(sqlmock.NewRows(deliveryCols)) // empty set OK

	repo := postgres.NewDeliveryStateRepo(db)
	got, err := repo.FindStale(context.Background(), entity.DeliverySent, cutoff)
	if err != nil || len(got) != 0 {
		t.Fatalf("FindStale err=%v len=%d", err, len(got))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
