// Package sqlite provides SQLite implementations of repository interfaces.
//
// Timestamps are stored as INTEGER unix milliseconds so range predicates
// such as FindStale compare numbers instead of text.
package sqlite

import (
	"database/sql"
	"time"

	"notification-gateway/internal/repository"
)

// NewStore wires every repository onto one SQLite handle.
func NewStore(db *sql.DB) repository.Store {
	return repository.Store{
		Idempotency: NewIdempotencyRepo(db),
		Deliveries:  NewDeliveryStateRepo(db),
		Requests:    NewSendRequestRepo(db),
		Audit:       NewAuditRepo(db),
	}
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
