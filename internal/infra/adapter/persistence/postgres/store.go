// Package postgres provides PostgreSQL implementations of repository interfaces.
package postgres

import (
	"database/sql"

	"notification-gateway/internal/repository"
)

// NewStore wires every repository onto one connection pool.
func NewStore(db *sql.DB) repository.Store {
	return repository.Store{
		Idempotency: NewIdempotencyRepo(db),
		Deliveries:  NewDeliveryStateRepo(db),
		Requests:    NewSendRequestRepo(db),
		Audit:       NewAuditRepo(db),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
