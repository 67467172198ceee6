package entity

import "time"

// IdempotencyStatus is the lifecycle state of an attempt key.
type IdempotencyStatus string

const (
	IdempotencyCreated    IdempotencyStatus = "CREATED"
	IdempotencyInProgress IdempotencyStatus = "IN_PROGRESS"
	IdempotencyCompleted  IdempotencyStatus = "COMPLETED"
	IdempotencyFailed     IdempotencyStatus = "FAILED"
)

// IdempotencyRecord guards a single (requestId, channel, recipient, mediaKind)
// attempt. A FAILED record is reused by the next attempt instead of inserting
// a new row.
type IdempotencyRecord struct {
	ID          int64
	RequestID   string
	Channel     Channel
	Recipient   string
	MediaKind   MediaKind
	Status      IdempotencyStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
}
