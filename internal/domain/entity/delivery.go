package entity

import "time"

// DeliveryStatus is the externally visible state of one delivery.
type DeliveryStatus string

const (
	DeliveryCreated   DeliveryStatus = "CREATED"
	DeliveryQueued    DeliveryStatus = "QUEUED"
	DeliverySent      DeliveryStatus = "SENT"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryRead      DeliveryStatus = "READ"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// precedence orders statuses for webhook-driven transitions.
// FAILED sits outside the chain at -1.
var precedence = map[DeliveryStatus]int{
	DeliveryCreated:   0,
	DeliveryQueued:    1,
	DeliverySent:      2,
	DeliveryDelivered: 3,
	DeliveryRead:      4,
	DeliveryFailed:    -1,
}

// Precedence returns the rank of the status. Unknown statuses rank 0.
func (s DeliveryStatus) Precedence() int {
	return precedence[s]
}

// IsTerminal reports whether no asynchronous callback may move the status.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryFailed
}

// CanAdvanceTo reports whether a webhook-reported status may replace s.
// Synchronous updates from the dispatch pipeline do not consult this table.
func (s DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return next.Precedence() > s.Precedence()
}

// DeliveryKey identifies one unique delivery attempt.
type DeliveryKey struct {
	RequestID string
	Channel   Channel
	Recipient string
	MediaKind MediaKind
}

// DeliveryState is the durable latest-known state of a delivery.
type DeliveryState struct {
	ID                int64
	RequestID         string
	Channel           Channel
	Recipient         string
	MediaKind         MediaKind
	Status            DeliveryStatus
	ProviderMessageID string
	FailureReason     string
	FallbackTriggered bool
	FallbackChannel   Channel
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Key returns the idempotency key of the state row.
func (d *DeliveryState) Key() DeliveryKey {
	return DeliveryKey{
		RequestID: d.RequestID,
		Channel:   d.Channel,
		Recipient: d.Recipient,
		MediaKind: d.MediaKind,
	}
}

// ReconciliationResult tags a stuck delivery found by the sweep.
type ReconciliationResult string

const (
	StuckQueued    ReconciliationResult = "STUCK_QUEUED"
	StuckSent      ReconciliationResult = "STUCK_SENT"
	StuckDelivered ReconciliationResult = "STUCK_DELIVERED"
)
