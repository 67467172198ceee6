package entity

import "time"

// EventSource names the component that produced a delivery transition.
type EventSource string

const (
	SourceDispatch EventSource = "dispatch"
	SourceWebhook  EventSource = "webhook"
)

// DeliveryEvent is published after a delivery state transition is applied.
// Webhook-sourced events carry only the provider message id and status.
type DeliveryEvent struct {
	RequestID         string         `json:"requestId,omitempty"`
	Channel           Channel        `json:"channel,omitempty"`
	Recipient         string         `json:"recipient,omitempty"`
	MediaKind         MediaKind      `json:"mediaKind,omitempty"`
	Status            DeliveryStatus `json:"status"`
	ProviderMessageID string         `json:"providerMessageId,omitempty"`
	FailureReason     string         `json:"failureReason,omitempty"`
	Source            EventSource    `json:"source"`
	OccurredAt        time.Time      `json:"occurredAt"`
}

// PartitionKey groups events of one delivery on the same partition.
func (e DeliveryEvent) PartitionKey() string {
	if e.RequestID != "" {
		return e.RequestID + "|" + string(e.Channel) + "|" + e.Recipient + "|" + string(e.MediaKind)
	}
	return e.ProviderMessageID
}
