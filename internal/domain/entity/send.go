package entity

import (
	"strings"
	"time"
)

// SendRequest is the content of one logical send request.
// It is persisted by request ID so fallback routing can rebuild the message.
type SendRequest struct {
	RequestID    string      `json:"requestId,omitempty"`
	Channel      Channel     `json:"-"`
	Recipients   []string    `json:"recipientList"`
	MediaKinds   []MediaKind `json:"mediaTypeList"`
	TextMessage  string      `json:"textMessage,omitempty"`
	ImageURL     string      `json:"imageUrl,omitempty"`
	ImageCaption string      `json:"imageCaption,omitempty"`
	VideoURL     string      `json:"videoUrl,omitempty"`
	VideoCaption string      `json:"videoCaption,omitempty"`
	CreatedAt    time.Time   `json:"-"`
}

// Content returns the per-media fields needed to build a provider payload.
func (r *SendRequest) Content() Content {
	return Content{
		Text:         r.TextMessage,
		ImageURL:     r.ImageURL,
		ImageCaption: r.ImageCaption,
		VideoURL:     r.VideoURL,
		VideoCaption: r.VideoCaption,
	}
}

// Content carries the message body fields shared by every recipient.
type Content struct {
	Text         string
	ImageURL     string
	ImageCaption string
	VideoURL     string
	VideoCaption string
}

// FallbackText renders the content as plain text for a text-only channel.
// Media kinds degrade to "caption url".
func (c Content) FallbackText(kind MediaKind) string {
	switch kind {
	case MediaImage:
		return joinNonEmpty(c.ImageCaption, c.ImageURL)
	case MediaVideo:
		return joinNonEmpty(c.VideoCaption, c.VideoURL)
	default:
		if c.Text != "" {
			return c.Text
		}
		return joinNonEmpty(c.ImageCaption, c.ImageURL)
	}
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// SendContext describes one in-flight attempt. It lives for the duration
// of a single recipient pipeline and is never persisted.
type SendContext struct {
	Channel   Channel
	MediaKind MediaKind
	Recipient string
	RequestID string
	StartTime time.Time
}

// NewSendContext builds a context for the given attempt.
func NewSendContext(requestID string, ch Channel, kind MediaKind, recipient string) *SendContext {
	return &SendContext{
		Channel:   ch,
		MediaKind: kind,
		Recipient: recipient,
		RequestID: requestID,
	}
}

// MarkStart records the moment the provider call begins.
func (c *SendContext) MarkStart() {
	c.StartTime = time.Now()
}

// Elapsed returns the time since MarkStart, or zero if never started.
func (c *SendContext) Elapsed() time.Duration {
	if c.StartTime.IsZero() {
		return 0
	}
	return time.Since(c.StartTime)
}

// Key returns the idempotency key of the attempt.
func (c *SendContext) Key() DeliveryKey {
	return DeliveryKey{
		RequestID: c.RequestID,
		Channel:   c.Channel,
		Recipient: c.Recipient,
		MediaKind: c.MediaKind,
	}
}

// DeliveryAttempt is an append-only audit row of one terminal provider outcome.
type DeliveryAttempt struct {
	ID                int64
	RequestID         string
	Channel           Channel
	Recipient         string
	MediaKind         MediaKind
	Success           bool
	ProviderMessageID string
	ResponseBody      string
	ErrorMessage      string
	CreatedAt         time.Time
}

// WebhookEvent is one status entry parsed from a provider callback.
type WebhookEvent struct {
	ProviderMessageID string
	Recipient         string
	ExternalStatus    string
	ErrorCode         string
	ErrorDetails      string
}

// WebhookEventRecord is the audited form of a WebhookEvent.
type WebhookEventRecord struct {
	ID                int64
	ProviderMessageID string
	Recipient         string
	ExternalStatus    string
	MappedStatus      DeliveryStatus
	ErrorCode         string
	ErrorDetails      string
	Applied           bool
	ReceivedAt        time.Time
}
