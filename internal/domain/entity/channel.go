package entity

import (
	"fmt"
	"strings"
)

// Channel identifies an outbound messaging provider.
// The string values match the ClientType header accepted by the send API.
type Channel string

const (
	ChannelTelegram Channel = "Telegram"
	ChannelWhatsApp Channel = "Whatsapp"
	ChannelSMS      Channel = "SMS"
)

// Channels lists every supported channel in a stable order.
func Channels() []Channel {
	return []Channel{ChannelTelegram, ChannelWhatsApp, ChannelSMS}
}

// ParseChannel converts a header or query value into a Channel.
// Matching is case-insensitive so "WHATSAPP" and "whatsapp" both resolve.
func ParseChannel(s string) (Channel, error) {
	for _, ch := range Channels() {
		if strings.EqualFold(strings.TrimSpace(s), string(ch)) {
			return ch, nil
		}
	}
	return "", fmt.Errorf("%w: unknown channel %q", ErrInvalidInput, s)
}

// IsBusinessMessaging reports whether the channel is the business-messaging
// provider, which is the only channel eligible for fallback routing.
func (c Channel) IsBusinessMessaging() bool {
	return c == ChannelWhatsApp
}

// MetricLabel returns the lowercase form used for Prometheus labels.
func (c Channel) MetricLabel() string {
	if c == "" {
		return "unknown"
	}
	return strings.ToLower(string(c))
}

func (c Channel) String() string { return string(c) }

// MediaKind is the content type of a single delivery attempt.
type MediaKind string

const (
	MediaText  MediaKind = "TEXT"
	MediaImage MediaKind = "IMAGE"
	MediaVideo MediaKind = "VIDEO"
)

// ParseMediaKind converts a request value into a MediaKind.
func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(strings.ToUpper(strings.TrimSpace(s))) {
	case MediaText:
		return MediaText, nil
	case MediaImage:
		return MediaImage, nil
	case MediaVideo:
		return MediaVideo, nil
	default:
		return "", fmt.Errorf("%w: unknown media type %q", ErrInvalidInput, s)
	}
}

// DisabledError returns the named error reported when the media kind is
// administratively disabled for a channel, e.g. TEXT_MEDIA_DISABLED_ERROR.
func (m MediaKind) DisabledError() string {
	return string(m) + "_MEDIA_DISABLED_ERROR"
}

func (m MediaKind) String() string { return string(m) }
