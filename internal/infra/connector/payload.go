package connector

import (
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"

	"notification-gateway/internal/domain/entity"
)

// Payloader shapes provider payloads for one channel and parses the
// provider message id out of a successful response.
type Payloader interface {
	Build(kind entity.MediaKind, recipient string, c entity.Content) (method string, payload any, err error)
	MessageID(recipient string, body []byte) string
}

// PayloaderFor returns the payloader of ch.
func PayloaderFor(ch entity.Channel) (Payloader, error) {
	switch ch {
	case entity.ChannelTelegram:
		return TelegramPayloader{}, nil
	case entity.ChannelWhatsApp:
		return WhatsAppPayloader{}, nil
	case entity.ChannelSMS:
		return SMSPayloader{}, nil
	default:
		return nil, fmt.Errorf("%w: no payloader for channel %q", entity.ErrInvalidInput, ch)
	}
}

/* ───────────── Telegram ───────────── */

type telegramText struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type telegramPhoto struct {
	ChatID  string `json:"chat_id"`
	Photo   string `json:"photo"`
	Caption string `json:"caption,omitempty"`
}

type telegramVideo struct {
	ChatID  string `json:"chat_id"`
	Video   string `json:"video"`
	Caption string `json:"caption,omitempty"`
}

// TelegramPayloader builds Bot API sendMessage/sendPhoto/sendVideo bodies.
type TelegramPayloader struct{}

func (TelegramPayloader) Build(kind entity.MediaKind, recipient string, c entity.Content) (string, any, error) {
	switch kind {
	case entity.MediaText:
		return "sendMessage", telegramText{ChatID: recipient, Text: c.Text}, nil
	case entity.MediaImage:
		return "sendPhoto", telegramPhoto{ChatID: recipient, Photo: c.ImageURL, Caption: c.ImageCaption}, nil
	case entity.MediaVideo:
		return "sendVideo", telegramVideo{ChatID: recipient, Video: c.VideoURL, Caption: c.VideoCaption}, nil
	default:
		return "", nil, fmt.Errorf("%w: media %q", entity.ErrInvalidInput, kind)
	}
}

// MessageID returns "<chat_id>:<message_id>". Bot API message ids are only
// unique per chat. The recipient alone is used when the id is missing.
func (TelegramPayloader) MessageID(recipient string, body []byte) string {
	id := gjson.GetBytes(body, "result.message_id")
	if !id.Exists() || id.String() == "" {
		return recipient
	}
	return recipient + ":" + id.String()
}

/* ───────────── WhatsApp ───────────── */

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

type waMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             *waText  `json:"text,omitempty"`
	Image            *waMedia `json:"image,omitempty"`
	Video            *waMedia `json:"video,omitempty"`
}

// WhatsAppPayloader builds Cloud API message bodies.
type WhatsAppPayloader struct{}

func (WhatsAppPayloader) Build(kind entity.MediaKind, recipient string, c entity.Content) (string, any, error) {
	msg := waMessage{MessagingProduct: "whatsapp", RecipientType: "individual", To: recipient}
	switch kind {
	case entity.MediaText:
		msg.Type = "text"
		msg.Text = &waText{Body: c.Text}
	case entity.MediaImage:
		msg.Type = "image"
		msg.Image = &waMedia{Link: c.ImageURL, Caption: c.ImageCaption}
	case entity.MediaVideo:
		msg.Type = "video"
		msg.Video = &waMedia{Link: c.VideoURL, Caption: c.VideoCaption}
	default:
		return "", nil, fmt.Errorf("%w: media %q", entity.ErrInvalidInput, kind)
	}
	return "messages", msg, nil
}

func (WhatsAppPayloader) MessageID(_ string, body []byte) string {
	return gjson.GetBytes(body, "messages.0.id").String()
}

/* ───────────── SMS ───────────── */

// SMSPayloader builds Twilio form bodies. Non-text media degrade to text.
type SMSPayloader struct{}

func (SMSPayloader) Build(kind entity.MediaKind, recipient string, c entity.Content) (string, any, error) {
	form := url.Values{}
	form.Set("To", recipient)
	form.Set("Body", c.FallbackText(kind))
	return "Messages.json", form, nil
}

func (SMSPayloader) MessageID(_ string, body []byte) string {
	return gjson.GetBytes(body, "sid").String()
}
