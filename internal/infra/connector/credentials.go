package connector

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"notification-gateway/internal/domain/entity"
)

// Credentials holds provider endpoints and secrets read from the environment.
type Credentials struct {
	TelegramBaseURL  string `env:"TELEGRAM_API_BASE_URL" envDefault:"https://api.telegram.org"`
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`

	WhatsAppBaseURL       string `env:"WHATSAPP_API_BASE_URL" envDefault:"https://graph.facebook.com"`
	WhatsAppAPIVersion    string `env:"WHATSAPP_API_VERSION" envDefault:"v19.0"`
	WhatsAppPhoneNumberID string `env:"WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppAccessToken   string `env:"WHATSAPP_ACCESS_TOKEN"`

	TwilioBaseURL    string `env:"TWILIO_API_BASE_URL" envDefault:"https://api.twilio.com"`
	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `env:"TWILIO_FROM_NUMBER"`

	Timeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
}

// LoadCredentials parses Credentials from the process environment.
func LoadCredentials() (Credentials, error) {
	var creds Credentials
	if err := env.Parse(&creds); err != nil {
		return Credentials{}, fmt.Errorf("parse provider credentials: %w", err)
	}
	return creds, nil
}

// Configured reports whether the secrets needed by ch are present.
func (c Credentials) Configured(ch entity.Channel) bool {
	switch ch {
	case entity.ChannelTelegram:
		return c.TelegramBotToken != ""
	case entity.ChannelWhatsApp:
		return c.WhatsAppPhoneNumberID != "" && c.WhatsAppAccessToken != ""
	case entity.ChannelSMS:
		return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
	default:
		return false
	}
}
