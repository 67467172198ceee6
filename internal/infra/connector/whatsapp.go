package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"notification-gateway/internal/domain/entity"
)

// WhatsApp calls the Cloud API: POST {base}/{version}/{phoneNumberId}/{method}.
type WhatsApp struct {
	httpConnector
	endpoint string
	token    string
}

// NewWhatsApp creates a WhatsApp Cloud API connector.
func NewWhatsApp(creds Credentials, deps Deps) *WhatsApp {
	return &WhatsApp{
		httpConnector: newHTTPConnector(entity.ChannelWhatsApp, creds.Timeout, deps),
		endpoint: fmt.Sprintf("%s/%s/%s",
			strings.TrimRight(creds.WhatsAppBaseURL, "/"), creds.WhatsAppAPIVersion, creds.WhatsAppPhoneNumberID),
		token: creds.WhatsAppAccessToken,
	}
}

// Send posts payload as JSON with the bearer token.
func (w *WhatsApp) Send(ctx context.Context, method string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal whatsapp payload: %w", err)
	}
	endpoint := w.endpoint + "/" + method

	return w.do(ctx, method, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+w.token)
		return req, nil
	})
}
