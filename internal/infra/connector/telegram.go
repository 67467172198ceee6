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

// Telegram calls the Bot API: POST {base}/bot{token}/{method}.
type Telegram struct {
	httpConnector
	baseURL string
	token   string
}

// NewTelegram creates a Telegram connector.
func NewTelegram(creds Credentials, deps Deps) *Telegram {
	return &Telegram{
		httpConnector: newHTTPConnector(entity.ChannelTelegram, creds.Timeout, deps),
		baseURL:       strings.TrimRight(creds.TelegramBaseURL, "/"),
		token:         creds.TelegramBotToken,
	}
}

// Send posts payload as JSON to the Bot API method.
func (t *Telegram) Send(ctx context.Context, method string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal telegram payload: %w", err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)

	return t.do(ctx, method, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}
