package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"notification-gateway/internal/domain/entity"
)

// Twilio calls the Messaging API:
// POST {base}/2010-04-01/Accounts/{sid}/{method} with basic auth and a form body.
type Twilio struct {
	httpConnector
	baseURL    string
	accountSID string
	authToken  string
	from       string
}

// NewTwilio creates a Twilio SMS connector.
func NewTwilio(creds Credentials, deps Deps) *Twilio {
	return &Twilio{
		httpConnector: newHTTPConnector(entity.ChannelSMS, creds.Timeout, deps),
		baseURL:       strings.TrimRight(creds.TwilioBaseURL, "/"),
		accountSID:    creds.TwilioAccountSID,
		authToken:     creds.TwilioAuthToken,
		from:          creds.TwilioFromNumber,
	}
}

// Send posts payload, which must be url.Values, as a form. From is filled
// from the configured sender number when absent.
func (t *Twilio) Send(ctx context.Context, method string, payload any) ([]byte, error) {
	form, ok := payload.(url.Values)
	if !ok {
		return nil, fmt.Errorf("twilio payload must be url.Values, got %T", payload)
	}
	if form.Get("From") == "" {
		form = cloneValues(form)
		form.Set("From", t.from)
	}
	encoded := form.Encode()
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/%s", t.baseURL, t.accountSID, method)

	return t.do(ctx, method, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(t.accountSID, t.authToken)
		return req, nil
	})
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+1)
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
