package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultSMSTimeout = 15 * time.Second

// SMSClient posts messages to an SMS Local style bulk HTTP gateway.
type SMSClient struct {
	APIKey     string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
}

func NewSMSClient(apiKey, baseURL, sender string) *SMSClient {
	if baseURL == "" {
		baseURL = "https://www.smslocal.com/dev/bulkV2"
	}
	return &SMSClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: defaultSMSTimeout},
	}
}

// Send delivers msg to msg.Contact. Codes go out on the gateway's otp route;
// links are sent as plain text.
func (c *SMSClient) Send(ctx context.Context, msg Message) error {
	if c.APIKey == "" {
		return fmt.Errorf("sms: API key not configured")
	}

	body := map[string]any{
		"numbers": strings.TrimPrefix(msg.Contact, "+"),
	}
	if msg.Kind == KindCode {
		body["route"] = "otp"
		body["variables"] = msg.Secret
	} else {
		_, text := msg.Render()
		body["route"] = "q"
		body["message"] = text
	}
	if c.Sender != "" {
		body["sender_id"] = c.Sender
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
