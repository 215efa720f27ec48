package platforms

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

const SignatureHeader = "X-Room-Signature"

// WebhookAdapter posts the raw event as JSON. With a secret the body is
// signed with HMAC-SHA256 and the hex digest sent in SignatureHeader.
type WebhookAdapter struct {
	client *HTTPClient
}

func NewWebhookAdapter(client *HTTPClient) *WebhookAdapter {
	return &WebhookAdapter{client: client}
}

func (a *WebhookAdapter) Name() string {
	return "webhook"
}

func (a *WebhookAdapter) Send(ctx context.Context, endpoint, secret string, msg Message) error {
	body, err := json.Marshal(msg.Event)
	if err != nil {
		return err
	}
	headers := map[string]string{}
	if secret != "" {
		headers[SignatureHeader] = "sha256=" + Sign(secret, body)
	}
	return a.client.PostJSON(ctx, endpoint, headers, json.RawMessage(body))
}

func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
