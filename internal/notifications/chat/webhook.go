package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"sandboxnotify/internal/types"
)

// HTTPDoer is satisfied by *external.BaseClient and *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookPublisher posts chat messages straight to an incoming-webhook URL.
// It is the fallback when no chat-delivery topic is configured.
type WebhookPublisher struct {
	client HTTPDoer
	url    string
	logger types.Logger
}

// NewWebhookPublisher creates a publisher posting to webhookURL.
func NewWebhookPublisher(client HTTPDoer, webhookURL string, logger types.Logger) *WebhookPublisher {
	return &WebhookPublisher{client: client, url: webhookURL, logger: logger}
}

// Publish validates msg and posts it as JSON.
func (p *WebhookPublisher) Publish(ctx context.Context, msg *Message) error {
	if err := Validate(msg); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webhook publisher: failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook publisher: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamChat, "chat webhook request failed", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := ValidateResponse(resp.StatusCode, respBody); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamChat, err.Error(), err)
	}

	p.logger.Info("chat message posted to webhook", "status", resp.StatusCode)
	return nil
}

// ValidateResponse catches the "soft failure" pattern where the webhook
// returns HTTP 200 with an error body.
func ValidateResponse(statusCode int, body []byte) error {
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("chat webhook: unexpected status %d", statusCode)
	}

	bodyStr := strings.TrimSpace(string(body))
	if bodyStr == "" || bodyStr == "ok" {
		return nil
	}

	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err == nil {
		if ok, isBool := resp["ok"].(bool); isBool && !ok {
			errMsg, _ := resp["error"].(string)
			if errMsg == "" {
				errMsg = "unknown error"
			}
			return fmt.Errorf("chat webhook: API error: %s", errMsg)
		}
		return nil
	}

	switch bodyStr {
	case "no_text", "invalid_payload", "channel_not_found", "channel_is_archived", "too_many_attachments":
		return fmt.Errorf("chat webhook: API error: %s", bodyStr)
	}
	return nil
}

var _ Publisher = (*WebhookPublisher)(nil)
