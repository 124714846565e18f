package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/briefcast/api/internal/model"
)

// WebhookSecretHeader carries the shared secret on outbound webhooks.
const WebhookSecretHeader = "X-Webhook-Secret"

// WebhookClient posts job outcomes to caller-supplied URLs
type WebhookClient struct {
	secret     string
	httpClient *http.Client
}

// NewWebhookClient creates a webhook client. An empty secret omits the header.
func NewWebhookClient(secret string, timeout time.Duration) *WebhookClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookClient{
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Notify posts payload to url as JSON. Any non-2xx answer is an error.
func (c *WebhookClient) Notify(ctx context.Context, url string, payload model.WebhookPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return c.Deliver(ctx, url, jsonData)
}

// Deliver posts an already encoded body.
func (c *WebhookClient) Deliver(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set(WebhookSecretHeader, c.secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
