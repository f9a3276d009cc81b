package lifecyclehooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookConnector posts every LifecycleEvent as an HMAC-signed JSON
// body, the outbound half of the teacher's notification dispatch
// (internal/notification/dispatch.go's sendWebhook), generalized from a
// one-shot decision payload to the daemon's lifecycle event stream and
// adapted to sign each body the way internal/webhook's response tokens
// are HMAC-verified on the inbound side.
type WebhookConnector struct {
	URL        string
	Secret     []byte
	StrictMode bool
	Client     *http.Client
}

// NewWebhookConnector builds a WebhookConnector. Requests are signed
// only when the secret is non-empty; StrictMode with an empty
// secret is a configuration error surfaced at Deliver time rather than
// construction, matching the teacher's permissive webhook.ServerConfig
// shape.
func NewWebhookConnector(url, secret string, strictMode bool) *WebhookConnector {
	return &WebhookConnector{
		URL:        url,
		Secret:     []byte(secret),
		StrictMode: strictMode,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Deliver POSTs ev as JSON to c.URL, signing the body with HMAC-SHA256
// over c.Secret and carrying the signature in X-Agentrailsd-Signature.
func (c *WebhookConnector) Deliver(ctx context.Context, ev LifecycleEvent) error {
	if c.URL == "" {
		return fmt.Errorf("lifecyclehooks: webhook connector has no URL configured")
	}
	if c.StrictMode && len(c.Secret) == 0 {
		return fmt.Errorf("lifecyclehooks: strict mode requires a webhook secret")
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("lifecyclehooks: marshal lifecycle event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("lifecyclehooks: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agentrailsd-Event", ev.Type)
	if len(c.Secret) > 0 {
		req.Header.Set("X-Agentrailsd-Signature", signBody(c.Secret, body))
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("lifecyclehooks: webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("lifecyclehooks: webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (c *WebhookConnector) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func signBody(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// pingCategory buckets a LifecycleEvent's Type into the coarse
// categories a "peon-ping" style notifier distinguishes, the way the
// teacher's notification.Dispatcher routes "email:human" vs "webhook"
// vs "sms:" by channel prefix rather than exact event name.
func pingCategory(eventType string) string {
	switch {
	case hasSuffixAny(eventType, ".failed"):
		return "failure"
	case hasSuffixAny(eventType, ".required"):
		return "attention"
	case hasSuffixAny(eventType, ".started", ".completed", ".exited"):
		return "progress"
	default:
		return "info"
	}
}

// PingConnector delivers a terse categorical notification, adapted
// from the teacher's notification.Dispatcher "log"/"sms:" channels:
// no rich payload, just a category and a one-line summary, suited to a
// push-notification style endpoint rather than a webhook integration.
type PingConnector struct {
	URL    string
	Client *http.Client
}

// NewPingConnector builds a PingConnector posting to url.
func NewPingConnector(url string) *PingConnector {
	return &PingConnector{URL: url, Client: &http.Client{}}
}

type pingPayload struct {
	Category  string `json:"category"`
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Summary   string `json:"summary"`
}

// Deliver POSTs a terse category+summary payload to p.URL.
func (p *PingConnector) Deliver(ctx context.Context, ev LifecycleEvent) error {
	if p.URL == "" {
		return fmt.Errorf("lifecyclehooks: ping connector has no URL configured")
	}
	payload := pingPayload{
		Category:  pingCategory(ev.Type),
		Type:      ev.Type,
		SessionID: ev.SessionID,
		Summary:   fmt.Sprintf("%s: %s", ev.Type, ev.SessionID),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("lifecyclehooks: marshal ping payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("lifecyclehooks: build ping request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("lifecyclehooks: ping request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("lifecyclehooks: ping endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
