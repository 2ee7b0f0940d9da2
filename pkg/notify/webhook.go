package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/model"
)

// WebhookSender posts notifications as JSON to the request's recipient URL,
// or to a fixed URL when one is configured.
type WebhookSender struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookSender creates a generic webhook sender.
// If secret is non-empty, requests are signed with HMAC-SHA256.
func NewWebhookSender(url, secret string) *WebhookSender {
	return &WebhookSender{
		url:    url,
		secret: secret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookSender) Name() string { return "webhook" }

func (w *WebhookSender) Send(ctx context.Context, req model.NotificationRequest) error {
	target := w.url
	if target == "" {
		target = req.Recipient
	}

	payload := webhookPayload{
		Event:        "notification",
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Notification: req,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "Ops-Sentinel/1.0")
	httpReq.Header.Set("X-Notification-ID", req.ID)

	if w.secret != "" {
		sig := computeHMAC(body, []byte(w.secret))
		httpReq.Header.Set("X-Signature-256", "sha256="+sig)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

type webhookPayload struct {
	Event        string                    `json:"event"`
	Timestamp    string                    `json:"timestamp"`
	Notification model.NotificationRequest `json:"notification"`
}

func computeHMAC(message, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}
