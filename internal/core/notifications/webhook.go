package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/security"
)

// WebhookSender posts events as signed JSON to a single endpoint.
type WebhookSender struct {
	url    string
	secret string
	client *http.Client
}

func NewWebhookSender(url, secret string) *WebhookSender {
	// Don't let slow receivers block the dispatcher.
	return &WebhookSender{url: url, secret: secret, client: &http.Client{Timeout: 5 * time.Second}}
}

// Send delivers one event. Any non-2xx answer is an error so the caller retries.
func (s *WebhookSender) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Churpay-Webhook/1.0")
	if s.secret != "" {
		req.Header.Set(security.SignatureHeader, security.Sign(s.secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook receiver returned %d", resp.StatusCode)
}

// LogSender writes events to the log; used when no webhook URL is configured.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(_ context.Context, ev Event) error {
	s.Log.Info("notification", "event", ev.Type, "entity_id", ev.EntityID, "church_id", ev.ChurchID)
	return nil
}
