package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// WebhookDelivery POSTs notifications to a configured URL as JSON.
type WebhookDelivery struct {
	url    string
	client *http.Client
}

// NewWebhookDelivery creates a webhook delivery for the given URL.
func NewWebhookDelivery(url string) *WebhookDelivery {
	return &WebhookDelivery{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (d *WebhookDelivery) Name() string { return "webhook" }

func (d *WebhookDelivery) Deliver(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogDelivery writes notifications to the structured log. The default
// delivery when no webhook is configured.
type LogDelivery struct {
	logger *slog.Logger
}

// NewLogDelivery creates a log delivery.
func NewLogDelivery(logger *slog.Logger) *LogDelivery {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDelivery{logger: logger}
}

func (d *LogDelivery) Name() string { return "log" }

func (d *LogDelivery) Deliver(ctx context.Context, n Notification) error {
	d.logger.Info("proactive notification",
		"user", n.UserID,
		"signal", n.Signal,
		"message", n.Message,
		"cooldown_until", n.CooldownUntil)
	return nil
}
