package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// WebhookDispatcher is an HTTP implementation of the Dispatcher interface.
// It posts the event identifier to the monitoring consumer's endpoint.
type WebhookDispatcher struct {
	url    string
	client *http.Client
}

// NewWebhookDispatcher creates a new WebhookDispatcher.
func NewWebhookDispatcher(url string) *WebhookDispatcher {
	return &WebhookDispatcher{url: url, client: http.DefaultClient}
}

// Dispatch posts {"event_id": id} to the configured endpoint.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, eventID string) error {
	body, err := json.Marshal(map[string]string{"event_id": eventID})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url+"/notifications", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification rejected: status code %d", resp.StatusCode)
	}
	return nil
}
