// Package services holds clients for the external collaborators the
// lifecycle engine consumes.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// SummaryClient is an interface for the summarization sidecar. Summarize
// may be slow; callers await it because the text is returned to the user.
type SummaryClient interface {
	// Summarize returns a rolling summary for a completed stage.
	Summarize(ctx context.Context, stageID string) (string, error)
}

// HTTPSummaryClient is an HTTP implementation of the SummaryClient
// interface.
type HTTPSummaryClient struct {
	url    string
	client *http.Client
}

// NewHTTPSummaryClient creates a new HTTPSummaryClient.
func NewHTTPSummaryClient(url string) *HTTPSummaryClient {
	return &HTTPSummaryClient{url: url, client: http.DefaultClient}
}

// Summarize requests a summary for the given stage.
func (c *HTTPSummaryClient) Summarize(ctx context.Context, stageID string) (string, error) {
	requestBody, err := json.Marshal(map[string]string{"stage_id": stageID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/summarize", bytes.NewBuffer(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to summarize: status code %d", resp.StatusCode)
	}

	var payload struct {
		Summary string `json:"summary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode response body: %w", err)
	}
	return payload.Summary, nil
}
