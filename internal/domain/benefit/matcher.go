// Package benefit notifies the benefit-matching pipeline when a sync
// lands new or changed transactions.
package benefit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Matcher is invoked after a sync that changed transactions.
type Matcher interface {
	Match(ctx context.Context, connectionID string, added, modified int) error
}

// WebhookMatcher posts a match request to an external pipeline.
type WebhookMatcher struct {
	url        string
	httpClient *http.Client
}

func NewWebhookMatcher(url string) *WebhookMatcher {
	return &WebhookMatcher{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (m *WebhookMatcher) Match(ctx context.Context, connectionID string, added, modified int) error {
	payload, err := json.Marshal(map[string]any{
		"connection_id": connectionID,
		"added":         added,
		"modified":      modified,
	})
	if err != nil {
		return fmt.Errorf("marshaling match request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building match request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting match request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("match webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NoopMatcher is used when no webhook is configured.
type NoopMatcher struct{}

func (NoopMatcher) Match(context.Context, string, int, int) error { return nil }
