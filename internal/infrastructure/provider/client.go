package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Client talks to the aggregator's REST API. Credentials travel in the
// request body, matching the aggregator's auth scheme.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	secret     string
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:  cfg.BaseURL,
		clientID: cfg.ClientID,
		secret:   cfg.ClientSecret,
	}
}

// SyncTransactions fetches one page of the delta feed starting at cursor.
// An empty cursor starts from the beginning of history.
func (c *Client) SyncTransactions(ctx context.Context, accessToken, cursor string) (*SyncPage, error) {
	req := map[string]any{
		"access_token": accessToken,
		"count":        500,
	}
	if cursor != "" {
		req["cursor"] = cursor
	}
	var page SyncPage
	if err := c.post(ctx, "/transactions/sync", req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetBalances returns current balance data for every account on the item.
func (c *Client) GetBalances(ctx context.Context, accessToken string) ([]Account, error) {
	req := map[string]any{"access_token": accessToken}
	var resp struct {
		Accounts []Account `json:"accounts"`
	}
	if err := c.post(ctx, "/accounts/balance/get", req, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// ExchangePublicToken trades a short-lived public token for a permanent
// access token and the provider's item id.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (*ExchangeResult, error) {
	req := map[string]any{"public_token": publicToken}
	var out ExchangeResult
	if err := c.post(ctx, "/item/public_token/exchange", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveItem revokes the access token on the aggregator side.
func (c *Client) RemoveItem(ctx context.Context, accessToken string) error {
	req := map[string]any{"access_token": accessToken}
	var out struct {
		RequestID string `json:"request_id"`
	}
	return c.post(ctx, "/item/remove", req, &out)
}

// GetItemStatus returns the aggregator's health view of the item.
func (c *Client) GetItemStatus(ctx context.Context, accessToken string) (*ItemStatus, error) {
	req := map[string]any{"access_token": accessToken}
	var resp struct {
		Item ItemStatus `json:"item"`
	}
	if err := c.post(ctx, "/item/get", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Item, nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]any, out any) error {
	body["client_id"] = c.clientID
	body["secret"] = c.secret

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request for %s: %w", path, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request for %s: %w", path, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &Error{StatusCode: resp.StatusCode}
		if decodeErr := json.NewDecoder(resp.Body).Decode(apiErr); decodeErr != nil {
			return fmt.Errorf("provider returned status %d for %s", resp.StatusCode, path)
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}
