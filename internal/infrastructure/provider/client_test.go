package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSyncTransactionsPagination(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transactions/sync" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if body["client_id"] != "test-client" || body["secret"] != "test-secret" {
			t.Error("expected credentials in request body")
		}

		calls++
		page := SyncPage{NextCursor: "cursor-2", HasMore: false}
		if _, ok := body["cursor"]; !ok {
			page = SyncPage{
				Added:      []Transaction{{ID: "txn-1", AccountID: "acc-1", Amount: 12.5, Date: "2026-08-01", Name: "Coffee"}},
				NextCursor: "cursor-1",
				HasMore:    true,
			}
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, ClientID: "test-client", ClientSecret: "test-secret"})

	first, err := client.SyncTransactions(context.Background(), "token", "")
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if !first.HasMore || first.NextCursor != "cursor-1" {
		t.Errorf("unexpected first page: %+v", first)
	}
	if len(first.Added) != 1 || first.Added[0].ID != "txn-1" {
		t.Errorf("unexpected added transactions: %+v", first.Added)
	}

	second, err := client.SyncTransactions(context.Background(), "token", first.NextCursor)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if second.HasMore {
		t.Error("expected final page")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		code      string
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, CodeRateLimitExceeded, true},
		{"server error", http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", true},
		{"bad public token", http.StatusBadRequest, CodeInvalidPublicToken, false},
		{"login required", http.StatusBadRequest, CodeItemLoginRequired, false},
		{"bad access token", http.StatusBadRequest, CodeInvalidAccessToken, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(Error{Code: tt.code, Type: "API_ERROR", Message: "boom"})
			}))
			defer server.Close()

			client := NewClient(Config{BaseURL: server.URL})
			_, err := client.SyncTransactions(context.Background(), "token", "")
			if err == nil {
				t.Fatal("expected error")
			}

			var pe *Error
			if !errors.As(err, &pe) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if pe.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, pe.Code)
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("expected retryable=%v for %s", tt.retryable, tt.code)
			}
		})
	}
}

func TestIsRetryableNetworkError(t *testing.T) {
	if !IsRetryable(errors.New("connection refused")) {
		t.Error("plain errors should be treated as transient")
	}
}

func TestExchangePublicToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/item/public_token/exchange" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(ExchangeResult{AccessToken: "access-123", ItemID: "item-456"})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	result, err := client.ExchangePublicToken(context.Background(), "public-abc")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if result.AccessToken != "access-123" || result.ItemID != "item-456" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestGetItemStatus(t *testing.T) {
	code := CodeItemLoginRequired
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"item": ItemStatus{ErrorCode: &code}})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	status, err := client.GetItemStatus(context.Background(), "token")
	if err != nil {
		t.Fatalf("item status: %v", err)
	}
	if status.ErrorCode == nil || *status.ErrorCode != CodeItemLoginRequired {
		t.Errorf("unexpected status: %+v", status)
	}
}
