package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"bankfeed/internal/domain/account"
	"bankfeed/internal/domain/connection"
	"bankfeed/internal/domain/transaction"
	"bankfeed/internal/shared/middleware"
)

// ConnectionService is implemented by the connection lifecycle service.
type ConnectionService interface {
	Disconnect(ctx context.Context, userID int64, connectionID string) error
	Status(ctx context.Context, userID int64, connectionID string) (*connection.StatusResult, error)
	Accounts(ctx context.Context, userID int64, connectionID string) ([]*account.Account, error)
	Transactions(ctx context.Context, userID int64, connectionID string, limit, offset int) ([]*transaction.Transaction, int64, error)
}

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 500
)

type ConnectionHandler struct {
	service ConnectionService
}

func NewConnectionHandler(service ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{service: service}
}

type disconnectRequest struct {
	ConnectionID string `json:"connectionId"`
}

// HandleDisconnect marks a connection disconnected. Idempotent.
func (h *ConnectionHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.CallerID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req disconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConnectionID == "" {
		http.Error(w, "connectionId is required", http.StatusBadRequest)
		return
	}

	if err := h.service.Disconnect(r.Context(), userID, req.ConnectionID); err != nil {
		if errors.Is(err, connection.ErrNotFound) {
			http.Error(w, "Connection not found", http.StatusNotFound)
			return
		}
		log.Printf("Disconnect failed for connection %s: %v", req.ConnectionID, err)
		http.Error(w, "Disconnect failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleStatus reports the merged local and provider view of a connection.
func (h *ConnectionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.CallerID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	connectionID := r.PathValue("id")
	if connectionID == "" {
		http.Error(w, "Connection ID is required", http.StatusBadRequest)
		return
	}

	result, err := h.service.Status(r.Context(), userID, connectionID)
	if err != nil {
		if errors.Is(err, connection.ErrNotFound) {
			http.Error(w, "Connection not found", http.StatusNotFound)
			return
		}
		log.Printf("Status check failed for connection %s: %v", connectionID, err)
		http.Error(w, "Status check failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type accountResponse struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	OfficialName     *string    `json:"officialName,omitempty"`
	Mask             string     `json:"mask"`
	Type             string     `json:"type"`
	Subtype          string     `json:"subtype"`
	CurrentBalance   float64    `json:"currentBalance"`
	AvailableBalance *float64   `json:"availableBalance,omitempty"`
	APR              *float64   `json:"apr,omitempty"`
	StatementBalance *float64   `json:"statementBalance,omitempty"`
	PaymentDueDate   *time.Time `json:"paymentDueDate,omitempty"`
	Status           string     `json:"status"`
}

// HandleAccounts lists the stored accounts of a connection.
func (h *ConnectionHandler) HandleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.CallerID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	connectionID := r.PathValue("id")
	if connectionID == "" {
		http.Error(w, "Connection ID is required", http.StatusBadRequest)
		return
	}

	accounts, err := h.service.Accounts(r.Context(), userID, connectionID)
	if err != nil {
		if errors.Is(err, connection.ErrNotFound) {
			http.Error(w, "Connection not found", http.StatusNotFound)
			return
		}
		log.Printf("Listing accounts failed for connection %s: %v", connectionID, err)
		http.Error(w, "Listing accounts failed", http.StatusInternalServerError)
		return
	}

	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountResponse{
			ID:               a.ID,
			Name:             a.Name,
			OfficialName:     a.OfficialName,
			Mask:             a.Mask,
			Type:             a.Type,
			Subtype:          a.Subtype,
			CurrentBalance:   a.CurrentBalance,
			AvailableBalance: a.AvailableBalance,
			APR:              a.APR,
			StatementBalance: a.StatementBalance,
			PaymentDueDate:   a.PaymentDueDate,
			Status:           a.Status,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

type transactionResponse struct {
	ID           string  `json:"id"`
	AccountID    string  `json:"accountId"`
	Amount       float64 `json:"amount"`
	Date         string  `json:"date"`
	Name         string  `json:"name"`
	MerchantName *string `json:"merchantName,omitempty"`
	Category     *string `json:"category,omitempty"`
	Pending      bool    `json:"pending"`
}

// HandleTransactions pages through a connection's stored transactions,
// newest first. limit and offset come from the query string.
func (h *ConnectionHandler) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.CallerID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	connectionID := r.PathValue("id")
	if connectionID == "" {
		http.Error(w, "Connection ID is required", http.StatusBadRequest)
		return
	}

	limit, err := positiveQueryInt(r, "limit", defaultTransactionLimit)
	if err != nil || limit > maxTransactionLimit {
		http.Error(w, "Invalid limit", http.StatusBadRequest)
		return
	}
	offset, err := positiveQueryInt(r, "offset", 0)
	if err != nil {
		http.Error(w, "Invalid offset", http.StatusBadRequest)
		return
	}

	txns, total, err := h.service.Transactions(r.Context(), userID, connectionID, limit, offset)
	if err != nil {
		if errors.Is(err, connection.ErrNotFound) {
			http.Error(w, "Connection not found", http.StatusNotFound)
			return
		}
		log.Printf("Listing transactions failed for connection %s: %v", connectionID, err)
		http.Error(w, "Listing transactions failed", http.StatusInternalServerError)
		return
	}

	out := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, transactionResponse{
			ID:           t.ID,
			AccountID:    t.AccountID,
			Amount:       t.Amount,
			Date:         t.Date.Format("2006-01-02"),
			Name:         t.Name,
			MerchantName: t.MerchantName,
			Category:     t.Category,
			Pending:      t.Pending,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": out,
		"total":        total,
		"limit":        limit,
		"offset":       offset,
	})
}

func positiveQueryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return n, nil
}
