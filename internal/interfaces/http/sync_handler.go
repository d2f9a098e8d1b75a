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

	"bankfeed/internal/domain/connection"
	"bankfeed/internal/domain/sync"
	"bankfeed/internal/shared/middleware"
	"bankfeed/internal/shared/ratelimit"
)

// SyncService is implemented by the sync engine.
type SyncService interface {
	Sync(ctx context.Context, userID int64, connectionID string) (*sync.Result, error)
	Reload(ctx context.Context, userID int64, connectionID, confirmation string) (*sync.ReloadResult, error)
}

type SyncHandler struct {
	service    SyncService
	guard      *ratelimit.Guard
	limit      ratelimit.Limit
	retryAfter time.Duration
}

func NewSyncHandler(service SyncService, guard *ratelimit.Guard, limit ratelimit.Limit, retryAfter time.Duration) *SyncHandler {
	return &SyncHandler{service: service, guard: guard, limit: limit, retryAfter: retryAfter}
}

type syncRequest struct {
	ConnectionID string `json:"connectionId"`
}

type reloadRequest struct {
	ConnectionID string `json:"connectionId"`
	Confirmation string `json:"confirmation"`
}

// HandleSync runs a delta sync for one connection.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.CallerID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.allow(w, userID) {
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConnectionID == "" {
		http.Error(w, "connectionId is required", http.StatusBadRequest)
		return
	}

	result, err := h.service.Sync(r.Context(), userID, req.ConnectionID)
	if err != nil {
		if errors.Is(err, connection.ErrNotFound) {
			http.Error(w, "Connection not found", http.StatusNotFound)
			return
		}
		log.Printf("Sync failed for connection %s: %v", req.ConnectionID, err)
		http.Error(w, "Sync failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleReload wipes and replays a connection's transaction history. Guarded
// by the same per-user limit as sync plus an explicit confirmation phrase.
func (h *SyncHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.CallerID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.allow(w, userID) {
		return
	}

	var req reloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConnectionID == "" {
		http.Error(w, "connectionId is required", http.StatusBadRequest)
		return
	}

	result, err := h.service.Reload(r.Context(), userID, req.ConnectionID, req.Confirmation)
	if err != nil {
		switch {
		case errors.Is(err, sync.ErrConfirmationMismatch):
			http.Error(w, "Confirmation phrase does not match", http.StatusBadRequest)
		case errors.Is(err, connection.ErrNotFound):
			http.Error(w, "Connection not found", http.StatusNotFound)
		default:
			log.Printf("Reload failed for connection %s: %v", req.ConnectionID, err)
			http.Error(w, "Reload failed", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *SyncHandler) allow(w http.ResponseWriter, userID int64) bool {
	if h.guard.Allow(fmt.Sprintf("sync:%d", userID), h.limit) {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(h.retryAfter.Seconds())))
	http.Error(w, "Too many sync requests", http.StatusTooManyRequests)
	return false
}
