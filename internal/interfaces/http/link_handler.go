package http

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"bankfeed/internal/domain/connection"
	"bankfeed/internal/shared/middleware"
	"bankfeed/internal/shared/ratelimit"
)

//go:embed link_schema.json
var linkSchemaJSON []byte

// LinkService is implemented by the connection lifecycle service.
type LinkService interface {
	Link(ctx context.Context, userID int64, publicToken string, md connection.LinkMetadata, memberID string) (*connection.LinkResult, error)
}

type LinkHandler struct {
	service    LinkService
	schema     *jsonschema.Schema
	guard      *ratelimit.Guard
	limit      ratelimit.Limit
	retryAfter time.Duration
}

func NewLinkHandler(service LinkService, guard *ratelimit.Guard, limit ratelimit.Limit, retryAfter time.Duration) (*LinkHandler, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(linkSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parsing link schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("link.json", doc); err != nil {
		return nil, fmt.Errorf("registering link schema: %w", err)
	}
	schema, err := compiler.Compile("link.json")
	if err != nil {
		return nil, fmt.Errorf("compiling link schema: %w", err)
	}

	return &LinkHandler{service: service, schema: schema, guard: guard, limit: limit, retryAfter: retryAfter}, nil
}

type linkRequest struct {
	PublicToken string                  `json:"publicToken"`
	MemberID    string                  `json:"memberId"`
	Metadata    connection.LinkMetadata `json:"metadata"`
}

// HandleExchange validates the link payload against the embedded schema,
// then runs the link flow.
func (h *LinkHandler) HandleExchange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.CallerID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.guard.Allow(fmt.Sprintf("link:%d", userID), h.limit) {
		w.Header().Set("Retry-After", strconv.Itoa(int(h.retryAfter.Seconds())))
		http.Error(w, "Too many link requests", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		http.Error(w, "Request body is not valid JSON", http.StatusBadRequest)
		return
	}
	if err := h.schema.Validate(doc); err != nil {
		http.Error(w, fmt.Sprintf("Invalid link request: %v", err), http.StatusBadRequest)
		return
	}

	var req linkRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Request body is not valid JSON", http.StatusBadRequest)
		return
	}

	result, err := h.service.Link(r.Context(), userID, req.PublicToken, req.Metadata, req.MemberID)
	if err != nil {
		if errors.Is(err, connection.ErrMemberNotFound) {
			http.Error(w, "Member not found", http.StatusNotFound)
			return
		}
		log.Printf("Link failed for user %d: %v", userID, err)
		http.Error(w, "Link failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"connectionId": result.ConnectionID,
		"duplicate":    result.Duplicate,
		"resurrected":  result.Resurrected,
	})
}
