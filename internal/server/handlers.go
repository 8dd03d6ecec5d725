package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/pathwise/engram/internal/engine"
	"github.com/pathwise/engram/internal/storage"
	"github.com/pathwise/engram/pkg/types"
)

// Engine is the engine surface the HTTP layer drives.
type Engine interface {
	RetrieveMemories(ctx context.Context, req engine.RetrievalRequest) (*engine.RetrievalResult, error)
	ExtractAndStore(ctx context.Context, req engine.ExtractRequest) (*engine.ExtractResult, error)
	Consolidate(ctx context.Context, ownerID string, category types.Category) (*engine.ConsolidateResult, error)
	CompactAll(ctx context.Context) (*engine.CompactionReport, error)
	Stats(ctx context.Context, ownerID string) (*storage.OwnerStats, error)
	Ping(ctx context.Context) error
}

type apiHandlers struct {
	engine Engine
}

func newAPIHandlers(eng Engine) *apiHandlers {
	return &apiHandlers{engine: eng}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("server: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeEngineError maps engine errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("server: request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// Retrieve handles POST /api/retrieve.
func (h *apiHandlers) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req engine.RetrievalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := h.engine.RetrieveMemories(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Extract handles POST /api/extract.
func (h *apiHandlers) Extract(w http.ResponseWriter, r *http.Request) {
	var req engine.ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := h.engine.ExtractAndStore(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type consolidateRequest struct {
	OwnerID  string         `json:"owner_id"`
	Category types.Category `json:"category,omitempty"`
}

// Consolidate handles POST /api/consolidate: the on-demand cleanup pass for
// one owner, optionally scoped to a category.
func (h *apiHandlers) Consolidate(w http.ResponseWriter, r *http.Request) {
	var req consolidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := h.engine.Consolidate(r.Context(), req.OwnerID, req.Category)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Compact handles POST /api/compact. It runs one sweep synchronously and
// returns the report; operators normally trigger this from the sweep binary
// or a scheduler, not on a request path with users waiting.
func (h *apiHandlers) Compact(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.CompactAll(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Stats handles GET /api/stats?owner_id=...
func (h *apiHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id query parameter is required")
		return
	}

	stats, err := h.engine.Stats(r.Context(), ownerID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Health handles GET /health. Reports degraded when the store is unreachable.
func (h *apiHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.engine.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
