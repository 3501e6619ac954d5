package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/driftsync/driftsync/pkg/blob"
	"github.com/driftsync/driftsync/pkg/store"
)

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Are the metadata store and blob store reachable?
type HealthHandler struct {
	store store.Store
	blobs blob.Store
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(s store.Store, blobs blob.Store) *HealthHandler {
	return &HealthHandler{store: s, blobs: blobs}
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Liveness handles GET /health - simple liveness probe.
// Always succeeds as long as the HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, healthResponse{Status: "healthy"})
}

// Readiness handles GET /health/ready - readiness probe.
// Returns 503 if the database or the blob store is unreachable.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.HealthCheck(ctx); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Error: err.Error()})
		return
	}
	if err := h.blobs.HealthCheck(ctx); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Error: err.Error()})
		return
	}
	WriteJSONOK(w, healthResponse{Status: "healthy"})
}
