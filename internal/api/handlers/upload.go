package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/driftsync/driftsync/pkg/chunk"
	"github.com/driftsync/driftsync/pkg/upload"
)

// maxChunkBytes bounds the in-memory portion of one chunk part.
const maxChunkBytes = 64 << 20

// UploadHandler handles the chunked upload session endpoints.
type UploadHandler struct {
	manager *upload.Manager
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(m *upload.Manager) *UploadHandler {
	return &UploadHandler{manager: m}
}

// Initiate handles POST /api/files/upload/initiate-chunked.
func (h *UploadHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	var req upload.InitiateRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.TotalChunks < 1 {
		BadRequest(w, "total_chunks must be at least 1")
		return
	}
	if req.TotalFileSize <= 0 {
		BadRequest(w, "total_file_size must be positive")
		return
	}
	if req.ClientID == "" {
		BadRequest(w, "client_id is required")
		return
	}

	snap, err := h.manager.Initiate(r.Context(), claims.Username, req)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	WriteJSONCreated(w, snap)
}

// Chunk handles POST /api/files/upload/chunk.
// Multipart form: values "session_id", "chunk_index", optional
// "chunk_checksum", and the chunk bytes in part "chunk". Responds with the
// session snapshot; the snapshot of the final chunk carries the sync result.
func (h *UploadHandler) Chunk(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	if err := r.ParseMultipartForm(maxChunkBytes); err != nil {
		BadRequest(w, "Invalid multipart body")
		return
	}

	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		BadRequest(w, "session_id is required")
		return
	}
	index, err := strconv.Atoi(r.FormValue("chunk_index"))
	if err != nil {
		BadRequest(w, "chunk_index must be an integer")
		return
	}

	part, _, err := r.FormFile("chunk")
	if err != nil {
		BadRequest(w, "Missing chunk part")
		return
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		BadRequest(w, "Failed to read chunk part")
		return
	}

	snap, err := h.manager.ReceiveChunk(r.Context(), claims.Username, sessionID, chunk.Chunk{
		SessionID: sessionID,
		Index:     index,
		Size:      int64(len(data)),
		Data:      data,
		Checksum:  r.FormValue("chunk_checksum"),
	})
	if err != nil {
		writeSyncError(w, err)
		return
	}
	WriteJSONOK(w, snap)
}

// Status handles GET /api/files/upload/status/{sessionId}.
func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	snap, err := h.manager.Status(r.Context(), claims.Username, chi.URLParam(r, "sessionId"))
	if err != nil {
		writeSyncError(w, err)
		return
	}
	WriteJSONOK(w, snap)
}

// Cancel handles DELETE /api/files/upload/cancel/{sessionId}.
func (h *UploadHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	if err := h.manager.Cancel(r.Context(), claims.Username, chi.URLParam(r, "sessionId")); err != nil {
		writeSyncError(w, err)
		return
	}
	WriteNoContent(w)
}

// Sessions handles GET /api/files/upload/sessions.
func (h *UploadHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	snaps, err := h.manager.ActiveSessions(r.Context(), claims.Username)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	WriteJSONOK(w, snaps)
}
