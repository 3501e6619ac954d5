package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/driftsync/driftsync/internal/api/auth"
	"github.com/driftsync/driftsync/internal/api/middleware"
	"github.com/driftsync/driftsync/pkg/chunk"
	"github.com/driftsync/driftsync/pkg/engine"
	"github.com/driftsync/driftsync/pkg/models"
	"github.com/driftsync/driftsync/pkg/store"
	"github.com/driftsync/driftsync/pkg/vector"
)

// maxDirectUploadBytes bounds the in-memory portion of a multipart upload.
// Larger files go through the chunked upload endpoints.
const maxDirectUploadBytes = 32 << 20

// FilesHandler handles file metadata and direct (non-chunked) sync endpoints.
type FilesHandler struct {
	store  store.Store
	engine *engine.Engine
}

// NewFilesHandler creates a new FilesHandler.
func NewFilesHandler(s store.Store, eng *engine.Engine) *FilesHandler {
	return &FilesHandler{store: s, engine: eng}
}

// requireClaims fetches the authenticated claims or writes a 401.
func requireClaims(w http.ResponseWriter, r *http.Request) *auth.Claims {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
	}
	return claims
}

// List handles GET /api/files/.
// Returns the caller's live files; tombstoned paths are excluded.
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	files, err := h.store.ListFiles(r.Context(), claims.UserID)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	WriteJSONOK(w, files)
}

// parseSyncForm extracts the shared multipart fields of a direct upload:
// the file part, the client id and the client's version vector.
func parseSyncForm(w http.ResponseWriter, r *http.Request) (data []byte, clientID string, clientVec vector.Vector, ok bool) {
	if err := r.ParseMultipartForm(maxDirectUploadBytes); err != nil {
		BadRequest(w, "Invalid multipart body")
		return nil, "", vector.Vector{}, false
	}

	part, _, err := r.FormFile("file")
	if err != nil {
		BadRequest(w, "Missing file part")
		return nil, "", vector.Vector{}, false
	}
	defer part.Close()

	data, err = io.ReadAll(part)
	if err != nil {
		BadRequest(w, "Failed to read file part")
		return nil, "", vector.Vector{}, false
	}

	clientID = r.FormValue("client_id")
	if clientID == "" {
		BadRequest(w, "client_id is required")
		return nil, "", vector.Vector{}, false
	}

	if raw := r.FormValue("version_vector"); raw != "" {
		clientVec, err = vector.Parse([]byte(raw))
		if err != nil {
			BadRequest(w, "Invalid version_vector")
			return nil, "", vector.Vector{}, false
		}
	}
	return data, clientID, clientVec, true
}

// Upload handles POST /api/files/upload.
// Multipart form: file part "file", values "path", "client_id" and an
// optional "version_vector". A CONFLICT outcome is a 200 with the flag in
// the body, not a transport failure.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	data, clientID, clientVec, ok := parseSyncForm(w, r)
	if !ok {
		return
	}

	path, err := models.NormalizePath(r.FormValue("path"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	result, err := h.engine.SyncFile(r.Context(), engine.Request{
		Username:     claims.Username,
		FilePath:     path,
		ClientID:     clientID,
		ClientVector: clientVec,
		Checksum:     chunk.SumHex(data),
		FileSize:     int64(len(data)),
		Data:         data,
	})
	if err != nil {
		writeSyncError(w, err)
		return
	}
	WriteJSONOK(w, result)
}

// Update handles PUT /api/files/{fileId}.
// Same multipart form as Upload; the path comes from the stored file.
func (h *FilesHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	file, ok := h.ownedFile(w, r, claims)
	if !ok {
		return
	}

	data, clientID, clientVec, ok := parseSyncForm(w, r)
	if !ok {
		return
	}

	result, err := h.engine.SyncFile(r.Context(), engine.Request{
		Username:     claims.Username,
		FilePath:     file.FilePath,
		ClientID:     clientID,
		ClientVector: clientVec,
		Checksum:     chunk.SumHex(data),
		FileSize:     int64(len(data)),
		Data:         data,
	})
	if err != nil {
		writeSyncError(w, err)
		return
	}
	WriteJSONOK(w, result)
}

// DeleteRequest is the body for DELETE /api/files/{fileId}.
type DeleteRequest struct {
	ClientID     string        `json:"client_id"`
	ClientVector vector.Vector `json:"version_vector"`
}

// Delete handles DELETE /api/files/{fileId}.
// On accept the file is tombstoned; concurrent edits surface as CONFLICT.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	file, ok := h.ownedFile(w, r, claims)
	if !ok {
		return
	}

	var req DeleteRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.ClientID == "" {
		BadRequest(w, "client_id is required")
		return
	}

	result, err := h.engine.DeleteFile(r.Context(), engine.Request{
		Username:     claims.Username,
		FilePath:     file.FilePath,
		ClientID:     req.ClientID,
		ClientVector: req.ClientVector,
	})
	if err != nil {
		writeSyncError(w, err)
		return
	}
	WriteJSONOK(w, result)
}

// Versions handles GET /api/files/{fileId}/versions.
// Returns the full version history, newest first; conflict versions are
// included and addressable by id.
func (h *FilesHandler) Versions(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	file, ok := h.ownedFile(w, r, claims)
	if !ok {
		return
	}

	versions, err := h.store.ListVersions(r.Context(), file.ID)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	WriteJSONOK(w, versions)
}

// MetadataResponse is the body of GET /api/files/{fileId}/metadata, used by
// clients to plan ranged downloads.
type MetadataResponse struct {
	FileID                string        `json:"file_id"`
	FileName              string        `json:"file_name"`
	FileSize              int64         `json:"file_size"`
	Checksum              string        `json:"checksum"`
	Vector                vector.Vector `json:"version_vector"`
	SupportsRangeRequests bool          `json:"supports_range_requests"`
}

// Metadata handles GET /api/files/{fileId}/metadata.
func (h *FilesHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	file, _, err := h.engine.FileForDownload(r.Context(), claims.Username, chi.URLParam(r, "fileId"))
	if err != nil {
		writeSyncError(w, err)
		return
	}

	vec, err := file.CurrentVector()
	if err != nil {
		writeSyncError(w, err)
		return
	}

	WriteJSONOK(w, MetadataResponse{
		FileID:                file.ID,
		FileName:              file.FileName,
		FileSize:              file.FileSize,
		Checksum:              file.Checksum,
		Vector:                vec,
		SupportsRangeRequests: true,
	})
}

// ownedFile resolves {fileId} and verifies the caller owns it. Tombstoned
// files are still resolvable here so deletes stay idempotent.
func (h *FilesHandler) ownedFile(w http.ResponseWriter, r *http.Request, claims *auth.Claims) (*models.File, bool) {
	file, err := h.store.GetFileByID(r.Context(), chi.URLParam(r, "fileId"))
	if err != nil {
		if errors.Is(err, models.ErrFileNotFound) {
			NotFound(w, "File not found")
		} else {
			writeSyncError(w, err)
		}
		return nil, false
	}
	if file.UserID != claims.UserID {
		NotFound(w, "File not found")
		return nil, false
	}
	return file, true
}
