package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/blob"
	"github.com/driftsync/driftsync/pkg/engine"
)

// DownloadHandler streams file payloads, with optional byte-range support
// on the chunked endpoint.
type DownloadHandler struct {
	engine *engine.Engine
	blobs  blob.Store
}

// NewDownloadHandler creates a new DownloadHandler.
func NewDownloadHandler(eng *engine.Engine, blobs blob.Store) *DownloadHandler {
	return &DownloadHandler{engine: eng, blobs: blobs}
}

// Download handles GET /api/files/{fileId}/download.
// Streams the full current version.
func (h *DownloadHandler) Download(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	file, version, err := h.engine.FileForDownload(r.Context(), claims.Username, chi.URLParam(r, "fileId"))
	if err != nil {
		writeSyncError(w, err)
		return
	}

	body, size, err := h.blobs.OpenBlob(r.Context(), version.StoragePath, 0)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.FileName))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		// Client disconnects are expected mid-stream.
		logger.Debug("download stream aborted", "file_id", file.ID, "error", err)
	}
}

// DownloadChunked handles GET /api/files/{fileId}/download-chunked.
// Honors a single Range: bytes=start-end header; without one it behaves
// like a full download.
func (h *DownloadHandler) DownloadChunked(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	file, version, err := h.engine.FileForDownload(r.Context(), claims.Username, chi.URLParam(r, "fileId"))
	if err != nil {
		writeSyncError(w, err)
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		h.Download(w, r)
		return
	}

	start, end, err := parseByteRange(rangeHeader, file.FileSize)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", file.FileSize))
		RangeNotSatisfiable(w, err.Error())
		return
	}

	body, _, err := h.blobs.OpenBlob(r.Context(), version.StoragePath, start)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	defer body.Close()

	length := end - start + 1
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, file.FileSize))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.FileName))
	w.WriteHeader(http.StatusPartialContent)

	if _, err := io.Copy(w, io.LimitReader(body, length)); err != nil {
		logger.Debug("range stream aborted", "file_id", file.ID, "error", err)
	}
}

// parseByteRange parses a single "bytes=start-end" range against the given
// size. A missing end means through the last byte.
func parseByteRange(header string, size int64) (start, end int64, err error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("unsupported range unit: %s", header)
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, fmt.Errorf("malformed range: %s", header)
	}

	start, err = strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("invalid range start: %s", header)
	}

	if strings.TrimSpace(endStr) == "" {
		end = size - 1
	} else {
		end, err = strconv.ParseInt(strings.TrimSpace(endStr), 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid range end: %s", header)
		}
	}

	if end >= size || start > end {
		return 0, 0, fmt.Errorf("range %d-%d not satisfiable for size %d", start, end, size)
	}
	return start, end, nil
}
