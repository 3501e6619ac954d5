package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/driftsync/driftsync/pkg/chunk"
	"github.com/driftsync/driftsync/pkg/models"
	"github.com/driftsync/driftsync/pkg/upload"
)

// decodeJSONBody decodes the request body into v, writing a 400 on failure.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// writeSyncError translates domain errors into HTTP problem responses.
func writeSyncError(w http.ResponseWriter, err error) {
	var integrityErr *chunk.IntegrityError

	switch {
	case errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, models.ErrFileNotFound),
		errors.Is(err, models.ErrVersionNotFound),
		errors.Is(err, models.ErrSessionNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, models.ErrQuotaExceeded):
		Forbidden(w, err.Error())
	case errors.Is(err, upload.ErrNotSessionOwner):
		Forbidden(w, err.Error())
	case errors.Is(err, models.ErrSessionExpired):
		Gone(w, err.Error())
	case errors.Is(err, models.ErrSessionNotActive):
		Conflict(w, err.Error())
	case errors.Is(err, models.ErrTooManySessions):
		TooManyRequests(w, err.Error())
	case errors.Is(err, models.ErrFileBusy):
		ServiceUnavailable(w, err.Error())
	case errors.Is(err, upload.ErrInvalidChunkIndex):
		BadRequest(w, err.Error())
	case errors.As(err, &integrityErr):
		UnprocessableEntity(w, err.Error())
	default:
		InternalServerError(w, "Internal error")
	}
}
