package models

import "errors"

// Common errors for sync domain operations.
var (
	// User errors
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateUser      = errors.New("user already exists")
	ErrUserDisabled       = errors.New("user account is disabled")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrQuotaExceeded      = errors.New("storage quota exceeded")

	// File errors
	ErrFileNotFound    = errors.New("file not found")
	ErrVersionNotFound = errors.New("file version not found")
	ErrEventNotFound   = errors.New("sync event not found")

	// Upload session errors
	ErrSessionNotFound  = errors.New("upload session not found")
	ErrSessionNotActive = errors.New("upload session is not in progress")
	ErrSessionExpired   = errors.New("upload session has expired")
	ErrTooManySessions  = errors.New("too many active upload sessions")

	// Sync errors
	ErrFileBusy = errors.New("file is busy")
)
