// Package store provides the persistence layer for sync metadata: users,
// files, version history, the sync event log, and chunked upload sessions.
package store

import (
	"context"
	"time"

	"github.com/driftsync/driftsync/pkg/models"
)

// Store is the persistence contract the sync services operate against.
//
// Transaction runs fn against a store bound to a database transaction;
// every write inside one decision-engine call goes through it so a failed
// sync leaves no partial rows.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *models.User) (string, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	AddUsedStorage(ctx context.Context, userID string, delta int64) error

	// Files
	GetFileByID(ctx context.Context, id string) (*models.File, error)
	GetFileByPath(ctx context.Context, userID, path string) (*models.File, error)
	ListFiles(ctx context.Context, userID string) ([]*models.File, error)
	SaveFile(ctx context.Context, file *models.File) error

	// File versions
	CreateVersion(ctx context.Context, version *models.FileVersion) (string, error)
	GetVersionByID(ctx context.Context, id string) (*models.FileVersion, error)
	ListVersions(ctx context.Context, fileID string) ([]*models.FileVersion, error)
	CurrentVersion(ctx context.Context, fileID string) (*models.FileVersion, error)
	MarkAllVersionsNonCurrent(ctx context.Context, fileID string) error
	MaxVersionNumber(ctx context.Context, fileID string) (int, error)

	// Sync events
	AppendSyncEvent(ctx context.Context, event *models.SyncEvent) (string, error)
	SyncEventsSince(ctx context.Context, userID string, since time.Time) ([]*models.SyncEvent, error)
	UpdateEventStatus(ctx context.Context, eventID string, status models.EventStatus) error

	// Chunk upload sessions
	CreateSession(ctx context.Context, session *models.ChunkUploadSession) (string, error)
	GetSession(ctx context.Context, id string) (*models.ChunkUploadSession, error)
	UpdateSession(ctx context.Context, session *models.ChunkUploadSession) error
	ListActiveSessions(ctx context.Context, userID string) ([]*models.ChunkUploadSession, error)
	CountActiveSessions(ctx context.Context, userID string) (int64, error)
	ActiveSessionForFile(ctx context.Context, userID, fileID string) (*models.ChunkUploadSession, error)
	ListExpiredSessions(ctx context.Context, now time.Time) ([]*models.ChunkUploadSession, error)
	DeleteSessionsCompletedBefore(ctx context.Context, cutoff time.Time) error

	// Transaction runs fn atomically. Returning an error rolls back.
	Transaction(ctx context.Context, fn func(Store) error) error

	// HealthCheck pings the underlying database connection.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying database connection.
	Close() error
}
