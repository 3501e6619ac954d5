package models

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/driftsync/driftsync/pkg/vector"
)

// SyncStatus represents the synchronization state of a file.
type SyncStatus string

const (
	// SyncPending means the file has metadata but its bytes are in flight.
	SyncPending SyncStatus = "PENDING"
	// SyncSynced means the current version is fully persisted.
	SyncSynced SyncStatus = "SYNCED"
	// SyncDeleted is a tombstone; the path was deleted and must not be
	// re-downloaded until a new file appears at it.
	SyncDeleted SyncStatus = "DELETED"
	// SyncError marks a file whose last sync transaction failed.
	SyncError SyncStatus = "ERROR"
)

// IsValid checks if the status is a valid SyncStatus.
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncPending, SyncSynced, SyncDeleted, SyncError:
		return true
	}
	return false
}

// ConflictStatus represents whether a file has an unresolved conflict.
type ConflictStatus string

const (
	// ConflictNone means the file has no outstanding conflict.
	ConflictNone ConflictStatus = "NONE"
	// ConflictDetected means concurrent edits were merged server-side and a
	// conflict version awaits client resolution.
	ConflictDetected ConflictStatus = "CONFLICT"
)

// IsValid checks if the status is a valid ConflictStatus.
func (s ConflictStatus) IsValid() bool {
	return s == ConflictNone || s == ConflictDetected
}

// File is the per-path sync record for one user. The version vector column
// stores the JSON wire form of the file's current causal clock.
//
// Uniqueness: one row per (user, path). Deletion tombstones the row rather
// than removing it, so peers can distinguish "deleted" from "never existed".
type File struct {
	ID             string     `gorm:"primaryKey;size:36" json:"file_id"`
	UserID         string     `gorm:"not null;size:36;uniqueIndex:idx_files_user_path" json:"user_id"`
	FilePath       string     `gorm:"not null;size:1024;uniqueIndex:idx_files_user_path" json:"file_path"`
	FileName       string     `gorm:"not null;size:255" json:"file_name"`
	FileSize       int64      `gorm:"not null;default:0" json:"file_size"`
	Checksum       string     `gorm:"size:64" json:"checksum"`
	VersionVector  string     `gorm:"type:text" json:"-"`
	SyncStatus     string     `gorm:"not null;default:PENDING;size:20" json:"sync_status"`
	ConflictStatus string     `gorm:"not null;default:NONE;size:20" json:"conflict_status"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	ModifiedAt     time.Time  `gorm:"autoUpdateTime" json:"modified_at"`

	// Parsed vector, populated on demand (not stored).
	parsedVector *vector.Vector `gorm:"-" json:"-"`
}

// TableName returns the table name for File.
func (File) TableName() string {
	return "files"
}

// CurrentVector parses the stored version vector. An empty column reads as
// the zero vector.
func (f *File) CurrentVector() (vector.Vector, error) {
	if f.parsedVector != nil {
		return *f.parsedVector, nil
	}
	v, err := vector.Parse([]byte(f.VersionVector))
	if err != nil {
		return vector.Vector{}, fmt.Errorf("file %s: parse version vector: %w", f.ID, err)
	}
	f.parsedVector = &v
	return v, nil
}

// SetVector stores v as the file's current version vector.
func (f *File) SetVector(v vector.Vector) {
	f.VersionVector = v.String()
	f.parsedVector = &v
}

// IsTombstoned reports whether the file is a deletion tombstone.
func (f *File) IsTombstoned() bool {
	return SyncStatus(f.SyncStatus) == SyncDeleted
}

// HasConflict reports whether the file carries an unresolved conflict.
func (f *File) HasConflict() bool {
	return ConflictStatus(f.ConflictStatus) == ConflictDetected
}

// NormalizePath rewrites a client-supplied path to the canonical wire form:
// forward slashes, no leading slash, cleaned of "." and ".." elements.
func NormalizePath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "/")
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == "" {
		return "", fmt.Errorf("empty file path")
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("file path escapes sync root: %s", p)
	}
	return cleaned, nil
}

// Validate checks if the file has valid configuration.
func (f *File) Validate() error {
	if f.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if f.FilePath == "" {
		return fmt.Errorf("file path is required")
	}
	if f.FileSize < 0 {
		return fmt.Errorf("file size must be non-negative")
	}
	if f.SyncStatus != "" && !SyncStatus(f.SyncStatus).IsValid() {
		return fmt.Errorf("invalid sync status: %s", f.SyncStatus)
	}
	if f.ConflictStatus != "" && !ConflictStatus(f.ConflictStatus).IsValid() {
		return fmt.Errorf("invalid conflict status: %s", f.ConflictStatus)
	}
	return nil
}
