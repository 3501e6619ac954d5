package models

import (
	"fmt"
	"time"

	"github.com/driftsync/driftsync/pkg/vector"
)

// FileVersion is one append-only entry in a file's version history.
//
// Exactly one version per file has IsCurrentVersion set. Conflict versions
// are written with IsCurrentVersion=false and remain addressable by id for
// later resolution.
type FileVersion struct {
	ID              string    `gorm:"primaryKey;size:36" json:"version_id"`
	FileID          string    `gorm:"not null;size:36;index:idx_versions_file" json:"file_id"`
	VersionNumber   int       `gorm:"not null" json:"version_number"`
	Checksum        string    `gorm:"size:64" json:"checksum"`
	StoragePath     string    `gorm:"not null;size:1024" json:"-"`
	FileSize        int64     `gorm:"not null;default:0" json:"file_size"`
	VersionVector   string    `gorm:"type:text" json:"-"`
	CreatedByClient string    `gorm:"size:64" json:"client_id"`
	IsCurrentVersion bool     `gorm:"not null;default:false;index:idx_versions_file" json:"is_current_version"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for FileVersion.
func (FileVersion) TableName() string {
	return "file_versions"
}

// Vector parses the version's stored vector.
func (v *FileVersion) Vector() (vector.Vector, error) {
	vec, err := vector.Parse([]byte(v.VersionVector))
	if err != nil {
		return vector.Vector{}, fmt.Errorf("version %s: parse version vector: %w", v.ID, err)
	}
	return vec, nil
}

// SetVector stores vec as the version's vector.
func (v *FileVersion) SetVector(vec vector.Vector) {
	v.VersionVector = vec.String()
}

// Validate checks if the version has valid configuration.
func (v *FileVersion) Validate() error {
	if v.FileID == "" {
		return fmt.Errorf("file id is required")
	}
	if v.VersionNumber < 1 {
		return fmt.Errorf("version number must be positive")
	}
	if v.StoragePath == "" {
		return fmt.Errorf("storage path is required")
	}
	return nil
}
