package store

import (
	"context"
	"fmt"

	"github.com/driftsync/driftsync/pkg/models"
)

// CreateVersion appends a version row, generating its id if absent.
func (s *GORMStore) CreateVersion(ctx context.Context, version *models.FileVersion) (string, error) {
	if err := version.Validate(); err != nil {
		return "", fmt.Errorf("invalid version: %w", err)
	}
	return createWithID(s.db, ctx, version,
		func(v *models.FileVersion, id string) { v.ID = id },
		version.ID, models.ErrVersionNotFound)
}

// GetVersionByID retrieves a version by id.
func (s *GORMStore) GetVersionByID(ctx context.Context, id string) (*models.FileVersion, error) {
	return getByField[models.FileVersion](s.db, ctx, "id", id, models.ErrVersionNotFound)
}

// ListVersions returns a file's history, newest first.
func (s *GORMStore) ListVersions(ctx context.Context, fileID string) ([]*models.FileVersion, error) {
	var versions []*models.FileVersion
	err := s.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("version_number DESC").
		Find(&versions).Error
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// CurrentVersion returns the single version flagged current for the file.
func (s *GORMStore) CurrentVersion(ctx context.Context, fileID string) (*models.FileVersion, error) {
	var version models.FileVersion
	err := s.db.WithContext(ctx).
		Where("file_id = ? AND is_current_version = ?", fileID, true).
		First(&version).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrVersionNotFound)
	}
	return &version, nil
}

// MarkAllVersionsNonCurrent clears the current flag on every version of the
// file, ahead of appending a new current version.
func (s *GORMStore) MarkAllVersionsNonCurrent(ctx context.Context, fileID string) error {
	return s.db.WithContext(ctx).Model(&models.FileVersion{}).
		Where("file_id = ?", fileID).
		Update("is_current_version", false).Error
}

// MaxVersionNumber returns the highest version number recorded for the file,
// or 0 when it has no versions.
func (s *GORMStore) MaxVersionNumber(ctx context.Context, fileID string) (int, error) {
	var max *int
	err := s.db.WithContext(ctx).Model(&models.FileVersion{}).
		Where("file_id = ?", fileID).
		Select("MAX(version_number)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}
