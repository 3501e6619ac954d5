package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/driftsync/driftsync/pkg/models"
)

// GetFileByID retrieves a file by id.
func (s *GORMStore) GetFileByID(ctx context.Context, id string) (*models.File, error) {
	return getByField[models.File](s.db, ctx, "id", id, models.ErrFileNotFound)
}

// GetFileByPath retrieves a file by its (user, path) key. Tombstoned files
// are returned too; callers inspect SyncStatus.
func (s *GORMStore) GetFileByPath(ctx context.Context, userID, path string) (*models.File, error) {
	var file models.File
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND file_path = ?", userID, path).
		First(&file).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrFileNotFound)
	}
	return &file, nil
}

// ListFiles returns all non-tombstoned files of a user, ordered by path.
func (s *GORMStore) ListFiles(ctx context.Context, userID string) ([]*models.File, error) {
	var files []*models.File
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND sync_status <> ?", userID, string(models.SyncDeleted)).
		Order("file_path").
		Find(&files).Error
	if err != nil {
		return nil, err
	}
	return files, nil
}

// SaveFile creates or updates a file record, generating an id on first save.
func (s *GORMStore) SaveFile(ctx context.Context, file *models.File) error {
	if err := file.Validate(); err != nil {
		return fmt.Errorf("invalid file: %w", err)
	}

	if file.ID == "" {
		file.ID = uuid.New().String()
		if file.SyncStatus == "" {
			file.SyncStatus = string(models.SyncPending)
		}
		if file.ConflictStatus == "" {
			file.ConflictStatus = string(models.ConflictNone)
		}
		if err := s.db.WithContext(ctx).Create(file).Error; err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("file exists at %s: %w", file.FilePath, err)
			}
			return err
		}
		return nil
	}

	result := s.db.WithContext(ctx).Model(&models.File{}).
		Where("id = ?", file.ID).
		Select("*").Omit("id", "created_at").
		Updates(file)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrFileNotFound
	}
	return nil
}
