package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/driftsync/driftsync/pkg/models"
)

// CreateUser persists a new user, generating its id if absent.
func (s *GORMStore) CreateUser(ctx context.Context, user *models.User) (string, error) {
	if err := user.Validate(); err != nil {
		return "", fmt.Errorf("invalid user: %w", err)
	}
	if user.AccountStatus == "" {
		user.AccountStatus = string(models.AccountActive)
	}
	return createWithID(s.db, ctx, user,
		func(u *models.User, id string) { u.ID = id },
		user.ID, models.ErrDuplicateUser)
}

// GetUserByID retrieves a user by id.
func (s *GORMStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "id", id, models.ErrUserNotFound)
}

// GetUserByUsername retrieves a user by username.
func (s *GORMStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "username", username, models.ErrUserNotFound)
}

// UpdateUser saves the full user record.
func (s *GORMStore) UpdateUser(ctx context.Context, user *models.User) error {
	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Select("*").Omit("id", "created_at").
		Updates(user)
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return models.ErrDuplicateUser
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

// AddUsedStorage atomically adjusts a user's used storage by delta, which
// may be negative. The counter is floored at zero.
func (s *GORMStore) AddUsedStorage(ctx context.Context, userID string, delta int64) error {
	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("used_storage", gorm.Expr(
			"CASE WHEN used_storage + ? < 0 THEN 0 ELSE used_storage + ? END", delta, delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}
