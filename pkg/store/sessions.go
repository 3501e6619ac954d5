package store

import (
	"context"
	"fmt"
	"time"

	"github.com/driftsync/driftsync/pkg/models"
)

// CreateSession persists a new upload session, generating its id if absent.
func (s *GORMStore) CreateSession(ctx context.Context, session *models.ChunkUploadSession) (string, error) {
	if session.Status == "" {
		session.Status = string(models.SessionInProgress)
	}
	if err := session.Validate(); err != nil {
		return "", fmt.Errorf("invalid session: %w", err)
	}
	return createWithID(s.db, ctx, session,
		func(cs *models.ChunkUploadSession, id string) { cs.ID = id },
		session.ID, models.ErrSessionNotFound)
}

// GetSession retrieves a session by id.
func (s *GORMStore) GetSession(ctx context.Context, id string) (*models.ChunkUploadSession, error) {
	return getByField[models.ChunkUploadSession](s.db, ctx, "id", id, models.ErrSessionNotFound)
}

// UpdateSession saves the full session record.
func (s *GORMStore) UpdateSession(ctx context.Context, session *models.ChunkUploadSession) error {
	result := s.db.WithContext(ctx).Model(&models.ChunkUploadSession{}).
		Where("id = ?", session.ID).
		Select("*").Omit("id", "created_at").
		Updates(session)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// ListActiveSessions returns a user's IN_PROGRESS sessions, oldest first.
func (s *GORMStore) ListActiveSessions(ctx context.Context, userID string) ([]*models.ChunkUploadSession, error) {
	var sessions []*models.ChunkUploadSession
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, string(models.SessionInProgress)).
		Order("created_at ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// CountActiveSessions counts a user's IN_PROGRESS sessions.
func (s *GORMStore) CountActiveSessions(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ChunkUploadSession{}).
		Where("user_id = ? AND status = ?", userID, string(models.SessionInProgress)).
		Count(&count).Error
	return count, err
}

// ActiveSessionForFile returns the IN_PROGRESS session for (user, file), or
// ErrSessionNotFound if none exists.
func (s *GORMStore) ActiveSessionForFile(ctx context.Context, userID, fileID string) (*models.ChunkUploadSession, error) {
	var session models.ChunkUploadSession
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND file_id = ? AND status = ?",
			userID, fileID, string(models.SessionInProgress)).
		First(&session).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrSessionNotFound)
	}
	return &session, nil
}

// ListExpiredSessions returns IN_PROGRESS sessions whose TTL has elapsed.
func (s *GORMStore) ListExpiredSessions(ctx context.Context, now time.Time) ([]*models.ChunkUploadSession, error) {
	var sessions []*models.ChunkUploadSession
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", string(models.SessionInProgress), now).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// DeleteSessionsCompletedBefore removes terminal sessions older than cutoff.
func (s *GORMStore) DeleteSessionsCompletedBefore(ctx context.Context, cutoff time.Time) error {
	return s.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?",
			[]string{string(models.SessionCompleted), string(models.SessionFailed), string(models.SessionExpired)},
			cutoff).
		Delete(&models.ChunkUploadSession{}).Error
}
