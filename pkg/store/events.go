package store

import (
	"context"
	"fmt"
	"time"

	"github.com/driftsync/driftsync/pkg/models"
)

// AppendSyncEvent appends an event-log row, stamping the timestamp if unset.
func (s *GORMStore) AppendSyncEvent(ctx context.Context, event *models.SyncEvent) (string, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SyncStatus == "" {
		event.SyncStatus = string(models.EventPending)
	}
	if err := event.Validate(); err != nil {
		return "", fmt.Errorf("invalid sync event: %w", err)
	}
	return createWithID(s.db, ctx, event,
		func(e *models.SyncEvent, id string) { e.ID = id },
		event.ID, models.ErrEventNotFound)
}

// SyncEventsSince returns a user's events after the given instant, ascending
// by timestamp. Liveness events are excluded.
func (s *GORMStore) SyncEventsSince(ctx context.Context, userID string, since time.Time) ([]*models.SyncEvent, error) {
	var events []*models.SyncEvent
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND timestamp > ? AND event_type NOT IN ?",
			userID, since, []string{string(models.EventHeartbeat), string(models.EventHeartbeatAck)}).
		Order("timestamp ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// UpdateEventStatus transitions an event's processing state.
func (s *GORMStore) UpdateEventStatus(ctx context.Context, eventID string, status models.EventStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid event status: %s", status)
	}
	result := s.db.WithContext(ctx).Model(&models.SyncEvent{}).
		Where("id = ?", eventID).
		Update("sync_status", string(status))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrEventNotFound
	}
	return nil
}
