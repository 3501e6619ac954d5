package models

import (
	"fmt"
	"time"
)

// EventType classifies a sync event on the wire and in the event log.
type EventType string

const (
	// EventCreate announces a file created by a peer client.
	EventCreate EventType = "CREATE"
	// EventModify announces a new current version of an existing file.
	EventModify EventType = "MODIFY"
	// EventDelete announces a tombstoned file.
	EventDelete EventType = "DELETE"
	// EventConflict announces a server-detected concurrent edit.
	EventConflict EventType = "CONFLICT"
	// EventHeartbeat is a client liveness probe.
	EventHeartbeat EventType = "HEARTBEAT"
	// EventHeartbeatAck is the server's reply to a heartbeat.
	EventHeartbeatAck EventType = "HEARTBEAT_ACK"
)

// IsValid checks if the type is a valid EventType.
func (t EventType) IsValid() bool {
	switch t {
	case EventCreate, EventModify, EventDelete, EventConflict, EventHeartbeat, EventHeartbeatAck:
		return true
	}
	return false
}

// IsFileChange reports whether the event describes a file mutation, as
// opposed to liveness traffic.
func (t EventType) IsFileChange() bool {
	switch t {
	case EventCreate, EventModify, EventDelete, EventConflict:
		return true
	}
	return false
}

// EventStatus is the processing state of a persisted sync event.
type EventStatus string

const (
	// EventPending is recorded but not yet fanned out.
	EventPending EventStatus = "PENDING"
	// EventCompleted was delivered to the event bus.
	EventCompleted EventStatus = "COMPLETED"
	// EventFailed could not be delivered.
	EventFailed EventStatus = "FAILED"
)

// IsValid checks if the status is a valid EventStatus.
func (s EventStatus) IsValid() bool {
	return s == EventPending || s == EventCompleted || s == EventFailed
}

// SyncEvent is both the persisted event-log row and the JSON payload
// delivered over the realtime transport. FileID is empty for liveness
// events.
type SyncEvent struct {
	ID         string    `gorm:"primaryKey;size:36" json:"event_id"`
	UserID     string    `gorm:"not null;size:36;index:idx_events_user_time" json:"user_id"`
	FileID     string    `gorm:"size:36" json:"file_id,omitempty"`
	EventType  string    `gorm:"not null;size:20" json:"event_type"`
	Timestamp  time.Time `gorm:"not null;index:idx_events_user_time" json:"timestamp"`
	ClientID   string    `gorm:"size:64" json:"client_id"`
	SyncStatus string    `gorm:"not null;default:PENDING;size:20" json:"sync_status"`
	FilePath   string    `gorm:"size:1024" json:"file_path,omitempty"`
	Checksum   string    `gorm:"size:64" json:"checksum,omitempty"`
	FileSize   int64     `gorm:"default:0" json:"file_size,omitempty"`
}

// TableName returns the table name for SyncEvent.
func (SyncEvent) TableName() string {
	return "sync_events"
}

// Type returns the event type as an EventType.
func (e *SyncEvent) Type() EventType {
	return EventType(e.EventType)
}

// Validate checks if the event has valid configuration.
func (e *SyncEvent) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if !EventType(e.EventType).IsValid() {
		return fmt.Errorf("invalid event type: %s", e.EventType)
	}
	if e.Type().IsFileChange() && e.FilePath == "" {
		return fmt.Errorf("file path is required for %s events", e.EventType)
	}
	return nil
}
