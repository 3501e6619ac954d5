// Package engine implements the sync decision engine: given a client's
// version vector for a path, it classifies the submission as a new file, an
// accepted update, a conflict, or a no-op, and applies the corresponding
// metadata and payload writes atomically.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/internal/telemetry"
	"github.com/driftsync/driftsync/pkg/blob"
	"github.com/driftsync/driftsync/pkg/metrics"
	"github.com/driftsync/driftsync/pkg/models"
	"github.com/driftsync/driftsync/pkg/store"
	"github.com/driftsync/driftsync/pkg/vector"
)

// Outcome classifies the result of a sync submission.
type Outcome string

const (
	// OutcomeSuccess means the submission was applied (or was a no-op).
	OutcomeSuccess Outcome = "SUCCESS"
	// OutcomeConflict means concurrent edits were detected; the submitted
	// bytes were stored as a conflict version.
	OutcomeConflict Outcome = "CONFLICT"
	// OutcomeClientShouldUpdate means the server already holds a strictly
	// newer version; the client must download before resubmitting.
	OutcomeClientShouldUpdate Outcome = "CLIENT_SHOULD_UPDATE"
	// OutcomeError means the submission failed.
	OutcomeError Outcome = "ERROR"
)

// Request carries one client submission for a path.
type Request struct {
	Username     string
	FilePath     string
	ClientID     string
	ClientVector vector.Vector
	Checksum     string
	FileSize     int64
	Data         []byte
}

// Result is the engine's decision plus the identifiers a client needs to
// follow up (download the current version, resolve a conflict).
type Result struct {
	Outcome           Outcome       `json:"outcome"`
	FileID            string        `json:"file_id,omitempty"`
	VersionID         string        `json:"version_id,omitempty"`
	ConflictVersionID string        `json:"conflict_version_id,omitempty"`
	Vector            vector.Vector `json:"version_vector"`
	Message           string        `json:"message,omitempty"`
}

// Publisher receives events for fan-out after a sync transaction commits.
type Publisher interface {
	PublishFileChange(username string, event *models.SyncEvent)
	PublishConflict(username string, event *models.SyncEvent)
}

// nopPublisher drops events; used when no bus is wired (tests, tooling).
type nopPublisher struct{}

func (nopPublisher) PublishFileChange(string, *models.SyncEvent) {}
func (nopPublisher) PublishConflict(string, *models.SyncEvent)  {}

// Option configures an Engine.
type Option func(*Engine)

// WithLockWait bounds how long a submission waits for the per-file lock.
func WithLockWait(d time.Duration) Option {
	return func(e *Engine) { e.lockWait = d }
}

// WithClock overrides the engine's clock (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics attaches sync metrics collection. m may be nil.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// DefaultLockWait is the bounded wait for the per-file lock.
const DefaultLockWait = 10 * time.Second

// Engine serializes sync submissions per (user, path) and applies the
// version-vector decision tree.
type Engine struct {
	store    store.Store
	blobs    blob.Store
	alloc    blob.Allocator
	pub      Publisher
	locks    *pathLocks
	lockWait time.Duration
	now      func() time.Time
	metrics  *metrics.SyncMetrics
}

// New creates a sync engine. pub may be nil.
func New(st store.Store, blobs blob.Store, pub Publisher, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		blobs:    blobs,
		pub:      pub,
		lockWait: DefaultLockWait,
		now:      time.Now,
	}
	if e.pub == nil {
		e.pub = nopPublisher{}
	}
	for _, opt := range opts {
		opt(e)
	}
	e.locks = newPathLocks(defaultLockStripes, e.lockWait)
	return e
}

// SyncFile runs the decision tree for an upload (create or update).
func (e *Engine) SyncFile(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	path, err := models.NormalizePath(req.FilePath)
	if err != nil {
		return nil, err
	}
	req.FilePath = path

	ctx, span := telemetry.StartSyncSpan(ctx, telemetry.SpanSyncUpload, "", req.ClientID,
		telemetry.Path(path), telemetry.Size(req.FileSize))
	defer span.End()

	user, err := e.store.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}

	release, ok := e.locks.acquire(ctx, user.ID, path)
	if !ok {
		return nil, models.ErrFileBusy
	}
	defer release()

	file, err := e.store.GetFileByPath(ctx, user.ID, path)

	var res *Result
	switch {
	case err == nil && !file.IsTombstoned():
		res, err = e.syncExisting(ctx, user, file, req)
	case err == nil:
		// Tombstoned: a new file at the path clears the tombstone.
		res, err = e.syncCreate(ctx, user, file, req)
	case errors.Is(err, models.ErrFileNotFound):
		res, err = e.syncCreate(ctx, user, nil, req)
	default:
		return nil, err
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	span.SetAttributes(telemetry.FileID(res.FileID), telemetry.Outcome(string(res.Outcome)))
	e.metrics.RecordSync("upload", string(res.Outcome), time.Since(start), req.FileSize)
	return res, nil
}

// syncCreate handles path A: no live file at the path.
func (e *Engine) syncCreate(ctx context.Context, user *models.User, tombstone *models.File, req Request) (*Result, error) {
	if req.FileSize > user.QuotaRemaining() {
		return nil, models.ErrQuotaExceeded
	}

	vec := req.ClientVector
	if vec.Len() == 0 {
		vec = vector.New().Increment(req.ClientID)
	}

	now := e.now().UTC()
	file := tombstone
	if file == nil {
		file = &models.File{
			ID:     uuid.New().String(),
			UserID: user.ID,
		}
	}
	file.FilePath = req.FilePath
	file.FileName = baseName(req.FilePath)
	file.FileSize = req.FileSize
	file.Checksum = req.Checksum
	file.SyncStatus = string(models.SyncSynced)
	file.ConflictStatus = string(models.ConflictNone)
	file.SetVector(vec)

	key := e.alloc.StoragePath(user.ID, file.ID, now)
	if err := e.blobs.WriteBlob(ctx, key, req.Data); err != nil {
		return nil, err
	}

	var event *models.SyncEvent
	var versionID string
	err := e.store.Transaction(ctx, func(tx store.Store) error {
		isNew := tombstone == nil
		if !isNew {
			if err := tx.MarkAllVersionsNonCurrent(ctx, file.ID); err != nil {
				return err
			}
		}
		if err := tx.SaveFile(ctx, file); err != nil {
			return err
		}

		maxVer, err := tx.MaxVersionNumber(ctx, file.ID)
		if err != nil {
			return err
		}
		version := &models.FileVersion{
			FileID:           file.ID,
			VersionNumber:    maxVer + 1,
			Checksum:         req.Checksum,
			StoragePath:      key,
			FileSize:         req.FileSize,
			CreatedByClient:  req.ClientID,
			IsCurrentVersion: true,
		}
		version.SetVector(vec)
		if versionID, err = tx.CreateVersion(ctx, version); err != nil {
			return err
		}

		if err := tx.AddUsedStorage(ctx, user.ID, req.FileSize); err != nil {
			return err
		}

		event = e.newEvent(user.ID, file, models.EventCreate, req)
		_, err = tx.AppendSyncEvent(ctx, event)
		return err
	})
	if err != nil {
		e.discardBlob(key)
		return nil, err
	}

	logger.Info("file created",
		"user", user.Username, "path", file.FilePath, "file_id", file.ID, "client", req.ClientID)
	e.publish(user.Username, event, false)

	return &Result{Outcome: OutcomeSuccess, FileID: file.ID, VersionID: versionID, Vector: vec}, nil
}

// syncExisting handles path B: a live file exists at the path.
func (e *Engine) syncExisting(ctx context.Context, user *models.User, file *models.File, req Request) (*Result, error) {
	sv, err := file.CurrentVector()
	if err != nil {
		return nil, err
	}
	cv := req.ClientVector

	switch {
	case cv.Concurrent(sv):
		return e.applyConflict(ctx, user, file, sv, req)
	case cv.Equal(sv):
		// Client re-submitted the version the server already holds.
		return &Result{Outcome: OutcomeSuccess, FileID: file.ID, Vector: sv}, nil
	case cv.Dominates(sv):
		return e.applyUpdate(ctx, user, file, req)
	default:
		return &Result{Outcome: OutcomeClientShouldUpdate, FileID: file.ID, Vector: sv}, nil
	}
}

// applyUpdate accepts a strictly newer client version as the new current.
func (e *Engine) applyUpdate(ctx context.Context, user *models.User, file *models.File, req Request) (*Result, error) {
	delta := req.FileSize - file.FileSize
	if delta > user.QuotaRemaining() {
		return nil, models.ErrQuotaExceeded
	}

	now := e.now().UTC()
	key := e.alloc.StoragePath(user.ID, file.ID, now)
	if err := e.blobs.WriteBlob(ctx, key, req.Data); err != nil {
		return nil, err
	}

	file.FileSize = req.FileSize
	file.Checksum = req.Checksum
	file.FileName = baseName(req.FilePath)
	file.SyncStatus = string(models.SyncSynced)
	file.ConflictStatus = string(models.ConflictNone)
	file.SetVector(req.ClientVector)

	var event *models.SyncEvent
	var versionID string
	err := e.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.MarkAllVersionsNonCurrent(ctx, file.ID); err != nil {
			return err
		}

		maxVer, err := tx.MaxVersionNumber(ctx, file.ID)
		if err != nil {
			return err
		}
		version := &models.FileVersion{
			FileID:           file.ID,
			VersionNumber:    maxVer + 1,
			Checksum:         req.Checksum,
			StoragePath:      key,
			FileSize:         req.FileSize,
			CreatedByClient:  req.ClientID,
			IsCurrentVersion: true,
		}
		version.SetVector(req.ClientVector)
		if versionID, err = tx.CreateVersion(ctx, version); err != nil {
			return err
		}

		if err := tx.SaveFile(ctx, file); err != nil {
			return err
		}
		if err := tx.AddUsedStorage(ctx, user.ID, delta); err != nil {
			return err
		}

		event = e.newEvent(user.ID, file, models.EventModify, req)
		_, err = tx.AppendSyncEvent(ctx, event)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info("file updated",
		"user", user.Username, "path", file.FilePath, "file_id", file.ID, "client", req.ClientID)
	e.publish(user.Username, event, false)

	return &Result{Outcome: OutcomeSuccess, FileID: file.ID, VersionID: versionID, Vector: req.ClientVector}, nil
}

// applyConflict stores the submission as a non-current conflict version and
// advances the file's vector past both sides.
//
// Quota tracks the live file's bytes only: version history, including
// this parked conflict blob, is exempt, the same as the superseded
// version blobs applyUpdate leaves behind. DeleteFile therefore credits
// only file.FileSize back.
func (e *Engine) applyConflict(ctx context.Context, user *models.User, file *models.File, sv vector.Vector, req Request) (*Result, error) {
	now := e.now().UTC()
	key := e.alloc.ConflictPath(user.ID, file.ID, req.ClientID, now)
	if len(req.Data) > 0 {
		if err := e.blobs.WriteBlob(ctx, key, req.Data); err != nil {
			return nil, err
		}
	}

	// Incrementing the reserved server id makes the merged vector a strict
	// successor of both inputs.
	merged := sv.Merge(req.ClientVector).Increment(vector.ServerClientID)
	file.ConflictStatus = string(models.ConflictDetected)
	file.SetVector(merged)

	var modifyEvent, conflictEvent *models.SyncEvent
	var conflictVersionID string
	err := e.store.Transaction(ctx, func(tx store.Store) error {
		maxVer, err := tx.MaxVersionNumber(ctx, file.ID)
		if err != nil {
			return err
		}
		version := &models.FileVersion{
			FileID:           file.ID,
			VersionNumber:    maxVer + 1,
			Checksum:         req.Checksum,
			StoragePath:      key,
			FileSize:         req.FileSize,
			CreatedByClient:  req.ClientID,
			IsCurrentVersion: false,
		}
		version.SetVector(req.ClientVector)
		if conflictVersionID, err = tx.CreateVersion(ctx, version); err != nil {
			return err
		}

		if err := tx.SaveFile(ctx, file); err != nil {
			return err
		}

		modifyEvent = e.newEvent(user.ID, file, models.EventModify, req)
		if _, err := tx.AppendSyncEvent(ctx, modifyEvent); err != nil {
			return err
		}
		conflictEvent = e.newEvent(user.ID, file, models.EventConflict, req)
		_, err = tx.AppendSyncEvent(ctx, conflictEvent)
		return err
	})
	if err != nil {
		e.discardBlob(key)
		return nil, err
	}

	logger.Warn("sync conflict detected",
		"user", user.Username, "path", file.FilePath, "file_id", file.ID,
		"client", req.ClientID, "conflict_version", conflictVersionID)
	e.publish(user.Username, modifyEvent, false)
	e.publish(user.Username, conflictEvent, true)

	return &Result{
		Outcome:           OutcomeConflict,
		FileID:            file.ID,
		ConflictVersionID: conflictVersionID,
		Vector:            merged,
	}, nil
}

// DeleteFile runs the decision tree for a deletion. On accept the file is
// tombstoned; its current version remains recorded.
func (e *Engine) DeleteFile(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	ctx, span := telemetry.StartSyncSpan(ctx, telemetry.SpanSyncDelete, "", req.ClientID,
		telemetry.Path(req.FilePath))
	defer span.End()

	res, err := e.deleteFile(ctx, req)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	span.SetAttributes(telemetry.FileID(res.FileID), telemetry.Outcome(string(res.Outcome)))
	e.metrics.RecordSync("delete", string(res.Outcome), time.Since(start), 0)
	return res, nil
}

func (e *Engine) deleteFile(ctx context.Context, req Request) (*Result, error) {
	path, err := models.NormalizePath(req.FilePath)
	if err != nil {
		return nil, err
	}
	req.FilePath = path

	user, err := e.store.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}

	release, ok := e.locks.acquire(ctx, user.ID, path)
	if !ok {
		return nil, models.ErrFileBusy
	}
	defer release()

	file, err := e.store.GetFileByPath(ctx, user.ID, path)
	if err != nil {
		return nil, err
	}
	if file.IsTombstoned() {
		sv, _ := file.CurrentVector()
		return &Result{Outcome: OutcomeSuccess, FileID: file.ID, Vector: sv}, nil
	}

	sv, err := file.CurrentVector()
	if err != nil {
		return nil, err
	}
	cv := req.ClientVector

	switch {
	case cv.Concurrent(sv):
		// A concurrent edit exists somewhere; surface it instead of
		// silently dropping bytes.
		merged := sv.Merge(cv).Increment(vector.ServerClientID)
		file.ConflictStatus = string(models.ConflictDetected)
		file.SetVector(merged)

		var conflictEvent *models.SyncEvent
		err := e.store.Transaction(ctx, func(tx store.Store) error {
			if err := tx.SaveFile(ctx, file); err != nil {
				return err
			}
			conflictEvent = e.newEvent(user.ID, file, models.EventConflict, req)
			_, err := tx.AppendSyncEvent(ctx, conflictEvent)
			return err
		})
		if err != nil {
			return nil, err
		}
		e.publish(user.Username, conflictEvent, true)
		return &Result{Outcome: OutcomeConflict, FileID: file.ID, Vector: merged}, nil

	case cv.Equal(sv):
		return &Result{Outcome: OutcomeSuccess, FileID: file.ID, Vector: sv}, nil

	case cv.Dominates(sv):
		freed := file.FileSize
		file.SyncStatus = string(models.SyncDeleted)
		file.ConflictStatus = string(models.ConflictNone)
		file.SetVector(cv)

		var event *models.SyncEvent
		err := e.store.Transaction(ctx, func(tx store.Store) error {
			if err := tx.SaveFile(ctx, file); err != nil {
				return err
			}
			if err := tx.AddUsedStorage(ctx, user.ID, -freed); err != nil {
				return err
			}
			event = e.newEvent(user.ID, file, models.EventDelete, req)
			_, err := tx.AppendSyncEvent(ctx, event)
			return err
		})
		if err != nil {
			return nil, err
		}

		logger.Info("file deleted",
			"user", user.Username, "path", file.FilePath, "file_id", file.ID, "client", req.ClientID)
		e.publish(user.Username, event, false)
		return &Result{Outcome: OutcomeSuccess, FileID: file.ID, Vector: cv}, nil

	default:
		return &Result{Outcome: OutcomeClientShouldUpdate, FileID: file.ID, Vector: sv}, nil
	}
}

func (e *Engine) newEvent(userID string, file *models.File, typ models.EventType, req Request) *models.SyncEvent {
	return &models.SyncEvent{
		UserID:     userID,
		FileID:     file.ID,
		EventType:  string(typ),
		Timestamp:  e.now().UTC(),
		ClientID:   req.ClientID,
		SyncStatus: string(models.EventPending),
		FilePath:   file.FilePath,
		Checksum:   req.Checksum,
		FileSize:   req.FileSize,
	}
}

// publish fans the event out and records the delivery attempt.
func (e *Engine) publish(username string, event *models.SyncEvent, conflict bool) {
	if event == nil {
		return
	}
	if conflict {
		e.pub.PublishConflict(username, event)
	} else {
		e.pub.PublishFileChange(username, event)
	}
	if err := e.store.UpdateEventStatus(context.Background(), event.ID, models.EventCompleted); err != nil {
		logger.Warn("failed to mark event completed", "event_id", event.ID, "error", err)
	}
}

// discardBlob removes a payload written ahead of a transaction that failed.
func (e *Engine) discardBlob(key string) {
	if err := e.blobs.DeleteBlob(context.Background(), key); err != nil {
		logger.Warn("failed to discard orphaned blob", "key", key, "error", err)
	}
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

// Fetch helpers used by the download handlers.

// FileForDownload resolves a user's live file by id, rejecting tombstones.
func (e *Engine) FileForDownload(ctx context.Context, username, fileID string) (*models.File, *models.FileVersion, error) {
	user, err := e.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	file, err := e.store.GetFileByID(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	if file.UserID != user.ID || file.IsTombstoned() {
		return nil, nil, models.ErrFileNotFound
	}
	version, err := e.store.CurrentVersion(ctx, file.ID)
	if err != nil {
		return nil, nil, err
	}
	return file, version, nil
}
