// Package upload implements the chunked upload session machine: session
// lifecycle, idempotent chunk receipt into a staging area, integrity
// verification, assembly, and expiration sweeping.
package upload

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/blob"
	"github.com/driftsync/driftsync/pkg/chunk"
	"github.com/driftsync/driftsync/pkg/engine"
	"github.com/driftsync/driftsync/pkg/metrics"
	"github.com/driftsync/driftsync/pkg/models"
	"github.com/driftsync/driftsync/pkg/store"
	"github.com/driftsync/driftsync/pkg/vector"
)

// Validation errors surfaced to the API layer.
var (
	// ErrInvalidChunkIndex means the index is outside [0, totalChunks).
	ErrInvalidChunkIndex = errors.New("chunk index out of range")

	// ErrNotSessionOwner means the session belongs to another user.
	ErrNotSessionOwner = errors.New("session does not belong to caller")
)

// Config holds upload manager settings.
type Config struct {
	// TTL is how long an IN_PROGRESS session may live. Default 24h.
	TTL time.Duration

	// Retention is how long terminal sessions are kept before the sweeper
	// deletes them. Default 24h.
	Retention time.Duration

	// MaxSessionsPerUser caps concurrent IN_PROGRESS sessions. Default 10.
	MaxSessionsPerUser int

	// SweepInterval is how often the expiration sweeper runs. Default 60s.
	SweepInterval time.Duration
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.TTL == 0 {
		c.TTL = 24 * time.Hour
	}
	if c.Retention == 0 {
		c.Retention = 24 * time.Hour
	}
	if c.MaxSessionsPerUser == 0 {
		c.MaxSessionsPerUser = 10
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
}

// InitiateRequest carries the parameters of a new chunked upload.
type InitiateRequest struct {
	FileID        string        `json:"file_id,omitempty"`
	FilePath      string        `json:"file_path"`
	TotalChunks   int           `json:"total_chunks"`
	TotalFileSize int64         `json:"total_file_size"`
	Checksum      string        `json:"checksum,omitempty"`
	ClientID      string        `json:"client_id"`
	ClientVector  vector.Vector `json:"version_vector"`
}

// Snapshot is the externally visible view of a session.
type Snapshot struct {
	SessionID      string         `json:"session_id"`
	FileID         string         `json:"file_id"`
	FilePath       string         `json:"file_path"`
	TotalChunks    int            `json:"total_chunks"`
	ReceivedChunks int            `json:"received_chunks"`
	ChunkBits      []bool         `json:"chunk_bits"`
	TotalFileSize  int64          `json:"total_file_size"`
	ReceivedSize   int64          `json:"received_size"`
	Progress       float64        `json:"progress"`
	Status         string         `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	ExpiresAt      time.Time      `json:"expires_at"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	SyncResult     *engine.Result `json:"sync_result,omitempty"`
}

func snapshotOf(s *models.ChunkUploadSession) *Snapshot {
	return &Snapshot{
		SessionID:      s.ID,
		FileID:         s.FileID,
		FilePath:       s.FilePath,
		TotalChunks:    s.TotalChunks,
		ReceivedChunks: s.ReceivedChunks,
		ChunkBits:      s.ChunkBits(),
		TotalFileSize:  s.TotalFileSize,
		ReceivedSize:   s.ReceivedSize,
		Progress:       s.Progress(),
		Status:         s.Status,
		CreatedAt:      s.CreatedAt,
		CompletedAt:    s.CompletedAt,
		ExpiresAt:      s.ExpiresAt,
		ErrorMessage:   s.ErrorMessage,
	}
}

// Manager owns chunked upload sessions. Chunk payloads go to a session
// scoped staging area; on completion the assembled bytes are handed to the
// sync engine with the client's version vector from initiation.
type Manager struct {
	store   store.Store
	staging blob.Store
	engine  *engine.Engine
	config  Config
	now     func() time.Time
	metrics *metrics.SyncMetrics
	locks   sessionLocks
}

// sessionLocks is a striped mutex table keyed by session id. Session
// mutations are a load-through-update on a full row, so two concurrent
// chunk receipts for one session would otherwise lose the first
// writer's bitmap bit.
type sessionLocks struct {
	stripes [64]sync.Mutex
}

// lock acquires the stripe for sessionID and returns its release func.
func (l *sessionLocks) lock(sessionID string) func() {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	mu := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	mu.Lock()
	return mu.Unlock
}

// NewManager creates an upload manager. staging is typically a filesystem
// blob store rooted at a scratch directory.
func NewManager(st store.Store, staging blob.Store, eng *engine.Engine, config Config) *Manager {
	config.ApplyDefaults()
	return &Manager{
		store:   st,
		staging: staging,
		engine:  eng,
		config:  config,
		now:     time.Now,
	}
}

// SetMetrics attaches session metrics collection. m may be nil.
func (m *Manager) SetMetrics(sm *metrics.SyncMetrics) {
	m.metrics = sm
}

// stagingKey addresses one chunk in the staging store. Zero-padding keeps
// ListByPrefix order equal to chunk order.
func stagingKey(sessionID string, index int) string {
	return fmt.Sprintf("%s/%06d", sessionID, index)
}

func stagingPrefix(sessionID string) string {
	return sessionID + "/"
}

// Initiate opens a new upload session for the caller. An existing active
// session for the same file is superseded.
func (m *Manager) Initiate(ctx context.Context, username string, req InitiateRequest) (*Snapshot, error) {
	if req.TotalChunks < 1 {
		return nil, fmt.Errorf("total chunks must be at least 1")
	}
	if req.TotalFileSize <= 0 {
		return nil, fmt.Errorf("total file size must be positive")
	}
	path, err := models.NormalizePath(req.FilePath)
	if err != nil {
		return nil, err
	}

	user, err := m.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if req.TotalFileSize > user.QuotaRemaining() {
		return nil, models.ErrQuotaExceeded
	}

	// Supersede a previous attempt for the same file.
	if req.FileID != "" {
		if prev, err := m.store.ActiveSessionForFile(ctx, user.ID, req.FileID); err == nil {
			release := m.locks.lock(prev.ID)
			m.failSession(ctx, prev, "superseded by a new session")
			release()
		}
	}

	count, err := m.store.CountActiveSessions(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if count >= int64(m.config.MaxSessionsPerUser) {
		return nil, models.ErrTooManySessions
	}

	now := m.now().UTC()
	session := &models.ChunkUploadSession{
		UserID:        user.ID,
		FileID:        req.FileID,
		FilePath:      path,
		ClientID:      req.ClientID,
		TotalChunks:   req.TotalChunks,
		TotalFileSize: req.TotalFileSize,
		Checksum:      req.Checksum,
		VersionVector: req.ClientVector.String(),
		Status:        string(models.SessionInProgress),
		ExpiresAt:     now.Add(m.config.TTL),
	}
	if _, err := m.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	m.metrics.SessionStarted()
	logger.Info("upload session initiated",
		"session_id", session.ID, "user", username, "path", path,
		"chunks", req.TotalChunks, "size", req.TotalFileSize)
	return snapshotOf(session), nil
}

// ReceiveChunk stages one chunk. Receiving an already-staged index is a
// no-op success so clients can retry safely. When the last missing chunk
// arrives the session is assembled and handed to the sync engine.
// Receipts for one session are serialized; staging stays concurrent
// across sessions.
func (m *Manager) ReceiveChunk(ctx context.Context, username, sessionID string, c chunk.Chunk) (*Snapshot, error) {
	release := m.locks.lock(sessionID)
	defer release()

	session, err := m.loadOwned(ctx, username, sessionID)
	if err != nil {
		return nil, err
	}

	if session.IsExpired(m.now()) {
		m.expireSession(ctx, session)
		return nil, models.ErrSessionExpired
	}
	if session.SessionState().IsTerminal() {
		return nil, models.ErrSessionNotActive
	}
	if c.Index < 0 || c.Index >= session.TotalChunks {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidChunkIndex, c.Index, session.TotalChunks)
	}

	// Idempotent retry.
	if session.HasChunk(c.Index) {
		return snapshotOf(session), nil
	}

	if c.Checksum != "" && chunk.SumHex(c.Data) != c.Checksum {
		m.failSession(ctx, session, fmt.Sprintf("chunk %d checksum mismatch", c.Index))
		return nil, &chunk.IntegrityError{Reason: fmt.Sprintf("chunk %d checksum mismatch", c.Index)}
	}

	if err := m.staging.WriteBlob(ctx, stagingKey(session.ID, c.Index), c.Data); err != nil {
		return nil, err
	}

	session.MarkChunk(c.Index)
	session.ReceivedSize += int64(len(c.Data))
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}
	m.metrics.ChunkReceived()

	if !session.AllChunksReceived() {
		return snapshotOf(session), nil
	}
	return m.complete(ctx, username, session)
}

// complete assembles the staged chunks, verifies integrity, promotes the
// session and submits the bytes to the sync engine.
func (m *Manager) complete(ctx context.Context, username string, session *models.ChunkUploadSession) (*Snapshot, error) {
	assembled := make([]byte, 0, session.TotalFileSize)
	for i := 0; i < session.TotalChunks; i++ {
		data, err := m.staging.ReadBlob(ctx, stagingKey(session.ID, i))
		if err != nil {
			m.failSession(ctx, session, fmt.Sprintf("staged chunk %d missing: %v", i, err))
			return nil, &chunk.IntegrityError{Reason: fmt.Sprintf("staged chunk %d missing", i)}
		}
		assembled = append(assembled, data...)
	}

	if int64(len(assembled)) != session.TotalFileSize {
		m.failSession(ctx, session, fmt.Sprintf("assembled %d bytes, expected %d", len(assembled), session.TotalFileSize))
		return nil, &chunk.IntegrityError{
			Reason: fmt.Sprintf("assembled size %d, want %d", len(assembled), session.TotalFileSize),
		}
	}
	sum := chunk.SumHex(assembled)
	if session.Checksum != "" && sum != session.Checksum {
		m.failSession(ctx, session, "assembled checksum mismatch")
		return nil, &chunk.IntegrityError{Reason: "assembled checksum mismatch"}
	}

	clientVec, err := session.ClientVector()
	if err != nil {
		return nil, err
	}
	result, err := m.engine.SyncFile(ctx, engine.Request{
		Username:     username,
		FilePath:     session.FilePath,
		ClientID:     session.ClientID,
		ClientVector: clientVec,
		Checksum:     sum,
		FileSize:     int64(len(assembled)),
		Data:         assembled,
	})
	if err != nil {
		m.failSession(ctx, session, fmt.Sprintf("sync failed: %v", err))
		return nil, err
	}

	now := m.now().UTC()
	session.Status = string(models.SessionCompleted)
	session.CompletedAt = &now
	if session.FileID == "" {
		session.FileID = result.FileID
	}
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}
	m.dropStaging(session.ID)
	m.metrics.SessionEnded(session.Status)

	logger.Info("upload session completed",
		"session_id", session.ID, "user", username, "path", session.FilePath,
		"outcome", string(result.Outcome))

	snap := snapshotOf(session)
	snap.SyncResult = result
	return snap, nil
}

// Status returns a snapshot of the caller's session.
func (m *Manager) Status(ctx context.Context, username, sessionID string) (*Snapshot, error) {
	release := m.locks.lock(sessionID)
	defer release()

	session, err := m.loadOwned(ctx, username, sessionID)
	if err != nil {
		return nil, err
	}
	if session.SessionState() == models.SessionInProgress && session.IsExpired(m.now()) {
		m.expireSession(ctx, session)
		return nil, models.ErrSessionExpired
	}
	return snapshotOf(session), nil
}

// Cancel fails an in-progress session and drops its staging.
func (m *Manager) Cancel(ctx context.Context, username, sessionID string) error {
	release := m.locks.lock(sessionID)
	defer release()

	session, err := m.loadOwned(ctx, username, sessionID)
	if err != nil {
		return err
	}
	if session.SessionState().IsTerminal() {
		return models.ErrSessionNotActive
	}
	m.failSession(ctx, session, "cancelled by client")
	logger.Info("upload session cancelled", "session_id", sessionID, "user", username)
	return nil
}

// ActiveSessions returns snapshots of the caller's in-progress sessions.
func (m *Manager) ActiveSessions(ctx context.Context, username string) ([]*Snapshot, error) {
	user, err := m.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	sessions, err := m.store.ListActiveSessions(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	snaps := make([]*Snapshot, len(sessions))
	for i, s := range sessions {
		snaps[i] = snapshotOf(s)
	}
	return snaps, nil
}

// SweepExpired marks expired sessions EXPIRED, drops their staging, and
// deletes terminal sessions past the retention window. Returns the number
// of sessions expired.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	now := m.now().UTC()

	expired, err := m.store.ListExpiredSessions(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, session := range expired {
		release := m.locks.lock(session.ID)
		m.expireSession(ctx, session)
		release()
	}

	if err := m.store.DeleteSessionsCompletedBefore(ctx, now.Add(-m.config.Retention)); err != nil {
		return len(expired), err
	}
	return len(expired), nil
}

// Run drives the expiration sweeper until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := m.SweepExpired(ctx); err != nil {
				logger.Warn("upload sweep failed", "error", err)
			} else if n > 0 {
				logger.Info("expired upload sessions", "count", n)
			}
		}
	}
}

func (m *Manager) loadOwned(ctx context.Context, username, sessionID string) (*models.ChunkUploadSession, error) {
	user, err := m.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != user.ID {
		return nil, ErrNotSessionOwner
	}
	return session, nil
}

func (m *Manager) failSession(ctx context.Context, session *models.ChunkUploadSession, reason string) {
	session.Status = string(models.SessionFailed)
	session.ErrorMessage = reason
	if err := m.store.UpdateSession(ctx, session); err != nil {
		logger.Warn("failed to mark session failed", "session_id", session.ID, "error", err)
	}
	m.dropStaging(session.ID)
	m.metrics.SessionEnded(session.Status)
}

func (m *Manager) expireSession(ctx context.Context, session *models.ChunkUploadSession) {
	session.Status = string(models.SessionExpired)
	if err := m.store.UpdateSession(ctx, session); err != nil {
		logger.Warn("failed to mark session expired", "session_id", session.ID, "error", err)
	}
	m.dropStaging(session.ID)
	m.metrics.SessionEnded(session.Status)
	logger.Info("upload session expired", "session_id", session.ID)
}

func (m *Manager) dropStaging(sessionID string) {
	if err := m.staging.DeleteByPrefix(context.Background(), stagingPrefix(sessionID)); err != nil {
		logger.Warn("failed to delete session staging", "session_id", sessionID, "error", err)
	}
}
