package client

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/chunk"
	"github.com/driftsync/driftsync/pkg/client/state"
	"github.com/driftsync/driftsync/pkg/engine"
	"github.com/driftsync/driftsync/pkg/models"
	"github.com/driftsync/driftsync/pkg/upload"
	"github.com/driftsync/driftsync/pkg/vector"
)

// syncWorkers is the number of concurrent upload/download workers. The
// queue guarantees no two workers ever touch the same path.
const syncWorkers = 4

// queueCapacity bounds the backlog of pending paths. Overflow is not lost:
// the reconciliation walk re-discovers anything the queue refused.
const queueCapacity = 1024

// Syncer drives the two-way synchronization between the local sync
// directory and the server: watcher events flow up, server events flow
// down, and a periodic reconciliation walk catches whatever both missed.
type Syncer struct {
	cfg       *Config
	api       *API
	state     *state.State
	queue     *Queue
	watcher   *Watcher
	transport *Transport
	chunker   *chunk.Chunker
	root      string
}

// NewSyncer wires a syncer from its parts. The sync directory is created
// if missing.
func NewSyncer(cfg *Config, api *API, st *state.State) (*Syncer, error) {
	root, err := filepath.Abs(cfg.SyncPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sync directory: %w", err)
	}

	watcher, err := NewWatcher(root)
	if err != nil {
		return nil, fmt.Errorf("failed to start filesystem watcher: %w", err)
	}

	s := &Syncer{
		cfg:     cfg,
		api:     api,
		state:   st,
		queue:   NewQueue(queueCapacity),
		watcher: watcher,
		chunker: chunk.NewChunker(),
		root:    root,
	}
	s.transport = NewTransport(cfg.ServerURL, cfg.ClientID, api.Token, s.handleServerEvent)
	return s, nil
}

// Connected reports whether the realtime session is up.
func (s *Syncer) Connected() bool {
	return s.transport.Connected()
}

// Run starts all loops and blocks until the context is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.watcher.Run(gctx) })
	g.Go(func() error { return s.transport.Run(gctx) })
	g.Go(func() error { return s.pumpChanges(gctx) })
	for i := 0; i < syncWorkers; i++ {
		g.Go(func() error { return s.worker(gctx) })
	}
	g.Go(func() error { return s.reconcileLoop(gctx) })

	err := g.Wait()
	s.queue.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// pumpChanges feeds debounced watcher events into the queue.
func (s *Syncer) pumpChanges(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch, ok := <-s.watcher.Changes():
			if !ok {
				return nil
			}
			if err := s.queue.Push(ch); err != nil {
				logger.Warn("change not queued", "path", ch.Path, "error", err)
			}
		}
	}
}

// worker drains the queue one path at a time.
func (s *Syncer) worker(ctx context.Context) error {
	for {
		ch, ok := s.queue.Pop(ctx)
		if !ok {
			return ctx.Err()
		}
		if err := s.syncChange(ctx, ch); err != nil {
			logger.Error("sync failed", "path", ch.Path, "kind", string(ch.Kind), "error", err)
		}
		s.queue.Done(ch.Path)
	}
}

func (s *Syncer) abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// syncChange pushes one local change to the server.
func (s *Syncer) syncChange(ctx context.Context, ch Change) error {
	switch ch.Kind {
	case ChangeRemove:
		return s.syncRemove(ctx, ch.Path)
	default:
		return s.syncWrite(ctx, ch.Path)
	}
}

// syncWrite uploads the current content of a path. An unchanged checksum
// against the last synced baseline is a no-op.
func (s *Syncer) syncWrite(ctx context.Context, rel string) error {
	data, err := os.ReadFile(s.abs(rel))
	if err != nil {
		if os.IsNotExist(err) {
			// Deleted between event and read.
			return s.syncRemove(ctx, rel)
		}
		return err
	}

	checksum := chunk.SumHex(data)
	rec, err := s.state.Get(rel)
	if err != nil && !errors.Is(err, state.ErrNotTracked) {
		return err
	}

	var vec vector.Vector
	fileID := ""
	if rec != nil {
		if rec.Checksum == checksum {
			return nil
		}
		vec = rec.Vector
		fileID = rec.FileID
	} else {
		vec = vector.New()
	}
	vec = vec.Increment(s.cfg.ClientID)

	var res *engine.Result
	if s.chunker.ShouldChunk(int64(len(data))) {
		res, err = s.uploadChunked(ctx, rel, fileID, vec, checksum, data)
	} else if fileID != "" {
		res, err = s.api.Update(ctx, fileID, s.cfg.ClientID, vec, data)
	} else {
		res, err = s.api.Upload(ctx, rel, s.cfg.ClientID, vec, data)
	}
	if err != nil {
		return err
	}

	return s.applyResult(ctx, rel, data, checksum, res)
}

// uploadChunked runs a full chunk session; the final snapshot carries the
// sync result.
func (s *Syncer) uploadChunked(ctx context.Context, rel, fileID string, vec vector.Vector, checksum string, data []byte) (*engine.Result, error) {
	snap, err := s.api.InitiateChunked(ctx, upload.InitiateRequest{
		FileID:        fileID,
		FilePath:      rel,
		TotalChunks:   s.chunker.CountChunks(int64(len(data))),
		TotalFileSize: int64(len(data)),
		Checksum:      checksum,
		ClientID:      s.cfg.ClientID,
		ClientVector:  vec,
	})
	if err != nil {
		return nil, err
	}

	for _, c := range s.chunker.Split(data, fileID, snap.SessionID) {
		snap, err = s.api.SendChunk(ctx, snap.SessionID, c.Index, c.Checksum, c.Data)
		if err != nil {
			// Leave the session for resume; the TTL sweep reclaims it.
			return nil, fmt.Errorf("chunk %d failed: %w", c.Index, err)
		}
	}

	if snap.SyncResult == nil {
		return nil, fmt.Errorf("upload session %s finished without a sync result (status %s)", snap.SessionID, snap.Status)
	}
	return snap.SyncResult, nil
}

// applyResult folds the server's decision back into local state.
func (s *Syncer) applyResult(ctx context.Context, rel string, local []byte, checksum string, res *engine.Result) error {
	switch res.Outcome {
	case engine.OutcomeSuccess:
		if err := s.state.ClearTombstone(rel); err != nil {
			return err
		}
		logger.Info("synced", "path", rel, "file_id", res.FileID)
		return s.state.Put(rel, &state.Record{
			FileID:   res.FileID,
			Vector:   res.Vector,
			Checksum: checksum,
			Size:     int64(len(local)),
		})

	case engine.OutcomeConflict:
		return s.parkConflict(ctx, rel, res)

	case engine.OutcomeClientShouldUpdate:
		logger.Info("server version is newer, pulling", "path", rel)
		return s.pullFile(ctx, rel, res.FileID)

	default:
		return fmt.Errorf("sync of %s failed: %s", rel, res.Message)
	}
}

// parkConflict downloads the server version next to the local file and
// records the pending conflict. Resolution is explicit, via Resolve.
func (s *Syncer) parkConflict(ctx context.Context, rel string, res *engine.Result) error {
	serverData, err := s.api.Download(ctx, res.FileID)
	if err != nil {
		return fmt.Errorf("failed to fetch server version of %s: %w", rel, err)
	}

	copyRel := ConflictCopyName(rel, res.ConflictVersionID)
	if err := os.WriteFile(s.abs(copyRel), serverData, 0644); err != nil {
		return fmt.Errorf("failed to park server version: %w", err)
	}

	info, err := os.Stat(s.abs(rel))
	size := int64(0)
	if err == nil {
		size = info.Size()
	}

	logger.Warn("conflict detected", "path", rel, "server_copy", copyRel)
	return s.state.Put(rel, &state.Record{
		FileID:       res.FileID,
		Vector:       res.Vector,
		Checksum:     "", // force re-upload after resolution
		Size:         size,
		ConflictCopy: copyRel,
	})
}

// syncRemove propagates a local deletion.
func (s *Syncer) syncRemove(ctx context.Context, rel string) error {
	rec, err := s.state.Get(rel)
	if errors.Is(err, state.ErrNotTracked) {
		return nil
	}
	if err != nil {
		return err
	}

	vec := rec.Vector.Increment(s.cfg.ClientID)
	res, err := s.api.Delete(ctx, rec.FileID, s.cfg.ClientID, vec)
	if err != nil {
		if IsStatus(err, 404) {
			return s.state.MarkDeleted(rel, time.Now().UTC().Format(time.RFC3339))
		}
		return err
	}

	switch res.Outcome {
	case engine.OutcomeSuccess:
		logger.Info("deleted", "path", rel)
		return s.state.MarkDeleted(rel, time.Now().UTC().Format(time.RFC3339))
	case engine.OutcomeConflict, engine.OutcomeClientShouldUpdate:
		// Someone edited while we deleted; the edit wins, restore it.
		logger.Warn("delete lost against a concurrent edit, restoring", "path", rel)
		return s.pullFile(ctx, rel, res.FileID)
	default:
		return fmt.Errorf("delete of %s failed: %s", rel, res.Message)
	}
}

// pullFile downloads the server's current version over the local path and
// adopts the server vector as the new baseline.
func (s *Syncer) pullFile(ctx context.Context, rel, fileID string) error {
	meta, err := s.api.GetMetadata(ctx, fileID)
	if err != nil {
		return err
	}
	data, err := s.api.Download(ctx, fileID)
	if err != nil {
		return err
	}

	abs := s.abs(rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(abs, data, 0644); err != nil {
		return err
	}
	if err := s.state.ClearTombstone(rel); err != nil {
		return err
	}
	return s.state.Put(rel, &state.Record{
		FileID:   fileID,
		Vector:   meta.Vector,
		Checksum: meta.Checksum,
		Size:     meta.FileSize,
	})
}

// handleServerEvent applies a pushed event from another client.
func (s *Syncer) handleServerEvent(event *models.SyncEvent) {
	if event.ClientID == s.cfg.ClientID {
		// Our own change echoed back.
		return
	}
	if event.FilePath == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch models.EventType(event.EventType) {
	case models.EventCreate, models.EventModify:
		// A tombstoned path was deleted here; pulling a stale event
		// would resurrect it before our delete round-trips.
		if tombstoned, err := s.state.IsDeleted(event.FilePath); err == nil && tombstoned {
			logger.Debug("ignoring event for locally deleted path", "path", event.FilePath)
			return
		}
		if err := s.pullFile(ctx, event.FilePath, event.FileID); err != nil {
			logger.Error("failed to apply remote change", "path", event.FilePath, "error", err)
		} else {
			logger.Info("applied remote change", "path", event.FilePath)
		}
	case models.EventDelete:
		if err := s.applyRemoteDelete(event.FilePath); err != nil {
			logger.Error("failed to apply remote delete", "path", event.FilePath, "error", err)
		}
	case models.EventConflict:
		logger.Warn("conflict reported by server", "path", event.FilePath)
	}
}

func (s *Syncer) applyRemoteDelete(rel string) error {
	if err := os.Remove(s.abs(rel)); err != nil && !os.IsNotExist(err) {
		return err
	}
	logger.Info("applied remote delete", "path", rel)
	return s.state.MarkDeleted(rel, time.Now().UTC().Format(time.RFC3339))
}

// reconcileLoop runs a full comparison at startup and then on the
// configured interval, catching changes made while offline and anything
// the watcher or the queue dropped.
func (s *Syncer) reconcileLoop(ctx context.Context) error {
	if err := s.Reconcile(ctx); err != nil {
		logger.Error("initial reconciliation failed", "error", err)
	}

	interval := time.Duration(s.cfg.SyncIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Reconcile(ctx); err != nil {
				logger.Error("reconciliation failed", "error", err)
			}
		}
	}
}

// Reconcile walks the local tree and the server listing and queues or
// applies every difference: local-only paths upload, server-only paths
// download (unless tombstoned locally), diverged content re-syncs.
func (s *Syncer) Reconcile(ctx context.Context) error {
	local, err := s.walkLocal()
	if err != nil {
		return err
	}

	remote, err := s.api.ListFiles(ctx)
	if err != nil {
		return err
	}
	remoteByPath := make(map[string]*models.File, len(remote))
	for _, f := range remote {
		remoteByPath[f.FilePath] = f
	}

	// Local side: anything present locally either uploads (new or
	// changed) or is already in sync.
	for rel := range local {
		if err := s.queue.Push(Change{Path: rel, Kind: ChangeWrite}); err != nil && !errors.Is(err, ErrQueueFull) {
			return err
		}
	}

	// Server side: files we don't have locally.
	for rel, f := range remoteByPath {
		if _, ok := local[rel]; ok {
			continue
		}
		tombstoned, err := s.state.IsDeleted(rel)
		if err != nil {
			return err
		}
		if tombstoned {
			// We deleted it while offline; push the delete.
			continue
		}
		if _, err := s.state.Get(rel); err == nil {
			// Tracked but missing on disk: deleted locally without a
			// watcher event (offline). Propagate the delete.
			if err := s.queue.Push(Change{Path: rel, Kind: ChangeRemove}); err != nil && !errors.Is(err, ErrQueueFull) {
				return err
			}
			continue
		}
		if err := s.pullFile(ctx, rel, f.ID); err != nil {
			logger.Error("failed to pull server file", "path", rel, "error", err)
		}
	}

	// Tombstones for paths the server no longer lists can be dropped.
	tombs, err := s.state.Tombstones()
	if err != nil {
		return err
	}
	for _, rel := range tombs {
		if _, ok := remoteByPath[rel]; !ok {
			if err := s.state.ClearTombstone(rel); err != nil {
				return err
			}
		}
	}
	return nil
}

// walkLocal lists every regular file under the sync root, keyed by
// slash-separated relative path.
func (s *Syncer) walkLocal() (map[string]struct{}, error) {
	out := make(map[string]struct{})
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.root && s.watcher.ignored(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.watcher.ignored(path) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveConflict applies a user's choice for a parked conflict and
// re-uploads the winning content.
func (s *Syncer) ResolveConflict(ctx context.Context, rel string, choice Choice) error {
	rec, err := s.state.Get(rel)
	if err != nil {
		return err
	}
	if rec.ConflictCopy == "" {
		return fmt.Errorf("no pending conflict for %s", rel)
	}

	local, err := os.ReadFile(s.abs(rel))
	if err != nil {
		return err
	}
	server, err := os.ReadFile(s.abs(rec.ConflictCopy))
	if err != nil {
		return err
	}

	resolution := Resolve(choice, local, server)
	if resolution.Choice == Cancelled {
		return nil
	}

	if err := os.WriteFile(s.abs(rel), resolution.Content, 0644); err != nil {
		return err
	}
	_ = os.Remove(s.abs(rec.ConflictCopy))

	checksum := chunk.SumHex(resolution.Content)
	vec := rec.Vector.Increment(s.cfg.ClientID)
	res, err := s.api.Update(ctx, rec.FileID, s.cfg.ClientID, vec, resolution.Content)
	if err != nil {
		return err
	}
	if res.Outcome != engine.OutcomeSuccess {
		return fmt.Errorf("resolution upload was not accepted: %s", res.Outcome)
	}

	logger.Info("conflict resolved", "path", rel, "choice", string(choice))
	return s.state.Put(rel, &state.Record{
		FileID:   res.FileID,
		Vector:   res.Vector,
		Checksum: checksum,
		Size:     int64(len(resolution.Content)),
	})
}

// PendingConflicts lists paths with a parked, unresolved conflict.
func (s *Syncer) PendingConflicts() ([]string, error) {
	paths, err := s.state.Paths()
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, rel := range paths {
		rec, err := s.state.Get(rel)
		if err != nil {
			continue
		}
		if rec.ConflictCopy != "" {
			pending = append(pending, rel)
		}
	}
	return pending, nil
}

// SyncNow pushes one path immediately, outside the queue. Used by one-shot
// CLI commands that run without the background loops.
func (s *Syncer) SyncNow(ctx context.Context, rel string) error {
	return s.syncWrite(ctx, rel)
}

// Import copies an external file into the sync directory; the watcher
// picks it up from there.
func (s *Syncer) Import(src string) (string, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}
	rel := filepath.Base(src)
	if err := os.WriteFile(s.abs(rel), data, 0644); err != nil {
		return "", err
	}
	return rel, nil
}
