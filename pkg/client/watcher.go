package client

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/driftsync/driftsync/internal/logger"
)

// debounceWindow coalesces the burst of write events editors emit while
// saving a file into a single change notification.
const debounceWindow = 250 * time.Millisecond

// ChangeKind classifies a local filesystem change.
type ChangeKind string

const (
	ChangeWrite  ChangeKind = "WRITE"
	ChangeRemove ChangeKind = "REMOVE"
)

// Change is one debounced local filesystem event, with the path relative
// to the sync root.
type Change struct {
	Path string
	Kind ChangeKind
}

// Watcher watches the sync directory recursively and emits debounced
// changes. New subdirectories are picked up as they appear.
type Watcher struct {
	root    string
	watcher *fsnotify.Watcher
	changes chan Change

	mu      sync.Mutex
	pending map[string]*pendingChange
}

type pendingChange struct {
	kind  ChangeKind
	timer *time.Timer
}

// NewWatcher creates a watcher rooted at dir. Call Run to start it.
func NewWatcher(dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:    dir,
		watcher: fsw,
		changes: make(chan Change, 256),
		pending: make(map[string]*pendingChange),
	}
	if err := w.addRecursive(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Changes returns the debounced change stream.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Run pumps events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("filesystem watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.ignored(event.Name) {
		return
	}

	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			return
		}
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	switch {
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		w.schedule(rel, ChangeRemove)
	case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
		w.schedule(rel, ChangeWrite)
	}
}

// schedule arms (or re-arms) the debounce timer for a path. A remove
// arriving during a write window wins, and vice versa: last event decides.
func (w *Watcher) schedule(rel string, kind ChangeKind) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[rel]; ok {
		p.kind = kind
		p.timer.Reset(debounceWindow)
		return
	}

	p := &pendingChange{kind: kind}
	p.timer = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		kind := p.kind
		delete(w.pending, rel)
		w.mu.Unlock()

		select {
		case w.changes <- Change{Path: rel, Kind: kind}:
		default:
			logger.Warn("change queue full, dropping event", "path", rel)
		}
	})
	w.pending[rel] = p
}

// addRecursive watches dir and every subdirectory under it.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// ignored filters out editor temp files, hidden files and conflict copies.
func (w *Watcher) ignored(path string) bool {
	base := filepath.Base(path)
	if base == "." || base == w.root {
		return false
	}
	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, ".tmp") {
		return true
	}
	return strings.Contains(base, ".sync-conflict-")
}
