// Package fs provides a filesystem-backed blob store implementation.
package fs

import (
	"context"
	"errors"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/driftsync/driftsync/pkg/blob"
)

// Store is a filesystem-backed implementation of blob.Store. Blobs are
// stored as files with the blob key as the path relative to the base
// directory.
type Store struct {
	mu       sync.RWMutex
	basePath string
	fileMode os.FileMode
	closed   bool
}

// Config holds configuration for the filesystem blob store.
type Config struct {
	// BasePath is the root directory for blob storage.
	BasePath string

	// CreateDir creates the base directory if it doesn't exist.
	// Default: true
	CreateDir bool

	// DirMode is the permission mode for created directories.
	// Default: 0755
	DirMode os.FileMode

	// FileMode is the permission mode for created files.
	// Default: 0644
	FileMode os.FileMode
}

// DefaultConfig returns the default configuration.
func DefaultConfig(basePath string) Config {
	return Config{
		BasePath:  basePath,
		CreateDir: true,
		DirMode:   0755,
		FileMode:  0644,
	}
}

// New creates a new filesystem blob store with the given configuration.
func New(cfg Config) (*Store, error) {
	if cfg.BasePath == "" {
		return nil, errors.New("base path is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}

	if cfg.CreateDir {
		if err := os.MkdirAll(cfg.BasePath, cfg.DirMode); err != nil {
			return nil, err
		}
	}

	info, err := os.Stat(cfg.BasePath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("base path is not a directory")
	}

	return &Store{basePath: cfg.BasePath, fileMode: cfg.FileMode}, nil
}

// NewWithPath creates a new filesystem blob store with default configuration.
func NewWithPath(basePath string) (*Store, error) {
	return New(DefaultConfig(basePath))
}

// blobPath returns the full filesystem path for a blob key.
// Blob keys use forward slashes as separators.
func (s *Store) blobPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}

// WriteBlob writes a blob to the filesystem. The write goes to a temporary
// file first and is renamed into place, so readers never see partial data.
func (s *Store) WriteBlob(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return blob.ErrStoreClosed
	}

	path := s.blobPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &blob.StorageError{Key: key, Err: err}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, s.fileMode); err != nil {
		return &blob.StorageError{Key: key, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &blob.StorageError{Key: key, Err: err}
	}
	return nil
}

// ReadBlob reads a complete blob from the filesystem.
func (s *Store) ReadBlob(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, blob.ErrStoreClosed
	}

	data, err := os.ReadFile(s.blobPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, blob.ErrBlobNotFound
		}
		return nil, err
	}
	return data, nil
}

// OpenBlob opens a blob for streaming from the given offset. The file
// handle is owned by the returned reader and released on Close.
func (s *Store) OpenBlob(ctx context.Context, key string, offset int64) (io.ReadCloser, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, 0, blob.ErrStoreClosed
	}

	f, err := os.Open(s.blobPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, blob.ErrBlobNotFound
		}
		return nil, 0, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if offset < 0 || offset > info.Size() {
		f.Close()
		return nil, 0, blob.ErrBlobNotFound
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, 0, err
		}
	}
	return f, info.Size(), nil
}

// BlobSize returns the size of the blob in bytes.
func (s *Store) BlobSize(ctx context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, blob.ErrStoreClosed
	}

	info, err := os.Stat(s.blobPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, blob.ErrBlobNotFound
		}
		return 0, err
	}
	return info.Size(), nil
}

// DeleteBlob removes a single blob from the filesystem.
func (s *Store) DeleteBlob(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return blob.ErrStoreClosed
	}

	path := s.blobPath(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	s.cleanEmptyDirs(filepath.Dir(path))
	return nil
}

// cleanEmptyDirs removes empty directories up to the base path.
func (s *Store) cleanEmptyDirs(dir string) {
	for dir != s.basePath && strings.HasPrefix(dir, s.basePath) {
		if err := os.Remove(dir); err != nil {
			// Directory not empty or other error, stop
			break
		}
		dir = filepath.Dir(dir)
	}
}

// DeleteByPrefix removes all blobs with a given prefix.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return blob.ErrStoreClosed
	}

	prefixPath := s.blobPath(prefix)
	info, err := os.Stat(prefixPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if info.IsDir() {
		if err := os.RemoveAll(prefixPath); err != nil {
			return err
		}
	} else if err := os.Remove(prefixPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	s.cleanEmptyDirs(filepath.Dir(prefixPath))
	return nil
}

// ListByPrefix lists all blob keys with a given prefix, sorted.
func (s *Store) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, blob.ErrStoreClosed
	}

	prefixPath := s.blobPath(prefix)
	var keys []string

	if _, err := os.Stat(prefixPath); err != nil {
		if os.IsNotExist(err) {
			return keys, nil
		}
		return nil, err
	}

	err := filepath.WalkDir(prefixPath, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		relPath, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(relPath))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(keys)
	return keys, nil
}

// HealthCheck verifies the store is accessible and operational.
func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return blob.ErrStoreClosed
	}
	_, err := os.Stat(s.basePath)
	return err
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// BasePath returns the base path of the store (for testing).
func (s *Store) BasePath() string {
	return s.basePath
}

// Ensure Store implements blob.Store.
var _ blob.Store = (*Store)(nil)
