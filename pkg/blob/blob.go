// Package blob defines the content store used for file version payloads,
// plus the deterministic key layout versions are stored under.
package blob

import (
	"context"
	"errors"
	"io"
)

// Common errors returned by blob store implementations.
var (
	// ErrBlobNotFound is returned when the requested key does not exist.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("blob store is closed")
)

// Store persists file version payloads under forward-slash keys produced by
// the Allocator. Implementations must be safe for concurrent use.
type Store interface {
	// WriteBlob stores data under key, replacing any existing blob.
	// The write is atomic: readers never observe a partial blob.
	WriteBlob(ctx context.Context, key string, data []byte) error

	// ReadBlob returns the complete blob. Returns ErrBlobNotFound if the
	// key does not exist.
	ReadBlob(ctx context.Context, key string) ([]byte, error)

	// OpenBlob opens the blob for streaming reads starting at offset.
	// The returned reader must be closed by the caller; size is the total
	// blob size regardless of offset.
	OpenBlob(ctx context.Context, key string, offset int64) (io.ReadCloser, int64, error)

	// BlobSize returns the size of the blob in bytes.
	BlobSize(ctx context.Context, key string) (int64, error)

	// DeleteBlob removes a blob. Deleting an absent key is not an error.
	DeleteBlob(ctx context.Context, key string) error

	// DeleteByPrefix removes every blob whose key starts with prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error

	// ListByPrefix returns the sorted keys under prefix.
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)

	// HealthCheck verifies the store is accessible and operational.
	HealthCheck(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
