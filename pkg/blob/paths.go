package blob

import (
	"fmt"
	"time"
)

// StorageError wraps a failure to allocate or write under a storage key.
type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Allocator computes the deterministic blob key layout:
//
//	{userId}/{YYYY}/{MM}/{fileId}                                  current versions
//	{userId}/{YYYY}/{MM}/conflicts/{fileId}_{clientId}_{millis}    conflict versions
//
// Keys always use forward slashes; filesystem stores translate to the
// native separator internally.
type Allocator struct{}

// StoragePath returns the key for a file's current version payload.
func (Allocator) StoragePath(userID, fileID string, now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%s", userID, now.Year(), int(now.Month()), fileID)
}

// ConflictPath returns the key for a conflict version payload. The epoch
// millisecond suffix keeps repeated conflicts from the same client distinct.
func (Allocator) ConflictPath(userID, fileID, clientID string, now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("%s/%04d/%02d/conflicts/%s_%s_%d",
		userID, now.Year(), int(now.Month()), fileID, clientID, now.UnixMilli())
}

// UserPrefix returns the key prefix holding every blob of one user.
func (Allocator) UserPrefix(userID string) string {
	return userID + "/"
}
