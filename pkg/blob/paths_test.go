package blob

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestStoragePathLayout(t *testing.T) {
	now := time.Date(2025, time.March, 7, 12, 0, 0, 0, time.UTC)
	var a Allocator

	got := a.StoragePath("user-1", "file-1", now)
	if got != "user-1/2025/03/file-1" {
		t.Errorf("StoragePath = %q", got)
	}
}

func TestConflictPathLayout(t *testing.T) {
	now := time.Date(2025, time.December, 31, 23, 59, 59, 0, time.UTC)
	var a Allocator

	got := a.ConflictPath("u", "f", "c", now)
	want := fmt.Sprintf("u/2025/12/conflicts/f_c_%d", now.UnixMilli())
	if got != want {
		t.Errorf("ConflictPath = %q, want %q", got, want)
	}
}

func TestConflictPathsDistinct(t *testing.T) {
	var a Allocator
	t1 := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Millisecond)

	if a.ConflictPath("u", "f", "c", t1) == a.ConflictPath("u", "f", "c", t2) {
		t.Error("conflict keys for distinct milliseconds collide")
	}
}

func TestUserPrefixCoversKeys(t *testing.T) {
	var a Allocator
	now := time.Now()

	prefix := a.UserPrefix("user-1")
	for _, key := range []string{
		a.StoragePath("user-1", "f", now),
		a.ConflictPath("user-1", "f", "c", now),
	} {
		if !strings.HasPrefix(key, prefix) {
			t.Errorf("key %q not under prefix %q", key, prefix)
		}
	}
}
