package state

import (
	"errors"
	"testing"
	"time"

	"github.com/driftsync/driftsync/pkg/vector"
)

func openTestState(t *testing.T) *State {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetUntracked(t *testing.T) {
	s := openTestState(t)
	if _, err := s.Get("missing.txt"); !errors.Is(err, ErrNotTracked) {
		t.Errorf("Get on untracked path = %v, want ErrNotTracked", err)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestState(t)

	vec := vector.New().Increment("client-1").Increment("client-1")
	rec := &Record{
		FileID:   "file-123",
		Vector:   vec,
		Checksum: "abc123",
		Size:     42,
	}
	if err := s.Put("docs/notes.txt", rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get("docs/notes.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.FileID != "file-123" || got.Checksum != "abc123" || got.Size != 42 {
		t.Errorf("record did not round-trip: %+v", got)
	}
	if got.Vector.Get("client-1") != 2 {
		t.Errorf("vector counter = %d, want 2", got.Vector.Get("client-1"))
	}
}

func TestForget(t *testing.T) {
	s := openTestState(t)
	if err := s.Put("a.txt", &Record{FileID: "f1", Vector: vector.New()}); err != nil {
		t.Fatal(err)
	}
	if err := s.Forget("a.txt"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if _, err := s.Get("a.txt"); !errors.Is(err, ErrNotTracked) {
		t.Errorf("Get after Forget = %v, want ErrNotTracked", err)
	}
}

func TestPaths(t *testing.T) {
	s := openTestState(t)
	for _, p := range []string{"a.txt", "b/c.txt"} {
		if err := s.Put(p, &Record{FileID: p, Vector: vector.New()}); err != nil {
			t.Fatal(err)
		}
	}
	paths, err := s.Paths()
	if err != nil {
		t.Fatalf("Paths: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("Paths = %v, want 2 entries", paths)
	}
}

func TestTombstones(t *testing.T) {
	s := openTestState(t)
	now := time.Now().UTC().Format(time.RFC3339)

	if err := s.Put("gone.txt", &Record{FileID: "f1", Vector: vector.New()}); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkDeleted("gone.txt", now); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}

	// The record must be gone and the tombstone present.
	if _, err := s.Get("gone.txt"); !errors.Is(err, ErrNotTracked) {
		t.Error("record survived MarkDeleted")
	}
	deleted, err := s.IsDeleted("gone.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !deleted {
		t.Error("IsDeleted = false after MarkDeleted")
	}

	tombs, err := s.Tombstones()
	if err != nil {
		t.Fatal(err)
	}
	if len(tombs) != 1 || tombs[0] != "gone.txt" {
		t.Errorf("Tombstones = %v", tombs)
	}

	if err := s.ClearTombstone("gone.txt"); err != nil {
		t.Fatalf("ClearTombstone: %v", err)
	}
	deleted, err = s.IsDeleted("gone.txt")
	if err != nil {
		t.Fatal(err)
	}
	if deleted {
		t.Error("tombstone survived ClearTombstone")
	}
}

func TestClearTombstoneIdempotent(t *testing.T) {
	s := openTestState(t)
	if err := s.ClearTombstone("never-existed.txt"); err != nil {
		t.Errorf("ClearTombstone on absent path: %v", err)
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("a.txt", &Record{FileID: "f1", Vector: vector.New().Increment("c1"), Checksum: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	got, err := s.Get("a.txt")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.FileID != "f1" || got.Checksum != "x" {
		t.Errorf("record lost across reopen: %+v", got)
	}
}
