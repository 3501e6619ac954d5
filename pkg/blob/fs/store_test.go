package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/driftsync/driftsync/pkg/blob"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewWithPath(t.TempDir())
	if err != nil {
		t.Fatalf("NewWithPath: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteReadDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	data := []byte("hello blob")

	if err := s.WriteBlob(ctx, "u1/2025/03/f1", data); err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}

	got, err := s.ReadBlob(ctx, "u1/2025/03/f1")
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("ReadBlob = %q, want %q", got, data)
	}

	size, err := s.BlobSize(ctx, "u1/2025/03/f1")
	if err != nil || size != int64(len(data)) {
		t.Errorf("BlobSize = %d, %v; want %d", size, err, len(data))
	}

	if err := s.DeleteBlob(ctx, "u1/2025/03/f1"); err != nil {
		t.Fatalf("DeleteBlob: %v", err)
	}
	if _, err := s.ReadBlob(ctx, "u1/2025/03/f1"); !errors.Is(err, blob.ErrBlobNotFound) {
		t.Errorf("read after delete = %v, want ErrBlobNotFound", err)
	}
}

func TestWriteOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.WriteBlob(ctx, "k", []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteBlob(ctx, "k", []byte("two")); err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadBlob(ctx, "k")
	if err != nil || string(got) != "two" {
		t.Errorf("ReadBlob = %q, %v; want \"two\"", got, err)
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	if err := s.WriteBlob(context.Background(), "a/b/c", []byte("x")); err != nil {
		t.Fatal(err)
	}

	err := filepath.Walk(s.BasePath(), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if filepath.Ext(path) == ".tmp" {
			t.Errorf("temp file left behind: %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestOpenBlobOffset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	data := []byte("0123456789")

	if err := s.WriteBlob(ctx, "k", data); err != nil {
		t.Fatal(err)
	}

	r, size, err := s.OpenBlob(ctx, "k", 4)
	if err != nil {
		t.Fatalf("OpenBlob: %v", err)
	}
	defer r.Close()

	if size != int64(len(data)) {
		t.Errorf("size = %d, want %d", size, len(data))
	}
	got, err := io.ReadAll(r)
	if err != nil || string(got) != "456789" {
		t.Errorf("ReadAll = %q, %v; want \"456789\"", got, err)
	}
}

func TestOpenBlobMissing(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.OpenBlob(context.Background(), "nope", 0); !errors.Is(err, blob.ErrBlobNotFound) {
		t.Errorf("OpenBlob missing = %v, want ErrBlobNotFound", err)
	}
}

func TestDeleteByPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"u1/2025/03/f1", "u1/2025/03/conflicts/f1_c_1", "u2/2025/03/f2"} {
		if err := s.WriteBlob(ctx, k, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.DeleteByPrefix(ctx, "u1/"); err != nil {
		t.Fatalf("DeleteByPrefix: %v", err)
	}

	keys, err := s.ListByPrefix(ctx, "")
	if err != nil {
		t.Fatalf("ListByPrefix: %v", err)
	}
	if len(keys) != 1 || keys[0] != "u2/2025/03/f2" {
		t.Errorf("remaining keys = %v, want only u2's blob", keys)
	}
}

func TestListByPrefixSorted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"u/b", "u/a", "u/c"} {
		if err := s.WriteBlob(ctx, k, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := s.ListByPrefix(ctx, "u/")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"u/a", "u/b", "u/c"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestClosedStore(t *testing.T) {
	s := newTestStore(t)
	s.Close()

	if err := s.WriteBlob(context.Background(), "k", nil); !errors.Is(err, blob.ErrStoreClosed) {
		t.Errorf("write on closed store = %v, want ErrStoreClosed", err)
	}
	if _, err := s.ReadBlob(context.Background(), "k"); !errors.Is(err, blob.ErrStoreClosed) {
		t.Errorf("read on closed store = %v, want ErrStoreClosed", err)
	}
}
