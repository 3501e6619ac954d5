package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/driftsync/driftsync/pkg/chunk"
	"github.com/driftsync/driftsync/pkg/client/state"
	"github.com/driftsync/driftsync/pkg/engine"
	"github.com/driftsync/driftsync/pkg/models"
	"github.com/driftsync/driftsync/pkg/vector"
)

// fakeServer is a minimal in-memory stand-in for the sync endpoints.
type fakeServer struct {
	mu    sync.Mutex
	files map[string]*fakeFile // by file id
	next  int
}

type fakeFile struct {
	id       string
	path     string
	data     []byte
	vector   vector.Vector
	conflict bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{files: make(map[string]*fakeFile)}
}

func (f *fakeServer) byPath(path string) *fakeFile {
	for _, file := range f.files {
		if file.path == path {
			return file
		}
	}
	return nil
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/files/upload", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		r.ParseMultipartForm(1 << 20)
		part, _, _ := r.FormFile("file")
		data, _ := io.ReadAll(part)
		clientVec, _ := vector.Parse([]byte(r.FormValue("version_vector")))
		path := r.FormValue("path")

		if existing := f.byPath(path); existing != nil {
			if existing.vector.Concurrent(clientVec) {
				merged := existing.vector.Merge(clientVec).Increment("server")
				json.NewEncoder(w).Encode(engine.Result{
					Outcome:           engine.OutcomeConflict,
					FileID:            existing.id,
					ConflictVersionID: "conflict-version-1",
					Vector:            merged,
				})
				return
			}
			existing.data = data
			existing.vector = clientVec
			json.NewEncoder(w).Encode(engine.Result{Outcome: engine.OutcomeSuccess, FileID: existing.id, Vector: clientVec})
			return
		}

		f.next++
		id := "file-" + string(rune('0'+f.next))
		f.files[id] = &fakeFile{id: id, path: path, data: data, vector: clientVec}
		json.NewEncoder(w).Encode(engine.Result{Outcome: engine.OutcomeSuccess, FileID: id, Vector: clientVec})
	})

	mux.HandleFunc("PUT /api/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		file := f.files[r.PathValue("id")]
		if file == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		r.ParseMultipartForm(1 << 20)
		part, _, _ := r.FormFile("file")
		data, _ := io.ReadAll(part)
		clientVec, _ := vector.Parse([]byte(r.FormValue("version_vector")))

		if file.vector.Concurrent(clientVec) {
			merged := file.vector.Merge(clientVec).Increment("server")
			json.NewEncoder(w).Encode(engine.Result{
				Outcome:           engine.OutcomeConflict,
				FileID:            file.id,
				ConflictVersionID: "conflict-version-1",
				Vector:            merged,
			})
			return
		}
		file.data = data
		file.vector = clientVec
		json.NewEncoder(w).Encode(engine.Result{Outcome: engine.OutcomeSuccess, FileID: file.id, Vector: clientVec})
	})

	mux.HandleFunc("GET /api/files/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var out []*models.File
		for _, file := range f.files {
			out = append(out, &models.File{ID: file.id, FilePath: file.path, FileSize: int64(len(file.data)), Checksum: chunk.SumHex(file.data)})
		}
		if out == nil {
			out = []*models.File{}
		}
		json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("GET /api/files/{id}/metadata", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		file := f.files[r.PathValue("id")]
		if file == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(Metadata{
			FileID:   file.id,
			FileName: filepath.Base(file.path),
			FileSize: int64(len(file.data)),
			Checksum: chunk.SumHex(file.data),
			Vector:   file.vector,
		})
	})

	mux.HandleFunc("GET /api/files/{id}/download", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		file := f.files[r.PathValue("id")]
		if file == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(file.data)
	})

	mux.HandleFunc("DELETE /api/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		file := f.files[r.PathValue("id")]
		if file == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.files, file.id)
		json.NewEncoder(w).Encode(engine.Result{Outcome: engine.OutcomeSuccess, FileID: file.id})
	})

	return mux
}

func newTestSyncer(t *testing.T, serverURL string) (*Syncer, *Config) {
	t.Helper()

	st, err := state.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &Config{
		ServerURL:           serverURL + "/api",
		SyncPath:            t.TempDir(),
		ClientID:            "client-1",
		SyncIntervalSeconds: 10,
	}
	s, err := NewSyncer(cfg, NewAPI(cfg.ServerURL, "tok", ""), st)
	if err != nil {
		t.Fatalf("NewSyncer: %v", err)
	}
	return s, cfg
}

func TestSyncWriteUploadsNewFile(t *testing.T) {
	fake := newFakeServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s, cfg := newTestSyncer(t, srv.URL)
	if err := os.WriteFile(filepath.Join(cfg.SyncPath, "a.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := s.syncWrite(context.Background(), "a.txt"); err != nil {
		t.Fatalf("syncWrite: %v", err)
	}

	uploaded := fake.byPath("a.txt")
	if uploaded == nil {
		t.Fatal("file never reached the server")
	}
	if string(uploaded.data) != "hello" {
		t.Errorf("server content = %q", uploaded.data)
	}
	if uploaded.vector.Get("client-1") != 1 {
		t.Errorf("server vector counter = %d, want 1", uploaded.vector.Get("client-1"))
	}

	rec, err := s.state.Get("a.txt")
	if err != nil {
		t.Fatalf("state not recorded: %v", err)
	}
	if rec.FileID != uploaded.id {
		t.Errorf("state file id = %s, want %s", rec.FileID, uploaded.id)
	}
	if rec.Checksum != chunk.SumHex([]byte("hello")) {
		t.Error("baseline checksum not recorded")
	}
}

func TestSyncWriteSkipsUnchangedContent(t *testing.T) {
	fake := newFakeServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s, cfg := newTestSyncer(t, srv.URL)
	if err := os.WriteFile(filepath.Join(cfg.SyncPath, "a.txt"), []byte("same"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := s.syncWrite(ctx, "a.txt"); err != nil {
		t.Fatal(err)
	}
	before := fake.byPath("a.txt").vector

	// Second sync with identical bytes must not touch the server vector.
	if err := s.syncWrite(ctx, "a.txt"); err != nil {
		t.Fatal(err)
	}
	if !fake.byPath("a.txt").vector.Equal(before) {
		t.Error("unchanged content caused a second upload")
	}
}

func TestSyncWriteParksConflictCopy(t *testing.T) {
	fake := newFakeServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s, cfg := newTestSyncer(t, srv.URL)
	ctx := context.Background()

	// Seed a server file whose vector is concurrent with what this
	// client will send.
	serverVec := vector.New().Increment("client-2")
	fake.mu.Lock()
	fake.files["file-9"] = &fakeFile{id: "file-9", path: "doc.txt", data: []byte("server text"), vector: serverVec}
	fake.mu.Unlock()

	if err := os.WriteFile(filepath.Join(cfg.SyncPath, "doc.txt"), []byte("local text"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := s.syncWrite(ctx, "doc.txt"); err != nil {
		t.Fatalf("syncWrite: %v", err)
	}

	rec, err := s.state.Get("doc.txt")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ConflictCopy == "" {
		t.Fatal("conflict not recorded in state")
	}

	copyData, err := os.ReadFile(filepath.Join(cfg.SyncPath, rec.ConflictCopy))
	if err != nil {
		t.Fatalf("server copy not parked: %v", err)
	}
	if string(copyData) != "server text" {
		t.Errorf("parked copy = %q", copyData)
	}

	// The local file must be untouched.
	local, _ := os.ReadFile(filepath.Join(cfg.SyncPath, "doc.txt"))
	if string(local) != "local text" {
		t.Errorf("local file modified during conflict: %q", local)
	}

	pending, err := s.PendingConflicts()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0] != "doc.txt" {
		t.Errorf("PendingConflicts = %v", pending)
	}
}

func TestResolveConflictUseServer(t *testing.T) {
	fake := newFakeServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s, cfg := newTestSyncer(t, srv.URL)
	ctx := context.Background()

	serverVec := vector.New().Increment("client-2")
	fake.mu.Lock()
	fake.files["file-9"] = &fakeFile{id: "file-9", path: "doc.txt", data: []byte("server text"), vector: serverVec}
	fake.mu.Unlock()

	if err := os.WriteFile(filepath.Join(cfg.SyncPath, "doc.txt"), []byte("local text"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := s.syncWrite(ctx, "doc.txt"); err != nil {
		t.Fatal(err)
	}

	if err := s.ResolveConflict(ctx, "doc.txt", UseServer); err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}

	local, _ := os.ReadFile(filepath.Join(cfg.SyncPath, "doc.txt"))
	if string(local) != "server text" {
		t.Errorf("local content after UseServer = %q", local)
	}

	rec, err := s.state.Get("doc.txt")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ConflictCopy != "" {
		t.Error("conflict still pending after resolution")
	}

	pending, _ := s.PendingConflicts()
	if len(pending) != 0 {
		t.Errorf("PendingConflicts after resolve = %v", pending)
	}
}

func TestReconcilePullsServerOnlyFiles(t *testing.T) {
	fake := newFakeServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s, cfg := newTestSyncer(t, srv.URL)

	fake.mu.Lock()
	fake.files["file-7"] = &fakeFile{id: "file-7", path: "remote.txt", data: []byte("from server"), vector: vector.New().Increment("client-2")}
	fake.mu.Unlock()

	if err := s.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(cfg.SyncPath, "remote.txt"))
	if err != nil {
		t.Fatalf("server-only file not pulled: %v", err)
	}
	if string(data) != "from server" {
		t.Errorf("pulled content = %q", data)
	}

	rec, err := s.state.Get("remote.txt")
	if err != nil {
		t.Fatalf("pulled file not tracked: %v", err)
	}
	if rec.FileID != "file-7" {
		t.Errorf("tracked file id = %s", rec.FileID)
	}
}

func TestSyncRemovePropagatesDelete(t *testing.T) {
	fake := newFakeServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s, cfg := newTestSyncer(t, srv.URL)
	ctx := context.Background()

	path := filepath.Join(cfg.SyncPath, "a.txt")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := s.syncWrite(ctx, "a.txt"); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	if err := s.syncRemove(ctx, "a.txt"); err != nil {
		t.Fatalf("syncRemove: %v", err)
	}

	if fake.byPath("a.txt") != nil {
		t.Error("file still on server after delete")
	}
	deleted, err := s.state.IsDeleted("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !deleted {
		t.Error("tombstone not recorded")
	}
}

func TestServerEventSkipsTombstonedPath(t *testing.T) {
	fake := newFakeServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s, cfg := newTestSyncer(t, srv.URL)
	ctx := context.Background()

	// Upload, then delete locally so a tombstone is recorded.
	path := filepath.Join(cfg.SyncPath, "gone.txt")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := s.syncWrite(ctx, "gone.txt"); err != nil {
		t.Fatal(err)
	}
	fileID := fake.byPath("gone.txt").id
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := s.state.MarkDeleted("gone.txt", "2026-08-24T00:00:00Z"); err != nil {
		t.Fatal(err)
	}

	// A stale MODIFY from another client arrives before our delete
	// round-trips; it must not resurrect the file.
	s.handleServerEvent(&models.SyncEvent{
		EventType: string(models.EventModify),
		FilePath:  "gone.txt",
		FileID:    fileID,
		ClientID:  "client-2",
	})

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("tombstoned file resurrected by stale event (stat err = %v)", err)
	}
}

func TestImportCopiesIntoSyncDir(t *testing.T) {
	fake := newFakeServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s, cfg := newTestSyncer(t, srv.URL)

	src := filepath.Join(t.TempDir(), "outside.txt")
	if err := os.WriteFile(src, []byte("imported"), 0644); err != nil {
		t.Fatal(err)
	}

	rel, err := s.Import(src)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if rel != "outside.txt" {
		t.Errorf("rel = %s", rel)
	}
	data, err := os.ReadFile(filepath.Join(cfg.SyncPath, "outside.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "imported" {
		t.Errorf("imported content = %q", data)
	}
}
