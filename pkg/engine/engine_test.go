package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/driftsync/driftsync/pkg/blob/fs"
	"github.com/driftsync/driftsync/pkg/chunk"
	"github.com/driftsync/driftsync/pkg/models"
	"github.com/driftsync/driftsync/pkg/store"
	"github.com/driftsync/driftsync/pkg/vector"
)

type capturePublisher struct {
	mu        sync.Mutex
	changes   []*models.SyncEvent
	conflicts []*models.SyncEvent
}

func (p *capturePublisher) PublishFileChange(_ string, e *models.SyncEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, e)
}

func (p *capturePublisher) PublishConflict(_ string, e *models.SyncEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conflicts = append(p.conflicts, e)
}

type testEnv struct {
	engine *Engine
	store  *store.GORMStore
	blobs  *fs.Store
	pub    *capturePublisher
	user   *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	blobs, err := fs.NewWithPath(t.TempDir())
	if err != nil {
		t.Fatalf("fs.NewWithPath: %v", err)
	}

	user := &models.User{
		Username:     "alice",
		PasswordHash: "hash",
		StorageQuota: models.DefaultStorageQuota,
	}
	if _, err := st.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	pub := &capturePublisher{}
	return &testEnv{
		engine: New(st, blobs, pub),
		store:  st,
		blobs:  blobs,
		pub:    pub,
		user:   user,
	}
}

func syncReq(path, clientID string, vec vector.Vector, data []byte) Request {
	return Request{
		Username:     "alice",
		FilePath:     path,
		ClientID:     clientID,
		ClientVector: vec,
		Checksum:     chunk.SumHex(data),
		FileSize:     int64(len(data)),
		Data:         data,
	}
}

func TestSyncCreate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	data := []byte("hello world")
	res, err := env.engine.SyncFile(ctx, syncReq("docs/readme.md", "client-a", vector.New().Increment("client-a"), data))
	if err != nil {
		t.Fatalf("SyncFile: %v", err)
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want SUCCESS", res.Outcome)
	}
	if res.Vector.Get("client-a") != 1 {
		t.Errorf("vector = %v", res.Vector)
	}

	file, err := env.store.GetFileByPath(ctx, env.user.ID, "docs/readme.md")
	if err != nil {
		t.Fatalf("GetFileByPath: %v", err)
	}
	if file.SyncStatus != string(models.SyncSynced) {
		t.Errorf("sync status = %s", file.SyncStatus)
	}
	if file.FileName != "readme.md" {
		t.Errorf("file name = %s", file.FileName)
	}

	version, err := env.store.CurrentVersion(ctx, file.ID)
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if version.VersionNumber != 1 {
		t.Errorf("version number = %d, want 1", version.VersionNumber)
	}

	stored, err := env.blobs.ReadBlob(ctx, version.StoragePath)
	if err != nil || string(stored) != string(data) {
		t.Errorf("stored payload = %q, %v", stored, err)
	}

	if len(env.pub.changes) != 1 || env.pub.changes[0].EventType != string(models.EventCreate) {
		t.Errorf("published changes = %v", env.pub.changes)
	}

	u, _ := env.store.GetUserByID(ctx, env.user.ID)
	if u.UsedStorage != int64(len(data)) {
		t.Errorf("used storage = %d, want %d", u.UsedStorage, len(data))
	}
}

func TestSequentialUpdateAccepted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v1 := vector.New().Increment("a")
	if _, err := env.engine.SyncFile(ctx, syncReq("a.txt", "a", v1, []byte("one"))); err != nil {
		t.Fatal(err)
	}

	v2 := v1.Increment("a")
	res, err := env.engine.SyncFile(ctx, syncReq("a.txt", "a", v2, []byte("two, longer")))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s", res.Outcome)
	}

	file, _ := env.store.GetFileByPath(ctx, env.user.ID, "a.txt")
	version, err := env.store.CurrentVersion(ctx, file.ID)
	if err != nil {
		t.Fatal(err)
	}
	if version.VersionNumber != 2 {
		t.Errorf("current version = %d, want 2", version.VersionNumber)
	}

	versions, _ := env.store.ListVersions(ctx, file.ID)
	if len(versions) != 2 {
		t.Errorf("history = %d entries, want 2", len(versions))
	}
}

func TestStaleClientShouldUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v2 := vector.New().Increment("a").Increment("a")
	if _, err := env.engine.SyncFile(ctx, syncReq("a.txt", "a", v2, []byte("newer"))); err != nil {
		t.Fatal(err)
	}

	stale := vector.New().Increment("a")
	res, err := env.engine.SyncFile(ctx, syncReq("a.txt", "b", stale, []byte("old")))
	if err != nil {
		t.Fatalf("stale submit: %v", err)
	}
	if res.Outcome != OutcomeClientShouldUpdate {
		t.Fatalf("outcome = %s, want CLIENT_SHOULD_UPDATE", res.Outcome)
	}
	if !res.Vector.Equal(v2) {
		t.Errorf("result vector = %v, want server's %v", res.Vector, v2)
	}
}

func TestEqualVectorNoOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v1 := vector.New().Increment("a")
	if _, err := env.engine.SyncFile(ctx, syncReq("a.txt", "a", v1, []byte("one"))); err != nil {
		t.Fatal(err)
	}

	res, err := env.engine.SyncFile(ctx, syncReq("a.txt", "a", v1, []byte("one")))
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s", res.Outcome)
	}

	file, _ := env.store.GetFileByPath(ctx, env.user.ID, "a.txt")
	versions, _ := env.store.ListVersions(ctx, file.ID)
	if len(versions) != 1 {
		t.Errorf("resubmit wrote a version: %d entries", len(versions))
	}
}

func TestConcurrentEditConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Both clients start from {a:1}.
	base := vector.New().Increment("a")
	if _, err := env.engine.SyncFile(ctx, syncReq("doc.txt", "a", base, []byte("base"))); err != nil {
		t.Fatal(err)
	}

	// A's next edit lands first.
	va := base.Increment("a")
	if _, err := env.engine.SyncFile(ctx, syncReq("doc.txt", "a", va, []byte("content X"))); err != nil {
		t.Fatal(err)
	}

	// B edited concurrently from {a:1}.
	vb := base.Increment("b")
	res, err := env.engine.SyncFile(ctx, syncReq("doc.txt", "b", vb, []byte("content Y")))
	if err != nil {
		t.Fatalf("conflicting submit: %v", err)
	}
	if res.Outcome != OutcomeConflict {
		t.Fatalf("outcome = %s, want CONFLICT", res.Outcome)
	}
	if res.ConflictVersionID == "" {
		t.Fatal("no conflict version id")
	}

	want := vector.FromCounters(map[string]int64{"a": 2, "b": 1, vector.ServerClientID: 1})
	if !res.Vector.Equal(want) {
		t.Errorf("merged vector = %v, want %v", res.Vector, want)
	}

	file, _ := env.store.GetFileByPath(ctx, env.user.ID, "doc.txt")
	if !file.HasConflict() {
		t.Error("file not flagged CONFLICT")
	}

	cv, err := env.store.GetVersionByID(ctx, res.ConflictVersionID)
	if err != nil {
		t.Fatal(err)
	}
	if cv.IsCurrentVersion {
		t.Error("conflict version flagged current")
	}
	stored, err := env.blobs.ReadBlob(ctx, cv.StoragePath)
	if err != nil || string(stored) != "content Y" {
		t.Errorf("conflict payload = %q, %v", stored, err)
	}

	// The server's copy is still A's content.
	current, _ := env.store.CurrentVersion(ctx, file.ID)
	stored, _ = env.blobs.ReadBlob(ctx, current.StoragePath)
	if string(stored) != "content X" {
		t.Errorf("current payload = %q, want content X", stored)
	}

	if len(env.pub.conflicts) != 1 {
		t.Errorf("conflict events published = %d, want 1", len(env.pub.conflicts))
	}
}

func TestDeleteThenRecreateClearsTombstone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v1 := vector.New().Increment("a")
	if _, err := env.engine.SyncFile(ctx, syncReq("photo.png", "a", v1, []byte("old bytes"))); err != nil {
		t.Fatal(err)
	}

	v2 := v1.Increment("a")
	res, err := env.engine.DeleteFile(ctx, Request{
		Username: "alice", FilePath: "photo.png", ClientID: "a", ClientVector: v2,
	})
	if err != nil || res.Outcome != OutcomeSuccess {
		t.Fatalf("delete = %v, %v", res, err)
	}

	file, _ := env.store.GetFileByPath(ctx, env.user.ID, "photo.png")
	if !file.IsTombstoned() {
		t.Fatal("file not tombstoned after delete")
	}

	// New bytes at the tombstoned path clear the tombstone.
	v3 := v2.Increment("a")
	res, err = env.engine.SyncFile(ctx, syncReq("photo.png", "a", v3, []byte("new bytes")))
	if err != nil || res.Outcome != OutcomeSuccess {
		t.Fatalf("recreate = %v, %v", res, err)
	}

	file, _ = env.store.GetFileByPath(ctx, env.user.ID, "photo.png")
	if file.SyncStatus != string(models.SyncSynced) {
		t.Errorf("sync status = %s, want SYNCED", file.SyncStatus)
	}
	current, err := env.store.CurrentVersion(ctx, file.ID)
	if err != nil {
		t.Fatal(err)
	}
	stored, _ := env.blobs.ReadBlob(ctx, current.StoragePath)
	if string(stored) != "new bytes" {
		t.Errorf("payload after recreate = %q", stored)
	}
}

func TestDeleteStaleClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v2 := vector.New().Increment("a").Increment("a")
	if _, err := env.engine.SyncFile(ctx, syncReq("a.txt", "a", v2, []byte("x"))); err != nil {
		t.Fatal(err)
	}

	stale := vector.New().Increment("a")
	res, err := env.engine.DeleteFile(ctx, Request{
		Username: "alice", FilePath: "a.txt", ClientID: "b", ClientVector: stale,
	})
	if err != nil || res.Outcome != OutcomeClientShouldUpdate {
		t.Fatalf("stale delete = %v, %v", res, err)
	}

	file, _ := env.store.GetFileByPath(ctx, env.user.ID, "a.txt")
	if file.IsTombstoned() {
		t.Error("stale delete tombstoned the file")
	}
}

func TestQuotaExceeded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.user.StorageQuota = 4
	if err := env.store.UpdateUser(ctx, env.user); err != nil {
		t.Fatal(err)
	}

	_, err := env.engine.SyncFile(ctx, syncReq("big.bin", "a", vector.New().Increment("a"), []byte("way too large")))
	if !errors.Is(err, models.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
}

func TestUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	req := syncReq("a.txt", "a", vector.New().Increment("a"), []byte("x"))
	req.Username = "nobody"

	if _, err := env.engine.SyncFile(context.Background(), req); !errors.Is(err, models.ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

// With N concurrent conflicting submissions on one file, the final vector
// must dominate every submitted client vector.
func TestSerializedConflictsLoseNoWrites(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	base := vector.New().Increment("seed")
	if _, err := env.engine.SyncFile(ctx, syncReq("hot.txt", "seed", base, []byte("base"))); err != nil {
		t.Fatal(err)
	}

	const n = 8
	vecs := make([]vector.Vector, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		client := fmt.Sprintf("c%d", i)
		vecs[i] = base.Increment(client)
		wg.Add(1)
		go func(i int, client string) {
			defer wg.Done()
			_, err := env.engine.SyncFile(ctx, syncReq("hot.txt", client, vecs[i], []byte(client)))
			if err != nil {
				t.Errorf("client %s: %v", client, err)
			}
		}(i, client)
	}
	wg.Wait()

	file, err := env.store.GetFileByPath(ctx, env.user.ID, "hot.txt")
	if err != nil {
		t.Fatal(err)
	}
	final, err := file.CurrentVector()
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range vecs {
		if !final.Dominates(v) {
			t.Errorf("final vector %v does not dominate submission %d (%v)", final, i, v)
		}
	}
}
