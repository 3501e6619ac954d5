package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/driftsync/driftsync/pkg/engine"
	"github.com/driftsync/driftsync/pkg/models"
	"github.com/driftsync/driftsync/pkg/vector"
)

func TestUploadAndList(t *testing.T) {
	env := newTestEnv(t)

	result := env.uploadFile(t, "docs/readme.md", []byte("hello sync"), "")
	if result.Outcome != engine.OutcomeSuccess {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	if result.FileID == "" {
		t.Error("missing file_id in result")
	}

	req := httptest.NewRequest(http.MethodGet, "/files/", nil)
	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}

	files := decodeJSON[[]*models.File](t, rec.Body)
	if len(files) != 1 {
		t.Fatalf("listed %d files, want 1", len(files))
	}
	if files[0].FilePath != "docs/readme.md" {
		t.Errorf("file_path = %q", files[0].FilePath)
	}
}

func TestUploadConflictIsHTTP200(t *testing.T) {
	env := newTestEnv(t)
	env.uploadFile(t, "notes.txt", []byte("content X"), "")

	// Concurrent with the server's {client-a:1}.
	conflictVec := vector.New().Increment("client-b").String()
	fields := map[string]string{
		"path":           "notes.txt",
		"client_id":      "client-b",
		"version_vector": conflictVec,
	}
	body, contentType := multipartUpload(t, fields, []byte("content Y"))
	req := httptest.NewRequest(http.MethodPost, "/files/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("conflict status = %d, want 200", rec.Code)
	}
	result := decodeJSON[engine.Result](t, rec.Body)
	if result.Outcome != engine.OutcomeConflict {
		t.Errorf("outcome = %s, want CONFLICT", result.Outcome)
	}
	if result.ConflictVersionID == "" {
		t.Error("missing conflict_version_id")
	}
}

func TestUploadRejectsEscapingPath(t *testing.T) {
	env := newTestEnv(t)

	fields := map[string]string{
		"path":      "../../etc/passwd",
		"client_id": "client-a",
	}
	body, contentType := multipartUpload(t, fields, []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/files/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := env.do(t, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUpdateByID(t *testing.T) {
	env := newTestEnv(t)
	created := env.uploadFile(t, "a.txt", []byte("v1"), "")

	newVec := vector.New().Increment("client-a").Increment("client-a").String()
	fields := map[string]string{
		"client_id":      "client-a",
		"version_vector": newVec,
	}
	body, contentType := multipartUpload(t, fields, []byte("v2 bytes"))
	req := httptest.NewRequest(http.MethodPut, "/files/"+created.FileID, body)
	req.Header.Set("Content-Type", contentType)

	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	result := decodeJSON[engine.Result](t, rec.Body)
	if result.Outcome != engine.OutcomeSuccess {
		t.Fatalf("outcome = %s", result.Outcome)
	}

	dl := httptest.NewRequest(http.MethodGet, "/files/"+created.FileID+"/download", nil)
	drec := env.do(t, dl)
	if drec.Code != http.StatusOK {
		t.Fatalf("download status = %d", drec.Code)
	}
	if !bytes.Equal(drec.Body.Bytes(), []byte("v2 bytes")) {
		t.Errorf("downloaded %q", drec.Body.Bytes())
	}
}

func TestDeleteTombstones(t *testing.T) {
	env := newTestEnv(t)
	created := env.uploadFile(t, "old.txt", []byte("bye"), "")

	delVec := vector.New().Increment("client-a").Increment("client-a")
	payload, _ := json.Marshal(DeleteRequest{ClientID: "client-a", ClientVector: delVec})
	req := httptest.NewRequest(http.MethodDelete, "/files/"+created.FileID, bytes.NewReader(payload))

	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body %s", rec.Code, rec.Body.String())
	}
	result := decodeJSON[engine.Result](t, rec.Body)
	if result.Outcome != engine.OutcomeSuccess {
		t.Fatalf("outcome = %s", result.Outcome)
	}

	list := httptest.NewRequest(http.MethodGet, "/files/", nil)
	lrec := env.do(t, list)
	files := decodeJSON[[]*models.File](t, lrec.Body)
	if len(files) != 0 {
		t.Errorf("listed %d files after delete, want 0", len(files))
	}
}

func TestMetadata(t *testing.T) {
	env := newTestEnv(t)
	data := []byte("some file content")
	created := env.uploadFile(t, "dir/data.bin", data, "")

	req := httptest.NewRequest(http.MethodGet, "/files/"+created.FileID+"/metadata", nil)
	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metadata status = %d", rec.Code)
	}

	meta := decodeJSON[MetadataResponse](t, rec.Body)
	if meta.FileID != created.FileID {
		t.Errorf("file_id = %q", meta.FileID)
	}
	if meta.FileName != "data.bin" {
		t.Errorf("file_name = %q", meta.FileName)
	}
	if meta.FileSize != int64(len(data)) {
		t.Errorf("file_size = %d", meta.FileSize)
	}
	if !meta.SupportsRangeRequests {
		t.Error("supports_range_requests = false")
	}
}

func TestVersionsHistory(t *testing.T) {
	env := newTestEnv(t)
	created := env.uploadFile(t, "doc.md", []byte("first"), "")
	env.uploadFile(t, "doc.md", []byte("second"), vector.New().Increment("client-a").Increment("client-a").String())

	req := httptest.NewRequest(http.MethodGet, "/files/"+created.FileID+"/versions", nil)
	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("versions status = %d", rec.Code)
	}

	versions := decodeJSON[[]*models.FileVersion](t, rec.Body)
	if len(versions) != 2 {
		t.Fatalf("got %d versions, want 2", len(versions))
	}
	current := 0
	for _, v := range versions {
		if v.IsCurrentVersion {
			current++
		}
	}
	if current != 1 {
		t.Errorf("%d current versions, want 1", current)
	}
}

func TestUnknownFileIs404(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/files/no-such-id/metadata", nil)
	rec := env.do(t, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != ContentTypeProblemJSON {
		t.Errorf("content type = %q", ct)
	}
}
