package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/driftsync/driftsync/pkg/chunk"
	"github.com/driftsync/driftsync/pkg/models"
	"github.com/driftsync/driftsync/pkg/upload"
)

func (env *testEnv) initiateSession(t *testing.T, req upload.InitiateRequest) *upload.Snapshot {
	t.Helper()
	payload, _ := json.Marshal(req)
	httpReq := httptest.NewRequest(http.MethodPost, "/files/upload/initiate-chunked", bytes.NewReader(payload))
	rec := env.do(t, httpReq)
	if rec.Code != http.StatusCreated {
		t.Fatalf("initiate status = %d, body %s", rec.Code, rec.Body.String())
	}
	snap := decodeJSON[*upload.Snapshot](t, rec.Body)
	if snap.SessionID == "" {
		t.Fatal("missing session_id")
	}
	return snap
}

func (env *testEnv) sendChunk(t *testing.T, sessionID string, index int, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("session_id", sessionID); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	if err := mw.WriteField("chunk_index", strconv.Itoa(index)); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	if err := mw.WriteField("chunk_checksum", chunk.SumHex(data)); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	part, err := mw.CreateFormFile("chunk", "chunk")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/files/upload/chunk", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return env.do(t, req)
}

func TestChunkedUploadFlow(t *testing.T) {
	env := newTestEnv(t)

	data := randomPayload(t, 3*1024)
	chunkSize := 1024
	total := 3

	snap := env.initiateSession(t, upload.InitiateRequest{
		FilePath:      "big/file.bin",
		TotalChunks:   total,
		TotalFileSize: int64(len(data)),
		Checksum:      chunk.SumHex(data),
		ClientID:      "client-a",
	})

	for i := 0; i < total-1; i++ {
		rec := env.sendChunk(t, snap.SessionID, i, data[i*chunkSize:(i+1)*chunkSize])
		if rec.Code != http.StatusOK {
			t.Fatalf("chunk %d status = %d, body %s", i, rec.Code, rec.Body.String())
		}
		partial := decodeJSON[*upload.Snapshot](t, rec.Body)
		if partial.Status != string(models.SessionInProgress) {
			t.Fatalf("status after chunk %d = %s", i, partial.Status)
		}
	}

	rec := env.sendChunk(t, snap.SessionID, total-1, data[(total-1)*chunkSize:])
	if rec.Code != http.StatusOK {
		t.Fatalf("final chunk status = %d, body %s", rec.Code, rec.Body.String())
	}
	final := decodeJSON[*upload.Snapshot](t, rec.Body)
	if final.Status != string(models.SessionCompleted) {
		t.Fatalf("final status = %s", final.Status)
	}
	if final.SyncResult == nil || final.SyncResult.FileID == "" {
		t.Fatal("final snapshot missing sync result")
	}

	// Assembled file is downloadable.
	dl := httptest.NewRequest(http.MethodGet, "/files/"+final.SyncResult.FileID+"/download", nil)
	drec := env.do(t, dl)
	if drec.Code != http.StatusOK {
		t.Fatalf("download status = %d", drec.Code)
	}
	if !bytes.Equal(drec.Body.Bytes(), data) {
		t.Error("assembled bytes differ from original")
	}
}

func TestChunkStatusAndCancel(t *testing.T) {
	env := newTestEnv(t)

	snap := env.initiateSession(t, upload.InitiateRequest{
		FilePath:      "partial.bin",
		TotalChunks:   4,
		TotalFileSize: 4096,
		ClientID:      "client-a",
	})
	env.sendChunk(t, snap.SessionID, 0, randomPayload(t, 1024))

	req := httptest.NewRequest(http.MethodGet, "/files/upload/status/"+snap.SessionID, nil)
	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeJSON[*upload.Snapshot](t, rec.Body)
	if got.ReceivedChunks != 1 {
		t.Errorf("received_chunks = %d, want 1", got.ReceivedChunks)
	}

	cancel := httptest.NewRequest(http.MethodDelete, "/files/upload/cancel/"+snap.SessionID, nil)
	crec := env.do(t, cancel)
	if crec.Code != http.StatusNoContent {
		t.Fatalf("cancel status = %d", crec.Code)
	}

	// Chunks after cancel are refused.
	rec = env.sendChunk(t, snap.SessionID, 1, randomPayload(t, 1024))
	if rec.Code != http.StatusConflict {
		t.Errorf("post-cancel chunk status = %d, want 409", rec.Code)
	}
}

func TestChunkIndexOutOfRangeIs400(t *testing.T) {
	env := newTestEnv(t)

	snap := env.initiateSession(t, upload.InitiateRequest{
		FilePath:      "small.bin",
		TotalChunks:   2,
		TotalFileSize: 2048,
		ClientID:      "client-a",
	})

	rec := env.sendChunk(t, snap.SessionID, 7, randomPayload(t, 1024))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChunkChecksumMismatchIs422(t *testing.T) {
	env := newTestEnv(t)

	snap := env.initiateSession(t, upload.InitiateRequest{
		FilePath:      "corrupt.bin",
		TotalChunks:   2,
		TotalFileSize: 2048,
		ClientID:      "client-a",
	})

	// Lie about the checksum.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("session_id", snap.SessionID)
	mw.WriteField("chunk_index", "0")
	mw.WriteField("chunk_checksum", "deadbeef")
	part, _ := mw.CreateFormFile("chunk", "chunk")
	part.Write(randomPayload(t, 1024))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/files/upload/chunk", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := env.do(t, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/files/upload/status/no-such-session", nil)
	rec := env.do(t, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestActiveSessionsList(t *testing.T) {
	env := newTestEnv(t)

	env.initiateSession(t, upload.InitiateRequest{
		FilePath: "a.bin", TotalChunks: 2, TotalFileSize: 2048, ClientID: "client-a",
	})
	env.initiateSession(t, upload.InitiateRequest{
		FilePath: "b.bin", TotalChunks: 2, TotalFileSize: 2048, ClientID: "client-a",
	})

	req := httptest.NewRequest(http.MethodGet, "/files/upload/sessions", nil)
	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	snaps := decodeJSON[[]*upload.Snapshot](t, rec.Body)
	if len(snaps) != 2 {
		t.Errorf("got %d active sessions, want 2", len(snaps))
	}
}
