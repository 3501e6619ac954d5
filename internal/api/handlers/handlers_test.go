package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/driftsync/driftsync/internal/api/auth"
	"github.com/driftsync/driftsync/internal/api/middleware"
	"github.com/driftsync/driftsync/pkg/blob/fs"
	"github.com/driftsync/driftsync/pkg/engine"
	"github.com/driftsync/driftsync/pkg/models"
	"github.com/driftsync/driftsync/pkg/store"
	"github.com/driftsync/driftsync/pkg/upload"
)

type testEnv struct {
	store   *store.GORMStore
	blobs   *fs.Store
	engine  *engine.Engine
	uploads *upload.Manager
	jwt     *auth.JWTService
	user    *models.User
	router  chi.Router
}

// newTestEnv builds the handler stack on an in-memory store with a fake
// auth middleware that injects the test user's claims.
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
	staging, err := fs.NewWithPath(t.TempDir())
	if err != nil {
		t.Fatalf("fs.NewWithPath: %v", err)
	}

	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret: "0123456789abcdef0123456789abcdef",
	})
	if err != nil {
		t.Fatalf("NewJWTService: %v", err)
	}

	user := &models.User{
		Username:     "alice",
		PasswordHash: "hash",
		StorageQuota: models.DefaultStorageQuota,
	}
	if _, err := st.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	eng := engine.New(st, blobs, nil)
	uploads := upload.NewManager(st, staging, eng, upload.Config{})

	env := &testEnv{
		store:   st,
		blobs:   blobs,
		engine:  eng,
		uploads: uploads,
		jwt:     jwtService,
		user:    user,
	}

	filesHandler := NewFilesHandler(st, eng)
	downloadHandler := NewDownloadHandler(eng, blobs)
	uploadHandler := NewUploadHandler(uploads)

	r := chi.NewRouter()
	r.Use(env.fakeAuth)
	r.Route("/files", func(r chi.Router) {
		r.Get("/", filesHandler.List)
		r.Route("/upload", func(r chi.Router) {
			r.Post("/", filesHandler.Upload)
			r.Post("/initiate-chunked", uploadHandler.Initiate)
			r.Post("/chunk", uploadHandler.Chunk)
			r.Get("/status/{sessionId}", uploadHandler.Status)
			r.Delete("/cancel/{sessionId}", uploadHandler.Cancel)
			r.Get("/sessions", uploadHandler.Sessions)
		})
		r.Route("/{fileId}", func(r chi.Router) {
			r.Put("/", filesHandler.Update)
			r.Delete("/", filesHandler.Delete)
			r.Get("/download", downloadHandler.Download)
			r.Get("/download-chunked", downloadHandler.DownloadChunked)
			r.Get("/metadata", filesHandler.Metadata)
			r.Get("/versions", filesHandler.Versions)
		})
	})
	env.router = r
	return env
}

// fakeAuth injects the test user's claims without a token.
func (env *testEnv) fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := &auth.Claims{
			UserID:    env.user.ID,
			Username:  env.user.Username,
			TokenType: auth.TokenTypeAccess,
		}
		next.ServeHTTP(w, r.WithContext(middleware.WithClaims(r.Context(), claims)))
	})
}

func (env *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

// multipartUpload builds a direct-upload request body.
func multipartUpload(t *testing.T, fields map[string]string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField(%s): %v", k, err)
		}
	}
	part, err := mw.CreateFormFile("file", "payload")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

// uploadFile pushes bytes to a path and returns the engine result.
func (env *testEnv) uploadFile(t *testing.T, path string, data []byte, clientVector string) *engine.Result {
	t.Helper()
	fields := map[string]string{
		"path":      path,
		"client_id": "client-a",
	}
	if clientVector != "" {
		fields["version_vector"] = clientVector
	}
	body, contentType := multipartUpload(t, fields, data)

	req := httptest.NewRequest(http.MethodPost, "/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}

	var result engine.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return &result
}

func decodeJSON[T any](t *testing.T, r io.Reader) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}
