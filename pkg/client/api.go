package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/driftsync/driftsync/pkg/engine"
	"github.com/driftsync/driftsync/pkg/models"
	"github.com/driftsync/driftsync/pkg/upload"
	"github.com/driftsync/driftsync/pkg/vector"
)

// API is the client-side view of the server's HTTP endpoints. It holds the
// token pair and transparently retries a request once after refreshing an
// expired access token.
type API struct {
	baseURL string
	http    *http.Client

	mu           sync.Mutex
	token        string
	refreshToken string

	// onTokens is called after a successful refresh so the caller can
	// persist the rotated pair.
	onTokens func(access, refresh string)
}

// NewAPI creates an API client for the given base URL (ending in /api).
func NewAPI(baseURL, token, refreshToken string) *API {
	return &API{
		baseURL:      baseURL,
		http:         &http.Client{Timeout: 5 * time.Minute},
		token:        token,
		refreshToken: refreshToken,
	}
}

// OnTokenRotation registers a callback invoked whenever the token pair
// changes (login or refresh).
func (a *API) OnTokenRotation(fn func(access, refresh string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onTokens = fn
}

// Token returns the current access token.
func (a *API) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

// TokenPair mirrors the server's login and refresh response.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// problem is the RFC 7807 error body the server sends on failures.
type problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// APIError is a non-2xx server response.
type APIError struct {
	StatusCode int
	Title      string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Detail)
	}
	if e.Title != "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Title)
	}
	return fmt.Sprintf("server returned %d", e.StatusCode)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == code
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil {
		var p problem
		if json.Unmarshal(body, &p) == nil {
			apiErr.Title = p.Title
			apiErr.Detail = p.Detail
		}
	}
	return apiErr
}

// do sends a request with the current access token. On a 401 it refreshes
// once and retries; makeBody rebuilds the request body for the retry.
func (a *API) do(ctx context.Context, method, path string, contentType string, makeBody func() (io.Reader, error)) (*http.Response, error) {
	send := func(token string) (*http.Response, error) {
		body, err := makeBody()
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return a.http.Do(req)
	}

	resp, err := send(a.Token())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	if err := a.refresh(ctx); err != nil {
		return nil, fmt.Errorf("session expired: %w", err)
	}
	return send(a.Token())
}

// doJSON runs a request with a JSON body (nil for none) and decodes a JSON
// response into out (nil to discard).
func (a *API) doJSON(ctx context.Context, method, path string, reqBody, out interface{}) error {
	contentType := ""
	makeBody := func() (io.Reader, error) { return nil, nil }
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		contentType = "application/json"
		makeBody = func() (io.Reader, error) { return bytes.NewReader(data), nil }
	}

	resp, err := a.do(ctx, method, path, contentType, makeBody)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Login authenticates and stores the returned token pair.
func (a *API) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	body := map[string]string{"username": username, "password": password}
	var pair TokenPair
	if err := a.doJSON(ctx, http.MethodPost, "/auth/login", body, &pair); err != nil {
		return nil, err
	}
	a.setTokens(pair.AccessToken, pair.RefreshToken)
	return &pair, nil
}

// Register creates an account.
func (a *API) Register(ctx context.Context, username, email, password string) error {
	body := map[string]string{"username": username, "email": email, "password": password}
	return a.doJSON(ctx, http.MethodPost, "/auth/register", body, nil)
}

func (a *API) setTokens(access, refresh string) {
	a.mu.Lock()
	a.token = access
	a.refreshToken = refresh
	fn := a.onTokens
	a.mu.Unlock()
	if fn != nil {
		fn(access, refresh)
	}
}

// refresh exchanges the refresh token for a new pair.
func (a *API) refresh(ctx context.Context) error {
	a.mu.Lock()
	rt := a.refreshToken
	a.mu.Unlock()
	if rt == "" {
		return fmt.Errorf("no refresh token; log in again")
	}

	body := map[string]string{"refresh_token": rt}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/auth/refresh", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	var pair TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return err
	}
	a.setTokens(pair.AccessToken, pair.RefreshToken)
	return nil
}

// ListFiles returns the account's live files.
func (a *API) ListFiles(ctx context.Context) ([]*models.File, error) {
	var files []*models.File
	if err := a.doJSON(ctx, http.MethodGet, "/files/", nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// syncForm builds the multipart form shared by Upload and Update.
func syncForm(path, clientID string, vec vector.Vector, data []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", "file")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if path != "" {
		if err := mw.WriteField("path", path); err != nil {
			return nil, "", err
		}
	}
	if err := mw.WriteField("client_id", clientID); err != nil {
		return nil, "", err
	}
	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("version_vector", string(vecJSON)); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// Upload creates or replaces a file by path in one request.
func (a *API) Upload(ctx context.Context, path, clientID string, vec vector.Vector, data []byte) (*engine.Result, error) {
	return a.syncRequest(ctx, http.MethodPost, "/files/upload", path, clientID, vec, data)
}

// Update replaces the content of a known file id.
func (a *API) Update(ctx context.Context, fileID, clientID string, vec vector.Vector, data []byte) (*engine.Result, error) {
	return a.syncRequest(ctx, http.MethodPut, "/files/"+fileID, "", clientID, vec, data)
}

func (a *API) syncRequest(ctx context.Context, method, urlPath, filePath, clientID string, vec vector.Vector, data []byte) (*engine.Result, error) {
	var contentType string
	makeBody := func() (io.Reader, error) {
		body, ct, err := syncForm(filePath, clientID, vec, data)
		contentType = ct
		return body, err
	}
	// Build once up front so contentType is known before the request.
	if _, err := makeBody(); err != nil {
		return nil, err
	}

	resp, err := a.do(ctx, method, urlPath, contentType, makeBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}

	var res engine.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Delete tombstones a file on the server.
func (a *API) Delete(ctx context.Context, fileID, clientID string, vec vector.Vector) (*engine.Result, error) {
	body := map[string]interface{}{"client_id": clientID, "version_vector": vec}
	var res engine.Result
	if err := a.doJSON(ctx, http.MethodDelete, "/files/"+fileID, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Metadata mirrors the server's download-planning response.
type Metadata struct {
	FileID                string        `json:"file_id"`
	FileName              string        `json:"file_name"`
	FileSize              int64         `json:"file_size"`
	Checksum              string        `json:"checksum"`
	Vector                vector.Vector `json:"version_vector"`
	SupportsRangeRequests bool          `json:"supports_range_requests"`
}

// GetMetadata fetches download metadata for a file.
func (a *API) GetMetadata(ctx context.Context, fileID string) (*Metadata, error) {
	var meta Metadata
	if err := a.doJSON(ctx, http.MethodGet, "/files/"+fileID+"/metadata", nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Download fetches the full current content of a file.
func (a *API) Download(ctx context.Context, fileID string) ([]byte, error) {
	path := "/files/" + fileID + "/download"
	resp, err := a.do(ctx, http.MethodGet, path, "", func() (io.Reader, error) { return nil, nil })
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	return io.ReadAll(resp.Body)
}

// ListVersions returns the version history of a file, newest first.
func (a *API) ListVersions(ctx context.Context, fileID string) ([]*models.FileVersion, error) {
	var versions []*models.FileVersion
	if err := a.doJSON(ctx, http.MethodGet, "/files/"+fileID+"/versions", nil, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

// InitiateChunked starts a chunked upload session.
func (a *API) InitiateChunked(ctx context.Context, req upload.InitiateRequest) (*upload.Snapshot, error) {
	var snap upload.Snapshot
	if err := a.doJSON(ctx, http.MethodPost, "/files/upload/initiate-chunked", req, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SendChunk uploads one chunk of a session. The snapshot of the final chunk
// carries the sync result.
func (a *API) SendChunk(ctx context.Context, sessionID string, index int, checksum string, data []byte) (*upload.Snapshot, error) {
	var contentType string
	makeBody := func() (io.Reader, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if err := mw.WriteField("session_id", sessionID); err != nil {
			return nil, err
		}
		if err := mw.WriteField("chunk_index", fmt.Sprintf("%d", index)); err != nil {
			return nil, err
		}
		if checksum != "" {
			if err := mw.WriteField("chunk_checksum", checksum); err != nil {
				return nil, err
			}
		}
		part, err := mw.CreateFormFile("chunk", "chunk")
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(data); err != nil {
			return nil, err
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
		contentType = mw.FormDataContentType()
		return &buf, nil
	}
	if _, err := makeBody(); err != nil {
		return nil, err
	}

	resp, err := a.do(ctx, http.MethodPost, "/files/upload/chunk", contentType, makeBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}

	var snap upload.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// CancelUpload abandons a chunked upload session.
func (a *API) CancelUpload(ctx context.Context, sessionID string) error {
	return a.doJSON(ctx, http.MethodDelete, "/files/upload/cancel/"+sessionID, nil, nil)
}

// UploadStatus fetches the snapshot of a session.
func (a *API) UploadStatus(ctx context.Context, sessionID string) (*upload.Snapshot, error) {
	var snap upload.Snapshot
	if err := a.doJSON(ctx, http.MethodGet, "/files/upload/status/"+sessionID, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
