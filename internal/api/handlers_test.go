package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"clipvault/internal/auth"
	"clipvault/internal/media"
	"clipvault/internal/models"
	"clipvault/internal/observability/metrics"
	"clipvault/internal/storage"
)

type fakeUpload struct {
	Key         string
	ContentType string
	Size        int64
	Body        []byte
}

type fakeMediaStore struct {
	mu        sync.Mutex
	uploads   []fakeUpload
	deletes   []string
	uploadErr error
	deleteErr error
	baseURL   string
}

func (f *fakeMediaStore) Enabled() bool { return true }

func (f *fakeMediaStore) Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) (media.Object, error) {
	payload, err := io.ReadAll(body)
	if err != nil {
		return media.Object{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return media.Object{}, f.uploadErr
	}
	f.uploads = append(f.uploads, fakeUpload{Key: key, ContentType: contentType, Size: size, Body: payload})
	return media.Object{Key: key, URL: f.baseURL + "/" + key}, nil
}

func (f *fakeMediaStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes = append(f.deletes, key)
	return nil
}

func (f *fakeMediaStore) deletedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

func (f *fakeMediaStore) uploadedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.uploads))
	for _, upload := range f.uploads {
		keys = append(keys, upload.Key)
	}
	return keys
}

func newTestHandler(t *testing.T) (*Handler, *fakeMediaStore) {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("create storage: %v", err)
	}
	fake := &fakeMediaStore{baseURL: "https://cdn.test"}
	handler := NewHandler(store, auth.NewSessionManager(time.Hour))
	handler.Media = fake
	handler.Metrics = metrics.New()
	handler.UploadStagingDir = t.TempDir()

	originalProbe := probeDuration
	probeDuration = func(ctx context.Context, path string) (float64, error) {
		return 42.5, nil
	}
	t.Cleanup(func() { probeDuration = originalProbe })
	return handler, fake
}

var testUserCounter int

func createTestUser(t *testing.T, h *Handler) models.User {
	t.Helper()
	testUserCounter++
	user, err := h.Store.CreateUser(storage.CreateUserParams{
		Username: fmt.Sprintf("creator%d", testUserCounter),
		Email:    fmt.Sprintf("creator%d@example.com", testUserCounter),
		Password: "correct horse battery",
		FullName: "Test Creator",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func authedRequest(user models.User, method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	return req.WithContext(ContextWithUser(req.Context(), user))
}

type testEnvelope struct {
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Success    bool            `json:"success"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %q)", err, rec.Body.String())
	}
	if env.StatusCode != rec.Code {
		t.Fatalf("envelope status %d does not match response status %d", env.StatusCode, rec.Code)
	}
	if env.Success != (rec.Code < http.StatusBadRequest) {
		t.Fatalf("envelope success flag %v inconsistent with status %d", env.Success, rec.Code)
	}
	return env
}

func decodeData(t *testing.T, env testEnvelope, dest any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dest); err != nil {
		t.Fatalf("decode envelope data: %v (data %q)", err, string(env.Data))
	}
}

type multipartBody struct {
	buf    bytes.Buffer
	writer *multipart.Writer
}

func newMultipartBody() *multipartBody {
	body := &multipartBody{}
	body.writer = multipart.NewWriter(&body.buf)
	return body
}

func (m *multipartBody) field(t *testing.T, name, value string) *multipartBody {
	t.Helper()
	if err := m.writer.WriteField(name, value); err != nil {
		t.Fatalf("write field %s: %v", name, err)
	}
	return m
}

func (m *multipartBody) file(t *testing.T, field, filename string, payload []byte) *multipartBody {
	t.Helper()
	part, err := m.writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file %s: %v", field, err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write form file %s: %v", field, err)
	}
	return m
}

func (m *multipartBody) request(t *testing.T, user models.User, method, target string) *http.Request {
	t.Helper()
	if err := m.writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := authedRequest(user, method, target, &m.buf)
	req.Header.Set("Content-Type", m.writer.FormDataContentType())
	return req
}

func publishTestVideo(t *testing.T, h *Handler, owner models.User, title string) videoResponse {
	t.Helper()
	req := newMultipartBody().
		field(t, "title", title).
		field(t, "description", "a description of "+title).
		file(t, "videoFile", "clip.mp4", []byte("video-bytes")).
		file(t, "thumbnail", "cover.jpg", []byte("thumb-bytes")).
		request(t, owner, http.MethodPost, "/api/videos/publish")
	rec := httptest.NewRecorder()
	h.PublishVideo(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("publish returned status %d: %s", rec.Code, rec.Body.String())
	}
	var video videoResponse
	decodeData(t, decodeEnvelope(t, rec), &video)
	return video
}

func TestHealthReportsComponents(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	var payload struct {
		Status   string `json:"status"`
		Services []struct {
			Component string `json:"component"`
			Status    string `json:"status"`
		} `json:"services"`
	}
	decodeData(t, env, &payload)
	if payload.Status != "ok" {
		t.Fatalf("expected ok status, got %q", payload.Status)
	}
	if len(payload.Services) == 0 {
		t.Fatal("expected at least one component check")
	}
}
