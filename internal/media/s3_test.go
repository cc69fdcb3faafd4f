package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type memoryS3Server struct {
	mu       sync.Mutex
	objects  map[string]map[string][]byte
	requests []memoryS3Request
}

type memoryS3Request struct {
	Method        string
	Authorization string
	ContentSHA    string
	ContentLength int64
}

func newMemoryS3Server() *memoryS3Server {
	return &memoryS3Server{objects: make(map[string]map[string][]byte)}
}

func (m *memoryS3Server) addBucket(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[name]; !exists {
		m.objects[name] = make(map[string][]byte)
	}
}

func (m *memoryS3Server) getObject(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	objs, ok := m.objects[bucket]
	if !ok {
		return nil, false
	}
	data, ok := objs[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

func (m *memoryS3Server) lastRequest() memoryS3Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return memoryS3Request{}
	}
	return m.requests[len(m.requests)-1]
}

func (m *memoryS3Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		_ = r.Body.Close()
	}()
	bucket, key, err := parseS3Path(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusInternalServerError)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, memoryS3Request{
		Method:        r.Method,
		Authorization: r.Header.Get("Authorization"),
		ContentSHA:    r.Header.Get("X-Amz-Content-Sha256"),
		ContentLength: r.ContentLength,
	})
	bucketObjects, exists := m.objects[bucket]
	if !exists {
		http.Error(w, "bucket not found", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodPut:
		bucketObjects[key] = append([]byte(nil), body...)
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(bucketObjects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func parseS3Path(path string) (string, string, error) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "", "", fmt.Errorf("missing bucket")
	}
	parts := strings.SplitN(trimmed, "/", 2)
	bucket := parts[0]
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket")
	}
	return bucket, key, nil
}

func TestS3StoreUploadDelete(t *testing.T) {
	server := newMemoryS3Server()
	server.addBucket("clips")
	ts := httptest.NewServer(server)
	defer ts.Close()

	cfg := Config{
		Endpoint:       strings.TrimPrefix(ts.URL, "http://"),
		Region:         "us-east-1",
		AccessKey:      "AKIAEXAMPLE",
		SecretKey:      "secretKeyExample",
		Bucket:         "clips",
		UseSSL:         false,
		Prefix:         "uploads",
		PublicEndpoint: "https://cdn.example.com/content",
	}

	store := NewStore(cfg)
	if !store.Enabled() {
		t.Fatalf("expected configured store to be enabled, got %T", store)
	}

	ctx := context.Background()
	payload := []byte("video source data")
	obj, err := store.Upload(ctx, "videos/abc/source.mp4", "video/mp4", bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	expectedKey := "uploads/videos/abc/source.mp4"
	if obj.Key != expectedKey {
		t.Fatalf("expected key %s, got %s", expectedKey, obj.Key)
	}
	expectedURL := "https://cdn.example.com/content/" + expectedKey
	if obj.URL != expectedURL {
		t.Fatalf("expected url %s, got %s", expectedURL, obj.URL)
	}
	stored, ok := server.getObject("clips", expectedKey)
	if !ok {
		t.Fatalf("expected object %s to be stored", expectedKey)
	}
	if !bytes.Equal(stored, payload) {
		t.Fatalf("stored payload mismatch: got %q", stored)
	}
	uploadReq := server.lastRequest()
	if uploadReq.Method != http.MethodPut {
		t.Fatalf("expected PUT request, got %s", uploadReq.Method)
	}
	if uploadReq.Authorization == "" || !strings.Contains(uploadReq.Authorization, cfg.AccessKey) {
		t.Fatal("expected authorization header to include access key")
	}
	if uploadReq.ContentSHA != "UNSIGNED-PAYLOAD" {
		t.Fatalf("expected unsigned payload marker, got %q", uploadReq.ContentSHA)
	}
	if uploadReq.ContentLength != int64(len(payload)) {
		t.Fatalf("expected content length %d, got %d", len(payload), uploadReq.ContentLength)
	}

	if err := store.Delete(ctx, obj.Key); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, ok := server.getObject("clips", expectedKey); ok {
		t.Fatalf("expected object %s to be removed", expectedKey)
	}
	deleteReq := server.lastRequest()
	if deleteReq.Method != http.MethodDelete {
		t.Fatalf("expected DELETE request, got %s", deleteReq.Method)
	}
	if deleteReq.Authorization == "" || !strings.Contains(deleteReq.Authorization, cfg.AccessKey) {
		t.Fatal("expected delete request to include authorization header")
	}
}

func TestNewStoreWithoutEndpointIsNoop(t *testing.T) {
	store := NewStore(Config{Bucket: "clips"})
	if store.Enabled() {
		t.Fatal("expected store without endpoint to be disabled")
	}
	if _, err := store.Upload(context.Background(), "key", "video/mp4", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("noop upload returned error: %v", err)
	}
	if err := store.Delete(context.Background(), "key"); err != nil {
		t.Fatalf("noop delete returned error: %v", err)
	}
}

func TestObjectKeyLayout(t *testing.T) {
	if got := VideoKey("abc123", "Holiday Movie.MP4"); got != "videos/abc123/source.mp4" {
		t.Fatalf("unexpected video key %q", got)
	}
	if got := ThumbnailKey("abc123", "cover.png"); got != "videos/abc123/thumb.png" {
		t.Fatalf("unexpected thumbnail key %q", got)
	}
	if got := VideoKey("abc123", "no-extension"); got != "videos/abc123/source" {
		t.Fatalf("expected extension to be dropped, got %q", got)
	}
	if got := ThumbnailKey("abc123", "weird.$$$"); got != "videos/abc123/thumb" {
		t.Fatalf("expected unsafe extension to be dropped, got %q", got)
	}
}
