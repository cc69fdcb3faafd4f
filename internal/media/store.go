// Package media stores uploaded video assets in S3-compatible object storage
// and derives metadata from them.
package media

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRequestTimeout = 60 * time.Second

// Config describes the S3-compatible endpoint assets are written to. An empty
// bucket or endpoint disables remote storage entirely.
type Config struct {
	Endpoint       string
	PublicEndpoint string
	Bucket         string
	Region         string
	AccessKey      string
	SecretKey      string
	Prefix         string
	UseSSL         bool
	RequestTimeout time.Duration
}

// Object identifies a stored asset and where clients can fetch it.
type Object struct {
	Key string
	URL string
}

// Store is the remote asset interface used by the upload and delete flows.
type Store interface {
	Enabled() bool
	Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) (Object, error)
	Delete(ctx context.Context, key string) error
}

// NoopStore satisfies Store while persisting nothing. It backs deployments
// without object storage and most tests.
type NoopStore struct{}

func (NoopStore) Enabled() bool { return false }

func (NoopStore) Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) (Object, error) {
	return Object{}, nil
}

func (NoopStore) Delete(ctx context.Context, key string) error {
	return nil
}

// NewStore builds a Store from cfg, falling back to NoopStore when the
// configuration does not name a usable endpoint and bucket.
func NewStore(cfg Config) Store {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	trimmedBucket := strings.TrimSpace(cfg.Bucket)
	trimmedEndpoint := strings.TrimSpace(cfg.Endpoint)
	if trimmedBucket == "" || trimmedEndpoint == "" {
		return NoopStore{}
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	endpoint := trimmedEndpoint
	if strings.Contains(endpoint, "://") {
		if parsed, err := url.Parse(endpoint); err == nil {
			endpoint = parsed.Host
		}
	}
	baseURL := &url.URL{Scheme: scheme, Host: endpoint}
	if baseURL.Host == "" {
		return NoopStore{}
	}
	sanitized := cfg
	sanitized.Bucket = trimmedBucket
	return &s3Store{
		cfg:        sanitized,
		endpoint:   baseURL,
		httpClient: &http.Client{Timeout: sanitized.RequestTimeout},
	}
}
