package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"clipvault/internal/auth"
	"clipvault/internal/media"
	"clipvault/internal/observability/metrics"
	"clipvault/internal/storage"
)

// Pinger reports whether an external dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Store    storage.Repository
	Sessions *auth.SessionManager
	Media    media.Store
	Logger   *slog.Logger
	Metrics  *metrics.Recorder

	RateLimiter Pinger

	SessionCookiePolicy SessionCookiePolicy

	// LenientThumbnailCleanup downgrades a failed removal of a replaced
	// thumbnail from a request error to a warning.
	LenientThumbnailCleanup bool
	// CountViews increments a video's view counter on each authenticated
	// fetch.
	CountViews bool

	UploadStagingDir string
	MaxUploadBytes   int64

	stagingDirOnce sync.Once
	stagingDir     string
}

func NewHandler(store storage.Repository, sessions *auth.SessionManager) *Handler {
	if sessions == nil {
		sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return &Handler{Store: store, Sessions: sessions, Media: media.NoopStore{}}
}

func (h *Handler) sessionManager() *auth.SessionManager {
	if h.Sessions == nil {
		h.Sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return h.Sessions
}

func (h *Handler) mediaStore() media.Store {
	if h.Media == nil {
		return media.NoopStore{}
	}
	return h.Media
}

func (h *Handler) metrics() *metrics.Recorder {
	if h.Metrics == nil {
		return metrics.Default()
	}
	return h.Metrics
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) componentHealth(ctx context.Context) ([]componentStatus, string, int) {
	overallStatus := "ok"
	statusCode := http.StatusOK
	recordComponent := func(component string, err error) componentStatus {
		status := "ok"
		message := ""
		if err != nil {
			status = "degraded"
			message = err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		h.metrics().SetComponentHealth(component, status)
		return componentStatus{Component: component, Status: status, Error: message}
	}

	components := make([]componentStatus, 0, 3)
	if h.Store != nil {
		components = append(components, recordComponent("datastore", h.Store.Ping(ctx)))
	}
	components = append(components, recordComponent("sessions", h.sessionManager().Ping(ctx)))
	if h.RateLimiter != nil {
		components = append(components, recordComponent("rate_limiter", h.RateLimiter.Ping(ctx)))
	}
	return components, overallStatus, statusCode
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	components, status, statusCode := h.componentHealth(r.Context())
	payload := map[string]any{
		"status":   status,
		"services": components,
	}
	writeJSON(w, statusCode, payload, status)
}
