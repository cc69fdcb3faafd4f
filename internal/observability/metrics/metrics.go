package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP requests,
// catalog lifecycle events, media store operations, and authentication
// activity. It coordinates concurrent writers via a RWMutex while exposing a
// thread-safe gauge for in-flight upload tracking.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	videoEvents     map[string]uint64
	videoViews      atomic.Uint64
	mediaAttempts   map[string]uint64
	mediaFailures   map[string]uint64
	authEvents      map[string]uint64
	healthValue     map[string]float64
	healthState     map[string]string
	activeUploads   atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers can
// immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		videoEvents:     make(map[string]uint64),
		mediaAttempts:   make(map[string]uint64),
		mediaFailures:   make(map[string]uint64),
		authEvents:      make(map[string]uint64),
		healthValue:     make(map[string]float64),
		healthState:     make(map[string]string),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveVideoEvent records a catalog lifecycle event keyed by type
// (e.g., "published", "updated", "deleted", "publish_toggled").
func (r *Recorder) ObserveVideoEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.videoEvents[normalized]++
	r.mu.Unlock()
}

// ObserveVideoView increments the total playback view counter.
func (r *Recorder) ObserveVideoView() {
	r.videoViews.Add(1)
}

// ObserveMediaOperation records an attempted media store operation keyed by
// operation name (e.g., "upload", "delete").
func (r *Recorder) ObserveMediaOperation(operation string) {
	op := normalizeName(operation)
	r.mu.Lock()
	r.mediaAttempts[op]++
	r.mu.Unlock()
}

// ObserveMediaFailure records a failed media store operation keyed by
// operation name. The caller should also record the attempt separately.
func (r *Recorder) ObserveMediaFailure(operation string) {
	op := normalizeName(operation)
	r.mu.Lock()
	r.mediaFailures[op]++
	r.mu.Unlock()
}

// ObserveAuthEvent records an authentication event for throughput monitoring
// (e.g., "signup", "login", "login_failed", "logout").
func (r *Recorder) ObserveAuthEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.authEvents[normalized]++
	r.mu.Unlock()
}

// UploadStarted increments the gauge of in-flight multipart uploads.
func (r *Recorder) UploadStarted() {
	r.activeUploads.Add(1)
}

// UploadFinished decrements the in-flight upload gauge, guarding against
// negative counts when concurrent updates race.
func (r *Recorder) UploadFinished() {
	r.decrementGauge(&r.activeUploads)
}

// ActiveUploads exposes the current gauge of in-flight multipart uploads.
func (r *Recorder) ActiveUploads() int64 {
	return r.activeUploads.Load()
}

// VideoViews exposes the total recorded playback views.
func (r *Recorder) VideoViews() uint64 {
	return r.videoViews.Load()
}

// SetComponentHealth normalizes component identifiers, maps status strings to
// numeric health values, and stores both representations for export.
func (r *Recorder) SetComponentHealth(component, status string) {
	normalizedComponent := normalizeName(component)
	normalizedStatus := strings.ToLower(strings.TrimSpace(status))
	value := 0.0
	switch normalizedStatus {
	case "ok", "healthy":
		value = 1
	case "disabled":
		value = 0
	default:
		value = -1
	}
	r.mu.Lock()
	r.healthValue[normalizedComponent] = value
	r.healthState[normalizedComponent] = normalizedStatus
	r.mu.Unlock()
}

// MediaCounts returns copies of media operation attempt and failure counters
// for testing and reporting purposes.
func (r *Recorder) MediaCounts() (attempts map[string]uint64, failures map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempts = make(map[string]uint64, len(r.mediaAttempts))
	for k, v := range r.mediaAttempts {
		attempts[k] = v
	}
	failures = make(map[string]uint64, len(r.mediaFailures))
	for k, v := range r.mediaFailures {
		failures[k] = v
	}
	return attempts, failures
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.videoEvents = make(map[string]uint64)
	r.mediaAttempts = make(map[string]uint64)
	r.mediaFailures = make(map[string]uint64)
	r.authEvents = make(map[string]uint64)
	r.healthValue = make(map[string]float64)
	r.healthState = make(map[string]string)
	r.videoViews.Store(0)
	r.activeUploads.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	videoEvents := r.sortedVideoEvents()
	mediaOperations := r.sortedMediaOperations()
	authEvents := r.sortedAuthEvents()
	components := r.sortedComponents()

	fmt.Fprintln(w, "# HELP clipvault_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE clipvault_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "clipvault_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP clipvault_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE clipvault_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "clipvault_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP clipvault_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE clipvault_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "clipvault_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP clipvault_video_events_total Catalog lifecycle events by type")
	fmt.Fprintln(w, "# TYPE clipvault_video_events_total counter")
	for _, event := range videoEvents {
		value := r.videoEvents[event]
		fmt.Fprintf(w, "clipvault_video_events_total{event=\"%s\"} %d\n", event, value)
	}

	fmt.Fprintln(w, "# HELP clipvault_video_views_total Total playback views recorded")
	fmt.Fprintln(w, "# TYPE clipvault_video_views_total counter")
	fmt.Fprintf(w, "clipvault_video_views_total %d\n", r.videoViews.Load())

	fmt.Fprintln(w, "# HELP clipvault_media_operations_total Media store operations attempted by action")
	fmt.Fprintln(w, "# TYPE clipvault_media_operations_total counter")
	for _, op := range mediaOperations {
		count := r.mediaAttempts[op]
		fmt.Fprintf(w, "clipvault_media_operations_total{operation=\"%s\"} %d\n", op, count)
	}

	fmt.Fprintln(w, "# HELP clipvault_media_failures_total Media store operation failures by action")
	fmt.Fprintln(w, "# TYPE clipvault_media_failures_total counter")
	for _, op := range mediaOperations {
		count := r.mediaFailures[op]
		fmt.Fprintf(w, "clipvault_media_failures_total{operation=\"%s\"} %d\n", op, count)
	}

	fmt.Fprintln(w, "# HELP clipvault_auth_events_total Authentication events by type")
	fmt.Fprintln(w, "# TYPE clipvault_auth_events_total counter")
	for _, event := range authEvents {
		count := r.authEvents[event]
		fmt.Fprintf(w, "clipvault_auth_events_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP clipvault_active_uploads Current number of in-flight multipart uploads")
	fmt.Fprintln(w, "# TYPE clipvault_active_uploads gauge")
	fmt.Fprintf(w, "clipvault_active_uploads %d\n", r.activeUploads.Load())

	fmt.Fprintln(w, "# HELP clipvault_component_health Health status reported by server dependencies (1=ok,0=disabled,-1=degraded)")
	fmt.Fprintln(w, "# TYPE clipvault_component_health gauge")
	for _, component := range components {
		value := r.healthValue[component]
		status := r.healthState[component]
		fmt.Fprintf(w, "clipvault_component_health{component=\"%s\",status=\"%s\"} %f\n", component, status, value)
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedVideoEvents() []string {
	events := make([]string, 0, len(r.videoEvents))
	for event := range r.videoEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func (r *Recorder) sortedMediaOperations() []string {
	seen := make(map[string]struct{}, len(r.mediaAttempts)+len(r.mediaFailures))
	for op := range r.mediaAttempts {
		seen[op] = struct{}{}
	}
	for op := range r.mediaFailures {
		seen[op] = struct{}{}
	}
	ops := make([]string, 0, len(seen))
	for op := range seen {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func (r *Recorder) sortedAuthEvents() []string {
	events := make([]string, 0, len(r.authEvents))
	for event := range r.authEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func (r *Recorder) sortedComponents() []string {
	components := make([]string, 0, len(r.healthValue))
	for component := range r.healthValue {
		components = append(components, component)
	}
	sort.Strings(components)
	return components
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveVideoEvent records a catalog lifecycle event on the default recorder.
func ObserveVideoEvent(event string) {
	defaultRecorder.ObserveVideoEvent(event)
}

// ObserveMediaOperation records a media operation attempt on the default recorder.
func ObserveMediaOperation(operation string) {
	defaultRecorder.ObserveMediaOperation(operation)
}

// ObserveMediaFailure records a media operation failure on the default recorder.
func ObserveMediaFailure(operation string) {
	defaultRecorder.ObserveMediaFailure(operation)
}

// SetComponentHealth updates component health on the default recorder.
func SetComponentHealth(component, status string) {
	defaultRecorder.SetComponentHealth(component, status)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
