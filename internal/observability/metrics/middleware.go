package metrics

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"time"
)

// StatusRecorder wraps an http.ResponseWriter so middleware can read the
// status code a handler wrote. Responses here are JSON or the metrics text
// page; Flusher, Hijacker, and ReaderFrom pass through for the handful of
// paths that stream.
type StatusRecorder struct {
	http.ResponseWriter
	status int
}

// NewStatusRecorder wraps w. The status defaults to 200 OK for handlers that
// never call WriteHeader.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, status: http.StatusOK}
}

// Status reports the last status code written.
func (sr *StatusRecorder) Status() int {
	return sr.status
}

func (sr *StatusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *StatusRecorder) Flush() {
	if flusher, ok := sr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (sr *StatusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (sr *StatusRecorder) ReadFrom(r io.Reader) (int64, error) {
	if readerFrom, ok := sr.ResponseWriter.(io.ReaderFrom); ok {
		return readerFrom.ReadFrom(r)
	}
	return io.Copy(sr.ResponseWriter, r)
}

// HTTPMiddleware counts every request by method, normalized path, and status
// on recorder, falling back to the process-wide default when recorder is nil.
func HTTPMiddleware(recorder *Recorder, next http.Handler) http.Handler {
	rec := recorder
	if rec == nil {
		rec = Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := NewStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(sr, r)
		rec.ObserveRequest(r.Method, r.URL.Path, sr.Status(), time.Since(start))
	})
}
