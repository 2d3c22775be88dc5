package transcript

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// HTTPOptions configures the request middleware
type HTTPOptions struct {
	// SkipPaths is a list of path prefixes that are not recorded, e.g. health checks
	SkipPaths []string
}

// Middleware records one entry per request served by next.
func Middleware(recorder Recorder, options HTTPOptions, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range options.SkipPaths {
			if prefix != "" && strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		start := time.Now()
		crw := &captureResponseWriter{ResponseWriter: w}

		next.ServeHTTP(crw, r)

		status := crw.statusCode
		if status == 0 {
			status = http.StatusOK
		}
		level := "INFO"
		if status >= http.StatusInternalServerError {
			level = "ERROR"
		} else if status >= http.StatusBadRequest {
			level = "WARN"
		}

		recorder.Record(Entry{
			Time:   start,
			Source: SourceHTTP,
			Level:  level,
			Text: fmt.Sprintf("%s %s -> %d (%s, %d bytes)",
				r.Method, r.URL.RequestURI(), status, time.Since(start).Round(time.Microsecond), crw.size),
		})
	})
}

// captureResponseWriter is a wrapper for http.ResponseWriter that remembers status and size
type captureResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

// WriteHeader implements http.ResponseWriter
func (crw *captureResponseWriter) WriteHeader(statusCode int) {
	if crw.wroteHeader {
		return
	}
	crw.wroteHeader = true
	crw.statusCode = statusCode
	crw.ResponseWriter.WriteHeader(statusCode)
}

// Write implements http.ResponseWriter
func (crw *captureResponseWriter) Write(b []byte) (int, error) {
	if !crw.wroteHeader {
		crw.WriteHeader(http.StatusOK)
	}
	n, err := crw.ResponseWriter.Write(b)
	crw.size += int64(n)
	return n, err
}

// Flush implements http.Flusher if the original response writer implements it
func (crw *captureResponseWriter) Flush() {
	if flusher, ok := crw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker if the original response writer implements it
func (crw *captureResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := crw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
}
