package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// surfaceOf maps a request path onto a fixed label set so user-chosen
// paths cannot grow the series count.
func surfaceOf(path string) string {
	switch {
	case path == "/metrics", path == "/health":
		return ""
	case strings.HasPrefix(path, "/api/"):
		return "api"
	case strings.HasPrefix(path, "/auth/oauth/"):
		return "oauth"
	case strings.HasPrefix(path, "/auth/"):
		return "auth"
	default:
		return "other"
	}
}

// MetricsMiddleware observes latency and counts responses per surface.
// Scrapes and health checks are not counted.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			surface := surfaceOf(r.URL.Path)
			if surface == "" {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			began := time.Now()
			next.ServeHTTP(rec, r)

			metrics.RequestDuration.WithLabelValues(r.Method, surface).Observe(time.Since(began).Seconds())
			metrics.RequestsTotal.WithLabelValues(r.Method, surface, strconv.Itoa(rec.status)).Inc()
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.status, r.written = code, true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.written = true
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
