package http

import (
	"net/http"
	"strconv"
	"time"
)

// statusWriter captures the final status code and bytes written.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Write records an implicit 200 when the handler never called WriteHeader.
func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// instrument logs and counts every request, labelled by the matched route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}

		next.ServeHTTP(sw, r)

		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)

		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.RequestURI(),
			"route", route,
			"status", sw.status,
			"bytes", sw.bytes,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}
