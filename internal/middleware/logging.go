package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type requestIDKey struct{}

// RequestID returns the request ID stashed in ctx by LoggingMiddleware, or
// "" if none is present (e.g. in a request that didn't pass through it).
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// LoggingMiddleware wraps handlers with request logging. It assigns each
// request a UUID, echoes it in the X-Request-Id response header, and logs
// it alongside the usual method/path/status/duration fields so a single
// admin-surface request (health, ready, metrics) can be correlated across
// log lines even though this surface never touches database contents.
func LoggingMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-Id")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", requestID)
			ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
			r = r.WithContext(ctx)

			var requestBytes int64
			if r.Method == http.MethodPut || r.Method == http.MethodPost {
				if contentLength := r.Header.Get("Content-Length"); contentLength != "" {
					if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
						requestBytes = size
					}
				}
			}

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start)

			bytesLogged := rw.bytesWritten
			if requestBytes > 0 {
				bytesLogged = requestBytes
			}

			logger.WithFields(logrus.Fields{
				"request_id":  requestID,
				"method":      r.Method,
				"path":        r.URL.Path,
				"query":       r.URL.RawQuery,
				"remote_addr": r.RemoteAddr,
				"user_agent":  r.UserAgent(),
				"status":      rw.statusCode,
				"duration_ms": duration.Milliseconds(),
				"bytes":       bytesLogged,
			}).Info("admin request")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and
// bytes written.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
