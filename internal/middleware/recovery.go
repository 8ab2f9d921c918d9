package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoveryMiddleware recovers from panics in the admin HTTP surface and logs
// them with the request ID LoggingMiddleware assigned, so a panic can be
// correlated back to the request that triggered it.
func RecoveryMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.WithFields(logrus.Fields{
						"request_id": RequestID(r.Context()),
						"error":      err,
						"method":     r.Method,
						"path":       r.URL.Path,
						"stack":      string(debug.Stack()),
					}).Error("panic recovered")

					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
