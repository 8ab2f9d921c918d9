package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus represents the health status of the service.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

var (
	startTime = time.Now()
	version   = "dev"
)

// SetVersion sets the application version.
func SetVersion(v string) {
	version = v
}

// HealthHandler returns a handler for health check endpoints.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{
			Status:    "healthy",
			Timestamp: time.Now(),
			Version:   version,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(status)
	}
}

// ReadinessHandler returns a handler for readiness checks. If queueHealthCheck
// is provided, it is consulted as part of readiness — the intended use is
// checking that every server's preprocessing queue is keeping up (non-empty,
// or refilling faster than it drains) rather than anything about the
// database contents or in-flight queries.
func ReadinessHandler(queueHealthCheck func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		status := HealthStatus{
			Status:    "ready",
			Timestamp: time.Now(),
			Version:   version,
		}

		if queueHealthCheck != nil {
			if err := queueHealthCheck(ctx); err != nil {
				status.Status = "not_ready"
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(status)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(status)
	}
}

// LivenessHandler returns a handler for liveness checks.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{
			Status:    "alive",
			Timestamp: time.Now(),
			Version:   version,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(status)
	}
}
