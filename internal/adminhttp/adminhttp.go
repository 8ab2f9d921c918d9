// Package adminhttp serves the operational surface around a RAID-PIR
// server process: liveness/readiness/health checks and a Prometheus
// /metrics endpoint. It is adapted from the teacher's internal/api.Handler
// route-registration pattern (gorilla/mux, logging + recovery middleware)
// but carries none of the S3 object-routing handlers — there is no
// request/response payload here that isn't already covered by the PIR wire
// contract in spec.md §6, which this package never touches.
package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/raidpir/internal/hwinfo"
	"github.com/kenneth/raidpir/internal/metrics"
	"github.com/kenneth/raidpir/internal/middleware"
)

// QueueHealthChecker reports whether a server's preprocessing queue is
// healthy enough to serve requests. A closure over Server.QueueLen from the
// root package gives a trivial version of this (queue length > 0, as
// cmd/raidpir-server does); callers wire in whatever threshold they want.
type QueueHealthChecker func(ctx context.Context) error

// Handler wires the admin HTTP surface: health/ready/live checks plus a
// Prometheus scrape endpoint, behind request logging and panic recovery.
type Handler struct {
	metrics *metrics.Metrics
	logger  *logrus.Logger
	check   QueueHealthChecker
}

// NewHandler constructs an admin Handler. check may be nil, in which case
// /ready always reports ready.
func NewHandler(m *metrics.Metrics, logger *logrus.Logger, check QueueHealthChecker) *Handler {
	return &Handler{metrics: m, logger: logger, check: check}
}

// Router builds a *mux.Router exposing /health, /ready, /live, and /metrics,
// wrapped in request logging and panic recovery the same way the teacher's
// gateway wraps its S3 routes.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(h.logger))
	r.Use(middleware.RecoveryMiddleware(h.logger))

	r.HandleFunc("/health", metrics.HealthHandler()).Methods(http.MethodGet)
	r.HandleFunc("/ready", metrics.ReadinessHandler(h.check)).Methods(http.MethodGet)
	r.HandleFunc("/live", metrics.LivenessHandler()).Methods(http.MethodGet)
	r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/debug/hwinfo", hwinfoHandler).Methods(http.MethodGet)

	return r
}

// hwinfoHandler reports the CPU features the running process can exploit
// for the XOR hot path, so an operator can tell whether a shard deployed to
// an unfamiliar instance type is getting the vectorization bitops.XOR was
// designed to use.
func hwinfoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(hwinfo.Get())
}

// ListenAndServe starts an HTTP server on addr serving Router(). It blocks
// until the server stops or ctx is canceled, in which case it shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h *Handler) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: h.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}
