package metrics

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

var defaultRegistry = prometheus.DefaultRegisterer

// Config holds metrics configuration.
type Config struct {
	// EnableServerLabel controls whether the numeric server id is attached
	// as a label. Disable on deployments with many shards to bound
	// cardinality.
	EnableServerLabel bool
}

// Metrics holds every Prometheus collector this binary exposes for the PIR
// core's operational surface: seed lifecycle, response latency, and queue
// health. It never touches query contents or indices — those are the data
// the protocol exists to hide.
type Metrics struct {
	config Config

	seedsVendedTotal    *prometheus.CounterVec
	preprocessRuns       *prometheus.CounterVec
	preprocessDuration   *prometheus.HistogramVec
	responsesTotal       *prometheus.CounterVec
	responseDuration     *prometheus.HistogramVec
	responseErrorsTotal  *prometheus.CounterVec
	queueDepth           *prometheus.GaugeVec
	queueUsedDepth       *prometheus.GaugeVec
	russiansEnabled      *prometheus.GaugeVec
	goroutines           prometheus.Gauge
	memoryAllocBytes     prometheus.Gauge
	memorySysBytes       prometheus.Gauge
}

// NewMetrics creates a new metrics instance with default configuration,
// registered against the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWithConfig(Config{EnableServerLabel: true})
}

// NewMetricsWithConfig creates a new metrics instance with the provided configuration.
func NewMetricsWithConfig(cfg Config) *Metrics {
	return newMetricsWithRegistry(defaultRegistry, cfg)
}

// NewMetricsWithRegistry creates a new metrics instance with a custom
// registry. Tests use this to avoid collector registration conflicts
// between cases sharing the default registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetricsWithRegistry(reg, Config{EnableServerLabel: true})
}

func newMetricsWithRegistry(reg prometheus.Registerer, cfg Config) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		config: cfg,
		seedsVendedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raidpir_seeds_vended_total",
				Help: "Total number of seeds vended by Server.Seed",
			},
			[]string{"server"},
		),
		preprocessRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raidpir_preprocess_runs_total",
				Help: "Total number of Server.Preprocess invocations",
			},
			[]string{"server"},
		),
		preprocessDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "raidpir_preprocess_duration_seconds",
				Help:    "Time spent filling the seed queue to QueueSize",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"server"},
		),
		responsesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raidpir_responses_total",
				Help: "Total number of Server.Response calls",
			},
			[]string{"server", "russians"},
		),
		responseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "raidpir_response_duration_seconds",
				Help:    "Online Server.Response latency in seconds",
				Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
			},
			[]string{"server", "russians"},
		),
		responseErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raidpir_response_errors_total",
				Help: "Total number of Server.Response errors, by error kind",
			},
			[]string{"server", "error_type"},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "raidpir_queue_depth",
				Help: "Number of preprocessed, not-yet-vended seeds",
			},
			[]string{"server"},
		),
		queueUsedDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "raidpir_queue_used_depth",
				Help: "Number of vended seeds awaiting a Response call",
			},
			[]string{"server"},
		),
		russiansEnabled: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "raidpir_russians_enabled",
				Help: "Whether the Four Russians table is enabled (1) or not (0)",
			},
			[]string{"server"},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "raidpir_goroutines",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "raidpir_memory_alloc_bytes",
				Help: "Number of bytes allocated and not yet freed",
			},
		),
		memorySysBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "raidpir_memory_sys_bytes",
				Help: "Total bytes of memory obtained from the OS",
			},
		),
	}
}

func (m *Metrics) serverLabel(id int) string {
	if !m.config.EnableServerLabel {
		return "*"
	}
	return strconv.Itoa(id)
}

// RecordSeedVended records one Server.Seed call for the given server id.
func (m *Metrics) RecordSeedVended(serverID int) {
	m.seedsVendedTotal.WithLabelValues(m.serverLabel(serverID)).Inc()
}

// RecordPreprocess records one Server.Preprocess run and how long it took
// to saturate the queue.
func (m *Metrics) RecordPreprocess(ctx context.Context, serverID int, duration time.Duration) {
	label := m.serverLabel(serverID)

	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.preprocessRuns.WithLabelValues(label).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
		} else {
			m.preprocessRuns.WithLabelValues(label).Inc()
		}
		if observer, ok := m.preprocessDuration.WithLabelValues(label).(prometheus.ExemplarObserver); ok {
			observer.ObserveWithExemplar(duration.Seconds(), exemplar)
		} else {
			m.preprocessDuration.WithLabelValues(label).Observe(duration.Seconds())
		}
		return
	}

	m.preprocessRuns.WithLabelValues(label).Inc()
	m.preprocessDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordResponse records one successful Server.Response call.
func (m *Metrics) RecordResponse(ctx context.Context, serverID int, usedRussians bool, duration time.Duration) {
	label := m.serverLabel(serverID)
	russiansLabel := "false"
	if usedRussians {
		russiansLabel = "true"
	}

	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.responsesTotal.WithLabelValues(label, russiansLabel).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
		} else {
			m.responsesTotal.WithLabelValues(label, russiansLabel).Inc()
		}
		if observer, ok := m.responseDuration.WithLabelValues(label, russiansLabel).(prometheus.ExemplarObserver); ok {
			observer.ObserveWithExemplar(duration.Seconds(), exemplar)
		} else {
			m.responseDuration.WithLabelValues(label, russiansLabel).Observe(duration.Seconds())
		}
		return
	}

	m.responsesTotal.WithLabelValues(label, russiansLabel).Inc()
	m.responseDuration.WithLabelValues(label, russiansLabel).Observe(duration.Seconds())
}

// RecordResponseError records a failed Server.Response call, tagged by the
// error kind (e.g. "unknown_seed", "query_shape").
func (m *Metrics) RecordResponseError(serverID int, errorType string) {
	m.responseErrorsTotal.WithLabelValues(m.serverLabel(serverID), errorType).Inc()
}

// SetQueueDepth reports the current size of the preprocessed seed queue.
func (m *Metrics) SetQueueDepth(serverID, depth int) {
	m.queueDepth.WithLabelValues(m.serverLabel(serverID)).Set(float64(depth))
}

// SetQueueUsedDepth reports the current size of the vended-but-unanswered
// seed set.
func (m *Metrics) SetQueueUsedDepth(serverID, depth int) {
	m.queueUsedDepth.WithLabelValues(m.serverLabel(serverID)).Set(float64(depth))
}

// SetRussiansEnabled records whether the given server was built with the
// Four Russians table.
func (m *Metrics) SetRussiansEnabled(serverID int, enabled bool) {
	val := 0.0
	if enabled {
		val = 1.0
	}
	m.russiansEnabled.WithLabelValues(m.serverLabel(serverID)).Set(val)
}

// UpdateSystemMetrics refreshes goroutine count and memory stats.
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.memorySysBytes.Set(float64(memStats.Sys))
}

// StartSystemMetricsCollector starts a goroutine that periodically updates
// system metrics until ctx is canceled.
func (m *Metrics) StartSystemMetricsCollector(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.UpdateSystemMetrics()
			}
		}
	}()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// getExemplar extracts a trace ID from ctx and returns it as Prometheus
// exemplar labels, or nil if ctx carries no valid span.
func getExemplar(ctx context.Context) prometheus.Labels {
	if ctx == nil {
		return nil
	}
	spanContext := trace.SpanFromContext(ctx).SpanContext()
	if spanContext.IsValid() {
		return prometheus.Labels{"trace_id": spanContext.TraceID().String()}
	}
	return nil
}
