package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Prometheus metric names with the default namespace.
const (
	MetricRequestsTotal          = "loadgen_requests_total"
	MetricRequestDurationSeconds = "loadgen_request_duration_seconds"
	MetricFailuresTotal          = "loadgen_failures_total"
	MetricResponseBytesTotal     = "loadgen_response_bytes_total"
	MetricActiveUsers            = "loadgen_active_users"
	MetricTargetUsers            = "loadgen_target_users"
	MetricCurrentRPS             = "loadgen_current_rps"
	MetricSuccessRate            = "loadgen_success_rate"
)

// PrometheusExporter exposes run metrics on an HTTP endpoint.
// It implements Observer so it can be attached to a Collector.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type PrometheusExporter struct {
	mu sync.RWMutex

	config   PrometheusExporterConfig
	registry *prometheus.Registry

	requestsTotal          *prometheus.CounterVec
	requestDurationSeconds *prometheus.HistogramVec
	failuresTotal          *prometheus.CounterVec
	responseBytesTotal     prometheus.Counter
	activeUsers            prometheus.Gauge
	targetUsers            prometheus.Gauge
	currentRPS             prometheus.Gauge
	successRate            prometheus.Gauge

	server *http.Server
	ln     net.Listener

	running   bool
	lastError error
}

// PrometheusExporterConfig holds configuration for the Prometheus exporter.
type PrometheusExporterConfig struct {
	// Port is the HTTP port for the metrics endpoint. Default: 9090
	Port int

	// Path is the URL path for the metrics endpoint. Default: /metrics
	Path string

	// Namespace prefixes every metric name. Default: loadgen
	Namespace string

	// HistogramBuckets are the request duration buckets in seconds.
	// Default: prometheus.DefBuckets
	HistogramBuckets []float64
}

// DefaultPrometheusExporterConfig returns default configuration.
func DefaultPrometheusExporterConfig() PrometheusExporterConfig {
	return PrometheusExporterConfig{
		Port:             9090,
		Path:             "/metrics",
		Namespace:        "loadgen",
		HistogramBuckets: prometheus.DefBuckets,
	}
}

// NewPrometheusExporter creates an exporter with its own registry.
func NewPrometheusExporter(config PrometheusExporterConfig) *PrometheusExporter {
	def := DefaultPrometheusExporterConfig()
	if config.Port == 0 {
		config.Port = def.Port
	}
	if config.Path == "" {
		config.Path = def.Path
	}
	if config.Namespace == "" {
		config.Namespace = def.Namespace
	}
	if len(config.HistogramBuckets) == 0 {
		config.HistogramBuckets = def.HistogramBuckets
	}

	e := &PrometheusExporter{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	e.initMetrics()
	return e
}

func (e *PrometheusExporter) initMetrics() {
	ns := e.config.Namespace

	e.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "requests_total",
			Help:      "Requests sent to the ingestion endpoint.",
		},
		[]string{"behavior", "status", "success"},
	)
	e.requestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "request_duration_seconds",
			Help:      "Request latency in seconds.",
			Buckets:   e.config.HistogramBuckets,
		},
		[]string{"behavior"},
	)
	e.failuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "failures_total",
			Help:      "Behaviors recorded as failed.",
		},
		[]string{"behavior"},
	)
	e.responseBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "response_bytes_total",
		Help:      "Response body bytes received.",
	})
	e.activeUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "active_users",
		Help:      "Simulated users currently running.",
	})
	e.targetUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "target_users",
		Help:      "Configured number of simulated users.",
	})
	e.currentRPS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "current_rps",
		Help:      "Average requests per second since the run started.",
	})
	e.successRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "success_rate",
		Help:      "Request success rate (0.0-100.0).",
	})

	e.registry.MustRegister(
		e.requestsTotal,
		e.requestDurationSeconds,
		e.failuresTotal,
		e.responseBytesTotal,
		e.activeUsers,
		e.targetUsers,
		e.currentRPS,
		e.successRate,
	)
}

// Handler returns the HTTP handler serving the metrics path and /health.
func (e *PrometheusExporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(e.config.Path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Start starts the HTTP server for the metrics endpoint.
func (e *PrometheusExporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", e.config.Port))
	if err != nil {
		return fmt.Errorf("starting Prometheus exporter: %w", err)
	}
	e.ln = ln
	e.server = &http.Server{
		Handler:           e.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.mu.Lock()
			e.lastError = err
			e.mu.Unlock()
		}
	}()

	e.running = true
	return nil
}

// Stop shuts the HTTP server down.
func (e *PrometheusExporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}
	e.running = false

	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

// Observe records a single behavior result.
func (e *PrometheusExporter) Observe(result Result) {
	e.requestsTotal.WithLabelValues(
		result.Name,
		strconv.Itoa(result.StatusCode),
		strconv.FormatBool(result.Success),
	).Inc()
	e.requestDurationSeconds.WithLabelValues(result.Name).Observe(result.Latency.Seconds())
	if !result.Success {
		e.failuresTotal.WithLabelValues(result.Name).Inc()
	}
	e.responseBytesTotal.Add(float64(result.ResponseSize))
}

// SetActiveUsers updates the running user gauge.
func (e *PrometheusExporter) SetActiveUsers(n int) {
	e.activeUsers.Set(float64(n))
}

// SetTargetUsers updates the configured user gauge.
func (e *PrometheusExporter) SetTargetUsers(n int) {
	e.targetUsers.Set(float64(n))
}

// UpdateFromSnapshot refreshes the derived gauges.
func (e *PrometheusExporter) UpdateFromSnapshot(snapshot Snapshot) {
	e.currentRPS.Set(snapshot.QPS)
	e.successRate.Set(snapshot.SuccessRate)
}

// GetAddress returns the scrape URL.
func (e *PrometheusExporter) GetAddress() string {
	return fmt.Sprintf("http://localhost:%d%s", e.config.Port, e.config.Path)
}

// IsRunning returns whether the exporter is serving.
func (e *PrometheusExporter) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// LastError returns the last error from the HTTP server, if any.
func (e *PrometheusExporter) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastError
}

// Gather collects all metric families from the exporter's registry.
func (e *PrometheusExporter) Gather() ([]*dto.MetricFamily, error) {
	return e.registry.Gather()
}
