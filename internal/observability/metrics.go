package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsManager manages Prometheus metrics
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	uptime       prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// Registry metrics
	toolsTotal     prometheus.Gauge
	scanRejections prometheus.Counter
	scanDuration   prometheus.Histogram
	toolsByKind    *prometheus.GaugeVec

	// Supervisor metrics
	launches       *prometheus.CounterVec
	launchDuration *prometheus.HistogramVec
	sessionsActive prometheus.Gauge
	stateEvents    *prometheus.CounterVec
	processExits   *prometheus.CounterVec
	dedupedStarts  prometheus.Counter
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	mm := &MetricsManager{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	mm.initMetrics()
	mm.registerMetrics()

	return mm
}

// initMetrics initializes all Prometheus metrics
func (mm *MetricsManager) initMetrics() {
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "toolhost_uptime_seconds",
		Help: "Time since the host started",
	})

	mm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolhost_http_requests_total",
			Help: "Total number of control API requests",
		},
		[]string{"method", "path", "status"},
	)

	mm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolhost_http_request_duration_seconds",
			Help:    "Control API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	mm.toolsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "toolhost_tools_total",
		Help: "Number of tools in the registry",
	})

	mm.toolsByKind = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "toolhost_tools_by_kind",
			Help: "Number of registered tools per runtime kind",
		},
		[]string{"kind"},
	)

	mm.scanRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "toolhost_manifest_rejections_total",
		Help: "Total number of tool manifests rejected during scans",
	})

	mm.scanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "toolhost_registry_scan_duration_seconds",
		Help:    "Time taken to scan all tool directories",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	mm.launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolhost_launches_total",
			Help: "Total number of tool launches",
		},
		[]string{"kind", "result"}, // result: success, error
	)

	mm.launchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolhost_launch_duration_seconds",
			Help:    "Time from launch dispatch to running or error",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"kind", "result"},
	)

	mm.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "toolhost_sessions_active",
		Help: "Number of live tool sessions",
	})

	mm.stateEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolhost_state_events_total",
			Help: "Total number of session state events broadcast",
		},
		[]string{"status"},
	)

	mm.processExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolhost_process_exits_total",
			Help: "Total number of tool processes that exited on their own",
		},
		[]string{"kind"},
	)

	mm.dedupedStarts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "toolhost_deduplicated_starts_total",
		Help: "Starts that joined an in-flight launch instead of spawning",
	})
}

// registerMetrics registers all metrics with the registry
func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.httpRequests,
		mm.httpDuration,
		mm.toolsTotal,
		mm.toolsByKind,
		mm.scanRejections,
		mm.scanDuration,
		mm.launches,
		mm.launchDuration,
		mm.sessionsActive,
		mm.stateEvents,
		mm.processExits,
		mm.dedupedStarts,
	)

	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry for custom metrics
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// SetUptime sets the uptime metric
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// RecordHTTPRequest records a control API request
func (mm *MetricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	mm.httpRequests.WithLabelValues(method, path, status).Inc()
	mm.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordScan records the outcome of a registry scan.
func (mm *MetricsManager) RecordScan(byKind map[string]int, rejected int, duration time.Duration) {
	total := 0
	mm.toolsByKind.Reset()
	for kind, n := range byKind {
		mm.toolsByKind.WithLabelValues(kind).Set(float64(n))
		total += n
	}
	mm.toolsTotal.Set(float64(total))
	mm.scanRejections.Add(float64(rejected))
	mm.scanDuration.Observe(duration.Seconds())
}

// RecordLaunch records a finished launch attempt.
func (mm *MetricsManager) RecordLaunch(kind, result string, duration time.Duration) {
	mm.launches.WithLabelValues(kind, result).Inc()
	mm.launchDuration.WithLabelValues(kind, result).Observe(duration.Seconds())
}

// RecordDedupedStart counts a start that joined an in-flight launch.
func (mm *MetricsManager) RecordDedupedStart() {
	mm.dedupedStarts.Inc()
}

// SetActiveSessions sets the live session count.
func (mm *MetricsManager) SetActiveSessions(n int) {
	mm.sessionsActive.Set(float64(n))
}

// RecordStateEvent counts a broadcast state event.
func (mm *MetricsManager) RecordStateEvent(status string) {
	mm.stateEvents.WithLabelValues(status).Inc()
}

// RecordProcessExit counts an exit the supervisor did not ask for.
func (mm *MetricsManager) RecordProcessExit(kind string) {
	mm.processExits.WithLabelValues(kind).Inc()
}

// HTTPMiddleware returns middleware that records HTTP metrics
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)
			mm.RecordHTTPRequest(r.Method, routePattern(r), http.StatusText(ww.statusCode), time.Since(start))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers behind the middleware flush.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
