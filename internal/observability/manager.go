package observability

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/booltox/toolhost/internal/config"
)

// Launch result labels
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Manager coordinates health checks, metrics and tracing. Every method is
// safe to call on a Manager whose metrics or tracing are disabled.
type Manager struct {
	logger  *zap.SugaredLogger
	health  *HealthManager
	metrics *MetricsManager
	tracing *TracingManager

	startTime time.Time
}

// NewManager creates a new observability manager
func NewManager(logger *zap.SugaredLogger, cfg *config.Config, version string) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	m := &Manager{
		logger:    logger,
		health:    NewHealthManager(logger),
		startTime: time.Now(),
	}

	if cfg.Metrics.Enabled {
		m.metrics = NewMetricsManager(logger)
		logger.Info("Prometheus metrics enabled")
	}

	tracing, err := NewTracingManager(logger, TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	m.tracing = tracing

	return m, nil
}

// NewNopManager returns a manager with everything disabled.
func NewNopManager() *Manager {
	return &Manager{
		logger:    zap.NewNop().Sugar(),
		health:    NewHealthManager(nil),
		tracing:   &TracingManager{},
		startTime: time.Now(),
	}
}

// Health returns the health manager
func (m *Manager) Health() *HealthManager { return m.health }

// Metrics returns the metrics manager, nil when disabled
func (m *Manager) Metrics() *MetricsManager { return m.metrics }

// Tracing returns the tracing manager
func (m *Manager) Tracing() *TracingManager { return m.tracing }

// RegisterHealthChecker registers a health checker
func (m *Manager) RegisterHealthChecker(checker HealthChecker) {
	m.health.AddHealthChecker(checker)
}

// MetricsHandler serves /metrics, or nil when metrics are disabled.
func (m *Manager) MetricsHandler() http.Handler {
	if m.metrics == nil {
		return nil
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.metrics.SetUptime(m.startTime)
		m.metrics.Handler().ServeHTTP(w, r)
	})
}

// HTTPMiddleware returns combined HTTP middleware for observability
func (m *Manager) HTTPMiddleware() func(http.Handler) http.Handler {
	var middlewares []func(http.Handler) http.Handler
	if m.metrics != nil {
		middlewares = append(middlewares, m.metrics.HTTPMiddleware())
	}
	if m.tracing.IsEnabled() {
		middlewares = append(middlewares, m.tracing.HTTPMiddleware())
	}

	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// RecordScan records a registry scan.
func (m *Manager) RecordScan(byKind map[string]int, rejected int, duration time.Duration) {
	if m.metrics != nil {
		m.metrics.RecordScan(byKind, rejected, duration)
	}
}

// RecordLaunch records a finished launch.
func (m *Manager) RecordLaunch(kind string, duration time.Duration, err error) {
	if m.metrics == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.metrics.RecordLaunch(kind, result, duration)
}

// RecordDedupedStart counts a start that joined an in-flight launch.
func (m *Manager) RecordDedupedStart() {
	if m.metrics != nil {
		m.metrics.RecordDedupedStart()
	}
}

// SetActiveSessions sets the live session gauge.
func (m *Manager) SetActiveSessions(n int) {
	if m.metrics != nil {
		m.metrics.SetActiveSessions(n)
	}
}

// RecordStateEvent counts a broadcast state event.
func (m *Manager) RecordStateEvent(status string) {
	if m.metrics != nil {
		m.metrics.RecordStateEvent(status)
	}
}

// RecordProcessExit counts an unrequested process exit.
func (m *Manager) RecordProcessExit(kind string) {
	if m.metrics != nil {
		m.metrics.RecordProcessExit(kind)
	}
}

// Close gracefully shuts down observability components
func (m *Manager) Close(ctx context.Context) error {
	if err := m.tracing.Close(ctx); err != nil {
		m.logger.Errorw("Failed to close tracing manager", "error", err)
		return err
	}
	return nil
}
