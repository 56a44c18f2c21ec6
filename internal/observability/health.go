// Package observability provides health checks, metrics, and tracing for the
// tool host.
package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HealthChecker defines an interface for components that can report their health status
type HealthChecker interface {
	// HealthCheck returns nil if healthy, error if unhealthy
	HealthCheck(ctx context.Context) error
	// Name returns the name of the component being checked
	Name() string
}

// CheckFunc adapts a function to a HealthChecker.
type CheckFunc struct {
	name  string
	check func(ctx context.Context) error
}

// NewCheck returns a named health check.
func NewCheck(name string, check func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, check: check}
}

// Name implements HealthChecker.
func (c *CheckFunc) Name() string { return c.name }

// HealthCheck implements HealthChecker.
func (c *CheckFunc) HealthCheck(ctx context.Context) error { return c.check(ctx) }

// HealthStatus represents the health status of a component
type HealthStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "healthy" or "unhealthy"
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status     string         `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	Components []HealthStatus `json:"components"`
}

// HealthManager runs registered health checks
type HealthManager struct {
	logger   *zap.SugaredLogger
	checkers []HealthChecker
	timeout  time.Duration
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger *zap.SugaredLogger) *HealthManager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HealthManager{
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// AddHealthChecker registers a health checker
func (hm *HealthManager) AddHealthChecker(checker HealthChecker) {
	hm.checkers = append(hm.checkers, checker)
}

// SetTimeout sets the timeout for health checks
func (hm *HealthManager) SetTimeout(timeout time.Duration) {
	hm.timeout = timeout
}

// HealthzHandler returns an HTTP handler for the /healthz endpoint
func (hm *HealthManager) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), hm.timeout)
		defer cancel()

		response := hm.Check(ctx)
		statusCode := http.StatusOK
		if response.Status != "healthy" {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(response); err != nil {
			hm.logger.Errorw("Failed to encode health response", "error", err)
		}
	}
}

// Check runs every registered checker.
func (hm *HealthManager) Check(ctx context.Context) HealthResponse {
	response := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Components: make([]HealthStatus, 0, len(hm.checkers)),
	}

	for _, checker := range hm.checkers {
		start := time.Now()
		status := HealthStatus{Name: checker.Name(), Status: "healthy"}

		if err := checker.HealthCheck(ctx); err != nil {
			status.Status = "unhealthy"
			status.Error = err.Error()
			response.Status = "unhealthy"
			hm.logger.Warnw("Health check failed",
				"component", checker.Name(),
				"error", err)
		}

		status.Latency = time.Since(start).String()
		response.Components = append(response.Components, status)
	}

	return response
}
