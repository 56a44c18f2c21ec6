// Package httpapi serves the localhost control API used by UI surfaces to
// list tools, start and stop sessions and follow state changes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/booltox/toolhost/internal/broadcast"
	"github.com/booltox/toolhost/internal/launcher"
	"github.com/booltox/toolhost/internal/observability"
	"github.com/booltox/toolhost/internal/registry"
	"github.com/booltox/toolhost/internal/supervisor"
)

const defaultHeartbeat = 30 * time.Second

// ToolRegistry is the registry surface the API needs.
type ToolRegistry interface {
	List() []*registry.Tool
	Get(id string) (*registry.Tool, error)
	Rescan() registry.ScanResult
	Rejections() []registry.Rejection
}

// SessionController is the supervisor surface the API needs.
type SessionController interface {
	Start(ctx context.Context, toolID, surface string) (int, error)
	Stop(ctx context.Context, toolID, surface string) error
	Focus(ctx context.Context, toolID string) error
	Sessions(ctx context.Context) ([]supervisor.SessionInfo, error)
}

// EventSource hands out state event streams.
type EventSource interface {
	Subscribe(surface string, visible bool) (<-chan broadcast.Event, func())
	Observe() (<-chan broadcast.Event, func())
}

// Response is the envelope of every JSON reply.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Server provides the control API on a chi router.
type Server struct {
	registry      ToolRegistry
	sessions      SessionController
	events        EventSource
	logger        *zap.SugaredLogger
	router        *chi.Mux
	observability *observability.Manager
	heartbeat     time.Duration
}

// NewServer creates the API server and its routes.
func NewServer(reg ToolRegistry, sessions SessionController, events EventSource, logger *zap.SugaredLogger, obs *observability.Manager) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if obs == nil {
		obs = observability.NewNopManager()
	}
	s := &Server{
		registry:      reg,
		sessions:      sessions,
		events:        events,
		logger:        logger,
		router:        chi.NewRouter(),
		observability: obs,
		heartbeat:     defaultHeartbeat,
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.router.Use(s.observability.HTTPMiddleware())
	s.router.Use(middleware.RequestID)
	s.router.Use(s.loggingMiddleware())
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.observability.Health().HealthzHandler())
	if h := s.observability.MetricsHandler(); h != nil {
		s.router.Handle("/metrics", h)
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/tools", s.handleListTools)
		r.Post("/tools/rescan", s.handleRescan)
		r.Route("/tools/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetTool)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/focus", s.handleFocus)
		})
		r.Get("/sessions", s.handleSessions)
		r.Get("/events", s.handleEvents)
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	tools := s.registry.List()
	views := make([]toolView, 0, len(tools))
	for _, t := range tools {
		views = append(views, newToolView(t))
	}
	s.writeSuccess(w, map[string]interface{}{
		"tools":    views,
		"rejected": rejectionViews(s.registry.Rejections()),
	})
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	t, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeSuccess(w, newToolView(t))
}

func (s *Server) handleRescan(w http.ResponseWriter, _ *http.Request) {
	res := s.registry.Rescan()
	s.writeSuccess(w, map[string]interface{}{
		"loaded":   res.Loaded,
		"rejected": rejectionViews(res.Rejected),
		"by_kind":  res.ByKind,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pid, err := s.sessions.Start(r.Context(), id, r.URL.Query().Get("surface"))
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeSuccess(w, map[string]interface{}{"toolId": id, "pid": pid})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Stop(r.Context(), id, r.URL.Query().Get("surface")); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeSuccess(w, map[string]interface{}{"toolId": id})
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Focus(r.Context(), id); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeSuccess(w, map[string]interface{}{"toolId": id})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := s.sessions.Sessions(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeSuccess(w, infos)
}

// statusFor maps supervisor and launcher errors to HTTP statuses.
func statusFor(err error) int {
	var le *launcher.LaunchError
	switch {
	case errors.Is(err, supervisor.ErrToolNotFound), errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrSessionStopped):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &le):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorw("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, Response{Success: false, Error: message})
}

func (s *Server) writeSuccess(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func (s *Server) loggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			s.logger.Debugw("HTTP API request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
