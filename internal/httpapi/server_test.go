package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/booltox/toolhost/internal/broadcast"
	"github.com/booltox/toolhost/internal/launcher"
	"github.com/booltox/toolhost/internal/manifest"
	"github.com/booltox/toolhost/internal/registry"
	"github.com/booltox/toolhost/internal/supervisor"
	"github.com/booltox/toolhost/internal/testutil"
)

type stubRegistry struct {
	tools    []*registry.Tool
	rejected []registry.Rejection
	rescans  int
}

func (r *stubRegistry) List() []*registry.Tool { return r.tools }

func (r *stubRegistry) Get(id string) (*registry.Tool, error) {
	for _, t := range r.tools {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, registry.ErrNotFound
}

func (r *stubRegistry) Rescan() registry.ScanResult {
	r.rescans++
	return registry.ScanResult{Loaded: len(r.tools), Rejected: r.rejected, ByKind: map[string]int{"http-service": 1}}
}

func (r *stubRegistry) Rejections() []registry.Rejection { return r.rejected }

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) Start(ctx context.Context, toolID, surface string) (int, error) {
	args := m.Called(ctx, toolID, surface)
	return args.Int(0), args.Error(1)
}

func (m *mockSessions) Stop(ctx context.Context, toolID, surface string) error {
	return m.Called(ctx, toolID, surface).Error(0)
}

func (m *mockSessions) Focus(ctx context.Context, toolID string) error {
	return m.Called(ctx, toolID).Error(0)
}

func (m *mockSessions) Sessions(ctx context.Context) ([]supervisor.SessionInfo, error) {
	args := m.Called(ctx)
	infos, _ := args.Get(0).([]supervisor.SessionInfo)
	return infos, args.Error(1)
}

func newTestServer(t *testing.T) (*Server, *stubRegistry, *mockSessions, *broadcast.Hub) {
	t.Helper()
	reg := &stubRegistry{
		tools: []*registry.Tool{{
			ID:   "com.example.notes",
			Path: "/tools/notes",
			Manifest: &manifest.Manifest{
				ID:       "com.example.notes",
				Name:     "Notes",
				Version:  "1.0.0",
				Protocol: "^2.0.0",
				Runtime: &manifest.HTTPServiceRuntime{
					Backend: manifest.Backend{Type: manifest.BackendPython, Entry: manifest.NewEntry("app.py"), Port: 8765},
				},
			},
			Status: broadcast.StatusStopped,
			Source: registry.SourceInstalled,
		}},
		rejected: []registry.Rejection{{
			Path: "/tools/broken",
			Err:  &manifest.Error{Path: "/tools/broken/manifest.json", Reason: manifest.ReasonMissingField},
		}},
	}
	sessions := &mockSessions{}
	hub := broadcast.NewHub(zaptest.NewLogger(t))
	srv := NewServer(reg, sessions, hub, zaptest.NewLogger(t).Sugar(), nil)
	return srv, reg, sessions, hub
}

func doRequest(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp Response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestListTools(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec, resp := doRequest(t, srv, http.MethodGet, "/api/v1/tools")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	tools := data["tools"].([]interface{})
	require.Len(t, tools, 1)
	tool := tools[0].(map[string]interface{})
	assert.Equal(t, "com.example.notes", tool["id"])
	assert.Equal(t, "http-service", tool["kind"])
	assert.Equal(t, float64(8765), tool["port"])

	rejected := data["rejected"].([]interface{})
	require.Len(t, rejected, 1)
	assert.Equal(t, "missing-field", rejected[0].(map[string]interface{})["reason"])
}

func TestGetTool(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec, resp := doRequest(t, srv, http.MethodGet, "/api/v1/tools/com.example.notes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Notes", resp.Data.(map[string]interface{})["name"])

	rec, resp = doRequest(t, srv, http.MethodGet, "/api/v1/tools/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestRescan(t *testing.T) {
	srv, reg, _, _ := newTestServer(t)

	rec, resp := doRequest(t, srv, http.MethodPost, "/api/v1/tools/rescan")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, reg.rescans)
	assert.Equal(t, float64(1), resp.Data.(map[string]interface{})["loaded"])
}

func TestStartPassesSurface(t *testing.T) {
	srv, _, sessions, _ := newTestServer(t)
	sessions.On("Start", mock.Anything, "com.example.notes", "main").Return(-1, nil)

	rec, resp := doRequest(t, srv, http.MethodPost, "/api/v1/tools/com.example.notes/start?surface=main")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(-1), resp.Data.(map[string]interface{})["pid"])
	sessions.AssertExpectations(t)
}

func TestStartErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown tool", supervisor.ErrToolNotFound, http.StatusNotFound},
		{"launch failure", &launcher.LaunchError{ToolID: "x", Reason: launcher.ReasonReadyTimeout}, http.StatusBadGateway},
		{"superseded", supervisor.ErrSessionStopped, http.StatusConflict},
		{"shutting down", supervisor.ErrClosed, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, sessions, _ := newTestServer(t)
			sessions.On("Start", mock.Anything, "x", "").Return(0, tt.err)

			rec, resp := doRequest(t, srv, http.MethodPost, "/api/v1/tools/x/start")
			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.err.Error(), resp.Error)
		})
	}
}

func TestStopAndFocus(t *testing.T) {
	srv, _, sessions, _ := newTestServer(t)
	sessions.On("Stop", mock.Anything, "com.example.notes", "main").Return(nil)
	sessions.On("Focus", mock.Anything, "com.example.notes").Return(supervisor.ErrNotRunning)

	rec, _ := doRequest(t, srv, http.MethodPost, "/api/v1/tools/com.example.notes/stop?surface=main")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doRequest(t, srv, http.MethodPost, "/api/v1/tools/com.example.notes/focus")
	assert.Equal(t, http.StatusConflict, rec.Code)
	sessions.AssertExpectations(t)
}

func TestSessions(t *testing.T) {
	srv, _, sessions, _ := newTestServer(t)
	sessions.On("Sessions", mock.Anything).Return([]supervisor.SessionInfo{{
		ID: "s1", ToolID: "com.example.notes", State: supervisor.StateRunning, RefCount: 2,
	}}, nil)

	rec, resp := doRequest(t, srv, http.MethodGet, "/api/v1/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	infos := resp.Data.([]interface{})
	require.Len(t, infos, 1)
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestEventsStreamDeliversSurfaceEvents(t *testing.T) {
	srv, _, _, hub := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events?surface=main&visible=true", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Headers arrive only after the subscription is registered.
	reader := testutil.NewSSEReader(resp.Body)
	defer reader.Close()

	hub.Emit(broadcast.Event{ToolID: "com.example.notes", Status: broadcast.StatusRunning, Mode: "http-service", Surface: "main"})

	sse, err := reader.Next("state", 5*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, sse.ID)
	data := sse.Data

	var ev broadcast.Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, "com.example.notes", ev.ToolID)
	assert.Equal(t, broadcast.StatusRunning, ev.Status)
	assert.Equal(t, sse.ID, ev.ID)
}
