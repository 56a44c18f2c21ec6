package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/booltox/toolhost/internal/broadcast"
	"github.com/booltox/toolhost/internal/launcher"
	"github.com/booltox/toolhost/internal/manifest"
	"github.com/booltox/toolhost/internal/registry"
)

var (
	// ErrToolNotFound is returned by Start for ids the registry does not know.
	ErrToolNotFound = errors.New("tool not found")
	// ErrSessionStopped is returned to callers waiting on a launch whose
	// session was torn down before the launch finished.
	ErrSessionStopped = errors.New("session stopped before launch completed")
	// ErrNotRunning is returned by Focus when the tool has no running session.
	ErrNotRunning = errors.New("tool is not running")
	// ErrClosed is returned once the supervisor has shut down.
	ErrClosed = errors.New("supervisor closed")
)

// State is the lifecycle position of a live session. Sessions that are
// stopped or failed no longer exist.
type State string

const (
	StateLoading  State = "loading"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// SessionInfo is a read-only snapshot of one session.
type SessionInfo struct {
	ID        string               `json:"id"`
	ToolID    string               `json:"toolId"`
	Kind      manifest.RuntimeKind `json:"kind"`
	State     State                `json:"state"`
	RefCount  int                  `json:"refCount"`
	PID       int                  `json:"pid,omitempty"`
	URL       string               `json:"url,omitempty"`
	Detached  bool                 `json:"detached,omitempty"`
	Surface   string               `json:"surface,omitempty"`
	CreatedAt time.Time            `json:"createdAt"`
}

// Registry is the subset of the tool registry the supervisor reads and
// updates.
type Registry interface {
	Get(id string) (*registry.Tool, error)
	SetStatus(id string, status broadcast.Status)
}

// session is owned by the supervisor loop; nothing else touches it.
type session struct {
	id        string
	tool      *registry.Tool
	kind      manifest.RuntimeKind
	state     State
	refCount  int
	surface   string
	createdAt time.Time

	result *launcher.Result

	// Launch in flight.
	waiters      []chan startReply
	cancelLaunch context.CancelFunc
	launchedAt   time.Time

	// Pending teardown. gen tells a fired timer from a superseded one.
	teardown    *time.Timer
	teardownGen int

	release *time.Timer

	// stopWatch ends the exit watcher of the current process.
	stopWatch chan struct{}
}

func (s *session) info() SessionInfo {
	info := SessionInfo{
		ID:        s.id,
		ToolID:    s.tool.ID,
		Kind:      s.kind,
		State:     s.state,
		RefCount:  s.refCount,
		Surface:   s.surface,
		CreatedAt: s.createdAt,
	}
	if s.teardown != nil {
		info.State = StateStopping
	}
	if s.result != nil {
		info.PID = s.result.PID
		info.URL = s.result.URL
		info.Detached = s.result.Detached
	}
	return info
}

// launcherMode reports whether the supervisor does not own the tool's window
// and releases the session shortly after launch.
func (s *session) launcherMode() bool {
	return s.kind == manifest.KindBinary || s.kind == manifest.KindCLI
}
