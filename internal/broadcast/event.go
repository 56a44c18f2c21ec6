// Package broadcast routes session state changes to the UI surfaces that
// care about them.
package broadcast

import "time"

// Status is the externally visible session state.
type Status string

const (
	StatusLaunching Status = "launching"
	StatusRunning   Status = "running"
	StatusError     Status = "error"
	StatusStopping  Status = "stopping"
	StatusStopped   Status = "stopped"
)

// Extra carries launcher-specific detail. Zero fields are omitted on the wire.
type Extra struct {
	PID      int    `json:"pid,omitempty"`
	URL      string `json:"url,omitempty"`
	External bool   `json:"external,omitempty"`
	Focused  bool   `json:"focused,omitempty"`
	Launcher bool   `json:"launcher,omitempty"`
	Message  string `json:"message,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
}

// Event is one state change of a tool session.
type Event struct {
	ID        string    `json:"id"`
	ToolID    string    `json:"toolId"`
	Status    Status    `json:"status"`
	Mode      string    `json:"mode"`
	Timestamp time.Time `json:"timestamp"`
	Extra

	// Surface is the UI surface that most recently started the session.
	Surface string `json:"-"`
}

// Broadcaster receives every state change the supervisor produces.
type Broadcaster interface {
	Emit(ev Event)
}

// Func adapts a plain function to a Broadcaster.
type Func func(ev Event)

// Emit calls f(ev).
func (f Func) Emit(ev Event) { f(ev) }

// Nop discards events.
var Nop Broadcaster = Func(func(Event) {})
