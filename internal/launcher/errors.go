package launcher

import (
	"fmt"

	"github.com/booltox/toolhost/internal/manifest"
)

// Reason classifies a launch failure.
type Reason string

const (
	ReasonMissingExecutable   Reason = "missing-executable"
	ReasonDependencyCancelled Reason = "dependency-cancelled"
	ReasonDependencyFailed    Reason = "dependency-failed"
	ReasonReadyTimeout        Reason = "ready-timeout"
	ReasonExitedEarly         Reason = "exited-early"
	ReasonSpawn               Reason = "spawn"
	ReasonUnsupportedBackend  Reason = "unsupported-backend"
	ReasonCancelled           Reason = "cancelled"
)

// LaunchError is returned when a tool could not be started.
type LaunchError struct {
	ToolID string
	Kind   manifest.RuntimeKind
	Reason Reason
	// Path names the file involved, if any.
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("launch %s failed (%s)", e.ToolID, e.Reason)
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LaunchError) Unwrap() error { return e.Err }

func launchErr(req Request, reason Reason, err error) *LaunchError {
	return &LaunchError{ToolID: req.ToolID, Kind: req.Manifest.Kind(), Reason: reason, Err: err}
}
