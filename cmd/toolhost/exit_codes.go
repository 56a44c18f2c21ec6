package main

import "github.com/booltox/toolhost/internal/cli/output"

// Exit codes
const (
	ExitCodeSuccess         = 0
	ExitCodeGeneralError    = 1
	ExitCodePortConflict    = 2
	ExitCodeDBLocked        = 3
	ExitCodeConfigError     = 4
	ExitCodeInvalidManifest = 5
	ExitCodeNotFound        = 6
)

// exitError carries the process exit code for err.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func (e *exitError) structuredCode() string {
	switch e.code {
	case ExitCodeConfigError:
		return output.ErrCodeConfigInvalid
	case ExitCodeInvalidManifest:
		return output.ErrCodeManifestInvalid
	case ExitCodeNotFound:
		return output.ErrCodeToolNotFound
	default:
		return output.ErrCodeOperationFailed
	}
}

func exitCodeDescription(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "Success"
	case ExitCodeGeneralError:
		return "General error"
	case ExitCodePortConflict:
		return "Port conflict - address already in use"
	case ExitCodeDBLocked:
		return "Database locked by another process"
	case ExitCodeConfigError:
		return "Configuration error"
	case ExitCodeInvalidManifest:
		return "Invalid tool manifest"
	case ExitCodeNotFound:
		return "Tool not found"
	default:
		return "Unknown error"
	}
}
