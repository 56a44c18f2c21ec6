package logs

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const appDirName = "toolhost"

// GetLogDir returns the standard log directory for the current OS:
// ~/Library/Logs/toolhost on macOS, %LOCALAPPDATA%\toolhost\logs on Windows
// and $XDG_STATE_HOME/toolhost/logs elsewhere.
func GetLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appDirName, "logs")
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Logs", appDirName)
	case "windows":
		base := os.Getenv("LOCALAPPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Local")
		}
		return filepath.Join(base, appDirName, "logs")
	default:
		state := os.Getenv("XDG_STATE_HOME")
		if state == "" {
			state = filepath.Join(home, ".local", "state")
		}
		return filepath.Join(state, appDirName, "logs")
	}
}

// LogFilePath returns the path of filename inside logDir (or the standard
// log directory when logDir is empty), creating the directory.
func LogFilePath(logDir, filename string) (string, error) {
	if logDir == "" {
		logDir = GetLogDir()
	}
	if strings.HasPrefix(logDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		logDir = filepath.Join(home, logDir[2:])
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(logDir, filename), nil
}

// ToolLogFileName is the per-tool output log name.
func ToolLogFileName(toolID string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' {
			return '_'
		}
		return r
	}, toolID)
	return "tool-" + safe + ".log"
}
