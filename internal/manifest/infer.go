package manifest

import (
	"os"
	"path/filepath"
	"strings"
)

var guiKeywords = []string{"qt", "tkinter", "pyside", "pyqt", "electron", "gui", "window"}

const inferredRequirements = "requirements.txt"

// inferRuntime expands the simplified {start, port} shape into a full runtime
// declaration.
func inferRuntime(raw *rawManifest, toolDir string) *rawRuntime {
	start := strings.TrimSpace(raw.Start)
	backendType, entry, args := parseStart(start)

	requirements := ""
	if backendType == BackendPython && fileExists(filepath.Join(toolDir, inferredRequirements)) {
		requirements = inferredRequirements
	}

	if raw.Port != 0 {
		return &rawRuntime{
			Type: string(KindHTTPService),
			Backend: &rawBackend{
				Type:         string(backendType),
				Entry:        NewEntry(entry),
				Args:         args,
				Requirements: requirements,
				Port:         raw.Port,
				Host:         "127.0.0.1",
			},
			Path:         "/",
			ReadyTimeout: DefaultReadyTimeout.Milliseconds(),
		}
	}

	if isGUICommand(start) {
		return &rawRuntime{
			Type:         string(KindStandalone),
			Entry:        NewEntry(entry),
			Args:         args,
			Requirements: requirements,
		}
	}

	keepOpen := true
	return &rawRuntime{
		Type: string(KindCLI),
		Backend: &rawBackend{
			Type:         string(backendType),
			Entry:        NewEntry(entry),
			Args:         args,
			Requirements: requirements,
		},
		Title:    raw.Name,
		KeepOpen: &keepOpen,
	}
}

// parseStart splits a start command into backend type, entry and the
// arguments that follow the entry. Interpreter flags before the entry are
// dropped.
func parseStart(start string) (BackendType, string, []string) {
	parts := strings.Fields(start)
	if len(parts) == 0 {
		return BackendProcess, "", nil
	}
	cmd := strings.ToLower(filepath.Base(parts[0]))
	rest := parts[1:]

	switch {
	case strings.HasPrefix(cmd, "python"):
		entry, args := firstOperand(rest, "main.py")
		return BackendPython, entry, args
	case cmd == "node":
		entry, args := firstOperand(rest, "index.js")
		return BackendNode, entry, args
	case cmd == "npm" || cmd == "npx":
		// "npx tsx server.ts" -> server.ts; "npm start" has no script to point at.
		if len(rest) > 1 {
			entry, args := firstOperand(rest[1:], "index.js")
			return BackendNode, entry, args
		}
		return BackendNode, "index.js", nil
	default:
		return BackendProcess, parts[0], rest
	}
}

func firstOperand(args []string, fallback string) (string, []string) {
	for i, a := range args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		return a, args[i+1:]
	}
	return fallback, args
}

func isGUICommand(start string) bool {
	lower := strings.ToLower(start)
	for _, kw := range guiKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
