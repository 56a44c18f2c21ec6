package launcher

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const batchCleanupDelay = 5 * time.Second

// TerminalRequest describes a command to run in a new terminal window.
type TerminalRequest struct {
	Command string
	Args    []string
	Cwd     string
	// Env holds the tool's own variables; the terminal inherits the rest.
	Env      map[string]string
	EnvOrder []string
	Title    string
	KeepOpen bool
}

// TerminalLauncher opens an OS terminal window hosting a command.
type TerminalLauncher interface {
	Launch(req TerminalRequest) (Process, error)
}

// OSTerminal drives Terminal.app on macOS, cmd.exe on Windows and the first
// available terminal emulator on Linux.
type OSTerminal struct {
	spawner  Spawner
	logger   *zap.Logger
	goos     string
	lookPath func(string) (string, error)
	tempDir  string
}

// NewOSTerminal returns a terminal launcher for the running platform.
func NewOSTerminal(spawner Spawner, logger *zap.Logger) *OSTerminal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OSTerminal{
		spawner:  spawner,
		logger:   logger,
		goos:     runtime.GOOS,
		lookPath: exec.LookPath,
		tempDir:  os.TempDir(),
	}
}

// Launch implements TerminalLauncher.
func (t *OSTerminal) Launch(req TerminalRequest) (Process, error) {
	if req.Title == "" {
		req.Title = "Tool"
	}
	t.logger.Info("Opening terminal",
		zap.String("command", req.Command),
		zap.Strings("args", req.Args),
		zap.String("cwd", req.Cwd),
		zap.String("os", t.goos))

	switch t.goos {
	case "darwin":
		return t.spawner.Spawn(SpawnSpec{Path: "osascript", Args: []string{"-e", appleScript(req)}, Output: t.logger})
	case "windows":
		return t.launchWindows(req)
	case "linux", "freebsd", "openbsd", "netbsd":
		return t.launchLinux(req)
	default:
		return nil, fmt.Errorf("no terminal support on %s", t.goos)
	}
}

func (t *OSTerminal) launchLinux(req TerminalRequest) (Process, error) {
	script := shellScript(req)
	candidates := []struct {
		name string
		args []string
	}{
		{"gnome-terminal", []string{"--title", req.Title, "--", "bash", "-c", script}},
		{"konsole", []string{"-p", "tabtitle=" + req.Title, "-e", "bash", "-c", script}},
		{"xterm", []string{"-T", req.Title, "-e", "bash", "-c", script}},
		{"x-terminal-emulator", []string{"-e", "bash", "-c", script}},
	}
	for _, c := range candidates {
		path, err := t.lookPath(c.name)
		if err != nil {
			continue
		}
		return t.spawner.Spawn(SpawnSpec{Path: path, Args: c.args, Output: t.logger})
	}
	return nil, errors.New("no terminal emulator found (tried gnome-terminal, konsole, xterm, x-terminal-emulator)")
}

func (t *OSTerminal) launchWindows(req TerminalRequest) (Process, error) {
	var b strings.Builder
	b.WriteString("@echo off\r\nchcp 65001 >nul\r\n")
	fmt.Fprintf(&b, "title %s\r\n", req.Title)
	fmt.Fprintf(&b, "cd /d \"%s\"\r\n", req.Cwd)
	for _, k := range envKeys(req) {
		fmt.Fprintf(&b, "set \"%s=%s\"\r\n", k, req.Env[k])
	}
	b.WriteString(quoteAll(append([]string{req.Command}, req.Args...), func(s string) string { return `"` + s + `"` }))
	b.WriteString("\r\n")
	if req.KeepOpen {
		b.WriteString("pause\r\n")
	}

	f, err := os.CreateTemp(t.tempDir, "toolhost-*.bat")
	if err != nil {
		return nil, fmt.Errorf("create batch file: %w", err)
	}
	batch := f.Name()
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(batch)
		return nil, fmt.Errorf("write batch file: %w", err)
	}
	f.Close()

	proc, err := t.spawner.Spawn(SpawnSpec{
		Path: "cmd",
		// Empty first argument: start treats it as the window title, which
		// the batch file sets itself.
		Args: []string{"/c", "start", "", batch},
		Dir:  filepath.Dir(batch),
	})
	time.AfterFunc(batchCleanupDelay, func() {
		if rmErr := os.Remove(batch); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			t.logger.Debug("Failed to remove batch file", zap.String("path", batch), zap.Error(rmErr))
		}
	})
	return proc, err
}

// shellScript is the bash command line run inside a Linux terminal.
func shellScript(req TerminalRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "cd %s", shellQuote(req.Cwd))
	for _, k := range envKeys(req) {
		fmt.Fprintf(&b, " && export %s=%s", k, shellQuote(req.Env[k]))
	}
	b.WriteString(" && ")
	b.WriteString(quoteAll(append([]string{req.Command}, req.Args...), shellQuote))
	if req.KeepOpen {
		b.WriteString(`; echo; read -r -p "Press Enter to close..."`)
	}
	return b.String()
}

// appleScript tells Terminal.app to run the shell script in a new window.
func appleScript(req TerminalRequest) string {
	esc := func(s string) string {
		return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`)
	}
	script := shellScript(TerminalRequest{
		Command: req.Command, Args: req.Args, Cwd: req.Cwd,
		Env: req.Env, EnvOrder: req.EnvOrder,
	})
	if !req.KeepOpen {
		script += "; exit"
	}
	return fmt.Sprintf("tell application \"Terminal\"\n  activate\n  do script \"%s\"\n  set custom title of front window to \"%s\"\nend tell",
		esc(script), esc(req.Title))
}

func envKeys(req TerminalRequest) []string {
	if len(req.EnvOrder) > 0 {
		return req.EnvOrder
	}
	keys := make([]string, 0, len(req.Env))
	for k := range req.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func quoteAll(parts []string, quote func(string) string) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = quote(p)
	}
	return strings.Join(out, " ")
}
