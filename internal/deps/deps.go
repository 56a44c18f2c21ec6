// Package deps decides whether a tool's declared dependencies are installed
// and installs them into a per-tool environment.
package deps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"github.com/booltox/toolhost/internal/config"
	"github.com/booltox/toolhost/internal/storage"
)

const (
	nodeManifest    = "package.json"
	nodeModulesDir  = "node_modules"
	maxOutputLogged = 4096
)

// InstallResult is the outcome of an install attempt.
type InstallResult struct {
	Success   bool
	Cancelled bool
}

// MarkerStore persists what was installed per tool.
type MarkerStore interface {
	GetDepMarker(toolID string) (*storage.DepMarkerRecord, error)
	SaveDepMarker(marker *storage.DepMarkerRecord) error
}

// Runner executes an installer command in dir.
type Runner func(ctx context.Context, dir, name string, args ...string) error

// Manager checks and installs python requirements files and node packages.
type Manager struct {
	store        MarkerStore
	envDir       string
	interpreters config.InterpreterConfig
	logger       *zap.Logger
	goos         string
	run          Runner
}

// NewManager returns a Manager keeping virtual environments under envDir.
func NewManager(store MarkerStore, envDir string, interpreters config.InterpreterConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:        store,
		envDir:       envDir,
		interpreters: interpreters,
		logger:       logger,
		goos:         runtime.GOOS,
	}
	m.run = m.execRun
	return m
}

// WithRunner replaces the command runner.
func (m *Manager) WithRunner(run Runner) *Manager {
	m.run = run
	return m
}

// VenvDir is the virtual environment directory of a tool.
func VenvDir(envDir, toolID string) string {
	return filepath.Join(envDir, toolID)
}

// VenvPython is the interpreter inside a virtual environment.
func VenvPython(venvDir, goos string) string {
	if goos == "windows" {
		return filepath.Join(venvDir, "Scripts", "python.exe")
	}
	return filepath.Join(venvDir, "bin", "python")
}

// NeedsSetup implements the dependency-setup check.
func (m *Manager) NeedsSetup(_ context.Context, toolID, requirementsPath string) (bool, error) {
	if !exists(requirementsPath) {
		return false, nil
	}
	if isNodeManifest(requirementsPath) {
		return !exists(filepath.Join(filepath.Dir(requirementsPath), nodeModulesDir)), nil
	}

	if !exists(VenvPython(VenvDir(m.envDir, toolID), m.goos)) {
		return true, nil
	}
	marker, err := m.store.GetDepMarker(toolID)
	if err != nil {
		return false, fmt.Errorf("read install marker for %s: %w", toolID, err)
	}
	if marker == nil || marker.Interpreter != m.interpreters.Python {
		return true, nil
	}
	hash, err := HashFile(requirementsPath)
	if err != nil {
		return false, err
	}
	return hash != marker.RequirementsHash, nil
}

// Install implements the dependency installer.
func (m *Manager) Install(ctx context.Context, toolID, requirementsPath string) (InstallResult, error) {
	var err error
	if isNodeManifest(requirementsPath) {
		err = m.run(ctx, filepath.Dir(requirementsPath), m.npm(), "install")
	} else {
		err = m.installPython(ctx, toolID, requirementsPath)
	}

	if ctx.Err() != nil {
		m.logger.Info("Dependency install cancelled", zap.String("tool_id", toolID))
		return InstallResult{Cancelled: true}, nil
	}
	if err != nil {
		return InstallResult{}, err
	}
	m.logger.Info("Dependencies installed", zap.String("tool_id", toolID), zap.String("requirements", requirementsPath))
	return InstallResult{Success: true}, nil
}

func (m *Manager) installPython(ctx context.Context, toolID, requirementsPath string) error {
	venv := VenvDir(m.envDir, toolID)
	python := VenvPython(venv, m.goos)
	if !exists(python) {
		if err := os.MkdirAll(m.envDir, 0o755); err != nil {
			return fmt.Errorf("create env dir: %w", err)
		}
		if err := m.run(ctx, "", m.interpreters.Python, "-m", "venv", venv); err != nil {
			return fmt.Errorf("create virtual environment: %w", err)
		}
	}
	if err := m.run(ctx, filepath.Dir(requirementsPath), python, "-m", "pip", "install", "-r", requirementsPath); err != nil {
		return fmt.Errorf("pip install: %w", err)
	}

	hash, err := HashFile(requirementsPath)
	if err != nil {
		return err
	}
	return m.store.SaveDepMarker(&storage.DepMarkerRecord{
		ToolID:           toolID,
		RequirementsPath: requirementsPath,
		RequirementsHash: hash,
		Interpreter:      m.interpreters.Python,
	})
}

func (m *Manager) npm() string {
	if m.interpreters.NPM != "" {
		return m.interpreters.NPM
	}
	return "npm"
}

func (m *Manager) execRun(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	m.logger.Info("Running installer", zap.String("command", name), zap.Strings("args", args))
	out, err := cmd.CombinedOutput()
	if err != nil {
		if len(out) > maxOutputLogged {
			out = out[len(out)-maxOutputLogged:]
		}
		m.logger.Warn("Installer failed", zap.String("command", name), zap.String("output", strings.TrimSpace(string(out))), zap.Error(err))
		return err
	}
	return nil
}

// HashFile returns the hex sha256 of a file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func isNodeManifest(path string) bool {
	return filepath.Base(path) == nodeManifest
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
