// Package secureenv builds the base environment tool processes start with.
package secureenv

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/booltox/toolhost/internal/config"
)

const (
	osWindows = "windows"
	osDarwin  = "darwin"
)

// DefaultAllowedVars lists the variables inherited when the host environment
// is filtered.
func DefaultAllowedVars(goos string) []string {
	vars := []string{
		"PATH", "HOME", "TMPDIR", "TEMP", "TMP", "SHELL", "TERM", "LANG",
		"USER", "USERNAME", "LC_*",
		"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY",
	}
	if goos == osWindows {
		return append(vars,
			"USERPROFILE", "APPDATA", "LOCALAPPDATA", "PROGRAMFILES",
			"SYSTEMROOT", "COMSPEC", "PATHEXT", "WINDIR")
	}
	return append(vars,
		"XDG_CONFIG_HOME", "XDG_DATA_HOME", "XDG_CACHE_HOME", "XDG_RUNTIME_DIR",
		"DISPLAY", "WAYLAND_DISPLAY", "DBUS_SESSION_BUS_ADDRESS")
}

// Manager filters the host environment and repairs a minimal PATH.
type Manager struct {
	cfg     config.EnvironmentConfig
	goos    string
	environ func() []string
	home    string
	exists  func(string) bool

	discovered []string
}

// NewManager creates a manager and discovers the tool directories present
// on this machine.
func NewManager(cfg config.EnvironmentConfig) *Manager {
	m := &Manager{
		cfg:     cfg,
		goos:    runtime.GOOS,
		environ: os.Environ,
		exists:  dirExists,
	}
	m.home, _ = os.UserHomeDir()
	if len(m.cfg.AllowedVars) == 0 {
		m.cfg.AllowedVars = DefaultAllowedVars(m.goos)
	}
	m.discovered = m.discoverPaths()
	return m
}

// Environ returns the environment a tool process starts from, before the
// tool's own variables are applied.
func (m *Manager) Environ() []string {
	var env []string
	for _, kv := range m.environ() {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		if m.cfg.InheritAll || m.isKeyAllowed(key) {
			env = append(env, kv)
		}
	}
	keys := make([]string, 0, len(m.cfg.Extra))
	for k := range m.cfg.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = setVar(env, k, m.cfg.Extra[k], m.goos == osWindows)
	}

	pathKey, current := lookupVar(env, "PATH", m.goos == osWindows)
	if pathKey == "" {
		pathKey = "PATH"
	}
	if enhanced := m.enhancePath(current); enhanced != current {
		env = setVar(env, pathKey, enhanced, m.goos == osWindows)
	}
	return env
}

// DiscoveredPaths returns the existing well-known tool directories.
func (m *Manager) DiscoveredPaths() []string {
	return append([]string(nil), m.discovered...)
}

func (m *Manager) discoverPaths() []string {
	var candidates []string
	if m.goos == osWindows {
		if fromRegistry := registryPaths(); len(fromRegistry) > 0 {
			candidates = fromRegistry
		} else {
			candidates = m.windowsCandidates()
		}
	} else {
		candidates = m.unixCandidates()
	}

	var found []string
	for _, p := range candidates {
		if m.exists(p) {
			found = append(found, p)
		}
	}
	return found
}

func (m *Manager) unixCandidates() []string {
	paths := []string{
		"/opt/homebrew/bin",
		"/usr/local/bin",
		"/usr/bin",
		"/bin",
		"/usr/local/sbin",
		"/usr/sbin",
		"/sbin",
	}
	if m.home != "" {
		paths = append(paths,
			filepath.Join(m.home, ".local", "bin"),
			filepath.Join(m.home, ".pyenv", "shims"),
			filepath.Join(m.home, ".volta", "bin"),
			filepath.Join(m.home, ".npm-global", "bin"),
		)
	}
	return paths
}

func (m *Manager) windowsCandidates() []string {
	paths := []string{
		`C:\Windows\System32`,
		`C:\Windows`,
		`C:\Program Files\nodejs`,
		`C:\Program Files\Git\cmd`,
	}
	if m.home != "" {
		for _, v := range []string{"313", "312", "311", "310"} {
			base := m.home + `\AppData\Local\Programs\Python\Python` + v
			paths = append(paths, base, base+`\Scripts`)
		}
		paths = append(paths,
			m.home+`\AppData\Roaming\npm`,
			m.home+`\scoop\shims`,
			m.home+`\.local\bin`,
		)
	}
	return paths
}

// enhancePath puts discovered directories in front of a PATH that looks
// like a launchd or service environment: two entries or fewer and none of
// the usual tool directories.
func (m *Manager) enhancePath(existing string) string {
	sep := ":"
	if m.goos == osWindows {
		sep = ";"
	}
	if existing == "" {
		return strings.Join(m.discovered, sep)
	}
	if !m.cfg.EnhancePath && m.goos != osWindows {
		return existing
	}

	parts := strings.Split(existing, sep)
	markers := []string{"/usr/local/bin", "/opt/homebrew/bin"}
	if m.goos == osWindows {
		markers = []string{`C:\Program Files\nodejs`}
	}
	have := make(map[string]bool, len(parts))
	for _, p := range parts {
		have[p] = true
	}
	for _, marker := range markers {
		if have[marker] {
			return existing
		}
	}
	if len(parts) > 2 {
		return existing
	}

	out := make([]string, 0, len(m.discovered)+len(parts))
	for _, d := range m.discovered {
		if !have[d] {
			out = append(out, d)
		}
	}
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

func (m *Manager) isKeyAllowed(key string) bool {
	if _, ok := m.cfg.Extra[key]; ok {
		return true
	}
	for _, allowed := range m.cfg.AllowedVars {
		if prefix, ok := strings.CutSuffix(allowed, "*"); ok {
			if strings.HasPrefix(key, prefix) {
				return true
			}
		} else if strings.EqualFold(allowed, key) {
			return true
		}
	}
	return false
}

func lookupVar(env []string, key string, foldCase bool) (string, string) {
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		if k == key || (foldCase && strings.EqualFold(k, key)) {
			return k, v
		}
	}
	return "", ""
}

func setVar(env []string, key, value string, foldCase bool) []string {
	for i, kv := range env {
		k, _, _ := strings.Cut(kv, "=")
		if k == key || (foldCase && strings.EqualFold(k, key)) {
			env[i] = k + "=" + value
			return env
		}
	}
	return append(env, key+"="+value)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
