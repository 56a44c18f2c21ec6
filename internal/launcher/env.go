package launcher

import (
	"os"
	"runtime"
	"sort"
	"strings"
)

// pythonEnv is the interpreter environment for a python child.
type pythonEnv struct {
	Interpreter string
	// VenvDir is empty when the tool has no virtual environment.
	VenvDir string
	// SearchPath entries follow the SDK path in PYTHONPATH, which replaces
	// any inherited value.
	SearchPath []string
}

// toolVars are the variables a tool's process needs on top of the host
// environment: its own overrides, the python search path when py is set, and
// its id.
func (o *Options) toolVars(toolID string, overrides map[string]string, py *pythonEnv) *envMap {
	vars := newEnvMap(nil, o.goos())

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vars.set(k, overrides[k])
	}

	if py != nil {
		if py.VenvDir != "" {
			vars.set("VIRTUAL_ENV", py.VenvDir)
		}
		var parts []string
		if o.SDKPath != "" {
			parts = append(parts, o.SDKPath)
		}
		parts = append(parts, py.SearchPath...)
		if len(parts) > 0 {
			vars.set("PYTHONPATH", strings.Join(parts, listSeparator(o.goos())))
		}
		vars.set("PYTHONUNBUFFERED", "1")
	}

	vars.set(PluginIDEnv, toolID)
	return vars
}

// buildEnv is the base environment with vars applied on top.
func (o *Options) buildEnv(vars *envMap) []string {
	base := os.Environ
	if o.Environ != nil {
		base = o.Environ
	}
	env := newEnvMap(base(), o.goos())
	for _, n := range vars.keys {
		env.set(vars.names[n], vars.values[n])
	}
	return env.list()
}

func listSeparator(goos string) string {
	if goos == "windows" {
		return ";"
	}
	return ":"
}

func (o *Options) goos() string {
	if o.GOOS != "" {
		return o.GOOS
	}
	return runtime.GOOS
}

// envMap keeps insertion order and, on Windows, treats keys case-insensitively.
type envMap struct {
	foldCase bool
	keys     []string
	values   map[string]string
	names    map[string]string
}

func newEnvMap(environ []string, goos string) *envMap {
	m := &envMap{
		foldCase: goos == "windows",
		values:   make(map[string]string, len(environ)),
		names:    make(map[string]string, len(environ)),
	}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m.set(k, v)
	}
	return m
}

func (m *envMap) norm(k string) string {
	if m.foldCase {
		return strings.ToUpper(k)
	}
	return k
}

func (m *envMap) get(k string) string {
	return m.values[m.norm(k)]
}

func (m *envMap) set(k, v string) {
	n := m.norm(k)
	if _, ok := m.values[n]; !ok {
		m.keys = append(m.keys, n)
		m.names[n] = k
	}
	m.values[n] = v
}

func (m *envMap) list() []string {
	out := make([]string, 0, len(m.keys))
	for _, n := range m.keys {
		out = append(out, m.names[n]+"="+m.values[n])
	}
	return out
}
