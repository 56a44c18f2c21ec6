// Package manifest loads tool manifests from disk and turns them into typed,
// normalized descriptors the supervisor can launch.
package manifest

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"
)

// FileName is the manifest file looked up inside every tool directory.
const FileName = "manifest.json"

// LegacyFileName is accepted when FileName is absent.
const LegacyFileName = "booltox.json"

// DefaultHostProtocol is the protocol version spoken by this host.
const DefaultHostProtocol = "2.0.0"

// DefaultReadyTimeout applies to http-service runtimes that omit readyTimeout.
const DefaultReadyTimeout = 30 * time.Second

// RuntimeKind identifies one of the four supported launch methods.
type RuntimeKind string

const (
	KindStandalone  RuntimeKind = "standalone"
	KindBinary      RuntimeKind = "binary"
	KindHTTPService RuntimeKind = "http-service"
	KindCLI         RuntimeKind = "cli"
)

// Kinds lists every supported runtime kind.
var Kinds = []RuntimeKind{KindStandalone, KindBinary, KindHTTPService, KindCLI}

// BackendType selects how a backend entry is executed.
type BackendType string

const (
	BackendPython  BackendType = "python"
	BackendNode    BackendType = "node"
	BackendProcess BackendType = "process"
)

// Manifest is the immutable, normalized descriptor of a tool.
type Manifest struct {
	ID          string
	Name        string
	Version     string
	Description string
	Author      string
	Category    string
	Keywords    []string
	Main        string
	Protocol    string
	Permissions []string
	Runtime     RuntimeConfig
}

// Kind returns the runtime kind of the manifest.
func (m *Manifest) Kind() RuntimeKind {
	if m.Runtime == nil {
		return ""
	}
	return m.Runtime.Kind()
}

// RuntimeConfig is a sealed sum type: exactly one of *StandaloneRuntime,
// *BinaryRuntime, *HTTPServiceRuntime or *CLIRuntime.
type RuntimeConfig interface {
	Kind() RuntimeKind
	isRuntimeConfig()
}

// StandaloneRuntime runs an interpreter-managed entry that owns its own window.
type StandaloneRuntime struct {
	Entry        Entry
	Args         []string
	Env          map[string]string
	Requirements string
	PythonPath   []string
}

// BinaryRuntime runs a pre-built executable detached from the host.
type BinaryRuntime struct {
	Command             string
	Args                []string
	Env                 map[string]string
	Cwd                 string
	LocalExecutablePath string
}

// HTTPServiceRuntime runs a backend and opens its URL once it answers.
type HTTPServiceRuntime struct {
	Backend      Backend
	Path         string
	ReadyTimeout time.Duration
}

// CLIRuntime runs a command inside an OS terminal window.
type CLIRuntime struct {
	Backend  Backend
	Cwd      string
	Title    string
	KeepOpen bool
}

func (*StandaloneRuntime) Kind() RuntimeKind  { return KindStandalone }
func (*BinaryRuntime) Kind() RuntimeKind      { return KindBinary }
func (*HTTPServiceRuntime) Kind() RuntimeKind { return KindHTTPService }
func (*CLIRuntime) Kind() RuntimeKind         { return KindCLI }

func (*StandaloneRuntime) isRuntimeConfig()  {}
func (*BinaryRuntime) isRuntimeConfig()      {}
func (*HTTPServiceRuntime) isRuntimeConfig() {}
func (*CLIRuntime) isRuntimeConfig()         {}

// Backend describes the process behind an http-service or cli runtime.
type Backend struct {
	Type         BackendType
	Entry        Entry
	Args         []string
	Env          map[string]string
	Requirements string
	PythonPath   []string
	Port         int
	Host         string
}

// URLHost returns the host the backend listens on.
func (b Backend) URLHost() string {
	if b.Host == "" {
		return "127.0.0.1"
	}
	return b.Host
}

// Entry is an entry path that may differ per operating system. In JSON it is
// either a plain string or an object keyed by GOOS ("darwin", "windows", "linux").
type Entry struct {
	Default string
	PerOS   map[string]string
}

// NewEntry returns an entry that is the same on every platform.
func NewEntry(path string) Entry { return Entry{Default: path} }

// IsZero reports whether no entry was declared at all.
func (e Entry) IsZero() bool {
	return e.Default == "" && len(e.PerOS) == 0
}

// Resolve picks the entry for goos.
func (e Entry) Resolve(goos string) (string, error) {
	if e.Default != "" {
		return e.Default, nil
	}
	if p, ok := e.PerOS[goos]; ok && p != "" {
		return p, nil
	}
	platforms := make([]string, 0, len(e.PerOS))
	for k := range e.PerOS {
		platforms = append(platforms, k)
	}
	sort.Strings(platforms)
	return "", fmt.Errorf("no entry for platform %s (available: %s)", goos, strings.Join(platforms, ", "))
}

// Current resolves the entry for the running platform.
func (e Entry) Current() (string, error) {
	return e.Resolve(runtime.GOOS)
}

// UnmarshalJSON accepts a string or a per-platform object.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Default = s
		e.PerOS = nil
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("entry must be a string or an object keyed by platform")
	}
	e.Default = ""
	e.PerOS = m
	return nil
}

// MarshalJSON writes the entry back in the shape it was declared in.
func (e Entry) MarshalJSON() ([]byte, error) {
	if len(e.PerOS) > 0 {
		return json.Marshal(e.PerOS)
	}
	return json.Marshal(e.Default)
}
