package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LoadOptions tune manifest loading.
type LoadOptions struct {
	// HostProtocol is the protocol version the host speaks. Empty means
	// DefaultHostProtocol.
	HostProtocol string
}

func (o LoadOptions) hostProtocol() string {
	if o.HostProtocol == "" {
		return DefaultHostProtocol
	}
	return o.HostProtocol
}

type rawManifest struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Version     string      `json:"version"`
	Description string      `json:"description"`
	Author      string      `json:"author"`
	Category    string      `json:"category"`
	Keywords    []string    `json:"keywords"`
	Main        string      `json:"main"`
	Protocol    string      `json:"protocol"`
	Permissions []string    `json:"permissions"`
	Start       string      `json:"start"`
	Port        int         `json:"port"`
	Runtime     *rawRuntime `json:"runtime"`
}

type rawRuntime struct {
	Type                string            `json:"type"`
	Entry               Entry             `json:"entry"`
	Args                []string          `json:"args"`
	Env                 map[string]string `json:"env"`
	Requirements        string            `json:"requirements"`
	PythonPath          []string          `json:"pythonPath"`
	Command             string            `json:"command"`
	Cwd                 string            `json:"cwd"`
	LocalExecutablePath string            `json:"localExecutablePath"`
	Backend             *rawBackend       `json:"backend"`
	Path                string            `json:"path"`
	ReadyTimeout        int64             `json:"readyTimeout"`
	Title               string            `json:"title"`
	KeepOpen            *bool             `json:"keepOpen"`
}

type rawBackend struct {
	Type         string            `json:"type"`
	Entry        Entry             `json:"entry"`
	Args         []string          `json:"args"`
	Env          map[string]string `json:"env"`
	Requirements string            `json:"requirements"`
	PythonPath   []string          `json:"pythonPath"`
	Port         int               `json:"port"`
	Host         string            `json:"host"`
}

// Find returns the manifest file inside dir, preferring FileName.
func Find(dir string) (string, error) {
	for _, name := range []string{FileName, LegacyFileName} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no %s in %s: %w", FileName, dir, os.ErrNotExist)
}

// Load reads and normalizes the manifest at path. path may be the manifest
// file itself or the tool directory containing it.
func Load(path string, opts LoadOptions) (*Manifest, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		found, err := Find(path)
		if err != nil {
			return nil, &Error{Path: path, Reason: ReasonParse, Err: err}
		}
		path = found
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Reason: ReasonParse, Err: err}
	}
	m, err := Parse(data, filepath.Dir(path), opts)
	if err != nil {
		var merr *Error
		if errors.As(err, &merr) {
			merr.Path = path
		}
		return nil, err
	}
	return m, nil
}

// Parse validates, infers and normalizes a manifest document. toolDir is the
// directory the manifest lives in; it seeds generated ids and inference.
func Parse(data []byte, toolDir string, opts LoadOptions) (*Manifest, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &Error{Reason: ReasonParse, Err: fmt.Errorf("malformed JSON: %w", err)}
	}
	if fields := validateDocument(doc); len(fields) > 0 {
		id, _ := doc["id"].(string)
		return nil, &Error{ToolID: id, Reason: ReasonValidation, Fields: fields}
	}

	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &Error{ToolID: raw.ID, Reason: ReasonParse, Err: err}
	}

	if raw.ID == "" {
		raw.ID = GenerateID(toolDir)
	}
	if raw.Runtime == nil {
		raw.Runtime = inferRuntime(&raw, toolDir)
	}

	rt, err := resolveRuntime(raw.Runtime)
	if err != nil {
		var merr *Error
		if errors.As(err, &merr) {
			merr.ToolID = raw.ID
		}
		return nil, err
	}

	m := &Manifest{
		ID:          raw.ID,
		Name:        raw.Name,
		Version:     raw.Version,
		Description: raw.Description,
		Author:      raw.Author,
		Category:    raw.Category,
		Keywords:    raw.Keywords,
		Main:        raw.Main,
		Protocol:    raw.Protocol,
		Permissions: raw.Permissions,
		Runtime:     rt,
	}
	normalize(m, opts.hostProtocol())

	if !ProtocolCompatible(m.Protocol, opts.hostProtocol()) {
		return nil, &Error{
			ToolID: m.ID,
			Reason: ReasonProtocol,
			Fields: []FieldError{{
				Field:      "protocol",
				Message:    fmt.Sprintf("range %q does not accept host protocol %s", m.Protocol, opts.hostProtocol()),
				Suggestion: fmt.Sprintf("declare %q", DefaultProtocolRange(opts.hostProtocol())),
			}},
		}
	}
	return m, nil
}

func normalize(m *Manifest, host string) {
	if m.Permissions == nil {
		m.Permissions = []string{}
	}
	if strings.TrimSpace(m.Protocol) == "" {
		m.Protocol = DefaultProtocolRange(host)
	}
	if cli, ok := m.Runtime.(*CLIRuntime); ok && cli.Title == "" {
		cli.Title = m.Name
	}
}

// GenerateID derives a tool id from its folder name.
func GenerateID(toolDir string) string {
	return "com.booltox." + sanitizeID(filepath.Base(toolDir))
}

// resolveRuntime turns the loose JSON shape into one of the four variants.
func resolveRuntime(raw *rawRuntime) (RuntimeConfig, error) {
	kind := RuntimeKind(strings.TrimSpace(raw.Type))
	switch kind {
	case KindStandalone:
		if raw.Entry.IsZero() {
			return nil, missing("runtime.entry", "standalone runtimes need an entry script", `"entry": "main.py"`)
		}
		return &StandaloneRuntime{
			Entry:        raw.Entry,
			Args:         raw.Args,
			Env:          raw.Env,
			Requirements: raw.Requirements,
			PythonPath:   raw.PythonPath,
		}, nil

	case KindBinary:
		if raw.Command == "" && raw.LocalExecutablePath == "" {
			return nil, missing("runtime.command", "binary runtimes need a command", `"command": "bin/tool"`)
		}
		return &BinaryRuntime{
			Command:             raw.Command,
			Args:                raw.Args,
			Env:                 raw.Env,
			Cwd:                 raw.Cwd,
			LocalExecutablePath: raw.LocalExecutablePath,
		}, nil

	case KindHTTPService:
		if raw.Backend == nil || raw.Backend.Port == 0 {
			return nil, missing("runtime.backend.port", "http-service runtimes need a backend port", `"backend": {"type": "python", "entry": "server.py", "port": 8080}`)
		}
		backend, err := resolveBackend(raw.Backend)
		if err != nil {
			return nil, err
		}
		if backend.Port < minPort || backend.Port > maxPort {
			return nil, fieldErr(ReasonValidation, "runtime.backend.port",
				fmt.Sprintf("%d is outside %d-%d", backend.Port, minPort, maxPort), "pick an unprivileged port such as 8080")
		}
		timeout := DefaultReadyTimeout
		if raw.ReadyTimeout > 0 {
			timeout = time.Duration(raw.ReadyTimeout) * time.Millisecond
		}
		path := raw.Path
		if path == "" {
			path = "/"
		} else if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		return &HTTPServiceRuntime{Backend: backend, Path: path, ReadyTimeout: timeout}, nil

	case KindCLI:
		if raw.Backend == nil || raw.Backend.Entry.IsZero() {
			return nil, missing("runtime.backend.entry", "cli runtimes need a backend entry", `"backend": {"type": "python", "entry": "cli.py"}`)
		}
		backend, err := resolveBackend(raw.Backend)
		if err != nil {
			return nil, err
		}
		keepOpen := true
		if raw.KeepOpen != nil {
			keepOpen = *raw.KeepOpen
		}
		return &CLIRuntime{Backend: backend, Cwd: raw.Cwd, Title: raw.Title, KeepOpen: keepOpen}, nil
	}

	got := "missing"
	if kind != "" {
		got = fmt.Sprintf("%q", kind)
	}
	return nil, fieldErr(ReasonUnsupportedRuntime, "runtime.type",
		fmt.Sprintf("unsupported runtime type (%s)", got),
		`set "type" to one of "standalone", "binary", "http-service", "cli"`)
}

func resolveBackend(raw *rawBackend) (Backend, error) {
	b := Backend{
		Type:         BackendType(raw.Type),
		Entry:        raw.Entry,
		Args:         raw.Args,
		Env:          raw.Env,
		Requirements: raw.Requirements,
		PythonPath:   raw.PythonPath,
		Port:         raw.Port,
		Host:         raw.Host,
	}
	switch b.Type {
	case BackendPython, BackendNode, BackendProcess:
	case "":
		b.Type = BackendProcess
	default:
		return Backend{}, fieldErr(ReasonValidation, "runtime.backend.type",
			fmt.Sprintf("unsupported backend type %q", raw.Type), `use "python", "node" or "process"`)
	}
	return b, nil
}

func missing(field, msg, fix string) *Error {
	return fieldErr(ReasonMissingField, field, msg, "add "+fix)
}
