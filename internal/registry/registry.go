// Package registry discovers tool directories and keeps the id-keyed index of
// tools whose manifests loaded successfully.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/booltox/toolhost/internal/broadcast"
	"github.com/booltox/toolhost/internal/manifest"
	"github.com/booltox/toolhost/internal/storage"
)

// Source names where a tool was discovered.
type Source string

const (
	SourceInstalled Source = "installed"
	SourceDev       Source = "dev"
	SourceExamples  Source = "examples"
	SourceLocal     Source = "local"
)

// ErrNotFound is returned for unknown tool ids.
var ErrNotFound = errors.New("tool not found")

// skipped folder names never hold tools.
var skipped = map[string]bool{
	"scripts":      true,
	"node_modules": true,
}

// Tool is one registry entry.
type Tool struct {
	ID       string             `json:"id"`
	Manifest *manifest.Manifest `json:"-"`
	Path     string             `json:"path"`
	// Status is informational; the supervisor owns the real session state.
	Status broadcast.Status `json:"status"`
	Dev    bool             `json:"dev"`
	Source Source           `json:"source"`
}

// Dir is one directory whose subdirectories are tools.
type Dir struct {
	Path   string
	Source Source
	Dev    bool
}

// LocalRef points at a single tool directory.
type LocalRef struct {
	ID   string
	Path string
}

// Sources are the discovery inputs of a scan.
type Sources struct {
	Dirs      []Dir
	LocalRefs []LocalRef
}

// RefStore supplies local tool references persisted outside the config file.
type RefStore interface {
	ListToolRefs() ([]*storage.ToolRefRecord, error)
}

// Rejection records a tool that failed to load.
type Rejection struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

// ScanResult summarizes one scan.
type ScanResult struct {
	Loaded   int
	Rejected []Rejection
	ByKind   map[string]int
	Duration time.Duration
}

// ScanObserver is told about every finished scan.
type ScanObserver interface {
	RecordScan(byKind map[string]int, rejected int, duration time.Duration)
}

// Options configure a Registry.
type Options struct {
	Logger   *zap.Logger
	Load     manifest.LoadOptions
	Store    RefStore
	Observer ScanObserver
}

// Registry is the id-keyed index of loadable tools.
type Registry struct {
	logger   *zap.Logger
	load     manifest.LoadOptions
	store    RefStore
	observer ScanObserver

	mu       sync.RWMutex
	sources  Sources
	tools    map[string]*Tool
	rejected []Rejection
	scanned  bool
}

// New creates an empty registry.
func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:   logger,
		load:     opts.Load,
		store:    opts.Store,
		observer: opts.Observer,
		tools:    make(map[string]*Tool),
	}
}

// Scan discards the current index and rebuilds it from src. One tool failing
// to load never stops the scan.
func (r *Registry) Scan(src Sources) ScanResult {
	started := time.Now()
	tools := make(map[string]*Tool)
	var rejected []Rejection

	add := func(t *Tool) {
		if prev, ok := tools[t.ID]; ok {
			r.logger.Warn("Duplicate tool id, later source wins",
				zap.String("tool_id", t.ID),
				zap.String("previous", prev.Path),
				zap.String("path", t.Path))
		}
		tools[t.ID] = t
	}
	reject := func(path string, err error) {
		rejected = append(rejected, Rejection{Path: path, Err: err})
		r.logRejection(path, err)
	}

	for _, dir := range src.Dirs {
		if dir.Path == "" {
			continue
		}
		entries, err := os.ReadDir(dir.Path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn("Failed to read tools directory", zap.String("dir", dir.Path), zap.Error(err))
			}
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || isSkipped(e.Name()) {
				continue
			}
			toolDir := filepath.Join(dir.Path, e.Name())
			if _, err := manifest.Find(toolDir); err != nil {
				r.logger.Debug("Directory has no manifest", zap.String("dir", toolDir))
				continue
			}
			t, err := r.loadTool(toolDir, dir.Source, dir.Dev)
			if err != nil {
				reject(toolDir, err)
				continue
			}
			add(t)
		}
	}

	for _, ref := range r.localRefs(src.LocalRefs) {
		if _, err := os.Stat(ref.Path); err != nil {
			r.logger.Warn("Local tool path does not exist, skipping",
				zap.String("tool_id", ref.ID),
				zap.String("path", ref.Path))
			continue
		}
		t, err := r.loadTool(ref.Path, SourceLocal, true)
		if err != nil {
			reject(ref.Path, err)
			continue
		}
		if ref.ID != "" && ref.ID != t.ID {
			r.logger.Warn("Local tool reference id differs from manifest id",
				zap.String("ref_id", ref.ID),
				zap.String("tool_id", t.ID))
		}
		add(t)
	}

	res := ScanResult{
		Loaded:   len(tools),
		Rejected: rejected,
		ByKind:   make(map[string]int),
		Duration: time.Since(started),
	}
	for _, t := range tools {
		res.ByKind[string(t.Manifest.Kind())]++
	}

	r.mu.Lock()
	r.sources = src
	r.tools = tools
	r.rejected = rejected
	r.scanned = true
	r.mu.Unlock()

	r.logger.Info("Tool scan complete",
		zap.Int("loaded", res.Loaded),
		zap.Int("rejected", len(rejected)),
		zap.Duration("duration", res.Duration))
	if r.observer != nil {
		r.observer.RecordScan(res.ByKind, len(rejected), res.Duration)
	}
	return res
}

// Rescan repeats the last scan with the same sources. Stored local
// references are re-read.
func (r *Registry) Rescan() ScanResult {
	r.mu.RLock()
	src := r.sources
	r.mu.RUnlock()
	return r.Scan(src)
}

// Load reads one tool directory and adds it to the index.
func (r *Registry) Load(path string) (*Tool, error) {
	t, err := r.loadTool(path, SourceLocal, true)
	if err != nil {
		r.logRejection(path, err)
		return nil, err
	}
	r.mu.Lock()
	r.tools[t.ID] = t
	r.mu.Unlock()
	return t.clone(), nil
}

// Get returns a copy of the tool with id.
func (r *Registry) Get(id string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.clone(), nil
}

// List returns copies of all tools sorted by id.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Rejections returns the tools the last scan could not load.
func (r *Registry) Rejections() []Rejection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Rejection(nil), r.rejected...)
}

// Scanned reports whether at least one scan has completed.
func (r *Registry) Scanned() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scanned
}

// SetStatus updates the informational status of a tool. Unknown ids are
// ignored.
func (r *Registry) SetStatus(id string, status broadcast.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tools[id]; ok {
		t.Status = status
	}
}

// Dirs returns the directories of the last scan, for watching.
func (r *Registry) Dirs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var dirs []string
	for _, d := range r.sources.Dirs {
		if d.Path != "" {
			dirs = append(dirs, d.Path)
		}
	}
	for _, t := range r.tools {
		if t.Source == SourceLocal {
			dirs = append(dirs, t.Path)
		}
	}
	return dirs
}

func (r *Registry) loadTool(dir string, source Source, dev bool) (*Tool, error) {
	m, err := manifest.Load(dir, r.load)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return &Tool{
		ID:       m.ID,
		Manifest: m,
		Path:     abs,
		Status:   broadcast.StatusStopped,
		Dev:      dev,
		Source:   source,
	}, nil
}

// localRefs merges configured references with stored ones; stored entries
// for a path already configured are dropped.
func (r *Registry) localRefs(configured []LocalRef) []LocalRef {
	refs := append([]LocalRef(nil), configured...)
	if r.store == nil {
		return refs
	}
	stored, err := r.store.ListToolRefs()
	if err != nil {
		r.logger.Warn("Failed to read stored tool references", zap.Error(err))
		return refs
	}
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		seen[filepath.Clean(ref.Path)] = true
	}
	for _, rec := range stored {
		if seen[filepath.Clean(rec.Path)] {
			continue
		}
		refs = append(refs, LocalRef{ID: rec.ID, Path: rec.Path})
	}
	return refs
}

func (r *Registry) logRejection(path string, err error) {
	fields := []zap.Field{zap.String("path", path), zap.Error(err)}
	var merr *manifest.Error
	if errors.As(err, &merr) {
		problems := make([]string, 0, len(merr.Fields))
		for _, f := range merr.Fields {
			problems = append(problems, f.String())
		}
		fields = append(fields, zap.String("reason", string(merr.Reason)), zap.Strings("fields", problems))
	}
	r.logger.Warn("Rejected tool manifest", fields...)
}

func (t *Tool) clone() *Tool {
	c := *t
	return &c
}

func isSkipped(name string) bool {
	return strings.HasPrefix(name, ".") || skipped[name]
}
