package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/booltox/toolhost/internal/broadcast"
	"github.com/booltox/toolhost/internal/config"
	"github.com/booltox/toolhost/internal/manifest"
	"github.com/booltox/toolhost/internal/storage"
	"github.com/booltox/toolhost/internal/testutil"
)

const httpManifest = `{
  "id": "com.example.web",
  "name": "Web",
  "runtime": {
    "type": "http-service",
    "backend": {"type": "python", "entry": "app.py", "port": 8080},
    "readyTimeout": 2000
  }
}`

const missingTypeManifest = `{
  "id": "com.example.broken",
  "name": "Broken",
  "runtime": {"entry": "main.py"}
}`

const cliManifest = `{
  "id": "com.example.cli",
  "name": "CLI",
  "start": "node cli.js"
}`

func TestScan_RejectsBadManifestAndKeepsOthers(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTool(t, root, "web", httpManifest)
	brokenDir := testutil.WriteTool(t, root, "broken", missingTypeManifest)
	testutil.WriteTool(t, root, "cli", cliManifest)

	core, logs := observer.New(zapcore.WarnLevel)
	reg := New(Options{Logger: zap.New(core)})
	res := reg.Scan(Sources{Dirs: []Dir{{Path: root, Source: SourceInstalled}}})

	assert.Equal(t, 2, res.Loaded)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, brokenDir, res.Rejected[0].Path)

	ids := make([]string, 0)
	for _, tool := range reg.List() {
		ids = append(ids, tool.ID)
	}
	assert.Equal(t, []string{"com.example.cli", "com.example.web"}, ids)

	_, err := reg.Get("com.example.broken")
	assert.ErrorIs(t, err, ErrNotFound)

	rejections := logs.FilterMessage("Rejected tool manifest").All()
	require.Len(t, rejections, 1)
	assert.Equal(t, string(manifest.ReasonUnsupportedRuntime), rejections[0].ContextMap()["reason"])
}

func TestScan_SkipsHiddenAndKnownFolders(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTool(t, root, ".hidden", cliManifest)
	testutil.WriteTool(t, root, "node_modules", cliManifest)
	testutil.WriteTool(t, root, "scripts", cliManifest)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	reg := New(Options{})
	res := reg.Scan(Sources{Dirs: []Dir{{Path: root}}})
	assert.Zero(t, res.Loaded)
	assert.Empty(t, res.Rejected)
}

func TestScan_ClearsAndRebuilds(t *testing.T) {
	root := t.TempDir()
	webDir := testutil.WriteTool(t, root, "web", httpManifest)
	reg := New(Options{})
	reg.Scan(Sources{Dirs: []Dir{{Path: root}}})
	require.Len(t, reg.List(), 1)

	require.NoError(t, os.RemoveAll(webDir))
	testutil.WriteTool(t, root, "cli", cliManifest)
	res := reg.Rescan()
	assert.Equal(t, 1, res.Loaded)
	_, err := reg.Get("com.example.web")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = reg.Get("com.example.cli")
	assert.NoError(t, err)
}

type fakeRefStore struct {
	refs []*storage.ToolRefRecord
	err  error
}

func (f *fakeRefStore) ListToolRefs() ([]*storage.ToolRefRecord, error) { return f.refs, f.err }

func TestScan_LocalRefsOverrideAndSkipMissing(t *testing.T) {
	installed := t.TempDir()
	testutil.WriteTool(t, installed, "web", httpManifest)
	elsewhere := t.TempDir()
	localWeb := testutil.WriteTool(t, elsewhere, "web-dev", httpManifest)

	store := &fakeRefStore{refs: []*storage.ToolRefRecord{
		{ID: "com.example.web", Path: localWeb},
		{ID: "com.example.gone", Path: filepath.Join(elsewhere, "missing")},
	}}
	reg := New(Options{Store: store})
	res := reg.Scan(Sources{Dirs: []Dir{{Path: installed, Source: SourceInstalled}}})

	assert.Equal(t, 1, res.Loaded)
	tool, err := reg.Get("com.example.web")
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, tool.Source)
	assert.True(t, tool.Dev)
	assert.Equal(t, localWeb, tool.Path)
}

func TestScan_StoreErrorDoesNotAbort(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTool(t, root, "cli", cliManifest)
	reg := New(Options{Store: &fakeRefStore{err: errors.New("db closed")}})
	res := reg.Scan(Sources{Dirs: []Dir{{Path: root}}})
	assert.Equal(t, 1, res.Loaded)
}

type recordingObserver struct {
	byKind   map[string]int
	rejected int
}

func (o *recordingObserver) RecordScan(byKind map[string]int, rejected int, _ time.Duration) {
	o.byKind = byKind
	o.rejected = rejected
}

func TestScan_ReportsToObserver(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTool(t, root, "web", httpManifest)
	testutil.WriteTool(t, root, "cli", cliManifest)
	testutil.WriteTool(t, root, "broken", missingTypeManifest)

	obs := &recordingObserver{}
	New(Options{Observer: obs}).Scan(Sources{Dirs: []Dir{{Path: root}}})
	assert.Equal(t, map[string]int{"http-service": 1, "cli": 1}, obs.byKind)
	assert.Equal(t, 1, obs.rejected)
}

func TestSetStatusAndCopies(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTool(t, root, "web", httpManifest)
	reg := New(Options{})
	reg.Scan(Sources{Dirs: []Dir{{Path: root}}})

	tool, err := reg.Get("com.example.web")
	require.NoError(t, err)
	assert.Equal(t, broadcast.StatusStopped, tool.Status)

	reg.SetStatus("com.example.web", broadcast.StatusRunning)
	reg.SetStatus("com.example.unknown", broadcast.StatusRunning)
	tool.Status = broadcast.StatusError

	again, err := reg.Get("com.example.web")
	require.NoError(t, err)
	assert.Equal(t, broadcast.StatusRunning, again.Status)
}

func TestLoad_AddsSingleTool(t *testing.T) {
	dir := testutil.WriteTool(t, t.TempDir(), "cli", cliManifest)
	reg := New(Options{})
	tool, err := reg.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "com.example.cli", tool.ID)
	assert.Equal(t, manifest.KindCLI, tool.Manifest.Kind())

	_, err = reg.Get("com.example.cli")
	assert.NoError(t, err)

	_, err = reg.Load(testutil.WriteTool(t, t.TempDir(), "broken", missingTypeManifest))
	var merr *manifest.Error
	assert.True(t, errors.As(err, &merr))
}

func TestSourcesFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ToolsDir = "/data/tools"
	cfg.DevToolsDir = "/dev/tools"
	cfg.ExamplesDir = "/examples"
	cfg.LocalTools = []config.LocalToolRef{{ID: "a", Path: "/a"}}

	src := SourcesFromConfig(cfg)
	require.Len(t, src.Dirs, 2)
	assert.Equal(t, SourceExamples, src.Dirs[1].Source)

	cfg.DevMode = true
	src = SourcesFromConfig(cfg)
	require.Len(t, src.Dirs, 3)
	assert.Equal(t, Dir{Path: "/dev/tools", Source: SourceDev, Dev: true}, src.Dirs[1])
	assert.Equal(t, []LocalRef{{ID: "a", Path: "/a"}}, src.LocalRefs)
}

func TestWatch_RescansAfterChange(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTool(t, root, "cli", cliManifest)
	reg := New(Options{})
	reg.Scan(Sources{Dirs: []Dir{{Path: root}}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rescans := make(chan ScanResult, 4)
	done := make(chan error, 1)
	go func() { done <- reg.Watch(ctx, 50*time.Millisecond, func(res ScanResult) { rescans <- res }) }()

	// Give the watcher a moment to register its directories.
	time.Sleep(100 * time.Millisecond)
	testutil.WriteTool(t, root, "web", httpManifest)

	select {
	case res := <-rescans:
		assert.Equal(t, 2, res.Loaded)
	case <-time.After(5 * time.Second):
		t.Fatal("no rescan after adding a tool")
	}

	cancel()
	assert.NoError(t, <-done)
}
