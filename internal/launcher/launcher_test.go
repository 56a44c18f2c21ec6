package launcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/booltox/toolhost/internal/deps"
	"github.com/booltox/toolhost/internal/manifest"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

func testOptions(t *testing.T, sp *fakeSpawner) Options {
	return Options{
		Logger:       zaptest.NewLogger(t),
		Spawner:      sp,
		Opener:       &fakeOpener{},
		Terminal:     &fakeTerminal{},
		PollInterval: 20 * time.Millisecond,
		ProbeTimeout: 200 * time.Millisecond,
		KillGrace:    10 * time.Millisecond,
		GOOS:         "linux",
		Environ:      func() []string { return []string{"PATH=/usr/bin", "HOME=/home/u"} },
	}
}

func envValue(env []string, key string) (string, bool) {
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func httpRequest(dir string, port int, timeout time.Duration) Request {
	return Request{
		SessionID: "s1",
		ToolID:    "com.example.web",
		ToolPath:  dir,
		Manifest: &manifest.Manifest{
			ID:   "com.example.web",
			Name: "Web",
			Runtime: &manifest.HTTPServiceRuntime{
				Backend: manifest.Backend{
					Type:  manifest.BackendProcess,
					Entry: manifest.NewEntry("server"),
					Port:  port,
				},
				Path:         "/",
				ReadyTimeout: timeout,
			},
		},
	}
}

func TestHTTPService_OpensURLOnceReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	port := serverPort(t, srv)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "server"), "#!/bin/sh\n")

	sp := &fakeSpawner{}
	opts := testOptions(t, sp)
	opener := &fakeOpener{}
	opts.Opener = opener
	set := NewSet(opts)

	res, err := set.Launch(context.Background(), httpRequest(dir, port, 2*time.Second))
	require.NoError(t, err)

	want := "http://127.0.0.1:" + strconv.Itoa(port) + "/"
	assert.Equal(t, want, res.URL)
	assert.Equal(t, []string{want}, opener.opened())
	assert.Equal(t, sp.procs[0].PID(), res.PID)
	assert.False(t, res.Detached)
	require.Len(t, sp.calls(), 1)
	assert.Equal(t, filepath.Join(dir, "server"), sp.calls()[0].Path)
	assert.Equal(t, dir, sp.calls()[0].Dir)
}

func TestHTTPService_ReadyTimeoutKillsBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "server"), "#!/bin/sh\n")
	sp := &fakeSpawner{}
	opts := testOptions(t, sp)
	opener := &fakeOpener{}
	opts.Opener = opener

	start := time.Now()
	_, err := NewSet(opts).Launch(context.Background(), httpRequest(dir, serverPort(t, srv), 200*time.Millisecond))
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	var le *LaunchError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ReasonReadyTimeout, le.Reason)
	assert.Equal(t, manifest.KindHTTPService, le.Kind)
	assert.Equal(t, 1, sp.procs[0].terminateCount())
	assert.Empty(t, opener.opened())
}

func TestHTTPService_BackendExitsEarly(t *testing.T) {
	// Nothing listens on this port.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "server"), "#!/bin/sh\n")
	sp := &fakeSpawner{}
	set := NewSet(testOptions(t, sp))

	go func() {
		for len(sp.calls()) == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		sp.mu.Lock()
		p := sp.procs[0]
		sp.mu.Unlock()
		p.exit(3)
	}()

	_, err = set.Launch(context.Background(), httpRequest(dir, port, 10*time.Second))
	var le *LaunchError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ReasonExitedEarly, le.Reason)
	assert.Contains(t, err.Error(), "exit code 3")
}

func TestHTTPService_CancelledWhileWaiting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "server"), "#!/bin/sh\n")
	sp := &fakeSpawner{}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err := NewSet(testOptions(t, sp)).Launch(ctx, httpRequest(dir, serverPort(t, srv), 10*time.Second))

	var le *LaunchError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ReasonCancelled, le.Reason)
	assert.Equal(t, 1, sp.procs[0].terminateCount())
}

func TestBinary_MissingExecutableNamesPath(t *testing.T) {
	dir := t.TempDir()
	sp := &fakeSpawner{}
	req := Request{
		ToolID:   "com.example.bin",
		ToolPath: dir,
		Manifest: &manifest.Manifest{ID: "com.example.bin", Runtime: &manifest.BinaryRuntime{Command: "bin/tool"}},
	}

	_, err := NewSet(testOptions(t, sp)).Launch(context.Background(), req)
	var le *LaunchError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ReasonMissingExecutable, le.Reason)
	assert.Equal(t, filepath.Join(dir, "bin", "tool"), le.Path)
	assert.Contains(t, err.Error(), filepath.Join(dir, "bin", "tool"))
	assert.Empty(t, sp.calls())
}

func TestBinary_SpawnsDetached(t *testing.T) {
	dir := t.TempDir()
	exe := writeFile(t, filepath.Join(dir, "tool"), "#!/bin/sh\n")
	sp := &fakeSpawner{}
	req := Request{
		ToolID:   "com.example.bin",
		ToolPath: dir,
		Manifest: &manifest.Manifest{ID: "com.example.bin", Runtime: &manifest.BinaryRuntime{
			Command: "tool", Args: []string{"--fast"}, Env: map[string]string{"MODE": "x"},
		}},
	}

	res, err := NewSet(testOptions(t, sp)).Launch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, SentinelPID, res.PID)
	assert.True(t, res.Detached)
	assert.Nil(t, res.Process)

	spec := sp.calls()[0]
	assert.True(t, spec.Detached)
	assert.Equal(t, exe, spec.Path)
	assert.Equal(t, []string{"--fast"}, spec.Args)
	v, ok := envValue(spec.Env, "MODE")
	assert.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestStandalone_PythonEnvironment(t *testing.T) {
	dir := t.TempDir()
	entry := writeFile(t, filepath.Join(dir, "main.py"), "print('hi')\n")
	sp := &fakeSpawner{}
	opts := testOptions(t, sp)
	opts.SDKPath = "/opt/sdk"
	opts.Interpreters.Python = "python3"
	opts.Environ = func() []string {
		return []string{"PATH=/usr/bin", "HOME=/home/u", "PYTHONPATH=/usr/lib/site"}
	}
	req := Request{
		ToolID:   "com.example.gui",
		ToolPath: dir,
		Manifest: &manifest.Manifest{ID: "com.example.gui", Runtime: &manifest.StandaloneRuntime{
			Entry:      manifest.NewEntry("main.py"),
			PythonPath: []string{"lib"},
		}},
	}

	res, err := NewSet(opts).Launch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, SentinelPID, res.PID)
	require.NotNil(t, res.Process)
	assert.False(t, res.Detached)

	spec := sp.calls()[0]
	assert.Equal(t, "python3", spec.Path)
	assert.Equal(t, []string{entry}, spec.Args)

	id, _ := envValue(spec.Env, PluginIDEnv)
	assert.Equal(t, "com.example.gui", id)
	pp, _ := envValue(spec.Env, "PYTHONPATH")
	assert.Equal(t, "/opt/sdk:"+filepath.Join(dir, "lib"), pp)
	unbuf, _ := envValue(spec.Env, "PYTHONUNBUFFERED")
	assert.Equal(t, "1", unbuf)
	home, _ := envValue(spec.Env, "HOME")
	assert.Equal(t, "/home/u", home)
}

func TestStandalone_MissingEntry(t *testing.T) {
	sp := &fakeSpawner{}
	req := Request{
		ToolID:   "com.example.gui",
		ToolPath: t.TempDir(),
		Manifest: &manifest.Manifest{ID: "com.example.gui", Runtime: &manifest.StandaloneRuntime{Entry: manifest.NewEntry("main.py")}},
	}
	_, err := NewSet(testOptions(t, sp)).Launch(context.Background(), req)
	var le *LaunchError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ReasonMissingExecutable, le.Reason)
	assert.Empty(t, sp.calls())
}

func TestPreflight_DependencyInstallCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.py"), "")
	writeFile(t, filepath.Join(dir, "requirements.txt"), "requests\n")

	sp := &fakeSpawner{}
	d := &fakeDeps{need: true, result: deps.InstallResult{Cancelled: true}}
	opts := testOptions(t, sp)
	opts.Checker = d
	opts.Installer = d
	req := Request{
		ToolID:   "com.example.gui",
		ToolPath: dir,
		Manifest: &manifest.Manifest{ID: "com.example.gui", Runtime: &manifest.StandaloneRuntime{
			Entry: manifest.NewEntry("main.py"), Requirements: "requirements.txt",
		}},
	}

	_, err := NewSet(opts).Launch(context.Background(), req)
	var le *LaunchError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ReasonDependencyCancelled, le.Reason)
	assert.Equal(t, []string{filepath.Join(dir, "requirements.txt")}, d.checked)
	assert.Equal(t, 1, d.install)
	assert.Empty(t, sp.calls())
}

func TestPreflight_SkipsInstallWhenSatisfied(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.py"), "")
	sp := &fakeSpawner{}
	d := &fakeDeps{need: false}
	opts := testOptions(t, sp)
	opts.Checker = d
	opts.Installer = d
	req := Request{
		ToolID:   "com.example.gui",
		ToolPath: dir,
		Manifest: &manifest.Manifest{ID: "com.example.gui", Runtime: &manifest.StandaloneRuntime{
			Entry: manifest.NewEntry("main.py"), Requirements: "requirements.txt",
		}},
	}

	_, err := NewSet(opts).Launch(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, d.install)
	assert.Len(t, sp.calls(), 1)
}

func TestCLI_OpensTerminalDetached(t *testing.T) {
	dir := t.TempDir()
	entry := writeFile(t, filepath.Join(dir, "cli.js"), "")
	sp := &fakeSpawner{}
	term := &fakeTerminal{}
	opts := testOptions(t, sp)
	opts.Terminal = term
	opts.Interpreters.Node = "node"
	req := Request{
		ToolID:   "com.example.cli",
		ToolPath: dir,
		Manifest: &manifest.Manifest{ID: "com.example.cli", Name: "Example CLI", Runtime: &manifest.CLIRuntime{
			Backend:  manifest.Backend{Type: manifest.BackendNode, Entry: manifest.NewEntry("cli.js"), Args: []string{"--color"}},
			KeepOpen: true,
		}},
	}

	res, err := NewSet(opts).Launch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Detached)
	assert.Equal(t, 4242, res.PID)

	require.Len(t, term.reqs, 1)
	tr := term.reqs[0]
	assert.Equal(t, "node", tr.Command)
	assert.Equal(t, []string{entry, "--color"}, tr.Args)
	assert.Equal(t, dir, tr.Cwd)
	assert.Equal(t, "Example CLI", tr.Title)
	assert.True(t, tr.KeepOpen)
	assert.Equal(t, "com.example.cli", tr.Env[PluginIDEnv])
	assert.Empty(t, sp.calls())
}

func TestSet_LaunchWithoutRuntime(t *testing.T) {
	_, err := NewSet(testOptions(t, &fakeSpawner{})).Launch(context.Background(), Request{ToolID: "x", Manifest: &manifest.Manifest{ID: "x"}})
	var le *LaunchError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ReasonSpawn, le.Reason)
}
