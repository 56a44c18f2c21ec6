package deps

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/booltox/toolhost/internal/config"
	"github.com/booltox/toolhost/internal/storage"
)

type memStore struct {
	markers map[string]*storage.DepMarkerRecord
}

func (s *memStore) GetDepMarker(id string) (*storage.DepMarkerRecord, error) {
	return s.markers[id], nil
}
func (s *memStore) SaveDepMarker(m *storage.DepMarkerRecord) error {
	s.markers[m.ToolID] = m
	return nil
}

type call struct {
	dir  string
	name string
	args []string
}

func newTestManager(t *testing.T) (*Manager, *memStore, *[]call) {
	t.Helper()
	store := &memStore{markers: map[string]*storage.DepMarkerRecord{}}
	envDir := t.TempDir()
	var calls []call
	m := NewManager(store, envDir, config.InterpreterConfig{Python: "python3", Node: "node", NPM: "npm"}, zaptest.NewLogger(t))
	m.goos = "linux"
	m.WithRunner(func(_ context.Context, dir, name string, args ...string) error {
		calls = append(calls, call{dir, name, args})
		// Simulate "python -m venv <dir>" creating the interpreter.
		if len(args) == 3 && args[1] == "venv" {
			py := VenvPython(args[2], "linux")
			require.NoError(t, os.MkdirAll(filepath.Dir(py), 0o755))
			require.NoError(t, os.WriteFile(py, nil, 0o755))
		}
		return nil
	})
	return m, store, &calls
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestPythonSetupLifecycle(t *testing.T) {
	ctx := context.Background()
	m, store, calls := newTestManager(t)
	req := filepath.Join(t.TempDir(), "requirements.txt")

	need, err := m.NeedsSetup(ctx, "tool", req)
	require.NoError(t, err)
	assert.False(t, need, "no requirements file means nothing to install")

	writeFile(t, req, "requests==2.0\n")
	need, err = m.NeedsSetup(ctx, "tool", req)
	require.NoError(t, err)
	assert.True(t, need, "no venv yet")

	res, err := m.Install(ctx, "tool", req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, *calls, 2)
	assert.Equal(t, []string{"-m", "venv", VenvDir(m.envDir, "tool")}, (*calls)[0].args)
	assert.Equal(t, []string{"-m", "pip", "install", "-r", req}, (*calls)[1].args)
	require.NotNil(t, store.markers["tool"])

	need, err = m.NeedsSetup(ctx, "tool", req)
	require.NoError(t, err)
	assert.False(t, need, "marker matches")

	writeFile(t, req, "requests==3.0\n")
	need, err = m.NeedsSetup(ctx, "tool", req)
	require.NoError(t, err)
	assert.True(t, need, "requirements changed")

	m.interpreters.Python = "python3.12"
	writeFile(t, req, "requests==2.0\n")
	need, err = m.NeedsSetup(ctx, "tool", req)
	require.NoError(t, err)
	assert.True(t, need, "interpreter changed")
}

func TestNodeSetup(t *testing.T) {
	ctx := context.Background()
	m, _, calls := newTestManager(t)
	dir := t.TempDir()
	pkg := filepath.Join(dir, "package.json")
	writeFile(t, pkg, `{"name": "x"}`)

	need, err := m.NeedsSetup(ctx, "node-tool", pkg)
	require.NoError(t, err)
	assert.True(t, need)

	res, err := m.Install(ctx, "node-tool", pkg)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, call{dir: dir, name: "npm", args: []string{"install"}}, (*calls)[0])

	require.NoError(t, os.Mkdir(filepath.Join(dir, "node_modules"), 0o755))
	need, err = m.NeedsSetup(ctx, "node-tool", pkg)
	require.NoError(t, err)
	assert.False(t, need)
}

func TestInstallCancelledAndFailed(t *testing.T) {
	m, _, _ := newTestManager(t)
	pkg := filepath.Join(t.TempDir(), "package.json")
	writeFile(t, pkg, `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	m.WithRunner(func(context.Context, string, string, ...string) error {
		cancel()
		return context.Canceled
	})
	res, err := m.Install(ctx, "t", pkg)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)

	m.WithRunner(func(context.Context, string, string, ...string) error { return errors.New("exit status 1") })
	res, err = m.Install(context.Background(), "t", pkg)
	assert.Error(t, err)
	assert.False(t, res.Success)
}
