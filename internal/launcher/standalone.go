package launcher

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/booltox/toolhost/internal/manifest"
)

// Standalone runs an interpreter-managed entry that opens its own window.
type Standalone struct {
	opts *Options
}

// Launch implements Launcher.
func (l *Standalone) Launch(ctx context.Context, req Request) (*Result, error) {
	o := l.opts
	rt, ok := req.Manifest.Runtime.(*manifest.StandaloneRuntime)
	if !ok {
		return nil, launchErr(req, ReasonSpawn, errWrongRuntime(req.Manifest.Runtime, manifest.KindStandalone))
	}

	if err := o.preflight(ctx, req, resolveIn(req.ToolPath, rt.Requirements)); err != nil {
		return nil, err
	}

	entry, err := rt.Entry.Resolve(o.goos())
	if err != nil {
		return nil, launchErr(req, ReasonSpawn, err)
	}
	entryPath := resolveIn(req.ToolPath, entry)
	if err := mustExist(req, entryPath); err != nil {
		return nil, err
	}

	backend := manifest.Backend{
		Type:       manifest.BackendPython,
		Entry:      manifest.NewEntry(entryPath),
		Args:       rt.Args,
		PythonPath: rt.PythonPath,
	}
	if isScriptFor(entryPath, ".js", ".mjs", ".cjs") {
		backend.Type = manifest.BackendNode
	}
	name, args, py, err := o.command(req, backend)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, launchErr(req, ReasonCancelled, err)
	}
	proc, err := o.Spawner.Spawn(SpawnSpec{
		Path:   name,
		Args:   args,
		Dir:    req.ToolPath,
		Env:    o.buildEnv(o.toolVars(req.ToolID, rt.Env, py)),
		Output: o.ToolLogger(req.ToolID),
	})
	if err != nil {
		return nil, launchErr(req, ReasonSpawn, err)
	}

	o.Logger.Info("Standalone tool started",
		zap.String("tool_id", req.ToolID),
		zap.String("entry", entryPath),
		zap.Int("pid", proc.PID()))
	return &Result{PID: SentinelPID, Process: proc}, nil
}

func isScriptFor(path string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
