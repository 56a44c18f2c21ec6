package launcher

import (
	"context"
	"errors"
	"os"

	"go.uber.org/zap"

	"github.com/booltox/toolhost/internal/manifest"
)

// Binary runs a pre-built executable detached from the host.
type Binary struct {
	opts *Options
}

// Launch implements Launcher.
func (l *Binary) Launch(ctx context.Context, req Request) (*Result, error) {
	o := l.opts
	rt, ok := req.Manifest.Runtime.(*manifest.BinaryRuntime)
	if !ok {
		return nil, launchErr(req, ReasonSpawn, errWrongRuntime(req.Manifest.Runtime, manifest.KindBinary))
	}

	exe := rt.LocalExecutablePath
	if exe == "" {
		exe = resolveIn(req.ToolPath, rt.Command)
	}
	info, err := os.Stat(exe)
	if err != nil || info.IsDir() {
		return nil, &LaunchError{
			ToolID: req.ToolID, Kind: manifest.KindBinary, Reason: ReasonMissingExecutable,
			Path: exe, Err: errors.New("executable not found"),
		}
	}

	cwd := req.ToolPath
	if rt.Cwd != "" {
		cwd = resolveIn(req.ToolPath, rt.Cwd)
	}

	if err := ctx.Err(); err != nil {
		return nil, launchErr(req, ReasonCancelled, err)
	}
	proc, err := o.Spawner.Spawn(SpawnSpec{
		Path:     exe,
		Args:     rt.Args,
		Dir:      cwd,
		Env:      o.buildEnv(o.toolVars(req.ToolID, rt.Env, nil)),
		Detached: true,
	})
	if err != nil {
		return nil, launchErr(req, ReasonSpawn, err)
	}

	o.Logger.Info("Binary tool started detached",
		zap.String("tool_id", req.ToolID),
		zap.String("path", exe),
		zap.Int("pid", proc.PID()))
	return &Result{PID: SentinelPID, Detached: true}, nil
}
