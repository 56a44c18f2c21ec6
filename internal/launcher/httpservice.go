package launcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/booltox/toolhost/internal/manifest"
)

// HTTPService runs a backend, waits for it to answer, then opens its URL.
type HTTPService struct {
	opts *Options
}

// URL is where an http-service runtime is reachable.
func URL(rt *manifest.HTTPServiceRuntime) string {
	path := rt.Path
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(rt.Backend.URLHost(), strconv.Itoa(rt.Backend.Port)), path)
}

// Launch implements Launcher.
func (l *HTTPService) Launch(ctx context.Context, req Request) (*Result, error) {
	o := l.opts
	rt, ok := req.Manifest.Runtime.(*manifest.HTTPServiceRuntime)
	if !ok {
		return nil, launchErr(req, ReasonSpawn, errWrongRuntime(req.Manifest.Runtime, manifest.KindHTTPService))
	}

	if err := o.preflight(ctx, req, requirementsFor(req.ToolPath, rt.Backend)); err != nil {
		return nil, err
	}
	name, args, py, err := o.command(req, rt.Backend)
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
		Env:    o.buildEnv(o.toolVars(req.ToolID, rt.Backend.Env, py)),
		Output: o.ToolLogger(req.ToolID),
	})
	if err != nil {
		return nil, launchErr(req, ReasonSpawn, err)
	}

	url := URL(rt)
	timeout := rt.ReadyTimeout
	if timeout <= 0 {
		timeout = o.DefaultReadyTimeout
	}
	o.Logger.Info("Waiting for tool backend",
		zap.String("tool_id", req.ToolID),
		zap.String("url", url),
		zap.Int("pid", proc.PID()),
		zap.Duration("timeout", timeout))

	started := time.Now()
	poller := NewReadinessPoller(o.PollInterval, o.ProbeTimeout)
	attempts, err := poller.Wait(ctx, url, timeout, proc.Done())
	if err != nil {
		if killErr := proc.Terminate(o.KillGrace); killErr != nil {
			o.Logger.Warn("Failed to stop backend after failed launch", zap.String("tool_id", req.ToolID), zap.Error(killErr))
		}
		switch {
		case errors.Is(err, ErrReadyTimeout):
			return nil, launchErr(req, ReasonReadyTimeout, err)
		case errors.Is(err, ErrProcessExited):
			return nil, launchErr(req, ReasonExitedEarly, fmt.Errorf("%w (exit code %d)", err, proc.ExitCode()))
		default:
			return nil, launchErr(req, ReasonCancelled, err)
		}
	}

	o.Logger.Info("Tool backend ready",
		zap.String("tool_id", req.ToolID),
		zap.String("url", url),
		zap.Int("attempts", attempts),
		zap.Duration("elapsed", time.Since(started)))
	if err := o.Opener.Open(url); err != nil {
		o.Logger.Warn("Failed to open tool URL", zap.String("tool_id", req.ToolID), zap.String("url", url), zap.Error(err))
	}
	return &Result{PID: proc.PID(), Process: proc, URL: url}, nil
}

func errWrongRuntime(rt manifest.RuntimeConfig, want manifest.RuntimeKind) error {
	return fmt.Errorf("runtime %T is not %s", rt, want)
}
