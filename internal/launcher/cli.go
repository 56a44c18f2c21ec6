package launcher

import (
	"context"

	"go.uber.org/zap"

	"github.com/booltox/toolhost/internal/manifest"
)

// CLI runs a command in a new OS terminal window.
type CLI struct {
	opts *Options
}

// Launch implements Launcher.
func (l *CLI) Launch(ctx context.Context, req Request) (*Result, error) {
	o := l.opts
	rt, ok := req.Manifest.Runtime.(*manifest.CLIRuntime)
	if !ok {
		return nil, launchErr(req, ReasonSpawn, errWrongRuntime(req.Manifest.Runtime, manifest.KindCLI))
	}

	if err := o.preflight(ctx, req, requirementsFor(req.ToolPath, rt.Backend)); err != nil {
		return nil, err
	}
	name, args, py, err := o.command(req, rt.Backend)
	if err != nil {
		return nil, err
	}

	cwd := req.ToolPath
	if rt.Cwd != "" {
		cwd = resolveIn(req.ToolPath, rt.Cwd)
	}
	title := rt.Title
	if title == "" {
		title = req.Manifest.Name
	}

	vars := o.toolVars(req.ToolID, rt.Backend.Env, py)
	env := make(map[string]string, len(vars.keys))
	order := make([]string, 0, len(vars.keys))
	for _, n := range vars.keys {
		env[vars.names[n]] = vars.values[n]
		order = append(order, vars.names[n])
	}

	if err := ctx.Err(); err != nil {
		return nil, launchErr(req, ReasonCancelled, err)
	}
	proc, err := o.Terminal.Launch(TerminalRequest{
		Command:  name,
		Args:     args,
		Cwd:      cwd,
		Env:      env,
		EnvOrder: order,
		Title:    title,
		KeepOpen: rt.KeepOpen,
	})
	if err != nil {
		return nil, launchErr(req, ReasonSpawn, err)
	}

	pid := SentinelPID
	if proc != nil && proc.PID() > 0 {
		pid = proc.PID()
	}
	o.Logger.Info("CLI tool opened in terminal",
		zap.String("tool_id", req.ToolID),
		zap.String("command", name),
		zap.Int("pid", pid))
	return &Result{PID: pid, Process: proc, Detached: true}, nil
}
