// Package launcher turns a validated tool manifest into a running OS process.
//
// Launchers hold no per-session state: each Launch call receives everything it
// needs in a Request and reports back through its Result or error. Process
// exits are delivered to the caller as ProcessEvent messages via Watch.
package launcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/booltox/toolhost/internal/config"
	"github.com/booltox/toolhost/internal/deps"
	"github.com/booltox/toolhost/internal/manifest"
)

// SentinelPID is returned for launches whose process is not addressable by
// the supervisor.
const SentinelPID = -1

// PluginIDEnv identifies the tool to its own process.
const PluginIDEnv = "BOOLTOX_PLUGIN_ID"

// Request is everything a launcher needs to start one tool.
type Request struct {
	SessionID string
	ToolID    string
	ToolPath  string
	Manifest  *manifest.Manifest
}

// Result describes a successful launch.
type Result struct {
	// PID is the platform pid or SentinelPID.
	PID int
	// Process is nil when nothing is left for the supervisor to watch.
	Process Process
	// URL is set for http-service launches.
	URL string
	// Detached processes are never killed on teardown.
	Detached bool
}

// Launcher starts tools of one runtime kind.
type Launcher interface {
	Launch(ctx context.Context, req Request) (*Result, error)
}

// DependencyChecker reports whether a tool's dependencies must be installed
// before it can run.
type DependencyChecker interface {
	NeedsSetup(ctx context.Context, toolID, requirementsPath string) (bool, error)
}

// DependencyInstaller installs a tool's dependencies.
type DependencyInstaller interface {
	Install(ctx context.Context, toolID, requirementsPath string) (deps.InstallResult, error)
}

// Options are the collaborators and settings shared by all launchers.
type Options struct {
	Logger *zap.Logger
	// ToolLogger returns the logger receiving a tool's stdout and stderr.
	ToolLogger func(toolID string) *zap.Logger

	Spawner   Spawner
	Opener    URLOpener
	Terminal  TerminalLauncher
	Checker   DependencyChecker
	Installer DependencyInstaller

	Interpreters config.InterpreterConfig
	SDKPath      string
	EnvDir       string

	PollInterval        time.Duration
	ProbeTimeout        time.Duration
	DefaultReadyTimeout time.Duration
	KillGrace           time.Duration

	// GOOS overrides runtime.GOOS for entry and interpreter resolution.
	GOOS string
	// Environ supplies the base child environment. Defaults to os.Environ.
	Environ func() []string
}

func (o *Options) withDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.ToolLogger == nil {
		base := o.Logger
		o.ToolLogger = func(toolID string) *zap.Logger {
			return base.With(zap.String("tool_id", toolID))
		}
	}
	if o.Spawner == nil {
		o.Spawner = NewExecSpawner(o.Logger)
	}
	if o.Opener == nil {
		o.Opener = NewBrowserOpener(o.Logger)
	}
	if o.Terminal == nil {
		o.Terminal = NewOSTerminal(o.Spawner, o.Logger)
	}
	if o.Interpreters.Python == "" || o.Interpreters.Node == "" {
		def := config.DefaultInterpreters()
		if o.Interpreters.Python == "" {
			o.Interpreters.Python = def.Python
		}
		if o.Interpreters.Node == "" {
			o.Interpreters.Node = def.Node
		}
	}
	sup := config.DefaultSupervisorConfig()
	if o.PollInterval <= 0 {
		o.PollInterval = sup.ReadyPollInterval
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = sup.ReadyProbeTimeout
	}
	if o.DefaultReadyTimeout <= 0 {
		o.DefaultReadyTimeout = sup.DefaultReadyTimeout
	}
	if o.KillGrace <= 0 {
		o.KillGrace = sup.KillGrace
	}
}

// Set dispatches a request to the launcher for its runtime kind.
type Set struct {
	Standalone  Launcher
	Binary      Launcher
	HTTPService Launcher
	CLI         Launcher
}

// NewSet builds the four stock launchers sharing opts.
func NewSet(opts Options) *Set {
	opts.withDefaults()
	o := &opts
	return &Set{
		Standalone:  &Standalone{opts: o},
		Binary:      &Binary{opts: o},
		HTTPService: &HTTPService{opts: o},
		CLI:         &CLI{opts: o},
	}
}

// For returns the launcher handling rt.
func (s *Set) For(rt manifest.RuntimeConfig) (Launcher, error) {
	switch rt.(type) {
	case *manifest.StandaloneRuntime:
		return s.Standalone, nil
	case *manifest.BinaryRuntime:
		return s.Binary, nil
	case *manifest.HTTPServiceRuntime:
		return s.HTTPService, nil
	case *manifest.CLIRuntime:
		return s.CLI, nil
	default:
		return nil, fmt.Errorf("unsupported runtime %T", rt)
	}
}

// Launch implements Launcher by dispatching on the manifest's runtime.
func (s *Set) Launch(ctx context.Context, req Request) (*Result, error) {
	if req.Manifest == nil || req.Manifest.Runtime == nil {
		return nil, &LaunchError{ToolID: req.ToolID, Reason: ReasonSpawn, Err: fmt.Errorf("manifest has no runtime")}
	}
	l, err := s.For(req.Manifest.Runtime)
	if err != nil {
		return nil, &LaunchError{ToolID: req.ToolID, Kind: req.Manifest.Kind(), Reason: ReasonSpawn, Err: err}
	}
	return l.Launch(ctx, req)
}
