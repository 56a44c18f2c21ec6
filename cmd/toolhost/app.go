package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/booltox/toolhost/internal/broadcast"
	"github.com/booltox/toolhost/internal/config"
	"github.com/booltox/toolhost/internal/deps"
	"github.com/booltox/toolhost/internal/launcher"
	"github.com/booltox/toolhost/internal/logs"
	"github.com/booltox/toolhost/internal/manifest"
	"github.com/booltox/toolhost/internal/observability"
	"github.com/booltox/toolhost/internal/registry"
	"github.com/booltox/toolhost/internal/secureenv"
	"github.com/booltox/toolhost/internal/storage"
	"github.com/booltox/toolhost/internal/supervisor"
)

// app holds the long-lived components shared by serve and launch.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      *storage.BoltDB
	obs        *observability.Manager
	registry   *registry.Registry
	hub        *broadcast.Hub
	supervisor *supervisor.Supervisor
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	sugar := logger.Sugar()

	store, err := storage.NewBoltDB(cfg.DataDir, sugar)
	if err != nil {
		return nil, err
	}

	obs, err := observability.NewManager(sugar, cfg, version)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	reg := registry.New(registry.Options{
		Logger:   logger.Named("registry"),
		Load:     manifest.LoadOptions{HostProtocol: cfg.ProtocolVersion},
		Store:    store,
		Observer: obs,
	})

	depsManager := deps.NewManager(store, cfg.EnvDir(), cfg.Interpreters, logger.Named("deps"))
	opener := launcher.NewBrowserOpener(logger)
	launchers := launcher.NewSet(launcher.Options{
		Logger: logger.Named("launcher"),
		ToolLogger: func(toolID string) *zap.Logger {
			tl, err := logs.CreateToolLogger(cfg.Logging, logger, toolID)
			if err != nil {
				logger.Warn("Falling back to main log for tool output", zap.String("tool_id", toolID), zap.Error(err))
				return logger.With(zap.String("tool_id", toolID))
			}
			return tl
		},
		Opener:              opener,
		Checker:             depsManager,
		Installer:           depsManager,
		Interpreters:        cfg.Interpreters,
		SDKPath:             cfg.SDKPath,
		EnvDir:              cfg.EnvDir(),
		PollInterval:        cfg.Supervisor.ReadyPollInterval,
		ProbeTimeout:        cfg.Supervisor.ReadyProbeTimeout,
		DefaultReadyTimeout: cfg.Supervisor.DefaultReadyTimeout,
		KillGrace:           cfg.Supervisor.KillGrace,
		Environ:             secureenv.NewManager(cfg.Environment).Environ,
	})

	hub := broadcast.NewHub(logger.Named("events"))
	var out broadcast.Broadcaster = hub
	if cfg.Notifications {
		out = broadcast.NewNotifier(hub, logger.Named("notify"))
	}

	sup := supervisor.New(supervisor.Options{
		Logger:        logger.Named("supervisor"),
		Registry:      reg,
		Launcher:      launchers,
		Opener:        opener,
		Broadcaster:   out,
		Observability: obs,
		Config:        cfg.Supervisor,
	})

	obs.RegisterHealthChecker(observability.NewCheck("storage", func(context.Context) error {
		_, err := store.GetSchemaVersion()
		return err
	}))
	obs.RegisterHealthChecker(observability.NewCheck("registry", func(context.Context) error {
		if !reg.Scanned() {
			return errors.New("tool scan has not completed")
		}
		return nil
	}))

	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		obs:        obs,
		registry:   reg,
		hub:        hub,
		supervisor: sup,
	}, nil
}

// scan runs the initial discovery over the configured sources.
func (a *app) scan() registry.ScanResult {
	res := a.registry.Scan(registry.SourcesFromConfig(a.cfg))
	a.logger.Info("Tool scan complete",
		zap.Int("loaded", res.Loaded),
		zap.Int("rejected", len(res.Rejected)),
		zap.Duration("duration", res.Duration))
	return res
}

// close stops every session, then releases storage and telemetry.
func (a *app) close(ctx context.Context) {
	if err := a.supervisor.Close(ctx); err != nil {
		a.logger.Warn("Supervisor shutdown incomplete", zap.Error(err))
	}
	if err := a.obs.Close(ctx); err != nil {
		a.logger.Warn("Observability shutdown failed", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close database", zap.Error(err))
	}
}

// setupLogger applies the command-line log overrides and builds the logger.
func setupLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Logging == nil {
		cfg.Logging = config.DefaultLogConfig()
	}
	logger, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	return logger, nil
}
