package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/booltox/toolhost/internal/config"
	"github.com/booltox/toolhost/internal/logs"
	"github.com/booltox/toolhost/internal/manifest"
	"github.com/booltox/toolhost/internal/registry"
	"github.com/booltox/toolhost/internal/storage"
)

// commandStoreTimeout bounds how long one-shot commands wait for a database
// held by a running serve.
const commandStoreTimeout = 2 * time.Second

// commandEnv is the config, logger and store a one-shot command works with.
type commandEnv struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *storage.BoltDB
}

func newCommandEnv(cmd *cobra.Command) (*commandEnv, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	level, _ := cmd.Flags().GetString("log-level")
	logger := logs.SetupCommandLogger(level)

	store, err := storage.OpenBoltDB(cfg.DataDir, logger.Sugar(), commandStoreTimeout)
	if err != nil {
		return nil, err
	}
	return &commandEnv{cfg: cfg, logger: logger, store: store}, nil
}

func (e *commandEnv) close() {
	_ = e.store.Close()
	_ = e.logger.Sync()
}

func (e *commandEnv) registry() *registry.Registry {
	return registry.New(registry.Options{
		Logger: e.logger,
		Load:   manifest.LoadOptions{HostProtocol: e.cfg.ProtocolVersion},
		Store:  e.store,
	})
}
