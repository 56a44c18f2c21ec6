package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/booltox/toolhost/internal/httpapi"
	"github.com/booltox/toolhost/internal/logs"
	"github.com/booltox/toolhost/internal/registry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor and its control API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().StringP("listen", "l", "", "Control API listen address")
	cmd.Flags().Bool("watch", false, "Rescan tool directories when they change")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	logDir := cfg.Logging.LogDir
	if logDir == "" {
		logDir = logs.GetLogDir()
	}
	logger.Info("Log directory configured", zap.String("path", logDir))
	logger.Info("Starting toolhost",
		zap.String("version", version),
		zap.String("data_dir", cfg.DataDir),
		zap.String("tools_dir", cfg.ToolsDir),
		zap.Bool("dev_mode", cfg.DevMode))

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.scan()
	if cfg.Watch {
		go func() {
			err := a.registry.Watch(ctx, registry.DefaultWatchDebounce, func(res registry.ScanResult) {
				logger.Info("Tool directories changed, rescanned",
					zap.Int("loaded", res.Loaded),
					zap.Int("rejected", len(res.Rejected)))
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Tool directory watcher stopped", zap.Error(err))
			}
		}()
	}

	api := httpapi.NewServer(a.registry, a.supervisor, a.hub, logger.Named("http").Sugar(), a.obs)
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		shutdownApp(a)
		return listenError(cfg.Listen, err)
	}
	srv := &http.Server{
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Control API listening", zap.String("addr", ln.Addr().String()))
		serveErr <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown requested")
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(serr))
	}
	a.close(shutdownCtx)
	logger.Info("Shutdown complete")
	return err
}

func shutdownApp(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.close(ctx)
}

func listenError(addr string, err error) error {
	if errors.Is(err, syscall.EADDRINUSE) {
		return &exitError{code: ExitCodePortConflict, err: fmt.Errorf("listen address %s is already in use: %w", addr, err)}
	}
	return fmt.Errorf("failed to listen on %s: %w", addr, err)
}
