package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/booltox/toolhost/internal/broadcast"
	"github.com/booltox/toolhost/internal/cli/output"
	"github.com/booltox/toolhost/internal/launcher"
	"github.com/booltox/toolhost/internal/supervisor"
)

// launchSurface names the CLI as a surface so events route back to it.
const launchSurface = "cli"

func newLaunchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "launch <tool-id>",
		Short: "Start one tool and follow its state until it stops or Ctrl-C",
		Args:  cobra.ExactArgs(1),
		RunE:  runLaunch,
	}
}

func runLaunch(cmd *cobra.Command, args []string) error {
	toolID := args[0]
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// The launch command prints events itself; the log stays on file.
	if cfg.Logging != nil && cfg.Logging.EnableFile {
		cfg.Logging.EnableConsole = false
	}
	logger, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	a.scan()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, unsubscribe := a.hub.Subscribe(launchSurface, true)
	ended := make(chan struct{})
	go func() {
		defer close(ended)
		followEvents(cmd.OutOrStdout(), events, toolID)
	}()

	_, startErr := a.supervisor.Start(ctx, toolID, launchSurface)
	if startErr == nil {
		select {
		case <-ctx.Done():
		case <-ended:
		}
		if err := a.supervisor.Stop(context.Background(), toolID, launchSurface); err != nil {
			logger.Debug("Stop after launch", zap.Error(err))
		}
	}

	shutdownApp(a)
	unsubscribe()
	<-ended
	return launchCommandError(toolID, startErr)
}

// followEvents prints toolID's events until the session ends.
func followEvents(w io.Writer, events <-chan broadcast.Event, toolID string) {
	for ev := range events {
		if ev.ToolID != toolID {
			continue
		}
		fmt.Fprintln(w, describeEvent(ev))
		if ev.Status == broadcast.StatusStopped || ev.Status == broadcast.StatusError {
			return
		}
	}
}

func describeEvent(ev broadcast.Event) string {
	line := fmt.Sprintf("%s  %-9s %s", ev.Timestamp.Format("15:04:05"), ev.Status, ev.ToolID)
	switch {
	case ev.URL != "":
		line += "  " + ev.URL
	case ev.PID > 0:
		line += fmt.Sprintf("  pid %d", ev.PID)
	}
	if ev.Launcher {
		line += "  (running on its own)"
	}
	if ev.ExitCode != nil {
		line += fmt.Sprintf("  exit code %d", *ev.ExitCode)
	}
	if ev.Message != "" {
		line += "  " + ev.Message
	}
	return line
}

func launchCommandError(toolID string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, supervisor.ErrToolNotFound) {
		return &exitError{code: ExitCodeNotFound, err: output.NewStructuredError(output.ErrCodeToolNotFound,
			fmt.Sprintf("tool %s not found", toolID)).
			WithRecoveryCommand("toolhost list")}
	}
	var le *launcher.LaunchError
	if errors.As(err, &le) {
		se := output.NewStructuredError(output.ErrCodeLaunchFailed, le.Error()).
			WithContext("reason", string(le.Reason))
		if le.Reason == launcher.ReasonMissingExecutable {
			se = se.WithGuidance("build or download the tool's executable, then retry")
		}
		return se
	}
	return err
}
