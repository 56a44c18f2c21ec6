//go:build unix

package launcher

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func setProcAttrs(cmd *exec.Cmd, detached bool) {
	if detached {
		// New session: survives the host and its terminal.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: 0}
}

// killTree sends SIGTERM to the process group led by pid and SIGKILL if it
// has not exited after grace.
func killTree(pid int, grace time.Duration, done <-chan struct{}, logger *zap.Logger) error {
	if pid <= 0 {
		return nil
	}
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		logger.Warn("Failed to send SIGTERM to process group", zap.Int("pgid", pid), zap.Error(err))
		// Not a group leader after all; signal the process itself.
		_ = unix.Kill(pid, unix.SIGTERM)
	}

	select {
	case <-done:
		return nil
	case <-time.After(grace):
	}

	logger.Warn("Process group did not exit after SIGTERM, sending SIGKILL",
		zap.Int("pgid", pid), zap.Duration("grace", grace))
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}
