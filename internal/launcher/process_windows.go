//go:build windows

package launcher

import (
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

func setProcAttrs(cmd *exec.Cmd, detached bool) {
	flags := uint32(windows.CREATE_NEW_PROCESS_GROUP)
	if detached {
		flags |= windows.DETACHED_PROCESS
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: flags}
}

// killTree force-kills pid and its children with taskkill; Windows has no
// graceful equivalent of SIGTERM for console-less processes.
func killTree(pid int, grace time.Duration, done <-chan struct{}, logger *zap.Logger) error {
	if pid <= 0 {
		return nil
	}
	kill := exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T", "/F")
	kill.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	if out, err := kill.CombinedOutput(); err != nil {
		logger.Warn("taskkill failed", zap.Int("pid", pid), zap.ByteString("output", out), zap.Error(err))
		return err
	}

	select {
	case <-done:
	case <-time.After(grace):
		logger.Warn("Process still running after taskkill", zap.Int("pid", pid))
	}
	return nil
}
