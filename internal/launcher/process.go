package launcher

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// outputWaitDelay bounds how long Wait keeps copying output after the
// process exits, in case grandchildren hold the pipes open.
const outputWaitDelay = 2 * time.Second

// Process is a child process owned by the host.
type Process interface {
	PID() int
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// ExitCode is valid after Done is closed; -1 when killed by a signal.
	ExitCode() int
	// Err reports a failure to wait on the process, as opposed to a
	// non-zero exit.
	Err() error
	// Terminate stops the process tree, forcing it after grace.
	Terminate(grace time.Duration) error
}

// SpawnSpec describes a process to start.
type SpawnSpec struct {
	Path string
	Args []string
	Dir  string
	Env  []string
	// Detached processes get their own session and are released right after
	// start; the returned Process never reports an exit.
	Detached bool
	// Output receives stdout lines at info and stderr lines at warn.
	Output *zap.Logger
}

// Spawner starts processes.
type Spawner interface {
	Spawn(spec SpawnSpec) (Process, error)
}

// ExecSpawner starts real OS processes with os/exec.
type ExecSpawner struct {
	logger *zap.Logger
}

// NewExecSpawner returns a spawner backed by os/exec.
func NewExecSpawner(logger *zap.Logger) *ExecSpawner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecSpawner{logger: logger}
}

// Spawn implements Spawner.
func (s *ExecSpawner) Spawn(spec SpawnSpec) (Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	setProcAttrs(cmd, spec.Detached)

	if spec.Detached {
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start %s: %w", spec.Path, err)
		}
		pid := cmd.Process.Pid
		if err := cmd.Process.Release(); err != nil {
			s.logger.Debug("Failed to release detached process", zap.Int("pid", pid), zap.Error(err))
		}
		s.logger.Info("Started detached process", zap.String("path", spec.Path), zap.Int("pid", pid))
		return detachedProcess{pid: pid}, nil
	}

	out := spec.Output
	if out == nil {
		out = zap.NewNop()
	}
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.WaitDelay = outputWaitDelay

	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Path, err)
	}

	p := &execProcess{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		done:   make(chan struct{}),
		logger: s.logger,
	}
	var outputs sync.WaitGroup
	outputs.Add(2)
	go captureOutput(stdoutR, out, "stdout", zapcore.InfoLevel, &outputs)
	go captureOutput(stderrR, out, "stderr", zapcore.WarnLevel, &outputs)
	go p.wait(stdoutW, stderrW, &outputs)

	s.logger.Info("Started process",
		zap.String("path", spec.Path),
		zap.Strings("args", spec.Args),
		zap.String("dir", spec.Dir),
		zap.Int("pid", p.pid))
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	pid    int
	done   chan struct{}
	logger *zap.Logger

	exitCode int
	waitErr  error
}

func (p *execProcess) PID() int              { return p.pid }
func (p *execProcess) Done() <-chan struct{} { return p.done }
func (p *execProcess) ExitCode() int         { return p.exitCode }
func (p *execProcess) Err() error            { return p.waitErr }

func (p *execProcess) Terminate(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return killTree(p.pid, grace, p.done, p.logger)
}

func (p *execProcess) wait(stdout, stderr io.Closer, outputs *sync.WaitGroup) {
	err := p.cmd.Wait()
	stdout.Close()
	stderr.Close()
	outputs.Wait()

	var exitErr *exec.ExitError
	switch {
	case err == nil, errors.Is(err, exec.ErrWaitDelay):
		p.exitCode = p.cmd.ProcessState.ExitCode()
	case errors.As(err, &exitErr):
		p.exitCode = exitErr.ExitCode()
	default:
		p.exitCode = -1
		p.waitErr = err
	}
	p.logger.Info("Process exited", zap.Int("pid", p.pid), zap.Int("exit_code", p.exitCode), zap.Error(p.waitErr))
	close(p.done)
}

// captureOutput logs each line of r at level.
func captureOutput(r io.ReadCloser, logger *zap.Logger, stream string, level zapcore.Level, wg *sync.WaitGroup) {
	defer wg.Done()
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ce := logger.Check(level, scanner.Text()); ce != nil {
			ce.Write(zap.String("stream", stream))
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Debug("Output capture stopped", zap.String("stream", stream), zap.Error(err))
		// Drain so the writer side never blocks.
		_, _ = io.Copy(io.Discard, r)
	}
}

type detachedProcess struct {
	pid int
}

func (d detachedProcess) PID() int                      { return d.pid }
func (d detachedProcess) Done() <-chan struct{}         { return nil }
func (d detachedProcess) ExitCode() int                 { return 0 }
func (d detachedProcess) Err() error                    { return nil }
func (d detachedProcess) Terminate(time.Duration) error { return nil }

// ProcessEventType tells an exit from a wait failure.
type ProcessEventType string

const (
	ProcessExited ProcessEventType = "exited"
	ProcessFailed ProcessEventType = "failed"
)

// ProcessEvent reports that a launched process ended.
type ProcessEvent struct {
	SessionID string
	ToolID    string
	Type      ProcessEventType
	ExitCode  int
	Err       error
}

// Watch forwards proc's exit to events once. It gives up when stop closes.
// Processes whose Done channel is nil never report.
func Watch(proc Process, sessionID, toolID string, events chan<- ProcessEvent, stop <-chan struct{}) {
	if proc == nil || proc.Done() == nil || events == nil {
		return
	}
	go func() {
		select {
		case <-proc.Done():
		case <-stop:
			return
		}
		ev := ProcessEvent{SessionID: sessionID, ToolID: toolID, Type: ProcessExited, ExitCode: proc.ExitCode()}
		if err := proc.Err(); err != nil {
			ev.Type = ProcessFailed
			ev.Err = err
		}
		select {
		case events <- ev:
		case <-stop:
		}
	}()
}
