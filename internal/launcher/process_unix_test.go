//go:build unix

package launcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestExecSpawner_CapturesOutputAndExitCode(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sp := NewExecSpawner(zaptest.NewLogger(t))

	proc, err := sp.Spawn(SpawnSpec{
		Path:   "/bin/sh",
		Args:   []string{"-c", "echo hello; echo oops 1>&2; exit 3"},
		Output: zap.New(core),
	})
	require.NoError(t, err)

	events := make(chan ProcessEvent, 1)
	stop := make(chan struct{})
	defer close(stop)
	Watch(proc, "s1", "com.example.sh", events, stop)

	select {
	case ev := <-events:
		assert.Equal(t, "s1", ev.SessionID)
		assert.Equal(t, "com.example.sh", ev.ToolID)
		assert.Equal(t, ProcessExited, ev.Type)
		assert.Equal(t, 3, ev.ExitCode)
	case <-time.After(5 * time.Second):
		t.Fatal("no exit event")
	}

	out := logs.FilterMessage("hello").All()
	require.Len(t, out, 1)
	assert.Equal(t, zapcore.InfoLevel, out[0].Level)
	errOut := logs.FilterMessage("oops").All()
	require.Len(t, errOut, 1)
	assert.Equal(t, zapcore.WarnLevel, errOut[0].Level)
}

func TestExecProcess_TerminateStopsGroup(t *testing.T) {
	sp := NewExecSpawner(zaptest.NewLogger(t))
	proc, err := sp.Spawn(SpawnSpec{Path: "/bin/sh", Args: []string{"-c", "sleep 30"}})
	require.NoError(t, err)

	require.NoError(t, proc.Terminate(2*time.Second))
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process still running after Terminate")
	}
	assert.NotEqual(t, 0, proc.ExitCode())
}

func TestWatch_StopSuppressesEvent(t *testing.T) {
	p := newFakeProcess(7)
	events := make(chan ProcessEvent, 1)
	stop := make(chan struct{})
	Watch(p, "s1", "t", events, stop)
	close(stop)
	time.Sleep(20 * time.Millisecond)
	p.exit(0)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
