package launcher

import (
	"context"
	"sync"
	"time"

	"github.com/booltox/toolhost/internal/deps"
)

type fakeProcess struct {
	pid        int
	done       chan struct{}
	exitCode   int
	once       sync.Once
	mu         sync.Mutex
	terminated int
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) PID() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) ExitCode() int         { return p.exitCode }
func (p *fakeProcess) Err() error            { return nil }

func (p *fakeProcess) Terminate(time.Duration) error {
	p.mu.Lock()
	p.terminated++
	p.mu.Unlock()
	p.exit(-1)
	return nil
}

func (p *fakeProcess) exit(code int) {
	p.once.Do(func() {
		p.exitCode = code
		close(p.done)
	})
}

func (p *fakeProcess) terminateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

type fakeSpawner struct {
	mu     sync.Mutex
	specs  []SpawnSpec
	procs  []*fakeProcess
	nextID int
	err    error
}

func (s *fakeSpawner) Spawn(spec SpawnSpec) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.nextID++
	p := newFakeProcess(1000 + s.nextID)
	s.specs = append(s.specs, spec)
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSpawner) calls() []SpawnSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SpawnSpec(nil), s.specs...)
}

type fakeOpener struct {
	mu   sync.Mutex
	urls []string
}

func (o *fakeOpener) Open(url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, url)
	return nil
}

func (o *fakeOpener) opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.urls...)
}

type fakeTerminal struct {
	reqs []TerminalRequest
	proc *fakeProcess
}

func (t *fakeTerminal) Launch(req TerminalRequest) (Process, error) {
	t.reqs = append(t.reqs, req)
	t.proc = newFakeProcess(4242)
	return t.proc, nil
}

type fakeDeps struct {
	need    bool
	result  deps.InstallResult
	checked []string
	install int
}

func (d *fakeDeps) NeedsSetup(_ context.Context, _ string, requirementsPath string) (bool, error) {
	d.checked = append(d.checked, requirementsPath)
	return d.need, nil
}

func (d *fakeDeps) Install(context.Context, string, string) (deps.InstallResult, error) {
	d.install++
	return d.result, nil
}
