// Package supervisor owns the live session of every started tool.
//
// A single goroutine owns the session table. Public methods send it commands
// and wait for replies; launches, timers and process exits report back to it
// as messages, so session state is only ever mutated in one place.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/booltox/toolhost/internal/broadcast"
	"github.com/booltox/toolhost/internal/config"
	"github.com/booltox/toolhost/internal/launcher"
	"github.com/booltox/toolhost/internal/manifest"
	"github.com/booltox/toolhost/internal/observability"
	"github.com/booltox/toolhost/internal/registry"
)

const inboxSize = 64

// Options configure a Supervisor.
type Options struct {
	Logger        *zap.Logger
	Registry      Registry
	Launcher      launcher.Launcher
	Opener        launcher.URLOpener
	Broadcaster   broadcast.Broadcaster
	Observability *observability.Manager
	Config        config.SupervisorConfig
}

// Supervisor dedupes launches per tool, counts the surfaces using each
// session and tears sessions down once nobody uses them.
type Supervisor struct {
	logger   *zap.Logger
	registry Registry
	launcher launcher.Launcher
	opener   launcher.URLOpener
	events   broadcast.Broadcaster
	obs      *observability.Manager
	cfg      config.SupervisorConfig

	inbox chan any
	exits chan launcher.ProcessEvent

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	kills  sync.WaitGroup

	// Owned by the loop.
	sessions map[string]*session
}

type startReply struct {
	pid int
	err error
}

type startCmd struct {
	tool    *registry.Tool
	surface string
	reply   chan startReply
}

type stopCmd struct {
	toolID  string
	surface string
	reply   chan struct{}
}

type focusCmd struct {
	toolID string
	reply  chan error
}

type sessionsCmd struct {
	reply chan []SessionInfo
}

type closeCmd struct {
	reply chan struct{}
}

type launchDone struct {
	toolID    string
	sessionID string
	result    *launcher.Result
	err       error
}

type teardownFired struct {
	toolID    string
	sessionID string
	gen       int
}

type releaseFired struct {
	toolID    string
	sessionID string
}

// New starts a supervisor. Call Close to stop it.
func New(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := opts.Broadcaster
	if events == nil {
		events = broadcast.Nop
	}
	obs := opts.Observability
	if obs == nil {
		obs = observability.NewNopManager()
	}
	opener := opts.Opener
	if opener == nil {
		opener = launcher.NewBrowserOpener(logger)
	}
	cfg := opts.Config
	def := config.DefaultSupervisorConfig()
	if cfg.TeardownDelay <= 0 {
		cfg.TeardownDelay = def.TeardownDelay
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = def.KillGrace
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		logger:   logger.Named("supervisor"),
		registry: opts.Registry,
		launcher: opts.Launcher,
		opener:   opener,
		events:   events,
		obs:      obs,
		cfg:      cfg,
		inbox:    make(chan any, inboxSize),
		exits:    make(chan launcher.ProcessEvent, inboxSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		sessions: make(map[string]*session),
	}
	go s.run()
	return s
}

// Start registers one more user of toolID's session, launching the tool if
// no session is running or loading. Concurrent starts share one launch. It
// returns the process pid or launcher.SentinelPID.
func (s *Supervisor) Start(ctx context.Context, toolID, surface string) (int, error) {
	ctx, span := s.obs.Tracing().TraceStart(ctx, toolID, surface)
	pid, err := s.start(ctx, toolID, surface)
	span.SetAttributes(attribute.Int("process.pid", pid))
	observability.EndSpan(span, err)
	return pid, err
}

func (s *Supervisor) start(ctx context.Context, toolID, surface string) (int, error) {
	tool, err := s.registry.Get(toolID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrToolNotFound, toolID)
		}
		return 0, err
	}

	reply := make(chan startReply, 1)
	if err := s.send(ctx, startCmd{tool: tool, surface: surface, reply: reply}); err != nil {
		return 0, err
	}
	select {
	case r := <-reply:
		return r.pid, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-s.done:
		return 0, ErrClosed
	}
}

// Stop releases one user of toolID's session. When no users remain the
// session is torn down after the teardown delay unless started again.
func (s *Supervisor) Stop(ctx context.Context, toolID, surface string) error {
	reply := make(chan struct{})
	if err := s.send(ctx, stopCmd{toolID: toolID, surface: surface, reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Focus brings a running tool to the front: http-service tools have their
// URL opened again, others get a running event telling the surface to find
// the tool's own window.
func (s *Supervisor) Focus(ctx context.Context, toolID string) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, focusCmd{toolID: toolID, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Sessions returns a snapshot of every live session.
func (s *Supervisor) Sessions(ctx context.Context) ([]SessionInfo, error) {
	reply := make(chan []SessionInfo, 1)
	if err := s.send(ctx, sessionsCmd{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case infos := <-reply:
		return infos, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	}
}

// Close tears down every session, killing owned processes, and stops the
// supervisor. It waits for kills to finish until ctx is done.
func (s *Supervisor) Close(ctx context.Context) error {
	reply := make(chan struct{})
	select {
	case s.inbox <- closeCmd{reply: reply}:
		select {
		case <-reply:
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	killed := make(chan struct{})
	go func() {
		s.kills.Wait()
		close(killed)
	}()
	select {
	case <-killed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) send(ctx context.Context, cmd any) error {
	select {
	case s.inbox <- cmd:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers a message from a launch, timer or watcher goroutine. It
// reports false once the loop has exited.
func (s *Supervisor) post(msg any) bool {
	select {
	case s.inbox <- msg:
		return true
	case <-s.done:
		return false
	}
}

func (s *Supervisor) run() {
	defer s.once.Do(func() { close(s.done) })
	s.logger.Debug("Supervisor loop started")

	for {
		select {
		case msg := <-s.inbox:
			if c, ok := msg.(closeCmd); ok {
				s.cleanupAll()
				s.cancel()
				s.once.Do(func() { close(s.done) })
				close(c.reply)
				s.logger.Info("Supervisor stopped")
				return
			}
			s.handle(msg)

		case ev := <-s.exits:
			s.handleExit(ev)
		}
	}
}

func (s *Supervisor) handle(msg any) {
	switch m := msg.(type) {
	case startCmd:
		s.handleStart(m)
	case stopCmd:
		s.handleStop(m)
		close(m.reply)
	case focusCmd:
		m.reply <- s.handleFocus(m.toolID)
	case sessionsCmd:
		infos := make([]SessionInfo, 0, len(s.sessions))
		for _, sess := range s.sessions {
			infos = append(infos, sess.info())
		}
		m.reply <- infos
	case launchDone:
		s.handleLaunchDone(m)
	case teardownFired:
		s.handleTeardownFired(m)
	case releaseFired:
		s.handleReleaseFired(m)
	default:
		s.logger.Warn("Unknown supervisor message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (s *Supervisor) handleStart(cmd startCmd) {
	toolID := cmd.tool.ID
	sess, ok := s.sessions[toolID]
	if !ok {
		sess = &session{
			id:        uuid.NewString(),
			tool:      cmd.tool,
			kind:      cmd.tool.Manifest.Kind(),
			createdAt: time.Now(),
		}
		s.sessions[toolID] = sess
		s.obs.SetActiveSessions(len(s.sessions))
	}

	if sess.teardown != nil {
		s.logger.Debug("Start cancelled pending teardown",
			zap.String("tool_id", toolID),
			zap.String("session_id", sess.id))
		s.cancelTeardown(sess)
	}
	sess.refCount++
	if cmd.surface != "" {
		sess.surface = cmd.surface
	}
	s.emit(sess, broadcast.StatusLaunching, broadcast.Extra{})

	switch sess.state {
	case StateRunning:
		if sess.result.URL != "" {
			s.openURL(toolID, sess.result.URL)
		}
		extra := s.runningExtra(sess)
		extra.Focused = true
		s.emit(sess, broadcast.StatusRunning, extra)
		cmd.reply <- startReply{pid: sess.result.PID}

	case StateLoading:
		s.obs.RecordDedupedStart()
		sess.waiters = append(sess.waiters, cmd.reply)

	default:
		sess.state = StateLoading
		sess.waiters = append(sess.waiters, cmd.reply)
		s.launch(sess)
	}

	s.logger.Debug("Session started",
		zap.String("tool_id", toolID),
		zap.String("session_id", sess.id),
		zap.String("surface", cmd.surface),
		zap.Int("ref_count", sess.refCount))
}

// launch runs the launcher in its own goroutine. The result comes back as a
// launchDone message.
func (s *Supervisor) launch(sess *session) {
	ctx, cancel := context.WithCancel(s.ctx)
	sess.cancelLaunch = cancel
	sess.launchedAt = time.Now()

	req := launcher.Request{
		SessionID: sess.id,
		ToolID:    sess.tool.ID,
		ToolPath:  sess.tool.Path,
		Manifest:  sess.tool.Manifest,
	}
	s.logger.Info("Launching tool",
		zap.String("tool_id", req.ToolID),
		zap.String("session_id", req.SessionID),
		zap.String("kind", string(sess.kind)),
		zap.String("path", req.ToolPath))

	go func() {
		defer cancel()
		ctx, span := s.obs.Tracing().TraceLaunch(ctx, req.ToolID, string(sess.kind), req.SessionID)
		res, err := s.launcher.Launch(ctx, req)
		observability.EndSpan(span, err)

		done := launchDone{toolID: req.ToolID, sessionID: req.SessionID, result: res, err: err}
		if !s.post(done) {
			s.discard(req.ToolID, res)
		}
	}()
}

func (s *Supervisor) handleLaunchDone(m launchDone) {
	sess, ok := s.sessions[m.toolID]
	if !ok || sess.id != m.sessionID || sess.state != StateLoading {
		s.logger.Info("Launch finished for a session that no longer exists",
			zap.String("tool_id", m.toolID),
			zap.String("session_id", m.sessionID),
			zap.Error(m.err))
		s.discard(m.toolID, m.result)
		return
	}

	s.obs.RecordLaunch(string(sess.kind), time.Since(sess.launchedAt), m.err)
	sess.cancelLaunch = nil
	waiters := sess.waiters
	sess.waiters = nil

	if m.err != nil {
		s.logger.Error("Tool launch failed",
			zap.String("tool_id", m.toolID),
			zap.String("session_id", sess.id),
			zap.Error(m.err))
		s.remove(sess)
		s.emit(sess, broadcast.StatusError, broadcast.Extra{Message: m.err.Error()})
		for _, w := range waiters {
			w <- startReply{err: m.err}
		}
		return
	}

	sess.result = m.result
	sess.state = StateRunning
	detachedRelease := sess.launcherMode() && s.cfg.DetachedReleaseDelay > 0
	if !detachedRelease {
		sess.stopWatch = make(chan struct{})
		launcher.Watch(m.result.Process, sess.id, m.toolID, s.exits, sess.stopWatch)
	}

	s.logger.Info("Tool running",
		zap.String("tool_id", m.toolID),
		zap.String("session_id", sess.id),
		zap.Int("pid", m.result.PID),
		zap.String("url", m.result.URL),
		zap.Int("ref_count", sess.refCount))
	s.emit(sess, broadcast.StatusRunning, s.runningExtra(sess))
	for _, w := range waiters {
		w <- startReply{pid: m.result.PID}
	}

	if detachedRelease {
		id := sess.id
		sess.release = time.AfterFunc(s.cfg.DetachedReleaseDelay, func() {
			s.post(releaseFired{toolID: m.toolID, sessionID: id})
		})
	}
}

func (s *Supervisor) handleStop(cmd stopCmd) {
	sess, ok := s.sessions[cmd.toolID]
	if !ok {
		s.logger.Debug("Stop for tool without a session", zap.String("tool_id", cmd.toolID))
		return
	}

	if sess.refCount > 0 {
		sess.refCount--
	}
	s.logger.Debug("Session released",
		zap.String("tool_id", cmd.toolID),
		zap.String("session_id", sess.id),
		zap.String("surface", cmd.surface),
		zap.Int("ref_count", sess.refCount))
	if sess.refCount > 0 || sess.teardown != nil {
		return
	}

	s.emit(sess, broadcast.StatusStopping, broadcast.Extra{})
	sess.teardownGen++
	gen, id := sess.teardownGen, sess.id
	sess.teardown = time.AfterFunc(s.cfg.TeardownDelay, func() {
		s.post(teardownFired{toolID: cmd.toolID, sessionID: id, gen: gen})
	})
}

func (s *Supervisor) handleTeardownFired(m teardownFired) {
	sess, ok := s.sessions[m.toolID]
	if !ok || sess.id != m.sessionID || sess.teardown == nil || sess.teardownGen != m.gen {
		return
	}
	sess.teardown = nil
	s.teardown(sess, ErrSessionStopped)
	s.emit(sess, broadcast.StatusStopped, broadcast.Extra{})
}

func (s *Supervisor) handleReleaseFired(m releaseFired) {
	sess, ok := s.sessions[m.toolID]
	if !ok || sess.id != m.sessionID || sess.state != StateRunning {
		return
	}
	sess.release = nil
	s.logger.Info("Releasing launcher-mode session",
		zap.String("tool_id", m.toolID),
		zap.String("session_id", sess.id))
	s.remove(sess)
	s.emit(sess, broadcast.StatusStopped, broadcast.Extra{Launcher: true, External: true})
}

// handleExit ends a session whose process exited on its own, regardless of
// ref count or pending teardown.
func (s *Supervisor) handleExit(ev launcher.ProcessEvent) {
	sess, ok := s.sessions[ev.ToolID]
	if !ok || sess.id != ev.SessionID {
		s.logger.Debug("Exit from a superseded session ignored",
			zap.String("tool_id", ev.ToolID),
			zap.String("session_id", ev.SessionID))
		return
	}

	s.obs.RecordProcessExit(string(sess.kind))
	s.remove(sess)

	code := ev.ExitCode
	if ev.Type == launcher.ProcessFailed {
		s.logger.Error("Tool process failed",
			zap.String("tool_id", ev.ToolID),
			zap.String("session_id", ev.SessionID),
			zap.Error(ev.Err))
		s.emit(sess, broadcast.StatusError, broadcast.Extra{Message: ev.Err.Error(), ExitCode: &code})
		return
	}
	s.logger.Info("Tool process exited",
		zap.String("tool_id", ev.ToolID),
		zap.String("session_id", ev.SessionID),
		zap.Int("exit_code", code))
	s.emit(sess, broadcast.StatusStopped, broadcast.Extra{ExitCode: &code})
}

func (s *Supervisor) handleFocus(toolID string) error {
	sess, ok := s.sessions[toolID]
	if !ok || sess.state != StateRunning {
		return fmt.Errorf("%w: %s", ErrNotRunning, toolID)
	}
	if sess.kind == manifest.KindHTTPService && sess.result.URL != "" {
		s.openURL(toolID, sess.result.URL)
	}
	extra := s.runningExtra(sess)
	extra.Focused = true
	s.emit(sess, broadcast.StatusRunning, extra)
	return nil
}

// teardown kills the session's owned process, fails pending waiters with
// waitErr and removes the session. Kill failures are logged only.
func (s *Supervisor) teardown(sess *session, waitErr error) {
	if sess.cancelLaunch != nil {
		sess.cancelLaunch()
		sess.cancelLaunch = nil
	}
	for _, w := range sess.waiters {
		w <- startReply{err: waitErr}
	}
	sess.waiters = nil

	if r := sess.result; r != nil && r.Process != nil && !r.Detached {
		s.kill(sess.tool.ID, r.Process)
	}
	s.remove(sess)
	s.logger.Info("Session torn down",
		zap.String("tool_id", sess.tool.ID),
		zap.String("session_id", sess.id))
}

// remove drops the session from the table and stops its timers and watcher.
func (s *Supervisor) remove(sess *session) {
	s.cancelTeardown(sess)
	if sess.release != nil {
		sess.release.Stop()
		sess.release = nil
	}
	if sess.stopWatch != nil {
		close(sess.stopWatch)
		sess.stopWatch = nil
	}
	sess.refCount = 0
	if cur, ok := s.sessions[sess.tool.ID]; ok && cur == sess {
		delete(s.sessions, sess.tool.ID)
	}
	s.obs.SetActiveSessions(len(s.sessions))
}

func (s *Supervisor) cancelTeardown(sess *session) {
	if sess.teardown != nil {
		sess.teardown.Stop()
		sess.teardown = nil
		sess.teardownGen++
	}
}

func (s *Supervisor) cleanupAll() {
	for _, sess := range s.sessions {
		s.teardown(sess, ErrClosed)
		s.emit(sess, broadcast.StatusStopped, broadcast.Extra{})
	}
}

// discard kills a process produced by a launch nobody waits for anymore.
func (s *Supervisor) discard(toolID string, res *launcher.Result) {
	if res == nil || res.Process == nil || res.Detached {
		return
	}
	s.kill(toolID, res.Process)
}

func (s *Supervisor) kill(toolID string, proc launcher.Process) {
	s.kills.Add(1)
	go func() {
		defer s.kills.Done()
		if err := proc.Terminate(s.cfg.KillGrace); err != nil {
			s.logger.Warn("Failed to kill tool process",
				zap.String("tool_id", toolID),
				zap.Int("pid", proc.PID()),
				zap.Error(err))
		}
	}()
}

func (s *Supervisor) openURL(toolID, url string) {
	if err := s.opener.Open(url); err != nil {
		s.logger.Warn("Failed to open tool URL",
			zap.String("tool_id", toolID),
			zap.String("url", url),
			zap.Error(err))
	}
}

func (s *Supervisor) runningExtra(sess *session) broadcast.Extra {
	extra := broadcast.Extra{}
	if r := sess.result; r != nil {
		extra.PID = r.PID
		extra.URL = r.URL
		extra.External = r.Detached
		extra.Launcher = sess.launcherMode()
	}
	return extra
}

func (s *Supervisor) emit(sess *session, status broadcast.Status, extra broadcast.Extra) {
	s.registry.SetStatus(sess.tool.ID, status)
	s.obs.RecordStateEvent(string(status))
	s.events.Emit(broadcast.Event{
		ToolID:  sess.tool.ID,
		Status:  status,
		Mode:    string(sess.kind),
		Extra:   extra,
		Surface: sess.surface,
	})
}
