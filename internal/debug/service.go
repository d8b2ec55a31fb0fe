package debug

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	godap "github.com/google/go-dap"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/dbgsync/internal/debug/dap"
	"github.com/dshills/dbgsync/internal/debug/model"
	"github.com/dshills/dbgsync/internal/host"
	"github.com/dshills/dbgsync/internal/logflags"
	"github.com/dshills/dbgsync/internal/metrics"
	"github.com/dshills/dbgsync/internal/signal"
)

// DefaultRequestTimeout bounds requests the service issues on its own, such
// as the stack fetch after a stop.
const DefaultRequestTimeout = 10 * time.Second

// Options configures a Service.
type Options struct {
	Session SessionConfig

	// VariableFilters lists, per kernel name, variable names hidden from
	// inspection.
	VariableFilters map[string][]string

	RequestTimeout time.Duration
	Metrics        *metrics.Metrics
	Logger         *logrus.Entry
}

// Service owns the debugger model and the single current session.
type Service struct {
	model   *model.Model
	config  SessionConfig
	timeout time.Duration
	metrics *metrics.Metrics
	log     *logrus.Entry

	// swapMu serializes session replacement.
	swapMu sync.Mutex

	mu         sync.RWMutex
	conn       host.Connection
	session    *Session
	status     *signal.Connection
	restarting bool
	filters    map[string][]string

	sessionChanged *signal.Signal[*Session]
	commands       *Commands
}

// NewService creates a service with no session.
func NewService(opts Options) *Service {
	if opts.Session == (SessionConfig{}) {
		opts.Session = DefaultSessionConfig()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logflags.ServiceLogger()
	}

	s := &Service{
		model:          model.New(),
		config:         opts.Session,
		timeout:        opts.RequestTimeout,
		metrics:        opts.Metrics,
		log:            opts.Logger,
		sessionChanged: signal.New[*Session](),
	}
	s.SetVariableFilters(opts.VariableFilters)
	s.commands = newCommands(s)
	return s
}

// Model returns the debugger model.
func (s *Service) Model() *model.Model { return s.model }

// Commands returns the run-control command surface.
func (s *Service) Commands() *Commands { return s.commands }

// SessionChanged emits the new current session, or nil when detached.
func (s *Service) SessionChanged() *signal.Signal[*Session] {
	return s.sessionChanged
}

// Session returns the current session, or nil.
func (s *Service) Session() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Connection returns the current kernel connection, or nil.
func (s *Service) Connection() host.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// IsStarted reports whether the current session completed its handshake.
func (s *Service) IsStarted() bool {
	session := s.Session()
	return session != nil && session.IsStarted()
}

// HasStoppedThreads reports whether the current session has a stopped
// thread.
func (s *Service) HasStoppedThreads() bool {
	session := s.Session()
	return session != nil && session.HasStoppedThreads()
}

// SetVariableFilters replaces the per-kernel variable filters.
func (s *Service) SetVariableFilters(filters map[string][]string) {
	copied := make(map[string][]string, len(filters))
	for kernel, names := range filters {
		copied[kernel] = append([]string(nil), names...)
	}
	s.mu.Lock()
	s.filters = copied
	s.mu.Unlock()
}

func (s *Service) isCurrent(session *Session) bool {
	return session != nil && s.Session() == session
}

func (s *Service) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// SetConnection makes conn the current kernel connection, replacing the
// session of the previous one. A nil conn detaches. It reports false, doing
// nothing, when conn is already current. Connections are compared by
// identity.
func (s *Service) SetConnection(ctx context.Context, conn host.Connection) (bool, error) {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	s.mu.RLock()
	same := s.conn == conn
	s.mu.RUnlock()
	if same {
		return false, nil
	}
	return true, s.replace(ctx, conn)
}

// Close detaches the current session.
func (s *Service) Close(ctx context.Context) error {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	return s.replace(ctx, nil)
}

// replace must be called with swapMu held.
func (s *Service) replace(ctx context.Context, conn host.Connection) error {
	s.mu.Lock()
	old := s.session
	sameConn := s.conn == conn
	var oldStatus *signal.Connection
	if !sameConn {
		oldStatus = s.status
		s.status = nil
	}
	s.session = nil
	s.conn = conn
	s.restarting = false
	s.mu.Unlock()

	if oldStatus != nil {
		oldStatus.Disconnect()
	}

	if old != nil {
		if err := old.Stop(ctx); err != nil {
			s.log.WithError(err).Warn("stopping previous session")
		}
	}

	// Breakpoints survive the clear and are re-sent to the new session.
	s.model.Clear()
	local := s.model.Breakpoints.All()

	if conn != nil && !sameConn {
		status := conn.StatusChanged().Connect(func(st host.Status) {
			s.onStatus(conn, st)
		})
		s.mu.Lock()
		s.status = status
		s.mu.Unlock()
	}

	var err error
	var session *Session
	if conn != nil {
		session, err = s.start(ctx, conn, local)
	}

	s.sessionChanged.Emit(session)
	s.commands.Notify()
	return err
}

func (s *Service) start(ctx context.Context, conn host.Connection, local map[string][]model.Breakpoint) (*Session, error) {
	log := s.log.WithFields(logrus.Fields{"session": conn.ID(), "kernel": conn.KernelName()})
	if !conn.DebuggerAvailable() {
		log.Debug("kernel has no debugger")
		return nil, nil
	}

	tr, err := conn.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open debug channel for %s: %w", conn.ID(), err)
	}

	client := dap.NewClient(tr,
		dap.WithLogger(logflags.DAPLogger().WithField("session", conn.ID())),
		dap.WithObserver(s.metrics.Request),
	)
	session := NewSession(conn.ID(), conn.KernelName(), client, s.log)
	s.wire(session)

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	if err := session.Start(ctx, s.config); err != nil {
		s.mu.Lock()
		if s.session == session {
			s.session = nil
		}
		s.mu.Unlock()
		session.Stop(ctx)
		return nil, fmt.Errorf("start session %s: %w", conn.ID(), err)
	}

	s.metrics.SessionStarted()
	log.Info("debug session started")

	if err := s.restore(ctx, session, local); err != nil {
		log.WithError(err).Warn("restoring debugger state")
	}
	return session, nil
}

// restore applies the kernel's debugInfo state and re-sends breakpoints the
// kernel does not know about.
func (s *Service) restore(ctx context.Context, session *Session, local map[string][]model.Breakpoint) error {
	client := session.Client()

	if threads, err := client.Threads(ctx); err == nil {
		session.setThreads(threads)
	}

	info, err := client.DebugInfo(ctx)
	if err != nil {
		s.log.WithError(err).Debug("debugInfo unavailable")
		info = nil
	} else {
		session.setInfo(info)
	}

	sets := make(map[string][]model.Breakpoint)
	if info != nil {
		for _, entry := range info.Breakpoints {
			path := model.NormalizePath(entry.Source)
			src := model.Source{Path: entry.Source, Name: filepath.Base(entry.Source)}
			for _, sb := range entry.Breakpoints {
				sets[path] = append(sets[path], model.Breakpoint{
					Source:    src,
					Line:      sb.Line,
					Enabled:   true,
					Verified:  true,
					Condition: sb.Condition,
				})
			}
		}
	}

	pending := make(map[string][]model.Breakpoint)
	for path, bps := range local {
		if _, ok := sets[path]; ok {
			continue
		}
		sets[path] = bps
		if enabled := enabledOnly(bps); len(enabled) > 0 {
			pending[path] = enabled
		}
	}
	s.model.Breakpoints.Restore(sets)

	g, gctx := errgroup.WithContext(ctx)
	for path, bps := range pending {
		path, bps := path, bps
		g.Go(func() error {
			_, err := s.SetBreakpoints(gctx, path, bps)
			return err
		})
	}
	syncErr := g.Wait()

	if info != nil && len(info.StoppedThreads) > 0 {
		session.markStopped(info.StoppedThreads...)
		thread, _ := session.currentThread()
		if err := s.refreshStack(ctx, session, thread); err != nil {
			s.log.WithError(err).Warn("fetching stack of restored stop")
		}
	}
	return syncErr
}

func (s *Service) onStatus(conn host.Connection, st host.Status) {
	switch st {
	case host.StatusRestarting:
		s.mu.Lock()
		current := s.conn == conn
		if current {
			s.restarting = true
		}
		s.mu.Unlock()
		if !current {
			return
		}
		s.log.WithField("session", conn.ID()).Info("kernel restarting")
		go s.detachSession(conn)
	case host.StatusIdle:
		s.mu.Lock()
		resume := s.conn == conn && s.restarting
		s.restarting = false
		s.mu.Unlock()
		if resume {
			go s.reattach(conn)
		}
	case host.StatusDead:
		go func() {
			s.swapMu.Lock()
			defer s.swapMu.Unlock()
			if s.Connection() != conn {
				return
			}
			ctx, cancel := s.requestContext()
			defer cancel()
			if err := s.replace(ctx, nil); err != nil {
				s.log.WithError(err).Warn("detaching dead kernel")
			}
		}()
	}
}

// detachSession stops the session of conn while keeping conn current.
func (s *Service) detachSession(conn host.Connection) {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	s.mu.Lock()
	if s.conn != conn || s.session == nil {
		s.mu.Unlock()
		return
	}
	old := s.session
	s.session = nil
	s.mu.Unlock()

	ctx, cancel := s.requestContext()
	defer cancel()
	if err := old.Stop(ctx); err != nil {
		s.log.WithError(err).Debug("stopping session of restarting kernel")
	}
	s.model.Clear()
	s.sessionChanged.Emit(nil)
	s.commands.Notify()
}

// reattach starts a fresh session for conn after a kernel restart.
func (s *Service) reattach(conn host.Connection) {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	if s.Connection() != conn {
		return
	}
	ctx, cancel := s.requestContext()
	defer cancel()
	if err := s.replace(ctx, conn); err != nil {
		s.log.WithError(err).Warn("reattaching after kernel restart")
	}
}

// UpdateBreakpoints sends lines as the full breakpoint set of path. A line
// that already has a breakpoint keeps its condition.
func (s *Service) UpdateBreakpoints(ctx context.Context, path string, lines []int) ([]model.Breakpoint, error) {
	stored := make(map[int]model.Breakpoint)
	for _, bp := range s.model.Breakpoints.Get(path) {
		stored[bp.Line] = bp
	}
	bps := make([]model.Breakpoint, 0, len(lines))
	for _, line := range lines {
		bps = append(bps, model.Breakpoint{Line: line, Enabled: true, Condition: stored[line].Condition})
	}
	return s.SetBreakpoints(ctx, path, bps)
}

// SetBreakpoints sends bps as the full breakpoint set of path and stores
// the adapter's confirmed echo, keeping each requested condition. Disabled
// breakpoints and duplicate lines are not sent. Without a started session
// the set is stored unverified and sent when a session attaches.
func (s *Service) SetBreakpoints(ctx context.Context, path string, bps []model.Breakpoint) ([]model.Breakpoint, error) {
	path = model.NormalizePath(path)
	src := model.Source{Path: path, Name: filepath.Base(path)}
	bps = requestable(bps, src)

	session := s.Session()
	if session == nil || !session.IsStarted() {
		s.model.Breakpoints.Set(path, bps)
		return bps, nil
	}

	ticket := s.model.Breakpoints.Begin(path)
	req := make([]godap.SourceBreakpoint, 0, len(bps))
	for _, bp := range bps {
		req = append(req, godap.SourceBreakpoint{Line: bp.Line, Condition: bp.Condition})
	}

	echo, err := session.Client().SetBreakpoints(ctx, godap.SetBreakpointsArguments{
		Source:      src.DAP(),
		Breakpoints: req,
	})
	if err != nil {
		return nil, fmt.Errorf("set breakpoints for %s: %w", path, err)
	}
	for _, bp := range echo {
		if bp.Line <= 0 {
			s.log.WithFields(logrus.Fields{"path": path, "reason": bp.Message}).Debug("breakpoint rejected")
		}
	}
	confirmed := model.Confirm(bps, echo, src)

	if !s.isCurrent(session) || !s.model.Breakpoints.Commit(ticket, confirmed) {
		s.metrics.Stale()
		s.log.WithField("path", path).Debug("dropping stale breakpoint echo")
	}
	return confirmed, nil
}

// UpdateCellBreakpoints stores code in the kernel and sets breakpoints on
// the file the kernel runs it from.
func (s *Service) UpdateCellBreakpoints(ctx context.Context, code string, lines []int) ([]model.Breakpoint, error) {
	path := s.CodeID(code)
	if path == "" {
		return nil, ErrNoSession
	}
	if session := s.Session(); session != nil && session.IsStarted() && len(lines) > 0 {
		if _, err := session.Client().DumpCell(ctx, code); err != nil {
			return nil, fmt.Errorf("dump cell: %w", err)
		}
	}
	return s.UpdateBreakpoints(ctx, path, lines)
}

// CodeID returns the path the current kernel runs code from, or "" when
// the kernel has not described its hashing.
func (s *Service) CodeID(code string) string {
	session := s.Session()
	if session == nil {
		return ""
	}
	return codeID(session.Info(), code)
}

func (s *Service) stoppedThread() (*Session, int, error) {
	session := s.Session()
	if session == nil || !session.IsStarted() {
		return nil, 0, ErrNoSession
	}
	thread, ok := session.currentThread()
	if !ok {
		return nil, 0, ErrNoStoppedThreads
	}
	return session, thread, nil
}

// afterRun updates run state after a run-control request on thread.
func (s *Service) afterRun(session *Session, command string, thread int, all bool, err error) error {
	defer s.commands.Notify()

	if err != nil {
		session.clearStopped()
		return fmt.Errorf("%s: %w", command, err)
	}
	session.markContinued(thread, all)
	if !session.HasStoppedThreads() {
		s.model.Callstack.Clear()
		s.model.Variables.Clear()
	}
	return nil
}

// Continue resumes the stopped thread.
func (s *Service) Continue(ctx context.Context) error {
	session, thread, err := s.stoppedThread()
	if err != nil {
		return err
	}
	resp, err := session.Client().Continue(ctx, godap.ContinueArguments{ThreadId: thread})
	all := err == nil && resp.AllThreadsContinued
	return s.afterRun(session, "continue", thread, all, err)
}

// Next steps over on the stopped thread.
func (s *Service) Next(ctx context.Context) error {
	session, thread, err := s.stoppedThread()
	if err != nil {
		return err
	}
	err = session.Client().Next(ctx, godap.NextArguments{ThreadId: thread})
	return s.afterRun(session, "next", thread, false, err)
}

// StepIn steps into on the stopped thread.
func (s *Service) StepIn(ctx context.Context) error {
	session, thread, err := s.stoppedThread()
	if err != nil {
		return err
	}
	err = session.Client().StepIn(ctx, godap.StepInArguments{ThreadId: thread})
	return s.afterRun(session, "stepIn", thread, false, err)
}

// StepOut steps out on the stopped thread.
func (s *Service) StepOut(ctx context.Context) error {
	session, thread, err := s.stoppedThread()
	if err != nil {
		return err
	}
	err = session.Client().StepOut(ctx, godap.StepOutArguments{ThreadId: thread})
	return s.afterRun(session, "stepOut", thread, false, err)
}

// Pause asks the adapter to stop a running thread.
func (s *Service) Pause(ctx context.Context) error {
	session := s.Session()
	if session == nil || !session.IsStarted() {
		return ErrNoSession
	}
	if err := session.Client().Pause(ctx, godap.PauseArguments{ThreadId: session.anyThread()}); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	return nil
}

// Terminate ends the debuggee's run. Adapters that support restart are
// restarted; others are disconnected, which detaches the session.
func (s *Service) Terminate(ctx context.Context) error {
	session := s.Session()
	if session == nil || !session.IsStarted() {
		return ErrNoSession
	}
	defer s.commands.Notify()

	if caps := session.Capabilities(); caps != nil && caps.SupportsRestartRequest {
		err := session.Client().Restart(ctx)
		session.clearStopped()
		s.model.Clear()
		if err != nil {
			return fmt.Errorf("restart: %w", err)
		}
		return nil
	}

	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	s.mu.Lock()
	if s.session != session {
		s.mu.Unlock()
		return nil
	}
	s.session = nil
	s.conn = nil
	status := s.status
	s.status = nil
	s.mu.Unlock()

	if status != nil {
		status.Disconnect()
	}
	err := session.Stop(ctx)
	s.model.Clear()
	s.sessionChanged.Emit(nil)
	if err != nil {
		return fmt.Errorf("terminate: %w", err)
	}
	return nil
}

// InspectVariable returns the children of a variable reference. It returns
// nil without error when the reference is zero or unknown to the adapter,
// or when no session is started.
func (s *Service) InspectVariable(ctx context.Context, ref int) ([]model.Variable, error) {
	if ref == 0 {
		return nil, nil
	}
	session := s.Session()
	if session == nil || !session.IsStarted() {
		return nil, nil
	}

	vars, err := session.Client().Variables(ctx, godap.VariablesArguments{VariablesReference: ref})
	var respErr *dap.ResponseError
	if errors.As(err, &respErr) {
		s.log.WithField("ref", ref).Debug("unresolved variable reference")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("variables: %w", err)
	}
	return s.filter(session.KernelName(), vars), nil
}

// Globals returns the kernel's global variables.
func (s *Service) Globals(ctx context.Context) ([]model.Variable, error) {
	session := s.Session()
	if session == nil || !session.IsStarted() {
		return nil, ErrNoSession
	}
	vars, err := session.Client().InspectVariables(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspect variables: %w", err)
	}
	return s.filter(session.KernelName(), vars), nil
}

func (s *Service) filter(kernel string, vars []godap.Variable) []model.Variable {
	s.mu.RLock()
	hidden := s.filters[kernel]
	s.mu.RUnlock()

	out := make([]model.Variable, 0, len(vars))
	for _, v := range vars {
		if contains(hidden, v.Name) {
			continue
		}
		out = append(out, model.VariableFromDAP(v))
	}
	return out
}

// GetSource fetches the content of src, by reference when it has one and
// by path otherwise. Sources that already carry content are returned as is.
func (s *Service) GetSource(ctx context.Context, src model.Source) (model.Source, error) {
	if src.Content != "" {
		return src, nil
	}
	if src.Key() == "" {
		return src, fmt.Errorf("%w: empty source descriptor", ErrSourceUnavailable)
	}
	session := s.Session()
	if session == nil || !session.IsStarted() {
		return src, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, src.Key(), ErrNoSession)
	}

	d := src.DAP()
	body, err := session.Client().Source(ctx, dap.SourceArguments{
		Source:          &d,
		SourceReference: src.Reference,
	})
	if err != nil {
		return src, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, src.Key(), err)
	}
	src.Content = body.Content
	src.MimeType = body.MimeType
	return src, nil
}

func enabledOnly(bps []model.Breakpoint) []model.Breakpoint {
	var out []model.Breakpoint
	for _, bp := range bps {
		if bp.Enabled {
			out = append(out, bp)
		}
	}
	return out
}

// requestable returns the enabled breakpoints of bps on src, one per line,
// sorted by line.
func requestable(bps []model.Breakpoint, src model.Source) []model.Breakpoint {
	seen := make(map[int]bool, len(bps))
	out := make([]model.Breakpoint, 0, len(bps))
	for _, bp := range enabledOnly(bps) {
		if bp.Line <= 0 || seen[bp.Line] {
			continue
		}
		seen[bp.Line] = true
		out = append(out, model.Breakpoint{Source: src, Line: bp.Line, Enabled: true, Condition: bp.Condition})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
