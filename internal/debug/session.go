// Package debug implements the debug service: the single current session
// bound to a kernel, the debugger model it feeds, and the run-control
// command surface.
package debug

import (
	"context"
	"fmt"
	"sort"
	"sync"

	godap "github.com/google/go-dap"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/dshills/dbgsync/internal/debug/dap"
)

// SessionState represents the current state of a debug session.
type SessionState int

const (
	// StateInitializing is the state before the initialize request completes.
	StateInitializing SessionState = iota
	// StateConfiguring is after initialize but before configurationDone.
	StateConfiguring
	// StateRunning is when no thread is stopped.
	StateRunning
	// StateStopped is when at least one thread is stopped.
	StateStopped
	// StateTerminated is when the debuggee has exited.
	StateTerminated
	// StateDisconnected is after the session was stopped.
	StateDisconnected
)

// String returns a string representation of the state.
func (s SessionState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateConfiguring:
		return "configuring"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateTerminated:
		return "terminated"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// SessionConfig configures the initialize request.
type SessionConfig struct {
	ClientID   string
	ClientName string
	AdapterID  string
	JustMyCode bool
}

// DefaultSessionConfig returns the configuration used for kernel sessions.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ClientID:   "dbgsync",
		ClientName: "dbgsync",
		AdapterID:  "python",
	}
}

// Session binds one kernel session to a debug adapter connection. Sessions
// are replaced, never reused, when focus or the kernel changes.
type Session struct {
	id     string
	kernel string
	client *dap.Client
	log    *logrus.Entry

	mu       sync.RWMutex
	caps     *godap.Capabilities
	state    SessionState
	ready    bool
	started  bool
	stopped  map[int]struct{}
	threads  []int
	info     *dap.DebugInfoResponseBody
	stopOnce sync.Once
}

// NewSession creates a session over client.
func NewSession(id, kernel string, client *dap.Client, log *logrus.Entry) *Session {
	return &Session{
		id:      id,
		kernel:  kernel,
		client:  client,
		log:     log.WithField("session", id),
		stopped: make(map[int]struct{}),
	}
}

// ID returns the kernel session id.
func (s *Session) ID() string { return s.id }

// KernelName returns the kernel name.
func (s *Session) KernelName() string { return s.kernel }

// Client returns the protocol client.
func (s *Session) Client() *dap.Client { return s.client }

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	old := s.state
	s.state = state
	s.mu.Unlock()
	if old != state {
		s.log.WithFields(logrus.Fields{"from": old, "to": state}).Debug("state changed")
	}
}

// Capabilities returns the adapter capabilities, or nil before Start.
func (s *Session) Capabilities() *godap.Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}

// IsStarted reports whether Start completed and Stop was not called.
func (s *Session) IsStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Ready reports whether the adapter sent the initialized event.
func (s *Session) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *Session) setReady() {
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
}

// Info returns the last debugInfo reply, or nil.
func (s *Session) Info() *dap.DebugInfoResponseBody {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

func (s *Session) setInfo(info *dap.DebugInfoResponseBody) {
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
}

// Start runs the initialize, attach and configurationDone handshake.
func (s *Session) Start(ctx context.Context, config SessionConfig) error {
	caps, err := s.client.Initialize(ctx, godap.InitializeRequestArguments{
		ClientID:        config.ClientID,
		ClientName:      config.ClientName,
		AdapterID:       config.AdapterID,
		PathFormat:      "path",
		LinesStartAt1:   true,
		ColumnsStartAt1: true,
		Locale:          "en",
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	s.mu.Lock()
	s.caps = caps
	s.mu.Unlock()
	s.setState(StateConfiguring)

	if err := s.client.Attach(ctx, dap.AttachArguments{JustMyCode: config.JustMyCode}); err != nil {
		return fmt.Errorf("attach: %w", err)
	}

	if caps.SupportsConfigurationDoneRequest {
		if err := s.client.ConfigurationDone(ctx); err != nil {
			return fmt.Errorf("configurationDone: %w", err)
		}
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.setState(StateRunning)
	return nil
}

// Stop disconnects from the adapter and closes the client. It is safe to
// call more than once.
func (s *Session) Stop(ctx context.Context) error {
	var result *multierror.Error
	s.stopOnce.Do(func() {
		if s.IsStarted() {
			err := s.client.Disconnect(ctx, godap.DisconnectArguments{Restart: false})
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("disconnect: %w", err))
			}
		}
		if err := s.client.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close: %w", err))
		}

		s.mu.Lock()
		s.started = false
		s.stopped = make(map[int]struct{})
		s.mu.Unlock()
		s.setState(StateDisconnected)
	})
	return result.ErrorOrNil()
}

// StoppedThreads returns the ids of stopped threads in ascending order.
func (s *Session) StoppedThreads() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.stopped))
	for id := range s.stopped {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// HasStoppedThreads reports whether any thread is stopped.
func (s *Session) HasStoppedThreads() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.stopped) > 0
}

// currentThread returns the lowest stopped thread id.
func (s *Session) currentThread() (int, bool) {
	ids := s.StoppedThreads()
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}

// anyThread returns a known thread id for requests that do not need a
// stopped one.
func (s *Session) anyThread() int {
	if id, ok := s.currentThread(); ok {
		return id
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.threads) > 0 {
		return s.threads[0]
	}
	return 1
}

func (s *Session) markStopped(threads ...int) {
	s.mu.Lock()
	for _, id := range threads {
		s.stopped[id] = struct{}{}
	}
	s.mu.Unlock()
	s.setState(StateStopped)
}

// markContinued resumes thread, or every thread when all is set.
func (s *Session) markContinued(thread int, all bool) {
	s.mu.Lock()
	if all {
		s.stopped = make(map[int]struct{})
	} else {
		delete(s.stopped, thread)
	}
	running := len(s.stopped) == 0
	s.mu.Unlock()
	if running {
		s.setState(StateRunning)
	}
}

func (s *Session) clearStopped() {
	s.mu.Lock()
	s.stopped = make(map[int]struct{})
	s.mu.Unlock()
}

func (s *Session) setThreads(threads []godap.Thread) {
	ids := make([]int, 0, len(threads))
	for _, t := range threads {
		ids = append(ids, t.Id)
	}
	s.mu.Lock()
	s.threads = ids
	s.mu.Unlock()
}

func (s *Session) threadExited(id int) {
	s.mu.Lock()
	delete(s.stopped, id)
	for i, t := range s.threads {
		if t == id {
			s.threads = append(s.threads[:i], s.threads[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}
