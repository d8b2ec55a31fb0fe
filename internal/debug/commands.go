package debug

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/dbgsync/internal/signal"
)

// Command ids.
const (
	CmdContinue  = "debugger:continue"
	CmdNext      = "debugger:next"
	CmdStepIn    = "debugger:step-in"
	CmdStepOut   = "debugger:step-out"
	CmdPause     = "debugger:pause"
	CmdTerminate = "debugger:terminate"
)

type command struct {
	id      string
	label   string
	enabled func(*Service) bool
	run     func(*Service, context.Context) error
}

func stopped(s *Service) bool { return s.HasStoppedThreads() }

func running(s *Service) bool { return s.IsStarted() && !s.HasStoppedThreads() }

func commandTable() []command {
	return []command{
		{CmdContinue, "Continue", stopped, (*Service).Continue},
		{CmdNext, "Next", stopped, (*Service).Next},
		{CmdStepIn, "Step In", stopped, (*Service).StepIn},
		{CmdStepOut, "Step Out", stopped, (*Service).StepOut},
		{CmdPause, "Pause", running, (*Service).Pause},
		{CmdTerminate, "Terminate", (*Service).IsStarted, (*Service).Terminate},
	}
}

// Commands is the run-control command surface. Its enablement follows the
// service's run state and is recomputed by Notify.
type Commands struct {
	svc   *Service
	table []command

	mu      sync.Mutex
	last    map[string]bool
	changed *signal.Signal[map[string]bool]
}

func newCommands(svc *Service) *Commands {
	return &Commands{
		svc:     svc,
		table:   commandTable(),
		changed: signal.New[map[string]bool](),
	}
}

// Changed emits the enablement of every command when it differs from the
// last emitted state.
func (c *Commands) Changed() *signal.Signal[map[string]bool] {
	return c.changed
}

// IDs returns the command ids in menu order.
func (c *Commands) IDs() []string {
	ids := make([]string, 0, len(c.table))
	for _, cmd := range c.table {
		ids = append(ids, cmd.id)
	}
	return ids
}

// Label returns the display label of id.
func (c *Commands) Label(id string) string {
	if cmd, ok := c.lookup(id); ok {
		return cmd.label
	}
	return ""
}

// IsEnabled reports whether id can run now.
func (c *Commands) IsEnabled(id string) bool {
	cmd, ok := c.lookup(id)
	return ok && cmd.enabled(c.svc)
}

// Execute runs id.
func (c *Commands) Execute(ctx context.Context, id string) error {
	cmd, ok := c.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, id)
	}
	return cmd.run(c.svc, ctx)
}

// Notify recomputes enablement and emits Changed if it moved.
func (c *Commands) Notify() {
	c.mu.Lock()
	state := make(map[string]bool, len(c.table))
	for _, cmd := range c.table {
		state[cmd.id] = cmd.enabled(c.svc)
	}
	if c.last != nil && sameState(c.last, state) {
		c.mu.Unlock()
		return
	}
	c.last = state
	c.mu.Unlock()

	emitted := make(map[string]bool, len(state))
	for k, v := range state {
		emitted[k] = v
	}
	c.changed.Emit(emitted)
}

func (c *Commands) lookup(id string) (command, bool) {
	for _, cmd := range c.table {
		if cmd.id == id {
			return cmd, true
		}
	}
	return command{}, false
}

func sameState(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
