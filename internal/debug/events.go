package debug

import (
	"context"
	"fmt"

	godap "github.com/google/go-dap"

	"github.com/dshills/dbgsync/internal/debug/model"
)

// wire routes the protocol events of session into the model. Events of a
// session that is no longer current are dropped.
func (s *Service) wire(session *Session) {
	client := session.Client()

	client.OnInitialized(session.setReady)
	client.OnStopped(func(body godap.StoppedEventBody) {
		s.onStopped(session, body)
	})
	client.OnContinued(func(body godap.ContinuedEventBody) {
		s.onContinued(session, body)
	})
	client.OnTerminated(func(godap.TerminatedEventBody) {
		s.onTerminated(session)
	})
	client.OnExited(func(godap.ExitedEventBody) {
		s.onTerminated(session)
	})
	client.OnThread(func(body godap.ThreadEventBody) {
		if body.Reason == "exited" {
			session.threadExited(body.ThreadId)
			s.commands.Notify()
		}
	})
	client.OnBreakpoint(func(body godap.BreakpointEventBody) {
		s.onBreakpoint(session, body)
	})
}

func (s *Service) onStopped(session *Session, body godap.StoppedEventBody) {
	if !s.isCurrent(session) {
		return
	}
	s.log.WithField("thread", body.ThreadId).WithField("reason", body.Reason).Debug("stopped")

	session.markStopped(body.ThreadId)
	s.commands.Notify()

	ctx, cancel := s.requestContext()
	defer cancel()
	if err := s.refreshStack(ctx, session, body.ThreadId); err != nil {
		s.log.WithError(err).Warn("fetching stack after stop")
	}
}

func (s *Service) onContinued(session *Session, body godap.ContinuedEventBody) {
	if !s.isCurrent(session) {
		return
	}
	session.markContinued(body.ThreadId, body.AllThreadsContinued)
	if !session.HasStoppedThreads() {
		s.model.Callstack.Clear()
		s.model.Variables.Clear()
	}
	s.commands.Notify()
}

func (s *Service) onTerminated(session *Session) {
	if !s.isCurrent(session) {
		return
	}
	session.clearStopped()
	session.setState(StateTerminated)
	s.model.Clear()
	s.commands.Notify()
}

func (s *Service) onBreakpoint(session *Session, body godap.BreakpointEventBody) {
	if !s.isCurrent(session) {
		return
	}
	bp := model.BreakpointFromDAP(body.Breakpoint, model.Source{})
	bps := s.model.Breakpoints

	switch body.Reason {
	case "changed":
		bps.Update(bp)
	case "new":
		path := bp.Source.Key()
		if path == "" || bp.Line <= 0 {
			return
		}
		bps.Amend(path, append(bps.Get(path), bp))
	case "removed":
		for path, set := range bps.All() {
			kept := set[:0]
			removed := false
			for _, existing := range set {
				if existing.ID == bp.ID && bp.ID != 0 {
					removed = true
					continue
				}
				kept = append(kept, existing)
			}
			if removed {
				bps.Amend(path, kept)
			}
		}
	}
}

// refreshStack replaces the call stack with thread's frames, makes the top
// frame current and fetches its scopes.
func (s *Service) refreshStack(ctx context.Context, session *Session, thread int) error {
	st, err := session.Client().StackTrace(ctx, godap.StackTraceArguments{ThreadId: thread})
	if err != nil {
		return fmt.Errorf("stackTrace: %w", err)
	}
	if !s.isCurrent(session) || !session.HasStoppedThreads() {
		return nil
	}

	frames := make([]model.Frame, 0, len(st.StackFrames))
	for _, f := range st.StackFrames {
		frames = append(frames, model.FrameFromDAP(f))
	}
	s.model.Callstack.SetFrames(frames)
	if len(frames) == 0 {
		s.model.Callstack.SetFrame(nil)
		return nil
	}
	top := frames[0]
	s.model.Callstack.SetFrame(&top)

	scopes, err := s.fetchScopes(ctx, session, top.ID)
	if err != nil {
		return err
	}
	s.model.Variables.SetScopes(scopes)
	return nil
}

func (s *Service) fetchScopes(ctx context.Context, session *Session, frameID int) ([]model.Scope, error) {
	raw, err := session.Client().Scopes(ctx, godap.ScopesArguments{FrameId: frameID})
	if err != nil {
		return nil, fmt.Errorf("scopes: %w", err)
	}
	scopes := make([]model.Scope, 0, len(raw))
	for _, sc := range raw {
		scope := model.Scope{Name: sc.Name, Reference: sc.VariablesReference}
		if sc.VariablesReference != 0 {
			vars, err := session.Client().Variables(ctx, godap.VariablesArguments{VariablesReference: sc.VariablesReference})
			if err != nil {
				return nil, fmt.Errorf("variables of %s: %w", sc.Name, err)
			}
			scope.Variables = s.filter(session.KernelName(), vars)
		}
		scopes = append(scopes, scope)
	}
	return scopes, nil
}
