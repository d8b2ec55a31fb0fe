// Package debugtest provides an in-memory debug adapter speaking framed DAP
// over a pipe, for tests of code that drives a dap.Client.
package debugtest

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"

	godap "github.com/google/go-dap"
	"github.com/tidwall/gjson"

	"github.com/dshills/dbgsync/internal/debug/dap"
)

// HandlerFunc answers one request. A non-nil error produces a failed
// response carrying the error text.
type HandlerFunc func(args gjson.Result) (body any, err error)

// Adapter is a scriptable fake debug adapter.
type Adapter struct {
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex
	seq     int

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	requests []gjson.Result
	held     map[string][]func()
	holding  map[string]bool

	// Snap maps a requested breakpoint line to the line the adapter
	// confirms. Returning 0 rejects the breakpoint.
	Snap func(path string, line int) int

	// Capabilities is returned from initialize.
	Capabilities godap.Capabilities

	// Info is returned from debugInfo.
	Info dap.DebugInfoResponseBody

	// Frames is returned from stackTrace.
	Frames []godap.StackFrame

	// Scopes is returned from scopes.
	Scopes []godap.Scope

	// Variables maps a variables reference to its children.
	Variables map[int][]godap.Variable

	// Globals is returned from inspectVariables.
	Globals []godap.Variable

	// Sources maps a source reference or path to its content.
	Sources map[string]string

	closeOnce sync.Once
	done      chan struct{}
}

// New starts an adapter and returns it with the client side transport.
func New() (*Adapter, dap.Transport) {
	client, server := net.Pipe()
	a := &Adapter{
		conn:      server,
		reader:    bufio.NewReader(server),
		handlers:  make(map[string]HandlerFunc),
		held:      make(map[string][]func()),
		holding:   make(map[string]bool),
		Variables: make(map[int][]godap.Variable),
		Sources:   make(map[string]string),
		Capabilities: godap.Capabilities{
			SupportsConfigurationDoneRequest: true,
		},
		done: make(chan struct{}),
	}
	go a.serve()
	return a, dap.NewStreamTransport(client)
}

// Close stops the adapter and closes its end of the pipe.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.done)
		err = a.conn.Close()
	})
	return err
}

// Handle overrides the response for command.
func (a *Adapter) Handle(command string, fn HandlerFunc) {
	a.mu.Lock()
	a.handlers[command] = fn
	a.mu.Unlock()
}

// Hold queues responses to command until released.
func (a *Adapter) Hold(command string) {
	a.mu.Lock()
	a.holding[command] = true
	a.mu.Unlock()
}

// Held returns how many responses to command are queued.
func (a *Adapter) Held(command string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.held[command])
}

// Release sends the i-th queued response to command. Indexes refer to the
// order in which requests arrived and stay stable across releases.
func (a *Adapter) Release(command string, i int) {
	a.mu.Lock()
	queue := a.held[command]
	if i < 0 || i >= len(queue) || queue[i] == nil {
		a.mu.Unlock()
		return
	}
	send := queue[i]
	queue[i] = nil
	a.mu.Unlock()
	send()
}

// Requests returns the arguments of every request received for command.
func (a *Adapter) Requests(command string) []gjson.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []gjson.Result
	for _, req := range a.requests {
		if req.Get("command").String() == command {
			out = append(out, req.Get("arguments"))
		}
	}
	return out
}

// Count returns how many requests were received for command.
func (a *Adapter) Count(command string) int {
	return len(a.Requests(command))
}

// Commands returns the received commands in order.
func (a *Adapter) Commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.requests))
	for _, req := range a.requests {
		out = append(out, req.Get("command").String())
	}
	return out
}

// Stopped emits a stopped event for thread.
func (a *Adapter) Stopped(reason string, thread int) {
	a.Event("stopped", godap.StoppedEventBody{Reason: reason, ThreadId: thread, AllThreadsStopped: true})
}

// Continued emits a continued event for thread.
func (a *Adapter) Continued(thread int) {
	a.Event("continued", godap.ContinuedEventBody{ThreadId: thread, AllThreadsContinued: true})
}

// Terminated emits a terminated event.
func (a *Adapter) Terminated() {
	a.Event("terminated", godap.TerminatedEventBody{})
}

// Event emits an arbitrary event.
func (a *Adapter) Event(event string, body any) {
	a.send(map[string]any{
		"type":  "event",
		"event": event,
		"body":  body,
	})
}

func (a *Adapter) send(msg map[string]any) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	a.seq++
	msg["seq"] = a.seq
	content, err := json.Marshal(msg)
	if err != nil {
		return
	}
	godap.WriteBaseMessage(a.conn, content)
}

func (a *Adapter) serve() {
	for {
		content, err := godap.ReadBaseMessage(a.reader)
		if err != nil {
			a.Close()
			return
		}
		req := gjson.ParseBytes(content)

		a.mu.Lock()
		a.requests = append(a.requests, req)
		fn, ok := a.handlers[req.Get("command").String()]
		a.mu.Unlock()

		if !ok {
			fn = a.defaultHandler(req.Get("command").String())
		}
		a.respond(req, fn)
	}
}

func (a *Adapter) respond(req gjson.Result, fn HandlerFunc) {
	command := req.Get("command").String()
	body, err := fn(req.Get("arguments"))

	resp := map[string]any{
		"type":        "response",
		"request_seq": req.Get("seq").Int(),
		"command":     command,
		"success":     err == nil,
	}
	if err != nil {
		resp["message"] = err.Error()
	} else if body != nil {
		resp["body"] = body
	}
	send := func() { a.send(resp) }

	a.mu.Lock()
	if a.holding[command] {
		a.held[command] = append(a.held[command], send)
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	send()
}

func (a *Adapter) defaultHandler(command string) HandlerFunc {
	switch command {
	case "initialize":
		return func(gjson.Result) (any, error) {
			a.mu.Lock()
			defer a.mu.Unlock()
			return a.Capabilities, nil
		}
	case "setBreakpoints":
		return a.setBreakpoints
	case "debugInfo":
		return func(gjson.Result) (any, error) {
			a.mu.Lock()
			defer a.mu.Unlock()
			return a.Info, nil
		}
	case "stackTrace":
		return func(gjson.Result) (any, error) {
			a.mu.Lock()
			defer a.mu.Unlock()
			return godap.StackTraceResponseBody{StackFrames: a.Frames, TotalFrames: len(a.Frames)}, nil
		}
	case "scopes":
		return func(gjson.Result) (any, error) {
			a.mu.Lock()
			defer a.mu.Unlock()
			return godap.ScopesResponseBody{Scopes: a.Scopes}, nil
		}
	case "variables":
		return func(args gjson.Result) (any, error) {
			a.mu.Lock()
			defer a.mu.Unlock()
			vars := a.Variables[int(args.Get("variablesReference").Int())]
			return godap.VariablesResponseBody{Variables: vars}, nil
		}
	case "inspectVariables":
		return func(gjson.Result) (any, error) {
			a.mu.Lock()
			defer a.mu.Unlock()
			return dap.InspectVariablesResponseBody{Variables: a.Globals}, nil
		}
	case "source":
		return a.source
	case "dumpCell":
		return func(args gjson.Result) (any, error) {
			return dap.DumpCellResponseBody{SourcePath: "/tmp/cell.py"}, nil
		}
	case "continue":
		return func(gjson.Result) (any, error) {
			return godap.ContinueResponseBody{AllThreadsContinued: true}, nil
		}
	case "threads":
		return func(gjson.Result) (any, error) {
			return godap.ThreadsResponseBody{Threads: []godap.Thread{{Id: 1, Name: "MainThread"}}}, nil
		}
	default:
		return func(gjson.Result) (any, error) { return nil, nil }
	}
}

func (a *Adapter) setBreakpoints(args gjson.Result) (any, error) {
	a.mu.Lock()
	snap := a.Snap
	a.mu.Unlock()

	path := args.Get("source.path").String()
	var bps []godap.Breakpoint
	for _, req := range args.Get("breakpoints").Array() {
		line := int(req.Get("line").Int())
		if snap != nil {
			line = snap(path, line)
		}
		if line == 0 {
			bps = append(bps, godap.Breakpoint{Verified: false, Message: "rejected"})
			continue
		}
		bps = append(bps, godap.Breakpoint{
			Id:       line,
			Verified: true,
			Line:     line,
			Source:   &godap.Source{Path: path},
		})
	}
	return godap.SetBreakpointsResponseBody{Breakpoints: bps}, nil
}

func (a *Adapter) source(args gjson.Result) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := args.Get("source.path").String()
	if ref := args.Get("sourceReference").Int(); ref != 0 {
		key = args.Get("sourceReference").String()
	}
	content, ok := a.Sources[key]
	if !ok {
		return nil, errSourceNotFound
	}
	return godap.SourceResponseBody{Content: content, MimeType: "text/x-python"}, nil
}
