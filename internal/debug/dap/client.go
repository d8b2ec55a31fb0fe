package dap

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	godap "github.com/google/go-dap"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/dshills/dbgsync/internal/logflags"
)

// Client is a DAP client that communicates with a debug adapter.
//
// Responses are matched to requests by sequence number on a receive
// goroutine. Events are delivered in arrival order on a separate dispatch
// goroutine so that handlers may issue requests of their own.
type Client struct {
	transport Transport
	log       *logrus.Entry
	observe   func(command string, err error)

	seq       int64
	pending   map[int]*pendingRequest
	pendingMu sync.Mutex
	err       error

	handlers  eventHandlers
	handlerMu sync.RWMutex

	events    *eventQueue
	done      chan struct{}
	closeOnce sync.Once
}

// pendingRequest tracks a pending request awaiting response.
type pendingRequest struct {
	command   string
	done      chan struct{}
	closeOnce sync.Once
	response  gjson.Result
	err       error
}

func (p *pendingRequest) close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

// eventHandlers stores event handler functions.
type eventHandlers struct {
	onInitialized func()
	onStopped     func(godap.StoppedEventBody)
	onContinued   func(godap.ContinuedEventBody)
	onExited      func(godap.ExitedEventBody)
	onTerminated  func(godap.TerminatedEventBody)
	onThread      func(godap.ThreadEventBody)
	onOutput      func(godap.OutputEventBody)
	onBreakpoint  func(godap.BreakpointEventBody)
	onAny         func(event string, body []byte)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for protocol tracing.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Client) { c.log = log }
}

// WithObserver registers fn to be called once per completed request.
func WithObserver(fn func(command string, err error)) Option {
	return func(c *Client) { c.observe = fn }
}

// NewClient creates a new DAP client with the given transport.
func NewClient(transport Transport, opts ...Option) *Client {
	c := &Client{
		transport: transport,
		log:       logflags.DAPLogger(),
		pending:   make(map[int]*pendingRequest),
		events:    newEventQueue(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.receiveLoop()
	go c.dispatchLoop()
	return c
}

// Close closes the client and underlying transport. Pending requests fail
// with ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.events.close()
		c.fail(ErrClosed)
		err = c.transport.Close()
	})
	return err
}

// Done is closed when the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Error returns the error that stopped the receive loop, if any.
func (c *Client) Error() error {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return c.err
}

// fail records err and fails every pending request with it.
func (c *Client) fail(err error) {
	c.pendingMu.Lock()
	if c.err == nil {
		c.err = err
	}
	pending := c.pending
	c.pending = make(map[int]*pendingRequest)
	c.pendingMu.Unlock()

	for _, req := range pending {
		req.err = err
		req.close()
	}
}

func (c *Client) receiveLoop() {
	for {
		content, err := c.transport.Receive()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.log.WithError(err).Debug("receive loop stopped")
			c.fail(fmt.Errorf("connection lost: %w", err))
			c.events.close()
			return
		}

		select {
		case <-c.done:
			return
		default:
		}

		c.handleMessage(content)
	}
}

func (c *Client) handleMessage(content []byte) {
	if !gjson.ValidBytes(content) {
		c.log.Warn("dropping invalid message")
		return
	}
	msg := gjson.ParseBytes(content)

	switch msg.Get("type").String() {
	case "response":
		c.handleResponse(msg)
	case "event":
		c.events.push(msg)
	default:
		c.log.WithField("type", msg.Get("type").String()).Debug("ignoring message")
	}
}

func (c *Client) handleResponse(msg gjson.Result) {
	seq := int(msg.Get("request_seq").Int())

	c.pendingMu.Lock()
	req, ok := c.pending[seq]
	if ok {
		delete(c.pending, seq)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.log.WithField("request_seq", seq).Debug("response for unknown request")
		return
	}
	req.response = msg
	req.close()
}

func (c *Client) dispatchLoop() {
	for {
		msg, ok := c.events.pop()
		if !ok {
			return
		}
		c.handleEvent(msg)
	}
}

func decodeEvent[T any](body gjson.Result, fn func(T)) {
	if fn == nil {
		return
	}
	var v T
	if body.Exists() {
		if err := json.Unmarshal([]byte(body.Raw), &v); err != nil {
			return
		}
	}
	fn(v)
}

func (c *Client) handleEvent(msg gjson.Result) {
	c.handlerMu.RLock()
	handlers := c.handlers
	c.handlerMu.RUnlock()

	event := msg.Get("event").String()
	body := msg.Get("body")
	c.log.WithField("event", event).Trace("event")

	switch event {
	case "initialized":
		if handlers.onInitialized != nil {
			handlers.onInitialized()
		}
	case "stopped":
		decodeEvent(body, handlers.onStopped)
	case "continued":
		decodeEvent(body, handlers.onContinued)
	case "exited":
		decodeEvent(body, handlers.onExited)
	case "terminated":
		decodeEvent(body, handlers.onTerminated)
	case "thread":
		decodeEvent(body, handlers.onThread)
	case "output":
		decodeEvent(body, handlers.onOutput)
	case "breakpoint":
		decodeEvent(body, handlers.onBreakpoint)
	}

	if handlers.onAny != nil {
		handlers.onAny(event, []byte(body.Raw))
	}
}

// Request sends a request and waits for its response. The returned raw body
// is nil when the response carries none.
func (c *Client) Request(ctx context.Context, command string, args any) (json.RawMessage, error) {
	body, err := c.sendRequest(ctx, command, args)
	if c.observe != nil {
		c.observe(command, err)
	}
	return body, err
}

func (c *Client) sendRequest(ctx context.Context, command string, args any) (json.RawMessage, error) {
	seq := int(atomic.AddInt64(&c.seq, 1))

	content, err := json.Marshal(newRequest(seq, command, args))
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", command, err)
	}

	pending := &pendingRequest{
		command: command,
		done:    make(chan struct{}),
	}

	c.pendingMu.Lock()
	if c.err != nil {
		err := c.err
		c.pendingMu.Unlock()
		return nil, err
	}
	c.pending[seq] = pending
	c.pendingMu.Unlock()

	c.log.WithFields(logrus.Fields{"command": command, "seq": seq}).Trace("request")

	if err := c.transport.Send(content); err != nil {
		c.forget(seq)
		return nil, fmt.Errorf("send %s request: %w", command, err)
	}

	select {
	case <-ctx.Done():
		c.forget(seq)
		return nil, ctx.Err()
	case <-pending.done:
	}

	if pending.err != nil {
		return nil, pending.err
	}

	resp := pending.response
	if !resp.Get("success").Bool() {
		return nil, &ResponseError{
			Command: command,
			Message: resp.Get("message").String(),
		}
	}

	body := resp.Get("body")
	if !body.Exists() {
		return nil, nil
	}
	return json.RawMessage(body.Raw), nil
}

func (c *Client) forget(seq int) {
	c.pendingMu.Lock()
	delete(c.pending, seq)
	c.pendingMu.Unlock()
}

// call sends a request and decodes its body into out when out is non-nil.
func (c *Client) call(ctx context.Context, command string, args, out any) error {
	body, err := c.Request(ctx, command, args)
	if err != nil {
		return err
	}
	if out == nil || body == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s body: %v", ErrMalformed, command, err)
	}
	return nil
}

// Event handler setters

// OnInitialized sets the handler for the initialized event.
func (c *Client) OnInitialized(handler func()) {
	c.handlerMu.Lock()
	c.handlers.onInitialized = handler
	c.handlerMu.Unlock()
}

// OnStopped sets the handler for the stopped event.
func (c *Client) OnStopped(handler func(godap.StoppedEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onStopped = handler
	c.handlerMu.Unlock()
}

// OnContinued sets the handler for the continued event.
func (c *Client) OnContinued(handler func(godap.ContinuedEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onContinued = handler
	c.handlerMu.Unlock()
}

// OnExited sets the handler for the exited event.
func (c *Client) OnExited(handler func(godap.ExitedEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onExited = handler
	c.handlerMu.Unlock()
}

// OnTerminated sets the handler for the terminated event.
func (c *Client) OnTerminated(handler func(godap.TerminatedEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onTerminated = handler
	c.handlerMu.Unlock()
}

// OnThread sets the handler for the thread event.
func (c *Client) OnThread(handler func(godap.ThreadEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onThread = handler
	c.handlerMu.Unlock()
}

// OnOutput sets the handler for the output event.
func (c *Client) OnOutput(handler func(godap.OutputEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onOutput = handler
	c.handlerMu.Unlock()
}

// OnBreakpoint sets the handler for the breakpoint event.
func (c *Client) OnBreakpoint(handler func(godap.BreakpointEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onBreakpoint = handler
	c.handlerMu.Unlock()
}

// OnAnyEvent sets a handler called for every event after the typed one.
func (c *Client) OnAnyEvent(handler func(event string, body []byte)) {
	c.handlerMu.Lock()
	c.handlers.onAny = handler
	c.handlerMu.Unlock()
}

// DAP Request Methods

// Initialize sends the initialize request.
func (c *Client) Initialize(ctx context.Context, args godap.InitializeRequestArguments) (*godap.Capabilities, error) {
	var caps godap.Capabilities
	if err := c.call(ctx, "initialize", args, &caps); err != nil {
		return nil, err
	}
	return &caps, nil
}

// Attach sends the attach request.
func (c *Client) Attach(ctx context.Context, args any) error {
	return c.call(ctx, "attach", args, nil)
}

// ConfigurationDone sends the configurationDone request.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	return c.call(ctx, "configurationDone", nil, nil)
}

// Disconnect sends the disconnect request.
func (c *Client) Disconnect(ctx context.Context, args godap.DisconnectArguments) error {
	return c.call(ctx, "disconnect", args, nil)
}

// Restart sends the restart request.
func (c *Client) Restart(ctx context.Context) error {
	return c.call(ctx, "restart", nil, nil)
}

// Terminate sends the terminate request.
func (c *Client) Terminate(ctx context.Context, args godap.TerminateArguments) error {
	return c.call(ctx, "terminate", args, nil)
}

// SetBreakpoints sends the setBreakpoints request and returns the adapter's
// confirmed breakpoints.
func (c *Client) SetBreakpoints(ctx context.Context, args godap.SetBreakpointsArguments) ([]godap.Breakpoint, error) {
	var body godap.SetBreakpointsResponseBody
	if err := c.call(ctx, "setBreakpoints", args, &body); err != nil {
		return nil, err
	}
	return body.Breakpoints, nil
}

// Continue sends the continue request.
func (c *Client) Continue(ctx context.Context, args godap.ContinueArguments) (*godap.ContinueResponseBody, error) {
	var body godap.ContinueResponseBody
	if err := c.call(ctx, "continue", args, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

// Next sends the next (step over) request.
func (c *Client) Next(ctx context.Context, args godap.NextArguments) error {
	return c.call(ctx, "next", args, nil)
}

// StepIn sends the stepIn request.
func (c *Client) StepIn(ctx context.Context, args godap.StepInArguments) error {
	return c.call(ctx, "stepIn", args, nil)
}

// StepOut sends the stepOut request.
func (c *Client) StepOut(ctx context.Context, args godap.StepOutArguments) error {
	return c.call(ctx, "stepOut", args, nil)
}

// Pause sends the pause request.
func (c *Client) Pause(ctx context.Context, args godap.PauseArguments) error {
	return c.call(ctx, "pause", args, nil)
}

// Threads sends the threads request.
func (c *Client) Threads(ctx context.Context) ([]godap.Thread, error) {
	var body godap.ThreadsResponseBody
	if err := c.call(ctx, "threads", nil, &body); err != nil {
		return nil, err
	}
	return body.Threads, nil
}

// StackTrace sends the stackTrace request.
func (c *Client) StackTrace(ctx context.Context, args godap.StackTraceArguments) (*godap.StackTraceResponseBody, error) {
	var body godap.StackTraceResponseBody
	if err := c.call(ctx, "stackTrace", args, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

// Scopes sends the scopes request.
func (c *Client) Scopes(ctx context.Context, args godap.ScopesArguments) ([]godap.Scope, error) {
	var body godap.ScopesResponseBody
	if err := c.call(ctx, "scopes", args, &body); err != nil {
		return nil, err
	}
	return body.Scopes, nil
}

// Variables sends the variables request.
func (c *Client) Variables(ctx context.Context, args godap.VariablesArguments) ([]godap.Variable, error) {
	var body godap.VariablesResponseBody
	if err := c.call(ctx, "variables", args, &body); err != nil {
		return nil, err
	}
	return body.Variables, nil
}

// Source sends the source request.
func (c *Client) Source(ctx context.Context, args SourceArguments) (*godap.SourceResponseBody, error) {
	var body godap.SourceResponseBody
	if err := c.call(ctx, "source", args, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

// Kernel extension requests

// DebugInfo asks the kernel for its debugger state.
func (c *Client) DebugInfo(ctx context.Context) (*DebugInfoResponseBody, error) {
	var body DebugInfoResponseBody
	if err := c.call(ctx, "debugInfo", nil, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

// DumpCell stores cell code in the kernel and returns the path it was
// written to.
func (c *Client) DumpCell(ctx context.Context, code string) (string, error) {
	var body DumpCellResponseBody
	if err := c.call(ctx, "dumpCell", DumpCellArguments{Code: code}, &body); err != nil {
		return "", err
	}
	return body.SourcePath, nil
}

// InspectVariables lists the kernel's global variables.
func (c *Client) InspectVariables(ctx context.Context) ([]godap.Variable, error) {
	var body InspectVariablesResponseBody
	if err := c.call(ctx, "inspectVariables", nil, &body); err != nil {
		return nil, err
	}
	return body.Variables, nil
}
