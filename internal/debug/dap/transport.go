// Package dap implements the Debug Adapter Protocol client used to drive a
// kernel's debugger.
package dap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"sync"

	godap "github.com/google/go-dap"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
)

// Transport moves raw DAP JSON documents to and from a debug adapter.
type Transport interface {
	// Send sends one JSON document.
	Send(content []byte) error

	// Receive blocks until one JSON document arrives.
	Receive() ([]byte, error)

	// Close closes the transport.
	Close() error
}

// StreamTransport frames messages with Content-Length headers over any
// byte stream.
type StreamTransport struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewStreamTransport creates a transport from any ReadWriteCloser.
func NewStreamTransport(rwc io.ReadWriteCloser) *StreamTransport {
	return &StreamTransport{
		rwc:    rwc,
		reader: bufio.NewReader(rwc),
	}
}

// Send writes one framed message.
func (t *StreamTransport) Send(content []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := godap.WriteBaseMessage(t.rwc, content); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Receive reads one framed message.
func (t *StreamTransport) Receive() ([]byte, error) {
	content, err := godap.ReadBaseMessage(t.reader)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	return content, nil
}

// Close closes the underlying stream.
func (t *StreamTransport) Close() error {
	return t.rwc.Close()
}

// NewSocketTransport dials a debug adapter listening on a TCP address.
func NewSocketTransport(ctx context.Context, address string) (*StreamTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return NewStreamTransport(conn), nil
}

// StdioTransport talks to an adapter subprocess over its stdin and stdout.
type StdioTransport struct {
	*StreamTransport
	cmd *exec.Cmd
}

type stdioPipe struct {
	io.Reader
	io.WriteCloser
	stdout io.Closer
}

func (p stdioPipe) Close() error {
	var result *multierror.Error
	result = multierror.Append(result, p.WriteCloser.Close())
	result = multierror.Append(result, p.stdout.Close())
	return result.ErrorOrNil()
}

// NewStdioTransport starts cmd and speaks DAP over its standard streams.
func NewStdioTransport(cmd *exec.Cmd) (*StdioTransport, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("get stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("get stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("start command: %w", err)
	}

	pipe := stdioPipe{Reader: stdout, WriteCloser: stdin, stdout: stdout}
	return &StdioTransport{
		StreamTransport: NewStreamTransport(pipe),
		cmd:             cmd,
	}, nil
}

// Close closes the pipes and waits for the adapter to exit. Closing stdin is
// the adapter's signal to shut down; the process is killed only if it is
// still running after that.
func (t *StdioTransport) Close() error {
	t.StreamTransport.Close()

	if t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}

	err := t.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// WebSocketTransport carries one DAP JSON document per text frame.
type WebSocketTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWebSocketTransport dials url and returns a transport over the
// connection.
func NewWebSocketTransport(ctx context.Context, url string, header http.Header) (*WebSocketTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWebSocketTransportFromConn(conn), nil
}

// NewWebSocketTransportFromConn wraps an established connection.
func NewWebSocketTransportFromConn(conn *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{conn: conn}
}

// Send writes one text frame.
func (t *WebSocketTransport) Send(content []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.WriteMessage(websocket.TextMessage, content); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Receive reads frames until a data frame arrives.
func (t *WebSocketTransport) Receive() ([]byte, error) {
	for {
		kind, content, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read message: %w", err)
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return content, nil
		}
	}
}

// Close sends a close frame and closes the connection.
func (t *WebSocketTransport) Close() error {
	t.writeMu.Lock()
	t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	return t.conn.Close()
}
