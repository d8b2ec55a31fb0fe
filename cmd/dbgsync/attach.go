package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/dbgsync/internal/app"
	"github.com/dshills/dbgsync/internal/config"
	"github.com/dshills/dbgsync/internal/debug"
	"github.com/dshills/dbgsync/internal/debug/model"
	"github.com/dshills/dbgsync/internal/editor"
	"github.com/dshills/dbgsync/internal/sources"
)

const shutdownTimeout = 5 * time.Second

type attachFlags struct {
	adapter   string
	transport string
	address   string
	command   []string
	kernel    string
	breaks    []int

	lookPath func(string) (string, error)
}

func newAttachCommand(root *rootFlags) *cobra.Command {
	var flags attachFlags

	cmd := &cobra.Command{
		Use:   "attach <file>",
		Short: "Attach to a debug adapter and follow it in file.",
		Long: `Attach to a running debug adapter and show its progress in file.

The file is loaded into an editor whose gutter shows breakpoints and the
current line. Sources outside the file are opened read-only when execution
stops in them. Commands are read from standard input; type "help" to list
them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttach(cmd, root, &flags, args[0])
		},
	}
	cmd.Flags().StringVar(&flags.adapter, "adapter", "", "Start a known adapter on stdio: python, delve or auto to pick by file extension.")
	cmd.Flags().StringVar(&flags.transport, "transport", "", "Adapter transport: socket, stdio or websocket.")
	cmd.Flags().StringVar(&flags.address, "address", "", "Adapter address, host:port or a ws:// URL.")
	cmd.Flags().StringSliceVar(&flags.command, "adapter-command", nil, "Adapter command line for the stdio transport.")
	cmd.Flags().StringVar(&flags.kernel, "kernel", "python3", "Kernel name used to pick variable filters.")
	cmd.Flags().IntSliceVarP(&flags.breaks, "break", "b", nil, "Lines to set breakpoints on.")
	return cmd
}

func (f *attachFlags) apply(s *config.Settings, file string) error {
	if f.adapter != "" {
		cmd, err := resolvePreset(f.adapter, file, f.lookPath)
		if err != nil {
			return err
		}
		s.Adapter.Transport = config.TransportStdio
		s.Adapter.Command = cmd
	}
	if f.transport != "" {
		s.Adapter.Transport = config.Transport(f.transport)
	}
	if f.address != "" {
		s.Adapter.Address = f.address
	}
	if len(f.command) > 0 {
		s.Adapter.Command = f.command
	}
	return s.Validate()
}

func runAttach(cmd *cobra.Command, root *rootFlags, flags *attachFlags, file string) error {
	loaded, watch, err := loadSettings(root)
	if err != nil {
		return err
	}
	if watch != nil {
		defer watch.Close()
	}
	settings := *loaded
	if err := flags.apply(&settings, file); err != nil {
		return err
	}

	path, err := filepath.Abs(file)
	if err != nil {
		return err
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	path = model.NormalizePath(path)

	out := &syncWriter{w: cmd.OutOrStdout()}
	shell := newTerminalShell(out)
	conn := newAdapterConnection(path, flags.kernel, settings.Adapter)

	engine, err := app.New(app.Options{
		Shell:    shell,
		Sessions: staticSessions{conn: conn},
		Settings: &settings,
	})
	if err != nil {
		return err
	}

	ctx, stop := ossignal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := engine.Close(closeCtx); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: closing session: %v\n", err)
		}
	}()

	if root.metrics != "" {
		srv, err := serveMetrics(root.metrics, engine.Metrics())
		if err != nil {
			return fmt.Errorf("serving metrics: %w", err)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			srv.Close(closeCtx)
		}()
		fmt.Fprintf(out, "metrics on http://%s/metrics\n", srv.Addr())
	}

	if watch != nil {
		conns := watch.Changed().Connect(engine.ApplySettings)
		defer conns.Disconnect()
	}

	buf := editor.NewBuffer(path, string(text))
	widget := newFileWidget(path)
	defer widget.Dispose()

	binding, err := engine.Track(widget, buf, path, flags.kernel)
	if err != nil {
		return err
	}
	if len(flags.breaks) > 0 {
		if _, err := engine.Service().UpdateBreakpoints(ctx, path, flags.breaks); err != nil {
			return err
		}
	}

	s := &session{engine: engine, binding: binding, buf: buf, path: path, out: out}
	frames := engine.FrameChanged().Connect(s.onFrame)
	defer frames.Disconnect()

	shell.Focus(widget)
	if err := engine.Update(ctx, widget, conn); err != nil {
		return err
	}
	fmt.Fprintf(out, "attached to %s over %s\n", target(settings.Adapter), settings.Adapter.Transport)

	return s.run(ctx, cmd.InOrStdin())
}

func target(a config.AdapterSettings) string {
	if a.Transport == config.TransportStdio {
		return strings.Join(a.Command, " ")
	}
	return a.Address
}

// syncWriter serializes writes from signal listeners and the command loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

// session runs the interactive command loop of an attached file.
type session struct {
	engine  *app.Engine
	binding *sources.Binding
	buf     *editor.Buffer
	path    string
	out     io.Writer
}

var runCommands = map[string]string{
	"c": debug.CmdContinue, "continue": debug.CmdContinue,
	"n": debug.CmdNext, "next": debug.CmdNext,
	"s": debug.CmdStepIn, "step": debug.CmdStepIn,
	"o": debug.CmdStepOut, "out": debug.CmdStepOut,
	"p": debug.CmdPause, "pause": debug.CmdPause,
	"t": debug.CmdTerminate, "terminate": debug.CmdTerminate,
}

const helpText = `Commands:
  c, continue      resume every thread
  n, next          step over
  s, step          step in
  o, out           step out
  p, pause         pause the running threads
  t, terminate     terminate the debuggee
  b, break <line>  toggle a breakpoint
  l, list          print the file with its gutter
  q, quit          detach and exit
`

var errQuit = errors.New("quit")

func (s *session) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := s.exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
		}
	}
}

func (s *session) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	if id, ok := runCommands[fields[0]]; ok {
		if !s.engine.Commands().IsEnabled(id) {
			return fmt.Errorf("%s is not available now", s.engine.Commands().Label(id))
		}
		return s.engine.Commands().Execute(ctx, id)
	}

	switch fields[0] {
	case "b", "break":
		if len(fields) != 2 {
			return errors.New("usage: break <line>")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("bad line %q", fields[1])
		}
		return s.binding.Handler.Toggle(ctx, n)
	case "l", "list":
		fmt.Fprint(s.out, s.buf.Render())
		return nil
	case "h", "help":
		fmt.Fprint(s.out, helpText)
		return nil
	case "q", "quit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func (s *session) onFrame(f *model.Frame) {
	if f == nil {
		fmt.Fprintln(s.out, "running")
		return
	}
	fmt.Fprintf(s.out, "stopped in %s at %s:%d\n", f.Name, f.Source.Key(), f.Line)
	if f.Source.Key() == s.path {
		fmt.Fprint(s.out, s.buf.Render())
	}
}
