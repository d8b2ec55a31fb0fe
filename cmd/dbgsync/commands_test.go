package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/dbgsync/internal/app"
	"github.com/dshills/dbgsync/internal/config"
	"github.com/dshills/dbgsync/internal/debug/model"
	"github.com/dshills/dbgsync/internal/editor"
	"github.com/dshills/dbgsync/internal/host"
	"github.com/dshills/dbgsync/internal/host/hosttest"
	"github.com/dshills/dbgsync/internal/metrics"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "dbgsync "+version)
}

func TestAttachRequiresFile(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"attach"})

	assert.Error(t, root.Execute())
}

func TestAttachRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "dbgsync.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("source_cache_size: 0\n"), 0o644))

	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"attach", "--config", cfg, filepath.Join(dir, "main.py")})

	var verr *config.ValidationError
	assert.ErrorAs(t, root.Execute(), &verr)
}

func TestAttachFlagsOverrideAdapter(t *testing.T) {
	s := config.Default()
	f := attachFlags{transport: "stdio", command: []string{"python3", "-m", "debugpy.adapter"}}
	require.NoError(t, f.apply(s, "main.py"))
	assert.Equal(t, config.TransportStdio, s.Adapter.Transport)
	assert.Equal(t, "python3 -m debugpy.adapter", target(s.Adapter))

	s = config.Default()
	f = attachFlags{transport: "stdio"}
	s.Adapter.Command = nil
	assert.Error(t, f.apply(s, "main.py"))

	s = config.Default()
	f = attachFlags{transport: "carrier-pigeon"}
	assert.Error(t, f.apply(s, "main.py"))
}

func installed(string) (string, error) { return "/usr/bin/true", nil }

func TestAttachAdapterPreset(t *testing.T) {
	s := config.Default()
	f := attachFlags{adapter: presetAuto, lookPath: installed}
	require.NoError(t, f.apply(s, "/work/main.go"))
	assert.Equal(t, config.TransportStdio, s.Adapter.Transport)
	assert.Equal(t, []string{"dlv", "dap"}, s.Adapter.Command)

	// An explicit command wins over the preset.
	s = config.Default()
	f = attachFlags{adapter: "python", command: []string{"./adapter"}, lookPath: installed}
	require.NoError(t, f.apply(s, "/work/main.py"))
	assert.Equal(t, []string{"./adapter"}, s.Adapter.Command)
}

func TestResolvePreset(t *testing.T) {
	cmd, err := resolvePreset(presetAuto, "/work/Script.PY", installed)
	require.NoError(t, err)
	assert.Equal(t, []string{"python3", "-m", "debugpy.adapter"}, cmd)

	_, err = resolvePreset(presetAuto, "/work/notes.txt", installed)
	assert.ErrorContains(t, err, "no adapter preset")

	_, err = resolvePreset("gdb", "/work/main.c", installed)
	assert.ErrorContains(t, err, "known: delve, python")

	missing := func(name string) (string, error) { return "", exec.ErrNotFound }
	_, err = resolvePreset("delve", "/work/main.go", missing)
	assert.ErrorIs(t, err, exec.ErrNotFound)
}

func TestAdapterConnectionDialsSocket(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
	}()

	conn := newAdapterConnection("/work/main.py", "python3", config.AdapterSettings{
		Transport: config.TransportSocket,
		Address:   ln.Addr().String(),
	})
	tr, err := conn.Open(context.Background())
	require.NoError(t, err)
	assert.NoError(t, tr.Close())
	assert.True(t, conn.DebuggerAvailable())
}

func TestAdapterConnectionErrors(t *testing.T) {
	conn := newAdapterConnection("/work/main.py", "python3", config.AdapterSettings{Transport: config.TransportStdio})
	_, err := conn.Open(context.Background())
	assert.ErrorIs(t, err, errEmptyCommand)

	conn = newAdapterConnection("/work/main.py", "python3", config.AdapterSettings{Transport: "udp"})
	_, err = conn.Open(context.Background())
	assert.ErrorIs(t, err, errUnknownTransport)
}

func TestStaticSessions(t *testing.T) {
	conn := newAdapterConnection("/work/main.py", "python3", config.AdapterSettings{})
	r := staticSessions{conn: conn}

	running, err := r.Running(context.Background())
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "/work/main.py", running[0].Path)

	got, err := r.ConnectTo(context.Background(), running[0])
	require.NoError(t, err)
	assert.Same(t, conn, got)

	_, err = r.ConnectTo(context.Background(), host.SessionModel{ID: "other"})
	assert.Error(t, err)
}

func TestTerminalShellTabs(t *testing.T) {
	var out bytes.Buffer
	shell := newTerminalShell(&out)
	w := hosttest.NewWidget("src-1", host.KindSource, "/src/a.py", nil)

	shell.AddReadOnly(host.Tab{ID: "tab-1", Title: "a.py", Widget: w})
	assert.True(t, shell.HasTab("tab-1"))
	assert.Equal(t, "opened a.py\n", out.String())

	var focused host.Widget
	shell.CurrentChanged().Connect(func(w host.Widget) { focused = w })
	assert.True(t, shell.Activate("tab-1"))
	assert.Same(t, w, focused)
	assert.Same(t, w, shell.Current())

	w.Dispose()
	assert.False(t, shell.HasTab("tab-1"))
	assert.False(t, shell.Activate("tab-1"))
}

func TestFileWidgetDisposeOnce(t *testing.T) {
	w := newFileWidget("/work/main.py")
	n := 0
	w.Disposed().Connect(func(struct{}) { n++ })

	w.Dispose()
	w.Dispose()
	assert.True(t, w.IsDisposed())
	assert.Equal(t, 1, n)
	assert.Equal(t, host.KindFile, w.Kind())
}

func newTestSession(t *testing.T) (*session, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	engine, err := app.New(app.Options{Shell: newTerminalShell(out)})
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close(context.Background()) })

	buf := editor.NewBuffer("/work/main.py", "a = 1\nb = 2\n")
	return &session{engine: engine, buf: buf, path: "/work/main.py", out: out}, out
}

func TestSessionCommands(t *testing.T) {
	s, out := newTestSession(t)
	ctx := context.Background()

	assert.ErrorContains(t, s.exec(ctx, "c"), "Continue is not available")
	assert.ErrorContains(t, s.exec(ctx, "frobnicate"), "unknown command")
	assert.ErrorContains(t, s.exec(ctx, "b"), "usage")
	assert.ErrorContains(t, s.exec(ctx, "b x"), "bad line")
	assert.ErrorIs(t, s.exec(ctx, "quit"), errQuit)
	assert.NoError(t, s.exec(ctx, "   "))

	require.NoError(t, s.exec(ctx, "help"))
	assert.Contains(t, out.String(), "toggle a breakpoint")

	out.Reset()
	require.NoError(t, s.exec(ctx, "l"))
	assert.Contains(t, out.String(), "a = 1")
}

func TestSessionRunStopsOnQuit(t *testing.T) {
	s, out := newTestSession(t)
	in := strings.NewReader("help\nbogus\nq\nhelp\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.run(ctx, in))
	assert.Equal(t, 1, strings.Count(out.String(), "Commands:"))
	assert.Contains(t, out.String(), `error: unknown command "bogus"`)
}

func TestSessionOnFrameRendersOwnFile(t *testing.T) {
	s, out := newTestSession(t)

	s.onFrame(nil)
	assert.Equal(t, "running\n", out.String())

	out.Reset()
	s.buf.SetCurrentLine(2)
	s.onFrame(&model.Frame{Name: "main", Source: model.Source{Path: "/work/main.py"}, Line: 2})
	assert.Contains(t, out.String(), "stopped in main at /work/main.py:2")
	assert.Contains(t, out.String(), "b = 2")
}

func TestServeMetrics(t *testing.T) {
	m := metrics.New()
	m.Binder("file", "attached")

	srv, err := serveMetrics("127.0.0.1:0", m)
	require.NoError(t, err)
	defer srv.Close(context.Background())

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `outcome="attached"`)
}
