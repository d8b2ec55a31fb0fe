package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	godap "github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/dbgsync/internal/config"
	"github.com/dshills/dbgsync/internal/debug"
	"github.com/dshills/dbgsync/internal/debug/debugtest"
	"github.com/dshills/dbgsync/internal/debug/model"
	"github.com/dshills/dbgsync/internal/editor"
	"github.com/dshills/dbgsync/internal/host"
	"github.com/dshills/dbgsync/internal/host/hosttest"
	"github.com/dshills/dbgsync/internal/sources"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

var script = strings.Repeat("x = 1\n", 12)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type fixture struct {
	engine   *Engine
	shell    *hosttest.Shell
	registry *hosttest.Registry
}

func newFixture(t *testing.T) *fixture {
	shell := hosttest.NewShell()
	registry := hosttest.NewRegistry()
	settings := config.Default()
	settings.EditorDebounce = 10 * time.Millisecond

	e, err := New(Options{Shell: shell, Sessions: registry, Settings: settings})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		e.Close(ctx)
	})
	return &fixture{engine: e, shell: shell, registry: registry}
}

// stoppedIn configures adapters to stop in path at line.
func stoppedIn(path string, line int) func(*debugtest.Adapter) {
	return func(a *debugtest.Adapter) {
		a.Frames = []godap.StackFrame{
			{Id: 1, Name: "f", Source: &godap.Source{Path: path}, Line: line, Column: 1},
		}
		a.Sources[path] = script
		a.Sources["/lib/x.py"] = "import os\n"
	}
}

// focusNotebook focuses a ready notebook backed by conn and waits for the
// engine to attach to it.
func (f *fixture) focusNotebook(t *testing.T, id string, conn *hosttest.Connection) *hosttest.Widget {
	sc := hosttest.NewSessionContext(conn)
	sc.SetReady()
	w := hosttest.NewWidget(id, host.KindNotebook, conn.Path(), sc)
	f.shell.Focus(w)
	f.engine.Wait()
	require.Same(t, conn, f.engine.Service().Connection())
	return w
}

func newConn(t *testing.T, id string, setup func(*debugtest.Adapter)) *hosttest.Connection {
	conn := hosttest.NewConnection(id, "/work/"+id+".ipynb", "python3")
	conn.Setup = setup
	t.Cleanup(conn.Close)
	return conn
}

func TestNewRequiresShell(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoShell)
}

func TestStoppedOpensSourceAndContinuedClears(t *testing.T) {
	f := newFixture(t)
	conn := newConn(t, "k1", stoppedIn("/src/a.py", 10))
	f.focusNotebook(t, "nb-1", conn)

	conn.Adapter().Stopped("breakpoint", 1)

	var b *sources.Binding
	require.Eventually(t, func() bool {
		bs := f.engine.Find(sources.Criteria{Path: "/src/a.py"})
		if len(bs) != 1 || bs[0].Editor.CurrentLine() != 10 {
			return false
		}
		b = bs[0]
		return true
	}, waitFor, tick)

	assert.True(t, b.ReadOnly)
	assert.Equal(t, script, b.Editor.Text())
	assert.True(t, f.shell.HasTab(sources.TabID("/src/a.py")))
	assert.True(t, f.engine.HasStoppedThreads())
	f.engine.Wait()

	require.NoError(t, f.engine.Service().Continue(testContext(t)))
	assert.Zero(t, b.Editor.CurrentLine())
	assert.False(t, f.engine.HasStoppedThreads())
}

func TestFramePrefersFocusedUserEditor(t *testing.T) {
	f := newFixture(t)
	conn := newConn(t, "k1", stoppedIn("/src/a.py", 4))
	w := f.focusNotebook(t, "nb-1", conn)

	ed := editor.NewBuffer("/src/a.py", script)
	_, err := f.engine.Track(w, ed, "/src/a.py", "python3")
	require.NoError(t, err)

	conn.Adapter().Stopped("step", 1)

	require.Eventually(t, func() bool { return ed.CurrentLine() == 4 }, waitFor, tick)
	f.engine.Wait()
	assert.Empty(t, f.shell.Tabs())
	assert.Equal(t, 4, ed.Revealed())
}

func TestStopsAfterDisposeLeaveEditorAlone(t *testing.T) {
	f := newFixture(t)
	conn := newConn(t, "k1", stoppedIn("/src/a.py", 4))
	w := f.focusNotebook(t, "nb-1", conn)

	ed := editor.NewBuffer("/src/a.py", script)
	_, err := f.engine.Track(w, ed, "/src/a.py", "python3")
	require.NoError(t, err)

	conn.Adapter().Stopped("step", 1)
	require.Eventually(t, func() bool { return ed.CurrentLine() == 4 }, waitFor, tick)
	f.engine.Wait()
	require.NoError(t, f.engine.Service().Continue(testContext(t)))

	ed.Dispose()
	assert.Zero(t, ed.CurrentLine())

	conn.Adapter().Stopped("step", 1)
	require.Eventually(t, func() bool { return f.engine.HasStoppedThreads() }, waitFor, tick)
	f.engine.Wait()
	assert.Zero(t, ed.CurrentLine())
}

func TestShowSourceOpensReadOnlyEditor(t *testing.T) {
	f := newFixture(t)
	conn := newConn(t, "k1", stoppedIn("/src/a.py", 3))
	f.focusNotebook(t, "nb-1", conn)

	var opened []model.Source
	f.engine.SourceOpened().Connect(func(src model.Source) { opened = append(opened, src) })

	f.engine.ShowSource(model.Source{Path: "/lib/x.py"})
	f.engine.Wait()

	assert.Len(t, opened, 1)
	assert.True(t, f.shell.HasTab(sources.TabID("/lib/x.py")))
	bs := f.engine.Find(sources.Criteria{Path: "/lib/x.py"})
	require.Len(t, bs, 1)
	assert.Zero(t, bs[0].Editor.CurrentLine())
}

func TestShowSourceOfCurrentFrameShowsLine(t *testing.T) {
	f := newFixture(t)
	conn := newConn(t, "k1", stoppedIn("/src/a.py", 3))
	f.focusNotebook(t, "nb-1", conn)

	conn.Adapter().Stopped("breakpoint", 1)
	require.Eventually(t, func() bool { return f.engine.Model().Callstack.Frame() != nil }, waitFor, tick)
	f.engine.Wait()

	f.engine.ShowSource(model.Source{Path: "/src/a.py"})
	f.engine.Wait()

	bs := f.engine.Find(sources.Criteria{Path: "/src/a.py"})
	require.Len(t, bs, 1)
	assert.Equal(t, 3, bs[0].Editor.CurrentLine())
}

func TestUpdateContextWaitsForReady(t *testing.T) {
	f := newFixture(t)
	conn := newConn(t, "k1", nil)
	sc := hosttest.NewSessionContext(conn)
	w := hosttest.NewWidget("console-1", host.KindConsole, "", sc)

	done := make(chan error, 1)
	go func() { done <- f.engine.UpdateContext(testContext(t), w, sc) }()

	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, f.engine.Service().Connection())

	sc.SetReady()
	require.NoError(t, <-done)
	assert.Same(t, conn, f.engine.Service().Connection())
}

func TestUpdateUnsupportedWidget(t *testing.T) {
	f := newFixture(t)
	w := hosttest.NewWidget("tab", host.KindSource, "/lib/x.py", nil)

	err := f.engine.Update(testContext(t), w, newConn(t, "k1", nil))
	assert.ErrorIs(t, err, ErrUnsupportedWidget)

	var oerr *OperationError
	require.True(t, errors.As(err, &oerr))
	assert.Equal(t, "update", oerr.Op)
	assert.Equal(t, "tab", oerr.Target)
}

func TestFileEditorBindsThroughRegistry(t *testing.T) {
	f := newFixture(t)
	conn := hosttest.NewConnection("k1", "/work/script.py", "python3")
	t.Cleanup(conn.Close)
	f.registry.Add(conn)

	f.shell.Focus(hosttest.NewWidget("file-1", host.KindFile, "/work/script.py", nil))
	f.engine.Wait()
	assert.Same(t, conn, f.engine.Service().Connection())

	// A file without a session leaves the attachment alone.
	f.shell.Focus(hosttest.NewWidget("file-2", host.KindFile, "/work/other.py", nil))
	f.engine.Wait()
	assert.Same(t, conn, f.engine.Service().Connection())
}

func TestOpenFailureIsOperationError(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Open(testContext(t), model.Source{Path: "/gone.py"})
	assert.ErrorIs(t, err, debug.ErrSourceUnavailable)

	var oerr *OperationError
	require.True(t, errors.As(err, &oerr))
	assert.Equal(t, "open", oerr.Op)
}

func TestApplySettingsChangesVariableFilters(t *testing.T) {
	f := newFixture(t)
	conn := newConn(t, "k1", func(a *debugtest.Adapter) {
		a.Globals = []godap.Variable{{Name: "secret", Value: "1"}, {Name: "x", Value: "2"}}
	})
	f.focusNotebook(t, "nb-1", conn)

	vars, err := f.engine.Service().Globals(testContext(t))
	require.NoError(t, err)
	assert.Len(t, vars, 2)

	s := config.Default()
	s.VariableFilters = map[string][]string{"python3": {"secret"}}
	f.engine.ApplySettings(s)

	vars, err = f.engine.Service().Globals(testContext(t))
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, "x", vars[0].Name)
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	conn := newConn(t, "k1", nil)
	w := f.focusNotebook(t, "nb-1", conn)

	ctx := testContext(t)
	require.NoError(t, f.engine.Close(ctx))
	require.NoError(t, f.engine.Close(ctx))
	assert.Nil(t, f.engine.Service().Connection())

	err := f.engine.Update(ctx, w, conn)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = f.engine.Open(ctx, model.Source{Path: "/src/a.py"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOperationError(t *testing.T) {
	err := NewOperationError("open", "/a.py", debug.ErrSourceUnavailable).WithContext("frame")
	assert.Equal(t, "open /a.py (frame): "+debug.ErrSourceUnavailable.Error(), err.Error())
	assert.True(t, errors.Is(err, debug.ErrSourceUnavailable))
	assert.True(t, errors.Is(err, err))

	var nilErr *OperationError
	assert.Nil(t, nilErr.WithContext("x"))
	assert.Equal(t, "", nilErr.Error())
}
