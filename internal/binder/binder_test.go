package binder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/dbgsync/internal/debug"
	"github.com/dshills/dbgsync/internal/host"
	"github.com/dshills/dbgsync/internal/host/hosttest"
	"github.com/dshills/dbgsync/internal/metrics"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newService(t *testing.T) (*debug.Service, *metrics.Metrics) {
	m := metrics.New()
	svc := debug.NewService(debug.Options{Metrics: m})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		svc.Close(ctx)
	})
	return svc, m
}

func newConn(t *testing.T, id, path string) *hosttest.Connection {
	conn := hosttest.NewConnection(id, path, "python3")
	t.Cleanup(conn.Close)
	return conn
}

func outcome(m *metrics.Metrics, kind host.WidgetKind, name string) float64 {
	return testutil.ToFloat64(m.BinderUpdates.WithLabelValues(kind.String(), name))
}

func TestActivateWaitsForReady(t *testing.T) {
	svc, m := newService(t)
	b := New(host.KindConsole, SessionContextStrategy, svc, Options{Metrics: m})
	defer b.Close()

	conn := newConn(t, "k1", "/work/console-1")
	sc := hosttest.NewSessionContext(conn)
	w := hosttest.NewWidget("console-1", host.KindConsole, "", sc)

	done := make(chan error, 1)
	go func() { done <- b.Activate(testContext(t), w) }()

	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, svc.Connection())

	sc.SetReady()
	require.NoError(t, <-done)
	assert.Same(t, conn, svc.Connection())
	assert.True(t, svc.IsStarted())
	assert.True(t, b.Bound("console-1"))
	assert.Equal(t, 1.0, outcome(m, host.KindConsole, "attached"))
}

func TestActivateIgnoresOtherKinds(t *testing.T) {
	svc, m := newService(t)
	b := New(host.KindNotebook, SessionContextStrategy, svc, Options{Metrics: m})

	conn := newConn(t, "k1", "/work/a.ipynb")
	sc := hosttest.NewSessionContext(conn)
	sc.SetReady()
	w := hosttest.NewWidget("console-1", host.KindConsole, "", sc)

	require.NoError(t, b.Activate(testContext(t), w))
	require.NoError(t, b.Activate(testContext(t), nil))
	assert.Nil(t, svc.Connection())
	assert.Zero(t, conn.Opens())
}

func TestActivateMissKeepsSession(t *testing.T) {
	svc, m := newService(t)
	ctx := testContext(t)

	conn := newConn(t, "k1", "/work/a.ipynb")
	_, err := svc.SetConnection(ctx, conn)
	require.NoError(t, err)

	files := NewFileSessions(hosttest.NewRegistry())
	b := New(host.KindFile, files.Strategy, svc, Options{Metrics: m})

	w := hosttest.NewWidget("file-1", host.KindFile, "/work/other.py", nil)
	require.NoError(t, b.Activate(ctx, w))

	assert.Same(t, conn, svc.Connection())
	assert.False(t, b.Bound("file-1"))
	assert.Equal(t, 1.0, outcome(m, host.KindFile, "miss"))
}

func TestActivateWithoutSessionContextIsMiss(t *testing.T) {
	svc, m := newService(t)
	b := New(host.KindNotebook, SessionContextStrategy, svc, Options{Metrics: m})

	w := hosttest.NewWidget("nb-1", host.KindNotebook, "/work/a.ipynb", nil)
	require.NoError(t, b.Activate(testContext(t), w))
	assert.Nil(t, svc.Connection())
	assert.Equal(t, 1.0, outcome(m, host.KindNotebook, "miss"))
}

func TestActivateDisposedWidgetIsMiss(t *testing.T) {
	svc, m := newService(t)
	b := New(host.KindNotebook, SessionContextStrategy, svc, Options{Metrics: m})

	conn := newConn(t, "k1", "/work/a.ipynb")
	sc := hosttest.NewSessionContext(conn)
	sc.SetReady()
	w := hosttest.NewWidget("nb-1", host.KindNotebook, "/work/a.ipynb", sc)
	w.Dispose()

	require.NoError(t, b.Activate(testContext(t), w))
	assert.Nil(t, svc.Connection())
	assert.Equal(t, 1.0, outcome(m, host.KindNotebook, "miss"))
}

func TestUpdateIsIdempotent(t *testing.T) {
	svc, m := newService(t)
	b := New(host.KindNotebook, SessionContextStrategy, svc, Options{Metrics: m})
	ctx := testContext(t)

	conn := newConn(t, "k1", "/work/a.ipynb")
	w := hosttest.NewWidget("nb-1", host.KindNotebook, "/work/a.ipynb", nil)

	require.NoError(t, b.Update(ctx, w, conn))
	require.NoError(t, b.Update(ctx, w, conn))

	assert.Equal(t, 1, conn.Opens())
	assert.Equal(t, 1.0, outcome(m, host.KindNotebook, "attached"))
	assert.Equal(t, 1.0, outcome(m, host.KindNotebook, "unchanged"))
}

func TestUpdateNotifiesCommands(t *testing.T) {
	svc, _ := newService(t)
	b := New(host.KindNotebook, SessionContextStrategy, svc, Options{})

	var mu sync.Mutex
	var calls int
	svc.Commands().Changed().Connect(func(map[string]bool) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	conn := newConn(t, "k1", "/work/a.ipynb")
	w := hosttest.NewWidget("nb-1", host.KindNotebook, "/work/a.ipynb", nil)
	require.NoError(t, b.Update(testContext(t), w, conn))

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, calls, 1)
}

func TestDisposeDropsListeners(t *testing.T) {
	svc, _ := newService(t)
	b := New(host.KindNotebook, SessionContextStrategy, svc, Options{})

	conn := newConn(t, "k1", "/work/a.ipynb")
	w := hosttest.NewWidget("nb-1", host.KindNotebook, "/work/a.ipynb", nil)
	require.NoError(t, b.Update(testContext(t), w, conn))
	require.True(t, b.Bound("nb-1"))

	w.Dispose()
	assert.False(t, b.Bound("nb-1"))
	assert.Zero(t, w.Disposed().Count())

	// The session outlives the widget.
	assert.Same(t, conn, svc.Connection())
}

func TestUpdateDisposedWidgetIsNoop(t *testing.T) {
	svc, _ := newService(t)
	b := New(host.KindNotebook, SessionContextStrategy, svc, Options{})

	conn := newConn(t, "k1", "/work/a.ipynb")
	w := hosttest.NewWidget("nb-1", host.KindNotebook, "/work/a.ipynb", nil)
	w.Dispose()

	require.NoError(t, b.Update(testContext(t), w, conn))
	assert.Nil(t, svc.Connection())
	assert.False(t, b.Bound("nb-1"))
}

func TestLatestFocusedAndReadyWins(t *testing.T) {
	svc, m := newService(t)
	consoles := New(host.KindConsole, SessionContextStrategy, svc, Options{Metrics: m})
	notebooks := New(host.KindNotebook, SessionContextStrategy, svc, Options{Metrics: m})

	tracker := NewTracker(consoles, notebooks)
	shell := hosttest.NewShell()
	tracker.Watch(shell)
	defer tracker.Close()

	slow := newConn(t, "slow", "/work/console")
	slowCtx := hosttest.NewSessionContext(slow)
	console := hosttest.NewWidget("console-1", host.KindConsole, "", slowCtx)

	fast := newConn(t, "fast", "/work/a.ipynb")
	fastCtx := hosttest.NewSessionContext(fast)
	fastCtx.SetReady()
	notebook := hosttest.NewWidget("nb-1", host.KindNotebook, "/work/a.ipynb", fastCtx)

	shell.Focus(console)
	shell.Focus(notebook)

	assert.Eventually(t, func() bool { return svc.Connection() == host.Connection(fast) }, waitFor, tick)

	// The console becomes ready after the notebook was focused.
	slowCtx.SetReady()
	assert.Eventually(t, func() bool {
		return outcome(m, host.KindConsole, "superseded") == 1
	}, waitFor, tick)

	tracker.Wait()
	assert.Same(t, fast, svc.Connection())
	assert.Zero(t, slow.Opens())
}

func TestFocusBackRebinds(t *testing.T) {
	svc, _ := newService(t)
	consoles := New(host.KindConsole, SessionContextStrategy, svc, Options{})
	notebooks := New(host.KindNotebook, SessionContextStrategy, svc, Options{})
	tracker := NewTracker(consoles, notebooks)
	shell := hosttest.NewShell()
	tracker.Watch(shell)
	defer tracker.Close()

	c1 := newConn(t, "k1", "/work/console")
	ctx1 := hosttest.NewSessionContext(c1)
	ctx1.SetReady()
	console := hosttest.NewWidget("console-1", host.KindConsole, "", ctx1)

	c2 := newConn(t, "k2", "/work/a.ipynb")
	ctx2 := hosttest.NewSessionContext(c2)
	ctx2.SetReady()
	notebook := hosttest.NewWidget("nb-1", host.KindNotebook, "/work/a.ipynb", ctx2)

	shell.Focus(console)
	tracker.Wait()
	assert.Same(t, c1, svc.Connection())

	shell.Focus(notebook)
	tracker.Wait()
	assert.Same(t, c2, svc.Connection())

	shell.Focus(console)
	tracker.Wait()
	assert.Same(t, c1, svc.Connection())
	assert.Equal(t, 2, c1.Opens())
}

func TestTrackerActivatesCurrentWidget(t *testing.T) {
	svc, _ := newService(t)
	b := New(host.KindNotebook, SessionContextStrategy, svc, Options{})

	conn := newConn(t, "k1", "/work/a.ipynb")
	sc := hosttest.NewSessionContext(conn)
	sc.SetReady()
	w := hosttest.NewWidget("nb-1", host.KindNotebook, "/work/a.ipynb", sc)

	shell := hosttest.NewShell()
	shell.Focus(w)

	tracker := NewTracker(b)
	tracker.Watch(shell)
	defer tracker.Close()

	tracker.Wait()
	assert.Same(t, conn, svc.Connection())
}

func TestTrackerCloseCancelsPending(t *testing.T) {
	svc, m := newService(t)
	b := New(host.KindConsole, SessionContextStrategy, svc, Options{Metrics: m})
	tracker := NewTracker(b)
	shell := hosttest.NewShell()
	tracker.Watch(shell)

	conn := newConn(t, "k1", "/work/console")
	w := hosttest.NewWidget("console-1", host.KindConsole, "", hosttest.NewSessionContext(conn))
	shell.Focus(w)

	tracker.Close()
	assert.Nil(t, svc.Connection())
	assert.Equal(t, 1.0, outcome(m, host.KindConsole, "miss"))
	assert.Zero(t, shell.CurrentChanged().Count())

	// Focus changes after Close are ignored.
	shell.Focus(w)
	tracker.Wait()
	assert.Nil(t, svc.Connection())
}
