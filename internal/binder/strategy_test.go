package binder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/dbgsync/internal/host"
	"github.com/dshills/dbgsync/internal/host/hosttest"
)

func TestFileSessionsMatchesPath(t *testing.T) {
	registry := hosttest.NewRegistry()
	conn := newConn(t, "k1", "/work/script.py")
	registry.Add(newConn(t, "k0", "/work/other.py"))
	registry.Add(conn)

	files := NewFileSessions(registry)
	w := hosttest.NewWidget("file-1", host.KindFile, "/work/./script.py", nil)

	got, err := files.Strategy(testContext(t), w)
	require.NoError(t, err)
	assert.Same(t, conn, got)
}

func TestFileSessionsMiss(t *testing.T) {
	registry := hosttest.NewRegistry()
	registry.Add(newConn(t, "k1", "/work/script.py"))
	files := NewFileSessions(registry)

	_, err := files.Strategy(testContext(t), hosttest.NewWidget("f", host.KindFile, "/work/x.py", nil))
	assert.ErrorIs(t, err, ErrNoMatchingSession)

	_, err = files.Strategy(testContext(t), hosttest.NewWidget("g", host.KindFile, "", nil))
	assert.ErrorIs(t, err, ErrNoMatchingSession)
}

func TestFileSessionsConnectOncePerSession(t *testing.T) {
	registry := hosttest.NewRegistry()
	registry.Gate = make(chan struct{})
	conn := newConn(t, "k1", "/work/script.py")
	registry.Add(conn)
	files := NewFileSessions(registry)
	ctx := testContext(t)

	var wg sync.WaitGroup
	results := make([]host.Connection, 3)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := hosttest.NewWidget("file", host.KindFile, "/work/script.py", nil)
			c, err := files.Strategy(ctx, w)
			assert.NoError(t, err)
			results[i] = c
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(registry.Gate)
	wg.Wait()

	for _, c := range results {
		assert.Same(t, conn, c)
	}
	assert.Equal(t, 1, registry.Connects("k1"))

	_, err := files.Strategy(ctx, hosttest.NewWidget("again", host.KindFile, "/work/script.py", nil))
	require.NoError(t, err)
	assert.Equal(t, 1, registry.Connects("k1"))

	files.Forget("k1")
	_, err = files.Strategy(ctx, hosttest.NewWidget("again", host.KindFile, "/work/script.py", nil))
	require.NoError(t, err)
	assert.Equal(t, 2, registry.Connects("k1"))
}

func TestFileSessionsDisposedDuringLookup(t *testing.T) {
	registry := hosttest.NewRegistry()
	registry.Gate = make(chan struct{})
	registry.Add(newConn(t, "k1", "/work/script.py"))
	files := NewFileSessions(registry)

	w := hosttest.NewWidget("file-1", host.KindFile, "/work/script.py", nil)
	errc := make(chan error, 1)
	go func() {
		_, err := files.Strategy(testContext(t), w)
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	w.Dispose()
	close(registry.Gate)
	assert.ErrorIs(t, <-errc, ErrWidgetDisposed)
}

func TestSessionContextStrategyCancelled(t *testing.T) {
	conn := newConn(t, "k1", "/work/console")
	w := hosttest.NewWidget("console-1", host.KindConsole, "", hosttest.NewSessionContext(conn))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := SessionContextStrategy(ctx, w)
	assert.Error(t, err)
}
