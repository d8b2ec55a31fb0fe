package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recorder keeps the first event it sees.
type recorder struct {
	mu    sync.Mutex
	first *Event
	count atomic.Int32
}

func (r *recorder) handle(event Event) {
	r.count.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.first == nil {
		r.first = &event
	}
}

func (r *recorder) wait(t *testing.T) Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for r.count.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.first == nil {
		t.Fatal("did not receive file event")
	}
	return *r.first
}

func startWatcher(t *testing.T, path string, opts ...Option) (*Watcher, *recorder) {
	t.Helper()
	w := New(opts...)
	rec := &recorder{}
	w.OnChange(rec.handle)
	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w, rec
}

func TestNew(t *testing.T) {
	w := New()
	if w.debounce != 100*time.Millisecond {
		t.Errorf("default debounce = %v, want 100ms", w.debounce)
	}

	w = New(WithDebounce(50 * time.Millisecond))
	if w.debounce != 50*time.Millisecond {
		t.Errorf("debounce = %v, want 50ms", w.debounce)
	}
}

func TestOperation_String(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OpWrite, "write"},
		{OpCreate, "create"},
		{OpRemove, "remove"},
		{OpRename, "rename"},
		{Operation(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func TestWatcher_WatchUnwatch(t *testing.T) {
	tmpDir := t.TempDir()
	w := New()

	if err := w.Watch(filepath.Join(tmpDir, "a.toml")); err != nil {
		t.Errorf("Watch() error = %v", err)
	}
	// Files that don't exist yet are watched for creation.
	if err := w.Watch(filepath.Join(tmpDir, "b.toml")); err != nil {
		t.Errorf("Watch() error = %v", err)
	}
	if n := len(w.WatchedFiles()); n != 2 {
		t.Errorf("WatchedFiles() = %d files, want 2", n)
	}

	if err := w.Unwatch(filepath.Join(tmpDir, "a.toml")); err != nil {
		t.Errorf("Unwatch() error = %v", err)
	}
	if n := len(w.WatchedFiles()); n != 1 {
		t.Errorf("WatchedFiles() = %d files, want 1", n)
	}
}

func TestWatcher_StartStop(t *testing.T) {
	w := New()
	if w.IsRunning() {
		t.Error("watcher should not be running before Start")
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Errorf("second Start() error = %v", err)
	}
	if !w.IsRunning() {
		t.Error("watcher should be running after Start")
	}
	w.Stop()
	w.Stop()
	if w.IsRunning() {
		t.Error("watcher should not be running after Stop")
	}
}

func TestWatcher_DetectsFileModification(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "test.toml")
	if err := os.WriteFile(tmpFile, []byte("initial"), 0644); err != nil {
		t.Fatal(err)
	}
	_, rec := startWatcher(t, tmpFile, WithDebounce(0))

	if err := os.WriteFile(tmpFile, []byte("modified"), 0644); err != nil {
		t.Fatal(err)
	}

	event := rec.wait(t)
	if event.Op != OpWrite {
		t.Errorf("event.Op = %v, want OpWrite", event.Op)
	}
	if event.Path != tmpFile {
		t.Errorf("event.Path = %q, want %q", event.Path, tmpFile)
	}
}

func TestWatcher_DetectsFileCreation(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "new.toml")
	_, rec := startWatcher(t, tmpFile, WithDebounce(0))

	if err := os.WriteFile(tmpFile, []byte("created"), 0644); err != nil {
		t.Fatal(err)
	}

	if event := rec.wait(t); event.Op != OpCreate {
		t.Errorf("event.Op = %v, want OpCreate", event.Op)
	}
}

func TestWatcher_DetectsFileDeletion(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "delete.toml")
	if err := os.WriteFile(tmpFile, []byte("initial"), 0644); err != nil {
		t.Fatal(err)
	}
	_, rec := startWatcher(t, tmpFile, WithDebounce(0))

	if err := os.Remove(tmpFile); err != nil {
		t.Fatal(err)
	}

	if event := rec.wait(t); event.Op != OpRemove {
		t.Errorf("event.Op = %v, want OpRemove", event.Op)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "watched.toml")
	_, rec := startWatcher(t, tmpFile, WithDebounce(0))

	if err := os.WriteFile(filepath.Join(tmpDir, "other.toml"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	if n := rec.count.Load(); n != 0 {
		t.Errorf("received %d events for an unwatched file", n)
	}
}

func TestWatcher_Debounce(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "debounce.toml")
	if err := os.WriteFile(tmpFile, []byte("initial"), 0644); err != nil {
		t.Fatal(err)
	}
	_, rec := startWatcher(t, tmpFile, WithDebounce(100*time.Millisecond))

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(tmpFile, []byte("modified"), 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	event := rec.wait(t)
	time.Sleep(200 * time.Millisecond)

	if count := rec.count.Load(); count != 1 {
		t.Errorf("received %d events, expected 1 (debounced)", count)
	}
	if event.Op != OpWrite {
		t.Errorf("event.Op = %v, want OpWrite", event.Op)
	}
}

func TestWatcher_PanickingHandler(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "panic.toml")
	w, rec := startWatcher(t, tmpFile, WithDebounce(0))
	w.OnChange(func(Event) { panic("handler failure") })

	second := &recorder{}
	w.OnChange(second.handle)

	if err := os.WriteFile(tmpFile, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	rec.wait(t)
	second.wait(t)
}
