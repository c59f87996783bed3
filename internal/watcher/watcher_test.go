package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/breach/internal/errors"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) handle(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) count() int {
	return len(l.all())
}

func startWatcher(t *testing.T, path string, opts ...Option) (*FileWatcher, *eventLog) {
	t.Helper()
	fw, err := NewFileWatcher(path, 50*time.Millisecond, opts...)
	require.NoError(t, err)

	log := &eventLog{}
	fw.AddHandler(log.handle)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, fw.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = fw.Stop()
	})
	return fw, log
}

func TestEventTypeString(t *testing.T) {
	tests := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeChanged, "changed"},
		{EventTypeRemoved, "removed"},
		{EventTypeError, "error"},
		{EventType(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.eventType.String())
		})
	}
}

func TestNewFileWatcher(t *testing.T) {
	fw, err := NewFileWatcher("page.breach", 0)
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(fw.Path()))
	assert.Equal(t, "page.breach", filepath.Base(fw.Path()))
	assert.Equal(t, DefaultDebounce, fw.debouncer.delay)
}

func TestStat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.breach")

	sig, err := Stat(path)
	require.NoError(t, err)
	assert.False(t, sig.Exists)

	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))
	sig, err = Stat(path)
	require.NoError(t, err)
	assert.True(t, sig.Exists)
	assert.Equal(t, int64(3), sig.Size)
}

func TestFileWatcherBurstProducesOneEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.breach")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, log := startWatcher(t, path)

	content := "x"
	for i := 0; i < 10; i++ {
		content += "y"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	require.Eventually(t, func() bool { return log.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	events := log.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeChanged, events[0].Type)
	assert.Equal(t, int64(len(content)), events[0].Size)
	assert.GreaterOrEqual(t, events[0].Coalesced, 1)
}

func TestFileWatcherIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.breach")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, log := startWatcher(t, path)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("noise"), 0o644))
	time.Sleep(250 * time.Millisecond)

	assert.Zero(t, log.count())
}

func TestFileWatcherAtomicRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.breach")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	_, log := startWatcher(t, path)

	tmp := filepath.Join(dir, ".page.breach.swp")
	require.NoError(t, os.WriteFile(tmp, []byte("new content"), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool { return log.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	events := log.all()
	assert.Equal(t, EventTypeChanged, events[0].Type)
	assert.Equal(t, int64(len("new content")), events[0].Size)
}

func TestFileWatcherRemoveAndRecreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.breach")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, log := startWatcher(t, path)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return log.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	removed := log.all()[0]
	assert.Equal(t, EventTypeRemoved, removed.Type)
	assert.True(t, errors.IsWatchError(removed.Err))

	require.NoError(t, os.WriteFile(path, []byte("back"), 0o644))
	require.Eventually(t, func() bool { return log.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, EventTypeChanged, log.all()[1].Type)
}

func TestFileWatcherMissingAtStart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "later.breach")

	_, log := startWatcher(t, path)

	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	require.Eventually(t, func() bool { return log.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, EventTypeChanged, log.all()[0].Type)
}

func TestFileWatcherMissingDirectory(t *testing.T) {
	fw, err := NewFileWatcher(filepath.Join(t.TempDir(), "nope", "page.breach"), 0)
	require.NoError(t, err)

	err = fw.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsWatchError(err))
}

func TestFileWatcherPollCheckSuppressesUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.breach")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	fw, log := startWatcher(t, path, WithPollInterval(20*time.Millisecond))

	// A check with no change in signature emits nothing.
	fw.check(1)
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, log.count())
}

func TestFileWatcherHandlerErrorsDoNotStopDelivery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.breach")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	fw, log := startWatcher(t, path)
	fw.AddHandler(func(Event) error { return assert.AnError })

	second := &eventLog{}
	fw.AddHandler(second.handle)

	require.NoError(t, os.WriteFile(path, []byte("xyz"), 0o644))
	require.Eventually(t, func() bool { return second.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, log.count())
}

func TestFileWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.breach")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	fw, err := NewFileWatcher(path, 0)
	require.NoError(t, err)
	require.NoError(t, fw.Start(context.Background()))

	assert.NoError(t, fw.Stop())
	assert.NoError(t, fw.Stop())
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	fired := make(chan int, 1)
	d := NewDebouncer(30*time.Millisecond, func(n int) { fired <- n })

	d.Trigger()
	d.Stop()
	d.Trigger()

	select {
	case <-fired:
		t.Fatal("debouncer fired after Stop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncerIgnoresSupersededTimer(t *testing.T) {
	fired := make(chan int, 2)
	d := NewDebouncer(50*time.Millisecond, func(n int) { fired <- n })

	d.Trigger()
	d.mutex.Lock()
	stale := d.generation
	d.mutex.Unlock()
	d.Trigger()

	// The first timer firing late, after the second Trigger, must not
	// flush the burst early.
	d.flush(stale)
	select {
	case n := <-fired:
		t.Fatalf("superseded timer fired with %d", n)
	case <-time.After(20 * time.Millisecond):
	}

	select {
	case n := <-fired:
		assert.Equal(t, 2, n)
	case <-time.After(time.Second):
		t.Fatal("debouncer never fired")
	}

	select {
	case n := <-fired:
		t.Fatalf("debouncer fired twice, second with %d", n)
	case <-time.After(100 * time.Millisecond):
	}
}
