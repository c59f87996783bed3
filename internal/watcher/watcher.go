// Package watcher observes the single source file and reports debounced
// changes.
//
// The parent directory is watched rather than the file itself, so editors
// that save by writing a temporary file and renaming it over the original
// keep producing events. A burst of events collapses into one check made
// after the debounce window closes; the check compares the file's (mtime,
// size) signature with the last one reported and emits at most one Event.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/breach/internal/errors"
	"github.com/conneroisu/breach/internal/logging"
)

// DefaultDebounce is the debounce window used when none is configured.
const DefaultDebounce = 100 * time.Millisecond

// EventType represents the type of file change
type EventType int

const (
	EventTypeChanged EventType = iota
	EventTypeRemoved
	EventTypeError
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeChanged:
		return "changed"
	case EventTypeRemoved:
		return "removed"
	case EventTypeError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one debounced observation of the source file.
type Event struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
	// Coalesced is the number of raw notifications folded into this event.
	Coalesced int
	// Err is set for EventTypeRemoved and EventTypeError.
	Err error
}

// Handler handles file change events
type Handler func(event Event) error

// Signature is the change fingerprint of the source file.
type Signature struct {
	Exists  bool
	ModTime time.Time
	Size    int64
}

// Stat returns the signature of path. A missing file yields a zero signature
// and no error.
func Stat(path string) (Signature, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Signature{}, nil
		}
		return Signature{}, err
	}
	return Signature{Exists: true, ModTime: info.ModTime(), Size: info.Size()}, nil
}

// Option configures a FileWatcher.
type Option func(*FileWatcher)

// WithPollInterval enables a stat-polling fallback for filesystems that do
// not deliver notifications. Zero disables polling.
func WithPollInterval(d time.Duration) Option {
	return func(fw *FileWatcher) { fw.pollInterval = d }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(fw *FileWatcher) { fw.logger = logger }
}

// FileWatcher watches one file for changes with debouncing
type FileWatcher struct {
	path string
	dir  string
	base string

	watcher      *fsnotify.Watcher
	debouncer    *Debouncer
	pollInterval time.Duration
	logger       logging.Logger

	handlers []Handler
	mutex    sync.RWMutex

	// sigMu guards last and serializes checks.
	sigMu sync.Mutex
	last  Signature

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// NewFileWatcher creates a watcher for path with the given debounce window.
func NewFileWatcher(path string, debounce time.Duration, opts ...Option) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.NewWatchError("resolving "+path, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw := &FileWatcher{
		path:   abs,
		dir:    filepath.Dir(abs),
		base:   filepath.Base(abs),
		logger: logging.Nop(),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(fw)
	}
	fw.logger = fw.logger.WithComponent("watcher")
	fw.debouncer = NewDebouncer(debounce, fw.check)

	return fw, nil
}

// Path returns the absolute path being watched.
func (fw *FileWatcher) Path() string { return fw.path }

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler Handler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// Start begins watching. It records the current signature, so only later
// changes produce events.
func (fw *FileWatcher) Start(ctx context.Context) error {
	sig, err := Stat(fw.path)
	if err != nil {
		return errors.NewWatchError("reading "+fw.path, err)
	}
	fw.sigMu.Lock()
	fw.last = sig
	fw.sigMu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.NewWatchError("creating file watcher", err)
	}
	if err := watcher.Add(fw.dir); err != nil {
		_ = watcher.Close()
		return errors.NewWatchError("watching "+fw.dir, err)
	}
	fw.watcher = watcher

	fw.wg.Add(1)
	go fw.watchLoop(ctx)

	if fw.pollInterval > 0 {
		fw.wg.Add(1)
		go fw.pollLoop(ctx)
	}

	fw.logger.Info(ctx, "Watching source file", "path", fw.path, "poll_interval", fw.pollInterval)
	return nil
}

// Stop stops the file watcher and cleans up resources
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		close(fw.stop)
		fw.debouncer.Stop()
		if fw.watcher != nil {
			err = fw.watcher.Close()
		}
		fw.wg.Wait()
	})
	return err
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	defer fw.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.stop:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != fw.base || event.Op == fsnotify.Chmod {
				continue
			}
			fw.debouncer.Trigger()
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			// Log error but continue watching
			fw.logger.Warn(ctx, err, "File watcher error")
			fw.emit(Event{Type: EventTypeError, Path: fw.path, Err: errors.NewWatchError("file watcher error", err)})
		}
	}
}

func (fw *FileWatcher) pollLoop(ctx context.Context) {
	defer fw.wg.Done()

	ticker := time.NewTicker(fw.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.stop:
			return
		case <-ticker.C:
			sig, err := Stat(fw.path)
			fw.sigMu.Lock()
			changed := err != nil || sig != fw.last
			fw.sigMu.Unlock()
			if changed {
				fw.debouncer.Trigger()
			}
		}
	}
}

// check runs when a debounce window closes and emits at most one event for
// the state of the file at that moment.
func (fw *FileWatcher) check(coalesced int) {
	fw.sigMu.Lock()
	sig, err := Stat(fw.path)

	var event *Event
	switch {
	case err != nil:
		event = &Event{Type: EventTypeError, Path: fw.path,
			Err: errors.NewWatchError("source file "+fw.path+" is not readable", err)}
	case !sig.Exists && fw.last.Exists:
		event = &Event{Type: EventTypeRemoved, Path: fw.path,
			Err: errors.NewWatchError("source file "+fw.path+" was removed", nil)}
	case sig.Exists && (!fw.last.Exists || !sig.ModTime.Equal(fw.last.ModTime) || sig.Size != fw.last.Size):
		event = &Event{Type: EventTypeChanged, Path: fw.path, ModTime: sig.ModTime, Size: sig.Size}
	}
	if err == nil {
		fw.last = sig
	}
	fw.sigMu.Unlock()

	if event == nil {
		return
	}
	event.Coalesced = coalesced
	fw.logger.Debug(context.Background(), "Source file event",
		"type", event.Type.String(), "coalesced", coalesced, "size", event.Size)
	fw.emit(*event)
}

func (fw *FileWatcher) emit(event Event) {
	fw.mutex.RLock()
	handlers := fw.handlers
	fw.mutex.RUnlock()

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			// Log error but continue processing
			fw.logger.Warn(context.Background(), err, "File watcher handler error",
				"event", event.Type.String())
		}
	}
}

// Debouncer collapses bursts of triggers into one call made after the burst
// has been quiet for the delay.
type Debouncer struct {
	delay   time.Duration
	fire    func(coalesced int)
	timer   *time.Timer
	pending int
	stopped bool
	// generation identifies the live timer; a timer that fired while a
	// Trigger held the mutex sees a newer generation and does nothing.
	generation uint64
	mutex      sync.Mutex
}

// NewDebouncer creates a debouncer calling fire after each quiet period.
func NewDebouncer(delay time.Duration, fire func(coalesced int)) *Debouncer {
	return &Debouncer{delay: delay, fire: fire}
}

// Trigger records one event and restarts the quiet period.
func (d *Debouncer) Trigger() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.stopped {
		return
	}
	d.pending++

	if d.timer != nil {
		d.timer.Stop()
	}
	d.generation++
	gen := d.generation
	d.timer = time.AfterFunc(d.delay, func() { d.flush(gen) })
}

// Stop cancels any pending call. Triggers after Stop are ignored.
func (d *Debouncer) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = 0
}

func (d *Debouncer) flush(gen uint64) {
	d.mutex.Lock()
	if gen != d.generation {
		d.mutex.Unlock()
		return
	}
	n := d.pending
	d.pending = 0
	stopped := d.stopped
	d.mutex.Unlock()

	if n == 0 || stopped {
		return
	}
	d.fire(n)
}

// String describes the watcher for logs.
func (fw *FileWatcher) String() string {
	return fmt.Sprintf("watcher(%s)", fw.path)
}
