package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher watches individual files through fsnotify directory watches.
// Events are delivered as they arrive; wrap it in a Debouncer to coalesce
// bursts.
type FileWatcher struct {
	fsw *fsnotify.Watcher

	mu sync.Mutex
	// files holds the watched files; dirs counts them per directory so
	// the directory watch goes away with its last file.
	files map[string]struct{}
	dirs  map[string]int
	// muted maps paths to the time their events resume.
	muted  map[string]time.Time
	closed bool

	events chan Event
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewFileWatcher starts an fsnotify watcher with no files.
func NewFileWatcher(opts ...Option) (*FileWatcher, error) {
	o := buildOptions(opts)
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &FileWatcher{
		fsw:    fsw,
		files:  make(map[string]struct{}),
		dirs:   make(map[string]int),
		muted:  make(map[string]time.Time),
		events: make(chan Event, o.bufferSize),
		errors: make(chan error, o.bufferSize),
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *FileWatcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.closed:
		return ErrWatcherClosed
	case hasKey(w.files, abs):
		return ErrAlreadyWatching
	}

	dir := filepath.Dir(abs)
	if w.dirs[dir] == 0 {
		info, err := os.Stat(dir)
		if errors.Is(err, os.ErrNotExist) || (err == nil && !info.IsDir()) {
			return ErrPathNotExist
		}
		if err != nil {
			return err
		}
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.files[abs] = struct{}{}
	return nil
}

func (w *FileWatcher) Unwatch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.closed:
		return ErrWatcherClosed
	case !hasKey(w.files, abs):
		return ErrNotWatching
	}
	delete(w.files, abs)
	delete(w.muted, abs)

	dir := filepath.Dir(abs)
	if w.dirs[dir]--; w.dirs[dir] > 0 {
		return nil
	}
	delete(w.dirs, dir)
	// A deleted directory has already lost its watch.
	if err := w.fsw.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return fmt.Errorf("unwatch %s: %w", dir, err)
	}
	return nil
}

func (w *FileWatcher) Suppress(path string, d time.Duration) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, until := range w.muted {
		if now.After(until) {
			delete(w.muted, p)
		}
	}
	w.muted[abs] = now.Add(d)
}

func (w *FileWatcher) Events() <-chan Event { return w.events }

func (w *FileWatcher) Errors() <-chan error { return w.errors }

// Watching reports whether path is watched.
func (w *FileWatcher) Watching(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return hasKey(w.files, abs)
}

// Close stops the watcher and closes its channels. It is safe to call more
// than once.
func (w *FileWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.done)
	w.mu.Unlock()

	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsw.Close()
}

func (w *FileWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if out, keep := w.translate(ev); keep {
				select {
				case w.events <- out:
				default:
					w.report(fmt.Errorf("event buffer full, dropped %s on %s", out.Op, out.Path))
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

// translate keeps events for watched, unmuted files and drops the rest of
// the directory's traffic.
func (w *FileWatcher) translate(ev fsnotify.Event) (Event, bool) {
	op := fromFSNotify(ev.Op)
	if op == 0 {
		return Event{}, false
	}
	path := filepath.Clean(ev.Name)
	now := time.Now()

	w.mu.Lock()
	_, watched := w.files[path]
	until, muted := w.muted[path]
	w.mu.Unlock()

	if !watched || (muted && now.Before(until)) {
		return Event{}, false
	}
	return Event{Path: path, Op: op, Timestamp: now}, true
}

func (w *FileWatcher) report(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

var fsnotifyOps = []struct {
	from fsnotify.Op
	to   Op
}{
	{fsnotify.Create, OpCreate},
	{fsnotify.Write, OpWrite},
	{fsnotify.Remove, OpRemove},
	{fsnotify.Rename, OpRename},
	{fsnotify.Chmod, OpChmod},
}

func fromFSNotify(in fsnotify.Op) Op {
	var op Op
	for _, m := range fsnotifyOps {
		if in.Has(m.from) {
			op |= m.to
		}
	}
	return op
}

func hasKey[K comparable, V any](m map[K]V, k K) bool {
	_, ok := m[k]
	return ok
}

var _ Watcher = (*FileWatcher)(nil)
