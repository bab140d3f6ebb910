package watcher

import (
	"path/filepath"
	"sync"
	"time"
)

// Debouncer coalesces bursts of events per file. A save by another program
// typically produces several events (truncate, write, chmod, or rename then
// create); they are delivered as one event carrying the union of the
// operations once the file has been quiet for the debounce window.
type Debouncer struct {
	inner  Watcher
	window time.Duration

	mu      sync.Mutex
	pending map[string]*burst
	closed  bool

	events chan Event
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup
}

type burst struct {
	event Event
	timer *time.Timer
}

// NewDebouncer wraps inner. Only WithDebounce and WithBufferSize apply.
func NewDebouncer(inner Watcher, opts ...Option) *Debouncer {
	o := buildOptions(opts)
	d := &Debouncer{
		inner:   inner,
		window:  o.debounce,
		pending: make(map[string]*burst),
		events:  make(chan Event, o.bufferSize),
		errors:  make(chan error, o.bufferSize),
		done:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *Debouncer) Watch(path string) error {
	return d.inner.Watch(path)
}

// Unwatch stops watching path and drops its pending burst.
func (d *Debouncer) Unwatch(path string) error {
	if err := d.inner.Unwatch(path); err != nil {
		return err
	}
	d.drop(path)
	return nil
}

// Suppress mutes path in the inner watcher and drops its pending burst.
func (d *Debouncer) Suppress(path string, dur time.Duration) {
	d.inner.Suppress(path, dur)
	d.drop(path)
}

func (d *Debouncer) Events() <-chan Event { return d.events }

func (d *Debouncer) Errors() <-chan error { return d.errors }

// Close discards pending bursts and closes the inner watcher.
func (d *Debouncer) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.done)
	for path, b := range d.pending {
		b.timer.Stop()
		delete(d.pending, path)
	}
	d.mu.Unlock()

	d.wg.Wait()
	close(d.events)
	close(d.errors)
	return d.inner.Close()
}

// Pending returns the number of bursts waiting for their window to end.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Debouncer) loop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case ev, ok := <-d.inner.Events():
			if !ok {
				return
			}
			d.add(ev)
		case err, ok := <-d.inner.Errors():
			if !ok {
				return
			}
			select {
			case d.errors <- err:
			default:
			}
		}
	}
}

// add merges ev into the burst for its path and restarts the window.
func (d *Debouncer) add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if b, ok := d.pending[ev.Path]; ok {
		b.event.Op |= ev.Op
		b.event.Timestamp = ev.Timestamp
		b.timer.Reset(d.window)
		return
	}
	path := ev.Path
	d.pending[path] = &burst{
		event: ev,
		timer: time.AfterFunc(d.window, func() { d.fire(path) }),
	}
}

// fire delivers the burst for path. The send happens under the lock so it
// cannot race with Close.
func (d *Debouncer) fire(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.pending[path]
	if !ok || d.closed {
		return
	}
	delete(d.pending, path)
	select {
	case d.events <- b.event:
	default:
	}
}

func (d *Debouncer) drop(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.pending[abs]; ok {
		b.timer.Stop()
		delete(d.pending, abs)
	}
}

var _ Watcher = (*Debouncer)(nil)
