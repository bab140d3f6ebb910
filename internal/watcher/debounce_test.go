package watcher

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubWatcher is a Watcher whose events are pushed by the test.
type stubWatcher struct {
	mu         sync.Mutex
	watched    map[string]bool
	suppressed []string
	closed     bool

	events chan Event
	errors chan error
}

func newStubWatcher() *stubWatcher {
	return &stubWatcher{
		watched: make(map[string]bool),
		events:  make(chan Event, 16),
		errors:  make(chan error, 16),
	}
}

func (s *stubWatcher) Watch(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watched[path] = true
	return nil
}

func (s *stubWatcher) Unwatch(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.watched[path] {
		return ErrNotWatching
	}
	delete(s.watched, path)
	return nil
}

func (s *stubWatcher) Suppress(path string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressed = append(s.suppressed, path)
}

func (s *stubWatcher) Events() <-chan Event { return s.events }
func (s *stubWatcher) Errors() <-chan error { return s.errors }

func (s *stubWatcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
		close(s.errors)
	}
	return nil
}

func absPath(t *testing.T, name string) string {
	t.Helper()
	p, err := filepath.Abs(name)
	require.NoError(t, err)
	return p
}

func receive(t *testing.T, ch <-chan Event, within time.Duration) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(within):
		t.Fatal("no event received")
		return Event{}
	}
}

func assertQuiet(t *testing.T, ch <-chan Event, d time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s on %s", ev.Op, ev.Path)
	case <-time.After(d):
	}
}

func TestDebouncerCoalescesBurst(t *testing.T) {
	stub := newStubWatcher()
	d := NewDebouncer(stub, WithDebounce(50*time.Millisecond))
	defer d.Close()

	path := absPath(t, "doc.txt")
	stub.events <- Event{Path: path, Op: OpRename, Timestamp: time.Now()}
	stub.events <- Event{Path: path, Op: OpCreate, Timestamp: time.Now()}
	stub.events <- Event{Path: path, Op: OpChmod, Timestamp: time.Now()}

	ev := receive(t, d.Events(), time.Second)
	assert.Equal(t, path, ev.Path)
	assert.True(t, ev.Op.Has(OpRename|OpCreate|OpChmod))
	assert.False(t, ev.Op.IsRemoval(), "rename then create is a replace")
	assertQuiet(t, d.Events(), 100*time.Millisecond)
}

func TestDebouncerKeepsPathsApart(t *testing.T) {
	stub := newStubWatcher()
	d := NewDebouncer(stub, WithDebounce(20*time.Millisecond))
	defer d.Close()

	a, b := absPath(t, "a.txt"), absPath(t, "b.txt")
	stub.events <- Event{Path: a, Op: OpWrite, Timestamp: time.Now()}
	stub.events <- Event{Path: b, Op: OpRemove, Timestamp: time.Now()}

	got := map[string]Op{}
	for n := 0; n < 2; n++ {
		ev := receive(t, d.Events(), time.Second)
		got[ev.Path] = ev.Op
	}
	assert.Equal(t, map[string]Op{a: OpWrite, b: OpRemove}, got)
}

func TestDebouncerSuppressDropsPending(t *testing.T) {
	stub := newStubWatcher()
	d := NewDebouncer(stub, WithDebounce(50*time.Millisecond))
	defer d.Close()

	path := absPath(t, "saved.txt")
	stub.events <- Event{Path: path, Op: OpWrite, Timestamp: time.Now()}
	require.Eventually(t, func() bool { return d.Pending() == 1 }, time.Second, 5*time.Millisecond)

	d.Suppress(path, time.Second)
	assert.Zero(t, d.Pending())
	assert.Equal(t, []string{path}, stub.suppressed)
	assertQuiet(t, d.Events(), 120*time.Millisecond)
}

func TestDebouncerUnwatchDropsPending(t *testing.T) {
	stub := newStubWatcher()
	d := NewDebouncer(stub, WithDebounce(50*time.Millisecond))
	defer d.Close()

	path := absPath(t, "gone.txt")
	require.NoError(t, d.Watch(path))
	stub.events <- Event{Path: path, Op: OpWrite, Timestamp: time.Now()}
	require.Eventually(t, func() bool { return d.Pending() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Unwatch(path))
	assert.Zero(t, d.Pending())
	assertQuiet(t, d.Events(), 120*time.Millisecond)

	assert.ErrorIs(t, d.Unwatch(path), ErrNotWatching)
}

func TestDebouncerForwardsErrors(t *testing.T) {
	stub := newStubWatcher()
	d := NewDebouncer(stub, WithDebounce(10*time.Millisecond))
	defer d.Close()

	boom := errors.New("inotify overflow")
	stub.errors <- boom
	select {
	case err := <-d.Errors():
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("error not forwarded")
	}
}

func TestDebouncerCloseTwice(t *testing.T) {
	stub := newStubWatcher()
	d := NewDebouncer(stub)
	stub.events <- Event{Path: absPath(t, "x"), Op: OpWrite, Timestamp: time.Now()}

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.True(t, stub.closed)

	_, open := <-d.Events()
	assert.False(t, open)
}
