package safety

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/scribe/internal/editorerr"
	"github.com/dshills/scribe/internal/watcher"
)

// fakeWatcher lets tests inject file events.
type fakeWatcher struct {
	mu         sync.Mutex
	events     chan watcher.Event
	errors     chan error
	watching   map[string]bool
	suppressed []string
	closed     bool
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		events:   make(chan watcher.Event, 10),
		errors:   make(chan error, 10),
		watching: make(map[string]bool),
	}
}

func (f *fakeWatcher) Watch(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watching[path] {
		return watcher.ErrAlreadyWatching
	}
	f.watching[path] = true
	return nil
}

func (f *fakeWatcher) Unwatch(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.watching, path)
	return nil
}

func (f *fakeWatcher) Events() <-chan watcher.Event { return f.events }
func (f *fakeWatcher) Errors() <-chan error         { return f.errors }

func (f *fakeWatcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
		close(f.errors)
	}
	return nil
}

func (f *fakeWatcher) IsWatching(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watching[path]
}

func (f *fakeWatcher) Suppress(path string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suppressed = append(f.suppressed, path)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, mutate func(*Options)) (*Manager, *fakeWatcher, *testClock) {
	t.Helper()
	fw := newFakeWatcher()
	clock := &testClock{t: time.Now()}
	opts := DefaultOptions()
	opts.Watcher = fw
	opts.now = clock.now
	if mutate != nil {
		mutate(&opts)
	}
	m, err := NewManager(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, fw, clock
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestStateMachine(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "one")
	require.NoError(t, m.Track(path))

	assert.Equal(t, StateClean, m.State(path))
	m.MarkDirty(path)
	assert.Equal(t, StateDirty, m.State(path))

	require.NoError(t, m.BeginSave(path))
	assert.Equal(t, StateSaving, m.State(path))
	err := m.BeginSave(path)
	assert.True(t, errors.Is(err, editorerr.ErrInvalidOperation))

	m.FailSave(path, errors.New("boom"))
	assert.Equal(t, StateSaveFailed, m.State(path))
	assert.EqualError(t, m.LastError(path), "boom")
	assert.True(t, m.State(path).HasUnsavedChanges())

	m.MarkDirty(path)
	assert.Equal(t, StateDirty, m.State(path))

	require.NoError(t, m.BeginSave(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	m.CompleteSave(path, info)
	assert.Equal(t, StateClean, m.State(path))
	assert.NoError(t, m.LastError(path))
}

func TestOnSave(t *testing.T) {
	m, fw, _ := newTestManager(t, nil)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))
	require.NoError(t, m.Track(path))
	m.MarkDirty(path)
	require.NoError(t, m.AutoSave(path, "", []byte("draft")))
	require.FileExists(t, BackupPath(path))

	mtime, err := m.OnSave(path, []byte("new\r\n"))
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new\r\n", string(got))
	assert.Equal(t, StateClean, m.State(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, mtime.Equal(info.ModTime()))
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "permissions preserved")
	}

	assert.NoFileExists(t, BackupPath(path), "backup removed after save")
	_, found, err := m.RecoveryFor(path)
	require.NoError(t, err)
	assert.False(t, found, "recovery record discarded after save")
	assert.Contains(t, fw.suppressed, path)

	// No temporary files are left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestOnSaveFailureLeavesFileDirty(t *testing.T) {
	if runtime.GOOS == "windows" || os.Getuid() == 0 {
		t.Skip("needs POSIX permissions and a non-root user")
	}
	m, _, _ := newTestManager(t, nil)
	dir := t.TempDir()
	path := filepath.Join(dir, "locked.txt")
	writeFile(t, path, "original")
	require.NoError(t, m.Track(path))
	m.MarkDirty(path)

	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	_, err := m.OnSave(path, []byte("changed"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, editorerr.ErrPermissionDenied), "got %v", err)
	assert.Equal(t, StateSaveFailed, m.State(path))
	assert.True(t, m.State(path).HasUnsavedChanges())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
}

func TestWriteAtomicNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.txt")
	info, err := WriteAtomic(path, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Size())
	if runtime.GOOS != "windows" {
		assert.Equal(t, DefaultFileMode, info.Mode().Perm())
	}
}

func TestWriteAtomicDirectory(t *testing.T) {
	_, err := WriteAtomic(t.TempDir(), []byte("x"))
	assert.True(t, errors.Is(err, editorerr.ErrInvalidOperation))
}

func TestWriteBackupNeedsPath(t *testing.T) {
	_, err := WriteBackup("", []byte("x"))
	assert.True(t, errors.Is(err, editorerr.ErrInvalidOperation))
}

func TestAutoSaveKeepsDirty(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "Hello")
	require.NoError(t, m.Track(path))
	m.MarkDirty(path)

	require.NoError(t, m.AutoSave(path, "", []byte("XHello")))

	backup, err := os.ReadFile(BackupPath(path))
	require.NoError(t, err)
	assert.Equal(t, "XHello", string(backup))
	assert.Equal(t, StateDirty, m.State(path), "auto-save is not a save")

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Hello", string(onDisk))

	rec, found, err := m.RecoveryFor(path)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "XHello", string(rec.Content))
}

func TestAutoSaveDue(t *testing.T) {
	m, _, clock := newTestManager(t, func(o *Options) {
		o.AutoSaveInterval = time.Minute
		o.EditThreshold = 3
	})
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "")
	require.NoError(t, m.Track(path))

	assert.False(t, m.AutoSaveDue(path), "clean files are never due")

	m.MarkDirty(path)
	assert.False(t, m.AutoSaveDue(path))
	m.MarkDirty(path)
	m.MarkDirty(path)
	assert.True(t, m.AutoSaveDue(path), "edit threshold reached")
	assert.Equal(t, []string{canonical(path)}, m.DueForAutoSave())

	require.NoError(t, m.AutoSave(path, "", []byte("x")))
	assert.False(t, m.AutoSaveDue(path))

	m.MarkDirty(path)
	clock.advance(2 * time.Minute)
	assert.True(t, m.AutoSaveDue(path), "interval elapsed")
}

func TestAutoSaveDisabled(t *testing.T) {
	m, _, _ := newTestManager(t, func(o *Options) {
		o.AutoSave = false
		o.EditThreshold = 1
	})
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, m.Track(path))
	m.MarkDirty(path)
	assert.False(t, m.AutoSaveDue(path))
}

func TestRecoveryAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	recoveryDir := filepath.Join(dir, "recovery")
	path := filepath.Join(dir, "doc.txt")
	stale := filepath.Join(dir, "stale.txt")
	writeFile(t, path, "saved")
	writeFile(t, stale, "saved")

	opts := DefaultOptions()
	opts.Watch = false
	opts.RecoveryDir = recoveryDir
	m, err := NewManager(opts)
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, m.store.Put(RecoveryRecord{Path: stale, Content: []byte("old"), Timestamp: past}))
	require.NoError(t, m.AutoSave(path, "", []byte("unsaved work")))
	require.NoError(t, m.AutoSave("", "untitled-1", []byte("scratch")))
	require.NoError(t, m.Close())

	// Simulate a crash followed by a restart.
	m, err = NewManager(opts)
	require.NoError(t, err)
	defer m.Close()

	got := map[string]string{}
	for {
		rec, ok := m.PollRecovery()
		if !ok {
			break
		}
		got[rec.Key()] = string(rec.Content)
	}
	assert.Equal(t, map[string]string{
		canonical(path): "unsaved work",
		"untitled-1":    "scratch",
	}, got)

	_, found, err := m.RecoveryFor(stale)
	require.NoError(t, err)
	assert.False(t, found, "records older than the file are dropped")

	require.NoError(t, m.DiscardRecovery(path))
	require.NoError(t, m.DiscardUnsaved("untitled-1"))
	records, err := m.store.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRecoveryStoreCompression(t *testing.T) {
	store, err := OpenRecoveryStore("", nil)
	require.NoError(t, err)
	defer store.Close()

	big := strings.Repeat("all work and no play\n", 500)
	require.NoError(t, store.Put(RecoveryRecord{Path: "/tmp/big.txt", Content: []byte(big)}))
	require.NoError(t, store.Put(RecoveryRecord{Path: "/tmp/big.txt/child", Content: []byte("small")}))

	rec, found, err := store.Latest("/tmp/big.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, big, string(rec.Content))

	// Paths that extend another path do not share records.
	rec, found, err = store.Latest("/tmp/big.txt/child")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "small", string(rec.Content))
}

func TestRecoveryStoreKeepsNewestOnly(t *testing.T) {
	store, err := OpenRecoveryStore("", nil)
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Put(RecoveryRecord{
			Path:      "/p",
			Content:   []byte{byte('a' + i)},
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "c", string(records[0].Content))

	assert.Error(t, store.Put(RecoveryRecord{Content: []byte("x")}))
}

func TestExternalChangeEvents(t *testing.T) {
	m, fw, _ := newTestManager(t, func(o *Options) { o.AutoSave = false })
	dir := t.TempDir()
	clean := filepath.Join(dir, "clean.txt")
	dirty := filepath.Join(dir, "dirty.txt")
	writeFile(t, clean, "a")
	writeFile(t, dirty, "b")
	for _, p := range []string{clean, dirty} {
		require.NoError(t, m.Track(p))
		require.NoError(t, m.Watch(p))
		require.NoError(t, m.Watch(p), "watching twice is harmless")
	}
	assert.True(t, fw.IsWatching(canonical(clean)))
	m.MarkDirty(dirty)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Event, 10)
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, func(ev Event) { got <- ev }) }()

	// An event that does not change the file is ignored.
	fw.events <- watcher.Event{Path: clean, Op: watcher.OpChmod, Timestamp: time.Now()}

	writeFile(t, clean, "changed by another program")
	fw.events <- watcher.Event{Path: clean, Op: watcher.OpWrite, Timestamp: time.Now()}
	require.NoError(t, os.Remove(dirty))
	fw.events <- watcher.Event{Path: dirty, Op: watcher.OpRemove, Timestamp: time.Now()}

	var evs []Event
	for len(evs) < 2 {
		select {
		case ev := <-got:
			evs = append(evs, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d events, want 2", len(evs))
		}
	}
	assert.Equal(t, EventExternalChange, evs[0].Kind)
	assert.Equal(t, canonical(clean), evs[0].Path)
	assert.False(t, evs[0].Conflict)

	assert.Equal(t, EventExternalRemove, evs[1].Kind)
	assert.True(t, evs[1].Conflict, "dirty buffer must surface a conflict")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestOwnSaveIsNotExternal(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	path := filepath.Join(t.TempDir(), "mine.txt")
	writeFile(t, path, "v1")
	require.NoError(t, m.Track(path))

	_, err := m.OnSave(path, []byte("v2 is longer"))
	require.NoError(t, err)

	changed, exists, err := m.CheckExternal(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.False(t, changed)
}

func TestRunTicks(t *testing.T) {
	m, _, _ := newTestManager(t, func(o *Options) { o.AutoSaveInterval = 10 * time.Millisecond })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ticks := make(chan Event, 1)
	go func() {
		_ = m.Run(ctx, func(ev Event) {
			if ev.Kind == EventTick {
				select {
				case ticks <- ev:
				default:
				}
			}
		})
	}()

	select {
	case <-ticks:
	case <-ctx.Done():
		t.Fatal("no tick delivered")
	}
}
