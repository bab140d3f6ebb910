package safety

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/scribe/internal/editorerr"
	"github.com/dshills/scribe/internal/logging"
	"github.com/dshills/scribe/internal/watcher"
)

const (
	// DefaultAutoSaveInterval is how often dirty files are auto-saved.
	DefaultAutoSaveInterval = 30 * time.Second

	// DefaultEditThreshold is the edit count that triggers an early
	// auto-save.
	DefaultEditThreshold = 200

	// selfWriteWindow is how long watcher events are ignored after the
	// manager writes a file itself.
	selfWriteWindow = 500 * time.Millisecond
)

// EventKind classifies background events delivered by Run.
type EventKind uint8

const (
	// EventTick is the auto-save timer.
	EventTick EventKind = iota
	// EventExternalChange means a tracked file was modified by another
	// program.
	EventExternalChange
	// EventExternalRemove means a tracked file was deleted or moved away.
	EventExternalRemove
)

func (k EventKind) String() string {
	switch k {
	case EventTick:
		return "tick"
	case EventExternalChange:
		return "external-change"
	case EventExternalRemove:
		return "external-remove"
	default:
		return "unknown"
	}
}

// Event is a background signal for the editor. The editor turns it into a
// synthetic command; the manager never touches buffers.
type Event struct {
	Kind EventKind
	Path string
	// Conflict is set when the file changed on disk while it had unsaved
	// changes.
	Conflict bool
	Time     time.Time
}

// Options configures a Manager.
type Options struct {
	AutoSave         bool
	AutoSaveInterval time.Duration
	EditThreshold    int

	// RecoveryDir holds the recovery database. Empty keeps records in
	// memory only.
	RecoveryDir string

	// Watch enables external-change detection through fsnotify.
	Watch bool

	Logger *logging.Logger

	// Watcher overrides the fsnotify watcher, mainly for tests.
	Watcher watcher.Watcher

	now func() time.Time
}

// DefaultOptions returns options with auto-save and watching enabled and
// an in-memory recovery store.
func DefaultOptions() Options {
	return Options{
		AutoSave:         true,
		AutoSaveInterval: DefaultAutoSaveInterval,
		EditThreshold:    DefaultEditThreshold,
		Watch:            true,
	}
}

// Manager keeps open files safe: it runs the save state machine, writes
// files atomically, maintains auto-save backups and recovery records, and
// watches for external modification.
type Manager struct {
	opts  Options
	log   *logging.Logger
	now   func() time.Time
	store *RecoveryStore
	watch watcher.Watcher

	mu    sync.Mutex
	files map[string]*fileState

	// Records found at startup that have not been offered yet.
	pending []RecoveryRecord
}

// NewManager opens the recovery store and, if enabled, the file watcher.
// Recovery records newer than their files are queued for PollRecovery.
func NewManager(opts Options) (*Manager, error) {
	if opts.AutoSaveInterval <= 0 {
		opts.AutoSaveInterval = DefaultAutoSaveInterval
	}
	if opts.EditThreshold <= 0 {
		opts.EditThreshold = DefaultEditThreshold
	}
	m := &Manager{
		opts:  opts,
		log:   logging.OrNop(opts.Logger).WithComponent("safety"),
		now:   opts.now,
		files: make(map[string]*fileState),
	}
	if m.now == nil {
		m.now = time.Now
	}

	if opts.RecoveryDir != "" {
		if err := os.MkdirAll(opts.RecoveryDir, 0o700); err != nil {
			return nil, editorerr.FromOS("open recovery dir", opts.RecoveryDir, err)
		}
	}
	store, err := OpenRecoveryStore(opts.RecoveryDir, m.log)
	if err != nil {
		return nil, err
	}
	m.store = store

	switch {
	case opts.Watcher != nil:
		m.watch = opts.Watcher
	case opts.Watch:
		w, err := watcher.New()
		if err != nil {
			// Editing works without watching; only external changes go
			// unnoticed.
			m.log.Warn("file watching unavailable", zap.Error(err))
		} else {
			m.watch = w
		}
	}

	if err := m.scanRecovery(); err != nil {
		m.log.Warn("recovery scan failed", zap.Error(err))
	}
	return m, nil
}

// Close stops watching and closes the recovery store.
func (m *Manager) Close() error {
	var errs []error
	if m.watch != nil {
		errs = append(errs, m.watch.Close())
	}
	errs = append(errs, m.store.Close())
	return errors.Join(errs...)
}

func canonical(path string) string {
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Track starts tracking a file in the Clean state, recording its current
// on-disk identity. A file that does not exist yet is tracked as missing.
func (m *Manager) Track(path string) error {
	path = canonical(path)
	fsState := &fileState{state: StateClean, lastAutoSave: m.now()}
	info, err := os.Stat(path)
	switch {
	case err == nil:
		fsState.modTime, fsState.size, fsState.exists = info.ModTime(), info.Size(), true
	case errors.Is(err, fs.ErrNotExist):
	default:
		return editorerr.FromOS("track", path, err)
	}

	m.mu.Lock()
	m.files[path] = fsState
	m.mu.Unlock()
	return nil
}

// Untrack forgets a file and stops watching it.
func (m *Manager) Untrack(path string) {
	path = canonical(path)
	m.mu.Lock()
	delete(m.files, path)
	m.mu.Unlock()
	if m.watch != nil {
		_ = m.watch.Unwatch(path)
	}
}

// IsTracked returns true if path is tracked.
func (m *Manager) IsTracked(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[canonical(path)]
	return ok
}

// State returns the save state of path. Untracked files are Clean.
func (m *Manager) State(path string) SaveState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[canonical(path)]; ok {
		return f.state
	}
	return StateClean
}

// LastError returns the error of the last failed save of path.
func (m *Manager) LastError(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[canonical(path)]; ok {
		return f.lastErr
	}
	return nil
}

// MarkDirty records an edit to path.
func (m *Manager) MarkDirty(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[canonical(path)]; ok {
		f.markDirty()
	}
}

// MarkClean resets path to Clean and re-records its disk identity, as after
// a reload.
func (m *Manager) MarkClean(path string) error {
	return m.Track(path)
}

// BeginSave moves path to Saving. A second save while one is in flight is
// rejected.
func (m *Manager) BeginSave(path string) error {
	path = canonical(path)
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[path]
	if !ok {
		f = &fileState{lastAutoSave: m.now()}
		m.files[path] = f
	}
	if f.state == StateSaving {
		return editorerr.Newf(editorerr.KindInvalidOperation, "save", path, "save already in progress")
	}
	f.state = StateSaving
	return nil
}

// CompleteSave moves path from Saving to Clean and records the new disk
// identity.
func (m *Manager) CompleteSave(path string, info fs.FileInfo) {
	path = canonical(path)
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[path]
	if !ok {
		return
	}
	f.state = StateClean
	f.lastErr = nil
	f.editsSinceAutoSave = 0
	f.lastAutoSave = m.now()
	if info != nil {
		f.modTime, f.size, f.exists = info.ModTime(), info.Size(), true
	}
}

// FailSave moves path from Saving to SaveFailed. The next edit or save
// attempt moves it back to Dirty.
func (m *Manager) FailSave(path string, err error) {
	path = canonical(path)
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.files[path]; ok {
		f.state = StateSaveFailed
		f.lastErr = err
	}
}

// OnSave writes content to path atomically and runs the state machine
// around the write. On success the backup sibling and recovery record are
// removed and the new modification time is returned. On failure the file
// is left dirty and the error is returned unchanged, classified by
// editorerr.
func (m *Manager) OnSave(path string, content []byte) (time.Time, error) {
	path = canonical(path)
	if err := m.BeginSave(path); err != nil {
		return time.Time{}, err
	}
	if m.watch != nil {
		m.watch.Suppress(path, selfWriteWindow)
	}

	info, err := WriteAtomic(path, content)
	if err != nil {
		m.FailSave(path, err)
		m.log.Warn("save failed", zap.String("path", path), zap.Error(err))
		return time.Time{}, err
	}
	m.CompleteSave(path, info)

	if err := RemoveBackup(path); err != nil {
		m.log.Warn("remove backup", zap.String("path", path), zap.Error(err))
	}
	if err := m.store.Delete(path); err != nil {
		m.log.Warn("discard recovery record", zap.String("path", path), zap.Error(err))
	}
	m.log.Debug("saved", zap.String("path", path), zap.Int("bytes", len(content)))
	return info.ModTime(), nil
}

// AutoSaveDue reports whether path has unsaved changes and either the
// auto-save interval has elapsed or the edit threshold was reached.
func (m *Manager) AutoSaveDue(path string) bool {
	if !m.opts.AutoSave {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[canonical(path)]
	if !ok || !f.state.HasUnsavedChanges() || f.state == StateSaving || f.editsSinceAutoSave == 0 {
		return false
	}
	return f.editsSinceAutoSave >= m.opts.EditThreshold ||
		m.now().Sub(f.lastAutoSave) >= m.opts.AutoSaveInterval
}

// AutoSave writes the .backup sibling of path and a recovery record. It is
// a safety net, not a save: the save state is unchanged. For a buffer that
// was never saved, path is "" and name identifies it; only a recovery
// record is written.
func (m *Manager) AutoSave(path, name string, content []byte) error {
	path = canonical(path)
	var errs []error
	if path != "" {
		if m.watch != nil {
			m.watch.Suppress(BackupPath(path), selfWriteWindow)
		}
		if _, err := WriteBackup(path, content); err != nil {
			errs = append(errs, err)
		}
	}

	rec := RecoveryRecord{Path: path, Name: name, Content: content, Timestamp: m.now()}
	if err := m.store.Put(rec); err != nil {
		errs = append(errs, err)
	}

	m.mu.Lock()
	if f, ok := m.files[path]; ok && path != "" {
		f.editsSinceAutoSave = 0
		f.lastAutoSave = m.now()
	}
	m.mu.Unlock()

	if err := errors.Join(errs...); err != nil {
		m.log.Warn("auto-save failed", zap.String("path", path), zap.Error(err))
		return err
	}
	return nil
}

// DiscardRecovery removes the recovery record of a file and its backup
// sibling.
func (m *Manager) DiscardRecovery(path string) error {
	path = canonical(path)
	if path == "" {
		return nil
	}
	if err := RemoveBackup(path); err != nil {
		return err
	}
	return m.store.Delete(path)
}

// DiscardUnsaved removes the recovery record of a buffer that was never
// saved.
func (m *Manager) DiscardUnsaved(name string) error {
	if name == "" {
		return nil
	}
	return m.store.Delete(name)
}

// scanRecovery queues every stored record that is newer than its file's
// last modification. Records for files that no longer exist are queued as
// well; records older than their file are stale and removed.
func (m *Manager) scanRecovery() error {
	records, err := m.store.List()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.Path != "" {
			info, err := os.Stat(rec.Path)
			if err == nil && !rec.Timestamp.After(info.ModTime()) {
				if err := m.store.Delete(rec.Path); err != nil {
					m.log.Warn("remove stale recovery record", zap.String("path", rec.Path), zap.Error(err))
				}
				continue
			}
		}
		m.pending = append(m.pending, rec)
	}
	sort.Slice(m.pending, func(i, j int) bool {
		return m.pending[i].Timestamp.After(m.pending[j].Timestamp)
	})
	return nil
}

// PollRecovery returns the next recovery record to offer to the user,
// newest first. Each record is offered once per process.
func (m *Manager) PollRecovery() (*RecoveryRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil, false
	}
	rec := m.pending[0]
	m.pending = m.pending[1:]
	return &rec, true
}

// RecoveryFor returns the stored recovery record for a file, if any.
func (m *Manager) RecoveryFor(path string) (RecoveryRecord, bool, error) {
	return m.store.Latest(canonical(path))
}

// Watch starts watching path for external changes. It is a no-op when
// watching is disabled.
func (m *Manager) Watch(path string) error {
	if m.watch == nil {
		return nil
	}
	err := m.watch.Watch(canonical(path))
	if errors.Is(err, watcher.ErrAlreadyWatching) {
		return nil
	}
	return err
}

// CheckExternal stats path and reports whether it differs from the disk
// state recorded at load or last save.
func (m *Manager) CheckExternal(path string) (changed, exists bool, err error) {
	path = canonical(path)
	info, statErr := os.Stat(path)
	exists = statErr == nil
	if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
		return false, false, editorerr.FromOS("stat", path, statErr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[path]
	if !ok {
		return false, exists, nil
	}
	if exists {
		return !f.matches(info.ModTime(), info.Size(), true), true, nil
	}
	return !f.matches(time.Time{}, 0, false), false, nil
}

// classify turns a watcher event into an editor event. Events that leave
// the file identical to the recorded disk state (such as our own saves) are
// dropped.
func (m *Manager) classify(ev watcher.Event) (Event, bool) {
	if !ev.Op.ContentChanged() {
		return Event{}, false
	}
	changed, exists, err := m.CheckExternal(ev.Path)
	if err != nil {
		m.log.Warn("check external change", zap.String("path", ev.Path), zap.Error(err))
		return Event{}, false
	}
	if !changed {
		return Event{}, false
	}

	out := Event{Kind: EventExternalChange, Path: canonical(ev.Path), Time: ev.Timestamp}
	if !exists {
		out.Kind = EventExternalRemove
	}
	out.Conflict = m.State(ev.Path).HasUnsavedChanges()
	return out, true
}

// Run delivers auto-save ticks and external-change events to sink until
// ctx is cancelled. sink is called from Run's goroutine only.
func (m *Manager) Run(ctx context.Context, sink func(Event)) error {
	var ticks <-chan time.Time
	if m.opts.AutoSave {
		// Tick more often than the interval so the edit threshold is
		// noticed promptly; AutoSaveDue decides per file.
		ticker := time.NewTicker(min(m.opts.AutoSaveInterval, time.Second))
		defer ticker.Stop()
		ticks = ticker.C
	}

	var (
		events <-chan watcher.Event
		errs   <-chan error
	)
	if m.watch != nil {
		events = m.watch.Events()
		errs = m.watch.Errors()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case t := <-ticks:
			sink(Event{Kind: EventTick, Time: t})

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if out, keep := m.classify(ev); keep {
				sink(out)
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			m.log.Warn("watcher error", zap.Error(err))
		}
	}
}

// DueForAutoSave returns the tracked paths whose auto-save is due.
func (m *Manager) DueForAutoSave() []string {
	m.mu.Lock()
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	m.mu.Unlock()

	var due []string
	for _, p := range paths {
		if m.AutoSaveDue(p) {
			due = append(due, p)
		}
	}
	sort.Strings(due)
	return due
}
