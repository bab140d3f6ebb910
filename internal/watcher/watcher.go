// Package watcher reports external changes to open files.
//
// Watches are file-level: the caller names the files it has open, and only
// events for those files are delivered. Internally the parent directory is
// watched, because editors and tools commonly replace files by renaming a
// temporary file over them, which drops a watch placed on the file itself.
package watcher

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrWatcherClosed   = errors.New("watcher is closed")
	ErrAlreadyWatching = errors.New("path is already being watched")
	ErrNotWatching     = errors.New("path is not being watched")
	ErrPathNotExist    = errors.New("directory does not exist")
)

// Op is a set of file operations.
type Op uint8

const (
	// OpCreate means the file was created or renamed into place.
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	// OpRename means the file was renamed away.
	OpRename
	OpChmod
)

var opNames = []struct {
	op   Op
	name string
}{
	{OpCreate, "CREATE"},
	{OpWrite, "WRITE"},
	{OpRemove, "REMOVE"},
	{OpRename, "RENAME"},
	{OpChmod, "CHMOD"},
}

// String lists the operations in op, joined by "|".
func (op Op) String() string {
	var names []string
	for _, n := range opNames {
		if op.Has(n.op) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

// Has reports whether op includes every operation in o.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// IsRemoval reports whether the file is gone after op. A rename followed by
// a create of the same name (an atomic replace) is not a removal.
func (op Op) IsRemoval() bool {
	return (op.Has(OpRemove) || op.Has(OpRename)) && !op.Has(OpCreate)
}

// ContentChanged reports whether op may have changed the file's content.
func (op Op) ContentChanged() bool {
	return op&(OpCreate|OpWrite|OpRemove|OpRename) != 0
}

// Event is a change to a watched file. A debounced event may carry several
// operations.
type Event struct {
	Path      string
	Op        Op
	Timestamp time.Time
}

// Watcher monitors open files for external changes.
type Watcher interface {
	// Watch starts watching a file. The file may not exist yet but its
	// directory must; ErrPathNotExist is returned otherwise.
	Watch(path string) error

	// Unwatch stops watching a file.
	Unwatch(path string) error

	// Suppress drops events for path for the duration d. The editor calls
	// it around its own writes.
	Suppress(path string, d time.Duration)

	// Events and Errors are closed by Close.
	Events() <-chan Event
	Errors() <-chan error

	Close() error
}

const (
	defaultDebounce   = 100 * time.Millisecond
	defaultBufferSize = 64
)

type options struct {
	debounce   time.Duration
	bufferSize int
}

// Option configures a watcher.
type Option func(*options)

// WithDebounce sets the window in which events for one file are coalesced.
func WithDebounce(d time.Duration) Option {
	return func(o *options) { o.debounce = d }
}

// WithBufferSize sets the capacity of the event and error channels.
func WithBufferSize(n int) Option {
	return func(o *options) { o.bufferSize = n }
}

func buildOptions(opts []Option) options {
	o := options{debounce: defaultDebounce, bufferSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.debounce <= 0 {
		o.debounce = defaultDebounce
	}
	if o.bufferSize <= 0 {
		o.bufferSize = defaultBufferSize
	}
	return o
}

// New returns the default watcher: fsnotify underneath, debounced.
func New(opts ...Option) (Watcher, error) {
	fw, err := NewFileWatcher(opts...)
	if err != nil {
		return nil, err
	}
	return NewDebouncer(fw, opts...), nil
}
