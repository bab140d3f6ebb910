package engine

import (
	"context"
	"time"

	"github.com/dshills/scribe/internal/config"
	"github.com/dshills/scribe/internal/engine/buffer"
	"github.com/dshills/scribe/internal/engine/cursor"
	"github.com/dshills/scribe/internal/engine/history"
	"github.com/dshills/scribe/internal/logging"
	"github.com/dshills/scribe/internal/safety"
)

// Default configuration values.
const (
	DefaultTabWidth = cursor.DefaultTabWidth
	DefaultPageSize = 20

	// statusBuffer is the capacity of the background status channel.
	statusBuffer = 32
)

// Option configures an EditorState during creation.
type Option func(*EditorState)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *EditorState) {
		e.log = logging.OrNop(l).WithComponent("engine")
	}
}

// WithSafety routes saves, auto-saves and recovery through m. Without it
// files are written atomically and nothing else is kept.
func WithSafety(m *safety.Manager) Option {
	return func(e *EditorState) {
		e.safety = m
	}
}

// WithTimeMachine records every save in tm and enables the history
// commands.
func WithTimeMachine(tm TimeMachine) Option {
	return func(e *EditorState) {
		e.tm = tm
	}
}

// WithContext sets the context background work runs under. Close cancels
// work started by the editor either way.
func WithContext(ctx context.Context) Option {
	return func(e *EditorState) {
		e.parent = ctx
	}
}

// WithEditorConfig applies the [editor] section of the configuration.
func WithEditorConfig(cfg config.EditorConfig) Option {
	return func(e *EditorState) {
		if cfg.TabWidth > 0 {
			e.tabWidth = cfg.TabWidth
		}
		if cfg.PageSize > 0 {
			e.pageSize = cfg.PageSize
		}
		if cfg.MaxUndoEntries > 0 {
			e.maxUndoEntries = cfg.MaxUndoEntries
		}
		if cfg.MaxUndoMemoryMB > 0 {
			e.maxUndoMemory = cfg.MaxUndoMemoryMB << 20
		}
		if cfg.GroupTimeout > 0 {
			e.groupTimeout = cfg.GroupTimeout.Std()
		}
		if cfg.LargeFileThresholdMB > 0 {
			e.largeThreshold = int64(cfg.LargeFileThresholdMB) << 20
		}
	}
}

// WithAutoSave sets when unsaved buffers without a file get a recovery
// record. Files on disk follow the safety manager's own settings.
func WithAutoSave(interval time.Duration, editThreshold int) Option {
	return func(e *EditorState) {
		if interval > 0 {
			e.autoSaveInterval = interval
		}
		if editThreshold > 0 {
			e.autoSaveEdits = editThreshold
		}
	}
}

// WithTabWidth sets the tab width used for display columns and indents.
func WithTabWidth(width int) Option {
	return func(e *EditorState) {
		if width > 0 {
			e.tabWidth = width
		}
	}
}

// WithPageSize sets the lines moved by page movement.
func WithPageSize(n int) Option {
	return func(e *EditorState) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithMaxUndoEntries caps the undo stack.
func WithMaxUndoEntries(n int) Option {
	return func(e *EditorState) {
		if n > 0 {
			e.maxUndoEntries = n
		}
	}
}

// WithGroupTimeout sets the typing coalescing window.
func WithGroupTimeout(d time.Duration) Option {
	return func(e *EditorState) {
		e.groupTimeout = d
	}
}

// WithLineEnding sets the line ending of new buffers.
func WithLineEnding(le buffer.LineEnding) Option {
	return func(e *EditorState) {
		e.lineEnding = le
	}
}

// WithContent starts the editor with an unsaved buffer holding content.
func WithContent(content string) Option {
	return func(e *EditorState) {
		e.initContent = &content
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *EditorState) {
		e.now = now
	}
}

func (e *EditorState) bufferOptions() []buffer.Option {
	return []buffer.Option{buffer.WithLargeFileThreshold(e.largeThreshold)}
}

func (e *EditorState) historyOptions() []history.Option {
	return []history.Option{
		history.WithMaxEntries(e.maxUndoEntries),
		history.WithMaxMemory(e.maxUndoMemory),
		history.WithGroupTimeout(e.groupTimeout),
		history.WithClock(e.now),
	}
}

func (e *EditorState) moveOptions() cursor.MoveOptions {
	return cursor.MoveOptions{PageSize: e.pageSize, TabWidth: e.tabWidth}
}
