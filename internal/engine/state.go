package engine

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/scribe/internal/editorerr"
	"github.com/dshills/scribe/internal/engine/buffer"
	"github.com/dshills/scribe/internal/engine/cursor"
	"github.com/dshills/scribe/internal/engine/history"
	"github.com/dshills/scribe/internal/historybrowser"
	"github.com/dshills/scribe/internal/logging"
	"github.com/dshills/scribe/internal/safety"
	"github.com/dshills/scribe/internal/timemachine"
)

// TimeMachine is the part of the history manager the editor uses.
// *timemachine.Manager satisfies it.
type TimeMachine interface {
	historybrowser.Source
	AutoCommitOnSave(ctx context.Context, project string, files []string) (*timemachine.CommitResult, error)
	PreviewRestore(ctx context.Context, project, commit, file string) (*timemachine.RestorePreview, error)
	RestoreFile(ctx context.Context, project, commit, file string, opts timemachine.RestoreOptions) ([]byte, error)
	Cleanup(ctx context.Context, project string) (timemachine.CleanupStats, error)
	Stats(ctx context.Context, project string) (timemachine.HistoryStats, error)
}

// EditorState owns one buffer with its cursors and undo history, and
// connects it to file safety and the time machine.
//
// Apply is the only way to change the state. Background sources (the safety
// manager's Run loop, history commits) never touch the state: they are
// turned into synthetic commands or reported on the Status channel.
type EditorState struct {
	mu sync.Mutex

	// Core components
	buf     *buffer.Buffer
	cursors *cursor.CursorSet
	history *history.History
	browser *historybrowser.Browser

	meta      FileMetadata
	overwrite bool
	status    StatusMessage
	bookmarks []Bookmark
	lastQuery string

	// Auto-save bookkeeping for buffers without a file.
	unsavedEdits int
	lastAutoSave time.Time

	// Collaborators
	log    *logging.Logger
	safety *safety.Manager
	tm     TimeMachine

	// Background work
	parent   context.Context
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	statusCh chan StatusMessage

	// Configuration
	tabWidth         int
	pageSize         int
	maxUndoEntries   int
	maxUndoMemory    int
	groupTimeout     time.Duration
	largeThreshold   int64
	lineEnding       buffer.LineEnding
	autoSaveInterval time.Duration
	autoSaveEdits    int
	now              func() time.Time

	// Initialization
	initContent *string
}

// New creates an editor holding an empty unsaved buffer.
func New(opts ...Option) (*EditorState, error) {
	e := &EditorState{
		log:              logging.Nop(),
		parent:           context.Background(),
		tabWidth:         DefaultTabWidth,
		pageSize:         DefaultPageSize,
		maxUndoEntries:   history.DefaultMaxEntries,
		maxUndoMemory:    history.DefaultMaxMemory,
		groupTimeout:     history.DefaultGroupTimeout,
		largeThreshold:   buffer.DefaultLargeFileThreshold,
		lineEnding:       buffer.PlatformLineEnding(),
		autoSaveInterval: safety.DefaultAutoSaveInterval,
		autoSaveEdits:    safety.DefaultEditThreshold,
		now:              time.Now,
		statusCh:         make(chan StatusMessage, statusBuffer),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ctx, e.cancel = context.WithCancel(e.parent)

	buf := buffer.New(append(e.bufferOptions(), buffer.WithLineEnding(e.lineEnding))...)
	if e.initContent != nil {
		var err error
		buf, err = buffer.NewFromString(*e.initContent, e.bufferOptions()...)
		if err != nil {
			e.cancel()
			return nil, err
		}
	}
	e.history = history.New(e.historyOptions()...)
	e.install(buf, FileMetadata{Name: untitledName()})
	e.lastAutoSave = e.now()

	if e.tm != nil {
		e.browser = historybrowser.New(e.tm, historybrowser.WithLogger(e.log))
	}
	return e, nil
}

func untitledName() string {
	return "untitled-" + uuid.NewString()
}

// Close stops background work and waits for it to finish. It does not
// close the safety manager or the time machine.
func (e *EditorState) Close() error {
	e.cancel()
	e.wg.Wait()
	return nil
}

// Status delivers messages from background work such as history commits
// and cleanups. Messages are dropped when nobody reads them.
func (e *EditorState) Status() <-chan StatusMessage {
	return e.statusCh
}

// PendingRecovery returns the next recovery record found at startup, newest
// first. Each record is offered once.
func (e *EditorState) PendingRecovery() (*safety.RecoveryRecord, bool) {
	if e.safety == nil {
		return nil, false
	}
	return e.safety.PollRecovery()
}

// ============================================================================
// Apply
// ============================================================================

// Apply executes one command. On error the buffer and cursors are left as
// they were before the command.
func (e *EditorState) Apply(c Command) (Effect, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if isEdit(c) {
		if err := e.checkEditable(CommandName(c)); err != nil {
			e.setError(err)
			return Effect{}, err
		}
	}

	eff, err := e.dispatch(c)
	if err != nil {
		e.setError(err)
		e.log.Debug("command failed", zap.String("command", CommandName(c)), zap.Error(err))
	}
	return eff, err
}

func (e *EditorState) dispatch(c Command) (Effect, error) {
	switch c := c.(type) {
	// Editing
	case InsertText:
		return e.insertText(c.Text)
	case InsertNewline:
		return e.insertNewline()
	case DeleteBackward:
		return e.deleteBackward()
	case DeleteForward:
		return e.deleteForward()
	case DeleteLine:
		return e.deleteLines()
	case DuplicateLine:
		return e.duplicateLines()
	case MoveLinesUp:
		return e.moveLines(-1)
	case MoveLinesDown:
		return e.moveLines(1)
	case JoinLines:
		return e.joinLines()
	case SortLines:
		return e.sortLines(c.Numerical, c.Reverse)
	case ChangeCase:
		return e.changeCase(c.Case)
	case TransposeChars:
		return e.transposeChars()
	case Indent:
		return e.indent()
	case Dedent:
		return e.dedent()
	case TrimTrailingWhitespace:
		return e.trimTrailingWhitespace()
	case ToggleOverwrite:
		e.overwrite = !e.overwrite
		return Effect{}, nil
	case Paste:
		return e.paste(c.Text)
	case Cut:
		return e.cut()
	case Copy:
		return e.copy(), nil

	// Search and replace
	case ReplaceNext:
		return e.replaceNext(c.Find, c.Replace)
	case ReplaceAll:
		return e.replaceAll(c.Find, c.Replace)
	case ReplaceInSelection:
		return e.replaceInSelection(c.Find, c.Replace)
	case Find:
		e.find(c.Query)
	case FindNext:
		if err := e.findNext(1); err != nil {
			return Effect{}, err
		}
	case FindPrevious:
		if err := e.findNext(-1); err != nil {
			return Effect{}, err
		}

	// Bookmarks
	case ToggleBookmark:
		e.toggleBookmark()
		return Effect{}, nil
	case AddNamedBookmark:
		return Effect{}, e.addNamedBookmark(c.Name)
	case RemoveBookmark:
		return Effect{}, e.removeBookmark(c.Index)
	case ClearBookmarks:
		e.clearBookmarks()
		return Effect{}, nil
	case JumpToBookmark:
		if err := e.jumpToBookmark(c.Index); err != nil {
			return Effect{}, err
		}
	case JumpToNamedBookmark:
		if err := e.jumpToNamedBookmark(c.Name); err != nil {
			return Effect{}, err
		}
	case NextBookmark:
		if err := e.nextBookmark(1); err != nil {
			return Effect{}, err
		}
	case PreviousBookmark:
		if err := e.nextBookmark(-1); err != nil {
			return Effect{}, err
		}

	// Navigation and selection
	case Move:
		e.cursors.Move(e.buf, c.Kind, c.Extend, e.moveOptions())
	case GotoLine:
		e.cursors.GotoLine(e.buf, c.Line)
	case JumpToMatchingBracket:
		e.jumpToBracket()
	case AddCursor:
		e.cursors.AddAt(e.buf, c.Pos)
	case AddCursorAbove:
		e.cursors.AddCursorAbove(e.buf, e.moveOptions())
	case AddCursorBelow:
		e.cursors.AddCursorBelow(e.buf, e.moveOptions())
	case RemoveCursor:
		e.cursors.Remove(c.Index)
	case ClearSecondaryCursors:
		e.cursors.ClearSecondary()
	case Escape:
		if e.browser != nil && e.browser.IsOpen() {
			e.browser.Close()
			return Effect{}, nil
		}
		e.cursors.CollapseToPrimary()
	case SelectAll:
		e.cursors.SelectAll(e.buf)
	case SelectWord:
		e.cursors.SelectWord(e.buf)
	case SelectLine:
		e.cursors.SelectLine(e.buf)
	case MouseClick:
		e.cursors.Click(e.buf, c.Pos)
	case MouseDrag:
		e.cursors.DragTo(e.buf, c.Pos)
	case MouseDoubleClick:
		e.cursors.DoubleClick(e.buf, c.Pos)
	case MouseTripleClick:
		e.cursors.TripleClick(e.buf, c.Pos)

	// Undo
	case Undo:
		return e.undo()
	case Redo:
		return e.redo()

	// Files
	case Open:
		return e.open(c.Path, c.Force)
	case Save:
		return e.save()
	case SaveAs:
		return e.saveAs(c.Path)
	case NewBuffer:
		return e.newBuffer(c.Force)
	case Close:
		return e.closeFile(c.Force)
	case ToggleReadOnly:
		e.meta.ReadOnly = !e.meta.ReadOnly
		return Effect{}, nil
	case Reload:
		return e.reload(c.Force)
	case RecoverFrom:
		return e.recoverFrom(c.Record, c.Force)

	// Time machine
	case RestoreFile:
		return e.restoreFile(c)
	case PreviewRestore:
		return e.previewRestore(c.Commit, c.File)
	case CleanupHistory:
		return e.cleanupHistory()
	case ShowHistoryStats:
		return e.historyStats()

	// Background
	case AutoSaveTick:
		return e.autoSaveTick()
	case ExternalChange:
		return e.externalChange(c.Path, c.Removed)

	default:
		if eff, ok, err := e.browserCommand(c); ok {
			return eff, err
		}
		return Effect{}, editorerr.Newf(editorerr.KindInvalidOperation, "apply", "", "unknown command %s", CommandName(c))
	}

	// Cursor-only commands end the typing run.
	e.history.BreakCoalescing()
	return Effect{}, nil
}

func (e *EditorState) checkEditable(op string) error {
	switch {
	case e.meta.Binary:
		return errBinary(op, e.meta.Path)
	case e.meta.ReadOnly:
		return errReadOnly(op, e.meta.Path)
	}
	return nil
}

// ============================================================================
// Snapshot
// ============================================================================

// Snapshot returns what a frontend needs to draw vp. A viewport without a
// height shows one page.
func (e *EditorState) Snapshot(vp Viewport) RenderableState {
	e.mu.Lock()
	defer e.mu.Unlock()

	height := vp.Height
	if height <= 0 {
		height = e.pageSize
	}
	top := min(max(vp.Top, 0), e.buf.LineCount()-1)

	s := RenderableState{
		Lines:     e.buf.Lines(top, top+height),
		Top:       top,
		LineCount: e.buf.LineCount(),
		Cursors:   e.cursors.All(),
		Primary:   e.cursors.PrimaryIndex(),
		Dirty:     e.meta.Dirty,
		Mode:      e.mode(),
		Status:    e.status,
		File:      e.metadata(),
		Bookmarks: slices.Clone(e.bookmarks),
		Revision:  e.buf.Revision(),
	}
	if info, ok := e.history.PeekUndo(); ok {
		s.CanUndo, s.UndoLabel = true, info.Description
	}
	if info, ok := e.history.PeekRedo(); ok {
		s.CanRedo, s.RedoLabel = true, info.Description
	}
	if e.browser != nil && e.browser.IsOpen() {
		v := e.browser.View()
		s.History = &v
	}
	return s
}

// Text returns the buffer content with "\n" separators.
func (e *EditorState) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.String()
}

// Content returns a read-only copy of the whole buffer.
func (e *EditorState) Content() *buffer.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Snapshot()
}

// Bookmarks returns the bookmarks in position order.
func (e *EditorState) Bookmarks() []Bookmark {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.bookmarks)
}

// Cursors returns a copy of the cursor set.
func (e *EditorState) Cursors() *cursor.CursorSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursors.Clone()
}

// Metadata returns the file metadata.
func (e *EditorState) Metadata() FileMetadata {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metadata()
}

func (e *EditorState) metadata() FileMetadata {
	m := e.meta
	m.LineEnding = e.buf.DetectLineEnding()
	m.Large = e.buf.IsLarge()
	switch {
	case e.safety != nil && m.Path != "":
		m.SaveState = e.safety.State(m.Path)
		// Only the editor knows about edits made before the file was
		// tracked, such as recovered content.
		if m.Dirty && m.SaveState == safety.StateClean {
			m.SaveState = safety.StateDirty
		}
	case m.Dirty:
		m.SaveState = safety.StateDirty
	}
	return m
}

func (e *EditorState) mode() Mode {
	switch {
	case e.browser != nil && e.browser.IsOpen():
		return ModeHistory
	case e.overwrite:
		return ModeOverwrite
	default:
		return ModeInsert
	}
}

// ============================================================================
// State helpers
// ============================================================================

// install replaces the buffer, resetting cursors, bookmarks and undo
// history.
func (e *EditorState) install(buf *buffer.Buffer, meta FileMetadata) {
	e.buf = buf
	e.buf.OnChange(e.shiftBookmarks)
	e.cursors = cursor.NewCursorSet(buffer.Position{})
	e.bookmarks = nil
	e.history.Clear()
	e.meta = meta
	e.unsavedEdits = 0
}

// markDirty records an edit for the save state machine.
func (e *EditorState) markDirty() {
	e.meta.Dirty = true
	e.unsavedEdits++
	if e.safety != nil && e.meta.Path != "" {
		e.safety.MarkDirty(e.meta.Path)
	}
}

func (e *EditorState) setStatus(level StatusLevel, msg string) {
	e.status = StatusMessage{Level: level, Message: msg, Time: e.now()}
}

func (e *EditorState) setError(err error) {
	e.status = StatusMessage{Level: StatusError, Message: err.Error(), Err: err, Time: e.now()}
}

// publish reports the result of background work without blocking.
func (e *EditorState) publish(msg StatusMessage) {
	if msg.Time.IsZero() {
		msg.Time = e.now()
	}
	select {
	case e.statusCh <- msg:
	default:
		e.log.Debug("status message dropped", zap.String("message", msg.Message))
	}
}

// background runs fn on its own goroutine under the editor's context.
func (e *EditorState) background(fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
}
