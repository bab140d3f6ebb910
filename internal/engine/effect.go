package engine

import (
	"os"
	"time"

	"github.com/dshills/scribe/internal/engine/buffer"
	"github.com/dshills/scribe/internal/engine/cursor"
	"github.com/dshills/scribe/internal/historybrowser"
	"github.com/dshills/scribe/internal/safety"
	"github.com/dshills/scribe/internal/timemachine"
)

// Effect is what a command did beyond changing the state returned by
// Snapshot.
type Effect struct {
	// Changed is set when the buffer content changed.
	Changed bool

	// Clipboard holds copied or cut text when HasClipboard is set.
	Clipboard    string
	HasClipboard bool

	// Recovery is a recovery record found for a file just opened.
	Recovery *safety.RecoveryRecord

	// Conflict is set when the file changed on disk while the buffer had
	// unsaved changes.
	Conflict bool

	Preview *timemachine.RestorePreview
	Stats   *timemachine.HistoryStats
}

// Mode is the editor's input mode.
type Mode uint8

const (
	ModeInsert Mode = iota
	ModeOverwrite
	// ModeHistory is active while the history browser is open.
	ModeHistory
)

func (m Mode) String() string {
	switch m {
	case ModeInsert:
		return "insert"
	case ModeOverwrite:
		return "overwrite"
	case ModeHistory:
		return "history"
	default:
		return "unknown"
	}
}

// StatusLevel is the severity of a status message.
type StatusLevel uint8

const (
	StatusInfo StatusLevel = iota
	StatusWarn
	StatusError
)

func (l StatusLevel) String() string {
	switch l {
	case StatusInfo:
		return "info"
	case StatusWarn:
		return "warn"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// StatusMessage is a line for the status bar.
type StatusMessage struct {
	Level   StatusLevel
	Message string
	Err     error
	Time    time.Time
}

// FileMetadata describes the file behind the buffer.
type FileMetadata struct {
	// Path is empty for a buffer that was never saved.
	Path string
	// Name identifies an unsaved buffer for crash recovery.
	Name string

	Dirty       bool
	Mode        os.FileMode
	ReadOnly    bool
	Binary      bool
	Large       bool
	DiskModTime time.Time
	SaveState   safety.SaveState
	LineEnding  buffer.LineEnding
}

// Viewport is the range of lines a frontend displays.
type Viewport struct {
	Top    int
	Height int
}

// RenderableState is everything a frontend needs to draw the editor.
type RenderableState struct {
	// Lines holds the viewport's lines, starting at line Top.
	Lines     []string
	Top       int
	LineCount int

	Cursors []cursor.Cursor
	Primary int

	Dirty  bool
	Mode   Mode
	Status StatusMessage
	File   FileMetadata

	// History is set while the history browser is open.
	History *historybrowser.View

	Bookmarks []Bookmark

	// UndoLabel and RedoLabel describe the step Undo and Redo would take.
	CanUndo   bool
	CanRedo   bool
	UndoLabel string
	RedoLabel string
	Revision  buffer.RevisionID
}
