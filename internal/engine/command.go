package engine

import (
	"fmt"
	"strings"

	"github.com/dshills/scribe/internal/engine/buffer"
	"github.com/dshills/scribe/internal/engine/cursor"
	"github.com/dshills/scribe/internal/safety"
)

// Command is an editor action. The set of commands is closed: frontends map
// their input to one of the types below and pass it to EditorState.Apply.
type Command interface {
	command()
}

// cmd marks a type as a Command.
type cmd struct{}

func (cmd) command() {}

// CommandName returns the short type name of c, for logs and status lines.
func CommandName(c Command) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", c), "engine.")
}

// ============================================================================
// Editing
// ============================================================================

// InsertText types text at every cursor, replacing selections. In overwrite
// mode text replaces the characters after the cursor.
type InsertText struct {
	cmd
	Text string
}

// InsertNewline breaks the line at every cursor and indents the new line
// like the one above. Undo removes the break and the indent together.
type InsertNewline struct{ cmd }

// DeleteBackward deletes the selection or the grapheme before each cursor,
// joining with the previous line at column 0.
type DeleteBackward struct{ cmd }

// DeleteForward deletes the selection or the grapheme after each cursor,
// joining with the next line at end of line.
type DeleteForward struct{ cmd }

// DeleteLine removes every line touched by a cursor.
type DeleteLine struct{ cmd }

// DuplicateLine copies every line touched by a cursor below itself.
type DuplicateLine struct{ cmd }

// MoveLinesUp swaps the touched lines with the line above.
type MoveLinesUp struct{ cmd }

// MoveLinesDown swaps the touched lines with the line below.
type MoveLinesDown struct{ cmd }

// JoinLines joins the touched lines, or a line with the next one.
type JoinLines struct{ cmd }

// SortLines sorts the selected lines, or the whole buffer when no selection
// spans more than one line.
type SortLines struct {
	cmd
	// Numerical orders by leading number; other lines sort after.
	Numerical bool
	Reverse   bool
}

// Case is a ChangeCase target.
type Case uint8

const (
	CaseUpper Case = iota
	CaseLower
	CaseTitle
)

func (c Case) String() string {
	switch c {
	case CaseUpper:
		return "upper"
	case CaseLower:
		return "lower"
	case CaseTitle:
		return "title"
	default:
		return "unknown"
	}
}

// ChangeCase converts each selection, or the word under each cursor.
type ChangeCase struct {
	cmd
	Case Case
}

// TransposeChars swaps the graphemes around each cursor.
type TransposeChars struct{ cmd }

// Indent adds one indentation unit to the touched lines.
type Indent struct{ cmd }

// Dedent removes up to one indentation unit from the touched lines.
type Dedent struct{ cmd }

// TrimTrailingWhitespace strips trailing blanks from every line.
type TrimTrailingWhitespace struct{ cmd }

// ToggleOverwrite switches between insert and overwrite typing.
type ToggleOverwrite struct{ cmd }

// Paste inserts Text at every cursor. When Text has one line per cursor
// each cursor receives its own line.
type Paste struct {
	cmd
	Text string
}

// Cut removes the selections, or the touched lines when nothing is
// selected, and returns the text in Effect.Clipboard.
type Cut struct{ cmd }

// Copy returns the selections, or the touched lines, in Effect.Clipboard.
type Copy struct{ cmd }

// ============================================================================
// Navigation
// ============================================================================

// Move moves every cursor. Extend grows the selections instead.
type Move struct {
	cmd
	Kind   cursor.MoveKind
	Extend bool
}

// GotoLine collapses to one cursor at the start of Line (zero-based).
type GotoLine struct {
	cmd
	Line int
}

// JumpToMatchingBracket moves each cursor on a bracket to its partner.
type JumpToMatchingBracket struct{ cmd }

// ============================================================================
// Search and replace
// ============================================================================

// Find selects the first occurrence of Query at or after the primary
// cursor, wrapping to the top. Matches are literal and do not span lines.
type Find struct {
	cmd
	Query string
}

// FindNext selects the next match of the last query, wrapping.
type FindNext struct{ cmd }

// FindPrevious selects the previous match of the last query, wrapping.
type FindPrevious struct{ cmd }

// ReplaceNext replaces the selected occurrence of Find, or the next one,
// and selects the occurrence after it.
type ReplaceNext struct {
	cmd
	Find    string
	Replace string
}

// ReplaceAll replaces every occurrence of Find in one undo step.
type ReplaceAll struct {
	cmd
	Find    string
	Replace string
}

// ReplaceInSelection replaces the occurrences of Find inside the
// selections.
type ReplaceInSelection struct {
	cmd
	Find    string
	Replace string
}

// ============================================================================
// Bookmarks
// ============================================================================

// ToggleBookmark adds or removes a bookmark at the primary cursor.
type ToggleBookmark struct{ cmd }

// AddNamedBookmark marks the primary cursor as Name.
type AddNamedBookmark struct {
	cmd
	Name string
}

// RemoveBookmark removes bookmark Index, in position order.
type RemoveBookmark struct {
	cmd
	Index int
}

type JumpToBookmark struct {
	cmd
	Index int
}

type JumpToNamedBookmark struct {
	cmd
	Name string
}

// NextBookmark moves to the first bookmark after the primary cursor.
type NextBookmark struct{ cmd }

// PreviousBookmark moves to the last bookmark before the primary cursor.
type PreviousBookmark struct{ cmd }

type ClearBookmarks struct{ cmd }

// ============================================================================
// Selection and cursors
// ============================================================================

// AddCursor adds a primary cursor at Pos.
type AddCursor struct {
	cmd
	Pos buffer.Position
}

// AddCursorAbove adds a cursor on the line above the topmost cursor.
type AddCursorAbove struct{ cmd }

// AddCursorBelow adds a cursor on the line below the bottom cursor.
type AddCursorBelow struct{ cmd }

// RemoveCursor removes the cursor at Index. The last cursor stays.
type RemoveCursor struct {
	cmd
	Index int
}

// ClearSecondaryCursors keeps only the primary cursor.
type ClearSecondaryCursors struct{ cmd }

// Escape closes the history browser if it is open, otherwise collapses to
// the primary cursor without selection.
type Escape struct{ cmd }

type SelectAll struct{ cmd }

type SelectWord struct{ cmd }

type SelectLine struct{ cmd }

type MouseClick struct {
	cmd
	Pos buffer.Position
}

type MouseDrag struct {
	cmd
	Pos buffer.Position
}

type MouseDoubleClick struct {
	cmd
	Pos buffer.Position
}

type MouseTripleClick struct {
	cmd
	Pos buffer.Position
}

// ============================================================================
// Undo
// ============================================================================

type Undo struct{ cmd }

type Redo struct{ cmd }

// ============================================================================
// Files
// ============================================================================

// Open loads Path into the editor. A path that does not exist yet opens an
// empty buffer bound to it. Force discards unsaved changes.
type Open struct {
	cmd
	Path  string
	Force bool
}

// Save writes the buffer to its file.
type Save struct{ cmd }

// SaveAs writes the buffer to Path and binds it there.
type SaveAs struct {
	cmd
	Path string
}

// NewBuffer replaces the buffer with an empty unsaved one.
type NewBuffer struct {
	cmd
	Force bool
}

// Close closes the file, leaving an empty unsaved buffer.
type Close struct {
	cmd
	Force bool
}

// ToggleReadOnly switches the buffer between editable and view-only.
type ToggleReadOnly struct{ cmd }

// Reload rereads the file from disk.
type Reload struct {
	cmd
	Force bool
}

// RecoverFrom replaces the buffer with a recovery record's content. The
// result is unsaved.
type RecoverFrom struct {
	cmd
	Record *safety.RecoveryRecord
	Force  bool
}

// ============================================================================
// Time machine
// ============================================================================

// RestoreFile writes File as recorded in Commit back to disk. File defaults
// to the open file; relative paths are resolved against the project. When
// the open file has unsaved changes Confirm must be set.
type RestoreFile struct {
	cmd
	Commit  string
	File    string
	Confirm bool
}

// PreviewRestore returns what RestoreFile would change in Effect.Preview.
type PreviewRestore struct {
	cmd
	Commit string
	File   string
}

// CleanupHistory applies the retention policy in the background.
type CleanupHistory struct{ cmd }

// ShowHistoryStats returns history statistics in Effect.Stats.
type ShowHistoryStats struct{ cmd }

// ============================================================================
// History browser
// ============================================================================

type OpenHistoryBrowser struct{ cmd }

type CloseHistoryBrowser struct{ cmd }

type HistoryNext struct{ cmd }

type HistoryPrevious struct{ cmd }

type HistoryFirst struct{ cmd }

type HistoryLast struct{ cmd }

type HistoryPageUp struct{ cmd }

type HistoryPageDown struct{ cmd }

// HistorySelect selects row Index of the current page.
type HistorySelect struct {
	cmd
	Index int
}

type HistoryToggleFileList struct{ cmd }

// HistorySelectFile scopes the diff to Path.
type HistorySelectFile struct {
	cmd
	Path string
}

// HistoryShowDiff diffs the whole selected commit.
type HistoryShowDiff struct{ cmd }

type HistorySetBase struct{ cmd }

type HistoryClearBase struct{ cmd }

type HistorySearch struct {
	cmd
	Query string
}

type HistoryClearSearch struct{ cmd }

type HistoryFilterByFile struct {
	cmd
	Substr string
}

type HistoryClearFilter struct{ cmd }

type HistoryAnnotate struct {
	cmd
	Note string
}

type HistoryRefresh struct{ cmd }

// ============================================================================
// Background
// ============================================================================

// AutoSaveTick writes auto-save backups when they are due.
type AutoSaveTick struct{ cmd }

// ExternalChange reports that Path changed or disappeared on disk.
type ExternalChange struct {
	cmd
	Path    string
	Removed bool
}

// FromSafetyEvent converts a safety manager event into the command that
// handles it.
func FromSafetyEvent(ev safety.Event) Command {
	switch ev.Kind {
	case safety.EventExternalChange:
		return ExternalChange{Path: ev.Path}
	case safety.EventExternalRemove:
		return ExternalChange{Path: ev.Path, Removed: true}
	default:
		return AutoSaveTick{}
	}
}

// isEdit reports whether c modifies the buffer.
func isEdit(c Command) bool {
	switch c.(type) {
	case InsertText, InsertNewline, DeleteBackward, DeleteForward, DeleteLine,
		DuplicateLine, MoveLinesUp, MoveLinesDown, JoinLines, SortLines,
		ChangeCase, TransposeChars, Indent, Dedent, TrimTrailingWhitespace,
		Paste, Cut, Undo, Redo, ReplaceNext, ReplaceAll, ReplaceInSelection:
		return true
	}
	return false
}
