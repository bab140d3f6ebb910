package history

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dshills/scribe/internal/engine/buffer"
	"github.com/dshills/scribe/internal/engine/cursor"
)

// Entry records one undoable edit: the primitive buffer changes it made and
// the cursor state on either side of it.
type Entry struct {
	// Changes in the order they were applied to the buffer.
	Changes []buffer.Change

	CursorsBefore []cursor.Cursor
	PrimaryBefore int
	CursorsAfter  []cursor.Cursor
	PrimaryAfter  int

	// GroupID is assigned by History when the entry is pushed.
	GroupID uuid.UUID

	Description string
	Timestamp   time.Time
}

// NewEntry creates an entry capturing the cursor state before and after an
// edit.
func NewEntry(description string, changes []buffer.Change, before, after *cursor.CursorSet) *Entry {
	e := &Entry{
		Changes:     changes,
		Description: description,
		Timestamp:   time.Now(),
	}
	if before != nil {
		e.CursorsBefore = before.All()
		e.PrimaryBefore = before.PrimaryIndex()
	}
	if after != nil {
		e.CursorsAfter = after.All()
		e.PrimaryAfter = after.PrimaryIndex()
	}
	return e
}

// Size estimates the memory held by the entry.
func (e *Entry) Size() int {
	n := 96 + len(e.Description)
	for _, c := range e.Changes {
		n += c.Size()
	}
	n += (len(e.CursorsBefore) + len(e.CursorsAfter)) * 48
	return n
}

// IsEmpty returns true if the entry changes nothing.
func (e *Entry) IsEmpty() bool {
	for _, c := range e.Changes {
		if !c.IsNoOp() {
			return false
		}
	}
	return true
}

// isTyping reports whether every change inserts exactly one character that
// is not a line break.
func (e *Entry) isTyping() bool {
	if len(e.Changes) == 0 {
		return false
	}
	for _, c := range e.Changes {
		if c.OldText != "" || utf8.RuneCountInString(c.NewText) != 1 || strings.ContainsAny(c.NewText, "\r\n") {
			return false
		}
	}
	return true
}

// continues reports whether next extends the typing run ending with e: the
// same number of carets, each on the same line as before.
func (e *Entry) continues(next *Entry) bool {
	if !e.isTyping() || !next.isTyping() || len(e.Changes) != len(next.Changes) {
		return false
	}
	for i := range e.Changes {
		if e.Changes[i].Start.Line != next.Changes[i].Start.Line {
			return false
		}
	}
	return true
}

// Group is a run of entries sharing one GroupID. Undo and redo always move
// whole groups.
type Group struct {
	ID          uuid.UUID
	Description string
	Entries     []*Entry
	size        int
}

func newGroup(description string) *Group {
	return &Group{ID: uuid.New(), Description: description}
}

func (g *Group) add(e *Entry) {
	e.GroupID = g.ID
	g.Entries = append(g.Entries, e)
	g.size += e.Size()
	if g.Description == "" {
		g.Description = e.Description
	}
}

// Size returns the estimated memory held by the group.
func (g *Group) Size() int {
	return g.size
}

// Len returns the number of entries in the group.
func (g *Group) Len() int {
	return len(g.Entries)
}

func (g *Group) last() *Entry {
	if len(g.Entries) == 0 {
		return nil
	}
	return g.Entries[len(g.Entries)-1]
}

// Timestamp returns the time of the newest entry.
func (g *Group) Timestamp() time.Time {
	if e := g.last(); e != nil {
		return e.Timestamp
	}
	return time.Time{}
}

// undo reverts every entry, newest first. If an entry cannot be reverted the
// entries already reverted are reapplied and the buffer is left as it was.
func (g *Group) undo(buf *buffer.Buffer, cursors *cursor.CursorSet) error {
	for i := len(g.Entries) - 1; i >= 0; i-- {
		if err := buf.ApplyChanges(buffer.InvertAll(g.Entries[i].Changes)); err != nil {
			for j := i + 1; j < len(g.Entries); j++ {
				_ = buf.ApplyChanges(g.Entries[j].Changes)
			}
			return err
		}
	}
	first := g.Entries[0]
	restoreCursors(cursors, first.CursorsBefore, first.PrimaryBefore, buf)
	return nil
}

// redo reapplies every entry, oldest first.
func (g *Group) redo(buf *buffer.Buffer, cursors *cursor.CursorSet) error {
	for i, e := range g.Entries {
		if err := buf.ApplyChanges(e.Changes); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = buf.ApplyChanges(buffer.InvertAll(g.Entries[j].Changes))
			}
			return err
		}
	}
	last := g.last()
	restoreCursors(cursors, last.CursorsAfter, last.PrimaryAfter, buf)
	return nil
}

func restoreCursors(cursors *cursor.CursorSet, saved []cursor.Cursor, primary int, buf *buffer.Buffer) {
	if cursors == nil || len(saved) == 0 {
		return
	}
	cursors.SetAll(saved, primary)
	cursors.Clamp(buf)
}
