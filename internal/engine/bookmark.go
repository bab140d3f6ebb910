package engine

import (
	"fmt"
	"slices"

	"github.com/dshills/scribe/internal/editorerr"
	"github.com/dshills/scribe/internal/engine/buffer"
	"github.com/dshills/scribe/internal/engine/cursor"
)

// Bookmark is a marked position in the buffer. Bookmarks follow edits and
// are dropped when another file is loaded.
type Bookmark struct {
	Pos  buffer.Position
	Name string
}

func (b Bookmark) label() string {
	if b.Name != "" {
		return fmt.Sprintf("%q at line %d:%d", b.Name, b.Pos.Line+1, b.Pos.Column)
	}
	return fmt.Sprintf("at line %d:%d", b.Pos.Line+1, b.Pos.Column)
}

// shiftBookmarks moves every bookmark through a buffer change. Marks that
// land on the same position are merged, keeping a name if one has it.
func (e *EditorState) shiftBookmarks(ch buffer.Change) {
	if len(e.bookmarks) == 0 {
		return
	}
	for i := range e.bookmarks {
		e.bookmarks[i].Pos = cursor.TransformPosition(e.bookmarks[i].Pos, ch)
	}
	e.bookmarks = mergeBookmarks(e.bookmarks)
}

// mergeBookmarks sorts marks by position and merges duplicates.
func mergeBookmarks(marks []Bookmark) []Bookmark {
	slices.SortStableFunc(marks, func(a, b Bookmark) int { return a.Pos.Compare(b.Pos) })
	out := marks[:0]
	for _, m := range marks {
		if n := len(out); n > 0 && out[n-1].Pos == m.Pos {
			if out[n-1].Name == "" {
				out[n-1].Name = m.Name
			}
			continue
		}
		out = append(out, m)
	}
	return out
}

func (e *EditorState) bookmarkAt(p buffer.Position) int {
	return slices.IndexFunc(e.bookmarks, func(b Bookmark) bool { return b.Pos == p })
}

func (e *EditorState) toggleBookmark() {
	p := e.cursors.Primary().Pos
	if i := e.bookmarkAt(p); i >= 0 {
		removed := e.bookmarks[i]
		e.bookmarks = slices.Delete(e.bookmarks, i, i+1)
		e.setStatus(StatusInfo, "Bookmark removed "+removed.label())
		return
	}
	b := Bookmark{Pos: p}
	e.bookmarks = mergeBookmarks(append(e.bookmarks, b))
	e.setStatus(StatusInfo, "Bookmark added "+b.label())
}

// addNamedBookmark marks the primary cursor as name, replacing a mark at
// the same position and any other mark with that name.
func (e *EditorState) addNamedBookmark(name string) error {
	if name == "" {
		return editorerr.Newf(editorerr.KindInvalidOperation, "bookmark", "", "bookmark name is empty")
	}
	p := e.cursors.Primary().Pos
	e.bookmarks = slices.DeleteFunc(e.bookmarks, func(b Bookmark) bool {
		return b.Pos == p || b.Name == name
	})
	b := Bookmark{Pos: p, Name: name}
	e.bookmarks = mergeBookmarks(append(e.bookmarks, b))
	e.setStatus(StatusInfo, "Bookmark added "+b.label())
	return nil
}

func (e *EditorState) removeBookmark(i int) error {
	if i < 0 || i >= len(e.bookmarks) {
		return errNoBookmark(i)
	}
	removed := e.bookmarks[i]
	e.bookmarks = slices.Delete(e.bookmarks, i, i+1)
	e.setStatus(StatusInfo, "Bookmark removed "+removed.label())
	return nil
}

func (e *EditorState) jumpToBookmark(i int) error {
	if i < 0 || i >= len(e.bookmarks) {
		return errNoBookmark(i)
	}
	e.jumpTo(e.bookmarks[i], "Jumped to bookmark ")
	return nil
}

func (e *EditorState) jumpToNamedBookmark(name string) error {
	i := slices.IndexFunc(e.bookmarks, func(b Bookmark) bool { return b.Name == name })
	if i < 0 {
		return editorerr.Newf(editorerr.KindInvalidOperation, "bookmark", "", "no bookmark named %q", name)
	}
	e.jumpTo(e.bookmarks[i], "Jumped to bookmark ")
	return nil
}

// nextBookmark jumps to the first mark after (dir > 0) or before the
// primary cursor. It does not wrap.
func (e *EditorState) nextBookmark(dir int) error {
	p := e.cursors.Primary().Pos
	if dir > 0 {
		for _, b := range e.bookmarks {
			if b.Pos.After(p) {
				e.jumpTo(b, "Next bookmark ")
				return nil
			}
		}
		return editorerr.Newf(editorerr.KindInvalidOperation, "bookmark", "", "no bookmark after the cursor")
	}
	for i := len(e.bookmarks) - 1; i >= 0; i-- {
		if b := e.bookmarks[i]; b.Pos.Before(p) {
			e.jumpTo(b, "Previous bookmark ")
			return nil
		}
	}
	return editorerr.Newf(editorerr.KindInvalidOperation, "bookmark", "", "no bookmark before the cursor")
}

func (e *EditorState) jumpTo(b Bookmark, status string) {
	e.cursors.SetAll([]cursor.Cursor{e.caret(e.buf.Clamp(b.Pos))}, 0)
	e.setStatus(StatusInfo, status+b.label())
}

func (e *EditorState) clearBookmarks() {
	n := len(e.bookmarks)
	e.bookmarks = nil
	e.setStatus(StatusInfo, fmt.Sprintf("Cleared %d bookmark(s)", n))
}

func errNoBookmark(i int) error {
	return editorerr.Newf(editorerr.KindInvalidOperation, "bookmark", "", "no bookmark %d", i)
}
