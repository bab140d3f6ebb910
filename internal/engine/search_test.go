package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/scribe/internal/editorerr"
	"github.com/dshills/scribe/internal/engine/buffer"
	"github.com/dshills/scribe/internal/engine/cursor"
)

func selection(e *EditorState) buffer.Range {
	return e.Cursors().Primary().Selection()
}

func rng(sl, sc, el, ec int) buffer.Range {
	return buffer.Range{Start: buffer.Pos(sl, sc), End: buffer.Pos(el, ec)}
}

func TestFindWraps(t *testing.T) {
	e := newEditor(t, "foo bar\nbar foo\nfoo")
	apply(t, e, GotoLine{Line: 1}, Find{Query: "foo"})
	assert.Equal(t, rng(1, 4, 1, 7), selection(e))
	assert.Equal(t, "Match 2 of 3", e.Snapshot(Viewport{}).Status.Message)

	apply(t, e, FindNext{})
	assert.Equal(t, rng(2, 0, 2, 3), selection(e))
	apply(t, e, FindNext{})
	assert.Equal(t, rng(0, 0, 0, 3), selection(e), "wraps to the top")

	apply(t, e, FindPrevious{})
	assert.Equal(t, rng(2, 0, 2, 3), selection(e), "wraps to the bottom")
	apply(t, e, FindPrevious{})
	assert.Equal(t, rng(1, 4, 1, 7), selection(e))
}

func TestFindCollapsesCursors(t *testing.T) {
	e := newEditor(t, "ab ab ab")
	apply(t, e, AddCursor{Pos: buffer.Pos(0, 7)}, Find{Query: "ab"})
	assert.Equal(t, 1, e.Cursors().Count())
	assert.Equal(t, rng(0, 0, 0, 2), selection(e))
}

func TestFindNoMatch(t *testing.T) {
	e := newEditor(t, "abc")
	apply(t, e, Move{Kind: cursor.MoveCharRight}, Find{Query: "zz"})
	assert.Equal(t, []buffer.Position{buffer.Pos(0, 1)}, positions(e))
	assert.Equal(t, `No matches for "zz"`, e.Snapshot(Viewport{}).Status.Message)
}

func TestFindNextWithoutQuery(t *testing.T) {
	e := newEditor(t, "abc")
	_, err := e.Apply(FindNext{})
	require.Error(t, err)
	assert.Equal(t, editorerr.KindInvalidOperation, editorerr.KindOf(err))
}

func TestReplaceNextSequence(t *testing.T) {
	e := newEditor(t, "cat dog cat\ncat")
	apply(t, e, ReplaceNext{Find: "cat", Replace: "cow"})
	assert.Equal(t, "cow dog cat\ncat", e.Text())
	assert.Equal(t, rng(0, 8, 0, 11), selection(e), "next match is selected")

	apply(t, e, ReplaceNext{Find: "cat", Replace: "cow"})
	assert.Equal(t, "cow dog cow\ncat", e.Text())
	apply(t, e, ReplaceNext{Find: "cat", Replace: "cow"})
	assert.Equal(t, "cow dog cow\ncow", e.Text())
	assert.Equal(t, []buffer.Position{buffer.Pos(1, 3)}, positions(e))
	assert.Equal(t, `No more matches for "cat"`, e.Snapshot(Viewport{}).Status.Message)

	apply(t, e, Undo{})
	assert.Equal(t, "cow dog cow\ncat", e.Text(), "each replace is its own undo step")
}

func TestReplaceNextSkipsInsertedText(t *testing.T) {
	e := newEditor(t, "a a")
	apply(t, e, ReplaceNext{Find: "a", Replace: "aa"})
	assert.Equal(t, "aa a", e.Text())
	assert.Equal(t, rng(0, 3, 0, 4), selection(e))
}

func TestReplaceAllIsOneUndoStep(t *testing.T) {
	e := newEditor(t, "x1 x2\nx3", WithGroupTimeout(0))
	apply(t, e, InsertText{Text: "x"})
	require.Equal(t, "xx1 x2\nx3", e.Text())

	apply(t, e, Move{Kind: cursor.MoveFileEnd}, ReplaceAll{Find: "x", Replace: "yy"})
	assert.Equal(t, "yyyy1 yy2\nyy3", e.Text())
	assert.Equal(t, "Replaced 4 occurrence(s)", e.Snapshot(Viewport{}).Status.Message)
	assert.Equal(t, []buffer.Position{buffer.Pos(1, 3)}, positions(e))

	apply(t, e, Undo{})
	assert.Equal(t, "xx1 x2\nx3", e.Text())
	apply(t, e, Redo{})
	assert.Equal(t, "yyyy1 yy2\nyy3", e.Text())
}

func TestReplaceAllNoMatchKeepsHistory(t *testing.T) {
	e := newEditor(t, "abc")
	eff := apply(t, e, ReplaceAll{Find: "z", Replace: "y"})
	assert.False(t, eff.Changed)
	assert.False(t, e.Snapshot(Viewport{}).CanUndo)
	assert.False(t, e.Metadata().Dirty)
}

func TestReplaceInSelection(t *testing.T) {
	e := newEditor(t, "a.a.a\na.a")
	apply(t, e, MouseClick{Pos: buffer.Pos(0, 2)}, MouseDrag{Pos: buffer.Pos(1, 1)})
	apply(t, e, ReplaceInSelection{Find: "a", Replace: "bb"})
	assert.Equal(t, "a.bb.bb\nbb.a", e.Text())
	assert.Equal(t, rng(0, 2, 1, 2), selection(e), "selection covers the replaced text")

	apply(t, e, Undo{})
	assert.Equal(t, "a.a.a\na.a", e.Text())
}

func TestReplaceInSelectionWithoutSelection(t *testing.T) {
	e := newEditor(t, "aaa")
	eff := apply(t, e, ReplaceInSelection{Find: "a", Replace: "b"})
	assert.False(t, eff.Changed)
	assert.Equal(t, "aaa", e.Text())
	assert.Equal(t, "No selection", e.Snapshot(Viewport{}).Status.Message)
}

func TestReplaceOnReadOnlyBuffer(t *testing.T) {
	e := newEditor(t, "aaa")
	apply(t, e, ToggleReadOnly{})
	_, err := e.Apply(ReplaceAll{Find: "a", Replace: "b"})
	require.Error(t, err)
	assert.Equal(t, "aaa", e.Text())
}

func TestSnapshotUndoLabels(t *testing.T) {
	e := newEditor(t, "one one")
	apply(t, e, ReplaceAll{Find: "one", Replace: "two"})
	s := e.Snapshot(Viewport{})
	assert.True(t, s.CanUndo)
	assert.Equal(t, "Replace All", s.UndoLabel)
	assert.Empty(t, s.RedoLabel)

	apply(t, e, Undo{})
	s = e.Snapshot(Viewport{})
	assert.False(t, s.CanUndo)
	assert.Empty(t, s.UndoLabel)
	assert.Equal(t, "Replace All", s.RedoLabel)
}
