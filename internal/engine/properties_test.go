package engine

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/dshills/scribe/internal/engine/buffer"
	"github.com/dshills/scribe/internal/engine/cursor"
)

func textGen() *rapid.Generator[string] {
	return rapid.StringOfN(rapid.SampledFrom([]rune("ab1 \t\n(){}é")), 0, 40, -1)
}

func positionGen() *rapid.Generator[buffer.Position] {
	return rapid.Custom(func(t *rapid.T) buffer.Position {
		return buffer.Pos(rapid.IntRange(0, 6).Draw(t, "line"), rapid.IntRange(0, 12).Draw(t, "col"))
	})
}

// commandGen draws editing and cursor commands that never fail on an
// editable buffer.
func commandGen() *rapid.Generator[Command] {
	return rapid.OneOf(
		rapid.Custom(func(t *rapid.T) Command {
			return InsertText{Text: rapid.StringOfN(rapid.SampledFrom([]rune("xy é(")), 1, 3, -1).Draw(t, "text")}
		}),
		rapid.Custom(func(t *rapid.T) Command {
			return Paste{Text: textGen().Draw(t, "paste")}
		}),
		rapid.Custom(func(t *rapid.T) Command {
			return Move{
				Kind:   cursor.MoveKind(rapid.IntRange(int(cursor.MoveCharLeft), int(cursor.MoveFileEnd)).Draw(t, "kind")),
				Extend: rapid.Bool().Draw(t, "extend"),
			}
		}),
		rapid.Custom(func(t *rapid.T) Command {
			return AddCursor{Pos: positionGen().Draw(t, "pos")}
		}),
		rapid.Custom(func(t *rapid.T) Command {
			return MouseDrag{Pos: positionGen().Draw(t, "pos")}
		}),
		rapid.Custom(func(t *rapid.T) Command {
			return SortLines{Numerical: rapid.Bool().Draw(t, "numerical"), Reverse: rapid.Bool().Draw(t, "reverse")}
		}),
		rapid.Custom(func(t *rapid.T) Command {
			return ChangeCase{Case: Case(rapid.IntRange(int(CaseUpper), int(CaseTitle)).Draw(t, "case"))}
		}),
		rapid.Custom(func(t *rapid.T) Command {
			return Find{Query: rapid.StringOfN(rapid.SampledFrom([]rune("ab(")), 1, 2, -1).Draw(t, "query")}
		}),
		rapid.Custom(func(t *rapid.T) Command {
			find := rapid.StringOfN(rapid.SampledFrom([]rune("ab ")), 1, 2, -1).Draw(t, "find")
			replace := rapid.StringOfN(rapid.SampledFrom([]rune("ab\n")), 0, 3, -1).Draw(t, "replace")
			switch rapid.IntRange(0, 2).Draw(t, "replace kind") {
			case 0:
				return ReplaceNext{Find: find, Replace: replace}
			case 1:
				return ReplaceAll{Find: find, Replace: replace}
			}
			return ReplaceInSelection{Find: find, Replace: replace}
		}),
		rapid.SampledFrom([]Command{
			InsertNewline{}, DeleteBackward{}, DeleteForward{}, DeleteLine{}, DuplicateLine{},
			MoveLinesUp{}, MoveLinesDown{}, JoinLines{}, TransposeChars{}, Indent{}, Dedent{},
			TrimTrailingWhitespace{}, Cut{}, AddCursorAbove{}, AddCursorBelow{}, SelectWord{},
			SelectLine{}, Escape{}, JumpToMatchingBracket{}, ToggleBookmark{},
		}),
	)
}

func checkCursors(t *rapid.T, e *EditorState, after Command) {
	all := e.Cursors().All()
	if len(all) == 0 {
		t.Fatalf("%s: no cursors", CommandName(after))
	}
	for _, c := range all {
		if !e.buf.Valid(c.Pos) || (c.HasAnchor && !e.buf.Valid(c.Anchor)) {
			t.Fatalf("%s: cursor %v outside buffer", CommandName(after), c)
		}
	}
	for i := 1; i < len(all); i++ {
		a, b := all[i-1], all[i]
		if a.Compare(b) >= 0 {
			t.Fatalf("%s: cursors out of order: %v, %v", CommandName(after), a, b)
		}
		if a.Pos == b.Pos || a.Selection().Overlaps(b.Selection()) {
			t.Fatalf("%s: cursors %v and %v overlap", CommandName(after), a, b)
		}
	}
}

func TestEditingKeepsCursorsValid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e, err := New(WithContent(textGen().Draw(t, "content")), WithLineEnding(buffer.LineEndingLF))
		if err != nil {
			t.Fatal(err)
		}
		defer e.Close()

		cmds := rapid.SliceOfN(commandGen(), 1, 30).Draw(t, "commands")
		for _, c := range cmds {
			if _, err := e.Apply(c); err != nil {
				t.Fatalf("%s: %v", CommandName(c), err)
			}
			checkCursors(t, e, c)
		}
	})
}

func TestUndoAllRestoresOriginal(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := textGen().Draw(t, "content")
		e, err := New(WithContent(original), WithLineEnding(buffer.LineEndingLF), WithGroupTimeout(0))
		if err != nil {
			t.Fatal(err)
		}
		defer e.Close()

		for _, c := range rapid.SliceOfN(commandGen(), 1, 30).Draw(t, "commands") {
			if _, err := e.Apply(c); err != nil {
				t.Fatalf("%s: %v", CommandName(c), err)
			}
		}
		final := e.Text()

		for e.history.CanUndo() {
			if _, err := e.Apply(Undo{}); err != nil {
				t.Fatal(err)
			}
			checkCursors(t, e, Undo{})
		}
		if got := e.Text(); got != original {
			t.Fatalf("after undoing everything: got %q, want %q", got, original)
		}

		for e.history.CanRedo() {
			if _, err := e.Apply(Redo{}); err != nil {
				t.Fatal(err)
			}
			checkCursors(t, e, Redo{})
		}
		if got := e.Text(); got != final {
			t.Fatalf("after redoing everything: got %q, want %q", got, final)
		}
	})
}

func TestUndoRedoKeepsTextAndCursors(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e, err := New(WithContent(textGen().Draw(t, "content")), WithLineEnding(buffer.LineEndingLF), WithGroupTimeout(0))
		if err != nil {
			t.Fatal(err)
		}
		defer e.Close()

		for _, c := range rapid.SliceOfN(commandGen(), 1, 30).Draw(t, "commands") {
			start := e.Text()
			top, _ := e.history.PeekUndo()
			if _, err := e.Apply(c); err != nil {
				t.Fatalf("%s: %v", CommandName(c), err)
			}
			if next, ok := e.history.PeekUndo(); !ok || next.GroupID == top.GroupID {
				continue
			}

			text, cursors := e.Text(), e.Cursors()
			if _, err := e.Apply(Undo{}); err != nil {
				t.Fatalf("undo %s: %v", CommandName(c), err)
			}
			if got := e.Text(); got != start {
				t.Fatalf("undo %s: got %q, want %q", CommandName(c), got, start)
			}
			if _, err := e.Apply(Redo{}); err != nil {
				t.Fatalf("redo %s: %v", CommandName(c), err)
			}
			if got := e.Text(); got != text {
				t.Fatalf("redo %s: got %q, want %q", CommandName(c), got, text)
			}
			if got := e.Cursors(); !got.Equals(cursors) {
				t.Fatalf("redo %s: cursors %v, want %v", CommandName(c), got.All(), cursors.All())
			}
		}
	})
}
