package engine

import (
	"strings"
	"unicode/utf8"

	"github.com/rivo/uniseg"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dshills/scribe/internal/engine/buffer"
	"github.com/dshills/scribe/internal/engine/cursor"
	"github.com/dshills/scribe/internal/engine/history"
)

// cursorEdit is the replacement made for one cursor.
type cursorEdit struct {
	r    buffer.Range
	text string
	// place returns the cursor after the edit. Nil leaves a caret after the
	// new text.
	place func(ch buffer.Change) cursor.Cursor
}

// fanOut applies one edit per cursor and records them as a single undo
// entry. Cursors are visited last first, so an edit never shifts a cursor
// that has not been visited yet; visited cursors are transformed through
// every later change. edit returns false to leave a cursor alone.
func (e *EditorState) fanOut(desc string, edit func(i int, c cursor.Cursor) (cursorEdit, bool)) (Effect, error) {
	before := e.cursors.Clone()
	var changes []buffer.Change

	for _, i := range e.cursors.Descending() {
		c, _ := e.cursors.Get(i)
		ed, ok := edit(i, c)
		if !ok {
			continue
		}
		ch, err := e.buf.Replace(ed.r, ed.text)
		if err != nil {
			e.rollback(changes, before)
			return Effect{}, err
		}
		if ch.IsNoOp() {
			continue
		}
		changes = append(changes, ch)

		e.cursors.TransformExcept(i, ch)
		placed := e.caret(buffer.Advance(ch.Start, ch.NewText))
		if ed.place != nil {
			placed = ed.place(ch)
		}
		e.cursors.Set(i, placed)
	}
	e.cursors.Clamp(e.buf)

	if len(changes) == 0 {
		return Effect{}, nil
	}
	e.history.Push(history.NewEntry(desc, changes, before, e.cursors))
	e.markDirty()
	return Effect{Changed: true}, nil
}

// rollback reverts changes made by a failed command.
func (e *EditorState) rollback(changes []buffer.Change, before *cursor.CursorSet) {
	if err := e.buf.ApplyChanges(buffer.InvertAll(changes)); err != nil {
		e.log.Error("rollback failed", zap.Error(err))
	}
	e.cursors.SetAll(before.All(), before.PrimaryIndex())
}

func (e *EditorState) line(i int) string {
	s, _ := e.buf.Line(i)
	return s
}

// caret returns a cursor at p remembering its display column.
func (e *EditorState) caret(p buffer.Position) cursor.Cursor {
	c := cursor.New(p)
	c.VirtualCol = cursor.DisplayColumn(e.line(p.Line), p.Column, e.tabWidth)
	return c
}

func (e *EditorState) insertText(text string) (Effect, error) {
	if text == "" {
		return Effect{}, nil
	}
	overwrite := e.overwrite && !strings.ContainsAny(text, "\r\n")
	width := uniseg.GraphemeClusterCount(text)

	return e.fanOut("Insert", func(_ int, c cursor.Cursor) (cursorEdit, bool) {
		r := c.Selection()
		if overwrite && !c.HasSelection() {
			line := e.line(c.Pos.Line)
			end := c.Pos.Column
			for n := 0; n < width; n++ {
				end = cursor.NextGrapheme(line, end)
			}
			r.End = buffer.Pos(c.Pos.Line, end)
		}
		return cursorEdit{r: r, text: text}, true
	})
}

// insertNewline splits the line at every cursor, then indents the new
// lines. Both steps form one undo group.
func (e *EditorState) insertNewline() (Effect, error) {
	var eff Effect
	err := e.history.Transaction("Newline", e.buf, e.cursors, func() error {
		var err error
		eff, err = e.fanOut("Newline", func(_ int, c cursor.Cursor) (cursorEdit, bool) {
			return cursorEdit{r: c.Selection(), text: "\n"}, true
		})
		if err != nil {
			return err
		}
		_, err = e.fanOut("Indent", func(_ int, c cursor.Cursor) (cursorEdit, bool) {
			if c.Pos.Line == 0 {
				return cursorEdit{}, false
			}
			indent := e.autoIndent(c.Pos.Line - 1)
			if indent == "" {
				return cursorEdit{}, false
			}
			return cursorEdit{r: buffer.Range{Start: c.Pos, End: c.Pos}, text: indent}, true
		})
		return err
	})
	return eff, err
}

// autoIndent returns the indentation for a line following line i: the same
// leading whitespace, one unit deeper after an opening bracket.
func (e *EditorState) autoIndent(i int) string {
	line := e.line(i)
	indent := leadingWhitespace(line)
	trimmed := strings.TrimRight(line, " \t")
	if trimmed != "" && strings.ContainsRune("{([", rune(trimmed[len(trimmed)-1])) {
		indent += e.indentUnit(line)
	}
	return indent
}

// indentUnit is a tab when sample is tab-indented, otherwise tab-width
// spaces.
func (e *EditorState) indentUnit(sample string) string {
	if strings.HasPrefix(sample, "\t") {
		return "\t"
	}
	return strings.Repeat(" ", e.tabWidth)
}

func leadingWhitespace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

func (e *EditorState) deleteBackward() (Effect, error) {
	return e.fanOut("Delete", func(_ int, c cursor.Cursor) (cursorEdit, bool) {
		if c.HasSelection() {
			return cursorEdit{r: c.Selection()}, true
		}
		p := c.Pos
		switch {
		case p.Column > 0:
			start := cursor.PrevGrapheme(e.line(p.Line), p.Column)
			return cursorEdit{r: buffer.Range{Start: buffer.Pos(p.Line, start), End: p}}, true
		case p.Line > 0:
			prev := p.Line - 1
			return cursorEdit{r: buffer.Range{Start: buffer.Pos(prev, e.buf.LineLen(prev)), End: p}}, true
		}
		return cursorEdit{}, false
	})
}

func (e *EditorState) deleteForward() (Effect, error) {
	last := e.buf.LineCount() - 1
	return e.fanOut("Delete", func(_ int, c cursor.Cursor) (cursorEdit, bool) {
		if c.HasSelection() {
			return cursorEdit{r: c.Selection()}, true
		}
		p := c.Pos
		line := e.line(p.Line)
		switch {
		case p.Column < utf8.RuneCountInString(line):
			end := cursor.NextGrapheme(line, p.Column)
			return cursorEdit{r: buffer.Range{Start: p, End: buffer.Pos(p.Line, end)}}, true
		case p.Line < last:
			return cursorEdit{r: buffer.Range{Start: p, End: buffer.Pos(p.Line+1, 0)}}, true
		}
		return cursorEdit{}, false
	})
}

// paste inserts text at every cursor. With one line per cursor each cursor
// gets its own line, in cursor order.
func (e *EditorState) paste(text string) (Effect, error) {
	if text == "" {
		return Effect{}, nil
	}
	norm := strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\r", "\n")
	lines := strings.Split(strings.TrimSuffix(norm, "\n"), "\n")
	perCursor := e.cursors.IsMulti() && len(lines) == e.cursors.Count()

	e.history.BreakCoalescing()
	defer e.history.BreakCoalescing()
	return e.fanOut("Paste", func(i int, c cursor.Cursor) (cursorEdit, bool) {
		if perCursor {
			return cursorEdit{r: c.Selection(), text: lines[i]}, true
		}
		return cursorEdit{r: c.Selection(), text: norm}, true
	})
}

// selectionText returns the selected text of every cursor, one per line.
func (e *EditorState) selectionText() string {
	var parts []string
	for _, c := range e.cursors.All() {
		if !c.HasSelection() {
			continue
		}
		r := c.Selection()
		s, err := e.buf.TextRange(r.Start, r.End)
		if err != nil {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}

// touchedLinesText returns every line touched by a cursor, each with its
// line break.
func (e *EditorState) touchedLinesText() string {
	var sb strings.Builder
	for _, b := range e.lineBlocks() {
		for _, l := range e.buf.Lines(b.start, b.end+1) {
			sb.WriteString(l)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func (e *EditorState) copy() Effect {
	text := e.touchedLinesText()
	if e.cursors.HasSelection() {
		text = e.selectionText()
	}
	return Effect{Clipboard: text, HasClipboard: true}
}

func (e *EditorState) cut() (Effect, error) {
	clip := e.copy()
	var (
		eff Effect
		err error
	)
	if e.cursors.HasSelection() {
		eff, err = e.fanOut("Cut", func(_ int, c cursor.Cursor) (cursorEdit, bool) {
			if !c.HasSelection() {
				return cursorEdit{}, false
			}
			return cursorEdit{r: c.Selection()}, true
		})
	} else {
		eff, err = e.deleteLines()
	}
	if err != nil {
		return Effect{}, err
	}
	eff.Clipboard, eff.HasClipboard = clip.Clipboard, true
	return eff, nil
}

// transposeChars swaps the graphemes on either side of each caret. At the
// end of a line the last two are swapped.
func (e *EditorState) transposeChars() (Effect, error) {
	return e.fanOut("Transpose", func(_ int, c cursor.Cursor) (cursorEdit, bool) {
		if c.HasSelection() || c.Pos.Column == 0 {
			return cursorEdit{}, false
		}
		line := e.line(c.Pos.Line)
		runes := []rune(line)
		mid := c.Pos.Column
		if mid >= len(runes) {
			mid = cursor.PrevGrapheme(line, len(runes))
		}
		start := cursor.PrevGrapheme(line, mid)
		end := cursor.NextGrapheme(line, mid)
		if start == mid || end == mid {
			return cursorEdit{}, false
		}
		text := string(runes[mid:end]) + string(runes[start:mid])
		r := buffer.Range{Start: buffer.Pos(c.Pos.Line, start), End: buffer.Pos(c.Pos.Line, end)}
		return cursorEdit{r: r, text: text}, true
	})
}

func caserFor(k Case) cases.Caser {
	switch k {
	case CaseLower:
		return cases.Lower(language.Und)
	case CaseTitle:
		return cases.Title(language.Und)
	default:
		return cases.Upper(language.Und)
	}
}

// changeCase converts each selection, or the word under each caret. The
// selection is kept around the converted text.
func (e *EditorState) changeCase(k Case) (Effect, error) {
	return e.fanOut("Change Case", func(_ int, c cursor.Cursor) (cursorEdit, bool) {
		r := c.Selection()
		if r.IsEmpty() {
			r = cursor.WordRangeAt(e.buf, c.Pos)
		}
		if r.IsEmpty() {
			return cursorEdit{}, false
		}
		text, err := e.buf.TextRange(r.Start, r.End)
		if err != nil {
			return cursorEdit{}, false
		}
		ed := cursorEdit{r: r, text: caserFor(k).String(text)}
		ed.place = func(ch buffer.Change) cursor.Cursor {
			end := buffer.Advance(ch.Start, ch.NewText)
			switch {
			case !c.HasSelection():
				if c.Pos.After(end) {
					return e.caret(end)
				}
				return e.caret(c.Pos)
			case c.IsBackward():
				return cursor.NewSelection(end, ch.Start)
			default:
				return cursor.NewSelection(ch.Start, end)
			}
		}
		return ed, true
	})
}

// jumpToBracket moves every caret on a bracket to its partner.
func (e *EditorState) jumpToBracket() {
	matched := false
	for i, c := range e.cursors.All() {
		m, err := cursor.MatchBracket(e.buf, c.Pos)
		if err != nil {
			continue
		}
		e.cursors.Set(i, e.caret(m))
		matched = true
	}
	e.cursors.Normalize()
	if !matched {
		e.setStatus(StatusInfo, "No matching bracket")
	}
}

func (e *EditorState) undo() (Effect, error) {
	ok, err := e.history.Undo(e.buf, e.cursors)
	if err != nil {
		return Effect{}, err
	}
	if !ok {
		e.setStatus(StatusInfo, "Nothing to undo")
		return Effect{}, nil
	}
	e.markDirty()
	return Effect{Changed: true}, nil
}

func (e *EditorState) redo() (Effect, error) {
	ok, err := e.history.Redo(e.buf, e.cursors)
	if err != nil {
		return Effect{}, err
	}
	if !ok {
		e.setStatus(StatusInfo, "Nothing to redo")
		return Effect{}, nil
	}
	e.markDirty()
	return Effect{Changed: true}, nil
}
