package engine

import (
	"fmt"

	"github.com/dshills/scribe/internal/editorerr"
	"github.com/dshills/scribe/internal/engine/buffer"
	"github.com/dshills/scribe/internal/engine/cursor"
	"github.com/dshills/scribe/internal/engine/history"
)

// matches returns the occurrences of query around the primary cursor. Large
// buffers are only searched within buffer.LargeSearchWindow lines of it.
func (e *EditorState) matches(query string) []buffer.Range {
	return e.buf.FindAll(query, e.cursors.Primary().Pos.Line)
}

// find selects the first match of query at or after the primary cursor,
// wrapping to the top.
func (e *EditorState) find(query string) {
	if query == "" {
		return
	}
	e.lastQuery = query
	e.selectMatch(query, func(ms []buffer.Range, ref buffer.Position) int {
		for i, m := range ms {
			if !m.Start.Before(ref) {
				return i
			}
		}
		return 0
	})
}

// findNext selects the next (dir > 0) or previous match of the last query,
// wrapping at either end of the buffer.
func (e *EditorState) findNext(dir int) error {
	if e.lastQuery == "" {
		return editorerr.Newf(editorerr.KindInvalidOperation, "find", "", "no search query")
	}
	e.selectMatch(e.lastQuery, func(ms []buffer.Range, ref buffer.Position) int {
		if dir > 0 {
			for i, m := range ms {
				if m.Start.After(ref) {
					return i
				}
			}
			return 0
		}
		for i := len(ms) - 1; i >= 0; i-- {
			if ms[i].Start.Before(ref) {
				return i
			}
		}
		return len(ms) - 1
	})
	return nil
}

// selectMatch collapses to one cursor selecting the match pick chooses. pick
// receives the matches and the start of the primary selection.
func (e *EditorState) selectMatch(query string, pick func([]buffer.Range, buffer.Position) int) {
	ms := e.matches(query)
	if len(ms) == 0 {
		e.setStatus(StatusInfo, fmt.Sprintf("No matches for %q", query))
		return
	}
	i := pick(ms, e.cursors.Primary().Selection().Start)
	e.cursors.SetAll([]cursor.Cursor{cursor.NewSelection(ms[i].Start, ms[i].End)}, 0)
	e.setStatus(StatusInfo, fmt.Sprintf("Match %d of %d", i+1, len(ms)))
}

// replaceNext replaces the selected match of find, or the next one after
// the primary cursor, then selects the following match.
func (e *EditorState) replaceNext(find, replace string) (Effect, error) {
	if find == "" {
		return Effect{}, nil
	}
	e.lastQuery = find

	target, ok := e.currentMatch(find)
	if !ok {
		ms := e.matches(find)
		if len(ms) == 0 {
			e.setStatus(StatusInfo, fmt.Sprintf("No matches for %q", find))
			return Effect{}, nil
		}
		ref := e.cursors.Primary().Pos
		target = ms[0]
		for _, m := range ms {
			if !m.Start.Before(ref) {
				target = m
				break
			}
		}
	}

	end := buffer.Advance(target.Start, replace)
	return e.replaceRanges("Replace", []buffer.Range{target}, replace, cursor.TransformCursor, func() {
		// The next match starts at or after the replacement.
		for _, m := range e.matches(find) {
			if !m.Start.Before(end) {
				e.cursors.SetAll([]cursor.Cursor{cursor.NewSelection(m.Start, m.End)}, 0)
				return
			}
		}
		e.cursors.SetAll([]cursor.Cursor{e.caret(end)}, 0)
		e.setStatus(StatusInfo, fmt.Sprintf("No more matches for %q", find))
	})
}

// currentMatch returns the primary selection when it is exactly an
// occurrence of find.
func (e *EditorState) currentMatch(find string) (buffer.Range, bool) {
	c := e.cursors.Primary()
	if !c.HasSelection() {
		return buffer.Range{}, false
	}
	r := c.Selection()
	text, err := e.buf.TextRange(r.Start, r.End)
	if err != nil || text != find {
		return buffer.Range{}, false
	}
	return r, true
}

// replaceAll replaces every match of find as one undo step.
func (e *EditorState) replaceAll(find, replace string) (Effect, error) {
	if find == "" {
		return Effect{}, nil
	}
	ms := e.matches(find)
	eff, err := e.replaceRanges("Replace All", ms, replace, cursor.TransformCursor, nil)
	if err == nil {
		e.setStatus(StatusInfo, fmt.Sprintf("Replaced %d occurrence(s)", len(ms)))
	}
	return eff, err
}

// replaceInSelection replaces the matches of find that lie inside a
// selection. Selections keep covering the replaced text.
func (e *EditorState) replaceInSelection(find, replace string) (Effect, error) {
	if find == "" {
		return Effect{}, nil
	}
	if !e.cursors.HasSelection() {
		e.setStatus(StatusInfo, "No selection")
		return Effect{}, nil
	}
	sels := e.cursors.Ranges()
	var inside []buffer.Range
	for _, m := range e.matches(find) {
		for _, s := range sels {
			if !m.Start.Before(s.Start) && !m.End.After(s.End) {
				inside = append(inside, m)
				break
			}
		}
	}
	eff, err := e.replaceRanges("Replace in Selection", inside, replace, keepSelection, nil)
	if err == nil {
		e.setStatus(StatusInfo, fmt.Sprintf("Replaced %d occurrence(s)", len(inside)))
	}
	return eff, err
}

// replaceRanges replaces ranges, which must be sorted and disjoint, with
// text. Every cursor is moved through each change by transform, then settle
// (if set) places the final cursors. The changes form one undo entry.
func (e *EditorState) replaceRanges(desc string, ranges []buffer.Range, text string, transform func(cursor.Cursor, buffer.Change) cursor.Cursor, settle func()) (Effect, error) {
	if len(ranges) == 0 {
		return Effect{}, nil
	}
	before := e.cursors.Clone()
	var changes []buffer.Change

	for i := len(ranges) - 1; i >= 0; i-- {
		ch, err := e.buf.Replace(ranges[i], text)
		if err != nil {
			e.rollback(changes, before)
			return Effect{}, err
		}
		if ch.IsNoOp() {
			continue
		}
		changes = append(changes, ch)
		all := e.cursors.All()
		for j, c := range all {
			all[j] = transform(c, ch)
		}
		e.cursors.SetAll(all, e.cursors.PrimaryIndex())
	}
	e.cursors.Clamp(e.buf)
	e.cursors.Normalize()
	if settle != nil {
		settle()
	}

	if len(changes) == 0 {
		return Effect{}, nil
	}
	e.history.BreakCoalescing()
	e.history.Push(history.NewEntry(desc, changes, before, e.cursors))
	e.history.BreakCoalescing()
	e.markDirty()
	return Effect{Changed: true}, nil
}

// keepSelection moves c through ch, keeping a selection start that sits at
// the change start in front of the new text.
func keepSelection(c cursor.Cursor, ch buffer.Change) cursor.Cursor {
	if !c.HasSelection() {
		return cursor.TransformCursor(c, ch)
	}
	r := c.Selection()
	start := r.Start
	if start != ch.Start {
		start = cursor.TransformPosition(start, ch)
	}
	end := cursor.TransformPosition(r.End, ch)
	if c.IsBackward() {
		return cursor.NewSelection(end, start)
	}
	return cursor.NewSelection(start, end)
}
