package engine

import (
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/dshills/scribe/internal/engine/buffer"
	"github.com/dshills/scribe/internal/engine/cursor"
	"github.com/dshills/scribe/internal/engine/history"
)

// lineBlock is a run of whole lines touched by one or more cursors.
type lineBlock struct {
	start, end int
}

// claims reports whether p belongs to the block. A selection ending at
// column 0 of the following line belongs to it too.
func (b lineBlock) claims(p buffer.Position) bool {
	return (p.Line >= b.start && p.Line <= b.end) || (p.Line == b.end+1 && p.Column == 0)
}

func (b lineBlock) size() int { return b.end - b.start + 1 }

// lineBlocks returns the lines touched by the cursors, top to bottom.
// Touching or adjacent blocks are merged.
func (e *EditorState) lineBlocks() []lineBlock {
	var blocks []lineBlock
	for _, c := range e.cursors.All() {
		r := c.Selection()
		b := lineBlock{start: r.Start.Line, end: r.End.Line}
		if r.End.Line > r.Start.Line && r.End.Column == 0 {
			b.end--
		}
		if n := len(blocks); n > 0 && b.start <= blocks[n-1].end+1 {
			blocks[n-1].end = max(blocks[n-1].end, b.end)
			continue
		}
		blocks = append(blocks, b)
	}
	return blocks
}

// blockEdit replaces lines [start, end] with lines. An empty lines slice
// removes the lines together with a line break.
type blockEdit struct {
	start, end int
	lines      []string

	// remap places a cursor that sits in the edited lines. Positions are
	// in coordinates from before the edit. Unclaimed cursors follow the
	// change.
	remap func(c cursor.Cursor) (cursor.Cursor, bool)
}

// applyBlocks applies edits, ordered top to bottom and not overlapping, as
// one undo entry.
func (e *EditorState) applyBlocks(desc string, edits []blockEdit) (Effect, error) {
	before := e.cursors.Clone()
	cursors := e.cursors.All()
	placed := make([]bool, len(cursors))
	var changes []buffer.Change

	for k := len(edits) - 1; k >= 0; k-- {
		ed := edits[k]
		ch, err := e.replaceLines(ed.start, ed.end, ed.lines)
		if err != nil {
			e.rollback(changes, before)
			return Effect{}, err
		}
		if ch.IsNoOp() {
			continue
		}
		changes = append(changes, ch)

		for i, c := range cursors {
			if !placed[i] && ed.remap != nil {
				if moved, ok := ed.remap(c); ok {
					if moved.HasAnchor && moved.Anchor == moved.Pos {
						moved = moved.Collapse()
					}
					cursors[i] = moved
					placed[i] = true
					continue
				}
			}
			cursors[i] = cursor.TransformCursor(c, ch)
		}
	}
	if len(changes) == 0 {
		return Effect{}, nil
	}

	for i, c := range cursors {
		c.VirtualCol = cursor.DisplayColumn(e.line(c.Pos.Line), c.Pos.Column, e.tabWidth)
		cursors[i] = c
	}
	e.cursors.SetAll(cursors, before.PrimaryIndex())
	e.cursors.Clamp(e.buf)

	e.history.Push(history.NewEntry(desc, changes, before, e.cursors))
	e.history.BreakCoalescing()
	e.markDirty()
	return Effect{Changed: true}, nil
}

func (e *EditorState) replaceLines(start, end int, lines []string) (buffer.Change, error) {
	last := e.buf.LineCount() - 1
	if len(lines) > 0 {
		r := buffer.Range{Start: buffer.Pos(start, 0), End: buffer.Pos(end, e.buf.LineLen(end))}
		return e.buf.Replace(r, strings.Join(lines, "\n"))
	}
	var r buffer.Range
	switch {
	case end < last:
		r = buffer.Range{Start: buffer.Pos(start, 0), End: buffer.Pos(end+1, 0)}
	case start > 0:
		r = buffer.Range{Start: buffer.Pos(start-1, e.buf.LineLen(start-1)), End: buffer.Pos(end, e.buf.LineLen(end))}
	default:
		r = buffer.Range{Start: buffer.Pos(0, 0), End: buffer.Pos(end, e.buf.LineLen(end))}
	}
	return e.buf.Replace(r, "")
}

// keep claims the cursors in b and leaves them where they are. The buffer
// clamps them afterwards.
func keep(b lineBlock) func(cursor.Cursor) (cursor.Cursor, bool) {
	return func(c cursor.Cursor) (cursor.Cursor, bool) {
		return c, b.claims(c.Pos)
	}
}

// shift claims the cursors in b and moves them delta lines.
func shift(b lineBlock, delta int) func(cursor.Cursor) (cursor.Cursor, bool) {
	return func(c cursor.Cursor) (cursor.Cursor, bool) {
		if !b.claims(c.Pos) {
			return c, false
		}
		c.Pos.Line += delta
		if c.HasAnchor && b.claims(c.Anchor) {
			c.Anchor.Line += delta
		}
		return c, true
	}
}

func (e *EditorState) deleteLines() (Effect, error) {
	last := e.buf.LineCount() - 1
	var edits []blockEdit
	for _, b := range e.lineBlocks() {
		target := b.start
		if b.end >= last && b.start > 0 {
			target = b.start - 1
		}
		edits = append(edits, blockEdit{
			start: b.start,
			end:   b.end,
			remap: func(c cursor.Cursor) (cursor.Cursor, bool) {
				if !b.claims(c.Pos) {
					return c, false
				}
				return cursor.New(buffer.Pos(target, c.Pos.Column)), true
			},
		})
	}
	return e.applyBlocks("Delete Line", edits)
}

func (e *EditorState) duplicateLines() (Effect, error) {
	var edits []blockEdit
	for _, b := range e.lineBlocks() {
		lines := e.buf.Lines(b.start, b.end+1)
		edits = append(edits, blockEdit{
			start: b.start,
			end:   b.end,
			lines: append(slices.Clone(lines), lines...),
			remap: shift(b, b.size()),
		})
	}
	return e.applyBlocks("Duplicate Line", edits)
}

// moveLines swaps every block with the line above (dir < 0) or below it.
// Nothing moves when a block is already at the edge of the buffer.
func (e *EditorState) moveLines(dir int) (Effect, error) {
	blocks := e.lineBlocks()
	last := e.buf.LineCount() - 1
	if (dir < 0 && blocks[0].start == 0) || (dir > 0 && blocks[len(blocks)-1].end >= last) {
		return Effect{}, nil
	}

	var edits []blockEdit
	for _, b := range blocks {
		lines := e.buf.Lines(b.start, b.end+1)
		ed := blockEdit{remap: shift(b, dir)}
		if dir < 0 {
			ed.start, ed.end = b.start-1, b.end
			ed.lines = append(slices.Clone(lines), e.line(b.start-1))
		} else {
			ed.start, ed.end = b.start, b.end+1
			ed.lines = append([]string{e.line(b.end + 1)}, lines...)
		}
		edits = append(edits, ed)
	}
	desc := "Move Lines Down"
	if dir < 0 {
		desc = "Move Lines Up"
	}
	return e.applyBlocks(desc, edits)
}

// joinLines joins each block into one line, or a single line with the next.
// Whitespace at each joint collapses to one space and the cursor lands on
// the last joint.
func (e *EditorState) joinLines() (Effect, error) {
	last := e.buf.LineCount() - 1
	var edits []blockEdit
	for _, b := range e.lineBlocks() {
		if b.start == b.end {
			if b.end >= last {
				continue
			}
			b.end++
		}
		lines := e.buf.Lines(b.start, b.end+1)
		joined := strings.TrimRight(lines[0], " \t")
		joint := utf8.RuneCountInString(joined)
		for _, next := range lines[1:] {
			next = strings.TrimLeft(next, " \t")
			joined = strings.TrimRight(joined, " \t")
			joint = utf8.RuneCountInString(joined)
			if joined != "" && next != "" {
				joined += " "
			}
			joined += next
		}
		start := b.start
		edits = append(edits, blockEdit{
			start: b.start,
			end:   b.end,
			lines: []string{joined},
			remap: func(c cursor.Cursor) (cursor.Cursor, bool) {
				if !b.claims(c.Pos) {
					return c, false
				}
				return cursor.New(buffer.Pos(start, joint)), true
			},
		})
	}
	return e.applyBlocks("Join Lines", edits)
}

// sortLines sorts every selected block of two or more lines, or the whole
// buffer when nothing larger than a line is selected.
func (e *EditorState) sortLines(numerical, reverse bool) (Effect, error) {
	var blocks []lineBlock
	for _, b := range e.lineBlocks() {
		if b.size() > 1 {
			blocks = append(blocks, b)
		}
	}
	if len(blocks) == 0 {
		blocks = []lineBlock{{start: 0, end: e.buf.LineCount() - 1}}
	}

	compare := lexicalCompare()
	if numerical {
		compare = numericalCompare(compare)
	}

	var edits []blockEdit
	for _, b := range blocks {
		lines := slices.Clone(e.buf.Lines(b.start, b.end+1))
		slices.SortStableFunc(lines, compare)
		if reverse {
			slices.Reverse(lines)
		}
		edits = append(edits, blockEdit{start: b.start, end: b.end, lines: lines, remap: keep(b)})
	}
	return e.applyBlocks("Sort Lines", edits)
}

func lexicalCompare() func(a, b string) int {
	c := collate.New(language.Und)
	return func(a, b string) int {
		return c.CompareString(a, b)
	}
}

// numericalCompare orders lines by their leading number. Lines without one
// sort after numbered lines, ordered by fallback.
func numericalCompare(fallback func(a, b string) int) func(a, b string) int {
	return func(a, b string) int {
		na, oka := leadingNumber(a)
		nb, okb := leadingNumber(b)
		switch {
		case oka && okb:
			switch {
			case na < nb:
				return -1
			case na > nb:
				return 1
			}
			return fallback(a, b)
		case oka:
			return -1
		case okb:
			return 1
		}
		return fallback(a, b)
	}
}

// leadingNumber parses the number at the start of s, ignoring leading
// whitespace.
func leadingNumber(s string) (float64, bool) {
	s = strings.TrimLeft(s, " \t")
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := 0
	dot := false
scan:
	for end < len(s) {
		switch ch := s[end]; {
		case ch >= '0' && ch <= '9':
			digits++
		case ch == '.' && !dot:
			dot = true
		default:
			break scan
		}
		end++
	}
	if digits == 0 {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSuffix(s[:end], "."), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// trimTrailingWhitespace strips trailing spaces and tabs from every line.
func (e *EditorState) trimTrailingWhitespace() (Effect, error) {
	var edits []blockEdit
	for i, n := 0, e.buf.LineCount(); i < n; i++ {
		line := e.line(i)
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == line {
			continue
		}
		edits = append(edits, blockEdit{
			start: i,
			end:   i,
			lines: []string{trimmed},
			remap: keep(lineBlock{start: i, end: i}),
		})
	}
	return e.applyBlocks("Trim Trailing Whitespace", edits)
}

// indent adds one indent unit to every touched line. Blank lines inside a
// multi-line block are left alone.
func (e *EditorState) indent() (Effect, error) {
	var edits []blockEdit
	for _, b := range e.lineBlocks() {
		unit := e.indentUnit(e.line(b.start))
		n := utf8.RuneCountInString(unit)
		lines := slices.Clone(e.buf.Lines(b.start, b.end+1))
		added := make([]int, len(lines))
		for i, l := range lines {
			if b.size() > 1 && strings.TrimSpace(l) == "" {
				continue
			}
			lines[i] = unit + l
			added[i] = n
		}
		edits = append(edits, blockEdit{
			start: b.start,
			end:   b.end,
			lines: lines,
			remap: shiftColumns(b, added),
		})
	}
	return e.applyBlocks("Indent", edits)
}

// dedent removes one tab or up to tab-width spaces from every touched line.
func (e *EditorState) dedent() (Effect, error) {
	var edits []blockEdit
	for _, b := range e.lineBlocks() {
		lines := slices.Clone(e.buf.Lines(b.start, b.end+1))
		removed := make([]int, len(lines))
		for i, l := range lines {
			n := 0
			if strings.HasPrefix(l, "\t") {
				n = 1
			} else {
				for n < e.tabWidth && n < len(l) && l[n] == ' ' {
					n++
				}
			}
			lines[i] = l[n:]
			removed[i] = -n
		}
		edits = append(edits, blockEdit{
			start: b.start,
			end:   b.end,
			lines: lines,
			remap: shiftColumns(b, removed),
		})
	}
	return e.applyBlocks("Dedent", edits)
}

// shiftColumns claims the cursors in b and moves positions on line
// b.start+i by delta[i] columns.
func shiftColumns(b lineBlock, delta []int) func(cursor.Cursor) (cursor.Cursor, bool) {
	move := func(p buffer.Position) buffer.Position {
		i := p.Line - b.start
		if i < 0 || i >= len(delta) {
			return p
		}
		p.Column = max(p.Column+delta[i], 0)
		return p
	}
	return func(c cursor.Cursor) (cursor.Cursor, bool) {
		if !b.claims(c.Pos) {
			return c, false
		}
		c.Pos = move(c.Pos)
		if c.HasAnchor && b.claims(c.Anchor) {
			c.Anchor = move(c.Anchor)
		}
		return c, true
	}
}
