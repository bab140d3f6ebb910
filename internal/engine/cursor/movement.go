package cursor

// MoveKind selects a cursor movement.
type MoveKind uint8

const (
	MoveCharLeft MoveKind = iota
	MoveCharRight
	MoveWordLeft
	MoveWordRight
	MoveLineUp
	MoveLineDown
	MovePageUp
	MovePageDown
	MoveLineStart
	MoveLineEnd
	MoveFileStart
	MoveFileEnd
)

var moveKindNames = [...]string{
	MoveCharLeft:  "char-left",
	MoveCharRight: "char-right",
	MoveWordLeft:  "word-left",
	MoveWordRight: "word-right",
	MoveLineUp:    "line-up",
	MoveLineDown:  "line-down",
	MovePageUp:    "page-up",
	MovePageDown:  "page-down",
	MoveLineStart: "line-start",
	MoveLineEnd:   "line-end",
	MoveFileStart: "file-start",
	MoveFileEnd:   "file-end",
}

// String returns the name of the movement.
func (k MoveKind) String() string {
	if int(k) < len(moveKindNames) {
		return moveKindNames[k]
	}
	return "unknown"
}

// IsVertical returns true for movements that keep the virtual column.
func (k MoveKind) IsVertical() bool {
	switch k {
	case MoveLineUp, MoveLineDown, MovePageUp, MovePageDown:
		return true
	}
	return false
}

// MoveOptions configures movement.
type MoveOptions struct {
	PageSize int // Lines per page; 0 means 20
	TabWidth int // Display width of a tab stop; 0 means DefaultTabWidth
}

func (o MoveOptions) pageSize() int {
	if o.PageSize <= 0 {
		return 20
	}
	return o.PageSize
}

// MoveCursor applies one movement to c. Movement past either end of the
// buffer clamps.
func MoveCursor(t Text, c Cursor, kind MoveKind, extend bool, opts MoveOptions) Cursor {
	c = c.clamp(t)

	// Horizontal moves without extend collapse an existing selection.
	if !extend && c.HasSelection() {
		switch kind {
		case MoveCharLeft:
			return withVirtualCol(t, c.CollapseTo(c.Selection().Start), opts)
		case MoveCharRight:
			return withVirtualCol(t, c.CollapseTo(c.Selection().End), opts)
		}
	}

	if kind.IsVertical() {
		delta := 1
		if kind == MovePageUp || kind == MovePageDown {
			delta = opts.pageSize()
		}
		if kind == MoveLineUp || kind == MovePageUp {
			delta = -delta
		}
		target := min(max(c.Pos.Line+delta, 0), t.LineCount()-1)
		line := lineOf(t, target)
		vcol := c.VirtualCol
		moved := c.MoveTo(Position{Line: target, Column: ColumnForDisplay(line, vcol, opts.TabWidth)}, extend)
		moved.VirtualCol = vcol
		return moved
	}

	var p Position
	line := lineOf(t, c.Pos.Line)
	switch kind {
	case MoveCharLeft:
		switch {
		case c.Pos.Column > 0:
			p = Position{Line: c.Pos.Line, Column: PrevGrapheme(line, c.Pos.Column)}
		case c.Pos.Line > 0:
			p = Position{Line: c.Pos.Line - 1, Column: runeLen(lineOf(t, c.Pos.Line-1))}
		default:
			p = c.Pos
		}
	case MoveCharRight:
		switch {
		case c.Pos.Column < runeLen(line):
			p = Position{Line: c.Pos.Line, Column: NextGrapheme(line, c.Pos.Column)}
		case c.Pos.Line < t.LineCount()-1:
			p = Position{Line: c.Pos.Line + 1}
		default:
			p = c.Pos
		}
	case MoveWordLeft:
		p = PrevWordStart(t, c.Pos)
	case MoveWordRight:
		p = NextWordStart(t, c.Pos)
	case MoveLineStart:
		p = smartLineStart(line, c.Pos)
	case MoveLineEnd:
		p = Position{Line: c.Pos.Line, Column: runeLen(line)}
	case MoveFileStart:
		p = Position{}
	case MoveFileEnd:
		last := t.LineCount() - 1
		p = Position{Line: last, Column: runeLen(lineOf(t, last))}
	default:
		p = c.Pos
	}
	return withVirtualCol(t, c.MoveTo(p, extend), opts)
}

// smartLineStart toggles between the first non-blank column and column 0.
func smartLineStart(line string, p Position) Position {
	first := 0
	for _, r := range line {
		if r != ' ' && r != '\t' {
			break
		}
		first++
	}
	if first == runeLen(line) || p.Column == first {
		first = 0
	}
	return Position{Line: p.Line, Column: first}
}

func withVirtualCol(t Text, c Cursor, opts MoveOptions) Cursor {
	c.VirtualCol = DisplayColumn(lineOf(t, c.Pos.Line), c.Pos.Column, opts.TabWidth)
	return c
}

// Move applies a movement to every cursor and merges the result.
func (cs *CursorSet) Move(t Text, kind MoveKind, extend bool, opts MoveOptions) {
	for i, c := range cs.cursors {
		cs.cursors[i] = MoveCursor(t, c, kind, extend, opts)
	}
	cs.lastMoved = cs.primary
	cs.Normalize()
}

// GotoLine collapses the set to a single cursor at the start of line,
// clamped to the buffer.
func (cs *CursorSet) GotoLine(t Text, line int) {
	p := clampPosition(t, Position{Line: line})
	cs.Reset(p)
}
