package cursor

// SelectWord returns c selecting the word at its head.
func SelectWord(t Text, c Cursor) Cursor {
	r := WordRangeAt(t, c.Pos)
	out := NewSelection(r.Start, r.End)
	out.VirtualCol = r.End.Column
	return out
}

// SelectLine returns c selecting its whole line, including the line break
// when there is a following line.
func SelectLine(t Text, c Cursor) Cursor {
	p := clampPosition(t, c.Pos)
	start := Position{Line: p.Line}
	end := Position{Line: p.Line + 1}
	if end.Line >= t.LineCount() {
		end = Position{Line: p.Line, Column: runeLen(lineOf(t, p.Line))}
	}
	return NewSelection(start, end)
}

// SelectWord selects the word under every cursor.
func (cs *CursorSet) SelectWord(t Text) {
	for i, c := range cs.cursors {
		cs.cursors[i] = SelectWord(t, c)
	}
	cs.Normalize()
}

// SelectLine selects the line under every cursor.
func (cs *CursorSet) SelectLine(t Text) {
	for i, c := range cs.cursors {
		cs.cursors[i] = SelectLine(t, c)
	}
	cs.Normalize()
}

// SelectAll collapses the set to one cursor selecting the whole buffer.
func (cs *CursorSet) SelectAll(t Text) {
	last := t.LineCount() - 1
	end := Position{Line: last, Column: runeLen(lineOf(t, last))}
	*cs = CursorSet{cursors: []Cursor{NewSelection(Position{}, end)}}
}

// Click collapses the set to a single cursor at p.
func (cs *CursorSet) Click(t Text, p Position) {
	cs.Reset(clampPosition(t, p))
}

// DragTo extends the primary selection to p, keeping its anchor.
func (cs *CursorSet) DragTo(t Text, p Position) {
	c := cs.Primary().MoveTo(clampPosition(t, p), true)
	c.VirtualCol = DisplayColumn(lineOf(t, c.Pos.Line), c.Pos.Column, 0)
	cs.cursors = []Cursor{c}
	cs.primary, cs.lastMoved = 0, 0
}

// DoubleClick collapses to one cursor selecting the word at p.
func (cs *CursorSet) DoubleClick(t Text, p Position) {
	cs.Reset(clampPosition(t, p))
	cs.cursors[0] = SelectWord(t, cs.cursors[0])
}

// TripleClick collapses to one cursor selecting the line at p.
func (cs *CursorSet) TripleClick(t Text, p Position) {
	cs.Reset(clampPosition(t, p))
	cs.cursors[0] = SelectLine(t, cs.cursors[0])
}

// AddAt adds a cursor at p and makes it primary.
func (cs *CursorSet) AddAt(t Text, p Position) {
	cs.cursors = append(cs.cursors, New(clampPosition(t, p)))
	cs.primary = len(cs.cursors) - 1
	cs.lastMoved = cs.primary
	cs.Normalize()
}

// AddCursorAbove adds a cursor one line above the topmost cursor, at the
// same virtual column. It returns false at the first line.
func (cs *CursorSet) AddCursorAbove(t Text, opts MoveOptions) bool {
	return cs.addVertical(t, cs.cursors[0], -1, opts)
}

// AddCursorBelow adds a cursor one line below the bottom cursor. It returns
// false at the last line.
func (cs *CursorSet) AddCursorBelow(t Text, opts MoveOptions) bool {
	return cs.addVertical(t, cs.cursors[len(cs.cursors)-1], 1, opts)
}

func (cs *CursorSet) addVertical(t Text, from Cursor, delta int, opts MoveOptions) bool {
	line := from.Pos.Line + delta
	if line < 0 || line >= t.LineCount() {
		return false
	}
	vcol := from.VirtualCol
	c := New(Position{Line: line, Column: ColumnForDisplay(lineOf(t, line), vcol, opts.TabWidth)})
	c.VirtualCol = vcol
	cs.cursors = append(cs.cursors, c)
	cs.primary = len(cs.cursors) - 1
	cs.lastMoved = cs.primary
	cs.Normalize()
	return true
}
