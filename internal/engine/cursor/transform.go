package cursor

import "github.com/dshills/scribe/internal/engine/buffer"

// TransformPosition updates a position after a change.
//
// Transformation rules:
//   - Change entirely after p: p unchanged
//   - Change entirely before p: p shifted by the change's extent
//   - Change spans p: p moves to the end of the new text
//
// An insertion exactly at p moves p after the inserted text.
func TransformPosition(p Position, c buffer.Change) Position {
	return TransformPositionSticky(p, c, false)
}

// TransformPositionSticky is like TransformPosition, but when sticky is true a
// position exactly at a pure insertion stays in front of the inserted text.
func TransformPositionSticky(p Position, c buffer.Change, sticky bool) Position {
	old := c.OldRange()
	newEnd := buffer.Advance(c.Start, c.NewText)

	if p.Before(old.Start) {
		return p
	}
	if sticky && old.IsEmpty() && p == old.Start {
		return p
	}
	if p.Before(old.End) {
		// Inside replaced text.
		return newEnd
	}
	if p.Line == old.End.Line {
		return Position{Line: newEnd.Line, Column: newEnd.Column + p.Column - old.End.Column}
	}
	return Position{Line: p.Line + newEnd.Line - old.End.Line, Column: p.Column}
}

// TransformCursor updates a cursor after a change. The anchor is sticky so
// text typed at a selection boundary does not grow the selection.
func TransformCursor(cur Cursor, c buffer.Change) Cursor {
	cur.Pos = TransformPosition(cur.Pos, c)
	if cur.HasAnchor {
		cur.Anchor = TransformPositionSticky(cur.Anchor, c, true)
		if cur.Anchor == cur.Pos {
			cur.HasAnchor = false
			cur.Anchor = Position{}
		}
	}
	return cur
}

// Transform updates every cursor after a change without merging.
func (cs *CursorSet) Transform(c buffer.Change) {
	for i, cur := range cs.cursors {
		cs.cursors[i] = TransformCursor(cur, c)
	}
}

// TransformExcept updates every cursor except index skip after a change.
// It is used during multi-cursor fan-out, where the edited cursor is placed
// explicitly.
func (cs *CursorSet) TransformExcept(skip int, c buffer.Change) {
	for i, cur := range cs.cursors {
		if i != skip {
			cs.cursors[i] = TransformCursor(cur, c)
		}
	}
}
