package cursor

import (
	"fmt"

	"github.com/dshills/scribe/internal/engine/buffer"
)

// Position is an alias for buffer.Position for convenience.
type Position = buffer.Position

// Range is an alias for buffer.Range for convenience.
type Range = buffer.Range

// Text is the read access cursors need from a buffer.
// *buffer.Buffer satisfies it.
type Text interface {
	LineCount() int
	Line(i int) (string, error)
}

// lineOf returns line i of t, or "" when out of range.
func lineOf(t Text, i int) string {
	s, err := t.Line(i)
	if err != nil {
		return ""
	}
	return s
}

// Cursor is an insertion point with an optional selection anchor.
//
// Pos is the head: where text is inserted and where movement starts.
// VirtualCol is the display column the cursor tries to return to when moving
// vertically through shorter lines.
type Cursor struct {
	Pos        Position
	VirtualCol int
	Anchor     Position
	HasAnchor  bool
}

// New creates a cursor at pos with no selection.
func New(pos Position) Cursor {
	return Cursor{Pos: pos, VirtualCol: pos.Column}
}

// NewSelection creates a cursor selecting from anchor to head.
func NewSelection(anchor, head Position) Cursor {
	return Cursor{Pos: head, VirtualCol: head.Column, Anchor: anchor, HasAnchor: anchor != head}
}

// HasSelection returns true if the cursor selects a non-empty range.
func (c Cursor) HasSelection() bool {
	return c.HasAnchor && c.Anchor != c.Pos
}

// Selection returns the selected range, or an empty range at Pos.
func (c Cursor) Selection() Range {
	if !c.HasAnchor {
		return Range{Start: c.Pos, End: c.Pos}
	}
	return buffer.NewRange(c.Anchor, c.Pos)
}

// IsBackward returns true if the head is before the anchor.
func (c Cursor) IsBackward() bool {
	return c.HasAnchor && c.Pos.Before(c.Anchor)
}

// MoveTo moves the head to p. With extend the previous head becomes the
// anchor if there was none; without it any selection is dropped.
func (c Cursor) MoveTo(p Position, extend bool) Cursor {
	if extend {
		if !c.HasAnchor {
			c.Anchor = c.Pos
			c.HasAnchor = true
		}
	} else {
		c.HasAnchor = false
		c.Anchor = Position{}
	}
	c.Pos = p
	if c.HasAnchor && c.Anchor == c.Pos {
		c.HasAnchor = false
		c.Anchor = Position{}
	}
	return c
}

// Collapse drops the selection, keeping the head.
func (c Cursor) Collapse() Cursor {
	c.HasAnchor = false
	c.Anchor = Position{}
	return c
}

// CollapseTo drops the selection and moves the head to p.
func (c Cursor) CollapseTo(p Position) Cursor {
	return Cursor{Pos: p, VirtualCol: p.Column}
}

// String returns a human-readable representation of the cursor.
func (c Cursor) String() string {
	if c.HasSelection() {
		return fmt.Sprintf("Cursor(%s<-%s)", c.Pos, c.Anchor)
	}
	return fmt.Sprintf("Cursor(%s)", c.Pos)
}

// Compare orders cursors by selection start, then head.
func (c Cursor) Compare(other Cursor) int {
	if r := c.Selection().Start.Compare(other.Selection().Start); r != 0 {
		return r
	}
	return c.Pos.Compare(other.Pos)
}

// clamp returns c with head and anchor clamped into t.
func (c Cursor) clamp(t Text) Cursor {
	c.Pos = clampPosition(t, c.Pos)
	if c.HasAnchor {
		c.Anchor = clampPosition(t, c.Anchor)
		if c.Anchor == c.Pos {
			c.HasAnchor = false
			c.Anchor = Position{}
		}
	}
	return c
}

func clampPosition(t Text, p Position) Position {
	n := t.LineCount()
	if n == 0 {
		return Position{}
	}
	p.Line = min(max(p.Line, 0), n-1)
	p.Column = min(max(p.Column, 0), runeLen(lineOf(t, p.Line)))
	return p
}
