package cursor

import (
	"slices"
	"sort"
)

// CursorSet manages multiple cursors.
//
// The set is never empty, is kept sorted by position, and after every
// operation no two cursors overlap. Exactly one cursor is primary.
type CursorSet struct {
	cursors   []Cursor
	primary   int
	lastMoved int
}

// NewCursorSet creates a cursor set with a single cursor at pos.
func NewCursorSet(pos Position) *CursorSet {
	return &CursorSet{cursors: []Cursor{New(pos)}}
}

// NewCursorSetFrom creates a cursor set from cursors, marking primary.
// The cursors are sorted and merged.
func NewCursorSetFrom(cursors []Cursor, primary int) *CursorSet {
	if len(cursors) == 0 {
		return NewCursorSet(Position{})
	}
	cs := &CursorSet{cursors: slices.Clone(cursors)}
	cs.primary = min(max(primary, 0), len(cursors)-1)
	cs.lastMoved = cs.primary
	cs.Normalize()
	return cs
}

// Primary returns the primary cursor.
func (cs *CursorSet) Primary() Cursor {
	return cs.cursors[cs.primary]
}

// PrimaryIndex returns the index of the primary cursor.
func (cs *CursorSet) PrimaryIndex() int {
	return cs.primary
}

// All returns a copy of all cursors in position order.
func (cs *CursorSet) All() []Cursor {
	return slices.Clone(cs.cursors)
}

// Count returns the number of cursors.
func (cs *CursorSet) Count() int {
	return len(cs.cursors)
}

// IsMulti returns true if there is more than one cursor.
func (cs *CursorSet) IsMulti() bool {
	return len(cs.cursors) > 1
}

// Get returns the cursor at index i. It returns false if i is out of range.
func (cs *CursorSet) Get(i int) (Cursor, bool) {
	if i < 0 || i >= len(cs.cursors) {
		return Cursor{}, false
	}
	return cs.cursors[i], true
}

// Add adds a cursor, makes it the most recently moved and merges.
func (cs *CursorSet) Add(c Cursor) {
	cs.cursors = append(cs.cursors, c)
	cs.lastMoved = len(cs.cursors) - 1
	cs.Normalize()
}

// Remove removes the cursor at index i. The last cursor cannot be removed.
// It returns false if nothing was removed.
func (cs *CursorSet) Remove(i int) bool {
	if i < 0 || i >= len(cs.cursors) || len(cs.cursors) == 1 {
		return false
	}
	cs.cursors = slices.Delete(cs.cursors, i, i+1)
	cs.primary = shiftIndex(cs.primary, i, len(cs.cursors))
	cs.lastMoved = shiftIndex(cs.lastMoved, i, len(cs.cursors))
	return true
}

func shiftIndex(idx, removed, n int) int {
	switch {
	case idx > removed:
		idx--
	case idx == removed:
		idx = min(removed, n-1)
	}
	return idx
}

// Set replaces the cursor at index i without merging.
// Call Normalize once a batch of updates is complete.
func (cs *CursorSet) Set(i int, c Cursor) {
	if i < 0 || i >= len(cs.cursors) {
		return
	}
	cs.cursors[i] = c
	cs.lastMoved = i
}

// SetAll replaces all cursors.
func (cs *CursorSet) SetAll(cursors []Cursor, primary int) {
	*cs = *NewCursorSetFrom(cursors, primary)
}

// Reset collapses the set to a single cursor at pos.
func (cs *CursorSet) Reset(pos Position) {
	*cs = CursorSet{cursors: []Cursor{New(pos)}}
}

// CollapseToPrimary removes every secondary cursor and the primary's
// selection. It is the Escape behaviour.
func (cs *CursorSet) CollapseToPrimary() {
	p := cs.Primary()
	cs.cursors = []Cursor{p.Collapse()}
	cs.primary, cs.lastMoved = 0, 0
}

// ClearSecondary removes every cursor except the primary.
func (cs *CursorSet) ClearSecondary() {
	cs.cursors = []Cursor{cs.Primary()}
	cs.primary, cs.lastMoved = 0, 0
}

// Clone returns a deep copy of the cursor set.
func (cs *CursorSet) Clone() *CursorSet {
	return &CursorSet{
		cursors:   slices.Clone(cs.cursors),
		primary:   cs.primary,
		lastMoved: cs.lastMoved,
	}
}

// Equals returns true if both sets hold the same cursors and primary.
func (cs *CursorSet) Equals(other *CursorSet) bool {
	if other == nil {
		return false
	}
	return cs.primary == other.primary && slices.Equal(cs.cursors, other.cursors)
}

// HasSelection returns true if any cursor selects text.
func (cs *CursorSet) HasSelection() bool {
	for _, c := range cs.cursors {
		if c.HasSelection() {
			return true
		}
	}
	return false
}

// Ranges returns the selection range of every cursor.
func (cs *CursorSet) Ranges() []Range {
	out := make([]Range, len(cs.cursors))
	for i, c := range cs.cursors {
		out[i] = c.Selection()
	}
	return out
}

// Descending returns cursor indices ordered by position, last first.
// Edits applied in this order never shift the positions of cursors not
// yet processed.
func (cs *CursorSet) Descending() []int {
	idx := make([]int, len(cs.cursors))
	for i := range idx {
		idx[i] = len(cs.cursors) - 1 - i
	}
	return idx
}

// Positions returns the head position of every cursor.
func (cs *CursorSet) Positions() []Position {
	out := make([]Position, len(cs.cursors))
	for i, c := range cs.cursors {
		out[i] = c.Pos
	}
	return out
}

// Clamp re-validates every cursor against t and merges.
func (cs *CursorSet) Clamp(t Text) {
	for i, c := range cs.cursors {
		cs.cursors[i] = c.clamp(t)
	}
	cs.Normalize()
}

// Normalize sorts the cursors and merges any that coincide or overlap.
// It returns the number of cursors removed.
//
// Tie-break: the cursor that sorts first survives, its selection becomes the
// union of the merged selections, and it takes the virtual column of the most
// recently moved cursor among them.
func (cs *CursorSet) Normalize() int {
	before := len(cs.cursors)
	if before <= 1 {
		return 0
	}
	primary, lastMoved := cs.primary, cs.lastMoved

	type item struct {
		c    Cursor
		orig []int
	}
	items := make([]item, len(cs.cursors))
	for i, c := range cs.cursors {
		items[i] = item{c: c, orig: []int{i}}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].c.Compare(items[j].c) < 0
	})

	merged := items[:1]
	for _, it := range items[1:] {
		last := &merged[len(merged)-1]
		if !shouldMerge(last.c, it.c) {
			merged = append(merged, it)
			continue
		}
		if slices.Contains(it.orig, lastMoved) {
			last.c.VirtualCol = it.c.VirtualCol
		}
		last.c = mergeCursors(last.c, it.c)
		last.orig = append(last.orig, it.orig...)
	}

	out := make([]Cursor, len(merged))
	for i, m := range merged {
		out[i] = m.c
		if slices.Contains(m.orig, primary) {
			cs.primary = i
		}
		if slices.Contains(m.orig, lastMoved) {
			cs.lastMoved = i
		}
	}
	cs.cursors = out
	return before - len(out)
}

// shouldMerge reports whether two cursors, a sorted before b, collide:
// equal heads, overlapping selections, or an empty cursor touching the
// other's selection.
func shouldMerge(a, b Cursor) bool {
	if a.Pos == b.Pos {
		return true
	}
	ra, rb := a.Selection(), b.Selection()
	if ra.Overlaps(rb) {
		return true
	}
	switch {
	case ra.IsEmpty():
		return inside(ra.Start, rb)
	case rb.IsEmpty():
		return inside(rb.Start, ra)
	}
	return false
}

// inside reports whether p lies in r, borders included.
func inside(p Position, r Range) bool {
	return !p.Before(r.Start) && !p.After(r.End)
}

// mergeCursors keeps a (which sorts first) and widens its selection to cover b.
func mergeCursors(a, b Cursor) Cursor {
	u := a.Selection().Union(b.Selection())
	if u.IsEmpty() {
		return a.Collapse()
	}
	out := a
	out.HasAnchor = true
	if a.IsBackward() {
		out.Pos, out.Anchor = u.Start, u.End
	} else {
		out.Pos, out.Anchor = u.End, u.Start
	}
	return out
}
