package buffer

import "fmt"

// Range is a span of text between two positions.
// Start is inclusive, End is exclusive.
type Range struct {
	Start Position
	End   Position
}

// NewRange creates a normalized range from two positions in any order.
func NewRange(a, b Position) Range {
	if b.Before(a) {
		a, b = b, a
	}
	return Range{Start: a, End: b}
}

// String returns a human-readable representation of the range.
func (r Range) String() string {
	return fmt.Sprintf("[%s-%s)", r.Start, r.End)
}

// IsEmpty returns true if the range covers no text.
func (r Range) IsEmpty() bool {
	return r.Start == r.End
}

// Normalize returns the range with Start <= End.
func (r Range) Normalize() Range {
	return NewRange(r.Start, r.End)
}

// Contains returns true if p lies within [Start, End).
func (r Range) Contains(p Position) bool {
	return !p.Before(r.Start) && p.Before(r.End)
}

// Overlaps returns true if the ranges share any text.
func (r Range) Overlaps(other Range) bool {
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

// Touches returns true if the ranges overlap or are adjacent.
// An empty range touches any range that contains or borders it.
func (r Range) Touches(other Range) bool {
	return !r.Start.After(other.End) && !other.Start.After(r.End)
}

// Union returns the smallest range covering both ranges.
func (r Range) Union(other Range) Range {
	out := r
	if other.Start.Before(out.Start) {
		out.Start = other.Start
	}
	if other.End.After(out.End) {
		out.End = other.End
	}
	return out
}

// IsMultiLine returns true if the range spans more than one line.
func (r Range) IsMultiLine() bool {
	return r.Start.Line != r.End.Line
}
