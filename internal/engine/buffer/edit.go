package buffer

import "fmt"

// ChangeType categorizes the type of change made to the buffer.
type ChangeType uint8

const (
	ChangeInsert  ChangeType = iota // Text was inserted
	ChangeDelete                    // Text was deleted
	ChangeReplace                   // Text was replaced
)

// String returns a string representation of the change type.
func (c ChangeType) String() string {
	switch c {
	case ChangeInsert:
		return "insert"
	case ChangeDelete:
		return "delete"
	case ChangeReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Change is a minimal, reversible record of one primitive edit:
// OldText at Start was replaced by NewText.
// Both texts use "\n" separators.
type Change struct {
	Start   Position
	OldText string
	NewText string
}

// Type classifies the change.
func (c Change) Type() ChangeType {
	switch {
	case c.OldText == "":
		return ChangeInsert
	case c.NewText == "":
		return ChangeDelete
	default:
		return ChangeReplace
	}
}

// OldRange returns the range the change replaced.
func (c Change) OldRange() Range {
	return Range{Start: c.Start, End: Advance(c.Start, c.OldText)}
}

// NewRange returns the range the change produced.
func (c Change) NewRange() Range {
	return Range{Start: c.Start, End: Advance(c.Start, c.NewText)}
}

// Invert returns the change that undoes c.
func (c Change) Invert() Change {
	return Change{Start: c.Start, OldText: c.NewText, NewText: c.OldText}
}

// IsNoOp returns true if the change does nothing.
func (c Change) IsNoOp() bool {
	return c.OldText == c.NewText
}

// Size estimates the memory held by the change.
func (c Change) Size() int {
	return len(c.OldText) + len(c.NewText) + 32
}

// String returns a human-readable representation of the change.
func (c Change) String() string {
	switch c.Type() {
	case ChangeInsert:
		return fmt.Sprintf("Insert(%s, %q)", c.Start, c.NewText)
	case ChangeDelete:
		return fmt.Sprintf("Delete(%s, %q)", c.Start, c.OldText)
	default:
		return fmt.Sprintf("Replace(%s, %q with %q)", c.Start, c.OldText, c.NewText)
	}
}

// InvertAll returns the inverses of changes in reverse order.
func InvertAll(changes []Change) []Change {
	out := make([]Change, len(changes))
	for i, c := range changes {
		out[len(changes)-1-i] = c.Invert()
	}
	return out
}
