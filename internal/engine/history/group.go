package history

import (
	"github.com/dshills/scribe/internal/engine/buffer"
	"github.com/dshills/scribe/internal/engine/cursor"
)

// GroupScope closes an explicit group when it goes out of scope.
//
//	scope := h.NewGroupScope("newline")
//	defer scope.End()
type GroupScope struct {
	history *History
	ended   bool
}

// NewGroupScope begins a group and returns its scope.
func (h *History) NewGroupScope(name string) *GroupScope {
	h.BeginGroup(name)
	return &GroupScope{history: h}
}

// End closes the group. Calling End more than once is a no-op.
func (s *GroupScope) End() {
	if s.ended {
		return
	}
	s.ended = true
	s.history.EndGroup()
}

// Cancel discards the group.
func (s *GroupScope) Cancel() {
	if s.ended {
		return
	}
	s.ended = true
	s.history.CancelGroup()
}

// Transaction runs fn inside a group. If fn fails, every entry it pushed is
// reverted on buf and the group is discarded.
func (h *History) Transaction(name string, buf *buffer.Buffer, cursors *cursor.CursorSet, fn func() error) error {
	h.BeginGroup(name)
	if err := fn(); err != nil {
		if g := h.CancelGroup(); g != nil && g.Len() > 0 {
			_ = g.undo(buf, cursors)
		}
		return err
	}
	h.EndGroup()
	return nil
}
