package history

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/scribe/internal/engine/buffer"
	"github.com/dshills/scribe/internal/engine/cursor"
)

const (
	// DefaultMaxEntries is the default number of undo groups kept.
	DefaultMaxEntries = 1000

	// DefaultMaxMemory is the default memory cap for the undo stack.
	DefaultMaxMemory = 64 << 20

	// DefaultGroupTimeout is the window in which consecutive typing is
	// coalesced into one undo step.
	DefaultGroupTimeout = 500 * time.Millisecond
)

// History manages undo/redo stacks of edit groups.
type History struct {
	mu sync.Mutex

	undoStack []*Group
	redoStack []*Group

	// Explicit grouping state
	open      *Group
	openDepth int

	maxEntries   int
	maxMemory    int
	memory       int
	groupTimeout time.Duration

	// Typing coalescing: the group the last push went into and when.
	lastGroup *Group
	lastPush  time.Time

	now func() time.Time
}

// Option configures a History.
type Option func(*History)

// WithMaxEntries caps the number of undo groups. Values below 1 mean 1.
func WithMaxEntries(n int) Option {
	return func(h *History) { h.maxEntries = max(n, 1) }
}

// WithMaxMemory caps the estimated memory of the undo stack in bytes.
// Zero disables the memory cap.
func WithMaxMemory(bytes int) Option {
	return func(h *History) { h.maxMemory = max(bytes, 0) }
}

// WithGroupTimeout sets the typing coalescing window. Zero disables
// coalescing.
func WithGroupTimeout(d time.Duration) Option {
	return func(h *History) { h.groupTimeout = d }
}

// WithClock overrides the time source used for coalescing.
func WithClock(now func() time.Time) Option {
	return func(h *History) { h.now = now }
}

// New creates a history with default caps.
func New(opts ...Option) *History {
	h := &History{
		maxEntries:   DefaultMaxEntries,
		maxMemory:    DefaultMaxMemory,
		groupTimeout: DefaultGroupTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Push records an entry that has already been applied to the buffer.
// Pushing clears the redo stack. Empty entries are ignored.
func (h *History) Push(e *Entry) {
	if e == nil || e.IsEmpty() {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.redoStack = nil
	now := h.now()
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}

	if h.open != nil {
		h.open.add(e)
		return
	}

	if g := h.coalesceTarget(e, now); g != nil {
		h.memory -= g.size
		g.add(e)
		h.memory += g.size
	} else {
		g = newGroup(e.Description)
		g.add(e)
		h.pushLocked(g)
	}
	h.lastPush = now
	h.lastGroup = h.undoStack[len(h.undoStack)-1]
	h.enforceLimitsLocked()
}

// coalesceTarget returns the group e should join, or nil to start a new one.
func (h *History) coalesceTarget(e *Entry, now time.Time) *Group {
	if h.groupTimeout <= 0 || len(h.undoStack) == 0 {
		return nil
	}
	top := h.undoStack[len(h.undoStack)-1]
	if top != h.lastGroup || now.Sub(h.lastPush) > h.groupTimeout {
		return nil
	}
	if !top.last().continues(e) {
		return nil
	}
	return top
}

func (h *History) pushLocked(g *Group) {
	h.undoStack = append(h.undoStack, g)
	h.memory += g.size
}

// enforceLimitsLocked drops whole groups from the bottom of the undo stack
// until both caps hold. The newest group is always kept.
func (h *History) enforceLimitsLocked() {
	drop := 0
	mem := h.memory
	for drop < len(h.undoStack)-1 {
		overCount := len(h.undoStack)-drop > h.maxEntries
		overMemory := h.maxMemory > 0 && mem > h.maxMemory
		if !overCount && !overMemory {
			break
		}
		mem -= h.undoStack[drop].size
		drop++
	}
	if drop == 0 {
		return
	}
	clear(h.undoStack[:drop])
	h.undoStack = h.undoStack[drop:]
	h.memory = mem
}

// Undo reverts the newest group and moves it to the redo stack. It returns
// false if there was nothing to undo. If the buffer no longer matches the
// recorded changes, the group stays on the undo stack and the error is
// returned.
func (h *History) Undo(buf *buffer.Buffer, cursors *cursor.CursorSet) (bool, error) {
	h.mu.Lock()
	if h.open != nil {
		h.closeLocked()
	}
	if len(h.undoStack) == 0 {
		h.mu.Unlock()
		return false, nil
	}
	g := h.undoStack[len(h.undoStack)-1]
	h.undoStack = h.undoStack[:len(h.undoStack)-1]
	h.memory -= g.size
	h.lastGroup = nil
	h.mu.Unlock()

	// Apply without holding the lock.
	if err := g.undo(buf, cursors); err != nil {
		h.mu.Lock()
		h.pushLocked(g)
		h.mu.Unlock()
		return false, err
	}

	h.mu.Lock()
	h.redoStack = append(h.redoStack, g)
	h.mu.Unlock()
	return true, nil
}

// Redo reapplies the most recently undone group. It returns false if there
// was nothing to redo.
func (h *History) Redo(buf *buffer.Buffer, cursors *cursor.CursorSet) (bool, error) {
	h.mu.Lock()
	if len(h.redoStack) == 0 {
		h.mu.Unlock()
		return false, nil
	}
	g := h.redoStack[len(h.redoStack)-1]
	h.redoStack = h.redoStack[:len(h.redoStack)-1]
	h.mu.Unlock()

	if err := g.redo(buf, cursors); err != nil {
		h.mu.Lock()
		h.redoStack = append(h.redoStack, g)
		h.mu.Unlock()
		return false, err
	}

	h.mu.Lock()
	h.pushLocked(g)
	h.lastGroup = nil
	h.enforceLimitsLocked()
	h.mu.Unlock()
	return true, nil
}

// BeginGroup starts an explicit group. Every entry pushed until the matching
// EndGroup is undone as one step. Calls nest; only the outermost pair
// delimits the group.
func (h *History) BeginGroup(name string) uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.openDepth++
	if h.open == nil {
		h.open = newGroup(name)
	}
	return h.open.ID
}

// EndGroup closes the current group and pushes it if it holds entries.
func (h *History) EndGroup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.open == nil {
		return
	}
	h.openDepth--
	if h.openDepth > 0 {
		return
	}
	h.closeLocked()
}

func (h *History) closeLocked() {
	g := h.open
	h.open = nil
	h.openDepth = 0
	if g.Len() == 0 {
		return
	}
	h.pushLocked(g)
	h.lastGroup = nil
	h.enforceLimitsLocked()
}

// CancelGroup discards the open group without recording it. The caller is
// responsible for reverting the buffer if needed.
func (h *History) CancelGroup() *Group {
	h.mu.Lock()
	defer h.mu.Unlock()

	g := h.open
	h.open = nil
	h.openDepth = 0
	return g
}

// IsGrouping returns true if an explicit group is open.
func (h *History) IsGrouping() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open != nil
}

// BreakCoalescing ensures the next push starts a new group.
func (h *History) BreakCoalescing() {
	h.mu.Lock()
	h.lastGroup = nil
	h.mu.Unlock()
}

// Clear removes all history.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.undoStack = nil
	h.redoStack = nil
	h.open = nil
	h.openDepth = 0
	h.memory = 0
	h.lastGroup = nil
}

// CanUndo returns true if there is a group to undo.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undoStack) > 0
}

// CanRedo returns true if there is a group to redo.
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redoStack) > 0
}

// UndoCount returns the number of groups on the undo stack.
func (h *History) UndoCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undoStack)
}

// RedoCount returns the number of groups on the redo stack.
func (h *History) RedoCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redoStack)
}

// MemoryUsage returns the estimated memory held by the undo stack.
func (h *History) MemoryUsage() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.memory
}

// SetMaxEntries changes the group cap, evicting old groups if needed.
func (h *History) SetMaxEntries(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maxEntries = max(n, 1)
	h.enforceLimitsLocked()
}

// MaxEntries returns the group cap.
func (h *History) MaxEntries() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxEntries
}

// OperationInfo describes a group without exposing its changes.
type OperationInfo struct {
	GroupID     uuid.UUID
	Description string
	Timestamp   time.Time
	Entries     int
}

func infoOf(g *Group) OperationInfo {
	return OperationInfo{
		GroupID:     g.ID,
		Description: g.Description,
		Timestamp:   g.Timestamp(),
		Entries:     g.Len(),
	}
}

// PeekUndo describes the group Undo would revert.
func (h *History) PeekUndo() (OperationInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.undoStack) == 0 {
		return OperationInfo{}, false
	}
	return infoOf(h.undoStack[len(h.undoStack)-1]), true
}

// PeekRedo describes the group Redo would reapply.
func (h *History) PeekRedo() (OperationInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.redoStack) == 0 {
		return OperationInfo{}, false
	}
	return infoOf(h.redoStack[len(h.redoStack)-1]), true
}
