package buffer

import (
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dshills/scribe/internal/editorerr"
)

// Buffer is a thread-safe text buffer stored as a sequence of lines.
//
// Lines never contain line terminators. The on-disk line ending, UTF-8 BOM
// and final newline are remembered separately and reproduced by WriteTo.
type Buffer struct {
	mu sync.RWMutex

	lines []string

	lineEnding      LineEnding
	lineEndingSet   bool
	bom             bool
	trailingNewline bool
	large           bool
	largeThreshold  int64

	revision RevisionID

	onChange []func(Change)
}

// New creates an empty buffer with one empty line.
func New(opts ...Option) *Buffer {
	b := &Buffer{
		lines:          []string{""},
		lineEnding:     PlatformLineEnding(),
		largeThreshold: DefaultLargeFileThreshold,
		revision:       NewRevisionID(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewFromString creates a buffer holding text.
// The line ending is detected from text unless WithLineEnding is given.
func NewFromString(text string, opts ...Option) (*Buffer, error) {
	if !utf8.ValidString(text) {
		off := invalidUTF8Offset([]byte(text))
		return nil, editorerr.Newf(editorerr.KindInvalidUTF8, "new buffer", "", "invalid byte at offset %d", off)
	}

	b := New(opts...)
	if !b.lineEndingSet {
		b.lineEnding = DetectLineEnding(text)
	}
	if rest, ok := strings.CutPrefix(text, bomString); ok {
		b.bom = true
		text = rest
	}

	text = normalizeLineEndings(text)
	lines := strings.Split(text, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		b.trailingNewline = true
		lines = lines[:len(lines)-1]
	}
	b.lines = lines
	b.large = int64(len(text)) >= b.largeThreshold
	return b, nil
}

// LineCount returns the number of lines. It is always at least 1.
func (b *Buffer) LineCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

// Line returns the text of line i without its terminator.
func (b *Buffer) Line(i int) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i < 0 || i >= len(b.lines) {
		return "", editorerr.Newf(editorerr.KindOutOfBounds, "line", "", "line %d outside buffer (%d lines)", i, len(b.lines))
	}
	return b.lines[i], nil
}

// LineLen returns the length of line i in runes, or 0 if i is out of range.
func (b *Buffer) LineLen(i int) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i < 0 || i >= len(b.lines) {
		return 0
	}
	return utf8.RuneCountInString(b.lines[i])
}

// Lines returns a copy of lines [start, end), clamped to the buffer.
func (b *Buffer) Lines(start, end int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	start = max(start, 0)
	end = min(end, len(b.lines))
	if start >= end {
		return nil
	}
	return slices.Clone(b.lines[start:end])
}

// String returns the buffer content with "\n" separators.
// The on-disk form is produced by Bytes or WriteTo.
func (b *Buffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return strings.Join(b.lines, "\n")
}

// Insert inserts text at pos and returns the position just after it.
// Any line endings in text are normalized.
func (b *Buffer) Insert(pos Position, text string) (Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkPosition("insert", pos); err != nil {
		return pos, err
	}
	if !utf8.ValidString(text) {
		return pos, editorerr.Newf(editorerr.KindInvalidUTF8, "insert", "", "invalid byte at offset %d", invalidUTF8Offset([]byte(text)))
	}
	text = normalizeLineEndings(text)
	if text == "" {
		return pos, nil
	}

	end := b.insertLocked(pos, text)
	b.changed(Change{Start: pos, NewText: text})
	return end, nil
}

// Delete removes the text in r and returns it.
func (b *Buffer) Delete(r Range) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r = r.Normalize()
	if err := b.checkRange("delete", r); err != nil {
		return "", err
	}
	if r.IsEmpty() {
		return "", nil
	}

	removed := b.textLocked(r)
	b.deleteLocked(r)
	b.changed(Change{Start: r.Start, OldText: removed})
	return removed, nil
}

// Replace replaces the text in r with text and returns the applied change.
func (b *Buffer) Replace(r Range, text string) (Change, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r = r.Normalize()
	if err := b.checkRange("replace", r); err != nil {
		return Change{}, err
	}
	if !utf8.ValidString(text) {
		return Change{}, editorerr.Newf(editorerr.KindInvalidUTF8, "replace", "", "invalid byte at offset %d", invalidUTF8Offset([]byte(text)))
	}
	text = normalizeLineEndings(text)

	c := Change{Start: r.Start, OldText: b.textLocked(r), NewText: text}
	if c.IsNoOp() {
		return c, nil
	}
	b.replaceLocked(r, text)
	b.changed(c)
	return c, nil
}

// ApplyChange replays a recorded change. The text currently at the change's
// old range must equal c.OldText.
func (b *Buffer) ApplyChange(c Change) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := c.OldRange()
	if err := b.checkRange("apply change", r); err != nil {
		return err
	}
	if got := b.textLocked(r); got != c.OldText {
		return editorerr.Newf(editorerr.KindInvalidOperation, "apply change", "", "text at %s is %q, expected %q", r, got, c.OldText)
	}
	if c.IsNoOp() {
		return nil
	}
	b.replaceLocked(r, c.NewText)
	b.changed(c)
	return nil
}

// ApplyChanges replays changes in order, stopping at the first failure.
// Changes applied before the failure are rolled back.
func (b *Buffer) ApplyChanges(changes []Change) error {
	for i, c := range changes {
		if err := b.ApplyChange(c); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = b.ApplyChange(changes[j].Invert())
			}
			return err
		}
	}
	return nil
}

// TextRange returns the text between two positions.
func (b *Buffer) TextRange(start, end Position) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r := NewRange(start, end)
	if err := b.checkRange("text range", r); err != nil {
		return "", err
	}
	return b.textLocked(r), nil
}

// Clamp returns the nearest valid position to p.
func (b *Buffer) Clamp(p Position) Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.clampLocked(p)
}

// Valid reports whether p addresses the buffer.
func (b *Buffer) Valid(p Position) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.checkPosition("", p) == nil
}

// EndPosition returns the position after the last character.
func (b *Buffer) EndPosition() Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	last := len(b.lines) - 1
	return Position{Line: last, Column: utf8.RuneCountInString(b.lines[last])}
}

// OffsetOf converts a position to a rune offset from the start of the buffer.
// Line separators count as one rune.
func (b *Buffer) OffsetOf(p Position) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p = b.clampLocked(p)
	off := 0
	for i := 0; i < p.Line; i++ {
		off += utf8.RuneCountInString(b.lines[i]) + 1
	}
	return off + p.Column
}

// PositionAt converts a rune offset to a position, clamped to the buffer.
func (b *Buffer) PositionAt(offset int) Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if offset <= 0 {
		return Position{}
	}
	for i, line := range b.lines {
		n := utf8.RuneCountInString(line)
		if offset <= n {
			return Position{Line: i, Column: offset}
		}
		offset -= n + 1
	}
	last := len(b.lines) - 1
	return Position{Line: last, Column: utf8.RuneCountInString(b.lines[last])}
}

// FindAll returns the ranges of every non-overlapping occurrence of needle.
// Matches do not span lines. Large buffers are only scanned within
// LargeSearchWindow lines of anchorLine.
func (b *Buffer) FindAll(needle string, anchorLine int) []Range {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if needle == "" || strings.ContainsRune(needle, '\n') {
		return nil
	}

	from, to := 0, len(b.lines)
	if b.large {
		from = max(anchorLine-LargeSearchWindow, 0)
		to = min(anchorLine+LargeSearchWindow, len(b.lines))
	}

	var out []Range
	width := utf8.RuneCountInString(needle)
	for i := from; i < to; i++ {
		line := b.lines[i]
		byteOff := 0
		for {
			idx := strings.Index(line[byteOff:], needle)
			if idx < 0 {
				break
			}
			col := utf8.RuneCountInString(line[:byteOff+idx])
			out = append(out, Range{Start: Pos(i, col), End: Pos(i, col+width)})
			byteOff += idx + len(needle)
		}
	}
	return out
}

// DetectLineEnding returns the line ending detected at load, or the one set
// explicitly.
func (b *Buffer) DetectLineEnding() LineEnding {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lineEnding
}

// SetLineEnding changes the line ending used on save.
func (b *Buffer) SetLineEnding(le LineEnding) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lineEnding = le
	b.lineEndingSet = true
}

// ValidateUTF8 checks every line for valid UTF-8.
func (b *Buffer) ValidateUTF8() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i, line := range b.lines {
		if !utf8.ValidString(line) {
			return editorerr.Newf(editorerr.KindInvalidUTF8, "validate", "", "line %d", i)
		}
	}
	return nil
}

// HasBOM reports whether the content started with a UTF-8 byte order mark.
func (b *Buffer) HasBOM() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bom
}

// HasTrailingNewline reports whether the content ends with a line terminator.
func (b *Buffer) HasTrailingNewline() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.trailingNewline
}

// SetTrailingNewline sets whether a final line terminator is written on save.
func (b *Buffer) SetTrailingNewline(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trailingNewline = v
}

// IsLarge reports whether the buffer uses large-file strategies.
func (b *Buffer) IsLarge() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.large
}

// Revision returns the current revision ID.
func (b *Buffer) Revision() RevisionID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.revision
}

// Snapshot returns a read-only copy of the current content.
func (b *Buffer) Snapshot() *Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return &Snapshot{
		lines:      slices.Clone(b.lines),
		lineEnding: b.lineEnding,
		revision:   b.revision,
	}
}

// OnChange registers fn to run after every content change, including
// replayed ones. fn runs with the buffer locked and must not call back into
// the buffer.
func (b *Buffer) OnChange(fn func(Change)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = append(b.onChange, fn)
}

// changed bumps the revision and notifies listeners. b.mu must be held.
func (b *Buffer) changed(c Change) {
	b.revision = NewRevisionID()
	for _, fn := range b.onChange {
		fn(c)
	}
}

func (b *Buffer) checkPosition(op string, p Position) error {
	if p.Line < 0 || p.Line >= len(b.lines) {
		return editorerr.Newf(editorerr.KindOutOfBounds, op, "", "position %s outside buffer (%d lines)", p, len(b.lines))
	}
	if n := utf8.RuneCountInString(b.lines[p.Line]); p.Column < 0 || p.Column > n {
		return editorerr.Newf(editorerr.KindOutOfBounds, op, "", "position %s outside line of length %d", p, n)
	}
	return nil
}

func (b *Buffer) checkRange(op string, r Range) error {
	if err := b.checkPosition(op, r.Start); err != nil {
		return err
	}
	return b.checkPosition(op, r.End)
}

func (b *Buffer) clampLocked(p Position) Position {
	p.Line = min(max(p.Line, 0), len(b.lines)-1)
	p.Column = min(max(p.Column, 0), utf8.RuneCountInString(b.lines[p.Line]))
	return p
}

func (b *Buffer) textLocked(r Range) string {
	if r.Start.Line == r.End.Line {
		line := b.lines[r.Start.Line]
		return line[byteIndex(line, r.Start.Column):byteIndex(line, r.End.Column)]
	}

	var sb strings.Builder
	first := b.lines[r.Start.Line]
	sb.WriteString(first[byteIndex(first, r.Start.Column):])
	for i := r.Start.Line + 1; i < r.End.Line; i++ {
		sb.WriteByte('\n')
		sb.WriteString(b.lines[i])
	}
	last := b.lines[r.End.Line]
	sb.WriteByte('\n')
	sb.WriteString(last[:byteIndex(last, r.End.Column)])
	return sb.String()
}

func (b *Buffer) insertLocked(p Position, text string) Position {
	line := b.lines[p.Line]
	bi := byteIndex(line, p.Column)
	head, tail := line[:bi], line[bi:]

	parts := strings.Split(text, "\n")
	if len(parts) == 1 {
		b.lines[p.Line] = head + text + tail
		return Position{Line: p.Line, Column: p.Column + utf8.RuneCountInString(text)}
	}

	last := len(parts) - 1
	end := Position{Line: p.Line + last, Column: utf8.RuneCountInString(parts[last])}
	parts[0] = head + parts[0]
	parts[last] += tail
	b.lines = slices.Replace(b.lines, p.Line, p.Line+1, parts...)
	return end
}

func (b *Buffer) deleteLocked(r Range) {
	first := b.lines[r.Start.Line]
	last := b.lines[r.End.Line]
	joined := first[:byteIndex(first, r.Start.Column)] + last[byteIndex(last, r.End.Column):]
	b.lines = slices.Replace(b.lines, r.Start.Line, r.End.Line+1, joined)
}

func (b *Buffer) replaceLocked(r Range, text string) {
	if !r.IsEmpty() {
		b.deleteLocked(r)
	}
	if text != "" {
		b.insertLocked(r.Start, text)
	}
}

// byteIndex converts a rune column to a byte index in line.
func byteIndex(line string, col int) int {
	if col <= 0 {
		return 0
	}
	n := 0
	for i := range line {
		if n == col {
			return i
		}
		n++
	}
	return len(line)
}

// Snapshot is a read-only view of a buffer at one revision.
type Snapshot struct {
	lines      []string
	lineEnding LineEnding
	revision   RevisionID
}

// LineCount returns the number of lines.
func (s *Snapshot) LineCount() int {
	return len(s.lines)
}

// Line returns line i, or "" if out of range.
func (s *Snapshot) Line(i int) string {
	if i < 0 || i >= len(s.lines) {
		return ""
	}
	return s.lines[i]
}

// String returns the content with "\n" separators.
func (s *Snapshot) String() string {
	return strings.Join(s.lines, "\n")
}

// LineEnding returns the buffer's line ending at snapshot time.
func (s *Snapshot) LineEnding() LineEnding {
	return s.lineEnding
}

// Revision returns the revision the snapshot was taken at.
func (s *Snapshot) Revision() RevisionID {
	return s.revision
}
