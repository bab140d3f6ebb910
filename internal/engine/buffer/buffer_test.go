package buffer

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/dshills/scribe/internal/editorerr"
)

func mustBuffer(t *testing.T, text string) *Buffer {
	t.Helper()
	b, err := NewFromString(text, WithLineEnding(LineEndingLF))
	if err != nil {
		t.Fatalf("NewFromString(%q): %v", text, err)
	}
	return b
}

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestNew(t *testing.T) {
	b := New()
	if b.LineCount() != 1 {
		t.Errorf("LineCount() = %d, want 1", b.LineCount())
	}
	if b.String() != "" {
		t.Errorf("String() = %q, want empty", b.String())
	}
	if b.DetectLineEnding() != PlatformLineEnding() {
		t.Errorf("line ending = %v, want platform default", b.DetectLineEnding())
	}
}

func TestNewFromString(t *testing.T) {
	b, err := NewFromString("one\r\ntwo\r\nthree")
	if err != nil {
		t.Fatal(err)
	}
	if b.LineCount() != 3 {
		t.Errorf("LineCount() = %d, want 3", b.LineCount())
	}
	if b.DetectLineEnding() != LineEndingCRLF {
		t.Errorf("line ending = %v, want CRLF", b.DetectLineEnding())
	}
	if line, _ := b.Line(1); line != "two" {
		t.Errorf("Line(1) = %q, want two", line)
	}
	if b.HasTrailingNewline() {
		t.Error("no trailing newline expected")
	}

	if _, err := NewFromString("bad\xff"); !errors.Is(err, editorerr.ErrInvalidUTF8) {
		t.Errorf("invalid text error = %v, want InvalidUTF8", err)
	}
}

func TestInsert(t *testing.T) {
	tests := []struct {
		name    string
		initial string
		pos     Position
		text    string
		want    string
		wantEnd Position
	}{
		{"start", "world", Pos(0, 0), "hello ", "hello world", Pos(0, 6)},
		{"end", "hello", Pos(0, 5), "!", "hello!", Pos(0, 6)},
		{"unicode column", "héllo", Pos(0, 2), "X", "héXllo", Pos(0, 3)},
		{"split line", "ab", Pos(0, 1), "\n", "a\nb", Pos(1, 0)},
		{"multi line", "ad", Pos(0, 1), "b\nc\n", "ab\nc\nd", Pos(2, 0)},
		{"crlf normalized", "ab", Pos(0, 1), "x\r\ny", "ax\nyb", Pos(1, 1)},
		{"empty text", "ab", Pos(0, 1), "", "ab", Pos(0, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := mustBuffer(t, tt.initial)
			end, err := b.Insert(tt.pos, tt.text)
			if err != nil {
				t.Fatalf("Insert() error = %v", err)
			}
			if got := b.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			if end != tt.wantEnd {
				t.Errorf("end = %v, want %v", end, tt.wantEnd)
			}
		})
	}
}

func TestInsertOutOfBounds(t *testing.T) {
	b := mustBuffer(t, "abc\nde")

	for _, p := range []Position{Pos(2, 0), Pos(-1, 0), Pos(1, 3), Pos(0, -1)} {
		if _, err := b.Insert(p, "x"); !errors.Is(err, editorerr.ErrOutOfBounds) {
			t.Errorf("Insert(%v) error = %v, want OutOfBounds", p, err)
		}
	}
	if b.String() != "abc\nde" {
		t.Errorf("buffer modified by failed insert: %q", b.String())
	}
}

func TestDelete(t *testing.T) {
	b := mustBuffer(t, "first\nsecond\nthird")

	removed, err := b.Delete(NewRange(Pos(2, 2), Pos(0, 3)))
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if removed != "st\nsecond\nth" {
		t.Errorf("removed = %q", removed)
	}
	if b.String() != "firird" {
		t.Errorf("String() = %q, want firird", b.String())
	}
	if b.LineCount() != 1 {
		t.Errorf("LineCount() = %d, want 1", b.LineCount())
	}
}

func TestReplaceAndInvert(t *testing.T) {
	b := mustBuffer(t, "alpha\nbeta\ngamma")
	before := b.String()

	c, err := b.Replace(NewRange(Pos(0, 2), Pos(1, 2)), "XY\nZ")
	if err != nil {
		t.Fatal(err)
	}
	if b.String() != "alXY\nZta\ngamma" {
		t.Errorf("after replace = %q", b.String())
	}
	if c.Type() != ChangeReplace {
		t.Errorf("Type() = %v, want replace", c.Type())
	}

	if err := b.ApplyChange(c.Invert()); err != nil {
		t.Fatalf("ApplyChange(inverse) error = %v", err)
	}
	if b.String() != before {
		t.Errorf("after invert = %q, want %q", b.String(), before)
	}
}

func TestApplyChangeMismatch(t *testing.T) {
	b := mustBuffer(t, "abc")
	err := b.ApplyChange(Change{Start: Pos(0, 0), OldText: "xyz", NewText: ""})
	if !errors.Is(err, editorerr.ErrInvalidOperation) {
		t.Errorf("error = %v, want InvalidOperation", err)
	}
}

func TestApplyChangesRollback(t *testing.T) {
	b := mustBuffer(t, "abc")
	changes := []Change{
		{Start: Pos(0, 0), NewText: "1"},
		{Start: Pos(0, 0), OldText: "nope"},
	}
	if err := b.ApplyChanges(changes); err == nil {
		t.Fatal("expected error")
	}
	if b.String() != "abc" {
		t.Errorf("String() = %q, want rollback to abc", b.String())
	}
}

func TestClampAndEnd(t *testing.T) {
	b := mustBuffer(t, "ab\ncdef")

	if got := b.Clamp(Pos(9, 9)); got != Pos(1, 4) {
		t.Errorf("Clamp() = %v, want (1:4)", got)
	}
	if got := b.Clamp(Pos(0, -3)); got != Pos(0, 0) {
		t.Errorf("Clamp() = %v, want (0:0)", got)
	}
	if got := b.EndPosition(); got != Pos(1, 4) {
		t.Errorf("EndPosition() = %v, want (1:4)", got)
	}
}

func TestOffsets(t *testing.T) {
	b := mustBuffer(t, "aé\nbc\n")

	cases := []struct {
		pos Position
		off int
	}{
		{Pos(0, 0), 0},
		{Pos(0, 2), 2},
		{Pos(1, 0), 3},
		{Pos(1, 2), 5},
	}
	for _, c := range cases {
		if got := b.OffsetOf(c.pos); got != c.off {
			t.Errorf("OffsetOf(%v) = %d, want %d", c.pos, got, c.off)
		}
		if got := b.PositionAt(c.off); got != c.pos {
			t.Errorf("PositionAt(%d) = %v, want %v", c.off, got, c.pos)
		}
	}
}

func TestFindAll(t *testing.T) {
	b := mustBuffer(t, "foo bar foo\nfoofoo")
	got := b.FindAll("foo", 0)
	want := []Range{
		{Pos(0, 0), Pos(0, 3)},
		{Pos(0, 8), Pos(0, 11)},
		{Pos(1, 0), Pos(1, 3)},
		{Pos(1, 3), Pos(1, 6)},
	}
	if len(got) != len(want) {
		t.Fatalf("FindAll() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("match %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFindAllLargeIsWindowed(t *testing.T) {
	lines := make([]string, 3*LargeSearchWindow)
	for i := range lines {
		lines[i] = "x"
	}
	b, err := NewFromString(strings.Join(lines, "\n"), WithLargeFileThreshold(1))
	if err != nil {
		t.Fatal(err)
	}
	if !b.IsLarge() {
		t.Fatal("expected large buffer")
	}
	got := b.FindAll("x", 0)
	if len(got) != LargeSearchWindow {
		t.Errorf("FindAll() found %d matches, want %d", len(got), LargeSearchWindow)
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		data       string
		wantEnding LineEnding
		wantLines  int
	}{
		{"crlf trailing newline", "line one\r\nline two\r\n", LineEndingCRLF, 2},
		{"lf no trailing newline", "a\nb\nc", LineEndingLF, 3},
		{"cr only", "a\rb\r", LineEndingCR, 2},
		{"bom", "\ufeffhello\n", LineEndingLF, 1},
		{"blank lines", "\n\n", LineEndingLF, 2},
		{"unicode", "héllo wörld 日本\n", LineEndingLF, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, []byte(tt.data))
			b, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if b.DetectLineEnding() != tt.wantEnding {
				t.Errorf("line ending = %v, want %v", b.DetectLineEnding(), tt.wantEnding)
			}
			if b.LineCount() != tt.wantLines {
				t.Errorf("LineCount() = %d, want %d", b.LineCount(), tt.wantLines)
			}
			if got := b.Bytes(); !bytes.Equal(got, []byte(tt.data)) {
				t.Errorf("round trip = %q, want %q", got, tt.data)
			}
		})
	}
}

func TestLoadEmptyFile(t *testing.T) {
	b, err := Load(writeFile(t, nil))
	if err != nil {
		t.Fatal(err)
	}
	if b.LineCount() != 1 || b.String() != "" {
		t.Errorf("empty file loaded as %q (%d lines)", b.String(), b.LineCount())
	}
	if len(b.Bytes()) != 0 {
		t.Errorf("Bytes() = %q, want empty", b.Bytes())
	}
}

func TestLoadLargeChunked(t *testing.T) {
	var sb strings.Builder
	for sb.Len() < 3*chunkSize {
		sb.WriteString("the quick brown fox jumps over the lazy dog\r\n")
	}
	data := sb.String()
	path := writeFile(t, []byte(data))

	b, err := Load(path, WithLargeFileThreshold(1024))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !b.IsLarge() {
		t.Error("IsLarge() = false, want true")
	}
	if b.DetectLineEnding() != LineEndingCRLF {
		t.Errorf("line ending = %v, want CRLF", b.DetectLineEnding())
	}
	if got := b.Bytes(); string(got) != data {
		t.Error("large file did not round trip")
	}
}

func TestLoadCorruptedUTF8(t *testing.T) {
	path := writeFile(t, []byte("valid line\nbroken \xff\xfe here\n"))

	b, err := Load(path)
	if b != nil {
		t.Error("Load() returned a partial buffer")
	}
	if !errors.Is(err, editorerr.ErrCorruptedFile) {
		t.Fatalf("Load() error = %v, want CorruptedFile", err)
	}
	if !strings.Contains(err.Error(), "byte 18") {
		t.Errorf("error %q should report the byte offset", err)
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("error %q should include the path", err)
	}
}

func TestLoadBinary(t *testing.T) {
	path := writeFile(t, []byte("PK\x03\x04\x00\x00binary"))
	if _, err := Load(path); !errors.Is(err, editorerr.ErrBinaryFile) {
		t.Errorf("Load() error = %v, want BinaryFile", err)
	}
}

func TestReadTruncated(t *testing.T) {
	b, err := Read(strings.NewReader("short"), 100)
	if b != nil || !errors.Is(err, editorerr.ErrCorruptedFile) {
		t.Errorf("Read() = %v, %v; want CorruptedFile", b, err)
	}
}

func TestLoadNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.txt"))
	if !errors.Is(err, editorerr.ErrNotFound) {
		t.Errorf("Load() error = %v, want NotFound", err)
	}
}

func TestEditThenSavePreservesFormat(t *testing.T) {
	path := writeFile(t, []byte("\ufeffone\r\ntwo\r\n"))
	b, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Insert(Pos(1, 3), "\nthree"); err != nil {
		t.Fatal(err)
	}
	want := "\ufeffone\r\ntwo\r\nthree\r\n"
	if got := string(b.Bytes()); got != want {
		t.Errorf("Bytes() = %q, want %q", got, want)
	}
}

func TestSnapshotIsolated(t *testing.T) {
	b := mustBuffer(t, "abc")
	snap := b.Snapshot()
	_, _ = b.Insert(Pos(0, 3), "def")

	if snap.String() != "abc" {
		t.Errorf("snapshot changed: %q", snap.String())
	}
	if snap.Revision() == b.Revision() {
		t.Error("revision should advance after insert")
	}
}

func TestOnChange(t *testing.T) {
	b := mustBuffer(t, "abc")
	var got []Change
	b.OnChange(func(c Change) { got = append(got, c) })

	_, _ = b.Insert(Pos(0, 3), "d")
	_, _ = b.Delete(NewRange(Pos(0, 0), Pos(0, 1)))
	ch, _ := b.Replace(NewRange(Pos(0, 0), Pos(0, 1)), "X")
	_ = b.ApplyChange(ch.Invert())
	_, _ = b.Insert(Pos(0, 0), "")

	want := []Change{
		{Start: Pos(0, 3), NewText: "d"},
		{Start: Pos(0, 0), OldText: "a"},
		{Start: Pos(0, 0), OldText: "b", NewText: "X"},
		{Start: Pos(0, 0), OldText: "X", NewText: "b"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d changes, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if b.String() != "bcd" {
		t.Errorf("String() = %q", b.String())
	}
}

func TestInsertDeleteProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lines := rapid.SliceOfN(rapid.StringMatching(`[a-zé日 ]{0,8}`), 1, 6).Draw(t, "lines")
		b, err := NewFromString(strings.Join(lines, "\n"), WithLineEnding(LineEndingLF))
		if err != nil {
			t.Fatal(err)
		}
		before := b.String()

		line := rapid.IntRange(0, b.LineCount()-1).Draw(t, "line")
		col := rapid.IntRange(0, b.LineLen(line)).Draw(t, "col")
		text := rapid.StringMatching(`[a-z\n]{0,10}`).Draw(t, "text")

		start := Pos(line, col)
		end, err := b.Insert(start, text)
		if err != nil {
			t.Fatal(err)
		}
		if end != Advance(start, text) {
			t.Fatalf("end = %v, want %v", end, Advance(start, text))
		}
		removed, err := b.Delete(NewRange(start, end))
		if err != nil {
			t.Fatal(err)
		}
		if removed != text {
			t.Fatalf("removed %q, inserted %q", removed, text)
		}
		if b.String() != before {
			t.Fatalf("String() = %q, want %q", b.String(), before)
		}
	})
}
