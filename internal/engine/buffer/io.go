package buffer

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"unicode/utf8"

	"github.com/dshills/scribe/internal/editorerr"
)

const (
	bomString = "\ufeff"

	// binarySniffSize is how much of a file is inspected for binary content.
	binarySniffSize = 8192

	// chunkSize is the read and write block size for large files.
	chunkSize = 64 * 1024
)

var bom = []byte(bomString)

// Load reads the file at path into a new buffer.
//
// The load fails without returning a buffer if the file is binary, is not
// valid UTF-8, or yields fewer bytes than its reported size. Files at or above
// the large-file threshold are decoded in fixed-size chunks.
func Load(path string, opts ...Option) (*Buffer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, editorerr.FromOS("open", path, err)
	}
	if info.IsDir() {
		return nil, editorerr.Newf(editorerr.KindInvalidOperation, "open", path, "is a directory")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, editorerr.FromOS("open", path, err)
	}
	defer f.Close()

	b, err := Read(f, info.Size(), opts...)
	if err != nil {
		var e *editorerr.Error
		if errors.As(err, &e) && e.Path == "" {
			e.Path = path
		}
		return nil, err
	}
	return b, nil
}

// Read decodes size bytes from r into a new buffer. A negative size skips
// the truncation check and reads to EOF.
func Read(r io.Reader, size int64, opts ...Option) (*Buffer, error) {
	b := New(opts...)
	large := size >= b.largeThreshold

	br := bufio.NewReaderSize(r, chunkSize)
	head, err := br.Peek(binarySniffSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, editorerr.FromOS("read", "", err)
	}
	if isBinary(head) {
		return nil, editorerr.Newf(editorerr.KindBinaryFile, "open", "", "binary content detected")
	}

	d := &decoder{}
	if bytes.HasPrefix(head, bom) {
		b.bom = true
		if _, err := br.Discard(len(bom)); err != nil {
			return nil, editorerr.FromOS("read", "", err)
		}
		d.offset = int64(len(bom))
		d.lineStart = d.offset
	}

	var total int64
	if b.bom {
		total = int64(len(bom))
	}

	if large {
		chunk := make([]byte, chunkSize)
		for {
			n, err := br.Read(chunk)
			if n > 0 {
				total += int64(n)
				if derr := d.feed(chunk[:n]); derr != nil {
					return nil, derr
				}
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, editorerr.FromOS("read", "", err)
			}
		}
	} else {
		data, err := io.ReadAll(br)
		if err != nil {
			return nil, editorerr.FromOS("read", "", err)
		}
		total += int64(len(data))
		if derr := d.feed(data); derr != nil {
			return nil, derr
		}
	}

	if size >= 0 && total < size {
		return nil, editorerr.Newf(editorerr.KindCorruptedFile, "open", "", "truncated read: got %d of %d bytes", total, size)
	}
	if err := d.finish(); err != nil {
		return nil, err
	}

	b.lines = d.lines
	b.trailingNewline = d.trailingNewline
	if !b.lineEndingSet {
		b.lineEnding = pickLineEnding(d.lf, d.crlf, d.cr)
	}
	b.large = large
	return b, nil
}

// Bytes returns the on-disk representation of the buffer.
func (b *Buffer) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = b.WriteTo(&buf)
	return buf.Bytes()
}

// WriteTo writes the buffer with its line ending, BOM and final newline.
// Content loaded from a file and left unchanged is written back byte for byte,
// unless the file mixed line-ending styles.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	size := 4096
	if b.large {
		size = chunkSize
	}
	bw := bufio.NewWriterSize(w, size)
	cw := &countingWriter{w: bw}

	if b.bom {
		_, _ = cw.Write(bom)
	}
	eol := b.lineEnding.Sequence()
	for i, line := range b.lines {
		if i > 0 {
			_, _ = io.WriteString(cw, eol)
		}
		_, _ = io.WriteString(cw, line)
		if cw.err != nil {
			return cw.n, cw.err
		}
	}
	if b.trailingNewline {
		_, _ = io.WriteString(cw, eol)
	}
	if cw.err != nil {
		return cw.n, cw.err
	}
	return cw.n, bw.Flush()
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}

// decoder splits a byte stream into lines, counting line-ending styles and
// validating UTF-8 one line at a time. Terminators are ASCII, so a line never
// splits a multi-byte sequence.
type decoder struct {
	lines   []string
	current []byte

	offset    int64 // bytes consumed so far
	lineStart int64 // offset of current's first byte

	pendingCR       bool
	lastTerminator  bool
	trailingNewline bool

	lf, crlf, cr int
}

func (d *decoder) feed(data []byte) error {
	for len(data) > 0 {
		if d.pendingCR {
			d.pendingCR = false
			if data[0] == '\n' {
				d.crlf++
				d.offset++
				d.lineStart = d.offset
				data = data[1:]
				continue
			}
			d.cr++
		}

		i := bytes.IndexAny(data, "\r\n")
		if i < 0 {
			d.current = append(d.current, data...)
			d.offset += int64(len(data))
			d.lastTerminator = false
			return nil
		}

		d.current = append(d.current, data[:i]...)
		d.offset += int64(i)
		if err := d.endLine(); err != nil {
			return err
		}

		if data[i] == '\r' {
			d.pendingCR = true
		} else {
			d.lf++
		}
		d.offset++
		d.lineStart = d.offset
		d.lastTerminator = true
		data = data[i+1:]
	}
	return nil
}

func (d *decoder) endLine() error {
	if !utf8.Valid(d.current) {
		off := d.lineStart + int64(invalidUTF8Offset(d.current))
		return editorerr.Newf(editorerr.KindCorruptedFile, "open", "", "invalid UTF-8 at byte %d", off)
	}
	d.lines = append(d.lines, string(d.current))
	d.current = d.current[:0]
	return nil
}

func (d *decoder) finish() error {
	if d.pendingCR {
		d.cr++
		d.pendingCR = false
	}
	if d.lastTerminator && len(d.current) == 0 {
		d.trailingNewline = true
		if len(d.lines) == 0 {
			d.lines = []string{""}
		}
		return nil
	}
	return d.endLine()
}

// invalidUTF8Offset returns the byte offset of the first invalid sequence.
func invalidUTF8Offset(p []byte) int {
	off := 0
	for off < len(p) {
		r, size := utf8.DecodeRune(p[off:])
		if r == utf8.RuneError && size <= 1 {
			return off
		}
		off += size
	}
	return off
}

// isBinary reports whether a content sample looks like binary data:
// any NUL byte, or more than 10% control characters.
func isBinary(sample []byte) bool {
	if len(sample) == 0 {
		return false
	}
	if len(sample) > binarySniffSize {
		sample = sample[:binarySniffSize]
	}
	if bytes.IndexByte(sample, 0) >= 0 {
		return true
	}

	nonText := 0
	for _, c := range sample {
		if c < 32 && c != '\t' && c != '\n' && c != '\r' && c != '\f' {
			nonText++
		}
	}
	return float64(nonText)/float64(len(sample)) > 0.1
}
