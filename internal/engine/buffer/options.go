package buffer

import (
	"runtime"
	"strings"
)

// LineEnding is the line terminator written to disk.
type LineEnding uint8

const (
	LineEndingLF   LineEnding = iota // Unix: \n
	LineEndingCRLF                   // Windows: \r\n
	LineEndingCR                     // Classic Mac: \r
)

// String returns the name of the line ending.
func (le LineEnding) String() string {
	switch le {
	case LineEndingLF:
		return "LF"
	case LineEndingCRLF:
		return "CRLF"
	case LineEndingCR:
		return "CR"
	default:
		return "unknown"
	}
}

// Sequence returns the actual line ending characters.
func (le LineEnding) Sequence() string {
	switch le {
	case LineEndingCRLF:
		return "\r\n"
	case LineEndingCR:
		return "\r"
	default:
		return "\n"
	}
}

// PlatformLineEnding is the default for new buffers.
func PlatformLineEnding() LineEnding {
	if runtime.GOOS == "windows" {
		return LineEndingCRLF
	}
	return LineEndingLF
}

// DefaultLargeFileThreshold is the size at which files switch to chunked I/O.
const DefaultLargeFileThreshold int64 = 10 * 1024 * 1024

// LargeSearchWindow bounds the number of lines scanned either side of the
// anchor line when searching a large buffer.
const LargeSearchWindow = 5000

// Option configures a Buffer.
type Option func(*Buffer)

// WithLineEnding sets the line ending written on save.
func WithLineEnding(le LineEnding) Option {
	return func(b *Buffer) {
		b.lineEnding = le
		b.lineEndingSet = true
	}
}

// WithLargeFileThreshold sets the large-file threshold in bytes.
func WithLargeFileThreshold(n int64) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.largeThreshold = n
		}
	}
}

// DetectLineEnding returns the most common line ending in text.
// Text without terminators yields the platform default.
func DetectLineEnding(text string) LineEnding {
	var lf, crlf, cr int
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\r':
			if i+1 < len(text) && text[i+1] == '\n' {
				crlf++
				i++
			} else {
				cr++
			}
		case '\n':
			lf++
		}
	}
	return pickLineEnding(lf, crlf, cr)
}

func pickLineEnding(lf, crlf, cr int) LineEnding {
	switch {
	case lf == 0 && crlf == 0 && cr == 0:
		return PlatformLineEnding()
	case crlf >= lf && crlf >= cr:
		return LineEndingCRLF
	case cr > lf:
		return LineEndingCR
	default:
		return LineEndingLF
	}
}

// normalizeLineEndings converts all line endings to \n.
func normalizeLineEndings(text string) string {
	if !strings.ContainsRune(text, '\r') {
		return text
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
