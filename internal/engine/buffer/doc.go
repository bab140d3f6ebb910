// Package buffer provides the line-oriented text buffer of the editing core.
//
// A Buffer holds file content as a slice of lines without terminators.
// Positions are (line, column) pairs where the column counts runes, and every
// mutation goes through Insert, Delete or Replace. Each mutation can be
// described as a Change, which records the replaced text so it can be
// inverted for undo.
//
// Basic usage:
//
//	buf, err := buffer.Load("notes.txt")
//	if err != nil {
//	    return err
//	}
//	end, _ := buf.Insert(buffer.Pos(0, 0), "Title\n")
//	_, _ = buf.Delete(buffer.NewRange(end, buf.EndPosition()))
//	_, err = buf.WriteTo(f)
//
// File format fidelity:
//
// Load detects the dominant line ending (LF, CRLF or CR), a leading UTF-8 byte
// order mark, and whether the file ends with a terminator. WriteTo reproduces
// all three, so loading and saving an unchanged file yields identical bytes.
// Content that is not valid UTF-8 or looks binary is rejected at load time;
// nothing is silently replaced.
//
// Large files:
//
// Files at or above the large-file threshold are decoded and written in fixed
// chunks, and FindAll only scans a window of lines around an anchor.
//
// Thread Safety:
//
// All Buffer methods are safe for concurrent use. Snapshot returns an
// immutable copy for readers that must not observe intervening writes.
package buffer
