package cursor

import "github.com/dshills/scribe/internal/editorerr"

var bracketPairs = map[rune]rune{
	'(': ')', '[': ']', '{': '}',
	')': '(', ']': '[', '}': '{',
}

func isOpenBracket(r rune) bool {
	return r == '(' || r == '[' || r == '{'
}

// MatchBracket finds the bracket matching the one at p, or just before p.
//
// The scan uses a stack of open brackets and skips brackets inside quoted
// strings and after // on the same line, unless the starting bracket is
// itself inside such a region. If there is no bracket at p or it has no
// match, MatchBracket returns an editorerr NoMatchFound error.
func MatchBracket(t Text, p Position) (Position, error) {
	p = clampPosition(t, p)
	runes := []rune(lineOf(t, p.Line))

	col := -1
	if p.Column < len(runes) {
		if _, ok := bracketPairs[runes[p.Column]]; ok {
			col = p.Column
		}
	}
	if col < 0 && p.Column > 0 {
		if _, ok := bracketPairs[runes[p.Column-1]]; ok {
			col = p.Column - 1
		}
	}
	if col < 0 {
		return p, editorerr.Newf(editorerr.KindNoMatchFound, "match bracket", "", "no bracket at %s", p)
	}

	open := runes[col]
	skipLiterals := codeMask(runes)[col]
	if isOpenBracket(open) {
		if m, ok := scanForward(t, p.Line, col, open, skipLiterals); ok {
			return m, nil
		}
	} else if m, ok := scanBackward(t, p.Line, col, open, skipLiterals); ok {
		return m, nil
	}
	return p, editorerr.Newf(editorerr.KindNoMatchFound, "match bracket", "", "unmatched %q at %s", open, Position{Line: p.Line, Column: col})
}

func scanForward(t Text, line, col int, open rune, skip bool) (Position, bool) {
	closeR := bracketPairs[open]
	var stack []rune
	for l := line; l < t.LineCount(); l++ {
		runes := []rune(lineOf(t, l))
		mask := codeMask(runes)
		start := 0
		if l == line {
			start = col
		}
		for c := start; c < len(runes); c++ {
			if skip && !mask[c] {
				continue
			}
			switch r := runes[c]; r {
			case open:
				stack = append(stack, r)
			case closeR:
				stack = stack[:len(stack)-1]
				if len(stack) == 0 {
					return Position{Line: l, Column: c}, true
				}
			}
		}
	}
	return Position{}, false
}

func scanBackward(t Text, line, col int, closeR rune, skip bool) (Position, bool) {
	open := bracketPairs[closeR]
	var stack []rune
	for l := line; l >= 0; l-- {
		runes := []rune(lineOf(t, l))
		mask := codeMask(runes)
		start := len(runes) - 1
		if l == line {
			start = col
		}
		for c := start; c >= 0; c-- {
			if skip && !mask[c] {
				continue
			}
			switch r := runes[c]; r {
			case closeR:
				stack = append(stack, r)
			case open:
				stack = stack[:len(stack)-1]
				if len(stack) == 0 {
					return Position{Line: l, Column: c}, true
				}
			}
		}
	}
	return Position{}, false
}

// codeMask marks which runes of a line are code, as opposed to being inside
// a quoted string or a // comment. Strings do not span lines.
func codeMask(runes []rune) []bool {
	mask := make([]bool, len(runes))
	var quote rune
	escaped := false
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == quote:
				quote = 0
			}
			continue
		}
		switch {
		case r == '"' || r == '\'' || r == '`':
			quote = r
		case r == '/' && i+1 < len(runes) && runes[i+1] == '/':
			return mask
		default:
			mask[i] = true
		}
	}
	return mask
}
