package cursor

import "unicode"

// CharClass groups runes for word movement.
type CharClass uint8

const (
	ClassSpace CharClass = iota
	ClassWord
	ClassPunct
)

// Classify returns the class of r. Letters, digits and underscore form words
// in every script.
func Classify(r rune) CharClass {
	switch {
	case unicode.IsSpace(r):
		return ClassSpace
	case r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r):
		return ClassWord
	default:
		return ClassPunct
	}
}

// NextWordStart returns the start of the next word after p.
// At the end of a line it moves to the first non-blank of the next line.
func NextWordStart(t Text, p Position) Position {
	p = clampPosition(t, p)
	line, col := p.Line, p.Column
	runes := []rune(lineOf(t, line))

	if col == len(runes) {
		if line >= t.LineCount()-1 {
			return p
		}
		line++
		runes = []rune(lineOf(t, line))
		col = 0
	} else if cls := Classify(runes[col]); cls != ClassSpace {
		for col < len(runes) && Classify(runes[col]) == cls {
			col++
		}
	}

	for col < len(runes) && Classify(runes[col]) == ClassSpace {
		col++
	}
	return Position{Line: line, Column: col}
}

// PrevWordStart returns the start of the word before p.
// At the start of a line it continues from the end of the previous line.
func PrevWordStart(t Text, p Position) Position {
	p = clampPosition(t, p)
	line, col := p.Line, p.Column
	runes := []rune(lineOf(t, line))

	if col == 0 {
		if line == 0 {
			return p
		}
		line--
		runes = []rune(lineOf(t, line))
		col = len(runes)
	}

	for col > 0 && Classify(runes[col-1]) == ClassSpace {
		col--
	}
	if col > 0 {
		cls := Classify(runes[col-1])
		for col > 0 && Classify(runes[col-1]) == cls {
			col--
		}
	}
	return Position{Line: line, Column: col}
}

// WordEnd returns the end of the word at or after p on the same line.
func WordEnd(t Text, p Position) Position {
	p = clampPosition(t, p)
	runes := []rune(lineOf(t, p.Line))
	col := p.Column
	for col < len(runes) && Classify(runes[col]) == ClassSpace {
		col++
	}
	if col < len(runes) {
		cls := Classify(runes[col])
		for col < len(runes) && Classify(runes[col]) == cls {
			col++
		}
	}
	return Position{Line: p.Line, Column: col}
}

// WordRangeAt returns the run of same-class runes around p. At the end of a
// line it selects the run just before p. Whitespace runs are returned too.
func WordRangeAt(t Text, p Position) Range {
	p = clampPosition(t, p)
	runes := []rune(lineOf(t, p.Line))
	if len(runes) == 0 {
		return Range{Start: p, End: p}
	}

	col := p.Column
	if col == len(runes) || (Classify(runes[col]) == ClassSpace && col > 0 && Classify(runes[col-1]) == ClassWord) {
		col--
	}
	cls := Classify(runes[col])

	start, end := col, col
	for start > 0 && Classify(runes[start-1]) == cls {
		start--
	}
	for end < len(runes) && Classify(runes[end]) == cls {
		end++
	}
	return Range{Start: Position{Line: p.Line, Column: start}, End: Position{Line: p.Line, Column: end}}
}
