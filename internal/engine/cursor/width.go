package cursor

import (
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
	"github.com/rivo/uniseg"
)

// DefaultTabWidth is used when a tab width of zero or less is given.
const DefaultTabWidth = 4

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// graphemeBounds returns the rune columns at which grapheme clusters start,
// followed by the line length.
func graphemeBounds(line string) []int {
	bounds := []int{0}
	col := 0
	g := uniseg.NewGraphemes(line)
	for g.Next() {
		col += len(g.Runes())
		bounds = append(bounds, col)
	}
	return bounds
}

// NextGrapheme returns the column after the grapheme cluster at col.
func NextGrapheme(line string, col int) int {
	for _, b := range graphemeBounds(line) {
		if b > col {
			return b
		}
	}
	return runeLen(line)
}

// PrevGrapheme returns the column of the grapheme cluster before col.
func PrevGrapheme(line string, col int) int {
	prev := 0
	for _, b := range graphemeBounds(line) {
		if b >= col {
			return prev
		}
		prev = b
	}
	return prev
}

// clusterWidth returns the display width of one grapheme cluster starting at
// display column x.
func clusterWidth(runes []rune, x, tabWidth int) int {
	if len(runes) == 1 && runes[0] == '\t' {
		return tabWidth - x%tabWidth
	}
	return runewidth.StringWidth(string(runes))
}

// DisplayColumn returns the display column of rune column col in line.
// Tabs advance to the next multiple of tabWidth; wide runes count as two.
func DisplayColumn(line string, col, tabWidth int) int {
	if tabWidth <= 0 {
		tabWidth = DefaultTabWidth
	}
	x, c := 0, 0
	g := uniseg.NewGraphemes(line)
	for c < col && g.Next() {
		r := g.Runes()
		x += clusterWidth(r, x, tabWidth)
		c += len(r)
	}
	return x
}

// ColumnForDisplay returns the rune column whose display position is the
// closest at or before target. It never splits a grapheme cluster.
func ColumnForDisplay(line string, target, tabWidth int) int {
	if tabWidth <= 0 {
		tabWidth = DefaultTabWidth
	}
	x, c := 0, 0
	g := uniseg.NewGraphemes(line)
	for g.Next() {
		r := g.Runes()
		w := clusterWidth(r, x, tabWidth)
		if x+w > target {
			return c
		}
		x += w
		c += len(r)
	}
	return c
}
