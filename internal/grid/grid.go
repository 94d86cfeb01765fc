// Package grid maps between integer grid coordinates and the human-readable
// cell labels used on battle maps ("A1" is the top-left cell).
package grid

import "strconv"

// Encode returns the label for the cell at (x, y). Column 0 is "A", row 0 is
// "1". Negative inputs are clamped to 0. Multi-letter columns are out of
// scope for this codec.
func Encode(x, y int) string {
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	return string(rune('A'+x)) + strconv.Itoa(y+1)
}

// Decode parses a label produced by Encode. A malformed label (empty, too
// short, non-uppercase column, non-numeric row) decodes to (0, 0) with
// ok=false; callers log the fallback and carry on rather than failing.
func Decode(label string) (x, y int, ok bool) {
	if len(label) < 2 {
		return 0, 0, false
	}
	col := label[0]
	if col < 'A' || col > 'Z' {
		return 0, 0, false
	}
	row, err := strconv.Atoi(label[1:])
	if err != nil || row < 1 {
		return 0, 0, false
	}
	return int(col - 'A'), row - 1, true
}
