package widgets

import (
	"math"
	"strings"
)

// RailSymbols are the runes used to draw the pendulum rail.
type RailSymbols struct {
	Bob    rune
	Rail   rune
	Center rune
	Edge   rune
}

// BobColumn maps angle (degrees, ±amplitude) onto a rail of width cells.
// The result is within [1, width-2]; the outer cells are the end stops.
func BobColumn(angle, amplitude float64, width int) int {
	if width < 3 {
		return 0
	}
	inner := width - 2
	center := 1 + inner/2
	if amplitude <= 0 || math.IsNaN(angle) {
		return center
	}
	x := angle / amplitude
	if x > 1 {
		x = 1
	} else if x < -1 {
		x = -1
	}
	half := float64(inner-1) / 2
	col := 1 + int(math.Round(half+x*half))
	if col < 1 {
		col = 1
	}
	if col > width-2 {
		col = width - 2
	}
	return col
}

// Rail draws a one-line pendulum: end stops, a centre mark and the bob.
func Rail(angle, amplitude float64, width int, sym RailSymbols) string {
	if width < 3 {
		return string(sym.Bob)
	}
	cells := make([]rune, width)
	for i := range cells {
		cells[i] = sym.Rail
	}
	cells[0] = sym.Edge
	cells[width-1] = sym.Edge
	cells[1+(width-2)/2] = sym.Center
	cells[BobColumn(angle, amplitude, width)] = sym.Bob
	return string(cells)
}

// Lamp returns on or off.
func Lamp(lit bool, on, off rune) string {
	if lit {
		return string(on)
	}
	return string(off)
}

// List renders names one per line, marking the selected index.
func List(names []string, selected int, mark, other rune) string {
	var b strings.Builder
	for i, n := range names {
		if i > 0 {
			b.WriteByte('\n')
		}
		if i == selected {
			b.WriteRune(mark)
		} else {
			b.WriteRune(other)
		}
		b.WriteByte(' ')
		b.WriteString(n)
	}
	return b.String()
}
