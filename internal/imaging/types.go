package imaging

import (
	"fmt"
	"strconv"
	"strings"
)

// Grid is a single-channel intensity image stored row-major.
// Values are on a 0-255 luminance scale regardless of the source bit depth.
type Grid struct {
	Width  int
	Height int
	Pix    []float64
}

// NewGrid allocates a zero-valued grid of the given size.
func NewGrid(width, height int) *Grid {
	return &Grid{
		Width:  width,
		Height: height,
		Pix:    make([]float64, width*height),
	}
}

// At returns the value at column x, row y.
func (g *Grid) At(x, y int) float64 {
	return g.Pix[y*g.Width+x]
}

// Set writes the value at column x, row y.
func (g *Grid) Set(x, y int, v float64) {
	g.Pix[y*g.Width+x] = v
}

// Mask is a binary foreground/background classification of a grid.
type Mask struct {
	Width  int
	Height int
	Pix    []bool
}

// NewMask allocates an all-false mask of the given size.
func NewMask(width, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		Pix:    make([]bool, width*height),
	}
}

// At reports whether the pixel at column x, row y is foreground.
func (m *Mask) At(x, y int) bool {
	return m.Pix[y*m.Width+x]
}

// Set marks the pixel at column x, row y.
func (m *Mask) Set(x, y int, v bool) {
	m.Pix[y*m.Width+x] = v
}

// Count returns the number of foreground pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v {
			n++
		}
	}
	return n
}

// Grid converts the mask to a 0/1 grid.
func (m *Mask) Grid() *Grid {
	g := NewGrid(m.Width, m.Height)
	for i, v := range m.Pix {
		if v {
			g.Pix[i] = 1
		}
	}
	return g
}

// Rect is a crop rectangle in pixel coordinates with a top-left origin.
// Columns [X1, X2) and rows [Y1, Y2) are kept.
type Rect struct {
	X1, Y1, X2, Y2 int
}

// Dx returns the width of the rectangle.
func (r Rect) Dx() int { return r.X2 - r.X1 }

// Dy returns the height of the rectangle.
func (r Rect) Dy() int { return r.Y2 - r.Y1 }

func (r Rect) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.X1, r.Y1, r.X2, r.Y2)
}

// Validate checks that the rectangle is non-empty and lies inside a width x height image.
func (r Rect) Validate(width, height int) error {
	if r.X1 < 0 || r.X1 >= r.X2 || r.X2 > width || r.Y1 < 0 || r.Y1 >= r.Y2 || r.Y2 > height {
		return &BoundsError{Rect: r, Width: width, Height: height}
	}
	return nil
}

// ParseRect parses "x1,y1,x2,y2".
func ParseRect(s string) (Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Rect{}, fmt.Errorf("crop must have 4 comma-separated integers, got %q", s)
	}

	var vals [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Rect{}, fmt.Errorf("invalid crop coordinate %q: %w", p, err)
		}
		vals[i] = v
	}

	return Rect{X1: vals[0], Y1: vals[1], X2: vals[2], Y2: vals[3]}, nil
}

// RectFromSlice builds a Rect from a 4-element slice as found in config files.
func RectFromSlice(v []int) (Rect, error) {
	if len(v) != 4 {
		return Rect{}, fmt.Errorf("crop must have 4 integers, got %d", len(v))
	}
	return Rect{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, nil
}
