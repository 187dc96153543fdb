package change

import "math"

// Map is a read-only snapshot of a change map. Each cell holds 0 when the
// pixel never differed from the reference, otherwise the ordering key of the
// first frame where it did.
type Map struct {
	Width  int
	Height int
	values []float64
}

// NewMap wraps row-major values as a Map, for maps reloaded from storage.
// The slice is copied.
func NewMap(width, height int, values []float64) *Map {
	v := make([]float64, len(values))
	copy(v, values)
	return &Map{Width: width, Height: height, values: v}
}

// At returns the cell at column x, row y.
func (m *Map) At(x, y int) float64 {
	return m.values[y*m.Width+x]
}

// Values returns a copy of the cells in row-major order.
func (m *Map) Values() []float64 {
	v := make([]float64, len(m.values))
	copy(v, m.values)
	return v
}

// Changed returns the number of cells that differed at some point.
func (m *Map) Changed() int {
	n := 0
	for _, v := range m.values {
		if v != 0 {
			n++
		}
	}
	return n
}

// Range returns the smallest and largest non-zero keys. ok is false when no
// cell changed.
func (m *Map) Range() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range m.values {
		if v == 0 {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		ok = true
	}
	if !ok {
		return 0, 0, false
	}
	return lo, hi, true
}
