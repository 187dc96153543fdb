// Package area measures the size-filtered foreground area of a mask.
package area

import (
	"image"

	"github.com/cwbudde/millifluidic/internal/imaging"
)

// DefaultMinArea is the component size, in pixels, a blob must exceed to be
// counted as a feature rather than noise.
const DefaultMinArea = 1000.0

// Component is one 8-connected foreground region.
type Component struct {
	Label         int
	Area          int
	Bounds        image.Rectangle
	MeanIntensity float64 // zero when no intensity grid was supplied
}

var neighbours = [8][2]int{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// Components labels the mask with 8-connectivity. Labels start at 1 and
// follow raster order of each component's first pixel. When intensity is
// non-nil and matches the mask shape, MeanIntensity is filled in.
func Components(mask *imaging.Mask, intensity *imaging.Grid) []Component {
	if intensity != nil && (intensity.Width != mask.Width || intensity.Height != mask.Height) {
		intensity = nil
	}

	labels := make([]int, len(mask.Pix))
	var comps []Component
	var stack []int

	for start, fg := range mask.Pix {
		if !fg || labels[start] != 0 {
			continue
		}

		label := len(comps) + 1
		sx, sy := start%mask.Width, start/mask.Width
		comp := Component{Label: label, Bounds: image.Rect(sx, sy, sx+1, sy+1)}
		var sum float64

		labels[start] = label
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			x, y := p%mask.Width, p/mask.Width
			comp.Area++
			comp.Bounds = comp.Bounds.Union(image.Rect(x, y, x+1, y+1))
			if intensity != nil {
				sum += intensity.Pix[p]
			}

			for _, d := range neighbours {
				nx, ny := x+d[0], y+d[1]
				if nx < 0 || ny < 0 || nx >= mask.Width || ny >= mask.Height {
					continue
				}
				q := ny*mask.Width + nx
				if mask.Pix[q] && labels[q] == 0 {
					labels[q] = label
					stack = append(stack, q)
				}
			}
		}

		if intensity != nil {
			comp.MeanIntensity = sum / float64(comp.Area)
		}
		comps = append(comps, comp)
	}

	return comps
}

// Measure sums the areas of components strictly larger than minArea. The
// intensity grid only feeds per-component properties and never changes the
// result. An empty mask measures 0.
func Measure(mask *imaging.Mask, intensity *imaging.Grid, minArea float64) float64 {
	var total float64
	for _, c := range Components(mask, intensity) {
		if float64(c.Area) > minArea {
			total += float64(c.Area)
		}
	}
	return total
}
