package store

import (
	"image"
	"image/color"

	"github.com/cwbudde/millifluidic/internal/change"
	"github.com/cwbudde/millifluidic/internal/imaging"
)

// ramp is a perceptually ordered dark-blue to yellow colour scale.
var ramp = []color.NRGBA{
	{68, 1, 84, 255},
	{59, 82, 139, 255},
	{33, 145, 140, 255},
	{94, 201, 98, 255},
	{253, 231, 37, 255},
}

// RenderChangeMap colours each changed cell by its key between the earliest
// and latest change; unchanged cells are black.
func RenderChangeMap(m *change.Map) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	lo, hi, ok := m.Range()

	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			v := m.At(x, y)
			if !ok || v == 0 {
				img.SetNRGBA(x, y, color.NRGBA{0, 0, 0, 255})
				continue
			}
			t := 0.0
			if hi > lo {
				t = (v - lo) / (hi - lo)
			}
			img.SetNRGBA(x, y, rampAt(t))
		}
	}
	return img
}

func rampAt(t float64) color.NRGBA {
	if t <= 0 {
		return ramp[0]
	}
	if t >= 1 {
		return ramp[len(ramp)-1]
	}

	pos := t * float64(len(ramp)-1)
	i := int(pos)
	frac := pos - float64(i)
	a, b := ramp[i], ramp[i+1]
	mix := func(p, q uint8) uint8 {
		return uint8(float64(p) + (float64(q)-float64(p))*frac + 0.5)
	}
	return color.NRGBA{mix(a.R, b.R), mix(a.G, b.G), mix(a.B, b.B), 255}
}

// RenderMask draws foreground white on black.
func RenderMask(m *imaging.Mask) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Pix {
		if v {
			img.Pix[(i/m.Width)*img.Stride+i%m.Width] = 255
		}
	}
	return img
}
