package imaging

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	isodataTolerance     = 1e-6
	isodataMaxIterations = 1000
)

// IsodataThreshold computes a global threshold with the Ridler-Calvard
// iteration: starting at the grid mean, the threshold is moved to the midpoint
// of the means of the two populations it separates until it stops moving.
// A constant grid returns a ProcessingError.
func IsodataThreshold(g *Grid) (float64, error) {
	if len(g.Pix) == 0 {
		return 0, &ProcessingError{Reason: "empty grid"}
	}

	lo, hi := g.Pix[0], g.Pix[0]
	for _, v := range g.Pix {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return 0, &ProcessingError{Reason: "constant-valued grid cannot be separated"}
	}

	t := stat.Mean(g.Pix, nil)
	for i := 0; i < isodataMaxIterations; i++ {
		var sumLow, sumHigh float64
		var nLow, nHigh int
		for _, v := range g.Pix {
			if v > t {
				sumHigh += v
				nHigh++
			} else {
				sumLow += v
				nLow++
			}
		}
		if nLow == 0 || nHigh == 0 {
			break
		}

		next := (sumLow/float64(nLow) + sumHigh/float64(nHigh)) / 2
		if math.Abs(next-t) < isodataTolerance {
			t = next
			break
		}
		t = next
	}

	return t, nil
}

// Threshold segments the grid into a mask of pixels strictly brighter than
// the isodata threshold. A uniform grid has no foreground and yields an
// all-false mask.
func Threshold(g *Grid) *Mask {
	mask := NewMask(g.Width, g.Height)

	t, err := IsodataThreshold(g)
	if err != nil {
		slog.Debug("Threshold fallback to empty mask", "error", err)
		return mask
	}

	for i, v := range g.Pix {
		mask.Pix[i] = v > t
	}
	return mask
}
