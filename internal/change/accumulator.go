// Package change folds an ordered series of frames into a first-change map:
// for every pixel, the ordering key of the earliest frame that differed from
// the reference frame.
package change

import (
	"fmt"
	"math"

	"github.com/cwbudde/millifluidic/internal/imaging"
)

// Default difference thresholds for ThresholdedNumeric comparisons.
const (
	DefaultIntensityThreshold = 50.0
	DefaultBinaryThreshold    = 1.0
)

// Mode selects how a frame is compared to the reference.
type Mode int

const (
	// BooleanExact compares binary masks; a pixel differs when the mask values differ.
	BooleanExact Mode = iota
	// ThresholdedNumeric compares intensity grids; a pixel differs when
	// |frame - reference| >= Threshold.
	ThresholdedNumeric
)

func (m Mode) String() string {
	switch m {
	case BooleanExact:
		return "boolean-exact"
	case ThresholdedNumeric:
		return "thresholded-numeric"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Comparison is the comparison mode chosen once per run.
type Comparison struct {
	Mode      Mode
	Threshold float64
}

// Exact returns the mask comparison.
func Exact() Comparison {
	return Comparison{Mode: BooleanExact}
}

// Thresholded returns a numeric comparison with the given threshold.
func Thresholded(threshold float64) Comparison {
	return Comparison{Mode: ThresholdedNumeric, Threshold: threshold}
}

// Accumulator exclusively owns the change map buffer. Frames must be folded
// in ascending ordering-key order; the accumulator does not check this.
//
// A zero cell means "never differed"; a key of 0 therefore cannot be
// distinguished from no change and should only belong to the reference.
type Accumulator struct {
	width, height int
	cmp           Comparison
	reference     []float64
	referenceMask []bool
	values        []float64
	folds         int
}

// NewForMask creates a BooleanExact accumulator against a reference mask.
func NewForMask(reference *imaging.Mask) *Accumulator {
	ref := make([]bool, len(reference.Pix))
	copy(ref, reference.Pix)
	return &Accumulator{
		width:         reference.Width,
		height:        reference.Height,
		cmp:           Exact(),
		referenceMask: ref,
		values:        make([]float64, len(ref)),
	}
}

// NewForGrid creates a ThresholdedNumeric accumulator against a reference grid.
func NewForGrid(reference *imaging.Grid, threshold float64) *Accumulator {
	ref := make([]float64, len(reference.Pix))
	copy(ref, reference.Pix)
	return &Accumulator{
		width:     reference.Width,
		height:    reference.Height,
		cmp:       Thresholded(threshold),
		reference: ref,
		values:    make([]float64, len(ref)),
	}
}

// Comparison returns the mode the accumulator was built with.
func (a *Accumulator) Comparison() Comparison {
	return a.cmp
}

// Folds returns how many frames have been folded.
func (a *Accumulator) Folds() int {
	return a.folds
}

// FoldMask records key for every undecided pixel where mask differs from the
// reference mask. It returns the number of newly set pixels.
func (a *Accumulator) FoldMask(key float64, mask *imaging.Mask) (int, error) {
	if a.cmp.Mode != BooleanExact {
		return 0, fmt.Errorf("cannot fold mask into %s accumulator", a.cmp.Mode)
	}
	if err := a.checkShape(mask.Width, mask.Height); err != nil {
		return 0, err
	}

	set := 0
	for i, v := range mask.Pix {
		if a.values[i] == 0 && v != a.referenceMask[i] {
			a.values[i] = key
			set++
		}
	}
	a.folds++
	return set, nil
}

// Fold records key for every undecided pixel whose intensity differs from the
// reference by at least the threshold. It returns the number of newly set pixels.
func (a *Accumulator) Fold(key float64, grid *imaging.Grid) (int, error) {
	if a.cmp.Mode != ThresholdedNumeric {
		return 0, fmt.Errorf("cannot fold grid into %s accumulator", a.cmp.Mode)
	}
	if err := a.checkShape(grid.Width, grid.Height); err != nil {
		return 0, err
	}

	set := 0
	for i, v := range grid.Pix {
		if a.values[i] == 0 && math.Abs(v-a.reference[i]) >= a.cmp.Threshold {
			a.values[i] = key
			set++
		}
	}
	a.folds++
	return set, nil
}

func (a *Accumulator) checkShape(width, height int) error {
	if width != a.width || height != a.height {
		return &ShapeError{
			WantWidth: a.width, WantHeight: a.height,
			GotWidth: width, GotHeight: height,
		}
	}
	return nil
}

// Snapshot returns an independent copy of the current change map.
func (a *Accumulator) Snapshot() *Map {
	values := make([]float64, len(a.values))
	copy(values, a.values)
	return &Map{Width: a.width, Height: a.height, values: values}
}

// ShapeError reports a frame whose dimensions differ from the reference.
type ShapeError struct {
	WantWidth, WantHeight int
	GotWidth, GotHeight   int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("frame shape %dx%d does not match reference %dx%d",
		e.GotWidth, e.GotHeight, e.WantWidth, e.WantHeight)
}
