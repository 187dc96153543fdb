package area

import (
	"image"
	"testing"

	"github.com/cwbudde/millifluidic/internal/imaging"
)

func fillRect(m *imaging.Mask, r image.Rectangle) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.Set(x, y, true)
		}
	}
}

func TestMeasure_FiltersSmallBlobs(t *testing.T) {
	m := imaging.NewMask(100, 100)
	fillRect(m, image.Rect(0, 0, 50, 30))   // 1500 px
	fillRect(m, image.Rect(60, 60, 80, 75)) // 300 px

	if got := Measure(m, nil, 1000); got != 1500 {
		t.Errorf("Measure = %v, want 1500", got)
	}
	if got := Measure(m, nil, 0); got != 1800 {
		t.Errorf("Measure with no filter = %v, want 1800", got)
	}
	if got := Measure(m, nil, 1500); got != 0 {
		t.Errorf("Measure with threshold equal to blob size = %v, want 0", got)
	}
}

func TestMeasure_EmptyMask(t *testing.T) {
	m := imaging.NewMask(20, 20)
	for _, th := range []float64{0, 1, DefaultMinArea} {
		if got := Measure(m, nil, th); got != 0 {
			t.Errorf("Measure(empty, %v) = %v, want 0", th, got)
		}
	}
}

func TestComponents_DiagonalConnectivity(t *testing.T) {
	m := imaging.NewMask(4, 4)
	m.Set(0, 0, true)
	m.Set(1, 1, true)
	m.Set(2, 2, true)
	m.Set(0, 3, true)

	comps := Components(m, nil)
	if len(comps) != 2 {
		t.Fatalf("Expected 2 components, got %d", len(comps))
	}
	if comps[0].Area != 3 {
		t.Errorf("diagonal chain area = %d, want 3", comps[0].Area)
	}
	if comps[0].Bounds != image.Rect(0, 0, 3, 3) {
		t.Errorf("diagonal chain bounds = %v", comps[0].Bounds)
	}
	if comps[1].Label != 2 || comps[1].Area != 1 {
		t.Errorf("second component = %+v", comps[1])
	}
}

func TestComponents_IntensityDoesNotChangeArea(t *testing.T) {
	m := imaging.NewMask(10, 10)
	fillRect(m, image.Rect(2, 2, 6, 6))

	g := imaging.NewGrid(10, 10)
	for i := range g.Pix {
		g.Pix[i] = 80
	}

	withGrid := Components(m, g)
	without := Components(m, nil)
	if withGrid[0].Area != without[0].Area {
		t.Errorf("area changed with intensity grid: %d vs %d", withGrid[0].Area, without[0].Area)
	}
	if withGrid[0].MeanIntensity != 80 {
		t.Errorf("MeanIntensity = %v, want 80", withGrid[0].MeanIntensity)
	}
	if Measure(m, g, 0) != Measure(m, nil, 0) {
		t.Error("Measure depends on intensity grid")
	}
}
