package imaging

import (
	"errors"
	"math"
	"testing"
)

func TestIsodataTwoPopulations(t *testing.T) {
	g := NewGrid(10, 10)
	for i := range g.Pix {
		if i%2 == 0 {
			g.Pix[i] = 10
		} else {
			g.Pix[i] = 200
		}
	}

	th, err := IsodataThreshold(g)
	if err != nil {
		t.Fatalf("IsodataThreshold failed: %v", err)
	}
	if math.Abs(th-105) > 1e-9 {
		t.Errorf("threshold = %v, want 105", th)
	}

	mask := Threshold(g)
	for i, v := range mask.Pix {
		if want := i%2 == 1; v != want {
			t.Fatalf("mask[%d] = %v, want %v", i, v, want)
		}
	}
}

func TestIsodataBracketedByClassMeans(t *testing.T) {
	g := NewGrid(8, 8)
	for i := range g.Pix {
		g.Pix[i] = float64((i * 37) % 256)
	}

	th, err := IsodataThreshold(g)
	if err != nil {
		t.Fatalf("IsodataThreshold failed: %v", err)
	}

	var sumLow, sumHigh float64
	var nLow, nHigh int
	for _, v := range g.Pix {
		if v > th {
			sumHigh += v
			nHigh++
		} else {
			sumLow += v
			nLow++
		}
	}
	lowMean, highMean := sumLow/float64(nLow), sumHigh/float64(nHigh)
	if !(lowMean <= th && th < highMean) {
		t.Errorf("threshold %v not bracketed by class means %v and %v", th, lowMean, highMean)
	}
}

func TestThresholdDeterministic(t *testing.T) {
	g := checkerboard(16)

	a := Threshold(g)
	b := Threshold(g)
	for i := range a.Pix {
		if a.Pix[i] != b.Pix[i] {
			t.Fatalf("Threshold not deterministic at %d", i)
		}
	}
}

func TestThresholdConstantGrid(t *testing.T) {
	g := NewGrid(4, 4)
	for i := range g.Pix {
		g.Pix[i] = 42
	}

	_, err := IsodataThreshold(g)
	var perr *ProcessingError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected ProcessingError, got %v", err)
	}

	mask := Threshold(g)
	if mask.Count() != 0 {
		t.Errorf("Expected all-false mask, got %d foreground pixels", mask.Count())
	}
	if mask.Width != 4 || mask.Height != 4 {
		t.Errorf("mask shape = %dx%d, want 4x4", mask.Width, mask.Height)
	}
}
