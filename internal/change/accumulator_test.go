package change

import (
	"errors"
	"testing"

	"github.com/cwbudde/millifluidic/internal/imaging"
)

func maskWith(w, h int, on ...[2]int) *imaging.Mask {
	m := imaging.NewMask(w, h)
	for _, p := range on {
		m.Set(p[0], p[1], true)
	}
	return m
}

func TestFoldMask_FirstChange(t *testing.T) {
	m0 := maskWith(4, 4)
	m1 := maskWith(4, 4, [2]int{0, 0})
	m2 := maskWith(4, 4, [2]int{0, 0}, [2]int{1, 1})

	acc := NewForMask(m0)
	for key, m := range []*imaging.Mask{m0, m1, m2} {
		if _, err := acc.FoldMask(float64(key), m); err != nil {
			t.Fatalf("FoldMask(%d) failed: %v", key, err)
		}
	}

	cm := acc.Snapshot()
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			want := 0.0
			switch {
			case x == 0 && y == 0:
				want = 1
			case x == 1 && y == 1:
				want = 2
			}
			if got := cm.At(x, y); got != want {
				t.Errorf("changeMap[%d,%d] = %v, want %v", y, x, got, want)
			}
		}
	}
	if cm.Changed() != 2 {
		t.Errorf("Changed() = %d, want 2", cm.Changed())
	}
}

func TestFoldMask_Monotone(t *testing.T) {
	ref := maskWith(3, 3)
	acc := NewForMask(ref)

	if _, err := acc.FoldMask(5, maskWith(3, 3, [2]int{1, 1})); err != nil {
		t.Fatal(err)
	}
	before := acc.Snapshot().Values()

	// Later frames flip the same pixel back and forth; it must keep key 5.
	for key, m := range []*imaging.Mask{
		maskWith(3, 3),
		maskWith(3, 3, [2]int{1, 1}),
		maskWith(3, 3, [2]int{1, 1}, [2]int{2, 2}),
	} {
		if _, err := acc.FoldMask(float64(6+key), m); err != nil {
			t.Fatal(err)
		}
	}

	after := acc.Snapshot()
	for i, v := range before {
		if v != 0 && after.Values()[i] != v {
			t.Errorf("cell %d changed from %v to %v", i, v, after.Values()[i])
		}
	}
	if after.At(1, 1) != 5 {
		t.Errorf("At(1,1) = %v, want 5", after.At(1, 1))
	}
	if after.At(2, 2) != 8 {
		t.Errorf("At(2,2) = %v, want 8", after.At(2, 2))
	}
}

func TestFoldMask_ReferenceIsNoOp(t *testing.T) {
	ref := maskWith(4, 4, [2]int{2, 3}, [2]int{0, 1})
	acc := NewForMask(ref)

	set, err := acc.FoldMask(1, ref)
	if err != nil {
		t.Fatal(err)
	}
	if set != 0 {
		t.Errorf("folding the reference set %d pixels", set)
	}
	if acc.Snapshot().Changed() != 0 {
		t.Error("change map should stay all-zero")
	}
}

func TestFoldMask_ShapeMismatch(t *testing.T) {
	acc := NewForMask(imaging.NewMask(4, 4))

	_, err := acc.FoldMask(1, imaging.NewMask(4, 5))
	var serr *ShapeError
	if !errors.As(err, &serr) {
		t.Fatalf("Expected ShapeError, got %v", err)
	}
	if acc.Folds() != 0 {
		t.Errorf("rejected frame should not count as a fold")
	}
}

func TestFold_Thresholded(t *testing.T) {
	ref := imaging.NewGrid(3, 1)
	ref.Pix = []float64{100, 100, 100}

	acc := NewForGrid(ref, DefaultIntensityThreshold)

	frame := imaging.NewGrid(3, 1)
	frame.Pix = []float64{149, 150, 40}
	if _, err := acc.Fold(2, frame); err != nil {
		t.Fatal(err)
	}

	cm := acc.Snapshot()
	want := []float64{0, 2, 2}
	for i, v := range cm.Values() {
		if v != want[i] {
			t.Errorf("cell %d = %v, want %v", i, v, want[i])
		}
	}
}

func TestFold_ModeMismatch(t *testing.T) {
	maskAcc := NewForMask(imaging.NewMask(2, 2))
	if _, err := maskAcc.Fold(1, imaging.NewGrid(2, 2)); err == nil {
		t.Error("Expected error folding grid into mask accumulator")
	}

	gridAcc := NewForGrid(imaging.NewGrid(2, 2), DefaultBinaryThreshold)
	if _, err := gridAcc.FoldMask(1, imaging.NewMask(2, 2)); err == nil {
		t.Error("Expected error folding mask into grid accumulator")
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	acc := NewForMask(maskWith(2, 2))
	snap := acc.Snapshot()

	if _, err := acc.FoldMask(3, maskWith(2, 2, [2]int{0, 0})); err != nil {
		t.Fatal(err)
	}
	if snap.At(0, 0) != 0 {
		t.Error("snapshot changed after a later fold")
	}

	values := acc.Snapshot().Values()
	values[0] = 99
	if acc.Snapshot().At(0, 0) != 3 {
		t.Error("Values() exposed the internal buffer")
	}
}

func TestMapRange(t *testing.T) {
	m := NewMap(2, 2, []float64{0, 4, 2, 0})
	lo, hi, ok := m.Range()
	if !ok || lo != 2 || hi != 4 {
		t.Errorf("Range() = %v, %v, %v", lo, hi, ok)
	}

	if _, _, ok := NewMap(1, 1, []float64{0}).Range(); ok {
		t.Error("empty map should report ok=false")
	}
}
