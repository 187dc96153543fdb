package pipeline

import (
	"fmt"
	"runtime"

	"github.com/cwbudde/millifluidic/internal/area"
	"github.com/cwbudde/millifluidic/internal/change"
	"github.com/cwbudde/millifluidic/internal/imaging"
	"github.com/cwbudde/millifluidic/internal/index"
)

// State is a stage of the run state machine.
type State string

const (
	StateIdle                 State = "idle"
	StateIndexed              State = "indexed"
	StateReferenceEstablished State = "reference-established"
	StateAccumulating         State = "accumulating"
	StateFinalized            State = "finalized"
	StateFailed               State = "failed"
)

// CompareMode is the declared pixel representation frames are compared in.
type CompareMode string

const (
	// CompareMask folds thresholded masks (BooleanExact).
	CompareMask CompareMode = "mask"
	// CompareIntensity folds raw luminance grids (ThresholdedNumeric).
	CompareIntensity CompareMode = "intensity"
)

// Options configures a Runner.
type Options struct {
	Crop               *imaging.Rect
	MinArea            float64
	Compare            CompareMode
	IntensityThreshold float64
	Workers            int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MinArea:            area.DefaultMinArea,
		Compare:            CompareMask,
		IntensityThreshold: change.DefaultIntensityThreshold,
		Workers:            runtime.NumCPU(),
	}
}

// Validate checks option values.
func (o Options) Validate() error {
	if o.Compare != CompareMask && o.Compare != CompareIntensity {
		return fmt.Errorf("unknown compare mode: %s", o.Compare)
	}
	if o.MinArea < 0 {
		return fmt.Errorf("min area cannot be negative: %v", o.MinArea)
	}
	if o.Compare == CompareIntensity && o.IntensityThreshold <= 0 {
		return fmt.Errorf("intensity threshold must be positive: %v", o.IntensityThreshold)
	}
	return nil
}

// AreaSample is one point of the area time series.
type AreaSample struct {
	Index int     `json:"index"`
	Key   float64 `json:"key"`
	Area  float64 `json:"area"`
}

// SkippedRecord describes a record that was left out of the run.
type SkippedRecord struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
	Error    string `json:"error"`
}

// Progress is reported to the Observer after every state change and every
// record consumed by the fold loop.
type Progress struct {
	State   State
	Done    int
	Total   int
	Record  *index.Record
	Area    float64
	Changed int // pixels newly set by this record
	Skipped *SkippedRecord
}

// Observer receives progress from the goroutine running the fold loop.
type Observer func(Progress)

// Result is what a run hands to export and display collaborators.
type Result struct {
	State         State
	Designator    index.Designator
	Reference     index.Record
	ReferenceMask *imaging.Mask
	ChangeMap     *change.Map
	Areas         []AreaSample
	Skipped       []SkippedRecord
	Records       int // records in the indexed list, reference included
}

// Keys returns the ordering keys of the area series.
func (r *Result) Keys() []float64 {
	keys := make([]float64, len(r.Areas))
	for i, s := range r.Areas {
		keys[i] = s.Key
	}
	return keys
}

// AreaValues returns the area column of the area series.
func (r *Result) AreaValues() []float64 {
	vals := make([]float64, len(r.Areas))
	for i, s := range r.Areas {
		vals[i] = s.Area
	}
	return vals
}

// FinalArea returns the last measured area, or 0 for an empty series.
func (r *Result) FinalArea() float64 {
	if len(r.Areas) == 0 {
		return 0
	}
	return r.Areas[len(r.Areas)-1].Area
}
