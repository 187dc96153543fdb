package store

import (
	"fmt"
	"time"

	"github.com/cwbudde/millifluidic/internal/area"
	"github.com/cwbudde/millifluidic/internal/change"
	"github.com/cwbudde/millifluidic/internal/imaging"
	"github.com/cwbudde/millifluidic/internal/index"
	"github.com/cwbudde/millifluidic/internal/pipeline"
)

// RunConfig holds the configuration of an analysis run as submitted by the
// CLI or the HTTP API. It lives here so the server and cmd packages can share
// it without importing each other.
type RunConfig struct {
	Name               string  `json:"name,omitempty"`
	Dir                string  `json:"dir"`
	Extension          string  `json:"extension,omitempty"`
	Pattern            string  `json:"pattern,omitempty"`
	Table              string  `json:"table,omitempty"`
	Duplicates         string  `json:"duplicates,omitempty"` // reject, last
	Crop               []int   `json:"crop,omitempty"`       // x1, y1, x2, y2
	MinArea            float64 `json:"minArea"`
	Compare            string  `json:"compare,omitempty"` // mask, intensity
	IntensityThreshold float64 `json:"intensityThreshold,omitempty"`
	Workers            int     `json:"workers,omitempty"`
}

// DefaultRunConfig returns the analysis settings used for fields a request
// leaves out.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Extension:          ".tif",
		Duplicates:         string(index.DuplicateReject),
		MinArea:            area.DefaultMinArea,
		Compare:            string(pipeline.CompareMask),
		IntensityThreshold: change.DefaultIntensityThreshold,
	}
}

// Validate checks the fields that must be present before a run can start.
func (c RunConfig) Validate() error {
	if c.Pattern == "" && c.Table == "" {
		return &ValidationError{Field: "Pattern/Table", Reason: "one of pattern or table is required"}
	}
	if c.Pattern != "" && c.Table != "" {
		return &ValidationError{Field: "Pattern/Table", Reason: "pattern and table are mutually exclusive"}
	}
	if c.Pattern != "" && c.Dir == "" {
		return &ValidationError{Field: "Dir", Reason: "cannot be empty in pattern mode"}
	}
	if c.Crop != nil && len(c.Crop) != 4 {
		return &ValidationError{Field: "Crop", Reason: "must have 4 integers"}
	}
	if c.MinArea < 0 {
		return &ValidationError{Field: "MinArea", Reason: "cannot be negative"}
	}
	return nil
}

// Source returns the indexer selected by the configuration.
func (c RunConfig) Source() (index.Source, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Table != "" {
		return index.TableSource{Dir: c.Dir, Path: c.Table}, nil
	}
	return index.PatternSource{
		Dir:        c.Dir,
		Extension:  c.Extension,
		Pattern:    c.Pattern,
		Duplicates: index.DuplicatePolicy(c.Duplicates),
	}, nil
}

// Options converts the configuration into pipeline options, starting from
// pipeline.DefaultOptions for unset fields other than MinArea.
func (c RunConfig) Options() (pipeline.Options, error) {
	opts := pipeline.DefaultOptions()
	opts.MinArea = c.MinArea
	if c.Compare != "" {
		opts.Compare = pipeline.CompareMode(c.Compare)
	}
	if c.IntensityThreshold > 0 {
		opts.IntensityThreshold = c.IntensityThreshold
	}
	if c.Workers > 0 {
		opts.Workers = c.Workers
	}
	if c.Crop != nil {
		r, err := imaging.RectFromSlice(c.Crop)
		if err != nil {
			return opts, &ValidationError{Field: "Crop", Reason: err.Error()}
		}
		opts.Crop = &r
	}
	return opts, opts.Validate()
}

// Manifest describes a saved run. It is serialized to manifest.json next to
// the array and image artifacts.
type Manifest struct {
	// ID is the unique identifier for this run
	ID string `json:"id"`

	// CreatedAt records when the run was saved
	CreatedAt time.Time `json:"createdAt"`

	// Config is the configuration the run was started with
	Config RunConfig `json:"config"`

	// Designator labels the ordering key ("index" or "elapsed time")
	Designator index.Designator `json:"designator"`

	// Width and Height are the change map dimensions after cropping
	Width  int `json:"width"`
	Height int `json:"height"`

	// Reference is the record every other frame was compared against
	Reference index.Record `json:"reference"`

	// Records counts the indexed images, reference included
	Records int `json:"records"`

	// Folded counts records that contributed to the change map
	Folded int `json:"folded"`

	// Skipped lists records left out because of per-record failures
	Skipped []pipeline.SkippedRecord `json:"skipped,omitempty"`

	// ChangedPixels counts cells that differed from the reference at some point
	ChangedPixels int `json:"changedPixels"`

	// FinalArea is the last value of the area series
	FinalArea float64 `json:"finalArea"`
}

// NewManifest builds a manifest from a finished result.
func NewManifest(runID string, cfg RunConfig, result *pipeline.Result) *Manifest {
	return &Manifest{
		ID:            runID,
		CreatedAt:     time.Now(),
		Config:        cfg,
		Designator:    result.Designator,
		Width:         result.ChangeMap.Width,
		Height:        result.ChangeMap.Height,
		Reference:     result.Reference,
		Records:       result.Records,
		Folded:        len(result.Areas),
		Skipped:       result.Skipped,
		ChangedPixels: result.ChangeMap.Changed(),
		FinalArea:     result.FinalArea(),
	}
}

// RunInfo contains metadata about a run without its arrays.
type RunInfo struct {
	ID         string           `json:"id"`
	Name       string           `json:"name,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	Designator index.Designator `json:"designator"`
	Records    int              `json:"records"`
	Skipped    int              `json:"skipped"`
	FinalArea  float64          `json:"finalArea"`
}

// ToInfo converts a full Manifest to RunInfo (metadata only).
func (m *Manifest) ToInfo() RunInfo {
	return RunInfo{
		ID:         m.ID,
		Name:       m.Config.Name,
		CreatedAt:  m.CreatedAt,
		Designator: m.Designator,
		Records:    m.Records,
		Skipped:    len(m.Skipped),
		FinalArea:  m.FinalArea,
	}
}

// Validate checks if the manifest has valid data.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return &ValidationError{Field: "ID", Reason: "cannot be empty"}
	}
	if m.CreatedAt.IsZero() {
		return &ValidationError{Field: "CreatedAt", Reason: "cannot be zero"}
	}
	if m.Width <= 0 || m.Height <= 0 {
		return &ValidationError{Field: "Width/Height", Reason: "must be positive"}
	}
	if m.Records <= 0 {
		return &ValidationError{Field: "Records", Reason: "must be positive"}
	}
	if m.Folded+len(m.Skipped) > m.Records-1 {
		return &ValidationError{
			Field:  "Folded",
			Reason: fmt.Sprintf("%d folded + %d skipped exceeds %d non-reference records", m.Folded, len(m.Skipped), m.Records-1),
		}
	}
	if m.ChangedPixels < 0 || m.ChangedPixels > m.Width*m.Height {
		return &ValidationError{Field: "ChangedPixels", Reason: "out of range"}
	}
	return nil
}

// ValidationError represents a configuration or manifest validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
