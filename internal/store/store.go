package store

import (
	"github.com/cwbudde/millifluidic/internal/change"
	"github.com/cwbudde/millifluidic/internal/pipeline"
)

// Store defines the interface for persisting finished analysis runs.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return ErrNotFound if the run doesn't exist (for Load*/Delete)
//   - Return descriptive errors for I/O, serialization, or validation failures
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveRun persists the result of a run under runID together with its
	// configuration. The manifest is written last and atomically, so a run
	// without a manifest is treated as absent.
	SaveRun(runID string, cfg RunConfig, result *pipeline.Result) (*Manifest, error)

	// LoadManifest retrieves the manifest for the given run.
	// Returns ErrNotFound if no manifest exists for this runID.
	LoadManifest(runID string) (*Manifest, error)

	// LoadChangeMap reads the change map array saved with the run.
	LoadChangeMap(runID string) (*change.Map, error)

	// LoadAreaSeries reads the area time series saved with the run.
	LoadAreaSeries(runID string) ([]pipeline.AreaSample, error)

	// ListRuns returns metadata for all stored runs.
	// The returned slice may be empty if no runs exist.
	ListRuns() ([]RunInfo, error)

	// DeleteRun removes the run directory and every artifact in it:
	//   - manifest.json
	//   - changemap.npy, keys.npy, areas.npy
	//   - changemap.png, reference.png
	//   - areas.csv
	//   - trace.jsonl
	//
	// Returns ErrNotFound if no run exists for this runID.
	DeleteRun(runID string) error
}

// ErrNotFound is returned when a requested run does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run error.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "run not found: " + e.RunID
	}
	return "run not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
