package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/cwbudde/millifluidic/internal/change"
	"github.com/cwbudde/millifluidic/internal/pipeline"
)

// Artifact file names inside a run directory.
const (
	ManifestFile     = "manifest.json"
	ChangeMapFile    = "changemap.npy"
	KeysFile         = "keys.npy"
	AreasFile        = "areas.npy"
	ChangeMapPNGFile = "changemap.png"
	ReferencePNGFile = "reference.png"
	AreasCSVFile     = "areas.csv"
	TraceFile        = "trace.jsonl"
)

// FSStore implements the Store interface using filesystem-based persistence.
// Runs are stored in a directory structure: <baseDir>/runs/<runID>/
//
// Thread-safety: the manifest is written with temp file + rename, and each
// run owns its directory, so concurrent calls for different runs do not
// interfere.
type FSStore struct {
	baseDir string // Root directory for all run data (e.g., "./data")
}

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSStore{
		baseDir: baseDir,
	}, nil
}

// BaseDir returns the root directory of the store.
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

// RunDir returns the directory path for a given run ID.
func (fs *FSStore) RunDir(runID string) string {
	return filepath.Join(fs.baseDir, "runs", runID)
}

func (fs *FSStore) manifestPath(runID string) string {
	return filepath.Join(fs.RunDir(runID), ManifestFile)
}

// SaveRun writes every artifact of the run, then the manifest.
func (fs *FSStore) SaveRun(runID string, cfg RunConfig, result *pipeline.Result) (*Manifest, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if result == nil || result.ChangeMap == nil {
		return nil, fmt.Errorf("result cannot be nil")
	}

	runDir := fs.RunDir(runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	if err := writeArtifacts(runDir, result); err != nil {
		return nil, err
	}

	manifest := NewManifest(runID, cfg, result)
	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize manifest: %w", err)
	}

	// Write to temporary file first (atomic pattern)
	tempPath := fs.manifestPath(runID) + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write temp manifest file: %w", err)
	}

	finalPath := fs.manifestPath(runID)
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("failed to rename manifest file: %w", err)
	}

	slog.Info("Run saved", "run_id", runID, "dir", runDir, "folded", manifest.Folded)
	return manifest, nil
}

// LoadManifest retrieves the manifest for the given run.
func (fs *FSStore) LoadManifest(runID string) (*Manifest, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}

	path := fs.manifestPath(runID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{RunID: runID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to deserialize manifest: %w", err)
	}

	slog.Debug("Manifest loaded", "run_id", runID, "path", path)
	return &manifest, nil
}

// LoadChangeMap reads changemap.npy for the given run.
func (fs *FSStore) LoadChangeMap(runID string) (*change.Map, error) {
	if _, err := fs.LoadManifest(runID); err != nil {
		return nil, err
	}
	return readChangeMap(filepath.Join(fs.RunDir(runID), ChangeMapFile))
}

// LoadAreaSeries reads areas.csv for the given run.
func (fs *FSStore) LoadAreaSeries(runID string) ([]pipeline.AreaSample, error) {
	if _, err := fs.LoadManifest(runID); err != nil {
		return nil, err
	}
	return readAreaCSV(filepath.Join(fs.RunDir(runID), AreasCSVFile))
}

// ListRuns returns metadata for all stored runs, newest first.
func (fs *FSStore) ListRuns() ([]RunInfo, error) {
	runsDir := filepath.Join(fs.baseDir, "runs")

	entries, err := os.ReadDir(runsDir)
	if os.IsNotExist(err) {
		return []RunInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	infos := []RunInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		manifest, err := fs.LoadManifest(entry.Name())
		if err != nil {
			// Runs without a manifest are incomplete; corrupt ones are logged.
			if !errors.Is(err, ErrNotFound) {
				slog.Warn("Failed to load manifest for listing", "run_id", entry.Name(), "error", err)
			}
			continue
		}

		infos = append(infos, manifest.ToInfo())
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })

	slog.Debug("Listed runs", "count", len(infos))
	return infos, nil
}

// DeleteRun removes the run and all associated artifacts.
func (fs *FSStore) DeleteRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	runDir := fs.RunDir(runID)
	if _, err := os.Stat(runDir); os.IsNotExist(err) {
		return &NotFoundError{RunID: runID}
	} else if err != nil {
		return fmt.Errorf("failed to stat run directory: %w", err)
	}

	if err := os.RemoveAll(runDir); err != nil {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}

	slog.Debug("Run deleted", "run_id", runID, "path", runDir)
	return nil
}
