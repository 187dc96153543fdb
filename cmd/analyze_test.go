package main

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/millifluidic/internal/config"
	"github.com/cwbudde/millifluidic/internal/store"
)

func TestAnalyzeFlags_RunConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Analysis.MinArea = 250
	cfg.Analysis.Compare = "intensity"
	cfg.Analysis.Workers = 3

	flags := analyzeFlags{
		dir:                "/data/exp1",
		pattern:            `img_(\d+)`,
		ext:                ".png",
		crop:               "10, 20, 110, 220",
		minArea:            1000,
		compare:            "mask",
		intensityThreshold: 50,
		duplicates:         "reject",
	}

	// Only --ext and --min-area were given on the command line
	changed := func(name string) bool { return name == "ext" || name == "min-area" }

	rc, err := flags.runConfig(cfg, changed)
	if err != nil {
		t.Fatalf("runConfig failed: %v", err)
	}

	if rc.Extension != ".png" {
		t.Errorf("Expected flag extension .png, got %s", rc.Extension)
	}
	if rc.MinArea != 1000 {
		t.Errorf("Expected flag min area 1000, got %v", rc.MinArea)
	}
	if rc.Compare != "intensity" {
		t.Errorf("Expected configured compare mode, got %s", rc.Compare)
	}
	if rc.Workers != 3 {
		t.Errorf("Expected configured workers 3, got %d", rc.Workers)
	}
	want := []int{10, 20, 110, 220}
	for i := range want {
		if rc.Crop[i] != want[i] {
			t.Fatalf("Expected crop %v, got %v", want, rc.Crop)
		}
	}
}

func TestAnalyzeFlags_RunConfigErrors(t *testing.T) {
	none := func(string) bool { return false }

	tests := []struct {
		name  string
		flags analyzeFlags
	}{
		{"no source", analyzeFlags{dir: "/data"}},
		{"both sources", analyzeFlags{dir: "/data", pattern: `(\d+)`, table: "list.csv"}},
		{"bad crop", analyzeFlags{dir: "/data", pattern: `(\d+)`, crop: "1,2,3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.flags.runConfig(config.Default(), none); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func writeTestFrame(t *testing.T, path string, bright ...image.Point) {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for _, p := range bright {
		img.SetGray(p.X, p.Y, color.Gray{Y: 255})
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create frame: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode frame: %v", err)
	}
}

// withAnalyzeState runs fn with the analyze flags and configuration set, and
// restores the globals afterwards.
func withAnalyzeState(t *testing.T, flags analyzeFlags, cfg config.Config, fn func()) {
	t.Helper()
	prevFlags, prevConfig := analyzeOpts, appConfig
	t.Cleanup(func() {
		analyzeOpts, appConfig = prevFlags, prevConfig
	})
	analyzeOpts, appConfig = flags, cfg
	fn()
}

func TestRunAnalyze(t *testing.T) {
	cfg := config.Default()
	cfg.Analysis.Extension = ".png"
	cfg.Analysis.MinArea = 0

	t.Run("failed run leaves nothing behind", func(t *testing.T) {
		dataDir := t.TempDir()
		flags := analyzeFlags{dir: t.TempDir(), pattern: `frame_(\d+)`, dataDir: dataDir}

		withAnalyzeState(t, flags, cfg, func() {
			if err := runAnalyze(analyzeCmd, nil); err == nil {
				t.Fatal("Expected error for a directory without frames")
			}
		})

		entries, err := os.ReadDir(filepath.Join(dataDir, "runs"))
		if err != nil {
			t.Fatalf("Failed to read runs directory: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("Expected no run directories, got %d", len(entries))
		}
	})

	t.Run("finished run is saved with its trace", func(t *testing.T) {
		dir := t.TempDir()
		writeTestFrame(t, filepath.Join(dir, "frame_0.png"))
		writeTestFrame(t, filepath.Join(dir, "frame_1.png"), image.Pt(0, 0))
		writeTestFrame(t, filepath.Join(dir, "frame_2.png"), image.Pt(0, 0), image.Pt(1, 1))

		dataDir := t.TempDir()
		flags := analyzeFlags{dir: dir, pattern: `frame_(\d+)`, dataDir: dataDir}

		withAnalyzeState(t, flags, cfg, func() {
			if err := runAnalyze(analyzeCmd, nil); err != nil {
				t.Fatalf("runAnalyze failed: %v", err)
			}
		})

		runStore, err := store.NewFSStore(dataDir)
		if err != nil {
			t.Fatalf("Failed to open store: %v", err)
		}
		infos, err := runStore.ListRuns()
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(infos) != 1 {
			t.Fatalf("Expected 1 saved run, got %d", len(infos))
		}
		if infos[0].FinalArea != 2 {
			t.Errorf("Expected final area 2, got %v", infos[0].FinalArea)
		}

		reader, err := store.NewTraceReader(dataDir, infos[0].ID)
		if err != nil {
			t.Fatalf("Expected trace: %v", err)
		}
		defer reader.Close()
		trace, err := reader.ReadAll()
		if err != nil {
			t.Fatalf("Failed to read trace: %v", err)
		}
		if len(trace) != 2 {
			t.Errorf("Expected 2 trace entries, got %d", len(trace))
		}
	})
}
