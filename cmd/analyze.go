package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/millifluidic/internal/catalog"
	"github.com/cwbudde/millifluidic/internal/config"
	"github.com/cwbudde/millifluidic/internal/imaging"
	"github.com/cwbudde/millifluidic/internal/pipeline"
	"github.com/cwbudde/millifluidic/internal/store"
)

// analyzeFlags holds the analyze command line. Fields the user did not set
// fall back to configuration.
type analyzeFlags struct {
	dir                string
	pattern            string
	ext                string
	table              string
	crop               string
	minArea            float64
	compare            string
	intensityThreshold float64
	duplicates         string
	workers            int
	name               string
	dataDir            string

	catalogPath string
	experiment  string
	flowRate    float64
	alpha       float64
	location    string
}

var analyzeOpts analyzeFlags

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyse one image series",
	Long: `Indexes an image series by filename pattern or by an image list table,
thresholds every frame, builds the first-change map against the first frame
and measures the invaded area of each later frame. Results are saved under
<data-dir>/runs/<run-id>/ and optionally recorded in a sweep catalog.`,
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeOpts.dir, "dir", "", "Directory containing the images")
	f.StringVar(&analyzeOpts.pattern, "pattern", "", `Filename pattern with one integer capture group, e.g. "img_(\d+)"`)
	f.StringVar(&analyzeOpts.ext, "ext", ".tif", "Image file extension in pattern mode")
	f.StringVar(&analyzeOpts.table, "table", "", "Image list CSV (index, elapsedTime, use, imageFile)")
	f.StringVar(&analyzeOpts.crop, "crop", "", "Crop rectangle x1,y1,x2,y2 (columns x1..x2-1, rows y1..y2-1)")
	f.Float64Var(&analyzeOpts.minArea, "min-area", 1000, "Components at or below this pixel count are ignored")
	f.StringVar(&analyzeOpts.compare, "compare", "mask", "Frame comparison: mask or intensity")
	f.Float64Var(&analyzeOpts.intensityThreshold, "intensity-threshold", 50, "Minimum luminance difference in intensity mode")
	f.StringVar(&analyzeOpts.duplicates, "duplicates", "reject", "Duplicate index policy in pattern mode: reject or last")
	f.IntVar(&analyzeOpts.workers, "workers", 0, "Preprocessing workers (0 = one per CPU)")
	f.StringVar(&analyzeOpts.name, "name", "", "Human readable run name")
	f.StringVar(&analyzeOpts.dataDir, "data-dir", "", "Base directory for run storage (default from config)")

	f.StringVar(&analyzeOpts.catalogPath, "catalog", "", "Sweep catalog database (default from config; empty disables)")
	f.StringVar(&analyzeOpts.experiment, "experiment", "", "Experiment name recorded in the catalog")
	f.Float64Var(&analyzeOpts.flowRate, "flow-rate", 0, "Flow rate in mL/min recorded in the catalog")
	f.Float64Var(&analyzeOpts.alpha, "alpha", 0, "Alpha recorded in the catalog")
	f.StringVar(&analyzeOpts.location, "location", "", "Location recorded in the catalog")

	rootCmd.AddCommand(analyzeCmd)
}

// runConfig merges flags with configuration. changed reports whether the
// user set a flag explicitly.
func (a analyzeFlags) runConfig(cfg config.Config, changed func(string) bool) (store.RunConfig, error) {
	rc := store.RunConfig{
		Name:               a.name,
		Dir:                a.dir,
		Extension:          a.ext,
		Pattern:            a.pattern,
		Table:              a.table,
		Duplicates:         a.duplicates,
		MinArea:            a.minArea,
		Compare:            a.compare,
		IntensityThreshold: a.intensityThreshold,
		Workers:            a.workers,
	}

	if !changed("ext") {
		rc.Extension = cfg.Analysis.Extension
	}
	if !changed("duplicates") {
		rc.Duplicates = cfg.Analysis.Duplicates
	}
	if !changed("min-area") {
		rc.MinArea = cfg.Analysis.MinArea
	}
	if !changed("compare") {
		rc.Compare = cfg.Analysis.Compare
	}
	if !changed("intensity-threshold") {
		rc.IntensityThreshold = cfg.Analysis.IntensityThreshold
	}
	if !changed("workers") {
		rc.Workers = cfg.Analysis.Workers
	}

	if a.crop != "" {
		r, err := imaging.ParseRect(a.crop)
		if err != nil {
			return rc, err
		}
		rc.Crop = []int{r.X1, r.Y1, r.X2, r.Y2}
	}

	if err := rc.Validate(); err != nil {
		return rc, err
	}
	return rc, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	rc, err := analyzeOpts.runConfig(appConfig, cmd.Flags().Changed)
	if err != nil {
		return err
	}

	src, err := rc.Source()
	if err != nil {
		return err
	}
	opts, err := rc.Options()
	if err != nil {
		return err
	}

	dataDir := analyzeOpts.dataDir
	if dataDir == "" {
		dataDir = appConfig.Data.Dir
	}
	runStore, err := store.NewFSStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to create run store: %w", err)
	}

	runID := uuid.New().String()
	trace, err := store.NewTraceWriter(dataDir, runID)
	if err != nil {
		return fmt.Errorf("failed to open trace: %w", err)
	}
	slog.Debug("Trace opened", "run_id", runID, "path", trace.Path())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	observer := func(p pipeline.Progress) {
		if entry, ok := store.EntryFromProgress(p); ok {
			if err := trace.Write(entry); err != nil {
				slog.Warn("Failed to write trace entry", "run_id", runID, "error", err)
			}
		}
	}

	slog.Info("Starting run", "run_id", runID, "dir", rc.Dir, "pattern", rc.Pattern, "table", rc.Table)

	result, runErr := pipeline.NewRunner(opts, observer).Run(ctx, src)
	if err := trace.Close(); err != nil {
		slog.Warn("Failed to close trace", "run_id", runID, "error", err)
	}
	if result == nil || (runErr != nil && !errors.Is(runErr, context.Canceled)) {
		if err := runStore.DeleteRun(runID); err != nil {
			slog.Warn("Failed to remove unfinished run", "run_id", runID, "error", err)
		}
		return runErr
	}
	if runErr != nil {
		slog.Warn("Run interrupted, saving partial result", "run_id", runID, "folded", len(result.Areas))
	}

	manifest, err := runStore.SaveRun(runID, rc, result)
	if err != nil {
		return err
	}

	catalogPath := analyzeOpts.catalogPath
	if catalogPath == "" {
		catalogPath = appConfig.Catalog.Path
	}
	if catalogPath != "" && runErr == nil {
		if err := recordInCatalog(ctx, catalogPath, runStore.RunDir(runID), manifest, result); err != nil {
			return err
		}
	}

	printSummary(runStore.RunDir(runID), manifest)
	return runErr
}

func recordInCatalog(ctx context.Context, path, runDir string, m *store.Manifest, result *pipeline.Result) error {
	db, err := catalog.New(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		return err
	}

	entry := catalog.Entry{
		ID:         m.ID,
		Experiment: analyzeOpts.experiment,
		FlowRate:   analyzeOpts.flowRate,
		Alpha:      analyzeOpts.alpha,
		Location:   analyzeOpts.location,
		Designator: string(m.Designator),
		Records:    m.Records,
		FinalArea:  m.FinalArea,
		DataDir:    runDir,
		CreatedAt:  m.CreatedAt,
	}
	if err := db.RecordRun(ctx, entry, result.Areas); err != nil {
		return fmt.Errorf("failed to record run in catalog: %w", err)
	}

	slog.Info("Run catalogued", "run_id", m.ID, "catalog", path, "experiment", entry.Experiment)
	return nil
}

func printSummary(runDir string, m *store.Manifest) {
	fmt.Printf("Run %s\n", m.ID)
	fmt.Printf("  Records:        %d (%d folded, %d skipped)\n", m.Records, m.Folded, len(m.Skipped))
	fmt.Printf("  Ordered by:     %s\n", m.Designator)
	fmt.Printf("  Frame size:     %dx%d\n", m.Width, m.Height)
	fmt.Printf("  Changed pixels: %s\n", humanize.Comma(int64(m.ChangedPixels)))
	fmt.Printf("  Final area:     %s px\n", humanize.Commaf(m.FinalArea))
	fmt.Printf("  Output:         %s\n", runDir)
	for _, s := range m.Skipped {
		fmt.Printf("  Skipped %s (%s): %s\n", s.Filename, s.Reason, s.Error)
	}
}
