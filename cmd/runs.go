package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cwbudde/millifluidic/internal/catalog"
	"github.com/cwbudde/millifluidic/internal/store"
)

var (
	runsDataDir   string
	keepLast      int
	olderThanDays int
	forceClean    bool
	cleanCatalog  string
	showSamples   int
	showTrace     bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage saved analysis runs",
	Long: `Manage saved analysis runs including listing, inspecting and cleaning
old runs from the run store.`,
}

var listRunsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all saved runs",
	Long:  `Display all saved runs with metadata including run ID, creation time, record counts, final area and size on disk.`,
	RunE:  runListRuns,
}

var showRunCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one saved run",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRun,
}

var cleanRunsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old runs",
	Long: `Delete old runs based on retention policy.
You can specify how many runs to keep or delete runs older than N days.
When a sweep catalog is configured, deleted runs are removed from it too.`,
	RunE: runCleanRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.AddCommand(listRunsCmd)
	runsCmd.AddCommand(showRunCmd)
	runsCmd.AddCommand(cleanRunsCmd)

	runsCmd.PersistentFlags().StringVar(&runsDataDir, "data-dir", "", "Base directory for run storage (default from config)")

	showRunCmd.Flags().IntVar(&showSamples, "samples", 10, "Number of trailing area samples to print (0 = all)")
	showRunCmd.Flags().BoolVar(&showTrace, "trace", false, "Print the per-record trace instead of the area samples")

	cleanRunsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the last N runs (0 = keep all)")
	cleanRunsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete runs older than N days (0 = no age limit)")
	cleanRunsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
	cleanRunsCmd.Flags().StringVar(&cleanCatalog, "catalog", "", "Sweep catalog to prune (default from config; empty disables)")
}

func openRunStore() (*store.FSStore, error) {
	dir := runsDataDir
	if dir == "" {
		dir = appConfig.Data.Dir
	}
	runStore, err := store.NewFSStore(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create run store: %w", err)
	}
	return runStore, nil
}

func runListRuns(cmd *cobra.Command, args []string) error {
	runStore, err := openRunStore()
	if err != nil {
		return err
	}

	infos, err := runStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tCREATED\tNAME\tRECORDS\tSKIPPED\tFINAL AREA\tSIZE")
	fmt.Fprintln(w, "------\t-------\t----\t-------\t-------\t----------\t----")

	for _, info := range infos {
		size, err := getDirSize(runStore.RunDir(info.ID))
		sizeStr := "unknown"
		if err == nil {
			sizeStr = humanize.Bytes(uint64(size))
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			shortID(info.ID),
			humanize.Time(info.CreatedAt),
			info.Name,
			info.Records,
			info.Skipped,
			humanize.Commaf(info.FinalArea),
			sizeStr,
		)
	}

	w.Flush()

	fmt.Printf("\nTotal runs: %d\n", len(infos))
	return nil
}

func runShowRun(cmd *cobra.Command, args []string) error {
	runStore, err := openRunStore()
	if err != nil {
		return err
	}

	m, err := runStore.LoadManifest(args[0])
	if err != nil {
		return err
	}
	series, err := runStore.LoadAreaSeries(m.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Run: %s\n", m.ID)
	if m.Config.Name != "" {
		fmt.Printf("Name: %s\n", m.Config.Name)
	}
	fmt.Printf("Created: %s (%s)\n", m.CreatedAt.Format("2006-01-02 15:04:05"), humanize.Time(m.CreatedAt))
	fmt.Printf("Directory: %s\n", runStore.RunDir(m.ID))
	fmt.Println()

	fmt.Println("Configuration:")
	if m.Config.Table != "" {
		fmt.Printf("  Table: %s\n", m.Config.Table)
	} else {
		fmt.Printf("  Images: %s/%s*%s\n", m.Config.Dir, m.Config.Pattern, m.Config.Extension)
	}
	if m.Config.Crop != nil {
		fmt.Printf("  Crop: %v\n", m.Config.Crop)
	}
	fmt.Printf("  Compare: %s\n", m.Config.Compare)
	fmt.Printf("  Min area: %s px\n", humanize.Commaf(m.Config.MinArea))
	fmt.Println()

	fmt.Println("Result:")
	fmt.Printf("  Reference: %s (index %d)\n", m.Reference.Filename, m.Reference.Index)
	fmt.Printf("  Records: %d (%d folded, %d skipped)\n", m.Records, m.Folded, len(m.Skipped))
	fmt.Printf("  Frame: %dx%d, %s changed pixels\n", m.Width, m.Height, humanize.Comma(int64(m.ChangedPixels)))
	fmt.Printf("  Final area: %s px\n", humanize.Commaf(m.FinalArea))
	for _, s := range m.Skipped {
		fmt.Printf("  Skipped %s (%s): %s\n", s.Filename, s.Reason, s.Error)
	}

	if showTrace {
		reader, err := store.NewTraceReader(runStore.BaseDir(), m.ID)
		if err != nil {
			return err
		}
		defer reader.Close()

		entries, err := reader.ReadAll()
		if err != nil {
			return err
		}
		fmt.Println()
		writeTrace(os.Stdout, string(m.Designator), entries)
		return nil
	}

	if len(series) > 0 {
		start := 0
		if showSamples > 0 && len(series) > showSamples {
			start = len(series) - showSamples
		}
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "INDEX\t%s\tAREA\n", designatorHeader(string(m.Designator)))
		for _, s := range series[start:] {
			fmt.Fprintf(w, "%d\t%g\t%s\n", s.Index, s.Key, humanize.Commaf(s.Area))
		}
		w.Flush()
	}
	return nil
}

// writeTrace prints one row per record consumed by the fold loop.
func writeTrace(out io.Writer, designator string, entries []store.TraceEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "INDEX\t%s\tFILE\tCHANGED\tAREA\tNOTE\n", designatorHeader(designator))
	for _, e := range entries {
		note := ""
		if e.Skipped {
			note = fmt.Sprintf("skipped (%s): %s", e.Reason, e.Error)
		}
		fmt.Fprintf(w, "%d\t%g\t%s\t%s\t%s\t%s\n",
			e.Index, e.Key, e.Filename, humanize.Comma(int64(e.Changed)), humanize.Commaf(e.Area), note)
	}
	w.Flush()
}

func designatorHeader(d string) string {
	if d == "" {
		return "KEY"
	}
	return fmt.Sprintf("KEY (%s)", d)
}

func runCleanRuns(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	runStore, err := openRunStore()
	if err != nil {
		return err
	}

	infos, err := runStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No runs to clean.")
		return nil
	}

	toDelete := selectRunsForDeletion(infos, keepLast, olderThanDays, time.Now())

	if len(toDelete) == 0 {
		fmt.Println("No runs match deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d run(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Printf("  - %s (%d records, %s)\n",
			shortID(info.ID),
			info.Records,
			info.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}

	// Ask for confirmation unless --force is set
	if !forceClean {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var db *catalog.DB
	catalogPath := cleanCatalog
	if catalogPath == "" {
		catalogPath = appConfig.Catalog.Path
	}
	if catalogPath != "" {
		db, err = catalog.New(catalogPath)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.RunMigrations(); err != nil {
			return err
		}
	}

	deleted, failed := deleteRuns(cmd.Context(), runStore, db, toDelete)

	fmt.Printf("\nDeleted %d run(s), %d failed.\n", deleted, failed)
	return nil
}

// deleteRuns removes runs from the store and, when db is not nil, from the
// sweep catalog. Runs that were never catalogued are not an error.
func deleteRuns(ctx context.Context, runStore store.Store, db *catalog.DB, infos []store.RunInfo) (deleted, failed int) {
	for _, info := range infos {
		if err := runStore.DeleteRun(info.ID); err != nil {
			slog.Error("Failed to delete run", "run_id", info.ID, "error", err)
			failed++
			continue
		}
		if db != nil {
			if err := db.DeleteRun(ctx, info.ID); err != nil && !errors.Is(err, catalog.ErrNotFound) {
				slog.Warn("Failed to remove run from catalog", "run_id", info.ID, "error", err)
			}
		}
		slog.Info("Deleted run", "run_id", info.ID)
		deleted++
	}
	return deleted, failed
}

// selectRunsForDeletion applies the age and count retention rules. A run
// matching both rules is listed once.
func selectRunsForDeletion(infos []store.RunInfo, keepLast int, olderThanDays int, now time.Time) []store.RunInfo {
	var toDelete []store.RunInfo
	selected := make(map[string]bool)

	if olderThanDays > 0 {
		cutoff := now.AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.CreatedAt.Before(cutoff) {
				toDelete = append(toDelete, info)
				selected[info.ID] = true
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := make([]store.RunInfo, len(infos))
		copy(sorted, infos)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

		for _, info := range sorted[:len(sorted)-keepLast] {
			if !selected[info.ID] {
				toDelete = append(toDelete, info)
				selected[info.ID] = true
			}
		}
	}

	return toDelete
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
