package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cwbudde/millifluidic/internal/catalog"
)

var (
	sweepCatalog    string
	sweepExperiment string
	sweepLocation   string
	sweepSeries     bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Compare catalogued runs across a parameter sweep",
	Long: `Lists runs recorded in the sweep catalog ordered by flow rate and alpha,
optionally with their full area series.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepCatalog, "catalog", "", "Sweep catalog database (default from config)")
	sweepCmd.Flags().StringVar(&sweepExperiment, "experiment", "", "Only show this experiment")
	sweepCmd.Flags().StringVar(&sweepLocation, "location", "", "Only show this location")
	sweepCmd.Flags().BoolVar(&sweepSeries, "series", false, "Print the area series of every run")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	path := sweepCatalog
	if path == "" {
		path = appConfig.Catalog.Path
	}
	if path == "" {
		return fmt.Errorf("no catalog configured: use --catalog or catalog.path")
	}

	db, err := catalog.New(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		return err
	}

	ctx := cmd.Context()
	entries, err := db.ListRuns(ctx, catalog.Filter{Experiment: sweepExperiment, Location: sweepLocation})
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No catalogued runs.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EXPERIMENT\tFLOW RATE\tALPHA\tLOCATION\tRECORDS\tFINAL AREA\tRUN ID")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%g\t%g\t%s\t%d\t%s\t%s\n",
			e.Experiment, e.FlowRate, e.Alpha, e.Location, e.Records, humanize.Commaf(e.FinalArea), shortID(e.ID))
	}
	w.Flush()

	if !sweepSeries {
		return nil
	}

	for _, e := range entries {
		series, err := db.AreaSeries(ctx, e.ID)
		if err != nil {
			return err
		}
		fmt.Printf("\n%s flow=%g alpha=%g (%s)\n", e.Experiment, e.FlowRate, e.Alpha, e.Designator)
		for _, s := range series {
			fmt.Printf("  %g\t%g\n", s.Key, s.Area)
		}
	}
	return nil
}
