package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Query server status or specific run",
	Long: `Queries the server for run status information.
If no run-id is provided, lists all runs.
If run-id is provided, shows detailed status for that run.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listJobs(fmt.Sprintf("%s/api/v1/runs", serverURL))
	}
	runID := args[0]
	return getJobStatus(fmt.Sprintf("%s/api/v1/runs/%s/status", serverURL, runID), runID)
}

func listJobs(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var jobs []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("Found %d run(s):\n\n", len(jobs))
	for _, job := range jobs {
		config, _ := job["config"].(map[string]interface{})
		fmt.Printf("Run ID: %s\n", job["id"])
		fmt.Printf("  State: %s (%s)\n", job["state"], job["stage"])
		fmt.Printf("  Source: %s\n", sourceOf(config))
		fmt.Printf("  Progress: %v/%v\n", job["done"], job["total"])
		if area, ok := job["area"].(float64); ok && area > 0 {
			fmt.Printf("  Area: %s px\n", humanize.Commaf(area))
		}
		fmt.Println()
	}

	return nil
}

func getJobStatus(url, runID string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("run not found: %s", runID)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	// Stored runs answer with their manifest, which has no live state
	if _, live := status["state"]; !live {
		fmt.Printf("Run: %s (stored)\n", status["id"])
		fmt.Printf("Records: %v, folded: %v\n", status["records"], status["folded"])
		if area, ok := status["finalArea"].(float64); ok {
			fmt.Printf("Final area: %s px\n", humanize.Commaf(area))
		}
		return nil
	}

	fmt.Printf("Run: %s\n", status["id"])
	fmt.Printf("State: %s (%s)\n", status["state"], status["stage"])
	fmt.Println()

	config, _ := status["config"].(map[string]interface{})
	fmt.Println("Configuration:")
	fmt.Printf("  Source: %s\n", sourceOf(config))
	fmt.Printf("  Compare: %v\n", config["compare"])
	fmt.Printf("  Min area: %v\n", config["minArea"])
	if crop, ok := config["crop"]; ok {
		fmt.Printf("  Crop: %v\n", crop)
	}
	fmt.Println()

	fmt.Println("Progress:")
	fmt.Printf("  Records: %v/%v (%v skipped)\n", status["done"], status["total"], status["skipped"])
	if area, ok := status["area"].(float64); ok {
		fmt.Printf("  Area: %s px\n", humanize.Commaf(area))
	}

	if elapsed, ok := status["elapsed"].(float64); ok {
		d := time.Duration(elapsed * float64(time.Second))
		fmt.Printf("  Elapsed: %s\n", d.Round(time.Millisecond))
	}

	if rate, ok := status["recordsPerSec"].(float64); ok && rate > 0 {
		fmt.Printf("  Throughput: %.1f records/sec\n", rate)
	}

	if saved, ok := status["saved"].(bool); ok && saved {
		fmt.Println("  Saved to store")
	}

	if msg, ok := status["error"].(string); ok && msg != "" {
		fmt.Printf("\nError: %s\n", msg)
	}

	return nil
}

func sourceOf(config map[string]interface{}) string {
	if config == nil {
		return "unknown"
	}
	if table, ok := config["table"].(string); ok && table != "" {
		return "table " + table
	}
	return fmt.Sprintf("%v/%v*%v", config["dir"], config["pattern"], config["extension"])
}
