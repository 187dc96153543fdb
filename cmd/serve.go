package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/millifluidic/internal/config"
	"github.com/cwbudde/millifluidic/internal/server"
	"github.com/cwbudde/millifluidic/internal/store"
)

var (
	serveAddr    string
	serveDataDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server",
	Long: `Starts the HTTP API. Runs submitted to /api/v1/runs execute in the
background, stream progress over a websocket and are saved to the run store.
Prometheus metrics are served on /metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "", "Base directory for run storage (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	addr := serveAddr
	if addr == "" {
		addr = appConfig.Server.Addr
	}
	dataDir := serveDataDir
	if dataDir == "" {
		dataDir = appConfig.Data.Dir
	}

	runStore, err := store.NewFSStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to create run store: %w", err)
	}

	srv := server.NewServer(addr, runStore)
	srv.SetRunDefaults(runDefaults(appConfig))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		slog.Info("Received signal", "signal", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// runDefaults maps the analysis section of the configuration onto the
// settings the server applies to incomplete run requests.
func runDefaults(cfg config.Config) store.RunConfig {
	return store.RunConfig{
		Extension:          cfg.Analysis.Extension,
		Duplicates:         cfg.Analysis.Duplicates,
		MinArea:            cfg.Analysis.MinArea,
		Compare:            cfg.Analysis.Compare,
		IntensityThreshold: cfg.Analysis.IntensityThreshold,
		Workers:            cfg.Analysis.Workers,
	}
}
