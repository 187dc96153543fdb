package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/millifluidic/internal/config"
)

var (
	logLevel   string
	configPath string
	appConfig  = config.Default()
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "millifluidic",
	Short: "Fluid invasion analysis for millifluidic micrograph series",
	Long: `Millifluidic analyses time series of micrographs from fluid invasion
experiments. It thresholds each frame, records when every pixel first
changed relative to a reference frame, and measures the invaded area.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		appConfig = cfg

		level := cfg.Log.Level
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}

		opts := &slog.HandlerOptions{Level: parseLevel(level)}
		handler := slog.NewJSONHandler(os.Stdout, opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)
		return nil
	},
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file (default $"+config.EnvConfigPath+")")
}
