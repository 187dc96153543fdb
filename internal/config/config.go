// Package config loads settings shared by the CLI and the HTTP server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvConfigPath  = "MILLIFLUIDIC_CONFIG_PATH"
	EnvDataDir     = "MILLIFLUIDIC_DATA_DIR"
	EnvCatalogPath = "MILLIFLUIDIC_CATALOG_PATH"
	EnvServerAddr  = "MILLIFLUIDIC_SERVER_ADDR"
	EnvLogLevel    = "MILLIFLUIDIC_LOG_LEVEL"
	EnvWorkers     = "MILLIFLUIDIC_WORKERS"
	EnvMinArea     = "MILLIFLUIDIC_MIN_AREA"
)

// DotEnvFile is loaded from the working directory when present.
const DotEnvFile = ".env"

// Config defines application configuration.
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Analysis AnalysisConfig `yaml:"analysis"`
}

type DataConfig struct {
	Dir string `yaml:"dir"`
}

type CatalogConfig struct {
	Path string `yaml:"path"` // empty disables the catalog
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// AnalysisConfig holds defaults for analyze flags the user did not set.
type AnalysisConfig struct {
	Extension          string  `yaml:"extension"`
	MinArea            float64 `yaml:"minArea"`
	Compare            string  `yaml:"compare"`
	IntensityThreshold float64 `yaml:"intensityThreshold"`
	Duplicates         string  `yaml:"duplicates"`
	Workers            int     `yaml:"workers"` // 0 means one per CPU
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Data:   DataConfig{Dir: "./data"},
		Server: ServerConfig{Addr: "localhost:8080"},
		Log:    LogConfig{Level: "info"},
		Analysis: AnalysisConfig{
			Extension:          ".tif",
			MinArea:            1000,
			Compare:            "mask",
			IntensityThreshold: 50,
			Duplicates:         "reject",
		},
	}
}

// Load reads configuration from defaults, an optional .env file, an optional
// YAML file and environment variables, in that order. path overrides
// MILLIFLUIDIC_CONFIG_PATH when non-empty.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", DotEnvFile, err)
	}

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if dir := os.Getenv(EnvDataDir); dir != "" {
		cfg.Data.Dir = dir
	}
	if p := os.Getenv(EnvCatalogPath); p != "" {
		cfg.Catalog.Path = p
	}
	if addr := os.Getenv(EnvServerAddr); addr != "" {
		cfg.Server.Addr = addr
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.Log.Level = level
	}
	if s := os.Getenv(EnvWorkers); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvWorkers, err)
		}
		cfg.Analysis.Workers = n
	}
	if s := os.Getenv(EnvMinArea); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvMinArea, err)
		}
		cfg.Analysis.MinArea = v
	}

	return cfg, cfg.Validate()
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// Validate checks enum and range fields.
func (c Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Analysis.Compare {
	case "mask", "intensity":
	default:
		return fmt.Errorf("invalid compare mode %q", c.Analysis.Compare)
	}
	switch c.Analysis.Duplicates {
	case "reject", "last":
	default:
		return fmt.Errorf("invalid duplicate policy %q", c.Analysis.Duplicates)
	}
	if c.Analysis.MinArea < 0 {
		return fmt.Errorf("min area cannot be negative: %v", c.Analysis.MinArea)
	}
	if c.Analysis.IntensityThreshold <= 0 {
		return fmt.Errorf("intensity threshold must be positive: %v", c.Analysis.IntensityThreshold)
	}
	if c.Analysis.Workers < 0 {
		return fmt.Errorf("workers cannot be negative: %d", c.Analysis.Workers)
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data dir cannot be empty")
	}
	return nil
}
