package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// chdir moves into an empty directory so no stray .env is picked up.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvConfigPath, EnvDataDir, EnvCatalogPath, EnvServerAddr, EnvLogLevel, EnvWorkers, EnvMinArea} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t)
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := chdir(t)
	clearEnv(t)

	path := filepath.Join(dir, "millifluidic.yaml")
	yamlData := `
data:
  dir: /srv/runs
log:
  level: debug
analysis:
  minArea: 250
  compare: intensity
  intensityThreshold: 20
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0644))

	t.Setenv(EnvConfigPath, path)
	t.Setenv(EnvWorkers, "3")
	t.Setenv(EnvServerAddr, ":9090")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/srv/runs", cfg.Data.Dir)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 250.0, cfg.Analysis.MinArea)
	require.Equal(t, "intensity", cfg.Analysis.Compare)
	require.Equal(t, 20.0, cfg.Analysis.IntensityThreshold)
	require.Equal(t, 3, cfg.Analysis.Workers)
	require.Equal(t, ":9090", cfg.Server.Addr)
	// Untouched keys keep defaults
	require.Equal(t, ".tif", cfg.Analysis.Extension)

	// Env beats file
	t.Setenv(EnvMinArea, "10")
	cfg, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, 10.0, cfg.Analysis.MinArea)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := chdir(t)
	clearEnv(t)
	os.Unsetenv(EnvCatalogPath)

	require.NoError(t, os.WriteFile(filepath.Join(dir, DotEnvFile), []byte(EnvCatalogPath+"=sweep.db\n"), 0644))
	t.Cleanup(func() { os.Unsetenv(EnvCatalogPath) })

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "sweep.db", cfg.Catalog.Path)
}

func TestLoad_Errors(t *testing.T) {
	dir := chdir(t)
	clearEnv(t)

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("data: [unclosed"), 0644))
	_, err = Load(bad)
	require.Error(t, err)

	t.Setenv(EnvWorkers, "many")
	_, err = Load("")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"compare", func(c *Config) { c.Analysis.Compare = "xor" }},
		{"duplicates", func(c *Config) { c.Analysis.Duplicates = "first" }},
		{"min area", func(c *Config) { c.Analysis.MinArea = -1 }},
		{"threshold", func(c *Config) { c.Analysis.IntensityThreshold = 0 }},
		{"workers", func(c *Config) { c.Analysis.Workers = -2 }},
		{"data dir", func(c *Config) { c.Data.Dir = "" }},
	}

	require.NoError(t, Default().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
