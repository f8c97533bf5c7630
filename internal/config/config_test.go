package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "gwr.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Fit.MinObservations)
	assert.Equal(t, 50, cfg.Grid.MinObservations)
	assert.Equal(t, 4, cfg.Grid.Concurrency)
	assert.Equal(t, "gauss", cfg.GWR.Kernel)
	assert.Zero(t, cfg.GWR.Bandwidth)
	assert.InDelta(t, 2.0, cfg.Interp.IDWPower, 0.001)
	assert.Equal(t, 5, cfg.Interp.Folds)
	assert.Equal(t, 999, cfg.Moran.Permutations)
	assert.Equal(t, 8, cfg.Moran.KNN)
	assert.Equal(t, "NAME", cfg.Boundaries.NameAttr)
	assert.Equal(t, "/tmp/gwr", cfg.Fetch.TempDir)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/gwr
log:
  level: debug
  format: console
grid:
  cell_size: 10
  radius: 50
  min_observations: 25
gwr:
  kernel: bisquare
  bandwidth: 75
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.InDelta(t, 10.0, cfg.Grid.CellSize, 0.001)
	assert.InDelta(t, 50.0, cfg.Grid.Radius, 0.001)
	assert.Equal(t, 25, cfg.Grid.MinObservations)
	assert.Equal(t, "bisquare", cfg.GWR.Kernel)
	assert.InDelta(t, 75.0, cfg.GWR.Bandwidth, 0.001)
	// Defaults still apply for unset values
	assert.Equal(t, 999, cfg.Moran.Permutations)
	assert.Equal(t, 5, cfg.Fit.MinObservations)
}

func TestInitLoggerBadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	require.Error(t, err)
}
