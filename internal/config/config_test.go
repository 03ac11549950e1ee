package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cholette-research/tract-cli/internal/vulnindex"
)

func TestLoadDefaults(t *testing.T) {
	// Run from an empty directory so no config.yaml is picked up.
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 2022, cfg.Census.Year)
	assert.Equal(t, "acs/acs5", cfg.Census.Dataset)
	assert.Equal(t, "06", cfg.Census.StateFIPS)
	assert.Equal(t, 0.5, cfg.Resolver.TransitRadiusMiles)
	assert.Equal(t, "mobility", cfg.Classify.Scheme)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
census:
  year: 2019
  county_fips: "085"
classify:
  scheme: working-poor
index:
  components:
    - name: poverty_rate
      weight: 0.5
      direction: higher
    - name: pop_density
      weight: 0.5
      direction: lower
report:
  regions:
    Bay Area: ["001", "085"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2019, cfg.Census.Year)
	assert.Equal(t, "085", cfg.Census.CountyFIPS)
	assert.Equal(t, "working-poor", cfg.Classify.Scheme)
	require.Len(t, cfg.Index.Components, 2)
	assert.Equal(t, "poverty_rate", cfg.Index.Components[0].Name)
	assert.Equal(t, []string{"001", "085"}, cfg.Report.Regions["Bay Area"])

	// Components from file win over the built-in defaults.
	assert.Len(t, cfg.IndexComponents(), 2)
}

func TestIndexComponentsDefault(t *testing.T) {
	cfg := &Config{}
	components := cfg.IndexComponents()
	require.NotEmpty(t, components)

	var sum float64
	for _, c := range components {
		sum += c.Weight
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestIndexScenariosDefault(t *testing.T) {
	cfg := &Config{}
	scenarios := cfg.IndexScenarios()
	require.NotEmpty(t, scenarios)
	assert.Equal(t, "baseline", scenarios[0].Name)

	cfg.Index.Scenarios = []vulnindex.Scenario{
		{Name: "only", Components: vulnindex.DefaultComponents()},
	}
	require.Len(t, cfg.IndexScenarios(), 1)
	assert.Equal(t, "only", cfg.IndexScenarios()[0].Name)
}

func TestRateSpecsDefault(t *testing.T) {
	cfg := &Config{}
	rates := cfg.RateSpecs()
	require.NotEmpty(t, rates)

	names := make([]string, len(rates))
	for i, r := range rates {
		names[i] = r.Name
	}
	assert.Contains(t, names, "poverty_rate")
	assert.Contains(t, names, "pct_no_vehicle")
}

func TestInitLogger(t *testing.T) {
	assert.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.Error(t, InitLogger(LogConfig{Level: "nope", Format: "json"}))
}
