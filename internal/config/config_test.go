package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"econpanel/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "econpanel.db", cfg.Store.DBPath)
	assert.Equal(t, "configs/un_members.csv", cfg.Store.AllowlistPath)
	assert.Equal(t, 2000, cfg.Analysis.StartYear)
	assert.Equal(t, 2024, cfg.Analysis.EndYear)
	assert.Equal(t, 10, cfg.Analysis.MinValidYears)
	assert.Equal(t, 0.0, cfg.Analysis.NetExporterThreshold)
	assert.Equal(t, "intersection", cfg.Analysis.YearPolicy)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Output.Workbook)

	imports, exports, gdp, err := cfg.Analysis.Indicators()
	require.NoError(t, err)
	assert.Equal(t, model.IndicatorImports, imports)
	assert.Equal(t, model.IndicatorExports, exports)
	assert.Equal(t, model.IndicatorGDPReal, gdp)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ECONPANEL_ANALYSIS_MIN_VALID_YEARS", "5")
	t.Setenv("ECONPANEL_ANALYSIS_GDP", "NY.GDP.MKTP.CD")
	t.Setenv("ECONPANEL_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Analysis.MinValidYears)
	assert.Equal(t, "debug", cfg.Logging.Level)

	_, _, gdp, err := cfg.Analysis.Indicators()
	require.NoError(t, err)
	assert.Equal(t, model.IndicatorGDPNominal, gdp)
}

func TestLoadFileOverridesEnv(t *testing.T) {
	t.Setenv("ECONPANEL_ANALYSIS_START_YEAR", "1990")
	path := filepath.Join(t.TempDir(), "econpanel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
analysis:
  start_year: 2005
  year_policy: union
  net_exporter_threshold: 1.5
output:
  dir: reports
  workbook: false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2005, cfg.Analysis.StartYear)
	assert.Equal(t, 2024, cfg.Analysis.EndYear)
	assert.Equal(t, "union", cfg.Analysis.YearPolicy)
	assert.Equal(t, 1.5, cfg.Analysis.NetExporterThreshold)
	assert.Equal(t, "reports", cfg.Output.Dir)
	assert.False(t, cfg.Output.Workbook)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "negative min years", env: map[string]string{"ECONPANEL_ANALYSIS_MIN_VALID_YEARS": "-1"}, want: "MinValidYears"},
		{name: "inverted range", env: map[string]string{"ECONPANEL_ANALYSIS_START_YEAR": "2020", "ECONPANEL_ANALYSIS_END_YEAR": "2010"}, want: "EndYear"},
		{name: "unknown indicator", env: map[string]string{"ECONPANEL_ANALYSIS_IMPORTS": "hdi"}, want: "Imports"},
		{name: "unknown policy", env: map[string]string{"ECONPANEL_ANALYSIS_YEAR_POLICY": "sideways"}, want: "YearPolicy"},
		{name: "unknown level", env: map[string]string{"ECONPANEL_LOGGING_LEVEL": "loud"}, want: "Level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.env {
				t.Setenv(key, value)
			}
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadBadFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("analysis: [1, 2"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}
