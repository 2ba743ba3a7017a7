package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"econpanel/internal/config"
	"econpanel/internal/model"
	"econpanel/internal/snapshot"
	"econpanel/internal/store"
	"econpanel/internal/store/sqlite"
)

type stubProvider struct {
	err       error
	countries []model.Country
}

func (s *stubProvider) Name() string { return "worldbank" }

func (s *stubProvider) FetchIndicator(ctx context.Context, indicator model.Indicator, countries []string, start, end int) ([]model.Observation, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]model.Observation, 0)
	for _, country := range countries {
		for year := start; year <= end; year++ {
			out = append(out, model.Observation{
				Provider:    s.Name(),
				Indicator:   indicator.Name,
				CountryISO3: country,
				Year:        year,
				Value:       float64(year - start + 1),
			})
		}
	}
	return out, nil
}

func (s *stubProvider) ListCountries(context.Context) ([]model.Country, error) {
	return s.countries, nil
}

func testRoot(t *testing.T, dbPath, backupDir string) *rootOptions {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Store.DBPath = dbPath
	cfg.Store.BackupDir = backupDir
	cfg.Store.AllowlistPath = ""
	cfg.Analysis.StartYear = 2020
	cfg.Analysis.EndYear = 2022
	return &rootOptions{cfg: cfg, logger: zaptest.NewLogger(t)}
}

func TestRunCollectorStoresAndBacksUp(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "econpanel.db")
	backupDir := filepath.Join(dir, "backups")
	root := testRoot(t, dbPath, backupDir)
	root.cfg.Metrics.Textfile = filepath.Join(dir, "collector.prom")

	provider := &stubProvider{countries: []model.Country{
		{ISO3: "FRA"}, {ISO3: "DEU"}, {ISO3: "EUU", IsAggregate: true},
	}}
	var out bytes.Buffer
	err := runCollector(context.Background(), &out, root, &runOptions{indicators: "imports,NE.EXP.GNFS.ZS", concurrency: 2}, provider, provider)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "indicators=2 countries=2 observations=12")

	st, err := sqlite.New(dbPath)
	require.NoError(t, err)
	defer st.Close()

	stored, err := st.LoadObservations(context.Background(), store.Query{Indicator: "exports"})
	require.NoError(t, err)
	assert.Len(t, stored, 6)

	run, ok, err := st.LastRun(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "collector run", run.Command)
	assert.ElementsMatch(t, []string{"imports", "exports"}, run.Indicators)
	assert.Equal(t, 12, run.Observations)

	matches, err := filepath.Glob(filepath.Join(backupDir, "imports_*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	metrics, err := os.ReadFile(root.cfg.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `econpanel_fetch_total{indicator="imports",outcome="success",source="worldbank"} 1`)
}

func TestRunCollectorFallsBackToStore(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "econpanel.db")
	root := testRoot(t, dbPath, "")

	healthy := &stubProvider{}
	opts := &runOptions{indicators: "gdp_real", countries: "FRA"}
	require.NoError(t, runCollector(context.Background(), &bytes.Buffer{}, root, opts, healthy, nil))

	down := &stubProvider{err: errors.New("connection refused")}
	var out bytes.Buffer
	require.NoError(t, runCollector(context.Background(), &out, root, opts, down, nil))
	assert.Contains(t, out.String(), "observations=3")
}

func TestIncrementalRunKeepsFullBackup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backupDir := filepath.Join(dir, "backups")
	root := testRoot(t, filepath.Join(dir, "econpanel.db"), backupDir)
	provider := &stubProvider{}

	full := &runOptions{indicators: "imports", countries: "FRA,DEU"}
	require.NoError(t, runCollector(ctx, &bytes.Buffer{}, root, full, provider, nil))

	var out bytes.Buffer
	incremental := &runOptions{indicators: "imports", countries: "FRA,DEU", incremental: true}
	require.NoError(t, runCollector(ctx, &out, root, incremental, provider, nil))
	assert.Contains(t, out.String(), "observations=2")

	matches, err := filepath.Glob(filepath.Join(backupDir, "imports_*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	latest, _, err := snapshot.LoadLatest(backupDir, "imports")
	require.NoError(t, err)
	assert.Equal(t, []int{2020, 2021, 2022}, latest.Years())
	assert.Equal(t, []string{"DEU", "FRA"}, latest.Countries())
	// 2022 carries the value from the incremental fetch.
	assert.Equal(t, []float64{1, 2, 1}, latest.Column("FRA"))

	served, err := snapshot.NewSource(backupDir).FetchIndicator(ctx, model.IndicatorImports, nil, 2020, 2022)
	require.NoError(t, err)
	assert.Len(t, served, 6)
}

func TestMergeObservations(t *testing.T) {
	stored := []model.Observation{
		{CountryISO3: "FRA", Year: 2020, Value: 1},
		{CountryISO3: "FRA", Year: 2021, Value: 2},
	}
	fetched := []model.Observation{
		{CountryISO3: "fra", Year: 2021, Value: 5},
		{CountryISO3: "DEU", Year: 2021, Value: 7},
	}
	got := mergeObservations(stored, fetched)
	require.Len(t, got, 3)
	assert.Equal(t, 1.0, got[0].Value)
	assert.Equal(t, 5.0, got[1].Value)
	assert.Equal(t, "DEU", got[2].CountryISO3)
	assert.Equal(t, []string{"FRA", "DEU"}, observedCountries(append(stored, fetched...)))
}

func TestRunCollectorLimit(t *testing.T) {
	root := testRoot(t, "", "")
	provider := &stubProvider{}
	var out bytes.Buffer
	err := runCollector(context.Background(), &out, root, &runOptions{indicators: "imports", countries: "FRA,DEU,ITA", limit: 2}, provider, nil)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "countries=2 observations=6")
}

func TestParseIndicators(t *testing.T) {
	indicators, err := parseIndicators("imports, NY.GDP.MKTP.KD ,imports")
	require.NoError(t, err)
	assert.Equal(t, []model.Indicator{model.IndicatorImports, model.IndicatorGDPReal}, indicators)

	_, err = parseIndicators(" , ")
	assert.Error(t, err)

	_, err = parseIndicators("imports,hdi")
	assert.ErrorIs(t, err, model.ErrUnknownIndicator)
}

func TestIncrementalStart(t *testing.T) {
	ctx := context.Background()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "econpanel.db"))
	require.NoError(t, err)
	defer st.Close()

	indicators := []model.Indicator{model.IndicatorImports, model.IndicatorExports}
	start, err := incrementalStart(ctx, st, "worldbank", indicators, 2000)
	require.NoError(t, err)
	assert.Equal(t, 2000, start)

	require.NoError(t, st.UpsertObservations(ctx, "run-1", []model.Observation{
		{Provider: "worldbank", Indicator: "imports", CountryISO3: "FRA", Year: 2019, Value: 1},
		{Provider: "worldbank", Indicator: "exports", CountryISO3: "FRA", Year: 2021, Value: 1},
	}))
	start, err = incrementalStart(ctx, st, "worldbank", indicators, 2000)
	require.NoError(t, err)
	assert.Equal(t, 2019, start)

	start, err = incrementalStart(ctx, st, "worldbank", indicators, 2020)
	require.NoError(t, err)
	assert.Equal(t, 2020, start)
}
