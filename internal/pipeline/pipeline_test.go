package pipeline

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"econpanel/internal/model"
	"econpanel/internal/panel"
	"econpanel/internal/trade"
)

var nan = math.NaN()

func obs(iso3 string, year int, value float64) model.Observation {
	return model.Observation{CountryISO3: iso3, Year: year, Value: value}
}

func franceGermany() Inputs {
	return Inputs{
		Imports: []model.Observation{obs("FRA", 2020, 10), obs("DEU", 2020, nan)},
		Exports: []model.Observation{obs("FRA", 2020, 15), obs("DEU", 2020, 20)},
		GDP:     []model.Observation{obs("FRA", 2020, 100), obs("DEU", 2020, nan)},
	}
}

func testOptions(minYears int) Options {
	opts := DefaultOptions()
	opts.MinValidYears = minYears
	return opts
}

func TestAnalyzeFranceGermany(t *testing.T) {
	result, err := Analyze(franceGermany(), testOptions(1))
	require.NoError(t, err)

	assert.Equal(t, []string{"FRA"}, result.Reliability.Retained)
	assert.Equal(t, []string{"DEU"}, result.Reliability.Excluded)
	assert.Equal(t, []int{2020}, result.Years())
	assert.Equal(t, []trade.CountryAggregate{
		{Country: "FRA", BalanceMean: 5, RatioMean: 1.5, OpennessMean: 25},
	}, result.Aggregates)
	assert.Equal(t, []trade.Classification{
		{Country: "FRA", BalanceMean: 5, NetExporter: 1},
	}, result.Classifications)
	assert.Equal(t, []trade.DetailRow{
		{Country: "FRA", Year: 2020, Import: 10, Export: 15, GDP: 100, Balance: 5, Ratio: 1.5, Openness: 25},
	}, result.Detail)
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	in := Inputs{}
	for year := 2000; year < 2012; year++ {
		for i, iso3 := range []string{"USA", "CHN", "BRA", "IND"} {
			base := float64(year-2000) + float64(i)
			in.Imports = append(in.Imports, obs(iso3, year, 10+base))
			in.Exports = append(in.Exports, obs(iso3, year, 12+base*float64(i)))
			gdp := 100 + base
			if iso3 == "BRA" && year%3 == 0 {
				gdp = nan
			}
			in.GDP = append(in.GDP, obs(iso3, year, gdp))
		}
	}

	first, err := Analyze(in, testOptions(10))
	require.NoError(t, err)

	shuffled := Inputs{
		Imports: shuffle(in.Imports),
		Exports: shuffle(in.Exports),
		GDP:     shuffle(in.GDP),
	}
	second, err := Analyze(shuffled, testOptions(10))
	require.NoError(t, err)

	opt := cmpopts.EquateNaNs()
	assert.Empty(t, cmp.Diff(first.Aggregates, second.Aggregates, opt))
	assert.Empty(t, cmp.Diff(first.Classifications, second.Classifications, opt))
	assert.Empty(t, cmp.Diff(first.Detail, second.Detail, opt))
	assert.Equal(t, []string{"CHN", "IND", "USA"}, first.Reliability.Retained)
	assert.Equal(t, []string{"BRA"}, first.Reliability.Excluded)
}

func shuffle(in []model.Observation) []model.Observation {
	out := append([]model.Observation(nil), in...)
	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func TestAnalyzeDoesNotMutateInputs(t *testing.T) {
	in := franceGermany()
	before := append([]model.Observation(nil), in.Imports...)
	_, err := Analyze(in, testOptions(1))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(before, in.Imports, cmpopts.EquateNaNs()))
}

func TestAnalyzeYearRange(t *testing.T) {
	in := Inputs{
		Imports: []model.Observation{obs("FRA", 1999, 1), obs("FRA", 2000, 10), obs("FRA", 2025, 1)},
		Exports: []model.Observation{obs("FRA", 1999, 9), obs("FRA", 2000, 15), obs("FRA", 2025, 9)},
		GDP:     []model.Observation{obs("FRA", 1999, 9), obs("FRA", 2000, 100), obs("FRA", 2025, 9)},
	}
	result, err := Analyze(in, testOptions(1))
	require.NoError(t, err)
	assert.Equal(t, []int{2000}, result.Years())
	require.Len(t, result.Aggregates, 1)
	assert.Equal(t, 5.0, result.Aggregates[0].BalanceMean)
}

func TestAnalyzeUnionPolicy(t *testing.T) {
	in := franceGermany()
	in.GDP = append(in.GDP, obs("FRA", 2021, 110))
	opts := testOptions(0)
	opts.YearPolicy = panel.YearsUnion

	result, err := Analyze(in, opts)
	require.NoError(t, err)
	assert.Equal(t, []int{2020, 2021}, result.Years())
	assert.Equal(t, []string{"DEU", "FRA"}, result.Reliability.Retained)
}

func TestAnalyzeEmptyRetainedSet(t *testing.T) {
	result, err := Analyze(franceGermany(), testOptions(5))
	require.NoError(t, err)
	assert.Empty(t, result.Reliability.Retained)
	assert.Empty(t, result.Aggregates)
	assert.Empty(t, result.Classifications)
	assert.Empty(t, result.Detail)
}

func TestAnalyzeDuplicateObservation(t *testing.T) {
	in := franceGermany()
	in.Exports = append(in.Exports, obs("FRA", 2020, 16))

	_, err := Analyze(in, testOptions(1))
	require.Error(t, err)
	var dup *panel.DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "FRA", dup.Country)
	assert.ErrorIs(t, err, panel.ErrDuplicateObservation)
}

func TestAnalyzeInvalidOptions(t *testing.T) {
	opts := testOptions(-1)
	_, err := Analyze(franceGermany(), opts)
	assert.ErrorIs(t, err, trade.ErrInvalidThreshold)

	opts = testOptions(1)
	opts.StartYear, opts.EndYear = 2020, 2010
	_, err = Analyze(franceGermany(), opts)
	assert.Error(t, err)

	opts = testOptions(1)
	opts.GDP = model.Indicator{}
	_, err = Analyze(franceGermany(), opts)
	assert.Error(t, err)
}

type stubSource struct {
	mu       sync.Mutex
	data     map[string][]model.Observation
	failures map[string]error
	block    map[string]bool
	calls    []string
	got      []string
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) FetchIndicator(ctx context.Context, indicator model.Indicator, countries []string, start, end int) ([]model.Observation, error) {
	s.mu.Lock()
	s.calls = append(s.calls, indicator.Name)
	s.got = append([]string(nil), countries...)
	s.mu.Unlock()

	if s.block[indicator.Name] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := s.failures[indicator.Name]; err != nil {
		return nil, err
	}
	return s.data[indicator.Name], nil
}

type stubReference struct {
	countries []model.Country
	err       error
}

func (s stubReference) ListCountries(context.Context) ([]model.Country, error) {
	return s.countries, s.err
}

type recordingRecorder struct {
	retained, excluded int
	runs               int
}

func (r *recordingRecorder) CountryStates(retained, excluded int) {
	r.retained, r.excluded = retained, excluded
}

func (r *recordingRecorder) RunFinished(time.Duration) { r.runs++ }

func sourceFor(in Inputs) *stubSource {
	return &stubSource{data: map[string][]model.Observation{
		"imports":  in.Imports,
		"exports":  in.Exports,
		"gdp_real": in.GDP,
	}}
}

func TestRunnerRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	source := sourceFor(franceGermany())
	recorder := &recordingRecorder{}
	runner := NewRunner(source,
		WithAllowlist(map[string]struct{}{"FRA": {}, "DEU": {}}),
		WithRecorder(recorder),
	)

	result, err := runner.Run(context.Background(), testOptions(1))
	require.NoError(t, err)

	assert.Equal(t, []string{"FRA"}, result.Reliability.Retained)
	assert.ElementsMatch(t, []string{"imports", "exports", "gdp_real"}, source.calls)
	assert.Equal(t, []string{"DEU", "FRA"}, source.got)
	assert.Equal(t, 1, recorder.retained)
	assert.Equal(t, 1, recorder.excluded)
	assert.Equal(t, 1, recorder.runs)
}

func TestRunnerFetchFailureCancelsSiblings(t *testing.T) {
	defer goleak.VerifyNone(t)

	boom := errors.New("boom")
	source := sourceFor(franceGermany())
	source.failures = map[string]error{"gdp_real": boom}
	source.block = map[string]bool{"imports": true, "exports": true}

	_, err := NewRunner(source).Run(context.Background(), testOptions(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "gdp_real")
}

func TestRunnerConcurrencyLimit(t *testing.T) {
	defer goleak.VerifyNone(t)

	source := sourceFor(franceGermany())
	fetched, err := NewRunner(source, WithConcurrency(1)).FetchAll(context.Background(),
		[]model.Indicator{model.IndicatorImports, model.IndicatorExports}, nil, 2000, 2024)
	require.NoError(t, err)
	assert.Len(t, fetched, 2)
	assert.Len(t, fetched["imports"], 2)
}

func TestResolveCountries(t *testing.T) {
	listed := []model.Country{
		{ISO3: "FRA", Name: "France"},
		{ISO3: "DEU", Name: "Germany"},
		{ISO3: "EUU", Name: "European Union", IsAggregate: true},
		{ISO3: "XKX", Name: "Kosovo"},
	}
	allowlist := map[string]struct{}{"FRA": {}, "DEU": {}, "ITA": {}}

	tests := []struct {
		name      string
		reference *stubReference
		allowlist map[string]struct{}
		want      []string
		wantErr   bool
	}{
		{name: "reference filtered by allowlist", reference: &stubReference{countries: listed}, allowlist: allowlist, want: []string{"FRA", "DEU"}},
		{name: "reference without allowlist drops aggregates", reference: &stubReference{countries: listed}, want: []string{"FRA", "DEU", "XKX"}},
		{name: "reference down falls back to allowlist", reference: &stubReference{err: errors.New("down")}, allowlist: allowlist, want: []string{"DEU", "FRA", "ITA"}},
		{name: "reference down without allowlist", reference: &stubReference{err: errors.New("down")}, wantErr: true},
		{name: "no reference uses allowlist", allowlist: allowlist, want: []string{"DEU", "FRA", "ITA"}},
		{name: "nothing left", reference: &stubReference{countries: listed[2:3]}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := []RunnerOption{WithAllowlist(tt.allowlist)}
			if tt.reference != nil {
				opts = append(opts, WithCountryReference(tt.reference))
			}
			got, err := NewRunner(nil, opts...).ResolveCountries(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetchAllWithoutSource(t *testing.T) {
	_, err := NewRunner(nil).FetchAll(context.Background(), []model.Indicator{model.IndicatorGDPReal}, nil, 2000, 2001)
	assert.Error(t, err)
}
