package panel

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMatrix(t *testing.T, years []int, countries []string, values [][]float64) *Panel {
	t.Helper()
	p, err := FromMatrix(years, countries, values)
	require.NoError(t, err)
	return p
}

func TestAlignUnionOfCountriesFilledWithMissing(t *testing.T) {
	imports := mustMatrix(t, []int{2020}, []string{"FRA", "DEU"}, [][]float64{{1, 2}})
	exports := mustMatrix(t, []int{2020}, []string{"USA", "JPN"}, [][]float64{{3, 4}})
	gdp := mustMatrix(t, []int{2020}, []string{"FRA"}, [][]float64{{100}})

	set, err := Align(imports, exports, gdp, YearsIntersection)
	require.NoError(t, err)

	want := []string{"DEU", "FRA", "JPN", "USA"}
	for _, p := range []*Panel{set.Imports, set.Exports, set.GDP} {
		assert.Equal(t, want, p.Countries())
		assert.Equal(t, []int{2020}, p.Years())
	}

	// Introduced cells are missing, never zero.
	for _, country := range []string{"JPN", "USA"} {
		value, ok := set.Imports.Value(2020, country)
		require.True(t, ok)
		assert.True(t, math.IsNaN(value), "imports %s should be missing", country)
	}
	for _, country := range []string{"DEU", "FRA"} {
		value, ok := set.Exports.Value(2020, country)
		require.True(t, ok)
		assert.True(t, math.IsNaN(value), "exports %s should be missing", country)
	}
	value, _ := set.GDP.Value(2020, "FRA")
	assert.Equal(t, 100.0, value)
}

func TestAlignYearPolicies(t *testing.T) {
	imports := mustMatrix(t, []int{2019, 2020, 2021}, []string{"FRA"}, [][]float64{{1}, {2}, {3}})
	exports := mustMatrix(t, []int{2020, 2021}, []string{"FRA"}, [][]float64{{5}, {6}})
	gdp := mustMatrix(t, []int{2020, 2022}, []string{"FRA"}, [][]float64{{7}, {8}})

	inner, err := Align(imports, exports, gdp, YearsIntersection)
	require.NoError(t, err)
	assert.Equal(t, []int{2020}, inner.Years())
	assert.Equal(t, []int{2020}, inner.GDP.Years())

	outer, err := Align(imports, exports, gdp, YearsUnion)
	require.NoError(t, err)
	assert.Equal(t, []int{2019, 2020, 2021, 2022}, outer.Years())
	want := [][]float64{{math.NaN()}, {7}, {math.NaN()}, {8}}
	if diff := cmp.Diff(want, outer.GDP.Matrix(), cmpopts.EquateNaNs()); diff != "" {
		t.Fatalf("gdp mismatch (-want +got):\n%s", diff)
	}

	_, err = Align(imports, exports, gdp, YearPolicy("sideways"))
	assert.ErrorIs(t, err, ErrUnknownYearPolicy)
}

func TestAlignDoesNotMutateInputs(t *testing.T) {
	imports := mustMatrix(t, []int{2020}, []string{"FRA"}, [][]float64{{1}})
	exports := mustMatrix(t, []int{2020}, []string{"DEU"}, [][]float64{{2}})
	gdp := mustMatrix(t, []int{2020, 2021}, []string{"FRA"}, [][]float64{{3}, {4}})

	_, err := Align(imports, exports, gdp, YearsIntersection)
	require.NoError(t, err)

	assert.Equal(t, []string{"FRA"}, imports.Countries())
	assert.Equal(t, []string{"DEU"}, exports.Countries())
	assert.Equal(t, []int{2020, 2021}, gdp.Years())
}

func TestAlignIsDeterministic(t *testing.T) {
	build := func() AlignedSet {
		imports := mustMatrix(t, []int{2020}, []string{"USA", "FRA", "DEU"}, [][]float64{{1, 2, 3}})
		exports := mustMatrix(t, []int{2020}, []string{"JPN", "FRA"}, [][]float64{{4, 5}})
		gdp := mustMatrix(t, []int{2020}, []string{"BRA"}, [][]float64{{6}})
		set, err := Align(imports, exports, gdp, YearsIntersection)
		require.NoError(t, err)
		return set
	}

	first, second := build(), build()
	assert.Equal(t, first.Countries(), second.Countries())
	if diff := cmp.Diff(first.Imports.Matrix(), second.Imports.Matrix(), cmpopts.EquateNaNs()); diff != "" {
		t.Fatalf("non-deterministic alignment:\n%s", diff)
	}
}

func TestAlignRejectsNil(t *testing.T) {
	p := mustMatrix(t, []int{2020}, []string{"FRA"}, [][]float64{{1}})
	_, err := Align(p, nil, p, YearsIntersection)
	assert.Error(t, err)
}

func TestParseYearPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    YearPolicy
		wantErr bool
	}{
		{in: "", want: YearsIntersection},
		{in: "Intersection", want: YearsIntersection},
		{in: "outer", want: YearsUnion},
		{in: "union", want: YearsUnion},
		{in: "both", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseYearPolicy(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownYearPolicy)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
