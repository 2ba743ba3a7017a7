package panel

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type YearPolicy string

const (
	YearsIntersection YearPolicy = "intersection"
	YearsUnion        YearPolicy = "union"
)

var ErrUnknownYearPolicy = errors.New("panel: unknown year policy")

func ParseYearPolicy(value string) (YearPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(YearsIntersection), "inner":
		return YearsIntersection, nil
	case string(YearsUnion), "outer":
		return YearsUnion, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownYearPolicy, value)
	}
}

// AlignedSet is the imports/exports/GDP triple after alignment. All three
// panels share the same year and country labels.
type AlignedSet struct {
	Imports *Panel
	Exports *Panel
	GDP     *Panel
}

func (s AlignedSet) Years() []int {
	if s.Imports == nil {
		return nil
	}
	return s.Imports.Years()
}

func (s AlignedSet) Countries() []string {
	if s.Imports == nil {
		return nil
	}
	return s.Imports.Countries()
}

func (s AlignedSet) Restrict(countries []string) AlignedSet {
	return AlignedSet{
		Imports: s.Imports.Restrict(countries),
		Exports: s.Exports.Restrict(countries),
		GDP:     s.GDP.Restrict(countries),
	}
}

// Align gives the three panels a common shape. Countries are the sorted
// union of every column seen; a country absent from one panel is filled with
// missing values there. Years follow policy.
func Align(imports, exports, gdp *Panel, policy YearPolicy) (AlignedSet, error) {
	if imports == nil || exports == nil || gdp == nil {
		return AlignedSet{}, errors.New("panel: align requires imports, exports and gdp panels")
	}
	inputs := []*Panel{imports, exports, gdp}

	countrySet := make(map[string]struct{})
	for _, p := range inputs {
		for _, country := range p.countries {
			countrySet[country] = struct{}{}
		}
	}
	countries := sortedCountries(countrySet)

	var years []int
	switch policy {
	case YearsIntersection, "":
		years = intersectYears(inputs)
	case YearsUnion:
		yearSet := make(map[int]struct{})
		for _, p := range inputs {
			for _, year := range p.years {
				yearSet[year] = struct{}{}
			}
		}
		years = sortedYears(yearSet)
	default:
		return AlignedSet{}, fmt.Errorf("%w: %q", ErrUnknownYearPolicy, policy)
	}

	return AlignedSet{
		Imports: imports.Reindex(years, countries),
		Exports: exports.Reindex(years, countries),
		GDP:     gdp.Reindex(years, countries),
	}, nil
}

func intersectYears(panels []*Panel) []int {
	counts := make(map[int]int)
	for _, p := range panels {
		for _, year := range p.years {
			counts[year]++
		}
	}
	years := make([]int, 0, len(counts))
	for year, count := range counts {
		if count == len(panels) {
			years = append(years, year)
		}
	}
	sort.Ints(years)
	return years
}
