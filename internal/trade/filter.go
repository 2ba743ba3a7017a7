package trade

import (
	"errors"
	"fmt"

	"econpanel/internal/model"
	"econpanel/internal/panel"
)

const DefaultMinValidYears = 10

var ErrInvalidThreshold = errors.New("trade: min valid years must not be negative")

type FilterResult struct {
	Set        panel.AlignedSet
	Retained   []string
	Excluded   []string
	ValidYears map[string]int
}

// ValidYears counts, per country, the years where imports, exports and GDP
// are all present.
func ValidYears(set panel.AlignedSet) (map[string]int, error) {
	if !panel.SameShape(set.Imports, set.Exports) || !panel.SameShape(set.Imports, set.GDP) {
		return nil, fmt.Errorf("trade: reliability: %w", panel.ErrShapeMismatch)
	}

	counts := make(map[string]int)
	if set.Imports == nil {
		return counts, nil
	}
	for _, country := range set.Imports.Countries() {
		imports := set.Imports.Column(country)
		exports := set.Exports.Column(country)
		gdp := set.GDP.Column(country)
		valid := 0
		for i := range imports {
			if !model.IsMissing(imports[i]) && !model.IsMissing(exports[i]) && !model.IsMissing(gdp[i]) {
				valid++
			}
		}
		counts[country] = valid
	}
	return counts, nil
}

// FilterReliable keeps countries with at least minValidYears complete years.
// It works on whole series, so it has to run before any averaging.
func FilterReliable(set panel.AlignedSet, minValidYears int) (FilterResult, error) {
	if minValidYears < 0 {
		return FilterResult{}, fmt.Errorf("%w: %d", ErrInvalidThreshold, minValidYears)
	}
	counts, err := ValidYears(set)
	if err != nil {
		return FilterResult{}, err
	}

	retained := make([]string, 0, len(counts))
	excluded := make([]string, 0)
	for _, country := range set.Countries() {
		if counts[country] >= minValidYears {
			retained = append(retained, country)
		} else {
			excluded = append(excluded, country)
		}
	}

	result := FilterResult{
		Retained:   retained,
		Excluded:   excluded,
		ValidYears: counts,
	}
	if set.Imports != nil {
		result.Set = set.Restrict(retained)
	}
	return result, nil
}
