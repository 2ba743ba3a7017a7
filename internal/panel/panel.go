// Package panel holds year x country matrices of indicator values.
//
// Missing observations are stored as NaN. A Panel is immutable once built:
// every accessor returns copies and every transformation returns a new Panel.
package panel

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"econpanel/internal/model"
)

var (
	ErrDuplicateObservation = errors.New("panel: duplicate observation")
	ErrShapeMismatch        = errors.New("panel: shape mismatch")
	ErrInvalidMatrix        = errors.New("panel: invalid matrix")
)

// DuplicateError reports the (year, country) cell that was observed twice.
type DuplicateError struct {
	Year    int
	Country string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("panel: duplicate observation for year=%d country=%s", e.Year, e.Country)
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicateObservation
}

type Panel struct {
	years        []int
	countries    []string
	yearIndex    map[int]int
	countryIndex map[string]int
	values       [][]float64
}

// newEmpty expects sorted, unique labels.
func newEmpty(years []int, countries []string) *Panel {
	p := &Panel{
		years:        append([]int{}, years...),
		countries:    append([]string{}, countries...),
		yearIndex:    make(map[int]int, len(years)),
		countryIndex: make(map[string]int, len(countries)),
		values:       make([][]float64, len(years)),
	}
	for i, year := range p.years {
		p.yearIndex[year] = i
	}
	for j, country := range p.countries {
		p.countryIndex[country] = j
	}
	for i := range p.values {
		row := make([]float64, len(countries))
		for j := range row {
			row[j] = model.Missing()
		}
		p.values[i] = row
	}
	return p
}

// FromObservations pivots (country, year, value) triples into a panel.
// A country or year seen only with missing values still gets a label.
func FromObservations(observations []model.Observation) (*Panel, error) {
	type cell struct {
		year    int
		country string
	}

	seen := make(map[cell]float64, len(observations))
	yearSet := make(map[int]struct{})
	countrySet := make(map[string]struct{})
	for _, observation := range observations {
		country := observation.Key()
		if country == "" {
			continue
		}
		key := cell{year: observation.Year, country: country}
		if _, exists := seen[key]; exists {
			return nil, &DuplicateError{Year: observation.Year, Country: country}
		}
		seen[key] = observation.Value
		yearSet[observation.Year] = struct{}{}
		countrySet[country] = struct{}{}
	}

	p := newEmpty(sortedYears(yearSet), sortedCountries(countrySet))
	for key, value := range seen {
		p.values[p.yearIndex[key.year]][p.countryIndex[key.country]] = value
	}
	return p, nil
}

// FromMatrix builds a panel from row-major values indexed by years and
// countries. Labels are sorted on the way in; duplicate labels are rejected.
func FromMatrix(years []int, countries []string, values [][]float64) (*Panel, error) {
	if len(values) != len(years) {
		return nil, fmt.Errorf("%w: %d rows for %d years", ErrInvalidMatrix, len(values), len(years))
	}
	yearSet := make(map[int]struct{}, len(years))
	for _, year := range years {
		if _, exists := yearSet[year]; exists {
			return nil, &DuplicateError{Year: year}
		}
		yearSet[year] = struct{}{}
	}
	countrySet := make(map[string]struct{}, len(countries))
	for _, country := range countries {
		country = strings.TrimSpace(country)
		if country == "" {
			return nil, fmt.Errorf("%w: empty country label", ErrInvalidMatrix)
		}
		if _, exists := countrySet[country]; exists {
			return nil, &DuplicateError{Country: country}
		}
		countrySet[country] = struct{}{}
	}

	p := newEmpty(sortedYears(yearSet), sortedCountries(countrySet))
	for i, row := range values {
		if len(row) != len(countries) {
			return nil, fmt.Errorf("%w: row %d has %d values for %d countries", ErrInvalidMatrix, i, len(row), len(countries))
		}
		target := p.values[p.yearIndex[years[i]]]
		for j, value := range row {
			target[p.countryIndex[strings.TrimSpace(countries[j])]] = value
		}
	}
	return p, nil
}

func (p *Panel) Years() []int {
	return append([]int{}, p.years...)
}

func (p *Panel) Countries() []string {
	return append([]string{}, p.countries...)
}

// Shape returns (years, countries).
func (p *Panel) Shape() (int, int) {
	return len(p.years), len(p.countries)
}

func (p *Panel) HasCountry(country string) bool {
	_, ok := p.countryIndex[country]
	return ok
}

// Value returns the cell and whether both labels exist. The value may still
// be missing.
func (p *Panel) Value(year int, country string) (float64, bool) {
	i, ok := p.yearIndex[year]
	if !ok {
		return model.Missing(), false
	}
	j, ok := p.countryIndex[country]
	if !ok {
		return model.Missing(), false
	}
	return p.values[i][j], true
}

// Column returns the series of one country in year order, or nil.
func (p *Panel) Column(country string) []float64 {
	j, ok := p.countryIndex[country]
	if !ok {
		return nil
	}
	column := make([]float64, len(p.years))
	for i := range p.years {
		column[i] = p.values[i][j]
	}
	return column
}

func (p *Panel) Matrix() [][]float64 {
	out := make([][]float64, len(p.values))
	for i, row := range p.values {
		out[i] = append([]float64{}, row...)
	}
	return out
}

// Reindex projects the panel onto new labels. Cells without a source are
// missing. Labels must already be sorted and unique.
func (p *Panel) Reindex(years []int, countries []string) *Panel {
	out := newEmpty(years, countries)
	for i, year := range out.years {
		src, ok := p.yearIndex[year]
		if !ok {
			continue
		}
		for j, country := range out.countries {
			if k, ok := p.countryIndex[country]; ok {
				out.values[i][j] = p.values[src][k]
			}
		}
	}
	return out
}

// Restrict keeps the listed countries that exist in the panel, in the
// panel's own column order.
func (p *Panel) Restrict(countries []string) *Panel {
	keep := make(map[string]struct{}, len(countries))
	for _, country := range countries {
		keep[country] = struct{}{}
	}
	selected := make([]string, 0, len(countries))
	for _, country := range p.countries {
		if _, ok := keep[country]; ok {
			selected = append(selected, country)
		}
	}
	return p.Reindex(p.years, selected)
}

// Observations flattens the panel back to triples, missing cells included,
// ordered by country then year.
func (p *Panel) Observations(indicator string) []model.Observation {
	out := make([]model.Observation, 0, len(p.years)*len(p.countries))
	for j, country := range p.countries {
		for i, year := range p.years {
			out = append(out, model.Observation{
				Indicator:   indicator,
				CountryISO3: country,
				Year:        year,
				Value:       p.values[i][j],
			})
		}
	}
	return out
}

// SameShape reports whether both panels carry identical labels.
func SameShape(a, b *Panel) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.years) != len(b.years) || len(a.countries) != len(b.countries) {
		return false
	}
	for i := range a.years {
		if a.years[i] != b.years[i] {
			return false
		}
	}
	for j := range a.countries {
		if a.countries[j] != b.countries[j] {
			return false
		}
	}
	return true
}

// Combine applies fn cell by cell over panels sharing one shape. fn receives
// the values in argument order and owns no reference to the slice.
func Combine(fn func(values []float64) float64, panels ...*Panel) (*Panel, error) {
	if len(panels) == 0 {
		return nil, fmt.Errorf("%w: no panels", ErrShapeMismatch)
	}
	first := panels[0]
	if first == nil {
		return nil, fmt.Errorf("%w: nil panel", ErrShapeMismatch)
	}
	for _, other := range panels[1:] {
		if !SameShape(first, other) {
			return nil, ErrShapeMismatch
		}
	}

	out := newEmpty(first.years, first.countries)
	args := make([]float64, len(panels))
	for i := range out.values {
		for j := range out.values[i] {
			for k, p := range panels {
				args[k] = p.values[i][j]
			}
			out.values[i][j] = fn(args)
		}
	}
	return out, nil
}

func sortedYears(set map[int]struct{}) []int {
	years := make([]int, 0, len(set))
	for year := range set {
		years = append(years, year)
	}
	sort.Ints(years)
	return years
}

func sortedCountries(set map[string]struct{}) []string {
	countries := make([]string, 0, len(set))
	for country := range set {
		countries = append(countries, country)
	}
	sort.Strings(countries)
	return countries
}
