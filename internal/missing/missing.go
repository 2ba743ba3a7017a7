// Package missing reports and fills gaps in long-format country tables.
package missing

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"econpanel/internal/model"
)

var ErrUnknownColumn = errors.New("missing: unknown column")

type Method string

const (
	MethodMean         Method = "mean"
	MethodForwardFill  Method = "forward_fill"
	MethodBackwardFill Method = "backward_fill"
)

func Methods() []Method {
	return []Method{MethodMean, MethodForwardFill, MethodBackwardFill}
}

func (m Method) Known() bool {
	for _, known := range Methods() {
		if m == known {
			return true
		}
	}
	return false
}

// Record is one row. An absent key and a NaN value both count as missing.
type Record struct {
	Country string
	Year    int
	Values  map[string]float64
}

func (r Record) value(column string) (float64, bool) {
	value, ok := r.Values[column]
	if !ok || model.IsMissing(value) {
		return model.Missing(), false
	}
	return value, true
}

type Table struct {
	HasYear bool
	Records []Record
}

// FromObservations builds a yearly table holding the observation values
// under column.
func FromObservations(column string, observations []model.Observation) Table {
	t := Table{HasYear: true, Records: make([]Record, 0, len(observations))}
	for _, observation := range observations {
		t.Records = append(t.Records, Record{
			Country: observation.Key(),
			Year:    observation.Year,
			Values:  map[string]float64{column: observation.Value},
		})
	}
	return t
}

// hasColumn reports whether any record carries column. An empty table has
// every column.
func (t Table) hasColumn(column string) bool {
	if len(t.Records) == 0 {
		return true
	}
	for _, record := range t.Records {
		if _, ok := record.Values[column]; ok {
			return true
		}
	}
	return false
}

func (t Table) clone() Table {
	out := Table{HasYear: t.HasYear, Records: make([]Record, len(t.Records))}
	for i, record := range t.Records {
		values := make(map[string]float64, len(record.Values))
		for k, v := range record.Values {
			values[k] = v
		}
		out.Records[i] = Record{Country: record.Country, Year: record.Year, Values: values}
	}
	return out
}

type Summary struct {
	Column    string
	Total     int
	Missing   int
	Percent   float64
	Countries int
	FirstYear int
	LastYear  int
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d countries", s.Countries)
	if s.FirstYear != 0 || s.LastYear != 0 {
		fmt.Fprintf(&b, " from %d to %d", s.FirstYear, s.LastYear)
	}
	fmt.Fprintf(&b, "; %d missing %s values out of %d (%.2f%%)", s.Missing, s.Column, s.Total, s.Percent)
	return b.String()
}

// Report counts missing values in column. The year range is only filled for
// tables with a year column.
func Report(t Table, column string) (Summary, error) {
	if !t.hasColumn(column) {
		return Summary{}, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}

	summary := Summary{Column: column, Total: len(t.Records)}
	countries := make(map[string]struct{})
	for i, record := range t.Records {
		countries[record.Country] = struct{}{}
		if _, ok := record.value(column); !ok {
			summary.Missing++
		}
		if !t.HasYear {
			continue
		}
		if i == 0 || record.Year < summary.FirstYear {
			summary.FirstYear = record.Year
		}
		if i == 0 || record.Year > summary.LastYear {
			summary.LastYear = record.Year
		}
	}
	summary.Countries = len(countries)
	if summary.Total > 0 {
		summary.Percent = float64(summary.Missing) / float64(summary.Total) * 100
	}
	return summary, nil
}

// Impute returns a copy of t with missing values of column filled within
// each country's own series. Series are ordered by year when the table has
// one, otherwise by record order. An unrecognized method returns an
// unchanged copy.
func Impute(t Table, column string, method Method) (Table, error) {
	if !t.hasColumn(column) {
		return Table{}, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	out := t.clone()
	if !method.Known() {
		return out, nil
	}

	for _, rows := range out.seriesByCountry() {
		switch method {
		case MethodMean:
			fillMean(out.Records, rows, column)
		case MethodForwardFill:
			fillCarry(out.Records, rows, column)
		case MethodBackwardFill:
			reversed := make([]int, len(rows))
			for i, row := range rows {
				reversed[len(rows)-1-i] = row
			}
			fillCarry(out.Records, reversed, column)
		}
	}
	return out, nil
}

// seriesByCountry returns record indexes grouped by country.
func (t Table) seriesByCountry() map[string][]int {
	groups := make(map[string][]int)
	for i, record := range t.Records {
		groups[record.Country] = append(groups[record.Country], i)
	}
	if t.HasYear {
		for _, rows := range groups {
			sort.SliceStable(rows, func(a, b int) bool {
				return t.Records[rows[a]].Year < t.Records[rows[b]].Year
			})
		}
	}
	return groups
}

func fillMean(records []Record, rows []int, column string) {
	sum := 0.0
	count := 0
	for _, row := range rows {
		if value, ok := records[row].value(column); ok {
			sum += value
			count++
		}
	}
	if count == 0 {
		return
	}
	mean := sum / float64(count)
	for _, row := range rows {
		if _, ok := records[row].value(column); !ok {
			records[row].Values[column] = mean
		}
	}
}

func fillCarry(records []Record, rows []int, column string) {
	last, seen := 0.0, false
	for _, row := range rows {
		if value, ok := records[row].value(column); ok {
			last, seen = value, true
			continue
		}
		if seen {
			records[row].Values[column] = last
		}
	}
}

type YearCount struct {
	Year    int
	Missing int
}

// ByYear counts missing values per year, ascending.
func ByYear(t Table, column string) ([]YearCount, error) {
	if !t.HasYear {
		return nil, errors.New("missing: table has no year column")
	}
	if !t.hasColumn(column) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	counts := make(map[int]int)
	for _, record := range t.Records {
		if _, ok := record.value(column); !ok {
			counts[record.Year]++
		} else if _, exists := counts[record.Year]; !exists {
			counts[record.Year] = 0
		}
	}
	out := make([]YearCount, 0, len(counts))
	for year, count := range counts {
		out = append(out, YearCount{Year: year, Missing: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out, nil
}

// CountriesAbove lists, sorted, the countries whose missing count exceeds
// int(fraction * rows) for that country.
func CountriesAbove(t Table, column string, fraction float64) ([]string, error) {
	if fraction < 0 || fraction > 1 {
		return nil, fmt.Errorf("missing: fraction %v outside [0, 1]", fraction)
	}
	if !t.hasColumn(column) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	out := make([]string, 0)
	for country, rows := range t.seriesByCountry() {
		missing := 0
		for _, row := range rows {
			if _, ok := t.Records[row].value(column); !ok {
				missing++
			}
		}
		if missing > int(fraction*float64(len(rows))) {
			out = append(out, country)
		}
	}
	sort.Strings(out)
	return out, nil
}
