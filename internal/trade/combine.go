package trade

import (
	"econpanel/internal/panel"
)

// DetailRow is one country-year of inputs and derived indicators.
type DetailRow struct {
	Country  string
	Year     int
	Import   float64
	Export   float64
	GDP      float64
	Balance  float64
	Ratio    float64
	Openness float64
}

// Combine lays inputs and indicators side by side, grouped by country then
// year. Countries missing from ind are skipped.
func Combine(set panel.AlignedSet, ind Indicators) []DetailRow {
	if set.Imports == nil || ind.Balance == nil {
		return []DetailRow{}
	}
	years := set.Years()
	rows := make([]DetailRow, 0, len(years)*len(ind.Countries()))
	for _, country := range ind.Countries() {
		for _, year := range years {
			row := DetailRow{Country: country, Year: year}
			row.Import, _ = set.Imports.Value(year, country)
			row.Export, _ = set.Exports.Value(year, country)
			row.GDP, _ = set.GDP.Value(year, country)
			row.Balance, _ = ind.Balance.Value(year, country)
			row.Ratio, _ = ind.Ratio.Value(year, country)
			row.Openness, _ = ind.Openness.Value(year, country)
			rows = append(rows, row)
		}
	}
	return rows
}
