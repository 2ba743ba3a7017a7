package report

import (
	"encoding/csv"
	"math"
	"os"
	"strconv"

	"econpanel/internal/model"
	"econpanel/internal/trade"
)

var (
	aggregateHeader = []string{"country", "Balance_mean", "Ratio_mean", "Openness_mean", "net_exporter"}
	detailHeader    = []string{"country", "year", "Import", "Export", "GDP", "Balance", "Ratio", "Openness"}
)

// WriteAggregatesCSV writes one row per aggregate. Labels are joined by
// country; a country without a classification gets an empty label.
func WriteAggregatesCSV(path string, classifications []trade.Classification, aggregates []trade.CountryAggregate) error {
	labels := make(map[string]int, len(classifications))
	for _, c := range classifications {
		labels[c.Country] = c.NetExporter
	}

	records := make([][]string, 0, len(aggregates))
	for _, agg := range aggregates {
		label := ""
		if value, ok := labels[agg.Country]; ok {
			label = strconv.Itoa(value)
		}
		records = append(records, []string{
			agg.Country,
			formatValue(agg.BalanceMean),
			formatValue(agg.RatioMean),
			formatValue(agg.OpennessMean),
			label,
		})
	}
	return writeCSV(path, aggregateHeader, records)
}

func WriteDetailCSV(path string, rows []trade.DetailRow) error {
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, []string{
			row.Country,
			strconv.Itoa(row.Year),
			formatValue(row.Import),
			formatValue(row.Export),
			formatValue(row.GDP),
			formatValue(row.Balance),
			formatValue(row.Ratio),
			formatValue(row.Openness),
		})
	}
	return writeCSV(path, detailHeader, records)
}

func writeCSV(path string, header []string, records [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return err
	}
	if err := writer.WriteAll(records); err != nil {
		return err
	}
	return writer.Error()
}

// formatValue writes missing and non-finite values as an empty cell, the same
// way the JSON outputs write null.
func formatValue(value float64) string {
	if model.IsMissing(value) || math.IsInf(value, 0) {
		return ""
	}
	return strconv.FormatFloat(value, 'g', -1, 64)
}
