package report

import (
	"math"

	"github.com/xuri/excelize/v2"

	"econpanel/internal/pipeline"
)

const (
	SheetAggregates     = "Aggregates"
	SheetClassification = "Classification"
	SheetReliability    = "Reliability"
)

// WriteWorkbook saves aggregates, labels and per-country valid-year counts
// as three sheets. Missing values are left blank.
func WriteWorkbook(path string, result pipeline.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetAggregates); err != nil {
		return err
	}
	for _, sheet := range []string{SheetClassification, SheetReliability} {
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	aggregateRows := make([][]any, 0, len(result.Aggregates))
	for _, agg := range result.Aggregates {
		aggregateRows = append(aggregateRows, []any{agg.Country, cellValue(agg.BalanceMean), cellValue(agg.RatioMean), cellValue(agg.OpennessMean)})
	}
	if err := writeSheet(f, SheetAggregates, headerStyle,
		[]string{"Country", "Balance_mean", "Ratio_mean", "Openness_mean"}, aggregateRows); err != nil {
		return err
	}

	classificationRows := make([][]any, 0, len(result.Classifications))
	for _, c := range result.Classifications {
		classificationRows = append(classificationRows, []any{c.Country, cellValue(c.BalanceMean), c.NetExporter})
	}
	if err := writeSheet(f, SheetClassification, headerStyle,
		[]string{"Country", "Balance_mean", "Net exporter"}, classificationRows); err != nil {
		return err
	}

	retained := make(map[string]struct{}, len(result.Reliability.Retained))
	for _, country := range result.Reliability.Retained {
		retained[country] = struct{}{}
	}
	countries := result.Aligned.Countries()
	reliabilityRows := make([][]any, 0, len(countries))
	for _, country := range countries {
		status := "excluded"
		if _, ok := retained[country]; ok {
			status = "retained"
		}
		reliabilityRows = append(reliabilityRows, []any{country, result.Reliability.ValidYears[country], status})
	}
	if err := writeSheet(f, SheetReliability, headerStyle,
		[]string{"Country", "Valid years", "Status"}, reliabilityRows); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	return f.SaveAs(path)
}

func writeSheet(f *excelize.File, sheet string, headerStyle int, headers []string, rows [][]any) error {
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return err
		}
		column, _, err := excelize.SplitCellName(cell)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, column, column, 16); err != nil {
			return err
		}
	}

	for r, row := range rows {
		for c, value := range row {
			if value == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// cellValue maps missing and infinite values to nil so the cell stays empty.
func cellValue(value float64) any {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}
	return value
}
