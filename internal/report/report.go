// Package report writes pipeline results for downstream consumers: JSON for
// the clustering and charting tools, CSV for spreadsheets and scripts, and an
// XLSX workbook for analysts.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"econpanel/internal/pipeline"
)

const (
	AggregatesJSON     = "aggregates.json"
	ClassificationJSON = "classification.json"
	MetaJSON           = "meta.json"
	AggregatesCSV      = "aggregates.csv"
	DetailCSV          = "detail.csv"
	WorkbookFile       = "trade_report.xlsx"
)

type Meta struct {
	RunID                string            `json:"run_id"`
	GeneratedAt          string            `json:"generated_at"`
	Source               string            `json:"source"`
	Indicators           map[string]string `json:"indicators"`
	StartYear            int               `json:"start_year"`
	EndYear              int               `json:"end_year"`
	Years                []int             `json:"years"`
	YearPolicy           string            `json:"year_policy"`
	MinValidYears        int               `json:"min_valid_years"`
	NetExporterThreshold float64           `json:"net_exporter_threshold"`
	Retained             []string          `json:"retained"`
	Excluded             []string          `json:"excluded"`
	ValidYears           map[string]int    `json:"valid_years"`
}

// NewMeta describes one run. Each call gets a fresh run id.
func NewMeta(result pipeline.Result, opts pipeline.Options, source string, at time.Time) Meta {
	years := result.Years()
	if years == nil {
		years = []int{}
	}
	return Meta{
		RunID:       uuid.NewString(),
		GeneratedAt: at.UTC().Format(time.RFC3339),
		Source:      source,
		Indicators: map[string]string{
			"imports": opts.Imports.Code,
			"exports": opts.Exports.Code,
			"gdp":     opts.GDP.Code,
		},
		StartYear:            opts.StartYear,
		EndYear:              opts.EndYear,
		Years:                years,
		YearPolicy:           string(opts.YearPolicy),
		MinValidYears:        opts.MinValidYears,
		NetExporterThreshold: opts.NetExporterThreshold,
		Retained:             nonNil(result.Reliability.Retained),
		Excluded:             nonNil(result.Reliability.Excluded),
		ValidYears:           result.Reliability.ValidYears,
	}
}

type Writer struct {
	dir      string
	workbook bool
	detail   bool
	logger   *zap.Logger
}

type Option func(*Writer)

func WithWorkbook(enabled bool) Option {
	return func(w *Writer) { w.workbook = enabled }
}

func WithDetail(enabled bool) Option {
	return func(w *Writer) { w.detail = enabled }
}

func WithLogger(logger *zap.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWriter writes into dir. Workbook and detail CSV are on unless turned
// off.
func NewWriter(dir string, opts ...Option) *Writer {
	w := &Writer{
		dir:      dir,
		workbook: true,
		detail:   true,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write emits every enabled output and returns the paths written.
func (w *Writer) Write(result pipeline.Result, meta Meta) ([]string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create output dir: %w", err)
	}

	type output struct {
		name  string
		write func(path string) error
	}
	outputs := []output{
		{AggregatesJSON, func(path string) error { return writeJSON(path, result.Aggregates) }},
		{ClassificationJSON, func(path string) error { return writeJSON(path, result.Classifications) }},
		{MetaJSON, func(path string) error { return writeJSON(path, meta) }},
		{AggregatesCSV, func(path string) error { return WriteAggregatesCSV(path, result.Classifications, result.Aggregates) }},
	}
	if w.detail {
		outputs = append(outputs, output{DetailCSV, func(path string) error { return WriteDetailCSV(path, result.Detail) }})
	}
	if w.workbook {
		outputs = append(outputs, output{WorkbookFile, func(path string) error { return WriteWorkbook(path, result) }})
	}

	written := make([]string, 0, len(outputs))
	for _, out := range outputs {
		path := filepath.Join(w.dir, out.name)
		if err := out.write(path); err != nil {
			return written, fmt.Errorf("report: write %s: %w", out.name, err)
		}
		w.logger.Info("report written", zap.String("path", path))
		written = append(written, path)
	}
	return written, nil
}

func writeJSON(path string, value any) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
