// Package snapshot persists panels as timestamped CSV and JSON backups.
//
// The CSV layout has a "date" column followed by one column per country,
// empty cells for missing values. The JSON layout is the split orientation:
// {"columns": [...], "index": [...], "data": [[...], ...]} with null for
// missing values. Both round trip a panel exactly.
package snapshot

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"econpanel/internal/model"
	"econpanel/internal/panel"
)

const (
	TimestampLayout = "20060102_150405"
	indexHeader     = "date"
	maxSequence     = 999
)

var ErrNotFound = errors.New("snapshot: no backup found")

func WriteCSV(w io.Writer, p *panel.Panel) error {
	writer := csv.NewWriter(w)
	header := append([]string{indexHeader}, p.Countries()...)
	if err := writer.Write(header); err != nil {
		return err
	}
	matrix := p.Matrix()
	for i, year := range p.Years() {
		record := make([]string, 0, len(header))
		record = append(record, strconv.Itoa(year))
		for _, value := range matrix[i] {
			record = append(record, formatValue(value))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadCSV(r io.Reader) (*panel.Panel, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("snapshot: read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("snapshot: csv has no header")
	}

	countries := records[0][1:]
	years := make([]int, 0, len(records)-1)
	values := make([][]float64, 0, len(records)-1)
	for line, record := range records[1:] {
		if len(record) != len(countries)+1 {
			return nil, fmt.Errorf("snapshot: csv line %d has %d fields, want %d", line+2, len(record), len(countries)+1)
		}
		year, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			return nil, fmt.Errorf("snapshot: csv line %d: invalid year %q", line+2, record[0])
		}
		row := make([]float64, len(countries))
		for j, cell := range record[1:] {
			row[j], err = parseValue(cell)
			if err != nil {
				return nil, fmt.Errorf("snapshot: csv line %d: %w", line+2, err)
			}
		}
		years = append(years, year)
		values = append(values, row)
	}
	return panel.FromMatrix(years, countries, values)
}

type splitDocument struct {
	Columns []string     `json:"columns"`
	Index   []int        `json:"index"`
	Data    [][]*float64 `json:"data"`
}

func WriteJSON(w io.Writer, p *panel.Panel) error {
	matrix := p.Matrix()
	doc := splitDocument{
		Columns: p.Countries(),
		Index:   p.Years(),
		Data:    make([][]*float64, len(matrix)),
	}
	for i, row := range matrix {
		cells := make([]*float64, len(row))
		for j, value := range row {
			if model.IsMissing(value) || math.IsInf(value, 0) {
				continue
			}
			v := value
			cells[j] = &v
		}
		doc.Data[i] = cells
	}
	return json.NewEncoder(w).Encode(doc)
}

func ReadJSON(r io.Reader) (*panel.Panel, error) {
	var doc splitDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("snapshot: read json: %w", err)
	}
	values := make([][]float64, len(doc.Data))
	for i, row := range doc.Data {
		values[i] = make([]float64, len(row))
		for j, cell := range row {
			if cell == nil {
				values[i][j] = model.Missing()
				continue
			}
			values[i][j] = *cell
		}
	}
	return panel.FromMatrix(doc.Index, doc.Columns, values)
}

// Save writes <name>_<timestamp>.csv and .json into dir and returns both
// paths. Existing backups are never overwritten: a second save within the
// same second gets a _1, _2, ... suffix.
func Save(dir, name string, p *panel.Panel, at time.Time) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	stamp := at.Format(TimestampLayout)
	for seq := 0; seq <= maxSequence; seq++ {
		base := fmt.Sprintf("%s_%s", name, stamp)
		if seq > 0 {
			base = fmt.Sprintf("%s_%d", base, seq)
		}
		base = filepath.Join(dir, base)
		csvPath := base + ".csv"
		jsonPath := base + ".json"
		if exists(csvPath) || exists(jsonPath) {
			continue
		}
		err := writeFile(csvPath, func(w io.Writer) error { return WriteCSV(w, p) })
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", "", err
		}
		err = writeFile(jsonPath, func(w io.Writer) error { return WriteJSON(w, p) })
		if errors.Is(err, os.ErrExist) {
			_ = os.Remove(csvPath)
			continue
		}
		if err != nil {
			return "", "", err
		}
		return csvPath, jsonPath, nil
	}
	return "", "", fmt.Errorf("snapshot: too many backups of %s at %s", name, stamp)
}

// LoadLatest reads the most recent backup of name in dir. JSON is preferred
// over CSV when both exist for one timestamp.
func LoadLatest(dir, name string) (*panel.Panel, string, error) {
	path, err := latestPath(dir, name)
	if err != nil {
		return nil, "", err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	var p *panel.Panel
	if strings.HasSuffix(path, ".json") {
		p, err = ReadJSON(file)
	} else {
		p, err = ReadCSV(file)
	}
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return p, path, nil
}

func latestPath(dir, name string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s in %s", ErrNotFound, name, dir)
		}
		return "", err
	}

	type candidate struct {
		stamp string
		seq   int
		ext   string
		name  string
	}
	prefix := name + "_"
	candidates := make([]candidate, 0)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".json" && ext != ".csv" {
			continue
		}
		stamp, seq, ok := parseStamp(strings.TrimSuffix(strings.TrimPrefix(entry.Name(), prefix), ext))
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{stamp: stamp, seq: seq, ext: ext, name: entry.Name()})
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: %s in %s", ErrNotFound, name, dir)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].stamp != candidates[j].stamp {
			return candidates[i].stamp > candidates[j].stamp
		}
		if candidates[i].seq != candidates[j].seq {
			return candidates[i].seq > candidates[j].seq
		}
		return candidates[i].ext == ".json" && candidates[j].ext != ".json"
	})
	return filepath.Join(dir, candidates[0].name), nil
}

// parseStamp splits "<timestamp>" or "<timestamp>_<seq>" as written by Save.
func parseStamp(value string) (string, int, bool) {
	if len(value) < len(TimestampLayout) {
		return "", 0, false
	}
	stamp, rest := value[:len(TimestampLayout)], value[len(TimestampLayout):]
	if _, err := time.Parse(TimestampLayout, stamp); err != nil {
		return "", 0, false
	}
	if rest == "" {
		return stamp, 0, true
	}
	if !strings.HasPrefix(rest, "_") {
		return "", 0, false
	}
	seq, err := strconv.Atoi(rest[1:])
	if err != nil || seq < 1 {
		return "", 0, false
	}
	return stamp, seq, true
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func writeFile(path string, write func(io.Writer) error) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func formatValue(value float64) string {
	if model.IsMissing(value) {
		return ""
	}
	return strconv.FormatFloat(value, 'g', -1, 64)
}

func parseValue(cell string) (float64, error) {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" || strings.EqualFold(trimmed, "nan") {
		return model.Missing(), nil
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", cell)
	}
	return value, nil
}
