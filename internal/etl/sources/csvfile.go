package sources

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"composer/internal/etl"
	"composer/internal/jsonvalue"
)

// ── CSV File Source ─────────────────────────────────────────
// Reads records from a local CSV file.

type csvFileSource struct{}

func init() { etl.RegisterSource(&csvFileSource{}) }

func (s *csvFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "csv_file",
		Label: "CSV File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Type: "file", Required: true, Help: "Path to the CSV file"},
			{Key: "delimiter", Label: "Delimiter", Type: "string", Default: ",", Help: "Column delimiter (default: comma)"},
			{Key: "hasHeader", Label: "Has Header", Type: "select", Options: []string{"true", "false"}, Default: "true", Help: "Whether the first row contains column names"},
		},
	}
}

func (s *csvFileSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan jsonvalue.Value, <-chan error) {
	return stream(ctx, func() ([]jsonvalue.Value, error) {
		headers, rows, err := readCSVFile(cfg)
		if err != nil {
			return nil, err
		}
		records := make([]jsonvalue.Value, 0, len(rows))
		for _, row := range rows {
			fields := make([]jsonvalue.Field, 0, len(headers))
			for j, h := range headers {
				if j < len(row) {
					fields = append(fields, jsonvalue.Field{Key: h, Value: inferCSVValue(row[j])})
				}
			}
			records = append(records, jsonvalue.NewObject(fields...))
		}
		return records, nil
	})
}

func readCSVFile(cfg etl.SourceConfig) ([]string, [][]string, error) {
	filePath := cfg.String("filePath")
	if filePath == "" {
		return nil, nil, fmt.Errorf("filePath is required")
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if delim := cfg.String("delimiter"); delim != "" {
		if delim == `\t` {
			delim = "\t"
		}
		reader.Comma = []rune(delim)[0]
	}
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("empty csv file")
	}

	hasHeader := true
	switch h := cfg["hasHeader"].(type) {
	case string:
		hasHeader = strings.ToLower(h) != "false"
	case bool:
		hasHeader = h
	}

	if hasHeader {
		headers := records[0]
		for i, h := range headers {
			headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
			if headers[i] == "" {
				headers[i] = fmt.Sprintf("col_%d", i+1)
			}
		}
		return headers, records[1:], nil
	}
	// Generate column names: col_1, col_2, ...
	headers := make([]string, len(records[0]))
	for i := range headers {
		headers[i] = fmt.Sprintf("col_%d", i+1)
	}
	return headers, records, nil
}

// inferCSVValue tries to parse a cell as a number or bool.
func inferCSVValue(s string) jsonvalue.Value {
	s = strings.TrimSpace(s)
	if s == "" {
		return jsonvalue.NullValue()
	}
	// keep zero-padded codes such as zip codes as strings
	if len(s) > 1 && s[0] == '0' && s[1] != '.' {
		return jsonvalue.StringValue(s)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return jsonvalue.NumberValue(f)
	}
	switch strings.ToLower(s) {
	case "true", "yes":
		return jsonvalue.BoolValue(true)
	case "false", "no":
		return jsonvalue.BoolValue(false)
	}
	return jsonvalue.StringValue(s)
}
