package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"composer/internal/etl"
	"composer/internal/jsonvalue"
)

// ── JSON File Source ────────────────────────────────────────
// Reads a local JSON (or YAML) document.

type jsonFileSource struct{}

func init() { etl.RegisterSource(&jsonFileSource{}) }

func (s *jsonFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "json_file",
		Label: "JSON File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Type: "file", Required: true, Help: "Path to the JSON or YAML file"},
			{Key: "dataPath", Label: "Data Path", Type: "string", Help: "Source path to the records (e.g., 'data.items'). Leave empty if root is an array."},
		},
	}
}

func (s *jsonFileSource) Sample(ctx context.Context, cfg etl.SourceConfig) (jsonvalue.Value, error) {
	doc, err := readJSONFile(cfg)
	if err != nil {
		return jsonvalue.Value{}, err
	}
	return atDataPath(doc, cfg)
}

func (s *jsonFileSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan jsonvalue.Value, <-chan error) {
	return stream(ctx, func() ([]jsonvalue.Value, error) {
		v, err := s.Sample(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return splitRecords(v), nil
	})
}

func readJSONFile(cfg etl.SourceConfig) (jsonvalue.Value, error) {
	filePath := cfg.String("filePath")
	if filePath == "" {
		return jsonvalue.Value{}, fmt.Errorf("filePath is required")
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return jsonvalue.Value{}, fmt.Errorf("read file: %w", err)
	}

	parse := jsonvalue.Parse
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		parse = jsonvalue.ParseYAML
	}
	doc, err := parse(data)
	if err != nil {
		return jsonvalue.Value{}, fmt.Errorf("parse %s: %w", filepath.Base(filePath), err)
	}
	return doc, nil
}
