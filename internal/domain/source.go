package domain

import "composer/internal/jsonvalue"

// SourceType names a registered acquisition source.
type SourceType string

const (
	SourceHTTP     SourceType = "http"
	SourceJSONFile SourceType = "json_file"
	SourceCSVFile  SourceType = "csv_file"
	SourceRSS      SourceType = "rss"
	SourceDatabase SourceType = "database"
)

// DataSource is one configured input of a composition. The engine reads only
// ID, Name and SampleDocument; the rest drives acquisition.
type DataSource struct {
	ID     string         `json:"id" yaml:"id"`
	Name   string         `json:"name" yaml:"name"`
	Type   SourceType     `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config"`

	// Filters shape the fetched records before they are joined.
	Filters []FilterConfig `json:"filters,omitempty" yaml:"filters"`

	// Refresh is a cron expression for scheduled sample refreshes.
	Refresh string `json:"refresh,omitempty" yaml:"refresh"`

	SampleDocument jsonvalue.Value `json:"sampleDocument,omitzero" yaml:"sampleDocument,omitempty"`
}

// DisplayName falls back to the ID when no name is set.
func (s DataSource) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// FilterConfig is a declarative record filter ("filter" | "dedupe" |
// "sort" | "limit").
type FilterConfig struct {
	Type   string         `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config"`
}
