// Package etl acquires records from external systems and feeds them through
// record filters into the composition engine.
package etl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"composer/internal/jsonvalue"
)

// ErrEmptySample is returned when a source yields nothing to sample.
var ErrEmptySample = errors.New("etl: source returned no records")

// ── Source ──────────────────────────────────────────────────
// A Source extracts data from an external system.
// Implementations live in etl/sources/, one file per source type.

// SourceConfig is an opaque configuration map parsed per source type.
type SourceConfig map[string]any

// String returns the string at key, or "".
func (c SourceConfig) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Int returns the number at key, or def.
func (c SourceConfig) Int(key string, def int) int {
	switch n := c[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

// ConfigField describes a single configuration input for a source.
type ConfigField struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Type     string   `json:"type"` // "string" | "select" | "textarea" | "password" | "file" | "number"
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
	Default  string   `json:"default,omitempty"`
	Help     string   `json:"help,omitempty"`
}

// SourceSpec describes a source type and its config fields.
type SourceSpec struct {
	Type         string        `json:"type"`
	Label        string        `json:"label"`
	ConfigFields []ConfigField `json:"configFields"`
}

// Validate reports the first required field missing from cfg.
func (s SourceSpec) Validate(cfg SourceConfig) error {
	for _, f := range s.ConfigFields {
		if !f.Required {
			continue
		}
		if v, ok := cfg[f.Key]; !ok || v == nil || v == "" {
			return fmt.Errorf("%s: %s is required", s.Type, f.Key)
		}
	}
	return nil
}

// Source is the interface every data source must implement.
type Source interface {
	// Spec returns metadata about this source type.
	Spec() SourceSpec

	// Read streams records from the source into a channel.
	// The channel is closed when all records have been read or ctx is cancelled.
	// Errors are sent on the error channel (buffered size 1).
	Read(ctx context.Context, cfg SourceConfig) (<-chan jsonvalue.Value, <-chan error)
}

// Sampler is implemented by sources whose natural sample is one whole
// document (an API response, a feed) rather than a list of records.
type Sampler interface {
	Sample(ctx context.Context, cfg SourceConfig) (jsonvalue.Value, error)
}

// ── Source Registry ────────────────────────────────────────
// Compile-time registration via init() in each source file.

var (
	registryMu sync.RWMutex
	registry   = map[string]Source{}
)

// RegisterSource registers a source by its spec type.
func RegisterSource(s Source) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[s.Spec().Type] = s
}

// GetSource returns a registered source by type, or an error if not found.
func GetSource(typ string) (Source, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("unknown source type: %q", typ)
	}
	return s, nil
}

// ListSources returns the specs of all registered sources, sorted by type.
func ListSources() []SourceSpec {
	registryMu.RLock()
	defer registryMu.RUnlock()
	specs := make([]SourceSpec, 0, len(registry))
	for _, s := range registry {
		specs = append(specs, s.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Type < specs[j].Type })
	return specs
}

// ── Collecting ─────────────────────────────────────────────

// Collect reads up to max records from src (max <= 0 reads everything).
func Collect(ctx context.Context, src Source, cfg SourceConfig, max int) ([]jsonvalue.Value, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recCh, errCh := src.Read(ctx, cfg)

	var records []jsonvalue.Value
	for rec := range recCh {
		records = append(records, rec)
		if max > 0 && len(records) >= max {
			cancel()
			break
		}
	}

	// Drain remaining so the reader can exit.
	go func() {
		for range recCh {
		}
	}()
	if err := <-errCh; err != nil && !(max > 0 && len(records) >= max) {
		return records, err
	}
	return records, nil
}

// Sample returns a representative document for src: the Sampler document
// when the source offers one, otherwise the first max records as an array
// (a single record is returned as itself).
func Sample(ctx context.Context, src Source, cfg SourceConfig, max int) (jsonvalue.Value, error) {
	if err := src.Spec().Validate(cfg); err != nil {
		return jsonvalue.Value{}, err
	}
	if s, ok := src.(Sampler); ok {
		return s.Sample(ctx, cfg)
	}
	records, err := Collect(ctx, src, cfg, max)
	if err != nil {
		return jsonvalue.Value{}, err
	}
	switch len(records) {
	case 0:
		return jsonvalue.Value{}, ErrEmptySample
	case 1:
		return records[0], nil
	}
	return jsonvalue.ArrayValue(records...), nil
}
