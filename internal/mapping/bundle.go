package mapping

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"composer/internal/relation"
	"composer/internal/schema"
)

// Bundle is the serializable artifact handed to storage and, later, to the
// execution environment that serves the composed API.
type Bundle struct {
	Schema        *schema.Node            `json:"schema" yaml:"schema"`
	Mapping       []FieldMapping          `json:"mapping" yaml:"mapping"`
	Relationships []relation.Relationship `json:"relationships" yaml:"relationships"`
}

// Bundle snapshots the config.
func (c Config) Bundle() Bundle {
	return Bundle{
		Schema:        c.Schema(),
		Mapping:       c.Mappings(),
		Relationships: c.Relationships(),
	}
}

// FromBundle rebuilds a Config, rejecting bundles that break its invariants:
// one mapping per (target, source) and no self-relationships.
func FromBundle(b Bundle) (Config, error) {
	var c Config
	c.schema = b.Schema.Clone()

	seen := make(map[bindingKey]string, len(b.Mapping))
	for _, m := range b.Mapping {
		if m.TargetPath == "" || m.SourceID == "" {
			return Config{}, fmt.Errorf("%w: mapping %q needs a target and a source", ErrInvalidBinding, m.ID)
		}
		if prev, dup := seen[m.key()]; dup {
			return Config{}, fmt.Errorf("%w: %s from %s (mappings %q and %q)", ErrDuplicateBinding, m.TargetPath, m.SourceID, prev, m.ID)
		}
		m = m.clone()
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		seen[m.key()] = m.ID
		c.mappings = append(c.mappings, m)
	}

	for _, r := range b.Relationships {
		var err error
		if c, err = c.WithRelationship(r); err != nil {
			return Config{}, fmt.Errorf("relationship %q: %w", r.ID, err)
		}
	}
	return c, nil
}

// EncodeJSON renders the bundle as indented JSON.
func EncodeJSON(b Bundle) ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}

// EncodeYAML renders the bundle as YAML.
func EncodeYAML(b Bundle) ([]byte, error) {
	return yaml.Marshal(b)
}

// DecodeBundle reads a bundle from JSON or YAML.
func DecodeBundle(data []byte) (Bundle, error) {
	var b Bundle
	if json.Valid(data) {
		if err := json.Unmarshal(data, &b); err != nil {
			return Bundle{}, fmt.Errorf("decode bundle: %w", err)
		}
		return b, nil
	}
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Bundle{}, fmt.Errorf("decode bundle: %w", err)
	}
	return b, nil
}
