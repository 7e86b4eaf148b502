package mapping

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"composer/internal/jsonvalue"
	"composer/internal/relation"
	"composer/internal/schema"
	"composer/internal/transform"
)

// Config is the in-progress composition: output schema, field mappings and
// relationships. It is an immutable value; every With* operation returns a
// new Config and leaves the receiver untouched.
type Config struct {
	schema        *schema.Node
	mappings      []FieldMapping
	relationships []relation.Relationship
}

// Schema returns a copy of the output schema, or nil.
func (c Config) Schema() *schema.Node { return c.schema.Clone() }

// Mappings returns a copy of every mapping in insertion order.
func (c Config) Mappings() []FieldMapping {
	out := make([]FieldMapping, len(c.mappings))
	for i, m := range c.mappings {
		out[i] = m.clone()
	}
	return out
}

// Relationships returns a copy of every relationship in declaration order.
func (c Config) Relationships() []relation.Relationship {
	return append([]relation.Relationship(nil), c.relationships...)
}

// Mapping returns the mapping for (targetPath, sourceID).
func (c Config) Mapping(targetPath, sourceID string) (FieldMapping, bool) {
	k := bindingKey{targetPath, sourceID}
	for _, m := range c.mappings {
		if m.key() == k {
			return m.clone(), true
		}
	}
	return FieldMapping{}, false
}

// MappingByID returns the mapping with id.
func (c Config) MappingByID(id string) (FieldMapping, bool) {
	if i := c.indexOf(id); i >= 0 {
		return c.mappings[i].clone(), true
	}
	return FieldMapping{}, false
}

// MappingsFor returns every mapping of targetPath ordered by source ID.
func (c Config) MappingsFor(targetPath string) []FieldMapping {
	var out []FieldMapping
	for _, m := range c.mappings {
		if m.TargetPath == targetPath {
			out = append(out, m.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Targets returns the distinct mapped target paths in insertion order.
func (c Config) Targets() []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range c.mappings {
		if !seen[m.TargetPath] {
			seen[m.TargetPath] = true
			out = append(out, m.TargetPath)
		}
	}
	return out
}

func (c Config) indexOf(id string) int {
	for i, m := range c.mappings {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (c Config) withMappings(ms []FieldMapping) Config {
	c.mappings = ms
	return c
}

// ── Mapping updates ────────────────────────────────────────

// WithMapping upserts m keyed by (TargetPath, SourceID). Replacing keeps the
// existing mapping's ID and position. A new mapping without an ID gets one.
func (c Config) WithMapping(m FieldMapping) Config {
	m = m.clone()
	out := make([]FieldMapping, 0, len(c.mappings)+1)
	replaced := false
	for _, existing := range c.mappings {
		if existing.key() == m.key() {
			m.ID = existing.ID
			out = append(out, m)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		out = append(out, m)
	}
	return c.withMappings(out)
}

// WithoutMapping removes the mapping with id. Other sources' mappings for
// the same target are kept.
func (c Config) WithoutMapping(id string) Config {
	out := make([]FieldMapping, 0, len(c.mappings))
	for _, m := range c.mappings {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return c.withMappings(out)
}

// update applies fn to a copy of the mapping with id.
func (c Config) update(id string, fn func(*FieldMapping)) (Config, error) {
	i := c.indexOf(id)
	if i < 0 {
		return c, fmt.Errorf("%w: %s", ErrUnknownMapping, id)
	}
	out := make([]FieldMapping, len(c.mappings))
	copy(out, c.mappings)
	m := out[i].clone()
	fn(&m)
	out[i] = m
	return c.withMappings(out), nil
}

// WithTransformationStep appends step to the pipeline of mapping id.
func (c Config) WithTransformationStep(id string, step transform.Step) (Config, error) {
	return c.update(id, func(m *FieldMapping) {
		m.Transformations = append(m.Transformations, step)
	})
}

// WithTransformations replaces the pipeline of mapping id.
func (c Config) WithTransformations(id string, steps []transform.Step) (Config, error) {
	return c.update(id, func(m *FieldMapping) {
		m.Transformations = append([]transform.Step(nil), steps...)
	})
}

// WithFallback sets the fallback of mapping id. Undefined clears it.
func (c Config) WithFallback(id string, v jsonvalue.Value) (Config, error) {
	return c.update(id, func(m *FieldMapping) { m.FallbackValue = v })
}

// WithConditional sets the gate of mapping id. An empty expression clears it.
func (c Config) WithConditional(id, expression string) (Config, error) {
	return c.update(id, func(m *FieldMapping) {
		if expression == "" {
			m.Conditional = nil
			return
		}
		m.Conditional = &Conditional{Expression: expression}
	})
}

// ── Relationship updates ───────────────────────────────────

// WithRelationship validates r and upserts it by ID. Self-relationships are
// rejected here so the join never sees one.
func (c Config) WithRelationship(r relation.Relationship) (Config, error) {
	if err := r.Validate(); err != nil {
		return c, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	out := make([]relation.Relationship, 0, len(c.relationships)+1)
	replaced := false
	for _, existing := range c.relationships {
		if existing.ID == r.ID {
			out = append(out, r)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, r)
	}
	c.relationships = out
	return c, nil
}

// WithoutRelationship removes the relationship with id.
func (c Config) WithoutRelationship(id string) Config {
	out := make([]relation.Relationship, 0, len(c.relationships))
	for _, r := range c.relationships {
		if r.ID != id {
			out = append(out, r)
		}
	}
	c.relationships = out
	return c
}

// ── Schema and cascades ────────────────────────────────────

// WithSchema replaces the output schema. Existing mappings are kept even
// when their targets no longer exist.
func (c Config) WithSchema(root *schema.Node) Config {
	c.schema = root.Clone()
	return c
}

// WithoutSource drops every mapping and relationship naming sourceID.
func (c Config) WithoutSource(sourceID string) Config {
	ms := make([]FieldMapping, 0, len(c.mappings))
	for _, m := range c.mappings {
		if m.SourceID != sourceID {
			ms = append(ms, m)
		}
	}
	rs := make([]relation.Relationship, 0, len(c.relationships))
	for _, r := range c.relationships {
		if r.ParentSourceID != sourceID && r.ChildSourceID != sourceID {
			rs = append(rs, r)
		}
	}
	c.mappings, c.relationships = ms, rs
	return c
}

// WithoutTarget removes the schema node at targetPath and drops every
// mapping at or beneath it.
func (c Config) WithoutTarget(targetPath string) Config {
	if c.schema != nil {
		if trimmed, ok := c.schema.Without(targetPath); ok {
			c.schema = trimmed
		}
	}
	ms := make([]FieldMapping, 0, len(c.mappings))
	for _, m := range c.mappings {
		if !schema.Under(m.TargetPath, targetPath) {
			ms = append(ms, m)
		}
	}
	c.mappings = ms
	return c
}
