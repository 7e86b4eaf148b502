package mapping

import (
	"fmt"
	"sync"

	"composer/internal/jsonvalue"
	"composer/internal/notify"
	"composer/internal/relation"
	"composer/internal/schema"
	"composer/internal/sourcepath"
	"composer/internal/transform"
)

// Mapper holds the current Config and resolves bound values. Updates swap
// the whole Config under a lock, so readers always see a consistent one.
type Mapper struct {
	mu       sync.RWMutex
	cfg      Config
	pipeline *transform.Pipeline
	eval     *transform.Evaluator
	notifier notify.Notifier
}

// NewMapper returns a mapper over cfg. A nil pipeline uses the default
// registry; a nil notifier discards reports.
func NewMapper(cfg Config, p *transform.Pipeline, n notify.Notifier) *Mapper {
	n = notify.OrDiscard(n)
	if p == nil {
		p = transform.NewPipeline(nil, n)
	}
	return &Mapper{cfg: cfg, pipeline: p, eval: transform.NewEvaluator(), notifier: n}
}

// Config returns the current configuration.
func (m *Mapper) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Update applies fn atomically. When fn fails the config is unchanged.
func (m *Mapper) Update(fn func(Config) (Config, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := fn(m.cfg)
	if err != nil {
		return err
	}
	m.cfg = next
	return nil
}

// Bind creates or replaces the binding of targetPath for sourceID. The path
// is not checked against any catalogue; stale paths simply resolve to
// undefined.
func (m *Mapper) Bind(targetPath, sourceID, sourcePath string) FieldMapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	fm := FieldMapping{TargetPath: targetPath, SourceID: sourceID, SourcePath: sourcePath}
	if prev, ok := m.cfg.Mapping(targetPath, sourceID); ok {
		fm = prev
		fm.SourcePath = sourcePath
	}
	m.cfg = m.cfg.WithMapping(fm)
	bound, _ := m.cfg.Mapping(targetPath, sourceID)
	return bound
}

// Unbind removes one mapping and reports whether it existed.
func (m *Mapper) Unbind(mappingID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.indexOf(mappingID) < 0 {
		return false
	}
	m.cfg = m.cfg.WithoutMapping(mappingID)
	return true
}

// Lookup returns the mapping of (targetPath, sourceID).
func (m *Mapper) Lookup(targetPath, sourceID string) (FieldMapping, bool) {
	return m.Config().Mapping(targetPath, sourceID)
}

// SetTransformations replaces the pipeline of a mapping.
func (m *Mapper) SetTransformations(mappingID string, steps []transform.Step) error {
	return m.Update(func(c Config) (Config, error) { return c.WithTransformations(mappingID, steps) })
}

// AddTransformation appends one step to the pipeline of a mapping.
func (m *Mapper) AddTransformation(mappingID string, step transform.Step) error {
	return m.Update(func(c Config) (Config, error) { return c.WithTransformationStep(mappingID, step) })
}

// SetFallback sets the value used when the source read is undefined or null.
func (m *Mapper) SetFallback(mappingID string, v jsonvalue.Value) error {
	return m.Update(func(c Config) (Config, error) { return c.WithFallback(mappingID, v) })
}

// SetConditional gates a mapping on an expression, which must compile.
func (m *Mapper) SetConditional(mappingID, expression string) error {
	if err := m.ValidateConditional(expression); err != nil {
		return err
	}
	return m.Update(func(c Config) (Config, error) { return c.WithConditional(mappingID, expression) })
}

// ValidateConditional reports whether expression compiles as a mapping gate.
// The empty expression is valid and clears the gate.
func (m *Mapper) ValidateConditional(expression string) error {
	if expression == "" {
		return nil
	}
	if err := m.eval.Validate(expression); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBinding, err)
	}
	return nil
}

// Registry returns the step registry behind the mapper's pipeline.
func (m *Mapper) Registry() *transform.Registry { return m.pipeline.Registry() }

// AddRelationship validates and stores a relationship.
func (m *Mapper) AddRelationship(r relation.Relationship) error {
	return m.Update(func(c Config) (Config, error) { return c.WithRelationship(r) })
}

// SetSchema replaces the output schema.
func (m *Mapper) SetSchema(root *schema.Node) {
	_ = m.Update(func(c Config) (Config, error) { return c.WithSchema(root), nil })
}

// RemoveSource cascades the removal of a source.
func (m *Mapper) RemoveSource(sourceID string) {
	_ = m.Update(func(c Config) (Config, error) { return c.WithoutSource(sourceID), nil })
}

// RemoveTarget cascades the removal of an output field.
func (m *Mapper) RemoveTarget(targetPath string) {
	_ = m.Update(func(c Config) (Config, error) { return c.WithoutTarget(targetPath), nil })
}

// ── Resolution ─────────────────────────────────────────────

// Select picks the mapping of targetPath for a record of origin sourceID.
// A record without an origin falls back to the mapping with the lowest
// source ID, which keeps the choice deterministic.
func (m *Mapper) Select(targetPath, sourceID string) (FieldMapping, bool) {
	cfg := m.Config()
	if sourceID != "" {
		return cfg.Mapping(targetPath, sourceID)
	}
	all := cfg.MappingsFor(targetPath)
	if len(all) == 0 {
		return FieldMapping{}, false
	}
	return all[0], true
}

// Scope narrows resolution to one array element. Mappings whose source path
// starts with Prefix read the rest of their path from Element. Nested list
// elements chain to their Outer scope; the innermost matching prefix wins.
type Scope struct {
	Prefix  sourcepath.Path
	Element jsonvalue.Value
	Outer   *Scope
}

// Match returns the innermost scope whose prefix p starts with, or nil.
func (s *Scope) Match(p sourcepath.Path) *Scope {
	for ; s != nil; s = s.Outer {
		if len(s.Prefix) > 0 && p.HasPrefix(s.Prefix) {
			return s
		}
	}
	return nil
}

// Resolve reads targetPath's bound value out of record. ok is false when
// the field is unmapped for sourceID, or its conditional does not hold.
func (m *Mapper) Resolve(targetPath string, record jsonvalue.Value, sourceID string, mode sourcepath.Mode) (jsonvalue.Value, bool) {
	return m.ResolveScoped(targetPath, record, sourceID, nil, mode)
}

// ResolveScoped is Resolve within an array element.
func (m *Mapper) ResolveScoped(targetPath string, record jsonvalue.Value, sourceID string, scope *Scope, mode sourcepath.Mode) (jsonvalue.Value, bool) {
	fm, ok := m.Select(targetPath, sourceID)
	if !ok {
		return jsonvalue.Value{}, false
	}
	return m.Apply(fm, record, scope, mode)
}

// Apply evaluates one mapping against record.
//
// The fallback replaces an undefined or null read and skips the pipeline.
// In fan-out mode over a wildcard path, fallback and pipeline apply to each
// element's result.
func (m *Mapper) Apply(fm FieldMapping, record jsonvalue.Value, scope *Scope, mode sourcepath.Mode) (jsonvalue.Value, bool) {
	if fm.Conditional != nil && !m.holds(fm, record) {
		return jsonvalue.Value{}, false
	}

	p, err := sourcepath.Parse(fm.SourcePath)
	if err != nil {
		m.notifier.Warn("mapping has an invalid source path", "mapping", fm.ID, "path", fm.SourcePath, "err", err)
		return m.finish(fm, jsonvalue.Value{}, record), true
	}
	root := record
	if s := scope.Match(p); s != nil {
		root, p = s.Element, p[len(s.Prefix):]
	}

	if mode == sourcepath.ModeFanOut && p.HasWildcard() {
		results := sourcepath.ResolveAll(root, p)
		out := make([]jsonvalue.Value, len(results))
		for i, r := range results {
			out[i] = m.finish(fm, r, record)
		}
		return jsonvalue.ArrayValue(out...), true
	}
	return m.finish(fm, sourcepath.Resolve(root, p, mode), record), true
}

func (m *Mapper) finish(fm FieldMapping, raw, record jsonvalue.Value) jsonvalue.Value {
	if raw.IsMissing() && fm.HasFallback() {
		return fm.FallbackValue
	}
	if len(fm.Transformations) == 0 {
		return raw
	}
	return m.pipeline.Apply(raw, fm.Transformations, transform.Context{
		Record:     record,
		SourceID:   fm.SourceID,
		TargetPath: fm.TargetPath,
	})
}

func (m *Mapper) holds(fm FieldMapping, record jsonvalue.Value) bool {
	ok, err := m.eval.Bool(fm.Conditional.Expression, transform.Env(jsonvalue.Value{}, transform.Context{Record: record, SourceID: fm.SourceID}))
	if err != nil {
		m.notifier.Warn("mapping conditional failed", "mapping", fm.ID, "expression", fm.Conditional.Expression, "err", err)
		return false
	}
	return ok
}
