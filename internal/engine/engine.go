// Package engine evaluates a mapping configuration against fetched records
// and renders the composed output.
package engine

import (
	"errors"
	"strings"

	"composer/internal/catalog"
	"composer/internal/jsonvalue"
	"composer/internal/mapping"
	"composer/internal/notify"
	"composer/internal/relation"
	"composer/internal/schema"
	"composer/internal/sourcepath"
)

// ErrNoSchema is returned when the configuration has no output schema yet.
var ErrNoSchema = errors.New("engine: no output schema")

// ── Engine ─────────────────────────────────────────────────
// Orchestrates: join → per-record schema walk → field resolution.

// Engine composes output documents. It holds no state of its own beyond its
// collaborators, so one Engine may serve concurrent evaluations.
type Engine struct {
	mapper   *mapping.Mapper
	cache    *catalog.Cache
	notifier notify.Notifier
}

// New returns an engine. A nil cache disables Preview.
func New(m *mapping.Mapper, cache *catalog.Cache, n notify.Notifier) *Engine {
	if cache == nil {
		cache = catalog.NewCache()
	}
	return &Engine{mapper: m, cache: cache, notifier: notify.OrDiscard(n)}
}

// Mapper returns the engine's mapper.
func (e *Engine) Mapper() *mapping.Mapper { return e.mapper }

// Cache returns the catalogue cache Preview reads samples from.
func (e *Engine) Cache() *catalog.Cache { return e.cache }

// Evaluate joins the batches and builds one output document, keyed by the
// schema root.
//
// Top-level fields take their value from the first record whose source binds
// them. The outermost list produces elements per record, fanning out over
// the first wildcard of the bound source paths; nested lists fan out within
// their enclosing element. An undefined required field becomes null; an
// undefined optional field is omitted.
func (e *Engine) Evaluate(batches []relation.Batch) (jsonvalue.Value, error) {
	cfg := e.mapper.Config()
	root := cfg.Schema()
	if root == nil {
		return jsonvalue.Value{}, ErrNoSchema
	}
	records := relation.JoinAll(batches, cfg.Relationships())

	b := &builder{mapper: e.mapper, targets: cfg.Targets()}
	out := b.node(root, rootPath(root), frame{records: records})
	if out.IsUndefined() {
		out = jsonvalue.NullValue()
	}
	return jsonvalue.NewObject(jsonvalue.Field{Key: root.Key, Value: out}), nil
}

// EvaluateSamples evaluates against the cached sample of every source, one
// record per source in source ID order.
func (e *Engine) EvaluateSamples() (jsonvalue.Value, error) {
	var batches []relation.Batch
	for _, id := range e.cache.Sources() {
		if sample, ok := e.cache.Sample(id); ok && !sample.IsMissing() {
			batches = append(batches, relation.Batch{SourceID: id, Records: samples(sample)})
		}
	}
	return e.Evaluate(batches)
}

// Preview resolves one binding against the cached sample of its source in
// preview mode. ok is false when the target is unmapped for sourceID or no
// sample is cached.
func (e *Engine) Preview(targetPath, sourceID string) (jsonvalue.Value, bool) {
	sample, ok := e.cache.Sample(sourceID)
	if !ok {
		e.notifier.Warn("no cached sample to preview against", "source", sourceID, "target", targetPath)
		return jsonvalue.Value{}, false
	}
	fm, ok := e.mapper.Lookup(targetPath, sourceID)
	if !ok {
		return jsonvalue.Value{}, false
	}
	record := sample
	if record.Kind() == jsonvalue.Array {
		record = record.Index(0)
	}
	return e.mapper.Apply(fm, record, nil, sourcepath.ModePreview)
}

// samples splits a root array sample into records.
func samples(v jsonvalue.Value) []jsonvalue.Value {
	if v.Kind() == jsonvalue.Array {
		return v.Items()
	}
	return []jsonvalue.Value{v}
}

func rootPath(root *schema.Node) string {
	if root.IsList() {
		return root.Key + sourcepath.WildcardMarker
	}
	return root.Key
}

// ── builder ────────────────────────────────────────────────

type builder struct {
	mapper  *mapping.Mapper
	targets []string
}

// frame is the evaluation context of one node: the candidate records and the
// array elements the walk is currently inside.
type frame struct {
	records []relation.Record
	scope   *mapping.Scope
}

func (b *builder) node(n *schema.Node, path string, f frame) jsonvalue.Value {
	switch {
	case n.Type == schema.TypeTable || n.Element() != nil:
		return b.list(n, path, f)
	case n.IsList():
		// an array without an element description is filled as one value
		return b.leaf(path, f, sourcepath.ModeFanOut)
	case n.IsLeaf():
		return b.leaf(path, f, sourcepath.ModePreview)
	default:
		return b.object(n, path, n.Children, f)
	}
}

func (b *builder) object(n *schema.Node, path string, children []*schema.Node, f frame) jsonvalue.Value {
	fields := make([]jsonvalue.Field, 0, len(children))
	for _, c := range children {
		v := b.node(c, schema.ChildPath(n, path, c), f)
		if v.IsUndefined() {
			if !c.Required {
				continue
			}
			v = jsonvalue.NullValue()
		}
		fields = append(fields, jsonvalue.Field{Key: c.Key, Value: v})
	}
	return jsonvalue.NewObject(fields...)
}

func (b *builder) leaf(path string, f frame, mode sourcepath.Mode) jsonvalue.Value {
	for _, rec := range f.records {
		if v, ok := b.mapper.ResolveScoped(path, rec.Data, rec.Origin, f.scope, mode); ok {
			return v
		}
	}
	return jsonvalue.Value{}
}

func (b *builder) list(n *schema.Node, path string, f frame) jsonvalue.Value {
	items := []jsonvalue.Value{}
	for _, rec := range f.records {
		one := []relation.Record{rec}
		p, bound := b.plan(path, rec, f.scope)
		switch {
		case !bound:
			continue
		case p == nil:
			items = append(items, b.element(n, path, frame{records: one, scope: f.scope}))
		default:
			for _, el := range sourcepath.Elements(p.base, p.rel) {
				scope := &mapping.Scope{Prefix: p.prefix, Element: el, Outer: f.scope}
				items = append(items, b.element(n, path, frame{records: one, scope: scope}))
			}
		}
	}
	return jsonvalue.ArrayValue(items...)
}

func (b *builder) element(n *schema.Node, path string, f frame) jsonvalue.Value {
	if n.Type == schema.TypeTable {
		return b.object(n, path, n.Children, f)
	}
	return b.node(n.Element(), path, f)
}

// fan describes how a list iterates one record: over the elements found at
// rel beneath base, which sit at prefix of the record's full source path.
type fan struct {
	prefix sourcepath.Path
	base   jsonvalue.Value
	rel    sourcepath.Path
}

// plan decides how the list at path iterates rec. bound is false when rec's
// source binds nothing under the list. A nil fan with bound set means one
// element per record. Bindings inside nested lists decide only when nothing
// is bound directly under the list.
func (b *builder) plan(path string, rec relation.Record, scope *mapping.Scope) (*fan, bool) {
	bound := false
	for _, nested := range []bool{false, true} {
		if bound {
			break
		}
		for _, t := range b.targets {
			if !schema.Under(t, path) || strings.Contains(t[len(path):], sourcepath.WildcardMarker) != nested {
				continue
			}
			fm, ok := b.mapper.Select(t, rec.Origin)
			if !ok {
				continue
			}
			bound = true
			p, err := sourcepath.Parse(fm.SourcePath)
			if err != nil {
				continue
			}
			base, consumed := rec.Data, sourcepath.Path(nil)
			if s := scope.Match(p); s != nil {
				base, consumed = s.Element, s.Prefix
			}
			head, _, ok := p[len(consumed):].SplitAtWildcard()
			if !ok {
				continue
			}
			prefix := append(consumed[:len(consumed):len(consumed)], head...)
			return &fan{prefix: prefix, base: base, rel: head}, true
		}
	}
	return nil, bound
}
