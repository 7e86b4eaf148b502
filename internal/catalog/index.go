// Package catalog discovers addressable paths inside sample documents and
// caches the resulting catalogue per data source.
package catalog

import (
	"strings"

	"composer/internal/infer"
	"composer/internal/jsonvalue"
	"composer/internal/sourcepath"
)

// DefaultMaxDepth bounds recursion into nested objects.
const DefaultMaxDepth = 4

// Entry is one discovered path. Entries are immutable once produced.
type Entry struct {
	Path         string             `json:"path"`
	SemanticType infer.SemanticType `json:"semanticType"`
	SampleValue  jsonvalue.Value    `json:"sampleValue,omitzero"`
	SourceID     string             `json:"sourceId,omitempty"`
	SourceName   string             `json:"sourceName,omitempty"`
}

// Indexer walks sample documents into catalogue entries.
type Indexer struct {
	maxDepth   int
	inferencer infer.Inferencer
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithMaxDepth sets the recursion bound. Values below 1 are ignored.
func WithMaxDepth(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.maxDepth = n
		}
	}
}

// WithInferencer substitutes the type inferencer.
func WithInferencer(inf infer.Inferencer) Option {
	return func(ix *Indexer) {
		if inf != nil {
			ix.inferencer = inf
		}
	}
}

// NewIndexer returns an Indexer using the heuristic inferencer and depth 4.
func NewIndexer(opts ...Option) *Indexer {
	ix := &Indexer{maxDepth: DefaultMaxDepth, inferencer: infer.Heuristic{}}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Index is shorthand for NewIndexer(opts...).Index(doc).
func Index(doc jsonvalue.Value, opts ...Option) []Entry {
	return NewIndexer(opts...).Index(doc)
}

// Index walks doc depth-first and returns one entry per distinct path, in
// document order. A top-level array is indexed through its first element,
// since each element is a record; its paths resolve against one record, not
// against the array.
func (ix *Indexer) Index(doc jsonvalue.Value) []Entry {
	c := &collector{pos: make(map[string]int)}
	root := doc
	if root.Kind() == jsonvalue.Array {
		root = root.Index(0)
	}
	if root.Kind() == jsonvalue.Object {
		ix.walk(c, root, nil, 1)
	}
	return c.entries
}

// IndexSource indexes doc and stamps every entry with the source identity.
func (ix *Indexer) IndexSource(sourceID, sourceName string, doc jsonvalue.Value) []Entry {
	entries := ix.Index(doc)
	for i := range entries {
		entries[i].SourceID = sourceID
		entries[i].SourceName = sourceName
	}
	return entries
}

// IndexRaw parses raw JSON and indexes it. Malformed input yields no entries.
func (ix *Indexer) IndexRaw(raw []byte) []Entry {
	doc, err := jsonvalue.Parse(raw)
	if err != nil {
		return nil
	}
	return ix.Index(doc)
}

func (ix *Indexer) walk(c *collector, obj jsonvalue.Value, prefix sourcepath.Path, depth int) {
	for _, key := range obj.Keys() {
		if Internal(key) || !sourcepath.ValidKey(key) {
			continue
		}
		val := obj.Get(key)
		p := prefix.Child(key)
		c.emit(ix.entry(p, val))

		switch val.Kind() {
		case jsonvalue.Object:
			if depth < ix.maxDepth {
				ix.walk(c, val, p, depth+1)
			}
		case jsonvalue.Array:
			first := val.Index(0)
			if first.Kind() == jsonvalue.Object && depth < ix.maxDepth {
				ix.walk(c, first, p.AsWildcard(), depth+1)
			}
		}
	}
}

func (ix *Indexer) entry(p sourcepath.Path, val jsonvalue.Value) Entry {
	path := p.String()
	e := Entry{Path: path}
	switch {
	case val.IsMissing():
		e.SemanticType = infer.TypeUnknown
	default:
		e.SemanticType = safeInfer(ix.inferencer, path, val)
	}
	if val.IsScalar() {
		e.SampleValue = val
	}
	return e
}

func safeInfer(inf infer.Inferencer, path string, val jsonvalue.Value) (t infer.SemanticType) {
	defer func() {
		if recover() != nil {
			t = infer.TypeUnknown
		}
	}()
	return inf.Infer(path, val)
}

// Internal reports whether key is GraphQL or system noise excluded from
// catalogues: a leading `_` or `$`, or the literal `__typename`.
func Internal(key string) bool {
	return key == "__typename" || strings.HasPrefix(key, "_") || strings.HasPrefix(key, "$")
}

// collector keeps one entry per path; re-emitting a path overwrites in place.
type collector struct {
	entries []Entry
	pos     map[string]int
}

func (c *collector) emit(e Entry) {
	if i, ok := c.pos[e.Path]; ok {
		c.entries[i] = e
		return
	}
	c.pos[e.Path] = len(c.entries)
	c.entries = append(c.entries, e)
}
