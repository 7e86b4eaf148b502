package schema

import (
	"fmt"
	"strings"

	"composer/internal/catalog"
	"composer/internal/infer"
	"composer/internal/sourcepath"
)

// Format is an output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
	FormatCSV  Format = "csv"
	FormatRSS  Format = "rss"
	FormatAtom Format = "atom"
)

// AtomNamespace is the XML namespace of Atom feeds.
const AtomNamespace = "http://www.w3.org/2005/Atom"

// ParseFormat accepts a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatXML, FormatCSV, FormatRSS, FormatAtom:
		return f, nil
	}
	return "", fmt.Errorf("schema: unknown format %q", s)
}

// Source is the catalogue of one configured data source.
type Source struct {
	ID      string
	Name    string
	Entries []catalog.Entry
}

// AutoGenerator proposes a schema from source catalogues.
type AutoGenerator interface {
	Generate(sources []Source) *Node
}

// Synthesizer builds default schema trees per output format.
type Synthesizer struct {
	auto AutoGenerator
}

// NewSynthesizer returns a synthesizer; a nil generator means FlatGenerator.
func NewSynthesizer(auto AutoGenerator) *Synthesizer {
	if auto == nil {
		auto = FlatGenerator{}
	}
	return &Synthesizer{auto: auto}
}

// Synthesize is shorthand for NewSynthesizer(nil).Synthesize.
func Synthesize(format Format, sources []Source) *Node {
	return NewSynthesizer(nil).Synthesize(format, sources)
}

// Synthesize returns a fresh default tree for format.
func (s *Synthesizer) Synthesize(format Format, sources []Source) *Node {
	switch format {
	case FormatRSS:
		return rssSkeleton()
	case FormatAtom:
		return atomSkeleton()
	case FormatCSV:
		cols := firstSourceFields(sources)
		if len(cols) == 0 {
			cols = []*Node{
				leaf("id", TypeNumber, true),
				leaf("name", TypeString, false),
				leaf("value", TypeString, false),
			}
		}
		return &Node{Key: "table", Type: TypeTable, Required: true, Children: cols}
	case FormatXML:
		children := firstSourceFields(sources)
		if len(children) == 0 {
			children = []*Node{leaf("data", TypeString, false)}
		}
		return &Node{Key: "root", Type: TypeElement, Required: true, Children: children}
	default:
		return s.auto.Generate(sources)
	}
}

func leaf(key string, t FieldType, required bool) *Node {
	return &Node{Key: key, Type: t, Required: required}
}

func rssSkeleton() *Node {
	item := &Node{Key: "item", Type: TypeObject, Required: true, Children: []*Node{
		leaf("title", TypeString, true),
		leaf("link", TypeURL, true),
		leaf("description", TypeString, false),
		leaf("pubDate", TypeDate, false),
		leaf("guid", TypeString, false),
	}}
	channel := &Node{Key: "channel", Type: TypeObject, Required: true, Children: []*Node{
		leaf("title", TypeString, true),
		leaf("link", TypeURL, true),
		leaf("description", TypeString, true),
		leaf("language", TypeString, false),
		leaf("pubDate", TypeDate, false),
		{Key: "items", Type: TypeArray, Required: true, Children: []*Node{item}},
	}}
	return &Node{Key: "rss", Type: TypeObject, Required: true, Children: []*Node{channel}}
}

func atomSkeleton() *Node {
	entry := &Node{Key: "entry", Type: TypeObject, Required: true, Children: []*Node{
		leaf("title", TypeString, true),
		leaf("id", TypeString, true),
		leaf("updated", TypeDate, true),
		leaf("summary", TypeString, false),
		leaf("link", TypeURL, false),
	}}
	return &Node{Key: "feed", Type: TypeObject, Required: true, Namespace: AtomNamespace, Children: []*Node{
		leaf("title", TypeString, true),
		leaf("id", TypeString, true),
		leaf("updated", TypeDate, true),
		leaf("author", TypeString, false),
		{Key: "entries", Type: TypeArray, Required: true, Children: []*Node{entry}},
	}}
}

// firstSourceFields turns the first source's top-level scalar entries into
// leaf nodes. When it has none, the scalars under its first array of
// objects are used instead.
func firstSourceFields(sources []Source) []*Node {
	if len(sources) == 0 {
		return nil
	}
	entries := sources[0].Entries
	if cols := scalarFields(entries, nil); len(cols) > 0 {
		return cols
	}
	for _, e := range entries {
		p, err := sourcepath.Parse(e.Path)
		if err != nil || len(p) != 1 || e.SemanticType != infer.TypeArray {
			continue
		}
		if cols := scalarFields(entries, p.AsWildcard()); len(cols) > 0 {
			return cols
		}
	}
	return nil
}

func scalarFields(entries []catalog.Entry, under sourcepath.Path) []*Node {
	var out []*Node
	for _, e := range entries {
		p, err := sourcepath.Parse(e.Path)
		if err != nil || len(p) != len(under)+1 || !p.HasPrefix(under) {
			continue
		}
		if !e.SemanticType.IsScalar() && e.SemanticType != infer.TypeUnknown {
			continue
		}
		out = append(out, leaf(p.Last().Key, FromSemantic(e.SemanticType), false))
	}
	return out
}

// FromSemantic maps an inferred type onto a field type.
func FromSemantic(t infer.SemanticType) FieldType {
	switch t {
	case infer.TypeNumber:
		return TypeNumber
	case infer.TypeBoolean:
		return TypeBoolean
	case infer.TypeDate:
		return TypeDate
	case infer.TypeURL:
		return TypeURL
	case infer.TypeArray:
		return TypeArray
	case infer.TypeObject:
		return TypeObject
	}
	return TypeString
}

// ── FlatGenerator ──────────────────────────────────────────

// FlatGenerator proposes `data[*]` records whose fields are the top-level
// scalar paths of every source. The first source wins on key collisions.
type FlatGenerator struct{}

func (FlatGenerator) Generate(sources []Source) *Node {
	record := &Node{Key: "record", Type: TypeObject, Required: true}
	seen := make(map[string]bool)
	for _, src := range sources {
		for _, f := range scalarFields(src.Entries, nil) {
			if seen[f.Key] {
				continue
			}
			seen[f.Key] = true
			record.Children = append(record.Children, f)
		}
	}
	return &Node{Key: "data", Type: TypeArray, Required: true, Children: []*Node{record}}
}
