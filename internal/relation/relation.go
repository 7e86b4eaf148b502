// Package relation joins record sets of two sources along a declared
// relationship and embeds matched children into their parents.
package relation

import (
	"errors"
	"fmt"

	"composer/internal/jsonvalue"
	"composer/internal/sourcepath"
)

var (
	ErrSelfRelationship = errors.New("relation: parent and child source must differ")
	ErrInvalid          = errors.New("relation: invalid relationship")
)

// Cardinality of a relationship, seen from the parent.
type Cardinality string

const (
	OneToOne   Cardinality = "one-to-one"
	OneToMany  Cardinality = "one-to-many"
	ManyToMany Cardinality = "many-to-many"
)

// Relationship declares how records of ChildSourceID attach to records of
// ParentSourceID: children whose ForeignKey equals the parent's ParentKey are
// embedded under EmbedAs.
type Relationship struct {
	ID             string      `json:"id" yaml:"id"`
	ParentSourceID string      `json:"parentSourceId" yaml:"parentSourceId"`
	ParentKey      string      `json:"parentKey" yaml:"parentKey"`
	ChildSourceID  string      `json:"childSourceId" yaml:"childSourceId"`
	ForeignKey     string      `json:"foreignKey" yaml:"foreignKey"`
	Cardinality    Cardinality `json:"cardinality" yaml:"cardinality"`
	EmbedAs        string      `json:"embedAs" yaml:"embedAs"`
	IncludeOrphans bool        `json:"includeOrphans" yaml:"includeOrphans"`
}

// Validate checks the relationship at configuration time. Join itself never
// validates: it assumes a configured relationship passed here.
func (r Relationship) Validate() error {
	if r.ParentSourceID == "" || r.ChildSourceID == "" {
		return fmt.Errorf("%w: both sources are required", ErrInvalid)
	}
	if r.ParentSourceID == r.ChildSourceID {
		return fmt.Errorf("%w: %q", ErrSelfRelationship, r.ParentSourceID)
	}
	if _, err := sourcepath.Parse(r.ParentKey); err != nil {
		return fmt.Errorf("%w: parent key: %v", ErrInvalid, err)
	}
	if _, err := sourcepath.Parse(r.ForeignKey); err != nil {
		return fmt.Errorf("%w: foreign key: %v", ErrInvalid, err)
	}
	if !sourcepath.ValidKey(r.EmbedAs) {
		return fmt.Errorf("%w: embedAs %q", ErrInvalid, r.EmbedAs)
	}
	switch r.Cardinality {
	case OneToOne, OneToMany, ManyToMany:
	default:
		return fmt.Errorf("%w: cardinality %q", ErrInvalid, r.Cardinality)
	}
	return nil
}

// Record is one source record tagged with the source it came from. The tag
// survives joins: a parent keeps its origin after children are embedded.
type Record struct {
	Origin string
	Data   jsonvalue.Value
}

// Tag wraps documents of one source as records.
func Tag(origin string, docs ...jsonvalue.Value) []Record {
	out := make([]Record, len(docs))
	for i, d := range docs {
		out[i] = Record{Origin: origin, Data: d}
	}
	return out
}

// Join embeds matching children into each parent.
//
// one-to-one embeds the first match (child input order) or null; one-to-many
// and many-to-many embed every match as an array. Parents with no match are
// dropped unless IncludeOrphans is set. Missing or null keys never match.
// many-to-many is evaluated from the parent side only, so a child matched by
// several parents is embedded in each of them.
func Join(parents, children []Record, rel Relationship) []Record {
	index := make(map[string][]jsonvalue.Value)
	for _, c := range children {
		if k, ok := Key(sourcepath.ResolveString(c.Data, rel.ForeignKey, sourcepath.ModePreview)); ok {
			index[k] = append(index[k], c.Data)
		}
	}

	out := make([]Record, 0, len(parents))
	for _, p := range parents {
		var matches []jsonvalue.Value
		if k, ok := Key(sourcepath.ResolveString(p.Data, rel.ParentKey, sourcepath.ModePreview)); ok {
			matches = index[k]
		}
		if len(matches) == 0 && !rel.IncludeOrphans {
			continue
		}
		if p.Data.Kind() != jsonvalue.Object {
			out = append(out, p)
			continue
		}

		var embed jsonvalue.Value
		if rel.Cardinality == OneToOne {
			embed = jsonvalue.NullValue()
			if len(matches) > 0 {
				embed = matches[0]
			}
		} else {
			embed = jsonvalue.ArrayValue(matches...)
		}
		out = append(out, Record{Origin: p.Origin, Data: p.Data.With(rel.EmbedAs, embed)})
	}
	return out
}

// Key returns the join key of v. Scalars compare by text, so 7 and "7" match.
// Missing values have no key.
func Key(v jsonvalue.Value) (string, bool) {
	if v.IsMissing() {
		return "", false
	}
	return v.String(), true
}
