// Package infer classifies source paths into advisory semantic types.
package infer

import (
	"strings"

	"composer/internal/jsonvalue"
	"composer/internal/sourcepath"
)

// SemanticType is the advisory classification of a catalogue path.
type SemanticType string

const (
	TypeString  SemanticType = "string"
	TypeNumber  SemanticType = "number"
	TypeBoolean SemanticType = "boolean"
	TypeDate    SemanticType = "date"
	TypeURL     SemanticType = "url"
	TypeArray   SemanticType = "array"
	TypeObject  SemanticType = "object"
	TypeUnknown SemanticType = "unknown"
)

// IsScalar reports whether values of this type are leaves.
func (t SemanticType) IsScalar() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeDate, TypeURL:
		return true
	}
	return false
}

// Inferencer classifies a path, optionally looking at a sample value.
// An Undefined value means the path is known only by name.
type Inferencer interface {
	Infer(path string, value jsonvalue.Value) SemanticType
}

// InferFunc adapts a function to Inferencer.
type InferFunc func(path string, value jsonvalue.Value) SemanticType

func (f InferFunc) Infer(path string, value jsonvalue.Value) SemanticType { return f(path, value) }

// ── Heuristic ──────────────────────────────────────────────

// Heuristic maps concrete non-string values by kind and classifies strings
// (and value-less paths) by the name of their last path segment.
type Heuristic struct{}

type nameRule struct {
	typ      SemanticType
	contains []string
	prefix   []string
	suffix   []string
}

// First match wins.
var nameRules = []nameRule{
	{typ: TypeDate, contains: []string{"date", "time", "created", "updated", "timestamp"}},
	{typ: TypeNumber, contains: []string{"count", "amount", "price", "quantity", "total", "sum", "id"}, suffix: []string{"_id"}},
	{typ: TypeBoolean, prefix: []string{"is_", "has_"}, contains: []string{"enabled", "active", "visible", "completed"}},
	{typ: TypeArray, contains: []string{"items", "tags", "categories", "list"}},
	{typ: TypeURL, contains: []string{"url", "link", "href", "uri"}},
}

func (r nameRule) match(name string) bool {
	for _, p := range r.prefix {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	for _, s := range r.suffix {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	for _, c := range r.contains {
		if strings.Contains(name, c) {
			return true
		}
	}
	return false
}

// Infer never panics; unrecognised shapes degrade to string or unknown.
func (Heuristic) Infer(path string, value jsonvalue.Value) SemanticType {
	switch value.Kind() {
	case jsonvalue.Null:
		return TypeUnknown
	case jsonvalue.Number:
		return TypeNumber
	case jsonvalue.Bool:
		return TypeBoolean
	case jsonvalue.Array:
		return TypeArray
	case jsonvalue.Object:
		return TypeObject
	case jsonvalue.String:
		// A concrete string is a leaf: the array rule would contradict the
		// value, so only leaf-shaped rules apply.
		t := ByName(path)
		if t == TypeArray {
			return TypeString
		}
		return t
	}
	return ByName(path)
}

// ByName applies the ordered name rules to the last segment of path.
func ByName(path string) SemanticType {
	name := strings.ToLower(sourcepath.LastName(path))
	if name == "" {
		return TypeString
	}
	for _, r := range nameRules {
		if r.match(name) {
			return r.typ
		}
	}
	return TypeString
}

// ── Sampled ────────────────────────────────────────────────

// Sampled votes across several sample values for one path. Each non-missing
// value contributes one vote; ties and empty input fall back to Base.
type Sampled struct {
	Base Inferencer
}

// NewSampled returns a Sampled inferencer over the heuristic.
func NewSampled() *Sampled { return &Sampled{Base: Heuristic{}} }

// Infer satisfies Inferencer for a single value.
func (s *Sampled) Infer(path string, value jsonvalue.Value) SemanticType {
	return s.InferAll(path, []jsonvalue.Value{value})
}

// InferAll classifies path from many observed values.
func (s *Sampled) InferAll(path string, values []jsonvalue.Value) SemanticType {
	base := s.Base
	if base == nil {
		base = Heuristic{}
	}
	votes := make(map[SemanticType]int)
	order := []SemanticType{}
	for _, v := range values {
		if v.IsMissing() {
			continue
		}
		t := base.Infer(path, v)
		if t == TypeString {
			t = refineString(v)
		}
		if _, seen := votes[t]; !seen {
			order = append(order, t)
		}
		votes[t]++
	}
	if len(order) == 0 {
		return base.Infer(path, jsonvalue.Value{})
	}
	best, bestN, tie := order[0], votes[order[0]], false
	for _, t := range order[1:] {
		switch {
		case votes[t] > bestN:
			best, bestN, tie = t, votes[t], false
		case votes[t] == bestN:
			tie = true
		}
	}
	if tie {
		return base.Infer(path, values[0])
	}
	return best
}

// refineString looks at the string itself, which the name heuristic never does.
func refineString(v jsonvalue.Value) SemanticType {
	s, _ := v.AsString()
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return TypeURL
	case looksLikeDate(s):
		return TypeDate
	}
	return TypeString
}

func looksLikeDate(s string) bool {
	if len(s) < 10 {
		return false
	}
	for i, c := range s[:10] {
		switch i {
		case 4, 7:
			if c != '-' {
				return false
			}
		default:
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}
