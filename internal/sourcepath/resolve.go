package sourcepath

import "composer/internal/jsonvalue"

// Mode selects how wildcard results collapse into a single value.
type Mode int

const (
	// ModePreview keeps the first result; mapping UIs preview against element 0.
	ModePreview Mode = iota
	// ModeFanOut keeps every result as an array, one item per element.
	ModeFanOut
)

// ResolveAll walks p through root and returns one result per addressed
// value. Wildcards multiply results; nested wildcards flatten in document
// order. A step that cannot be taken yields an Undefined placeholder so that
// results stay aligned with the elements they came from.
func ResolveAll(root jsonvalue.Value, p Path) []jsonvalue.Value {
	if len(p) == 0 {
		return []jsonvalue.Value{root}
	}
	current := []jsonvalue.Value{root}
	for _, seg := range p {
		next := make([]jsonvalue.Value, 0, len(current))
		for _, v := range current {
			if v.Kind() != jsonvalue.Object {
				next = append(next, jsonvalue.Value{})
				continue
			}
			child := v.Get(seg.Key)
			if !seg.Wildcard {
				next = append(next, child)
				continue
			}
			if child.Kind() != jsonvalue.Array {
				next = append(next, jsonvalue.Value{})
				continue
			}
			next = append(next, child.Items()...)
		}
		current = next
	}
	return current
}

// Resolve reads p from root. Without wildcards both modes return the single
// addressed value. With wildcards, ModePreview returns the first result and
// ModeFanOut returns an array of all results.
func Resolve(root jsonvalue.Value, p Path, mode Mode) jsonvalue.Value {
	results := ResolveAll(root, p)
	if !p.HasWildcard() || mode == ModePreview {
		if len(results) == 0 {
			return jsonvalue.Value{}
		}
		return results[0]
	}
	return jsonvalue.ArrayValue(results...)
}

// ResolveString parses s and resolves it. Unparseable paths resolve to
// Undefined, since discovery and mapping errors degrade instead of failing.
func ResolveString(root jsonvalue.Value, s string, mode Mode) jsonvalue.Value {
	p, err := Parse(s)
	if err != nil {
		return jsonvalue.Value{}
	}
	return Resolve(root, p, mode)
}

// Elements returns the array elements addressed by a wildcard prefix such as
// `orders[*]`. Non-array targets yield no elements.
func Elements(root jsonvalue.Value, prefix Path) []jsonvalue.Value {
	out := ResolveAll(root, prefix)
	elems := out[:0:0]
	for _, v := range out {
		if !v.IsUndefined() {
			elems = append(elems, v)
		}
	}
	return elems
}
