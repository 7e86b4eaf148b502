// Package sourcepath parses and resolves source paths such as
// `orders[*].total` against JSON documents.
//
// Grammar: segment ('.' segment)* where a segment is a bare key optionally
// followed by the literal array-wildcard marker `[*]`. No other bracket or
// index syntax exists.
package sourcepath

import (
	"errors"
	"fmt"
	"strings"
)

// WildcardMarker is the literal suffix marking an array-wildcard segment.
const WildcardMarker = "[*]"

// ErrInvalidPath is returned by Parse for strings outside the grammar.
var ErrInvalidPath = errors.New("invalid source path")

// Segment is one step of a path: an object key, optionally followed by
// "for each element of the array found at that key".
type Segment struct {
	Key      string
	Wildcard bool
}

func (s Segment) String() string {
	if s.Wildcard {
		return s.Key + WildcardMarker
	}
	return s.Key
}

// Path is a parsed source path.
type Path []Segment

// Parse parses a source path string.
func Parse(s string) (Path, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	parts := strings.Split(s, ".")
	p := make(Path, 0, len(parts))
	for _, part := range parts {
		seg := Segment{Key: part}
		if strings.HasSuffix(part, WildcardMarker) {
			seg = Segment{Key: strings.TrimSuffix(part, WildcardMarker), Wildcard: true}
		}
		if !ValidKey(seg.Key) {
			return nil, fmt.Errorf("%w: bad segment %q in %q", ErrInvalidPath, part, s)
		}
		p = append(p, seg)
	}
	return p, nil
}

// MustParse is Parse for literals. It panics on error.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// ValidKey reports whether key can appear as a path segment: non-empty and
// free of the grammar's reserved characters.
func ValidKey(key string) bool {
	return key != "" && !strings.ContainsAny(key, ".[]")
}

// String renders the path in its canonical grammar.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, seg := range p {
		parts[i] = seg.String()
	}
	return strings.Join(parts, ".")
}

// Child returns a new path with a key segment appended.
func (p Path) Child(key string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, Segment{Key: key})
}

// AsWildcard returns a copy of the path whose last segment is marked `[*]`.
func (p Path) AsWildcard() Path {
	if len(p) == 0 {
		return p
	}
	out := make(Path, len(p))
	copy(out, p)
	out[len(out)-1].Wildcard = true
	return out
}

// Last returns the final segment, or the zero Segment for an empty path.
func (p Path) Last() Segment {
	if len(p) == 0 {
		return Segment{}
	}
	return p[len(p)-1]
}

// HasWildcard reports whether any segment is an array wildcard.
func (p Path) HasWildcard() bool {
	for _, seg := range p {
		if seg.Wildcard {
			return true
		}
	}
	return false
}

// SplitAtWildcard splits the path after its first wildcard segment.
// The prefix includes that segment. ok is false when there is no wildcard.
func (p Path) SplitAtWildcard() (prefix, rest Path, ok bool) {
	for i, seg := range p {
		if seg.Wildcard {
			return p[:i+1], p[i+1:], true
		}
	}
	return p, nil, false
}

// HasPrefix reports whether p starts with every segment of prefix.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// LastName returns the last segment's key of a path string without parsing
// strictly; used by heuristics that must never fail.
func LastName(s string) string {
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(s, WildcardMarker)
}
