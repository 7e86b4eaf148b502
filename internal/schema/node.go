// Package schema models output schema trees, synthesizes default trees per
// output format, and imports OpenAPI, Swagger and JSON Schema documents.
package schema

import (
	"strings"

	"composer/internal/jsonvalue"
	"composer/internal/sourcepath"
)

// FieldType is the declared type of an output node.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
	TypeURL     FieldType = "url"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
	TypeElement FieldType = "element"
	TypeTable   FieldType = "table"
	TypeRef     FieldType = "ref"
	TypeAny     FieldType = "any"
)

// Node is one field of an output schema tree. Children order drives
// serialization order for XML and CSV.
//
// An array node has exactly one child describing its elements; the child's
// key names the element (the XML tag) and is not part of target paths. A
// table node's children are its columns.
type Node struct {
	Key         string            `json:"key" yaml:"key"`
	Type        FieldType         `json:"type" yaml:"type"`
	Required    bool              `json:"required" yaml:"required"`
	Children    []*Node           `json:"children,omitempty" yaml:"children,omitempty"`
	Format      string            `json:"format,omitempty" yaml:"format,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Namespace   string            `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Enum        []jsonvalue.Value `json:"enum,omitempty" yaml:"enum,omitempty"`
	Ref         string            `json:"ref,omitempty" yaml:"ref,omitempty"`
}

// IsList reports whether the node produces one output per record or element.
func (n *Node) IsList() bool {
	return n.Type == TypeArray || n.Type == TypeTable
}

// IsLeaf reports whether the node holds a value rather than other fields.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0 && !n.IsList()
}

// Element returns the element node of an array, or nil.
func (n *Node) Element() *Node {
	if n.Type != TypeArray || len(n.Children) == 0 {
		return nil
	}
	return n.Children[0]
}

// Clone deep-copies the tree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Children != nil {
		c.Children = make([]*Node, len(n.Children))
		for i, ch := range n.Children {
			c.Children[i] = ch.Clone()
		}
	}
	if n.Enum != nil {
		c.Enum = append([]jsonvalue.Value(nil), n.Enum...)
	}
	return &c
}

func (n *Node) segment() string {
	if n.IsList() {
		return n.Key + sourcepath.WildcardMarker
	}
	return n.Key
}

// Walk visits every node depth-first with its target path. Array elements
// share their array's path. Returning false skips the node's children.
func (n *Node) Walk(fn func(path string, node *Node) bool) {
	if n == nil {
		return
	}
	n.walk(n.segment(), fn)
}

func (n *Node) walk(path string, fn func(string, *Node) bool) {
	if !fn(path, n) {
		return
	}
	for _, c := range n.Children {
		if n.Type == TypeArray {
			c.walk(path, fn)
			continue
		}
		c.walk(path+"."+c.segment(), fn)
	}
}

// ChildPath returns the target path of child c under a node at path.
func ChildPath(parent *Node, path string, c *Node) string {
	if parent.Type == TypeArray {
		return path
	}
	if path == "" {
		return c.segment()
	}
	return path + "." + c.segment()
}

// Paths returns every distinct target path in tree order.
func (n *Node) Paths() []string {
	var out []string
	seen := make(map[string]bool)
	n.Walk(func(p string, _ *Node) bool {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
		return true
	})
	return out
}

// Leaves returns the target paths of value-holding nodes.
func (n *Node) Leaves() []string {
	var out []string
	n.Walk(func(p string, node *Node) bool {
		if node.IsLeaf() {
			out = append(out, p)
		}
		return true
	})
	return out
}

// Find returns the first node at path. For array paths that is the array.
func (n *Node) Find(path string) *Node {
	var found *Node
	n.Walk(func(p string, node *Node) bool {
		if found != nil {
			return false
		}
		if p == path {
			found = node
			return false
		}
		return strings.HasPrefix(path, p)
	})
	return found
}

// Without returns a copy of the tree with the node at path removed. The root
// cannot be removed; ok is false when nothing matched.
func (n *Node) Without(path string) (*Node, bool) {
	c := n.Clone()
	if c == nil || path == c.segment() {
		return c, false
	}
	return c, c.remove(c.segment(), path)
}

func (n *Node) remove(path, target string) bool {
	for i, c := range n.Children {
		cp := ChildPath(n, path, c)
		if cp == target && n.Type != TypeArray {
			n.Children = append(n.Children[:i:i], n.Children[i+1:]...)
			return true
		}
		if strings.HasPrefix(target, cp) && c.remove(cp, target) {
			return true
		}
	}
	return false
}

// Under reports whether path equals prefix or lies beneath it.
func Under(path, prefix string) bool {
	if path == prefix {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return strings.HasPrefix(rest, ".") || strings.HasPrefix(rest, sourcepath.WildcardMarker)
}
