package jsonvalue

import (
	"errors"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrEmptyDocument is returned by ParseYAML for input without a document.
var ErrEmptyDocument = errors.New("jsonvalue: empty document")

const maxYAMLDepth = 512

// ParseYAML decodes a YAML document, preserving mapping key order.
// JSON input is accepted too, since YAML is a superset.
func ParseYAML(data []byte) (Value, error) {
	var n yaml.Node
	if err := yaml.Unmarshal(data, &n); err != nil {
		return Value{}, err
	}
	if n.Kind == 0 {
		return Value{}, ErrEmptyDocument
	}
	return fromNode(&n, 0)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *Value) UnmarshalYAML(n *yaml.Node) error {
	parsed, err := fromNode(n, 0)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler. Undefined encodes as null.
func (v Value) MarshalYAML() (any, error) {
	return v.toNode(), nil
}

func fromNode(n *yaml.Node, depth int) (Value, error) {
	if depth > maxYAMLDepth {
		return Value{}, fmt.Errorf("jsonvalue: yaml nesting deeper than %d", maxYAMLDepth)
	}
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return NullValue(), nil
		}
		return fromNode(n.Content[0], depth+1)
	case yaml.AliasNode:
		if n.Alias == nil {
			return NullValue(), nil
		}
		return fromNode(n.Alias, depth+1)
	case yaml.SequenceNode:
		items := make([]Value, 0, len(n.Content))
		for _, c := range n.Content {
			it, err := fromNode(c, depth+1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, it)
		}
		return ArrayValue(items...), nil
	case yaml.MappingNode:
		o := newObject(len(n.Content) / 2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, val := n.Content[i], n.Content[i+1]
			parsed, err := fromNode(val, depth+1)
			if err != nil {
				return Value{}, err
			}
			if k.ShortTag() == "!!merge" {
				mergeInto(o, parsed)
				continue
			}
			o.set(k.Value, parsed)
		}
		return Value{kind: Object, obj: o}, nil
	case yaml.ScalarNode:
		return scalarFromNode(n)
	}
	return Value{}, fmt.Errorf("jsonvalue: unsupported yaml node kind %d", n.Kind)
}

// mergeInto applies a `<<` merge: keys already present win.
func mergeInto(o *object, src Value) {
	sources := []Value{src}
	if src.Kind() == Array {
		sources = src.Items()
	}
	for _, s := range sources {
		for _, k := range s.Keys() {
			if _, ok := o.vals[k]; !ok {
				o.set(k, s.Get(k))
			}
		}
	}
}

func scalarFromNode(n *yaml.Node) (Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return NullValue(), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return Value{}, err
		}
		return BoolValue(b), nil
	case "!!int", "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return Value{}, err
		}
		return numberOrNull(f), nil
	}
	return StringValue(n.Value), nil
}

func (v Value) toNode() *yaml.Node {
	switch v.kind {
	case Bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v.b)}
	case Number:
		tag := "!!float"
		if s := FormatNumber(v.n); isIntegral(s) {
			tag = "!!int"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: FormatNumber(v.n)}
	case String:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.s}
	case Array:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, it := range v.arr {
			n.Content = append(n.Content, it.toNode())
		}
		return n
	case Object:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range v.obj.keys {
			n.Content = append(n.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
				v.obj.vals[k].toNode())
		}
		return n
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}

func isIntegral(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}
