// Package jsonvalue is a closed tagged union over JSON values.
//
// Objects keep their keys in document order so that catalogues, CSV columns
// and XML children come out in the order the sample document used.
package jsonvalue

import (
	"math"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	// Undefined is the zero Kind: the value is absent (a lookup missed).
	// It is distinct from Null, which is an explicit JSON null.
	Undefined Kind = iota
	Null
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "boolean"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "undefined"
	}
}

// Value is an immutable JSON value. The zero Value is Undefined.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  *object
}

// Field is one key/value pair of an object, used by NewObject.
type Field struct {
	Key   string
	Value Value
}

type object struct {
	keys []string
	vals map[string]Value
}

func newObject(capacity int) *object {
	return &object{keys: make([]string, 0, capacity), vals: make(map[string]Value, capacity)}
}

func (o *object) set(key string, v Value) {
	if _, ok := o.vals[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.vals[key] = v
}

func (o *object) clone(extra int) *object {
	c := newObject(len(o.keys) + extra)
	c.keys = append(c.keys, o.keys...)
	for k, v := range o.vals {
		c.vals[k] = v
	}
	return c
}

// ── Constructors ───────────────────────────────────────────

// NullValue returns an explicit JSON null.
func NullValue() Value { return Value{kind: Null} }

// BoolValue wraps a boolean.
func BoolValue(b bool) Value { return Value{kind: Bool, b: b} }

// NumberValue wraps a number.
func NumberValue(n float64) Value { return Value{kind: Number, n: n} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: String, s: s} }

// ArrayValue builds an array from items. Undefined items become null.
func ArrayValue(items ...Value) Value {
	arr := make([]Value, len(items))
	for i, it := range items {
		if it.kind == Undefined {
			it = NullValue()
		}
		arr[i] = it
	}
	return Value{kind: Array, arr: arr}
}

// NewObject builds an object from fields in the given order.
// Later duplicates overwrite earlier ones but keep the first position.
func NewObject(fields ...Field) Value {
	o := newObject(len(fields))
	for _, f := range fields {
		o.set(f.Key, f.Value)
	}
	return Value{kind: Object, obj: o}
}

// ── Inspection ─────────────────────────────────────────────

// Kind reports the variant.
func (v Value) Kind() Kind { return v.kind }

// IsUndefined reports whether the value is absent.
func (v Value) IsUndefined() bool { return v.kind == Undefined }

// IsZero reports whether the value is Undefined, so `omitzero` drops it.
func (v Value) IsZero() bool { return v.kind == Undefined }

// IsNull reports whether the value is an explicit JSON null.
func (v Value) IsNull() bool { return v.kind == Null }

// IsMissing reports whether the value is undefined or null.
func (v Value) IsMissing() bool { return v.kind == Undefined || v.kind == Null }

// IsScalar reports whether the value is a string, number or boolean.
func (v Value) IsScalar() bool {
	return v.kind == String || v.kind == Number || v.kind == Bool
}

// AsBool returns the boolean and whether the value is a Bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == Bool }

// AsNumber returns the number and whether the value is a Number.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == Number }

// AsString returns the string and whether the value is a String.
func (v Value) AsString() (string, bool) { return v.s, v.kind == String }

// Len returns the number of array items or object keys; zero otherwise.
func (v Value) Len() int {
	switch v.kind {
	case Array:
		return len(v.arr)
	case Object:
		return len(v.obj.keys)
	default:
		return 0
	}
}

// Index returns the i-th array item, or Undefined when out of range or not an array.
func (v Value) Index(i int) Value {
	if v.kind != Array || i < 0 || i >= len(v.arr) {
		return Value{}
	}
	return v.arr[i]
}

// Items returns the array items. The slice must not be modified.
func (v Value) Items() []Value {
	if v.kind != Array {
		return nil
	}
	return v.arr
}

// Keys returns the object keys in document order.
func (v Value) Keys() []string {
	if v.kind != Object {
		return nil
	}
	out := make([]string, len(v.obj.keys))
	copy(out, v.obj.keys)
	return out
}

// Get returns the value at key, or Undefined when absent or not an object.
func (v Value) Get(key string) Value {
	val, _ := v.Lookup(key)
	return val
}

// Lookup returns the value at key and whether it exists.
func (v Value) Lookup(key string) (Value, bool) {
	if v.kind != Object {
		return Value{}, false
	}
	val, ok := v.obj.vals[key]
	return val, ok
}

// ── Copy-on-write updates ──────────────────────────────────

// With returns a copy of the object with key set to val.
// A non-object receiver yields a new single-key object.
func (v Value) With(key string, val Value) Value {
	var o *object
	if v.kind == Object {
		o = v.obj.clone(1)
	} else {
		o = newObject(1)
	}
	o.set(key, val)
	return Value{kind: Object, obj: o}
}

// Without returns a copy of the object with key removed.
func (v Value) Without(key string) Value {
	if v.kind != Object {
		return v
	}
	if _, ok := v.obj.vals[key]; !ok {
		return v
	}
	o := newObject(len(v.obj.keys))
	for _, k := range v.obj.keys {
		if k != key {
			o.set(k, v.obj.vals[k])
		}
	}
	return Value{kind: Object, obj: o}
}

// Append returns a copy of the array with items appended.
func (v Value) Append(items ...Value) Value {
	base := v.Items()
	all := make([]Value, 0, len(base)+len(items))
	all = append(all, base...)
	all = append(all, items...)
	return ArrayValue(all...)
}

// ── Comparison & text ──────────────────────────────────────

// Equal reports deep equality. Object key order is not significant.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case Undefined, Null:
		return true
	case Bool:
		return a.b == b.b
	case Number:
		return a.n == b.n
	case String:
		return a.s == b.s
	case Array:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case Object:
		if len(a.obj.keys) != len(b.obj.keys) {
			return false
		}
		for k, av := range a.obj.vals {
			bv, ok := b.obj.vals[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders scalars as plain text and composite values as compact JSON.
// Undefined and null render as the empty string.
func (v Value) String() string {
	switch v.kind {
	case Undefined, Null:
		return ""
	case Bool:
		return strconv.FormatBool(v.b)
	case Number:
		return FormatNumber(v.n)
	case String:
		return v.s
	default:
		b, _ := v.MarshalJSON()
		return string(b)
	}
}

// FormatNumber renders a float without exponent noise for integral values.
func FormatNumber(n float64) string {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return "null"
	}
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}
