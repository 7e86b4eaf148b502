package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"

	"composer/internal/jsonvalue"
	"composer/internal/notify"
)

var (
	// ErrUnreadable means the input is neither a JSON nor a YAML object.
	ErrUnreadable = errors.New("schema: document is not readable JSON or YAML")
	// ErrUnsupportedDialect means the document parsed but nothing in it
	// could be converted.
	ErrUnsupportedDialect = errors.New("schema: unsupported specification dialect")
)

// Dialect is the detected kind of an imported document.
type Dialect string

const (
	DialectOpenAPI3   Dialect = "openapi-3"
	DialectSwagger2   Dialect = "swagger-2"
	DialectJSONSchema Dialect = "json-schema"
	DialectUnknown    Dialect = "unknown"
)

const maxImportDepth = 32

// DetectDialect classifies a parsed document by shape.
func DetectDialect(doc jsonvalue.Value) Dialect {
	if v, ok := doc.Get("openapi").AsString(); ok && strings.HasPrefix(v, "3.") {
		return DialectOpenAPI3
	}
	if v, ok := doc.Get("swagger").AsString(); ok && v == "2.0" {
		return DialectSwagger2
	}
	if _, ok := doc.Lookup("$schema"); ok {
		return DialectJSONSchema
	}
	return DialectUnknown
}

// Importer converts specification documents into schema trees.
type Importer struct {
	notifier notify.Notifier
}

// NewImporter returns an importer reporting degraded conversions to n.
func NewImporter(n notify.Notifier) *Importer {
	return &Importer{notifier: notify.OrDiscard(n)}
}

// Convert is shorthand for NewImporter(nil).Convert.
func Convert(raw []byte) (*Node, Dialect, error) {
	return NewImporter(nil).Convert(raw)
}

// Convert parses raw (JSON or YAML) and converts it. $ref schemas become
// TypeRef nodes carrying the reference; they are not resolved inline.
func (im *Importer) Convert(raw []byte) (*Node, Dialect, error) {
	doc, err := parseDocument(raw)
	if err != nil {
		return nil, "", err
	}
	dialect := DetectDialect(doc)

	var root *Node
	switch dialect {
	case DialectOpenAPI3:
		root, err = im.convertOpenAPI3(doc)
	case DialectSwagger2:
		root, err = im.convertSwagger2(doc)
	case DialectJSONSchema:
		root = fromRaw(rootKey(doc), doc, true, 0)
	default:
		root, err = im.flatten(doc)
	}
	if err != nil {
		return nil, dialect, err
	}
	return root, dialect, nil
}

func parseDocument(raw []byte) (jsonvalue.Value, error) {
	doc, err := jsonvalue.Parse(raw)
	if err != nil {
		doc, err = jsonvalue.ParseYAML(raw)
	}
	if err != nil {
		return jsonvalue.Value{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if doc.Kind() != jsonvalue.Object {
		return jsonvalue.Value{}, fmt.Errorf("%w: top level is %s, not an object", ErrUnreadable, doc.Kind())
	}
	return doc, nil
}

func rootKey(doc jsonvalue.Value) string {
	if t, ok := doc.Get("title").AsString(); ok && t != "" {
		return t
	}
	return "root"
}

// ── OpenAPI 3 / Swagger 2 ──────────────────────────────────

func (im *Importer) convertOpenAPI3(doc jsonvalue.Value) (*Node, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	spec, err := loadOpenAPI3(data)
	if err != nil {
		im.notifier.Warn("openapi loader rejected document, converting raw schemas", "err", err)
		return rawSchemas(doc.Get("components").Get("schemas"), DialectOpenAPI3)
	}
	return fromComponents(spec, doc.Get("components").Get("schemas"), "")
}

func loadOpenAPI3(data []byte) (spec *openapi3.T, err error) {
	defer func() {
		if r := recover(); r != nil {
			spec, err = nil, fmt.Errorf("openapi loader panicked: %v", r)
		}
	}()
	loader := &openapi3.Loader{IsExternalRefsAllowed: false}
	return loader.LoadFromData(data)
}

func (im *Importer) convertSwagger2(doc jsonvalue.Value) (*Node, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	var v2 openapi2.T
	if err := json.Unmarshal(data, &v2); err != nil {
		im.notifier.Warn("swagger document did not decode, converting raw definitions", "err", err)
		return rawSchemas(doc.Get("definitions"), DialectSwagger2)
	}
	spec, err := openapi2conv.ToV3(&v2)
	if err != nil {
		im.notifier.Warn("swagger conversion failed, converting raw definitions", "err", err)
		return rawSchemas(doc.Get("definitions"), DialectSwagger2)
	}
	return fromComponents(spec, doc.Get("definitions"), "#/definitions/")
}

// fromComponents converts components.schemas. raw is the same schema map as
// written in the document; it supplies declaration order, which the loaded
// spec does not keep. refPrefix, when set, rewrites converted references
// back to the document's own prefix.
func fromComponents(spec *openapi3.T, raw jsonvalue.Value, refPrefix string) (*Node, error) {
	if spec.Components == nil || len(spec.Components.Schemas) == 0 {
		return nil, fmt.Errorf("%w: document declares no schemas", ErrUnsupportedDialect)
	}
	root := &Node{Key: "schemas", Type: TypeObject, Required: true}
	if spec.Info != nil {
		root.Description = spec.Info.Title
	}
	for _, name := range orderedKeys(spec.Components.Schemas, raw.Keys()) {
		root.Children = append(root.Children, fromSchemaRef(name, spec.Components.Schemas[name], raw.Get(name), true, refPrefix, 0))
	}
	return root, nil
}

func fromSchemaRef(key string, ref *openapi3.SchemaRef, raw jsonvalue.Value, required bool, refPrefix string, depth int) *Node {
	if ref == nil || depth > maxImportDepth {
		return &Node{Key: key, Type: TypeAny, Required: required}
	}
	if ref.Ref != "" {
		r := ref.Ref
		if refPrefix != "" {
			r = strings.Replace(r, "#/components/schemas/", refPrefix, 1)
		}
		return &Node{Key: key, Type: TypeRef, Required: required, Ref: r}
	}
	s := ref.Value
	if s == nil {
		return &Node{Key: key, Type: TypeAny, Required: required}
	}

	n := &Node{
		Key:         key,
		Type:        openAPIType(s),
		Required:    required,
		Format:      s.Format,
		Description: s.Description,
	}
	for _, e := range s.Enum {
		n.Enum = append(n.Enum, jsonvalue.FromAny(e))
	}

	switch n.Type {
	case TypeArray:
		n.Children = []*Node{fromSchemaRef("item", s.Items, rawItems(raw), true, refPrefix, depth+1)}
	case TypeObject:
		props, req := collectProperties(s)
		rawProps := rawProperties(raw)
		names := make([]string, 0, len(rawProps))
		rawByName := make(map[string]jsonvalue.Value, len(rawProps))
		for _, p := range rawProps {
			names = append(names, p.name)
			rawByName[p.name] = p.schema
		}
		for _, name := range orderedKeys(props, names) {
			n.Children = append(n.Children, fromSchemaRef(name, props[name], rawByName[name], req[name], refPrefix, depth+1))
		}
	}
	return n
}

// collectProperties merges a schema's own properties with those of its
// inline allOf members.
func collectProperties(s *openapi3.Schema) (map[string]*openapi3.SchemaRef, map[string]bool) {
	props := make(map[string]*openapi3.SchemaRef, len(s.Properties))
	req := make(map[string]bool, len(s.Required))
	for _, member := range s.AllOf {
		if member == nil || member.Value == nil || member.Ref != "" {
			continue
		}
		p, r := collectProperties(member.Value)
		for k, v := range p {
			props[k] = v
		}
		for k := range r {
			req[k] = true
		}
	}
	for k, v := range s.Properties {
		props[k] = v
	}
	for _, k := range s.Required {
		req[k] = true
	}
	return props, req
}

func openAPIType(s *openapi3.Schema) FieldType {
	var t string
	if s.Type != nil {
		for _, candidate := range *s.Type {
			if candidate != "null" {
				t = candidate
				break
			}
		}
	}
	switch {
	case t == "" && s.Items != nil:
		t = "array"
	case t == "" && (len(s.Properties) > 0 || len(s.AllOf) > 0):
		t = "object"
	}
	return fieldType(t, s.Format)
}

func fieldType(t, format string) FieldType {
	switch t {
	case "string":
		switch format {
		case "date", "date-time":
			return TypeDate
		case "uri", "url", "iri":
			return TypeURL
		}
		return TypeString
	case "number":
		return TypeNumber
	case "integer":
		return TypeInteger
	case "boolean":
		return TypeBoolean
	case "array":
		return TypeArray
	case "object":
		return TypeObject
	}
	return TypeAny
}

// orderedKeys returns the keys of m in the order of declared, then the
// undeclared rest sorted.
func orderedKeys[T any](m map[string]T, declared []string) []string {
	keys := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, k := range declared {
		if _, ok := m[k]; ok && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	var rest []string
	for k := range m {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// ── Raw JSON Schema walk ───────────────────────────────────

// rawSchemas converts a name → schema object with full recursion.
func rawSchemas(schemas jsonvalue.Value, d Dialect) (*Node, error) {
	if schemas.Len() == 0 || schemas.Kind() != jsonvalue.Object {
		return nil, fmt.Errorf("%w: %s document declares no schemas", ErrUnsupportedDialect, d)
	}
	root := &Node{Key: "schemas", Type: TypeObject, Required: true}
	for _, name := range schemas.Keys() {
		root.Children = append(root.Children, fromRaw(name, schemas.Get(name), true, 0))
	}
	return root, nil
}

// fromRaw converts one JSON Schema object. Property order follows the document.
func fromRaw(key string, s jsonvalue.Value, required bool, depth int) *Node {
	if s.Kind() != jsonvalue.Object || depth > maxImportDepth {
		return &Node{Key: key, Type: TypeAny, Required: required}
	}
	if ref, ok := s.Get("$ref").AsString(); ok {
		return &Node{Key: key, Type: TypeRef, Required: required, Ref: ref}
	}

	n := &Node{Key: key, Type: rawType(s), Required: required}
	n.Format, _ = s.Get("format").AsString()
	n.Description, _ = s.Get("description").AsString()
	n.Enum = append(n.Enum, s.Get("enum").Items()...)

	switch n.Type {
	case TypeArray:
		n.Children = []*Node{fromRaw("item", rawItems(s), true, depth+1)}
	case TypeObject:
		for _, p := range rawProperties(s) {
			n.Children = append(n.Children, fromRaw(p.name, p.schema, p.required, depth+1))
		}
	}
	return n
}

// rawItems returns the element schema of an array schema. Tuple forms use
// their first entry.
func rawItems(s jsonvalue.Value) jsonvalue.Value {
	items := s.Get("items")
	if items.Kind() == jsonvalue.Array {
		return items.Index(0)
	}
	return items
}

type rawProperty struct {
	name     string
	schema   jsonvalue.Value
	required bool
}

func rawProperties(s jsonvalue.Value) []rawProperty {
	var out []rawProperty
	pos := make(map[string]int)
	add := func(schema jsonvalue.Value) {
		req := make(map[string]bool)
		for _, r := range schema.Get("required").Items() {
			if name, ok := r.AsString(); ok {
				req[name] = true
			}
		}
		props := schema.Get("properties")
		for _, name := range props.Keys() {
			p := rawProperty{name: name, schema: props.Get(name), required: req[name]}
			if i, ok := pos[name]; ok {
				p.required = p.required || out[i].required
				out[i] = p
				continue
			}
			pos[name] = len(out)
			out = append(out, p)
		}
		for name := range req {
			if i, ok := pos[name]; ok {
				out[i].required = true
			}
		}
	}
	for _, member := range s.Get("allOf").Items() {
		if _, isRef := member.Lookup("$ref"); !isRef {
			add(member)
		}
	}
	add(s)
	return out
}

func rawType(s jsonvalue.Value) FieldType {
	format, _ := s.Get("format").AsString()
	t := s.Get("type")
	if t.Kind() == jsonvalue.Array {
		for _, c := range t.Items() {
			if name, ok := c.AsString(); ok && name != "null" {
				return fieldType(name, format)
			}
		}
	}
	if name, ok := t.AsString(); ok {
		return fieldType(name, format)
	}
	switch {
	case s.Get("properties").Kind() == jsonvalue.Object, s.Get("allOf").Kind() == jsonvalue.Array:
		return TypeObject
	case !s.Get("items").IsMissing():
		return TypeArray
	}
	return TypeAny
}

// ── Unknown dialects ───────────────────────────────────────

// flatten converts components.schemas (or definitions) one level deep:
// each schema's direct properties become leaves and nothing recurses.
func (im *Importer) flatten(doc jsonvalue.Value) (*Node, error) {
	schemas := doc.Get("components").Get("schemas")
	if schemas.Kind() != jsonvalue.Object {
		schemas = doc.Get("definitions")
	}
	if schemas.Kind() != jsonvalue.Object || schemas.Len() == 0 {
		return nil, fmt.Errorf("%w: no openapi, swagger or $schema marker and no schemas to flatten", ErrUnsupportedDialect)
	}
	im.notifier.Warn("unrecognized specification dialect, flattening top-level properties", "schemas", schemas.Len())

	root := &Node{Key: "schemas", Type: TypeObject, Required: true}
	for _, name := range schemas.Keys() {
		s := schemas.Get(name)
		n := &Node{Key: name, Type: TypeObject, Required: true}
		for _, p := range rawProperties(s) {
			child := &Node{Key: p.name, Type: rawType(p.schema), Required: p.required}
			if ref, ok := p.schema.Get("$ref").AsString(); ok {
				child.Type, child.Ref = TypeRef, ref
			}
			n.Children = append(n.Children, child)
		}
		root.Children = append(root.Children, n)
	}
	return root, nil
}
