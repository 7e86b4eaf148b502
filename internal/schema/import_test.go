package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composer/internal/notify"
	"composer/internal/schema"
)

func child(t *testing.T, n *schema.Node, key string) *schema.Node {
	t.Helper()
	for _, c := range n.Children {
		if c.Key == key {
			return c
		}
	}
	t.Fatalf("no child %q under %q", key, n.Key)
	return nil
}

const openapi3Doc = `
openapi: 3.0.3
info: {title: Shop, version: "1"}
paths: {}
components:
  schemas:
    Order:
      type: object
      required: [id]
      properties:
        id: {type: integer}
        status: {type: string, enum: [open, closed]}
        placed: {type: string, format: date-time}
        customer: {$ref: '#/components/schemas/Customer'}
        lines:
          type: array
          items:
            type: object
            properties:
              sku: {type: string}
    Customer:
      type: object
      properties:
        name: {type: string}
`

func TestConvert_OpenAPI3(t *testing.T) {
	root, dialect, err := schema.Convert([]byte(openapi3Doc))
	require.NoError(t, err)
	assert.Equal(t, schema.DialectOpenAPI3, dialect)
	assert.Equal(t, "Shop", root.Description)

	order := child(t, root, "Order")
	assert.Equal(t, schema.TypeObject, order.Type)
	assert.True(t, child(t, order, "id").Required)
	assert.Equal(t, schema.TypeInteger, child(t, order, "id").Type)
	assert.False(t, child(t, order, "status").Required)
	assert.Len(t, child(t, order, "status").Enum, 2)
	assert.Equal(t, schema.TypeDate, child(t, order, "placed").Type)

	customer := child(t, order, "customer")
	assert.Equal(t, schema.TypeRef, customer.Type)
	assert.Equal(t, "#/components/schemas/Customer", customer.Ref)
	assert.Empty(t, customer.Children)

	lines := child(t, order, "lines")
	assert.Equal(t, schema.TypeArray, lines.Type)
	require.NotNil(t, lines.Element())
	assert.Equal(t, "sku", lines.Element().Children[0].Key)
}

const swaggerDoc = `{
  "swagger": "2.0",
  "info": {"title": "Legacy", "version": "1"},
  "paths": {},
  "definitions": {
    "Pet": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string"},
        "owner": {"$ref": "#/definitions/Person"}
      }
    },
    "Person": {"type": "object", "properties": {"email": {"type": "string"}}}
  }
}`

func TestConvert_Swagger2(t *testing.T) {
	root, dialect, err := schema.Convert([]byte(swaggerDoc))
	require.NoError(t, err)
	assert.Equal(t, schema.DialectSwagger2, dialect)

	pet := child(t, root, "Pet")
	assert.True(t, child(t, pet, "name").Required)
	assert.Equal(t, "#/definitions/Person", child(t, pet, "owner").Ref)
}

func TestConvert_KeepsDeclarationOrder(t *testing.T) {
	root, _, err := schema.Convert([]byte(openapi3Doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"Order", "Customer"}, keys(root.Children))
	assert.Equal(t, []string{"id", "status", "placed", "customer", "lines"}, keys(child(t, root, "Order").Children))

	doc := `{
	  "swagger": "2.0",
	  "info": {"title": "Ordered", "version": "1"},
	  "paths": {},
	  "definitions": {
	    "Zoo": {
	      "allOf": [
	        {"type": "object", "properties": {"zeta": {"type": "string"}}},
	        {"type": "object", "properties": {
	          "alpha": {"type": "integer"},
	          "mid": {"type": "array", "items": {"type": "object", "properties": {"y": {"type": "string"}, "x": {"type": "string"}}}}
	        }}
	      ]
	    },
	    "Aardvark": {"type": "object", "properties": {"b": {"type": "string"}, "a": {"type": "string"}}}
	  }
	}`
	root, _, err = schema.Convert([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"Zoo", "Aardvark"}, keys(root.Children))
	zoo := child(t, root, "Zoo")
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, keys(zoo.Children))
	assert.Equal(t, []string{"y", "x"}, keys(child(t, zoo, "mid").Element().Children))
	assert.Equal(t, []string{"b", "a"}, keys(child(t, root, "Aardvark").Children))
}

const jsonSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "Article",
  "type": "object",
  "required": ["headline"],
  "properties": {
    "headline": {"type": "string"},
    "url": {"type": ["string", "null"], "format": "uri"},
    "tags": {"type": "array", "items": {"type": "string"}},
    "kind": {"enum": ["news", "blog"]}
  }
}`

func TestConvert_JSONSchema(t *testing.T) {
	root, dialect, err := schema.Convert([]byte(jsonSchemaDoc))
	require.NoError(t, err)
	assert.Equal(t, schema.DialectJSONSchema, dialect)
	assert.Equal(t, "Article", root.Key)
	assert.Equal(t, []string{"headline", "url", "tags", "kind"}, keys(root.Children))
	assert.True(t, child(t, root, "headline").Required)
	assert.Equal(t, schema.TypeURL, child(t, root, "url").Type)
	assert.Equal(t, schema.TypeString, child(t, root, "tags").Element().Type)
	assert.Len(t, child(t, root, "kind").Enum, 2)
}

func TestConvert_UnknownDialectFlattens(t *testing.T) {
	rec := &notify.Recorder{}
	doc := `{"definitions":{"Thing":{"required":["a"],"properties":{"a":{"type":"number"},"b":{"type":"object","properties":{"deep":{"type":"string"}}}}}}}`

	root, dialect, err := schema.NewImporter(rec).Convert([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, schema.DialectUnknown, dialect)

	thing := child(t, root, "Thing")
	assert.Equal(t, []string{"a", "b"}, keys(thing.Children))
	assert.True(t, child(t, thing, "a").Required)
	assert.Empty(t, child(t, thing, "b").Children, "no recursion when flattening")
	assert.Equal(t, 1, rec.Count(notify.LevelWarn))
}

func TestConvert_Errors(t *testing.T) {
	_, _, err := schema.Convert([]byte("just some words"))
	assert.ErrorIs(t, err, schema.ErrUnreadable)

	_, _, err = schema.Convert([]byte("{broken: [json"))
	assert.ErrorIs(t, err, schema.ErrUnreadable)

	_, _, err = schema.Convert([]byte(`{"hello":"world"}`))
	assert.ErrorIs(t, err, schema.ErrUnsupportedDialect)

	_, _, err = schema.Convert([]byte(`{"openapi":"3.1.0","info":{"title":"x","version":"1"},"paths":{}}`))
	assert.ErrorIs(t, err, schema.ErrUnsupportedDialect)
}
