package mcpserver

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composer/internal/catalog"
	"composer/internal/engine"
	"composer/internal/jsonvalue"
	"composer/internal/mapping"
	"composer/internal/service"
	"composer/internal/transform"
)

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func newTestServer(t *testing.T) (*Server, *service.MockEmitter) {
	t.Helper()
	events := &service.MockEmitter{}
	cache := catalog.NewCache()
	samples := service.NewSampleService(cache, nil, service.Options{Emitter: events})
	e := engine.New(mapping.NewMapper(mapping.Config{}, nil, nil), cache, nil)
	return New(Deps{Emitter: events, Engine: e, Samples: samples}), events
}

func invoke(h handler, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	if err != nil {
		return "", err
	}
	return res.Content[0].(mcp.TextContent).Text, nil
}

func call(t *testing.T, h handler, args map[string]any) string {
	t.Helper()
	text, err := invoke(h, args)
	require.NoError(t, err)
	return text
}

const blogSource = `{"id":"blog","name":"Blog","sampleDocument":{
	"name":"My Blog",
	"posts":[{"title":"First","updated":"2024-03-01"},{"title":"Second"}]
}}`

// ─────────────────────────────────────────────────────────────
// Sources
// ─────────────────────────────────────────────────────────────

func TestSources_AddListCatalog(t *testing.T) {
	s, _ := newTestServer(t)

	out := call(t, s.handleAddSource, map[string]any{"sourceJSON": blogSource})
	assert.Contains(t, out, `"posts[*].title"`)

	out = call(t, s.handleListSources, nil)
	assert.Contains(t, out, `"id": "blog"`)
	assert.Contains(t, out, `"entries": 4`)

	out = call(t, s.handleGetCatalog, map[string]any{"sourceId": "blog"})
	assert.Contains(t, out, `"semanticType": "date"`)

	_, err := invoke(s.handleGetCatalog, map[string]any{"sourceId": "nope"})
	assert.Error(t, err)
	_, err = invoke(s.handleAddSource, map[string]any{"sourceJSON": `{"id":"x"}`})
	assert.ErrorContains(t, err, "type or sampleDocument")
	_, err = invoke(s.handleAddSource, map[string]any{})
	assert.Error(t, err)
}

func TestSources_AddAcceptsDecodedObject(t *testing.T) {
	s, _ := newTestServer(t)
	call(t, s.handleAddSource, map[string]any{"sourceJSON": map[string]any{
		"id":             "inline",
		"sampleDocument": map[string]any{"a": 1},
	}})
	_, ok := s.samples.Source("inline")
	assert.True(t, ok)
}

func TestIndexDocumentAndInferType(t *testing.T) {
	s, _ := newTestServer(t)

	out := call(t, s.handleIndexDocument, map[string]any{"document": "title: x\nlink: https://a\n"})
	assert.Contains(t, out, `"semanticType": "url"`)

	out = call(t, s.handleInferType, map[string]any{"path": "meta.createdAt"})
	assert.Contains(t, out, `"semanticType": "date"`)
	out = call(t, s.handleInferType, map[string]any{"path": "createdAt", "valueJSON": "12"})
	assert.Contains(t, out, `"semanticType": "number"`)

	_, err := invoke(s.handleIndexDocument, map[string]any{"document": "{: ["})
	assert.Error(t, err)
}

func TestRemoveSource_Cascades(t *testing.T) {
	s, events := newTestServer(t)
	call(t, s.handleAddSource, map[string]any{"sourceJSON": blogSource})
	call(t, s.handleBindField, map[string]any{"targetPath": "title", "sourceId": "blog", "sourcePath": "name"})

	call(t, s.handleRemoveSource, map[string]any{"sourceId": "blog"})
	assert.Empty(t, s.engine.Mapper().Config().Mappings())
	_, cached := s.samples.Cache().Get("blog")
	assert.False(t, cached)
	assert.Len(t, events.Named(EventMappingChanged), 2)

	_, err := invoke(s.handleRemoveSource, map[string]any{"sourceId": "blog"})
	assert.Error(t, err)
}

// ─────────────────────────────────────────────────────────────
// Schema and mapping
// ─────────────────────────────────────────────────────────────

func TestComposeRSS(t *testing.T) {
	s, _ := newTestServer(t)
	call(t, s.handleAddSource, map[string]any{"sourceJSON": blogSource})

	out := call(t, s.handleSynthesizeSchema, map[string]any{"format": "rss"})
	assert.Contains(t, out, "rss.channel.items[*].title")

	out = call(t, s.handleBindField, map[string]any{
		"targetPath": "rss.channel.title", "sourceId": "blog", "sourcePath": "name",
	})
	assert.Contains(t, out, `"preview": "My Blog"`)
	call(t, s.handleBindField, map[string]any{
		"targetPath": "rss.channel.items[*].title", "sourceId": "blog", "sourcePath": "posts[*].title",
	})

	out = call(t, s.handleEvaluate, map[string]any{"format": "rss"})
	assert.Contains(t, out, `<rss version="2.0">`)
	assert.Contains(t, out, "<title>Second</title>")

	_, err := invoke(s.handleEvaluate, map[string]any{"format": "yaml"})
	assert.Error(t, err)
}

func TestSetTransformations(t *testing.T) {
	s, _ := newTestServer(t)
	call(t, s.handleAddSource, map[string]any{"sourceJSON": blogSource})
	fm := s.engine.Mapper().Bind("headline", "blog", "posts[*].title")

	out := call(t, s.handleSetTransformations, map[string]any{
		"mappingId":  fm.ID,
		"appendJSON": `{"type":"uppercase"}`,
	})
	assert.Contains(t, out, `"preview": "FIRST"`)

	call(t, s.handleSetTransformations, map[string]any{
		"mappingId":    fm.ID,
		"stepsJSON":    `[{"type":"truncate","config":{"length":3}}]`,
		"fallbackJSON": `"untitled"`,
		"conditional":  `value != ""`,
	})
	got, _ := s.engine.Mapper().Config().MappingByID(fm.ID)
	require.Len(t, got.Transformations, 1)
	assert.Equal(t, "untitled", got.FallbackValue.String())
	require.NotNil(t, got.Conditional)

	_, err := invoke(s.handleSetTransformations, map[string]any{"mappingId": fm.ID, "conditional": "value +"})
	assert.Error(t, err)
	_, err = invoke(s.handleSetTransformations, map[string]any{"mappingId": "missing"})
	assert.ErrorIs(t, err, mapping.ErrUnknownMapping)
	_, err = invoke(s.handleSetTransformations, map[string]any{"mappingId": fm.ID, "stepsJSON": "[{"})
	assert.Error(t, err)
}

func TestSetTransformations_LookupPassesUnmatchedThrough(t *testing.T) {
	s, _ := newTestServer(t)
	call(t, s.handleAddSource, map[string]any{"sourceJSON": blogSource})
	fm := s.engine.Mapper().Bind("headline", "blog", "posts[*].title")

	out := call(t, s.handleSetTransformations, map[string]any{
		"mappingId":  fm.ID,
		"appendJSON": `{"type":"lookup","config":{"table":{"a":"Alpha"}}}`,
	})
	assert.Contains(t, out, `"preview": "First"`)

	out = call(t, s.handleSetTransformations, map[string]any{
		"mappingId": fm.ID,
		"stepsJSON": `[{"type":"lookup","config":{"table":{"First":"Alpha"}}}]`,
	})
	assert.Contains(t, out, `"preview": "Alpha"`)
}

func TestSetTransformations_FailureChangesNothing(t *testing.T) {
	s, events := newTestServer(t)
	fm := s.engine.Mapper().Bind("title", "blog", "name")
	call(t, s.handleSetTransformations, map[string]any{
		"mappingId":  fm.ID,
		"appendJSON": `{"type":"lowercase"}`,
	})
	before, _ := s.engine.Mapper().Config().MappingByID(fm.ID)
	sent := len(events.Named(EventMappingChanged))

	_, err := invoke(s.handleSetTransformations, map[string]any{
		"mappingId":    fm.ID,
		"stepsJSON":    `[{"type":"uppercase"},{"type":"trim"}]`,
		"fallbackJSON": `"none"`,
		"conditional":  "record.(((",
	})
	require.ErrorIs(t, err, mapping.ErrInvalidBinding)

	after, _ := s.engine.Mapper().Config().MappingByID(fm.ID)
	require.Len(t, after.Transformations, 1)
	assert.Equal(t, before.Transformations[0].Type, after.Transformations[0].Type)
	assert.True(t, after.FallbackValue.IsUndefined())
	assert.Nil(t, after.Conditional)
	assert.Len(t, events.Named(EventMappingChanged), sent)
}

func TestListTransformations_UsesEngineRegistry(t *testing.T) {
	reg := transform.DefaultRegistry()
	reg.Register("slugify", func(v jsonvalue.Value, _ transform.Config, _ transform.Context) (jsonvalue.Value, error) {
		return v, nil
	})
	m := mapping.NewMapper(mapping.Config{}, transform.NewPipeline(reg, nil), nil)
	cache := catalog.NewCache()
	s := New(Deps{
		Emitter: &service.MockEmitter{},
		Engine:  engine.New(m, cache, nil),
		Samples: service.NewSampleService(cache, nil, service.Options{}),
	})

	out := call(t, s.handleListTransformations, nil)
	assert.Contains(t, out, `"slugify"`)
	assert.Contains(t, out, `"uppercase"`)
}

func TestImportSchema(t *testing.T) {
	s, _ := newTestServer(t)
	doc := `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"title": "product",
		"type": "object",
		"required": ["id"],
		"properties": {"id": {"type": "integer"}, "name": {"type": "string"}}
	}`
	out := call(t, s.handleImportSchema, map[string]any{"document": doc})
	assert.Contains(t, out, `"dialect": "json-schema"`)
	require.NotNil(t, s.engine.Mapper().Config().Schema())

	out = call(t, s.handleGetSchema, nil)
	assert.Contains(t, out, "name")

	_, err := invoke(s.handleImportSchema, map[string]any{"document": "\t{not: [valid"})
	assert.Error(t, err)
}

func TestRelationships(t *testing.T) {
	s, _ := newTestServer(t)
	out := call(t, s.handleAddRelationship, map[string]any{"relationshipJSON": `{
		"id": "user-orders",
		"parentSourceId": "users", "parentKey": "id",
		"childSourceId": "orders", "foreignKey": "user_id",
		"cardinality": "one-to-many", "embedAs": "orders"
	}`})
	assert.Contains(t, out, `"user-orders"`)

	_, err := invoke(s.handleAddRelationship, map[string]any{"relationshipJSON": `{
		"parentSourceId": "users", "parentKey": "id",
		"childSourceId": "users", "foreignKey": "id",
		"cardinality": "one-to-one", "embedAs": "self"
	}`})
	assert.Error(t, err)

	call(t, s.handleRemoveRelationship, map[string]any{"relationshipId": "user-orders"})
	assert.Empty(t, s.engine.Mapper().Config().Relationships())
	_, err = invoke(s.handleRemoveRelationship, map[string]any{"relationshipId": "user-orders"})
	assert.Error(t, err)
}

func TestUnbindAndList(t *testing.T) {
	s, _ := newTestServer(t)
	fm := s.engine.Mapper().Bind("a", "src", "x")
	s.engine.Mapper().Bind("b", "src", "y")

	out := call(t, s.handleListMappings, map[string]any{"targetPath": "a"})
	assert.Contains(t, out, fm.ID)
	assert.NotContains(t, out, `"targetPath": "b"`)

	call(t, s.handleUnbindField, map[string]any{"mappingId": fm.ID})
	_, err := invoke(s.handleUnbindField, map[string]any{"mappingId": fm.ID})
	assert.ErrorIs(t, err, mapping.ErrUnknownMapping)
	_, err = invoke(s.handleBindField, map[string]any{"targetPath": "a"})
	assert.ErrorContains(t, err, "sourceId is required")
}

// ─────────────────────────────────────────────────────────────
// Bundle and resources
// ─────────────────────────────────────────────────────────────

func TestBundle(t *testing.T) {
	s, _ := newTestServer(t)
	s.engine.Mapper().Bind("title", "blog", "name")

	out := call(t, s.handleExportBundle, map[string]any{"encoding": "yaml"})
	assert.Contains(t, out, "targetPath: title")

	_, err := invoke(s.handleSaveBundle, nil)
	assert.Error(t, err)

	saved := 0
	s.saveBundle = func(context.Context) error { saved++; return nil }
	call(t, s.handleSaveBundle, nil)
	assert.Equal(t, 1, saved)
}

func TestCatalogResource(t *testing.T) {
	s, _ := newTestServer(t)
	call(t, s.handleAddSource, map[string]any{"sourceJSON": blogSource})

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "composer://catalog/blog"
	contents, err := s.handleCatalogResource(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, contents[0].(mcp.TextResourceContents).Text, "posts[*].updated")

	req.Params.URI = "composer://catalog/"
	_, err = s.handleCatalogResource(context.Background(), req)
	assert.Error(t, err)

	req.Params.URI = bundleURI
	contents, err = s.handleBundleResource(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, contents[0].(mcp.TextResourceContents).Text, `"mapping"`)
}
