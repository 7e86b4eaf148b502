package mapping_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composer/internal/jsonvalue"
	"composer/internal/mapping"
	"composer/internal/notify"
	"composer/internal/relation"
	"composer/internal/sourcepath"
	"composer/internal/transform"
)

func newMapper() *mapping.Mapper {
	return mapping.NewMapper(mapping.Config{}, nil, nil)
}

func TestBind_Upsert(t *testing.T) {
	m := newMapper()
	first := m.Bind("title", "s1", "name")
	second := m.Bind("title", "s1", "headline")

	all := m.Config().Mappings()
	require.Len(t, all, 1)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "headline", all[0].SourcePath)
}

func TestBind_UpsertKeepsPipeline(t *testing.T) {
	m := newMapper()
	fm := m.Bind("title", "s1", "name")
	require.NoError(t, m.AddTransformation(fm.ID, transform.NewStep(transform.Uppercase)))

	m.Bind("title", "s1", "headline")
	got, ok := m.Lookup("title", "s1")
	require.True(t, ok)
	assert.Len(t, got.Transformations, 1)
}

func TestBind_MultiSourceTarget(t *testing.T) {
	m := newMapper()
	a := m.Bind("title", "s1", "name")
	m.Bind("title", "s2", "label")

	assert.Len(t, m.Config().MappingsFor("title"), 2)

	v, ok := m.Resolve("title", jsonvalue.MustParse(`{"name":"from a","label":"from b"}`), "s1", sourcepath.ModePreview)
	require.True(t, ok)
	assert.Equal(t, "from a", v.String())

	v, ok = m.Resolve("title", jsonvalue.MustParse(`{"name":"from a","label":"from b"}`), "s2", sourcepath.ModePreview)
	require.True(t, ok)
	assert.Equal(t, "from b", v.String())

	_, ok = m.Resolve("title", jsonvalue.MustParse(`{}`), "s3", sourcepath.ModePreview)
	assert.False(t, ok, "unmapped for a source without a binding")

	assert.True(t, m.Unbind(a.ID))
	assert.False(t, m.Unbind(a.ID))
	_, ok = m.Lookup("title", "s2")
	assert.True(t, ok, "unbinding one source keeps the other")
}

func TestResolve_NoOriginPicksLowestSource(t *testing.T) {
	m := newMapper()
	m.Bind("title", "zeta", "z")
	m.Bind("title", "alpha", "a")

	v, ok := m.Resolve("title", jsonvalue.MustParse(`{"a":"A","z":"Z"}`), "", sourcepath.ModePreview)
	require.True(t, ok)
	assert.Equal(t, "A", v.String())
}

func TestResolve_FallbackSkipsPipeline(t *testing.T) {
	m := newMapper()
	fm := m.Bind("price", "s1", "cost")
	require.NoError(t, m.SetFallback(fm.ID, jsonvalue.StringValue("n/a")))
	require.NoError(t, m.AddTransformation(fm.ID, transform.NewStep(transform.Round, "decimals", 1)))

	v, _ := m.Resolve("price", jsonvalue.MustParse(`{"cost":null}`), "s1", sourcepath.ModePreview)
	assert.Equal(t, "n/a", v.String())

	v, _ = m.Resolve("price", jsonvalue.MustParse(`{}`), "s1", sourcepath.ModePreview)
	assert.Equal(t, "n/a", v.String())

	v, _ = m.Resolve("price", jsonvalue.MustParse(`{"cost":2.345}`), "s1", sourcepath.ModePreview)
	assert.Equal(t, "2.3", v.String())
}

func TestResolve_StepFailureDoesNotUseMappingFallback(t *testing.T) {
	rec := &notify.Recorder{}
	m := mapping.NewMapper(mapping.Config{}, nil, rec)
	fm := m.Bind("price", "s1", "cost")
	require.NoError(t, m.SetFallback(fm.ID, jsonvalue.NumberValue(0)))
	require.NoError(t, m.AddTransformation(fm.ID, transform.NewStep(transform.ParseNumber)))

	v, _ := m.Resolve("price", jsonvalue.MustParse(`{"cost":"free"}`), "s1", sourcepath.ModePreview)
	assert.Equal(t, "free", v.String())
	assert.Equal(t, 1, rec.Count(notify.LevelWarn))
}

func TestResolve_WildcardModes(t *testing.T) {
	m := newMapper()
	fm := m.Bind("totals", "s1", "orders[*].total")
	require.NoError(t, m.AddTransformation(fm.ID, transform.NewStep(transform.Round)))
	doc := jsonvalue.MustParse(`{"orders":[{"total":10.2},{"total":19.7}]}`)

	v, _ := m.Resolve("totals", doc, "s1", sourcepath.ModeFanOut)
	assert.Equal(t, `[10,20]`, v.String())

	v, _ = m.Resolve("totals", doc, "s1", sourcepath.ModePreview)
	assert.Equal(t, `10`, v.String())
}

func TestResolveScoped(t *testing.T) {
	m := newMapper()
	m.Bind("items[*].title", "s1", "entries[*].name")
	m.Bind("items[*].feed", "s1", "feed")
	doc := jsonvalue.MustParse(`{"feed":"F","entries":[{"name":"a"},{"name":"b"}]}`)
	scope := &mapping.Scope{Prefix: sourcepath.MustParse("entries[*]"), Element: doc.Get("entries").Index(1)}

	v, _ := m.ResolveScoped("items[*].title", doc, "s1", scope, sourcepath.ModePreview)
	assert.Equal(t, "b", v.String())

	v, _ = m.ResolveScoped("items[*].feed", doc, "s1", scope, sourcepath.ModePreview)
	assert.Equal(t, "F", v.String(), "paths outside the scope read the record")
}

func TestResolve_Conditional(t *testing.T) {
	m := newMapper()
	fm := m.Bind("badge", "s1", "label")
	require.NoError(t, m.SetConditional(fm.ID, `status == "active"`))
	assert.Error(t, m.SetConditional(fm.ID, `status ==`))

	_, ok := m.Resolve("badge", jsonvalue.MustParse(`{"status":"gone","label":"x"}`), "s1", sourcepath.ModePreview)
	assert.False(t, ok)

	v, ok := m.Resolve("badge", jsonvalue.MustParse(`{"status":"active","label":"x"}`), "s1", sourcepath.ModePreview)
	assert.True(t, ok)
	assert.Equal(t, "x", v.String())
}

func TestMapper_UnknownMapping(t *testing.T) {
	m := newMapper()
	assert.ErrorIs(t, m.SetFallback("nope", jsonvalue.NullValue()), mapping.ErrUnknownMapping)
}

func TestMapper_RejectsSelfRelationship(t *testing.T) {
	m := newMapper()
	err := m.AddRelationship(relation.Relationship{ParentSourceID: "a", ParentKey: "id", ChildSourceID: "a", ForeignKey: "pid", Cardinality: relation.OneToMany, EmbedAs: "kids"})
	assert.ErrorIs(t, err, relation.ErrSelfRelationship)
	assert.Empty(t, m.Config().Relationships())
}

func TestResolveScoped_NestedScopes(t *testing.T) {
	m := newMapper()
	m.Bind("orders[*].lines[*].sku", "s1", "orders[*].lines[*].sku")
	m.Bind("orders[*].lines[*].order", "s1", "orders[*].id")
	doc := jsonvalue.MustParse(`{"orders":[{"id":1,"lines":[{"sku":"a"}]},{"id":2,"lines":[{"sku":"b"},{"sku":"c"}]}]}`)

	order := doc.Get("orders").Index(1)
	outer := &mapping.Scope{Prefix: sourcepath.MustParse("orders[*]"), Element: order}
	inner := &mapping.Scope{Prefix: sourcepath.MustParse("orders[*].lines[*]"), Element: order.Get("lines").Index(1), Outer: outer}

	v, _ := m.ResolveScoped("orders[*].lines[*].sku", doc, "s1", inner, sourcepath.ModePreview)
	assert.Equal(t, "c", v.String())

	v, _ = m.ResolveScoped("orders[*].lines[*].order", doc, "s1", inner, sourcepath.ModePreview)
	assert.Equal(t, "2", v.String())
}
