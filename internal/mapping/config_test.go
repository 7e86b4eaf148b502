package mapping_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composer/internal/jsonvalue"
	"composer/internal/mapping"
	"composer/internal/relation"
	"composer/internal/schema"
	"composer/internal/transform"
)

func sampleConfig(t *testing.T) mapping.Config {
	t.Helper()
	c := mapping.Config{}.
		WithSchema(schema.Synthesize(schema.FormatRSS, nil)).
		WithMapping(mapping.FieldMapping{TargetPath: "rss.channel.title", SourceID: "blog", SourcePath: "name"}).
		WithMapping(mapping.FieldMapping{TargetPath: "rss.channel.items[*].title", SourceID: "blog", SourcePath: "posts[*].title"}).
		WithMapping(mapping.FieldMapping{TargetPath: "rss.channel.items[*].link", SourceID: "blog", SourcePath: "posts[*].url"}).
		WithMapping(mapping.FieldMapping{TargetPath: "rss.channel.items[*].title", SourceID: "news", SourcePath: "headline"})
	c, err := c.WithRelationship(relation.Relationship{ID: "r1", ParentSourceID: "blog", ParentKey: "id", ChildSourceID: "authors", ForeignKey: "blog_id", Cardinality: relation.OneToOne, EmbedAs: "author"})
	require.NoError(t, err)
	return c
}

func TestConfig_IsImmutable(t *testing.T) {
	base := sampleConfig(t)
	fm, ok := base.Mapping("rss.channel.title", "blog")
	require.True(t, ok)

	next, err := base.WithTransformationStep(fm.ID, transform.NewStep(transform.Trim))
	require.NoError(t, err)

	before, _ := base.MappingByID(fm.ID)
	after, _ := next.MappingByID(fm.ID)
	assert.Empty(t, before.Transformations)
	assert.Len(t, after.Transformations, 1)

	fm.Transformations = append(fm.Transformations, transform.NewStep(transform.Direct))
	again, _ := base.MappingByID(fm.ID)
	assert.Empty(t, again.Transformations, "returned mappings are copies")
}

func TestConfig_WithoutSourceCascades(t *testing.T) {
	c := sampleConfig(t).WithoutSource("blog")

	require.Len(t, c.Mappings(), 1)
	assert.Equal(t, "news", c.Mappings()[0].SourceID)
	assert.Empty(t, c.Relationships())
}

func TestConfig_WithoutTargetCascades(t *testing.T) {
	c := sampleConfig(t).WithoutTarget("rss.channel.items[*]")

	assert.Equal(t, []string{"rss.channel.title"}, c.Targets())
	assert.Nil(t, c.Schema().Find("rss.channel.items[*]"))
	assert.NotNil(t, c.Schema().Find("rss.channel.title"))
}

func TestConfig_Relationships(t *testing.T) {
	c := sampleConfig(t)
	updated, err := c.WithRelationship(relation.Relationship{ID: "r1", ParentSourceID: "blog", ParentKey: "id", ChildSourceID: "authors", ForeignKey: "blog_id", Cardinality: relation.OneToMany, EmbedAs: "authors"})
	require.NoError(t, err)
	require.Len(t, updated.Relationships(), 1)
	assert.Equal(t, relation.OneToMany, updated.Relationships()[0].Cardinality)

	assert.Empty(t, updated.WithoutRelationship("r1").Relationships())
}

func TestBundle_JSONRoundTrip(t *testing.T) {
	c := sampleConfig(t)
	fm, _ := c.Mapping("rss.channel.title", "blog")
	c, err := c.WithFallback(fm.ID, jsonvalue.NullValue())
	require.NoError(t, err)
	c, err = c.WithTransformationStep(fm.ID, transform.NewStep(transform.Truncate, "length", 40))
	require.NoError(t, err)

	data, err := mapping.EncodeJSON(c.Bundle())
	require.NoError(t, err)

	b, err := mapping.DecodeBundle(data)
	require.NoError(t, err)
	back, err := mapping.FromBundle(b)
	require.NoError(t, err)

	got, ok := back.MappingByID(fm.ID)
	require.True(t, ok)
	assert.True(t, got.HasFallback())
	assert.True(t, got.FallbackValue.IsNull())
	require.Len(t, got.Transformations, 1)
	assert.Equal(t, 40, got.Transformations[0].Config.Int("length", 0))
	assert.Equal(t, c.Schema().Paths(), back.Schema().Paths())
	assert.Len(t, back.Relationships(), 1)
}

func TestBundle_YAMLRoundTrip(t *testing.T) {
	c := sampleConfig(t)
	data, err := mapping.EncodeYAML(c.Bundle())
	require.NoError(t, err)
	assert.Contains(t, string(data), "targetPath: rss.channel.title")

	b, err := mapping.DecodeBundle(data)
	require.NoError(t, err)
	back, err := mapping.FromBundle(b)
	require.NoError(t, err)
	assert.Equal(t, c.Targets(), back.Targets())
	assert.Equal(t, c.Schema().Leaves(), back.Schema().Leaves())
}

func TestFromBundle_Invariants(t *testing.T) {
	_, err := mapping.FromBundle(mapping.Bundle{Mapping: []mapping.FieldMapping{
		{ID: "1", TargetPath: "t", SourceID: "s", SourcePath: "a"},
		{ID: "2", TargetPath: "t", SourceID: "s", SourcePath: "b"},
	}})
	assert.ErrorIs(t, err, mapping.ErrDuplicateBinding)

	_, err = mapping.FromBundle(mapping.Bundle{Relationships: []relation.Relationship{
		{ParentSourceID: "a", ParentKey: "id", ChildSourceID: "a", ForeignKey: "id", Cardinality: relation.OneToOne, EmbedAs: "x"},
	}})
	assert.ErrorIs(t, err, relation.ErrSelfRelationship)

	_, err = mapping.FromBundle(mapping.Bundle{Mapping: []mapping.FieldMapping{{TargetPath: "t"}}})
	assert.ErrorIs(t, err, mapping.ErrInvalidBinding)
}
