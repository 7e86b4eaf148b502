package jsonvalue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"composer/internal/jsonvalue"
)

func TestParseYAML_OrderAndScalars(t *testing.T) {
	v, err := jsonvalue.ParseYAML([]byte(`
zeta: 1
alpha:
  flag: true
  none: ~
  ratio: 0.5
  text: "true"
list: [a, 2]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "list"}, v.Keys())
	assert.Equal(t, `{"flag":true,"none":null,"ratio":0.5,"text":"true"}`, v.Get("alpha").String())
	assert.Equal(t, `["a",2]`, v.Get("list").String())
}

func TestParseYAML_MergeKeys(t *testing.T) {
	v, err := jsonvalue.ParseYAML([]byte(`
base: &b {a: 1, b: 2}
child:
  <<: *b
  b: 3
`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":3}`, v.Get("child").String())
}

func TestParseYAML_Errors(t *testing.T) {
	_, err := jsonvalue.ParseYAML([]byte(``))
	assert.ErrorIs(t, err, jsonvalue.ErrEmptyDocument)
	_, err = jsonvalue.ParseYAML([]byte("a: [unclosed"))
	assert.Error(t, err)
}

func TestValue_YAMLRoundTrip(t *testing.T) {
	in := jsonvalue.MustParse(`{"title":"x","n":3,"f":1.5,"ok":false,"quoted":"123","nested":[{"k":null}]}`)

	out, err := yaml.Marshal(in)
	require.NoError(t, err)

	var back jsonvalue.Value
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.True(t, jsonvalue.Equal(in, back), string(out))
	assert.Equal(t, in.Keys(), back.Keys())
}
