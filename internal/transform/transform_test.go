package transform_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composer/internal/jsonvalue"
	"composer/internal/notify"
	"composer/internal/transform"
)

func apply(t *testing.T, v jsonvalue.Value, steps ...transform.Step) jsonvalue.Value {
	t.Helper()
	return transform.NewPipeline(nil, nil).Apply(v, steps, transform.Context{})
}

func str(s string) jsonvalue.Value { return jsonvalue.StringValue(s) }

func TestPipeline_StringSteps(t *testing.T) {
	assert.Equal(t, "HELLO", apply(t, str(" hello "), transform.NewStep(transform.Trim), transform.NewStep(transform.Uppercase)).String())
	assert.Equal(t, "Élan vital", apply(t, str("élan vital"), transform.NewStep(transform.Capitalize)).String())
	assert.Equal(t, "abc…", apply(t, str("abcdef"), transform.NewStep(transform.Truncate, "length", 3, "suffix", "…")).String())
	assert.Equal(t, `["a","b"]`, apply(t, str("a, b,"), transform.NewStep(transform.Split)).String())
	assert.Equal(t, "a-b", apply(t, str("a b"), transform.NewStep(transform.Replace, "find", " ", "replace", "-")).String())
	assert.Equal(t, "x1", apply(t, str("x123"), transform.NewStep(transform.Replace, "find", `\d{2}$`, "replace", "", "regex", true)).String())
}

func TestPipeline_Numbers(t *testing.T) {
	assert.Equal(t, "1234.5", apply(t, str(" $1,234.50 "), transform.NewStep(transform.ParseNumber)).String())
	assert.Equal(t, "3.14", apply(t, jsonvalue.NumberValue(3.14159), transform.NewStep(transform.Round, "decimals", 2)).String())
	assert.Equal(t, "4", apply(t, str("3.6"), transform.NewStep(transform.Round)).String())
}

func TestPipeline_DateFormat(t *testing.T) {
	step := transform.NewStep(transform.DateFormat, "format", "YYYY/MM/DD")
	assert.Equal(t, "2024/03/05", apply(t, str("2024-03-05T10:00:00Z"), step).String())
	assert.Equal(t, "2024/03/05", apply(t, str("Tue, 05 Mar 2024 10:00:00 +0000"), step).String())
	assert.Equal(t, "1970/01/02", apply(t, jsonvalue.NumberValue(86400), step).String())

	rss := transform.NewStep(transform.DateFormat, "format", "rfc822")
	assert.Equal(t, "Tue, 05 Mar 2024 00:00:00 +0000", apply(t, str("2024-03-05"), rss).String())

	unix := apply(t, str("1970-01-01T00:01:00Z"), transform.NewStep(transform.DateFormat, "format", "unix"))
	n, ok := unix.AsNumber()
	require.True(t, ok)
	assert.Equal(t, 60.0, n)
}

func TestPipeline_RegexExtract(t *testing.T) {
	assert.Equal(t, "42", apply(t, str("order #42"), transform.NewStep(transform.RegexExtract, "pattern", `#(\d+)`)).String())
	assert.Equal(t, "42", apply(t, str("order 42"), transform.NewStep(transform.RegexExtract, "pattern", `\d+`)).String())
}

func TestPipeline_RecordAware(t *testing.T) {
	rec := jsonvalue.MustParse(`{"price":10,"qty":3,"user":{"name":"ana"},"status":"A"}`)
	p := transform.NewPipeline(nil, nil)
	ctx := transform.Context{Record: rec}

	got := p.Apply(jsonvalue.Value{}, []transform.Step{transform.NewStep(transform.Compute, "expression", "price * qty")}, ctx)
	assert.Equal(t, "30", got.String())

	got = p.Apply(str("x"), []transform.Step{transform.NewStep(transform.StringFormat, "template", "{user.name}: {value} {missing}")}, ctx)
	assert.Equal(t, "ana: x ", got.String())

	cond := transform.NewStep(transform.Conditional,
		"cases", []any{
			map[string]any{"when": "price > 100", "then": "expensive"},
			map[string]any{"when": "price > 5", "then": "fair"},
		},
		"else", "cheap")
	assert.Equal(t, "fair", p.Apply(jsonvalue.Value{}, []transform.Step{cond}, ctx).String())

	look := transform.NewStep(transform.Lookup, "table", map[string]any{"A": "Active"})
	assert.Equal(t, "Active", p.Apply(str("A"), []transform.Step{look}, ctx).String())
	assert.Equal(t, "Z", p.Apply(str("Z"), []transform.Step{look}, ctx).String())

	cat := transform.NewStep(transform.Concat, "fields", []any{"user.name", "status"}, "separator", "/")
	assert.Equal(t, "id/ana/A", p.Apply(str("id"), []transform.Step{cat}, ctx).String())
}

func TestPipeline_ComputeSeesToday(t *testing.T) {
	p := transform.NewPipeline(nil, nil)
	ctx := transform.Context{Now: func() time.Time { return time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC) }}
	got := p.Apply(jsonvalue.Value{}, []transform.Step{transform.NewStep(transform.Compute, "expression", "today")}, ctx)
	assert.Equal(t, "2025-01-02", got.String())
}

func TestPipeline_FailureKeepsPreviousValue(t *testing.T) {
	rec := &notify.Recorder{}
	p := transform.NewPipeline(nil, rec)

	got := p.Apply(str("not a date"), []transform.Step{
		transform.NewStep(transform.Uppercase),
		transform.NewStep(transform.DateFormat, "format", "iso"),
	}, transform.Context{TargetPath: "rss.channel.pubDate"})

	assert.Equal(t, "NOT A DATE", got.String())
	assert.Equal(t, 1, rec.Count(notify.LevelWarn))
}

func TestPipeline_FailureUsesStepFallback(t *testing.T) {
	rec := &notify.Recorder{}
	p := transform.NewPipeline(nil, rec)

	got := p.Apply(str("abc"), []transform.Step{
		transform.NewStep(transform.ParseNumber, "fallback", 0),
		transform.NewStep(transform.Round, "decimals", 1),
	}, transform.Context{})

	assert.Equal(t, "0", got.String())
	assert.Equal(t, 1, rec.Count(notify.LevelWarn))
}

func TestPipeline_UnknownKindAndPanics(t *testing.T) {
	reg := transform.DefaultRegistry()
	reg.Register("explode", func(jsonvalue.Value, transform.Config, transform.Context) (jsonvalue.Value, error) {
		panic("boom")
	})
	reg.Register("reject", func(v jsonvalue.Value, _ transform.Config, _ transform.Context) (jsonvalue.Value, error) {
		return v, errors.New("nope")
	})
	rec := &notify.Recorder{}
	p := transform.NewPipeline(reg, rec)

	got := p.Apply(str("keep"), []transform.Step{{Type: "nonexistent"}, {Type: "explode"}, {Type: "reject"}}, transform.Context{})
	assert.Equal(t, "keep", got.String())
	assert.Equal(t, 3, rec.Count(notify.LevelWarn))
}

// Every built-in must survive every shape of input, with and without config.
func TestPipeline_NeverPanics(t *testing.T) {
	values := []jsonvalue.Value{
		{},
		jsonvalue.NullValue(),
		jsonvalue.BoolValue(true),
		jsonvalue.NumberValue(-1.5),
		str(""),
		str("2024-01-01"),
		jsonvalue.MustParse(`[1,"a",null,{"x":1}]`),
		jsonvalue.MustParse(`{"a":{"b":[1]}}`),
	}
	configs := []transform.Config{
		nil,
		{"format": "YYYY", "pattern": "(", "template": "{", "expression": "1 +", "cases": "bad", "table": 5, "length": -1, "decimals": 99, "timezone": "Nowhere/City"},
		{"pattern": ".*", "template": "{value}", "expression": "value", "cases": []any{map[string]any{"when": "value"}}, "table": map[string]any{}, "length": 1, "value": 1, "find": "a"},
	}
	p := transform.NewPipeline(nil, nil)
	ctx := transform.Context{Record: jsonvalue.MustParse(`{"value":1}`)}

	for _, kind := range p.Registry().Kinds() {
		for _, cfg := range configs {
			for _, v := range values {
				assert.NotPanics(t, func() {
					p.Apply(v, []transform.Step{{Type: kind, Config: cfg}}, ctx)
				}, "kind %s value %s", kind, v.String())
			}
		}
	}
}

func TestRegistry_BuiltinKinds(t *testing.T) {
	kinds := transform.DefaultRegistry().Kinds()
	for _, k := range []transform.Kind{
		transform.Direct, transform.Uppercase, transform.Lowercase, transform.Capitalize,
		transform.Trim, transform.DateFormat, transform.ParseNumber, transform.Round,
		transform.RegexExtract, transform.StringFormat, transform.Compute,
		transform.Conditional, transform.Lookup,
	} {
		assert.Contains(t, kinds, k)
	}
}
