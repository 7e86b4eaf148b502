package etl_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composer/internal/domain"
	"composer/internal/engine"
	"composer/internal/etl"
	"composer/internal/jsonvalue"
	"composer/internal/mapping"
	"composer/internal/schema"
)

// ─────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────

// staticSource emits cfg["records"] (a JSON array string) or fails with cfg["fail"].
type staticSource struct{}

func (staticSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{Type: "static", Label: "Static", ConfigFields: []etl.ConfigField{
		{Key: "records", Label: "Records", Type: "textarea", Required: true},
	}}
}

func (staticSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan jsonvalue.Value, <-chan error) {
	out := make(chan jsonvalue.Value, 100)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		if msg := cfg.String("fail"); msg != "" {
			errCh <- errors.New(msg)
			return
		}
		for _, rec := range jsonvalue.MustParse(cfg.String("records")).Items() {
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errCh
}

func init() { etl.RegisterSource(staticSource{}) }

func records(t *testing.T, docs ...string) []jsonvalue.Value {
	t.Helper()
	out := make([]jsonvalue.Value, len(docs))
	for i, d := range docs {
		out[i] = jsonvalue.MustParse(d)
	}
	return out
}

func texts(vs []jsonvalue.Value) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.String()
	}
	return out
}

// ─────────────────────────────────────────────────────────────
// Filters
// ─────────────────────────────────────────────────────────────

func TestBuildFilters_WhereDedupeSortLimit(t *testing.T) {
	fs, err := etl.BuildFilters([]domain.FilterConfig{
		{Type: "filter", Config: map[string]any{"path": "meta.score", "op": "gte", "value": 2}},
		{Type: "dedupe", Config: map[string]any{"path": "name"}},
		{Type: "sort", Config: map[string]any{"path": "meta.score", "direction": "desc"}},
		{Type: "limit", Config: map[string]any{"count": float64(2)}},
	})
	require.NoError(t, err)

	out := etl.ApplyFilters(records(t,
		`{"name":"a","meta":{"score":1}}`,
		`{"name":"b","meta":{"score":"3"}}`,
		`{"name":"c","meta":{"score":10}}`,
		`{"name":"b","meta":{"score":7}}`,
		`{"name":"d","meta":{"score":5}}`,
	), fs)

	// limit applies while streaming, sort after
	assert.Equal(t, []string{
		`{"name":"c","meta":{"score":10}}`,
		`{"name":"b","meta":{"score":"3"}}`,
	}, texts(out))
}

func TestWhereFilter_Ops(t *testing.T) {
	rec := jsonvalue.MustParse(`{"title":"Hello World","n":5,"empty":null}`)
	tests := []struct {
		op, path string
		value    any
		keep     bool
	}{
		{"eq", "n", 5, true},
		{"eq", "n", "5", true},
		{"neq", "title", "x", true},
		{"contains", "title", "World", true},
		{"lt", "n", 3, false},
		{"lte", "n", 5, true},
		{"gt", "title", "A", true},
		{"exists", "empty", nil, false},
		{"exists", "title", nil, true},
		{"eq", "missing", nil, false},
	}
	for _, tt := range tests {
		fs, err := etl.BuildFilters([]domain.FilterConfig{{Type: "filter", Config: map[string]any{"path": tt.path, "op": tt.op, "value": tt.value}}})
		require.NoError(t, err)
		_, keep := fs[0].Apply(rec)
		assert.Equal(t, tt.keep, keep, "%s %s %v", tt.path, tt.op, tt.value)
	}
}

func TestSelectAndRenameFilters(t *testing.T) {
	fs, err := etl.BuildFilters([]domain.FilterConfig{
		{Type: "rename", Config: map[string]any{"mapping": map[string]any{"a": "alpha"}}},
		{Type: "select", Config: map[string]any{"keys": []any{"c", "alpha"}}},
	})
	require.NoError(t, err)

	out := etl.ApplyFilters(records(t, `{"a":1,"b":2,"c":3}`), fs)
	assert.Equal(t, []string{`{"c":3,"alpha":1}`}, texts(out))
}

func TestBuildFilters_Errors(t *testing.T) {
	for _, fc := range []domain.FilterConfig{
		{Type: "nope"},
		{Type: "filter", Config: map[string]any{"op": "eq"}},
		{Type: "sort", Config: map[string]any{"path": "a..b"}},
		{Type: "limit", Config: map[string]any{"count": 0}},
		{Type: "select"},
	} {
		_, err := etl.BuildFilters([]domain.FilterConfig{fc})
		assert.Error(t, err, fc.Type)
	}
}

// ─────────────────────────────────────────────────────────────
// Collect / Sample
// ─────────────────────────────────────────────────────────────

func TestSample(t *testing.T) {
	ctx := context.Background()
	src, err := etl.GetSource("static")
	require.NoError(t, err)

	one, err := etl.Sample(ctx, src, etl.SourceConfig{"records": `[{"a":1}]`}, 10)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, one.String())

	many, err := etl.Sample(ctx, src, etl.SourceConfig{"records": `[{"a":1},{"a":2},{"a":3}]`}, 2)
	require.NoError(t, err)
	assert.Equal(t, `[{"a":1},{"a":2}]`, many.String())

	_, err = etl.Sample(ctx, src, etl.SourceConfig{"records": `[]`}, 2)
	assert.ErrorIs(t, err, etl.ErrEmptySample)

	_, err = etl.Sample(ctx, src, etl.SourceConfig{}, 2)
	assert.ErrorContains(t, err, "records is required")

	_, err = etl.Sample(ctx, src, etl.SourceConfig{"records": `[]`, "fail": "boom"}, 2)
	assert.ErrorContains(t, err, "boom")
}

func TestGetSource_Unknown(t *testing.T) {
	_, err := etl.GetSource("ftp")
	assert.Error(t, err)
}

// ─────────────────────────────────────────────────────────────
// Runner
// ─────────────────────────────────────────────────────────────

func peopleEngine() *engine.Engine {
	m := mapping.NewMapper(mapping.Config{}, nil, nil)
	m.SetSchema(&schema.Node{Key: "items", Type: schema.TypeArray, Children: []*schema.Node{
		{Key: "item", Type: schema.TypeObject, Children: []*schema.Node{
			{Key: "name", Type: schema.TypeString, Required: true},
		}},
	}})
	m.Bind("items[*].name", "people", "name")
	return engine.New(m, nil, nil)
}

func TestRunner_Run(t *testing.T) {
	var buf bytes.Buffer
	r := &etl.Runner{Engine: peopleEngine(), Dest: &etl.WriterDestination{W: &buf}}

	res, err := r.Run(context.Background(), &etl.Job{
		ID: "j1",
		Sources: []domain.DataSource{{
			ID: "people", Type: "static",
			Config: map[string]any{"records": `[{"name":"b","age":2},{"name":"a","age":1},{"name":"b","age":3}]`},
			Filters: []domain.FilterConfig{
				{Type: "dedupe", Config: map[string]any{"path": "name"}},
				{Type: "sort", Config: map[string]any{"path": "name"}},
			},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, etl.StatusSuccess, res.Status)
	assert.Equal(t, 3, res.RecordsRead["people"])
	assert.Equal(t, 2, res.RecordsKept["people"])
	assert.Equal(t, buf.Len(), res.BytesWritten)

	out, err := jsonvalue.Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, `{"items":[{"name":"a"},{"name":"b"}]}`, out.String())
}

func TestRunner_InlineSource(t *testing.T) {
	var buf bytes.Buffer
	r := &etl.Runner{Engine: peopleEngine(), Dest: &etl.WriterDestination{W: &buf}}

	res, err := r.Run(context.Background(), &etl.Job{Sources: []domain.DataSource{{
		ID:             "people",
		SampleDocument: jsonvalue.MustParse(`[{"name":"x"},{"name":"y"},{"name":"z"}]`),
		Filters:        []domain.FilterConfig{{Type: "limit", Config: map[string]any{"count": 2}}},
	}}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.RecordsRead["people"])

	out, err := jsonvalue.Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, `{"items":[{"name":"x"},{"name":"y"}]}`, out.String())

	_, err = r.Run(context.Background(), &etl.Job{Sources: []domain.DataSource{{ID: "empty"}}})
	assert.ErrorContains(t, err, "no type and no sample document")
}

func TestRunner_SourceErrors(t *testing.T) {
	r := &etl.Runner{Engine: peopleEngine()}

	res, err := r.Run(context.Background(), &etl.Job{ID: "j2", Sources: []domain.DataSource{{ID: "x", Type: "ftp"}}})
	require.Error(t, err)
	assert.Equal(t, etl.StatusError, res.Status)
	assert.Contains(t, res.Error, "read: x: unknown source type")

	_, err = r.Run(context.Background(), &etl.Job{Sources: []domain.DataSource{{
		ID: "people", Type: "static", Config: map[string]any{"records": `[]`, "fail": "down"},
	}}})
	assert.ErrorContains(t, err, "down")
}

// ─────────────────────────────────────────────────────────────
// Destinations
// ─────────────────────────────────────────────────────────────

func TestFileDestination(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	d := &etl.FileDestination{Dir: dir}

	n, err := d.Write(context.Background(), "feed.xml", []byte("<rss/>"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	data, err := os.ReadFile(filepath.Join(dir, "feed.xml"))
	require.NoError(t, err)
	assert.Equal(t, "<rss/>", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file cleaned up")

	_, err = d.Write(context.Background(), "../escape", nil)
	assert.Error(t, err)
}
