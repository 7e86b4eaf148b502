package etl

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"composer/internal/domain"
	"composer/internal/jsonvalue"
	"composer/internal/sourcepath"
)

// ── Filter ─────────────────────────────────────────────────
// Filters shape records between a source and the join. Each takes a record
// and returns a (possibly modified) record and whether to keep it.

// Filter processes a single record.
type Filter interface {
	Apply(rec jsonvalue.Value) (jsonvalue.Value, bool)
}

// FilterFunc adapts a plain function to the Filter interface.
type FilterFunc func(jsonvalue.Value) (jsonvalue.Value, bool)

func (f FilterFunc) Apply(r jsonvalue.Value) (jsonvalue.Value, bool) { return f(r) }

// ── Built-in Filters ───────────────────────────────────────

// WhereFilter drops records whose value at Path does not satisfy Op.
type WhereFilter struct {
	Path  sourcepath.Path
	Op    string // "eq" | "neq" | "gt" | "gte" | "lt" | "lte" | "contains" | "exists"
	Value jsonvalue.Value
}

func (f *WhereFilter) Apply(r jsonvalue.Value) (jsonvalue.Value, bool) {
	v := sourcepath.Resolve(r, f.Path, sourcepath.ModePreview)
	if f.Op == "exists" {
		return r, !v.IsMissing()
	}
	if v.IsUndefined() {
		return r, false
	}
	switch f.Op {
	case "eq":
		return r, compareValues(v, f.Value) == 0
	case "neq":
		return r, compareValues(v, f.Value) != 0
	case "contains":
		return r, strings.Contains(v.String(), f.Value.String())
	case "gt":
		return r, compareValues(v, f.Value) > 0
	case "gte":
		return r, compareValues(v, f.Value) >= 0
	case "lt":
		return r, compareValues(v, f.Value) < 0
	case "lte":
		return r, compareValues(v, f.Value) <= 0
	default:
		return r, true
	}
}

// SelectFilter keeps only the listed top-level keys, in the listed order.
type SelectFilter struct {
	Keys []string
}

func (f *SelectFilter) Apply(r jsonvalue.Value) (jsonvalue.Value, bool) {
	fields := make([]jsonvalue.Field, 0, len(f.Keys))
	for _, k := range f.Keys {
		if v, ok := r.Lookup(k); ok {
			fields = append(fields, jsonvalue.Field{Key: k, Value: v})
		}
	}
	return jsonvalue.NewObject(fields...), true
}

// RenameFilter renames top-level keys in place.
type RenameFilter struct {
	Mapping map[string]string // old -> new
}

func (f *RenameFilter) Apply(r jsonvalue.Value) (jsonvalue.Value, bool) {
	if r.Kind() != jsonvalue.Object {
		return r, true
	}
	keys := r.Keys()
	fields := make([]jsonvalue.Field, 0, len(keys))
	for _, k := range keys {
		name := k
		if n, ok := f.Mapping[k]; ok && n != "" {
			name = n
		}
		fields = append(fields, jsonvalue.Field{Key: name, Value: r.Get(k)})
	}
	return jsonvalue.NewObject(fields...), true
}

// DedupeFilter drops records whose value at Path was already seen.
type DedupeFilter struct {
	Path sourcepath.Path
	seen map[string]bool
}

func NewDedupeFilter(p sourcepath.Path) *DedupeFilter {
	return &DedupeFilter{Path: p, seen: make(map[string]bool)}
}

func (f *DedupeFilter) Apply(r jsonvalue.Value) (jsonvalue.Value, bool) {
	v := sourcepath.Resolve(r, f.Path, sourcepath.ModePreview)
	key := v.Kind().String() + ":" + v.String()
	if f.seen[key] {
		return r, false
	}
	f.seen[key] = true
	return r, true
}

// LimitFilter caps the number of records.
type LimitFilter struct {
	Count int
	seen  int
}

func NewLimitFilter(count int) *LimitFilter {
	return &LimitFilter{Count: count}
}

func (f *LimitFilter) Apply(r jsonvalue.Value) (jsonvalue.Value, bool) {
	f.seen++
	return r, f.seen <= f.Count
}

// SortFilter sorts all collected records by the value at Path.
// It is a batch filter: Apply passes records through and ApplyFilters sorts
// once everything has streamed.
type SortFilter struct {
	Path sourcepath.Path
	Desc bool
}

func (f *SortFilter) Apply(r jsonvalue.Value) (jsonvalue.Value, bool) { return r, true }

func (f *SortFilter) sort(records []jsonvalue.Value) {
	sort.SliceStable(records, func(i, j int) bool {
		a := sourcepath.Resolve(records[i], f.Path, sourcepath.ModePreview)
		b := sourcepath.Resolve(records[j], f.Path, sourcepath.ModePreview)
		c := compareValues(a, b)
		if f.Desc {
			return c > 0
		}
		return c < 0
	})
}

// ── Building ───────────────────────────────────────────────

// BuildFilters converts declarative filter configs into Filter instances.
// Filters are stateful (dedupe, limit): build a fresh chain per run.
func BuildFilters(configs []domain.FilterConfig) ([]Filter, error) {
	var fs []Filter
	for i, fc := range configs {
		f, err := buildFilter(fc)
		if err != nil {
			return nil, fmt.Errorf("filter %d (%s): %w", i, fc.Type, err)
		}
		fs = append(fs, f)
	}
	return fs, nil
}

func buildFilter(fc domain.FilterConfig) (Filter, error) {
	cfg := SourceConfig(fc.Config)
	path := func() (sourcepath.Path, error) {
		p := cfg.String("path")
		if p == "" {
			p = cfg.String("field")
		}
		if p == "" {
			return nil, fmt.Errorf("path is required")
		}
		return sourcepath.Parse(p)
	}

	switch fc.Type {
	case "filter", "where":
		p, err := path()
		if err != nil {
			return nil, err
		}
		op := cfg.String("op")
		if op == "" {
			op = "eq"
		}
		return &WhereFilter{Path: p, Op: op, Value: jsonvalue.FromAny(cfg["value"])}, nil

	case "select":
		raw, _ := cfg["keys"].([]any)
		keys := make([]string, 0, len(raw))
		for _, k := range raw {
			keys = append(keys, fmt.Sprint(k))
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("keys are required")
		}
		return &SelectFilter{Keys: keys}, nil

	case "rename":
		raw, _ := cfg["mapping"].(map[string]any)
		m := make(map[string]string, len(raw))
		for k, v := range raw {
			m[k] = fmt.Sprint(v)
		}
		return &RenameFilter{Mapping: m}, nil

	case "dedupe":
		p, err := path()
		if err != nil {
			return nil, err
		}
		return NewDedupeFilter(p), nil

	case "sort":
		p, err := path()
		if err != nil {
			return nil, err
		}
		return &SortFilter{Path: p, Desc: strings.EqualFold(cfg.String("direction"), "desc")}, nil

	case "limit":
		n := cfg.Int("count", 0)
		if n <= 0 {
			return nil, fmt.Errorf("count must be positive")
		}
		return NewLimitFilter(n), nil
	}
	return nil, fmt.Errorf("unknown filter type")
}

// ApplyFilters runs the chain over records, then applies batch sorts.
func ApplyFilters(records []jsonvalue.Value, fs []Filter) []jsonvalue.Value {
	out := make([]jsonvalue.Value, 0, len(records))
	for _, r := range records {
		if r, keep := applyChain(r, fs); keep {
			out = append(out, r)
		}
	}
	for _, f := range fs {
		if s, ok := f.(*SortFilter); ok {
			s.sort(out)
		}
	}
	return out
}

func applyChain(r jsonvalue.Value, fs []Filter) (jsonvalue.Value, bool) {
	for _, f := range fs {
		var keep bool
		r, keep = f.Apply(r)
		if !keep {
			return r, false
		}
	}
	return r, true
}

// ── Helpers ────────────────────────────────────────────────

// compareValues orders numerically when both sides read as numbers and by
// string form otherwise. Missing values sort first.
func compareValues(a, b jsonvalue.Value) int {
	switch {
	case a.IsMissing() && b.IsMissing():
		return 0
	case a.IsMissing():
		return -1
	case b.IsMissing():
		return 1
	}
	fa, aOk := toFloat(a)
	fb, bOk := toFloat(b)
	if aOk && bOk {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(a.String(), b.String())
}

func toFloat(v jsonvalue.Value) (float64, bool) {
	if n, ok := v.AsNumber(); ok {
		return n, true
	}
	if s, ok := v.AsString(); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}
