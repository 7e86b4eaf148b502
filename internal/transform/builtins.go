package transform

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"composer/internal/jsonvalue"
	"composer/internal/sourcepath"
)

func registerBuiltins(r *Registry, ev *Evaluator) {
	rx := &regexCache{compiled: make(map[string]*regexp.Regexp)}

	r.Register(Direct, func(v jsonvalue.Value, _ Config, _ Context) (jsonvalue.Value, error) { return v, nil })
	r.Register(Uppercase, stringOp(strings.ToUpper))
	r.Register(Lowercase, stringOp(strings.ToLower))
	r.Register(Trim, stringOp(strings.TrimSpace))
	r.Register(Capitalize, stringOp(capitalize))
	r.Register(DateFormat, dateFormat)
	r.Register(ParseNumber, parseNumber)
	r.Register(Round, round)
	r.Register(RegexExtract, rx.extract)
	r.Register(StringFormat, stringFormat)
	r.Register(Compute, func(v jsonvalue.Value, cfg Config, ctx Context) (jsonvalue.Value, error) {
		return compute(ev, v, cfg, ctx)
	})
	r.Register(Conditional, func(v jsonvalue.Value, cfg Config, ctx Context) (jsonvalue.Value, error) {
		return conditional(ev, v, cfg, ctx)
	})
	r.Register(Lookup, lookup)

	r.Register(Default, defaultValue)
	r.Register(Concat, concat)
	r.Register(Split, split)
	r.Register(Replace, rx.replace)
	r.Register(Truncate, truncate)
	r.Register(ToString, toString)
	r.Register(ToBoolean, toBoolean)
}

// ── String steps ───────────────────────────────────────────

// stringOp lifts a string function into a step. Missing values pass through.
func stringOp(fn func(string) string) Func {
	return func(v jsonvalue.Value, _ Config, _ Context) (jsonvalue.Value, error) {
		if v.IsMissing() {
			return v, nil
		}
		s, ok := v.AsString()
		if !ok {
			return v, fmt.Errorf("%w: want string, got %s", ErrNotApplicable, v.Kind())
		}
		return jsonvalue.StringValue(fn(s)), nil
	}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func truncate(v jsonvalue.Value, cfg Config, _ Context) (jsonvalue.Value, error) {
	s, ok := v.AsString()
	if !ok {
		if v.IsMissing() {
			return v, nil
		}
		return v, fmt.Errorf("%w: want string, got %s", ErrNotApplicable, v.Kind())
	}
	n := cfg.Int("length", -1)
	if n < 0 {
		return v, fmt.Errorf("%w: truncate needs a non-negative length", ErrBadConfig)
	}
	runes := []rune(s)
	if len(runes) <= n {
		return v, nil
	}
	return jsonvalue.StringValue(string(runes[:n]) + cfg.String("suffix", "")), nil
}

func split(v jsonvalue.Value, cfg Config, _ Context) (jsonvalue.Value, error) {
	s, ok := v.AsString()
	if !ok {
		if v.Kind() == jsonvalue.Array {
			return v, nil
		}
		return v, fmt.Errorf("%w: want string, got %s", ErrNotApplicable, v.Kind())
	}
	sep := cfg.String("separator", ",")
	var items []jsonvalue.Value
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			items = append(items, jsonvalue.StringValue(part))
		}
	}
	return jsonvalue.ArrayValue(items...), nil
}

func concat(v jsonvalue.Value, cfg Config, ctx Context) (jsonvalue.Value, error) {
	parts := make([]string, 0, 4)
	if !v.IsMissing() {
		parts = append(parts, v.String())
	}
	for _, path := range cfg.Strings("fields") {
		f := sourcepath.ResolveString(ctx.Record, path, sourcepath.ModePreview)
		if !f.IsMissing() {
			parts = append(parts, f.String())
		}
	}
	return jsonvalue.StringValue(strings.Join(parts, cfg.String("separator", " "))), nil
}

func toString(v jsonvalue.Value, _ Config, _ Context) (jsonvalue.Value, error) {
	if v.IsMissing() {
		return v, nil
	}
	return jsonvalue.StringValue(v.String()), nil
}

func toBoolean(v jsonvalue.Value, _ Config, _ Context) (jsonvalue.Value, error) {
	switch v.Kind() {
	case jsonvalue.Bool:
		return v, nil
	case jsonvalue.Number:
		n, _ := v.AsNumber()
		return jsonvalue.BoolValue(n != 0), nil
	case jsonvalue.String:
		s, _ := v.AsString()
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "1", "on", "y":
			return jsonvalue.BoolValue(true), nil
		case "false", "no", "0", "off", "n", "":
			return jsonvalue.BoolValue(false), nil
		}
		return v, fmt.Errorf("%w: %q is not boolean-like", ErrNotApplicable, s)
	case jsonvalue.Null, jsonvalue.Undefined:
		return jsonvalue.BoolValue(false), nil
	}
	return v, fmt.Errorf("%w: want scalar, got %s", ErrNotApplicable, v.Kind())
}

func defaultValue(v jsonvalue.Value, cfg Config, _ Context) (jsonvalue.Value, error) {
	if s, ok := v.AsString(); ok && strings.TrimSpace(s) != "" {
		return v, nil
	}
	if !v.IsMissing() && v.Kind() != jsonvalue.String {
		return v, nil
	}
	d, ok := cfg.Value("value")
	if !ok {
		return v, fmt.Errorf("%w: default needs a value", ErrBadConfig)
	}
	return d, nil
}

// ── Numeric steps ──────────────────────────────────────────

var numberNoise = strings.NewReplacer(",", "", "_", "", " ", "", "$", "", "€", "", "£", "", "%", "")

// ToNumber reads a number from a number or a numeric string. Thousands
// separators and currency symbols are ignored.
func ToNumber(v jsonvalue.Value) (float64, error) {
	if n, ok := v.AsNumber(); ok {
		return n, nil
	}
	s, ok := v.AsString()
	if !ok {
		return 0, fmt.Errorf("%w: want number, got %s", ErrNotApplicable, v.Kind())
	}
	f, err := strconv.ParseFloat(numberNoise.Replace(strings.TrimSpace(s)), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q is not numeric", ErrNotApplicable, s)
	}
	return f, nil
}

func parseNumber(v jsonvalue.Value, _ Config, _ Context) (jsonvalue.Value, error) {
	n, err := ToNumber(v)
	if err != nil {
		return v, err
	}
	return jsonvalue.NumberValue(n), nil
}

func round(v jsonvalue.Value, cfg Config, _ Context) (jsonvalue.Value, error) {
	n, err := ToNumber(v)
	if err != nil {
		return v, err
	}
	places := cfg.Int("decimals", 0)
	if places < 0 || places > 15 {
		return v, fmt.Errorf("%w: decimals %d out of range", ErrBadConfig, places)
	}
	scale := math.Pow(10, float64(places))
	return jsonvalue.NumberValue(math.Round(n*scale) / scale), nil
}

// ── Pattern steps ──────────────────────────────────────────

type regexCache struct {
	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
}

func (c *regexCache) get(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.compiled[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern %q: %v", ErrBadConfig, pattern, err)
	}
	c.compiled[pattern] = re
	return re, nil
}

// extract returns the first capture group, or the whole match when the
// pattern has no groups.
func (c *regexCache) extract(v jsonvalue.Value, cfg Config, _ Context) (jsonvalue.Value, error) {
	if !v.IsScalar() {
		return v, fmt.Errorf("%w: want scalar, got %s", ErrNotApplicable, v.Kind())
	}
	re, err := c.get(cfg.String("pattern", ""))
	if err != nil {
		return v, err
	}
	m := re.FindStringSubmatch(v.String())
	if m == nil {
		return v, fmt.Errorf("%w: no match for %q", ErrNotApplicable, re.String())
	}
	if len(m) > 1 {
		return jsonvalue.StringValue(m[1]), nil
	}
	return jsonvalue.StringValue(m[0]), nil
}

func (c *regexCache) replace(v jsonvalue.Value, cfg Config, _ Context) (jsonvalue.Value, error) {
	s, ok := v.AsString()
	if !ok {
		if v.IsMissing() {
			return v, nil
		}
		return v, fmt.Errorf("%w: want string, got %s", ErrNotApplicable, v.Kind())
	}
	find, with := cfg.String("find", ""), cfg.String("replace", "")
	if find == "" {
		return v, fmt.Errorf("%w: replace needs find", ErrBadConfig)
	}
	if !cfg.Bool("regex", false) {
		return jsonvalue.StringValue(strings.ReplaceAll(s, find, with)), nil
	}
	re, err := c.get(find)
	if err != nil {
		return v, err
	}
	return jsonvalue.StringValue(re.ReplaceAllString(s, with)), nil
}

var placeholder = regexp.MustCompile(`\{([^{}]+)\}`)

// stringFormat substitutes {value} and {field.path} placeholders. Field paths
// resolve against the current record; unresolved placeholders become empty.
func stringFormat(v jsonvalue.Value, cfg Config, ctx Context) (jsonvalue.Value, error) {
	tmpl := cfg.String("template", "")
	if tmpl == "" {
		return v, fmt.Errorf("%w: string-format needs a template", ErrBadConfig)
	}
	out := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := strings.TrimSpace(m[1 : len(m)-1])
		if name == "value" {
			return v.String()
		}
		return sourcepath.ResolveString(ctx.Record, name, sourcepath.ModePreview).String()
	})
	return jsonvalue.StringValue(out), nil
}

// ── Record-aware steps ─────────────────────────────────────

func compute(ev *Evaluator, v jsonvalue.Value, cfg Config, ctx Context) (jsonvalue.Value, error) {
	expression := cfg.String("expression", "")
	if expression == "" {
		return v, fmt.Errorf("%w: compute needs an expression", ErrBadConfig)
	}
	out, err := ev.Eval(expression, Env(v, ctx))
	if err != nil {
		return v, err
	}
	return jsonvalue.FromAny(out), nil
}

// conditional picks the `then` of the first case whose `when` holds. With no
// match it yields `else` when configured, or the input unchanged.
func conditional(ev *Evaluator, v jsonvalue.Value, cfg Config, ctx Context) (jsonvalue.Value, error) {
	cases := cfg.List("cases")
	if len(cases) == 0 {
		return v, fmt.Errorf("%w: conditional needs cases", ErrBadConfig)
	}
	env := Env(v, ctx)
	for _, c := range cases {
		when := c.String("when", "")
		if when == "" {
			return v, fmt.Errorf("%w: case without when", ErrBadConfig)
		}
		ok, err := ev.Bool(when, env)
		if err != nil {
			return v, err
		}
		if ok {
			out, has := c.Value("then")
			if !has {
				return v, nil
			}
			return out, nil
		}
	}
	if out, ok := cfg.Value("else"); ok {
		return out, nil
	}
	return v, nil
}

func lookup(v jsonvalue.Value, cfg Config, _ Context) (jsonvalue.Value, error) {
	table := cfg.Map("table")
	if table == nil {
		return v, fmt.Errorf("%w: lookup needs a table", ErrBadConfig)
	}
	if v.IsMissing() {
		return v, nil
	}
	mapped, ok := table[v.String()]
	if !ok {
		return v, nil
	}
	return jsonvalue.FromAny(mapped), nil
}
