// Package transform runs ordered pipelines of value transformations attached
// to field mappings.
//
// A pipeline never fails as a whole: a step that cannot apply yields its
// declared fallback, or else the value it was given, and the failure is
// reported to the Notifier.
package transform

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"composer/internal/jsonvalue"
	"composer/internal/notify"
)

var (
	ErrUnknownKind   = errors.New("transform: unknown step kind")
	ErrNotApplicable = errors.New("transform: step does not apply to value")
	ErrBadConfig     = errors.New("transform: invalid step config")
)

// Kind names a registered transformation.
type Kind string

const (
	Direct       Kind = "direct"
	Uppercase    Kind = "uppercase"
	Lowercase    Kind = "lowercase"
	Capitalize   Kind = "capitalize"
	Trim         Kind = "trim"
	DateFormat   Kind = "date-format"
	ParseNumber  Kind = "parse-number"
	Round        Kind = "round"
	RegexExtract Kind = "regex-extract"
	StringFormat Kind = "string-format"
	Compute      Kind = "compute"
	Conditional  Kind = "conditional"
	Lookup       Kind = "lookup"

	Default   Kind = "default"
	Concat    Kind = "concat"
	Split     Kind = "split"
	Replace   Kind = "replace"
	Truncate  Kind = "truncate"
	ToString  Kind = "to-string"
	ToBoolean Kind = "to-boolean"
)

// FallbackKey is the config key holding a step's declared fallback value.
const FallbackKey = "fallback"

// Step is one entry of a pipeline.
type Step struct {
	Type   Kind   `json:"type" yaml:"type"`
	Config Config `json:"config,omitempty" yaml:"config,omitempty"`
}

// NewStep builds a step from alternating key/value config pairs.
func NewStep(kind Kind, kv ...any) Step {
	s := Step{Type: kind}
	if len(kv) > 1 {
		s.Config = make(Config, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			if k, ok := kv[i].(string); ok {
				s.Config[k] = kv[i+1]
			}
		}
	}
	return s
}

// Fallback returns the step's declared fallback.
func (s Step) Fallback() (jsonvalue.Value, bool) {
	return s.Config.Value(FallbackKey)
}

// Context is what a step may read besides its input value.
type Context struct {
	Record     jsonvalue.Value
	SourceID   string
	TargetPath string
	Now        func() time.Time
}

func (c Context) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Func implements one step kind.
type Func func(v jsonvalue.Value, cfg Config, ctx Context) (jsonvalue.Value, error)

// ── Registry ───────────────────────────────────────────────

// Registry maps step kinds to implementations. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[Kind]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[Kind]Func)}
}

// DefaultRegistry returns a fresh registry holding every built-in kind.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	registerBuiltins(r, NewEvaluator())
	return r
}

// Register adds or replaces the implementation of kind.
func (r *Registry) Register(kind Kind, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[kind] = fn
}

// Lookup returns the implementation of kind.
func (r *Registry) Lookup(kind Kind) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[kind]
	return fn, ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.funcs))
	for k := range r.funcs {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ── Pipeline ───────────────────────────────────────────────

// Pipeline applies step lists using a registry.
type Pipeline struct {
	registry *Registry
	notifier notify.Notifier
}

// NewPipeline returns a pipeline. A nil registry means DefaultRegistry and a
// nil notifier discards warnings.
func NewPipeline(reg *Registry, n notify.Notifier) *Pipeline {
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Pipeline{registry: reg, notifier: notify.OrDiscard(n)}
}

// Registry returns the registry backing the pipeline.
func (p *Pipeline) Registry() *Registry { return p.registry }

// Apply runs steps in order, each output feeding the next step.
func (p *Pipeline) Apply(v jsonvalue.Value, steps []Step, ctx Context) jsonvalue.Value {
	for i, step := range steps {
		v = p.applyStep(i, step, v, ctx)
	}
	return v
}

func (p *Pipeline) applyStep(i int, step Step, in jsonvalue.Value, ctx Context) (out jsonvalue.Value) {
	fn, ok := p.registry.Lookup(step.Type)
	if !ok {
		return p.fail(i, step, in, ctx, fmt.Errorf("%w: %q", ErrUnknownKind, step.Type))
	}
	defer func() {
		if r := recover(); r != nil {
			out = p.fail(i, step, in, ctx, fmt.Errorf("transform: %s panicked: %v", step.Type, r))
		}
	}()
	res, err := fn(in, step.Config, ctx)
	if err != nil {
		return p.fail(i, step, in, ctx, err)
	}
	return res
}

func (p *Pipeline) fail(i int, step Step, in jsonvalue.Value, ctx Context, err error) jsonvalue.Value {
	fb, hasFallback := step.Fallback()
	p.notifier.Warn("transformation step failed",
		"step", i,
		"kind", string(step.Type),
		"target", ctx.TargetPath,
		"source", ctx.SourceID,
		"fallback", hasFallback,
		"err", err,
	)
	if hasFallback {
		return fb
	}
	return in
}
