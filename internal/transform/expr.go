package transform

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"composer/internal/jsonvalue"
)

// Evaluator compiles and runs expr-lang expressions, caching programs by
// source text. Programs are compiled without a typed environment because
// record shapes differ between sources.
type Evaluator struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewEvaluator returns an evaluator with an empty program cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{programs: make(map[string]*vm.Program)}
}

// Eval runs expression against env.
func (e *Evaluator) Eval(expression string, env map[string]any) (any, error) {
	program, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	return expr.Run(program, env)
}

// Bool runs expression and requires a boolean result.
func (e *Evaluator) Bool(expression string, env map[string]any) (bool, error) {
	out, err := e.Eval(expression, env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("%w: expression %q returned %T, want bool", ErrBadConfig, expression, out)
	}
	return b, nil
}

// Validate compiles expression without running it.
func (e *Evaluator) Validate(expression string) error {
	_, err := e.program(expression)
	return err
}

func (e *Evaluator) program(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.programs[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if prog, ok := e.programs[expression]; ok {
		return prog, nil
	}
	prog, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}
	e.programs[expression] = prog
	return prog, nil
}

// Env builds the expression environment for a value: the record's top-level
// fields by name, plus `value`, `record`, `source` and `today`.
func Env(value jsonvalue.Value, ctx Context) map[string]any {
	env := make(map[string]any, ctx.Record.Len()+3)
	for _, k := range ctx.Record.Keys() {
		env[k] = ctx.Record.Get(k).Any()
	}
	env["value"] = value.Any()
	env["record"] = ctx.Record.Any()
	env["source"] = ctx.SourceID
	env["today"] = ctx.now().Format("2006-01-02")
	return env
}
