package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rendis/docflow/pkg/schema"
)

// ExprEngine implements the Engine interface using expr-lang/expr. It renders
// action custom-data templates: a template that is exactly a setting name
// yields that setting (names may contain '-' or '.'), a quoted literal ('x'
// or "x") yields itself, and the usual expr operators (??, +, ternaries) are
// available on top.
// Thread-safe: compiled *vm.Program objects are cached and reused across goroutines.
type ExprEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{
		cache: make(map[string]*vm.Program),
	}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return "expr"
}

// Check compiles a template without evaluating it.
func (e *ExprEngine) Check(expression string) error {
	if expression == "" {
		return schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}
	_, err := e.getOrCompile(expression)
	return err
}

// Evaluate compiles (or retrieves from cache) an Expr expression and evaluates it
// against the provided data. The data map is injected as the expression environment,
// making all keys available as top-level variables.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return out, nil
}

// Render evaluates a custom-data template against the workflow settings.
// ok is false when the template resolves to nothing, in which case the
// custom-data key must be omitted.
func (e *ExprEngine) Render(ctx context.Context, template string, settings map[string]string) (value string, ok bool, err error) {
	if v, found := settings[template]; found {
		return v, true, nil
	}
	out, err := e.Evaluate(ctx, template, settingsEnv(settings))
	if err != nil {
		return "", false, err
	}
	v, ok := rendered(out)
	return v, ok, nil
}

// Template is a custom-data template compiled ahead of rendering.
type Template struct {
	source string
	prg    *vm.Program
}

// CompileTemplate compiles a template for repeated rendering.
func (e *ExprEngine) CompileTemplate(template string) (*Template, error) {
	if template == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}
	prg, err := e.getOrCompile(template)
	if err != nil {
		return nil, err
	}
	return &Template{source: template, prg: prg}, nil
}

// String returns the template source.
func (t *Template) String() string {
	return t.source
}

// Render behaves like ExprEngine.Render.
func (t *Template) Render(_ context.Context, settings map[string]string) (string, bool, error) {
	if v, found := settings[t.source]; found {
		return v, true, nil
	}
	out, err := vm.Run(t.prg, settingsEnv(settings))
	if err != nil {
		return "", false, schema.NewErrorf(schema.ErrCodeExecution,
			"expr evaluation failed for %q: %s", t.source, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": t.source})
	}
	v, ok := rendered(out)
	return v, ok, nil
}

// settingsEnv exposes settings as top-level template variables.
func settingsEnv(settings map[string]string) map[string]any {
	env := make(map[string]any, len(settings))
	for k, v := range settings {
		env[k] = v
	}
	return env
}

func rendered(out any) (string, bool) {
	switch v := out.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	default:
		return fmt.Sprint(v), true
	}
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
// Settings are dynamic, so programs compile against an untyped map environment.
func (e *ExprEngine) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)
