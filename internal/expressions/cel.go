package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
	"github.com/rendis/docflow/pkg/schema"
)

// Variables exposed to action conditions.
const (
	VarFields     = "fields"     // map(string, list(string)): fields of the evaluated node
	VarCustomData = "customData" // map(string, string): task custom data
	VarSettings   = "settings"   // map(string, string): resolved workflow settings
)

var conditionVars = []string{VarFields, VarCustomData, VarSettings}

// CELEngine implements the Engine interface using Google's Common Expression Language.
// It evaluates action conditions against a read-only view of a document node.
// Thread-safe: compiled programs are cached and reused across goroutines.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a new CEL expression engine with a sandboxed environment.
// The environment exposes:
//   - fields:     map(string, list(string)) : document field values
//   - customData: map(string, string)       : task custom data
//   - settings:   map(string, string)       : resolved workflow settings
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable(VarFields, cel.MapType(cel.StringType, cel.ListType(cel.StringType))),
		cel.Variable(VarCustomData, cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable(VarSettings, cel.MapType(cel.StringType, cel.StringType)),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Check compiles a condition and verifies it yields a boolean.
func (e *CELEngine) Check(expression string) error {
	if expression == "" {
		return schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}
	_, err := e.getOrCompile(expression)
	return err
}

// Evaluate compiles (or retrieves from cache) a CEL expression and evaluates it
// against the provided data, keyed by fields, customData and settings.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.ContextEval(ctx, buildActivation(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return out.Value(), nil
}

// Matches evaluates a condition and never fails: an empty condition is true,
// any compile or runtime error (such as indexing an absent field) is false.
func (e *CELEngine) Matches(ctx context.Context, expression string, data map[string]any) bool {
	if expression == "" {
		return true
	}
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}

// Condition is an action condition compiled ahead of evaluation.
type Condition struct {
	source string
	prg    cel.Program
}

// CompileCondition compiles a condition for repeated evaluation. An empty
// expression yields nil, which always matches.
func (e *CELEngine) CompileCondition(expression string) (*Condition, error) {
	if expression == "" {
		return nil, nil
	}
	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}
	return &Condition{source: expression, prg: prg}, nil
}

// String returns the condition source.
func (c *Condition) String() string {
	if c == nil {
		return ""
	}
	return c.source
}

// Matches follows CELEngine.Matches: nil is true, errors are false.
func (c *Condition) Matches(ctx context.Context, data map[string]any) bool {
	if c == nil {
		return true
	}
	out, _, err := c.prg.ContextEval(ctx, buildActivation(data))
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *CELEngine) getOrCompile(expression string) (cel.Program, error) {
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

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}
	if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL condition %q must be boolean, got %s", expression, ast.OutputType()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

// buildActivation creates the evaluation activation map from the data.
// Missing keys default to empty maps to prevent CEL runtime nil-ref errors.
func buildActivation(data map[string]any) map[string]any {
	activation := make(map[string]any, len(conditionVars))
	for _, key := range conditionVars {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
		} else {
			activation[key] = map[string]any{}
		}
	}
	return activation
}

var _ Engine = (*CELEngine)(nil)
