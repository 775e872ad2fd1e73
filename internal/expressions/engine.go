package expressions

import "context"

// Engine evaluates workflow expressions.
// Three implementations: CEL (action conditions), Expr (custom-data templates),
// GoJQ (failure warning filters).
type Engine interface {
	Name() string
	// Check compiles expression without evaluating it, caching the result.
	Check(expression string) error
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
