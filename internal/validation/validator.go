package validation

import "github.com/rendis/docflow/pkg/schema"

// Validator checks workflow definitions before they are compiled.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
}

// ExpressionChecker compiles an expression without evaluating it.
type ExpressionChecker interface {
	Check(expression string) error
}
