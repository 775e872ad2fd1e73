package validation

import (
	"errors"

	"github.com/rendis/docflow/pkg/schema"
)

// WorkflowValidator runs the two-stage pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (names, sources, expressions)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	checkers   Checkers
}

// NewWorkflowValidator creates a WorkflowValidator.
func NewWorkflowValidator(checkers Checkers) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{jsonSchema: jsv, checkers: checkers}, nil
}

// Validate returns every issue found. Structural errors skip the semantic stage.
func (wv *WorkflowValidator) Validate(def *schema.WorkflowDefinition) *Report {
	if def == nil {
		r := &Report{}
		r.errorf("/", IssueSchema, "workflow definition is nil")
		return r
	}

	result := fromError(wv.jsonSchema.ValidateDefinition(def))
	if !result.Valid() {
		return result
	}
	result.merge(validateSemantic(def, wv.checkers))
	return result
}

// ValidateDefinition satisfies Validator.
func (wv *WorkflowValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	return wv.Validate(def).Err()
}

// ValidateDocument checks a decoded document for unknown or mistyped keys.
func (wv *WorkflowValidator) ValidateDocument(raw any) *Report {
	return fromError(wv.jsonSchema.ValidateDocument(raw))
}

func fromError(err error) *Report {
	result := &Report{}
	if err == nil {
		return result
	}

	var wfErr *schema.WorkflowError
	if !errors.As(err, &wfErr) {
		result.errorf("/", IssueSchema, "%s", err.Error())
		return result
	}
	if violations, ok := wfErr.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.errorf("/", IssueSchema, "%s", v)
		}
		return result
	}
	result.errorf("/", IssueSchema, "%s", wfErr.Message)
	return result
}
