package failures

import (
	"context"
	"log/slog"

	"github.com/rendis/docflow/internal/document"
)

// Filter evaluates a jq expression with jq truthiness.
type Filter interface {
	Truthy(ctx context.Context, expression string, data map[string]any) (bool, error)
}

// Classifier decides whether a failure is only a warning.
type Classifier struct {
	filter     Filter
	expression string
	logger     *slog.Logger
}

// NewClassifier returns a classifier for expression. An empty expression
// classifies nothing as a warning; nil is returned so callers can skip it.
func NewClassifier(filter Filter, expression string, logger *slog.Logger) *Classifier {
	if filter == nil || expression == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{filter: filter, expression: expression, logger: logger}
}

// Expression returns the warning filter.
func (c *Classifier) Expression() string {
	if c == nil {
		return ""
	}
	return c.expression
}

// IsWarning runs the filter against {ID, MESSAGE, STACK}. A filter error
// keeps the record a failure.
func (c *Classifier) IsWarning(ctx context.Context, f document.Failure) bool {
	if c == nil {
		return false
	}
	input := map[string]any{
		"ID":      f.ID,
		"MESSAGE": f.Message,
		"STACK":   nil,
	}
	if f.Stack != nil {
		input["STACK"] = *f.Stack
	}
	warn, err := c.filter.Truthy(ctx, c.expression, input)
	if err != nil {
		c.logger.Warn("warning filter failed, keeping failure", "failure_id", f.ID, "error", err)
		return false
	}
	return warn
}
