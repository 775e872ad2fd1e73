package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	workflowKey ctxKey = iota
	actionKey
	documentKey
)

// WithWorkflow returns a context with the workflow name set.
func WithWorkflow(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, workflowKey, name)
}

// WithAction returns a context with the workflow action set.
func WithAction(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, actionKey, name)
}

// WithDocument returns a context with the document reference set.
func WithDocument(ctx context.Context, reference string) context.Context {
	return context.WithValue(ctx, documentKey, reference)
}

// Workflow extracts the workflow name from the context, or "" if absent.
func Workflow(ctx context.Context) string {
	v, _ := ctx.Value(workflowKey).(string)
	return v
}

// Action extracts the action name from the context, or "" if absent.
func Action(ctx context.Context) string {
	v, _ := ctx.Value(actionKey).(string)
	return v
}

// Document extracts the document reference from the context, or "" if absent.
func Document(ctx context.Context) string {
	v, _ := ctx.Value(documentKey).(string)
	return v
}

// correlationAttrs returns the non-empty correlation attributes of ctx.
func correlationAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := Document(ctx); v != "" {
		attrs = append(attrs, slog.String("document", v))
	}
	if v := Workflow(ctx); v != "" {
		attrs = append(attrs, slog.String("workflow", v))
	}
	if v := Action(ctx); v != "" {
		attrs = append(attrs, slog.String("action", v))
	}
	return attrs
}

// LogWith returns a logger enriched with correlation values from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range correlationAttrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, injecting correlation values from
// the context into every record logged with a *Context method.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with correlation injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlationAttrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
