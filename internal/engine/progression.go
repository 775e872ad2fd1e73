// Package engine decides which workflow action a document is routed to next
// and writes that decision onto the document.
package engine

import (
	"context"
	"log/slog"
	"slices"

	"github.com/rendis/docflow/internal/compiler"
	"github.com/rendis/docflow/internal/document"
	"github.com/rendis/docflow/internal/expressions"
	"github.com/rendis/docflow/internal/logging"
	"github.com/rendis/docflow/internal/telemetry"
	"github.com/rendis/docflow/pkg/schema"
)

// Conditions evaluates action conditions. Matches never fails: an empty
// condition is true and any evaluation error is false.
type Conditions interface {
	Matches(ctx context.Context, expression string, data map[string]any) bool
}

// Templates renders custom-data templates against the workflow settings.
type Templates interface {
	Render(ctx context.Context, template string, settings map[string]string) (string, bool, error)
}

// Decision is the outcome of one routing hop.
type Decision struct {
	// Action is the action the document is routed to. Nil when the workflow
	// is complete, terminated, or the re-entered action is unknown.
	Action *compiler.CompiledAction

	// Reentry is set when the document already named an action on arrival.
	Reentry bool
	// Unknown is set on re-entry when the named action is not in the workflow.
	Unknown bool
	// Skip is set on re-entry when the action's condition no longer holds,
	// so the action's worker must not process the document.
	Skip bool

	// IsLast reports that no later action is both pending and eligible.
	IsLast bool
	// Complete reports that no action is left to run.
	Complete bool
	// Terminated reports that a failure stopped the workflow.
	Terminated bool
}

// TerminatedDecision is the decision for a document whose last action
// surfaced failures and terminates on failure.
func TerminatedDecision() *Decision {
	return &Decision{Complete: true, Terminated: true}
}

// Engine selects actions. It holds no per-document state and is safe for
// concurrent use.
type Engine struct {
	conditions Conditions
	templates  Templates
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithMetrics counts selected actions on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine.
func New(conditions Conditions, templates Templates, opts ...Option) *Engine {
	e := &Engine{
		conditions: conditions,
		templates:  templates,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Advance runs the routing hop. A document that already names an action is
// re-validated without changing its progress; otherwise the first pending
// action whose condition matches the root or any sub-document is selected.
func (e *Engine) Advance(ctx context.Context, doc *document.Document, wf *compiler.CompiledWorkflow, settings map[string]string) (*Decision, error) {
	root := doc.Root()
	if settings == nil {
		settings = map[string]string{}
	}

	targeted := root.Values(schema.FieldAction)
	switch len(targeted) {
	case 0:
		return e.selectNext(ctx, root, wf, settings)
	case 1:
		return e.reenter(ctx, root, wf, settings, targeted[0])
	default:
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"%s holds %d values", schema.FieldAction, len(targeted)).
			WithDetails(map[string]any{"values": targeted})
	}
}

// Complete runs the completion hop: the targeted action is cleared and
// recorded as completed. It returns the action that just ran, or nil when
// nothing was targeted or the action is not part of wf.
func (e *Engine) Complete(doc *document.Document, wf *compiler.CompiledWorkflow) *compiler.CompiledAction {
	root := doc.Root()
	name, ok := root.FirstValue(schema.FieldAction)
	root.Clear(schema.FieldAction)
	if !ok {
		return nil
	}
	markCompleted(root, name)
	return wf.Action(name)
}

func (e *Engine) reenter(ctx context.Context, root *document.Document, wf *compiler.CompiledWorkflow, settings map[string]string, name string) (*Decision, error) {
	log := logging.LogWith(logging.WithAction(ctx, name), e.logger)

	action := wf.Action(name)
	if action == nil {
		log.Warn("document targets an action unknown to the workflow", "workflow", wf.Name)
		return &Decision{Reentry: true, Unknown: true}, nil
	}
	if !e.anyMatches(ctx, action, root, settings) {
		log.Debug("condition no longer holds, skipping action")
		return &Decision{Reentry: true, Skip: true, Action: action}, nil
	}

	completed := root.Values(schema.FieldActionsCompleted)
	if err := e.route(ctx, root, wf, action, previousOf(completed, name), settings); err != nil {
		return nil, err
	}
	markCompleted(root, name)
	return &Decision{
		Reentry: true,
		Action:  action,
		IsLast:  e.isLast(ctx, root, wf, action, settings),
	}, nil
}

func (e *Engine) selectNext(ctx context.Context, root *document.Document, wf *compiler.CompiledWorkflow, settings map[string]string) (*Decision, error) {
	completed := root.Values(schema.FieldActionsCompleted)
	var previous string
	if len(completed) > 0 {
		previous = completed[len(completed)-1]
	}

	for i := range wf.Actions {
		action := &wf.Actions[i]
		if slices.Contains(completed, action.Name) {
			continue
		}
		if !e.anyMatches(ctx, action, root, settings) {
			continue
		}

		root.Set(schema.FieldAction, action.Name)
		if err := e.route(ctx, root, wf, action, previous, settings); err != nil {
			root.Clear(schema.FieldAction)
			return nil, err
		}
		markCompleted(root, action.Name)
		e.metrics.ActionSelected(wf.Name, action.Name)
		logging.LogWith(ctx, e.logger).Debug("action selected",
			"workflow", wf.Name, "action", action.Name, "queue", action.Queue)
		return &Decision{Action: action, IsLast: e.isLast(ctx, root, wf, action, settings)}, nil
	}

	logging.LogWith(ctx, e.logger).Debug("workflow complete", "workflow", wf.Name)
	return &Decision{Complete: true, IsLast: true}, nil
}

// route writes the action's queue and custom data onto the response. The
// failure queue follows the action unless the previous action terminates on
// failure, in which case the host's failure queue is kept.
func (e *Engine) route(ctx context.Context, root *document.Document, wf *compiler.CompiledWorkflow, action *compiler.CompiledAction, previous string, settings map[string]string) error {
	resp := &root.Task().Response

	keys := make([]string, 0, len(action.CustomData))
	for k := range action.CustomData {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	rendered := make(map[string]string, len(keys))
	for _, k := range keys {
		v, ok, err := e.render(ctx, wf, action, k, settings)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeExecution,
				"render custom data %q of action %q", k, action.Name).WithCause(err)
		}
		if ok {
			rendered[k] = v
		}
	}

	resp.SuccessQueue = action.Queue
	if prev := wf.Action(previous); prev == nil || !prev.TerminateOnFailure {
		resp.FailureQueue = action.Queue
	}
	for k, v := range rendered {
		resp.SetCustomData(k, v)
	}
	return nil
}

func (e *Engine) isLast(ctx context.Context, root *document.Document, wf *compiler.CompiledWorkflow, current *compiler.CompiledAction, settings map[string]string) bool {
	completed := root.Values(schema.FieldActionsCompleted)
	for i := wf.Index(current.Name) + 1; i < len(wf.Actions); i++ {
		next := &wf.Actions[i]
		if slices.Contains(completed, next.Name) {
			continue
		}
		if e.anyMatches(ctx, next, root, settings) {
			return false
		}
	}
	return true
}

// render materializes one custom-data entry. A template that names a
// declared setting is that setting's value, omitted when unresolved.
func (e *Engine) render(ctx context.Context, wf *compiler.CompiledWorkflow, action *compiler.CompiledAction, key string, settings map[string]string) (string, bool, error) {
	tpl := action.CustomData[key]
	if v, ok := settings[tpl]; ok {
		return v, true, nil
	}
	if wf.DeclaresSetting(tpl) {
		return "", false, nil
	}
	if prg := action.Programs.CustomData[key]; prg != nil {
		return prg.Render(ctx, settings)
	}
	return e.templates.Render(ctx, tpl, settings)
}

// anyMatches evaluates the action's condition against root and every
// sub-document.
func (e *Engine) anyMatches(ctx context.Context, action *compiler.CompiledAction, root *document.Document, settings map[string]string) bool {
	if action.Condition == "" {
		return true
	}
	match := func(data map[string]any) bool {
		return e.conditions.Matches(ctx, action.Condition, data)
	}
	if prg := action.Programs.Condition; prg != nil {
		match = func(data map[string]any) bool { return prg.Matches(ctx, data) }
	}

	customData := root.Task().CustomData()
	matched := false
	root.Walk(func(node *document.Document) {
		if matched {
			return
		}
		matched = match(map[string]any{
			expressions.VarFields:     node.Fields(),
			expressions.VarCustomData: customData,
			expressions.VarSettings:   settings,
		})
	})
	return matched
}

func markCompleted(root *document.Document, name string) {
	if !slices.Contains(root.Values(schema.FieldActionsCompleted), name) {
		root.Add(schema.FieldActionsCompleted, name)
	}
}

// previousOf returns the entry completed just before name.
func previousOf(completed []string, name string) string {
	i := slices.Index(completed, name)
	switch {
	case i > 0:
		return completed[i-1]
	case i < 0 && len(completed) > 0:
		return completed[len(completed)-1]
	}
	return ""
}
