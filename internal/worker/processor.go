// Package worker runs the workflow core for each delivered document and
// hosts it on a message queue.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rendis/docflow/internal/compiler"
	"github.com/rendis/docflow/internal/document"
	"github.com/rendis/docflow/internal/engine"
	"github.com/rendis/docflow/internal/failures"
	"github.com/rendis/docflow/internal/logging"
	"github.com/rendis/docflow/internal/poison"
	"github.com/rendis/docflow/internal/settings"
	"github.com/rendis/docflow/internal/telemetry"
	"github.com/rendis/docflow/pkg/schema"
)

// Hop phases.
const (
	PhaseProcess  = "process"
	PhaseComplete = "complete"
)

// WorkflowSource returns compiled workflows.
type WorkflowSource interface {
	GetOrCompile(ctx context.Context, key compiler.Key) (*compiler.CompiledWorkflow, error)
}

// SettingsResolver resolves workflow settings for a document.
type SettingsResolver interface {
	Resolve(ctx context.Context, defs []schema.SettingDefinition, doc *document.Document, opts settings.ResolveOptions) (map[string]string, error)
}

// Config identifies the worker on failure records and sets the
// worker-wide warning filter.
type Config struct {
	WorkerName    string
	WorkerVersion string
	WarningFilter string
}

// Component is the COMPONENT value of failure records.
func (c Config) Component() string {
	if c.WorkerVersion == "" {
		return c.WorkerName
	}
	return c.WorkerName + " " + c.WorkerVersion
}

// Deps are the collaborators of a Processor.
type Deps struct {
	Workflows  WorkflowSource
	Settings   SettingsResolver
	Engine     *engine.Engine
	Reconciler *failures.Reconciler
	Fields     *failures.FieldsManager
	Filter     failures.Filter // evaluates warning filters; nil disables them
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger
}

// Result is what a hop did to the document.
type Result struct {
	Workflow string
	// Decision is nil when the hop stopped on a document failure.
	Decision *engine.Decision
	// FailureID is the recoverable failure added to the document, if any.
	FailureID string
	Poison    bool
	Failures  failures.Result
}

// Failed reports whether the document must go to a failure queue.
func (r *Result) Failed() bool {
	return r.FailureID != "" || r.Failures.Surfaced()
}

// Processor applies a workflow to documents. It is safe for concurrent use;
// each document is processed sequentially.
type Processor struct {
	deps Deps
	cfg  Config
}

// NewProcessor creates a processor.
func NewProcessor(deps Deps, cfg Config) *Processor {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Reconciler == nil {
		deps.Reconciler = failures.NewReconciler(failures.WithMetrics(deps.Metrics), failures.WithLogger(deps.Logger))
	}
	if deps.Fields == nil {
		deps.Fields = failures.NewFieldsManager(deps.Logger)
	}
	return &Processor{deps: deps, cfg: cfg}
}

// ProcessDocument runs the routing hop: settings are resolved (or trusted on
// re-delivery) and the next action is selected. Problems with the document
// become failures on it; only transient and configuration errors are returned.
func (p *Processor) ProcessDocument(ctx context.Context, doc *document.Document) (*Result, error) {
	ctx = logging.WithDocument(ctx, doc.Reference)
	res, err := p.process(ctx, doc.Root())
	p.deps.Metrics.Document(PhaseProcess, outcome(res, err))
	return res, err
}

func (p *Processor) process(ctx context.Context, root *document.Document) (*Result, error) {
	res := &Result{}
	wf, stop, err := p.workflow(ctx, root, res)
	if stop || err != nil {
		return res, err
	}
	ctx = logging.WithWorkflow(ctx, wf.Name)
	log := logging.LogWith(ctx, p.deps.Logger)

	p.deps.Fields.Handle(root)

	var values map[string]string
	if raw, trusted := poison.TrustedSettings(root); trusted {
		res.Poison = true
		p.deps.Metrics.PoisonDocument()
		if err := settings.CheckTrusted(raw, wf.Settings); err != nil {
			return p.fail(ctx, root, res, schema.FailureUnexpectedSetting, err.Error()), nil
		}
		log.Info("re-delivered document, keeping existing settings")
		values = decodeSettings(raw)
		root.Task().Response.SetCustomData(schema.ResponseSettings, raw)
	} else {
		lastUpdated, err := settings.ParseLastUpdated(root)
		if err != nil {
			return p.fail(ctx, root, res, schema.FailureInvalidSettingsUpdate, err.Error()), nil
		}
		values, err = p.deps.Settings.Resolve(ctx, wf.Settings, root, settings.ResolveOptions{LastUpdated: lastUpdated})
		if err != nil {
			return res, err
		}
		if _, err := settings.Apply(root, values); err != nil {
			return res, err
		}
	}
	p.mirrorReference(root, wf)

	res.Decision, err = p.deps.Engine.Advance(ctx, root, wf, values)
	if err != nil {
		return p.fail(ctx, root, res, schema.FailureWorkflowEvaluationFailed, err.Error()), nil
	}
	if res.Decision.Unknown {
		action, _ := root.FirstValue(schema.FieldAction)
		return p.fail(ctx, root, res, schema.FailureWorkflowEvaluationFailed,
			fmt.Sprintf("document targets action %q which workflow %q does not define", action, wf.Name)), nil
	}
	return res, nil
}

// CompleteAction runs the completion hop after an action's worker handed the
// document back: the action is marked completed, its failures reconciled and,
// unless it terminated the workflow, the next action selected.
func (p *Processor) CompleteAction(ctx context.Context, doc *document.Document) (*Result, error) {
	ctx = logging.WithDocument(ctx, doc.Reference)
	res, err := p.complete(ctx, doc.Root())
	p.deps.Metrics.Document(PhaseComplete, outcome(res, err))
	return res, err
}

func (p *Processor) complete(ctx context.Context, root *document.Document) (*Result, error) {
	res := &Result{}
	wf, stop, err := p.workflow(ctx, root, res)
	if stop || err != nil {
		return res, err
	}
	action, _ := root.FirstValue(schema.FieldAction)
	ctx = logging.WithAction(logging.WithWorkflow(ctx, wf.Name), action)

	raw, _ := root.FirstValue(schema.FieldSettings)
	values := decodeSettings(raw)

	previous := p.deps.Engine.Complete(root, wf)
	terminate := previous == nil || previous.TerminateOnFailure

	filter := p.cfg.WarningFilter
	if wf.WarningFilter != "" {
		filter = wf.WarningFilter
	}
	res.Failures = p.deps.Reconciler.ReconcileTree(ctx, root, failures.Options{
		Action:             action,
		Component:          p.cfg.Component(),
		TerminateOnFailure: terminate,
		Classifier:         failures.NewClassifier(p.deps.Filter, filter, p.deps.Logger),
	})
	p.mirrorReference(root, wf)

	if terminate && res.Failures.Surfaced() {
		logging.LogWith(ctx, p.deps.Logger).Info("action failed, workflow terminated",
			"failures", res.Failures.Failures)
		res.Decision = engine.TerminatedDecision()
		return res, nil
	}

	res.Decision, err = p.deps.Engine.Advance(ctx, root, wf, values)
	if err != nil {
		return p.fail(ctx, root, res, schema.FailureWorkflowEvaluationFailed, err.Error()), nil
	}
	return res, nil
}

// workflow names and compiles the document's workflow. stop is set when a
// failure was added to the document.
func (p *Processor) workflow(ctx context.Context, root *document.Document, res *Result) (*compiler.CompiledWorkflow, bool, error) {
	name, failureID, msg := workflowName(root)
	if failureID != "" {
		p.fail(ctx, root, res, failureID, msg)
		return nil, true, nil
	}
	res.Workflow = name
	root.Set(schema.FieldWorkflowName, name)

	projectID, _ := root.CustomData(schema.CustomDataProjectID)
	wf, err := p.deps.Workflows.GetOrCompile(ctx, compiler.Key{ProjectID: projectID, Name: name})
	switch {
	case err == nil:
		return wf, false, nil
	case schema.IsNotFound(err):
		p.fail(ctx, root, res, schema.FailureWorkflowNotFound,
			fmt.Sprintf("workflow %q is not available for document %q", name, root.Reference))
		return nil, true, nil
	case schema.IsTransient(err):
		return nil, true, err
	default:
		p.fail(ctx, root, res, schema.FailureWorkflowEvaluationFailed, err.Error())
		return nil, true, nil
	}
}

// workflowName takes the name from task custom data, falling back to the
// workflow name field written on an earlier hop. The two must agree.
func workflowName(root *document.Document) (name, failureID, msg string) {
	fromData, _ := root.CustomData(schema.CustomDataWorkflowName)
	fromField := root.Values(schema.FieldWorkflowName)

	switch {
	case len(fromField) > 1:
		return "", schema.FailureMultipleWorkflowNames,
			fmt.Sprintf("document %q has %d workflow names", root.Reference, len(fromField))
	case fromData != "" && len(fromField) == 1 && fromField[0] != fromData:
		return "", schema.FailureMultipleWorkflowNames,
			fmt.Sprintf("document %q names workflow %q in custom data and %q in %s",
				root.Reference, fromData, fromField[0], schema.FieldWorkflowName)
	case fromData != "":
		return fromData, "", ""
	case len(fromField) == 1 && fromField[0] != "":
		return fromField[0], "", ""
	}
	return "", schema.FailureNoWorkflow,
		fmt.Sprintf("no %q in custom data of document %q", schema.CustomDataWorkflowName, root.Reference)
}

func (p *Processor) fail(ctx context.Context, root *document.Document, res *Result, id, msg string) *Result {
	logging.LogWith(ctx, p.deps.Logger).Error("document failed", "failure_id", id, "error", msg)
	root.Failures().Add(id, msg, nil)
	res.FailureID = id
	res.Decision = nil
	return res
}

func (p *Processor) mirrorReference(root *document.Document, wf *compiler.CompiledWorkflow) {
	if wf.StorageReference != "" {
		root.Task().Response.SetCustomData(schema.ResponseStorageReference, wf.StorageReference)
	}
}

// decodeSettings reads a settings JSON object. Non-string values keep their
// JSON text; anything unreadable yields an empty map.
func decodeSettings(raw string) map[string]string {
	out := map[string]string{}
	if raw == "" {
		return out
	}
	var values map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return out
	}
	for k, v := range values {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out
}

func outcome(res *Result, err error) string {
	switch {
	case err != nil && schema.IsTransient(err):
		return "transient"
	case err != nil:
		return "error"
	case res.FailureID != "":
		return "failed"
	case res.Decision != nil && res.Decision.Terminated:
		return "terminated"
	case res.Decision != nil && res.Decision.Complete:
		return "complete"
	}
	return "routed"
}
