package failures

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rendis/docflow/internal/document"
	"github.com/rendis/docflow/internal/logging"
	"github.com/rendis/docflow/internal/telemetry"
	"github.com/rendis/docflow/pkg/schema"
)

// Record kinds reported to metrics.
const (
	KindFailure    = "failure"
	KindWarning    = "warning"
	KindSuppressed = "suppressed"
)

// Options describe the action whose failures are reconciled.
type Options struct {
	// Action is the action that ran. Empty means the root's targeted action,
	// or UNKNOWN when there is none.
	Action string
	// Component identifies the worker as "name version".
	Component string
	// TerminateOnFailure surfaces failures in FAILURES. Otherwise they are
	// only kept in the failure history.
	TerminateOnFailure bool
	// Classifier demotes matching failures to warnings. May be nil.
	Classifier *Classifier
}

// Result counts the records written.
type Result struct {
	Failures   int // surfaced in FAILURES
	Warnings   int
	Suppressed int // history only
}

// Surfaced reports whether any failure reached FAILURES.
func (r Result) Surfaced() bool { return r.Failures > 0 }

func (r *Result) add(o Result) {
	r.Failures += o.Failures
	r.Warnings += o.Warnings
	r.Suppressed += o.Suppressed
}

// Reconciler converts new node failures into records.
type Reconciler struct {
	now     func() time.Time
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// ReconcilerOption customizes a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithClock replaces time.Now for record dates.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// WithMetrics counts records on m.
func WithMetrics(m *telemetry.Metrics) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

// WithLogger sets the reconciler logger.
func WithLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler creates a reconciler.
func NewReconciler(opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReconcileTree reconciles doc and every descendant.
func (r *Reconciler) ReconcileTree(ctx context.Context, doc *document.Document, opts Options) Result {
	var total Result
	doc.Walk(func(node *document.Document) {
		total.add(r.ReconcileNode(ctx, node, opts))
	})
	return total
}

// ReconcileNode reconciles a single node. Failures the node arrived with are
// kept; every other failure is removed from the node and recorded. Running it
// twice records nothing new.
func (r *Reconciler) ReconcileNode(ctx context.Context, node *document.Document, opts Options) Result {
	var res Result
	failures := node.Failures()
	if !failures.IsChanged() {
		return res
	}

	originals := failures.Originals()
	current := failures.All()
	failures.Reset()

	base := r.base(node, opts)
	for _, f := range current {
		if isOriginal(originals, f) {
			continue
		}
		rec := base
		rec.ID = f.ID
		rec.Message = f.Message

		if opts.Classifier.IsWarning(ctx, f) {
			rec.Extra = nil
			node.Add(schema.FieldWarnings, rec.String())
			res.Warnings++
			continue
		}

		rec.Stack = f.StackValue()
		encoded := rec.String()
		node.Add(schema.FieldFailureHistory, encoded)
		if opts.TerminateOnFailure {
			node.Add(schema.FieldFailures, encoded)
			res.Failures++
		} else {
			res.Suppressed++
		}
	}

	r.metrics.FailureRecords(KindFailure, res.Failures)
	r.metrics.FailureRecords(KindWarning, res.Warnings)
	r.metrics.FailureRecords(KindSuppressed, res.Suppressed)
	if res.Failures+res.Warnings+res.Suppressed > 0 {
		logging.LogWith(ctx, r.logger).Debug("failures reconciled",
			"node", node.Reference, "failures", res.Failures,
			"warnings", res.Warnings, "suppressed", res.Suppressed)
	}
	return res
}

func (r *Reconciler) base(node *document.Document, opts Options) Record {
	root := node.Root()
	rec := Record{
		WorkflowAction: opts.Action,
		Component:      opts.Component,
		Date:           r.now().UTC().Format(dateLayout),
	}
	if rec.WorkflowAction == "" {
		if a, ok := root.FirstValue(schema.FieldAction); ok {
			rec.WorkflowAction = a
		} else {
			rec.WorkflowAction = UnknownAction
		}
	}
	rec.WorkflowName, _ = root.FirstValue(schema.FieldWorkflowName)
	rec.CorrelationID, _ = root.CustomData(schema.CustomDataCorrelationID)
	rec.Extra = r.extraSubfields(root)
	return rec
}

func (r *Reconciler) extraSubfields(root *document.Document) map[string]string {
	raw, ok := root.FirstValue(schema.FieldExtraFailureSubfields)
	if !ok {
		return nil
	}
	var extra map[string]string
	if err := json.Unmarshal([]byte(raw), &extra); err != nil {
		r.logger.Warn("ignoring malformed extra failure subfields", "error", err)
		return nil
	}
	return extra
}

func isOriginal(originals []document.Failure, f document.Failure) bool {
	for _, o := range originals {
		if o.Same(f) {
			return true
		}
	}
	return false
}
