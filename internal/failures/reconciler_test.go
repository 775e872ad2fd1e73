package failures

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/docflow/internal/document"
	"github.com/rendis/docflow/internal/expressions"
	"github.com/rendis/docflow/internal/logging"
	"github.com/rendis/docflow/pkg/schema"
)

func strPtr(s string) *string { return &s }

var fixedNow = time.Date(2024, 5, 1, 9, 30, 0, 123_000_000, time.FixedZone("CEST", 2*3600))

func newReconciler() *Reconciler {
	return NewReconciler(WithClock(func() time.Time { return fixedNow }), WithLogger(logging.Discard()))
}

// receivedDoc builds a tree whose root and grandchild arrived with one failure each.
func receivedDoc() *document.Document {
	task := document.NewTask(map[string]string{"correlationId": "corr-1"})
	return document.FromSnapshot(document.Snapshot{
		Reference: "root",
		Fields: map[string][]string{
			schema.FieldWorkflowName:          {"enrichment"},
			schema.FieldAction:                {"ocr"},
			schema.FieldExtraFailureSubfields: {`{"TENANT":"t1"}`},
		},
		Failures: []document.Failure{{ID: "OLD", Message: "arrived with it"}},
		Subdocuments: []document.Snapshot{{
			Reference: "child",
			Subdocuments: []document.Snapshot{{
				Reference: "grandchild",
				Failures:  []document.Failure{{ID: "OLD", Message: "m", Stack: strPtr("")}},
			}},
		}},
	}, task)
}

func decode(t *testing.T, values []string) []map[string]string {
	t.Helper()
	out := make([]map[string]string, 0, len(values))
	for _, v := range values {
		var m map[string]string
		require.NoError(t, json.Unmarshal([]byte(v), &m))
		out = append(out, m)
	}
	return out
}

func TestReconcileTree_RecordsNewFailuresAtAnyDepth(t *testing.T) {
	doc := receivedDoc()
	grandchild := doc.Subdocuments()[0].Subdocuments()[0]

	doc.Failures().Add("OCR_FAILED", "no text", strPtr("at ocr.go:12"))
	grandchild.Failures().Add("OLD", "m", nil) // differs from the original by its nil stack

	res := newReconciler().ReconcileTree(context.Background(), doc, Options{
		Component:          "workflow-worker 1.2.0",
		TerminateOnFailure: true,
	})
	assert.Equal(t, Result{Failures: 2}, res)
	assert.True(t, res.Surfaced())

	rootRecords := decode(t, doc.Values(schema.FieldFailures))
	require.Len(t, rootRecords, 1)
	assert.Equal(t, map[string]string{
		"ID":              "OCR_FAILED",
		"MESSAGE":         "no text",
		"STACK":           "at ocr.go:12",
		"WORKFLOW_ACTION": "ocr",
		"COMPONENT":       "workflow-worker 1.2.0",
		"WORKFLOW_NAME":   "enrichment",
		"DATE":            "2024-05-01T07:30:00.123Z",
		"CORRELATION_ID":  "corr-1",
		"TENANT":          "t1",
	}, rootRecords[0])
	assert.Equal(t, doc.Values(schema.FieldFailures), doc.Values(schema.FieldFailureHistory))

	deep := decode(t, grandchild.Values(schema.FieldFailures))
	require.Len(t, deep, 1)
	assert.Equal(t, "OLD", deep[0]["ID"])
	assert.NotContains(t, deep[0], "STACK")

	assert.Equal(t, []document.Failure{{ID: "OLD", Message: "arrived with it"}}, doc.Failures().All())
	assert.Len(t, grandchild.Failures().All(), 1)
}

func TestReconcileTree_IsIdempotent(t *testing.T) {
	doc := receivedDoc()
	doc.Failures().Add("E1", "boom", nil)
	r := newReconciler()
	opts := Options{TerminateOnFailure: true}

	first := r.ReconcileTree(context.Background(), doc, opts)
	second := r.ReconcileTree(context.Background(), doc, opts)
	assert.Equal(t, 1, first.Failures)
	assert.Equal(t, Result{}, second)
	assert.Len(t, doc.Values(schema.FieldFailures), 1)
}

func TestReconcileNode_MatchesTreeUnion(t *testing.T) {
	build := func() *document.Document {
		doc := receivedDoc()
		doc.Failures().Add("A", "a", nil)
		doc.Subdocuments()[0].Failures().Add("B", "b", nil)
		doc.Subdocuments()[0].Subdocuments()[0].Failures().Add("C", "c", nil)
		return doc
	}
	r := newReconciler()
	opts := Options{TerminateOnFailure: true}

	tree := build()
	treeRes := r.ReconcileTree(context.Background(), tree, opts)

	nodes := build()
	var nodeRes Result
	nodes.Walk(func(n *document.Document) { nodeRes.add(r.ReconcileNode(context.Background(), n, opts)) })

	assert.Equal(t, treeRes, nodeRes)
	assert.Equal(t, tree.Snapshot(), nodes.Snapshot())
}

func TestReconcile_NonTerminatingActionOnlyKeepsHistory(t *testing.T) {
	doc := receivedDoc()
	doc.Failures().Add("E1", "boom", nil)

	res := newReconciler().ReconcileTree(context.Background(), doc, Options{Action: "lang-detect"})
	assert.Equal(t, Result{Suppressed: 1}, res)
	assert.False(t, res.Surfaced())
	assert.False(t, doc.HasValues(schema.FieldFailures))
	history := decode(t, doc.Values(schema.FieldFailureHistory))
	require.Len(t, history, 1)
	assert.Equal(t, "lang-detect", history[0]["WORKFLOW_ACTION"])
}

func TestReconcile_WarningFilter(t *testing.T) {
	doc := receivedDoc()
	doc.Failures().Add("WARN_LOW_CONFIDENCE", "ocr confidence 0.4", strPtr("stack"))
	doc.Failures().Add("E1", "boom", nil)

	classifier := NewClassifier(expressions.NewGoJQEngine(), `.ID | startswith("WARN_")`, logging.Discard())
	res := newReconciler().ReconcileTree(context.Background(), doc, Options{
		TerminateOnFailure: true,
		Classifier:         classifier,
	})
	assert.Equal(t, Result{Failures: 1, Warnings: 1}, res)

	warnings := decode(t, doc.Values(schema.FieldWarnings))
	require.Len(t, warnings, 1)
	assert.Equal(t, "WARN_LOW_CONFIDENCE", warnings[0]["ID"])
	assert.NotContains(t, warnings[0], "STACK")
	assert.NotContains(t, warnings[0], "TENANT")

	failures := decode(t, doc.Values(schema.FieldFailures))
	require.Len(t, failures, 1)
	assert.Equal(t, "E1", failures[0]["ID"])
	assert.Len(t, doc.Values(schema.FieldFailureHistory), 1)
}

func TestReconcile_UnknownActionAndMissingCorrelation(t *testing.T) {
	doc := document.New("root", nil)
	doc.Failures().Add("E1", "boom", nil)

	newReconciler().ReconcileTree(context.Background(), doc, Options{TerminateOnFailure: true})
	rec := decode(t, doc.Values(schema.FieldFailures))
	require.Len(t, rec, 1)
	assert.Equal(t, UnknownAction, rec[0]["WORKFLOW_ACTION"])
	assert.NotContains(t, rec[0], "CORRELATION_ID")
}

func TestClassifier(t *testing.T) {
	assert.Nil(t, NewClassifier(expressions.NewGoJQEngine(), "", nil))
	var none *Classifier
	assert.False(t, none.IsWarning(context.Background(), document.Failure{ID: "x"}))
	assert.Empty(t, none.Expression())

	c := NewClassifier(expressions.NewGoJQEngine(), `.STACK == null`, logging.Discard())
	assert.True(t, c.IsWarning(context.Background(), document.Failure{ID: "x"}))
	assert.False(t, c.IsWarning(context.Background(), document.Failure{ID: "x", Stack: strPtr("s")}))

	broken := NewClassifier(expressions.NewGoJQEngine(), `.ID |`, logging.Discard())
	assert.False(t, broken.IsWarning(context.Background(), document.Failure{ID: "x"}))
}
