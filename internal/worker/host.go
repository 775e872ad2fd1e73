package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rendis/docflow/internal/document"
	"github.com/rendis/docflow/internal/logging"
	"github.com/rendis/docflow/internal/mq"
	"github.com/rendis/docflow/pkg/schema"
)

// Envelope is the message exchanged with the queue. Phase selects the hop:
// "process" for documents entering the workflow, "complete" for documents
// handed back by an action worker.
type Envelope struct {
	ID         string             `json:"id"`
	Phase      string             `json:"phase,omitempty"`
	Document   document.Snapshot  `json:"document"`
	CustomData map[string]string  `json:"customData,omitempty"`
	Response   *document.Response `json:"response,omitempty"`
}

// DocumentProcessor runs the two hops. *Processor implements it.
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, doc *document.Document) (*Result, error)
	CompleteAction(ctx context.Context, doc *document.Document) (*Result, error)
}

// Publisher sends a message to a queue. *mq.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg mq.Message) error
}

// Queues are the host's fallback destinations.
type Queues struct {
	Output  string // completed workflows
	Failure string // failed documents without a failure queue of their own
}

// Host turns queue deliveries into processor hops and publishes the result.
type Host struct {
	processor DocumentProcessor
	publisher Publisher
	queues    Queues
	logger    *slog.Logger
}

// NewHost creates a host.
func NewHost(processor DocumentProcessor, publisher Publisher, queues Queues, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{processor: processor, publisher: publisher, queues: queues, logger: logger}
}

// Handle processes one delivery. It satisfies mq.Handler: malformed messages
// are permanent errors, transient processing or publishing errors are not.
func (h *Host) Handle(ctx context.Context, d mq.Delivery) error {
	var env Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		return mq.Permanent(fmt.Errorf("decode envelope %s: %w", d.MessageID, err))
	}
	if env.ID == "" {
		env.ID = d.MessageID
	}
	if env.Document.Reference == "" {
		return mq.Permanent(fmt.Errorf("envelope %s has no document reference", env.ID))
	}

	doc := document.FromSnapshot(env.Document, document.NewTask(env.CustomData))
	ctx = logging.WithDocument(ctx, doc.Reference)

	res, err := Hop(ctx, h.processor, env.Phase, doc)
	if err != nil {
		if schema.IsTransient(err) || errors.Is(err, context.Canceled) {
			return err
		}
		return mq.Permanent(err)
	}

	queue := h.destination(doc, res)
	if queue == "" {
		return mq.Permanent(fmt.Errorf("no destination queue for document %s", doc.Reference))
	}
	resp := doc.Task().Response
	out, err := json.Marshal(Envelope{
		ID:         env.ID,
		Phase:      PhaseComplete,
		Document:   doc.Snapshot(),
		CustomData: doc.Task().CustomData(),
		Response:   &resp,
	})
	if err != nil {
		return mq.Permanent(fmt.Errorf("encode envelope %s: %w", env.ID, err))
	}
	if err := h.publisher.Publish(ctx, queue, mq.Message{ID: env.ID, Body: out}); err != nil {
		return schema.NewErrorf(schema.ErrCodeTransient, "publish document %s", doc.Reference).WithCause(err)
	}

	logging.LogWith(ctx, h.logger).Info("document routed", "queue", queue, "workflow", res.Workflow)
	return nil
}

// Hop runs the processor hop named by phase. A routing hop whose targeted
// action no longer applies is completed straight away.
func Hop(ctx context.Context, p DocumentProcessor, phase string, doc *document.Document) (*Result, error) {
	switch phase {
	case "", PhaseProcess:
		res, err := p.ProcessDocument(ctx, doc)
		if err != nil || res.Decision == nil || !res.Decision.Skip {
			return res, err
		}
		return p.CompleteAction(ctx, doc)
	case PhaseComplete:
		return p.CompleteAction(ctx, doc)
	}
	return nil, mq.Permanent(fmt.Errorf("unknown phase %q", phase))
}

// destination picks the worker failure queue for failed documents, the output
// queue for finished workflows, and the selected action's queue otherwise.
func (h *Host) destination(doc *document.Document, res *Result) string {
	resp := doc.Task().Response
	switch {
	case res.Failed():
		return h.queues.Failure
	case res.Decision != nil && res.Decision.Complete:
		return h.queues.Output
	}
	return resp.SuccessQueue
}
