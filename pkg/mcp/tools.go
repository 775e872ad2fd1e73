package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/docflow/internal/compiler"
	"github.com/rendis/docflow/internal/diagram"
	"github.com/rendis/docflow/internal/document"
	"github.com/rendis/docflow/internal/worker"
)

// handleWorkflows compiles and lists the requested workflows.
func (s *DocflowServer) handleWorkflows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.workflows == nil || s.names == nil {
		return mcp.NewToolResultError("no workflow source configured"), nil
	}
	projectID := req.GetString("project_id", s.projectID)

	names := s.names.Names()
	if name := req.GetString("name", ""); name != "" {
		names = []string{name}
	}

	workflows := make([]*compiler.CompiledWorkflow, 0, len(names))
	problems := map[string]string{}
	for _, name := range names {
		wf, err := s.workflows.GetOrCompile(ctx, compiler.Key{ProjectID: projectID, Name: name})
		if err != nil {
			problems[name] = err.Error()
			continue
		}
		workflows = append(workflows, wf)
	}
	if len(workflows) == 0 && len(problems) == 1 && len(names) == 1 {
		return mcp.NewToolResultError(fmt.Sprintf("workflow %q: %s", names[0], problems[names[0]])), nil
	}

	if req.GetString("format", "json") == "mermaid" {
		return renderMermaid(workflows)
	}

	out := map[string]any{"workflows": workflows}
	if len(problems) > 0 {
		out["errors"] = problems
	}
	return marshalResult(out)
}

func renderMermaid(workflows []*compiler.CompiledWorkflow) (*mcp.CallToolResult, error) {
	var b strings.Builder
	for i, wf := range workflows {
		model, err := diagram.Build(wf, nil)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
		}
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(diagram.RenderMermaid(model))
	}
	return mcp.NewToolResultText(b.String()), nil
}

// evaluation is the outcome of a dry-run hop.
type evaluation struct {
	Workflow   string            `json:"workflow,omitempty"`
	Action     string            `json:"action,omitempty"`
	Queue      string            `json:"queue,omitempty"`
	IsLast     bool              `json:"isLast"`
	Complete   bool              `json:"complete"`
	Terminated bool              `json:"terminated"`
	Reentry    bool              `json:"reentry"`
	Skipped    bool              `json:"skipped"`
	Poison     bool              `json:"poison"`
	FailureID  string            `json:"failureId,omitempty"`
	Surfaced   int               `json:"surfacedFailures"`
	Warnings   int               `json:"warnings"`
	Response   document.Response `json:"response"`
	Document   document.Snapshot `json:"document"`
}

// handleEvaluate runs one hop against the supplied document.
func (s *DocflowServer) handleEvaluate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.processor == nil {
		return mcp.NewToolResultError("no processor configured"), nil
	}
	raw := mcp.ParseStringMap(req, "document", nil)
	if raw == nil {
		return mcp.NewToolResultError("document is required"), nil
	}
	snap, err := decodeSnapshot(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid document: %v", err)), nil
	}
	if snap.Reference == "" {
		snap.Reference = "dry-run"
	}
	customData, err := stringMap(mcp.ParseStringMap(req, "custom_data", nil))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid custom_data: %v", err)), nil
	}

	doc := document.FromSnapshot(snap, document.NewTask(customData))
	phase := req.GetString("phase", worker.PhaseProcess)

	// A skipped action is reported as such even though the hop moves on.
	var skipped bool
	res, err := worker.Hop(ctx, skipWatcher{s.processor, &skipped}, phase, doc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("evaluation failed: %v", err)), nil
	}
	s.logger.Debug("dry-run evaluated", "document", doc.Reference, "workflow", res.Workflow)

	ev := evaluation{
		Workflow:  res.Workflow,
		Skipped:   skipped,
		Poison:    res.Poison,
		FailureID: res.FailureID,
		Surfaced:  res.Failures.Failures,
		Warnings:  res.Failures.Warnings,
		Response:  doc.Task().Response,
		Document:  doc.Snapshot(),
	}
	if d := res.Decision; d != nil {
		ev.IsLast, ev.Complete, ev.Terminated, ev.Reentry = d.IsLast, d.Complete, d.Terminated, d.Reentry
		if d.Action != nil {
			ev.Action, ev.Queue = d.Action.Name, d.Action.Queue
		}
	}
	return marshalResult(ev)
}

type skipWatcher struct {
	worker.DocumentProcessor
	skipped *bool
}

func (w skipWatcher) ProcessDocument(ctx context.Context, doc *document.Document) (*worker.Result, error) {
	res, err := w.DocumentProcessor.ProcessDocument(ctx, doc)
	if err == nil && res.Decision != nil && res.Decision.Skip {
		*w.skipped = true
	}
	return res, err
}

func decodeSnapshot(raw map[string]any) (document.Snapshot, error) {
	var snap document.Snapshot
	data, err := json.Marshal(raw)
	if err != nil {
		return snap, err
	}
	err = json.Unmarshal(data, &snap)
	return snap, err
}

// stringMap keeps string values and JSON-encodes everything else.
func stringMap(raw map[string]any) (map[string]string, error) {
	if raw == nil {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = string(data)
	}
	return out, nil
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
