package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/docflow/internal/worker"
)

// WorkflowNames lists the workflows available to the worker.
type WorkflowNames interface {
	Names() []string
}

// DocflowServerDeps holds the dependencies for creating a DocflowServer.
type DocflowServerDeps struct {
	Names     WorkflowNames
	Workflows worker.WorkflowSource
	Processor worker.DocumentProcessor
	ProjectID string
	Version   string
	Logger    *slog.Logger
}

// DocflowServer exposes read-only inspection tools over MCP.
type DocflowServer struct {
	names     WorkflowNames
	workflows worker.WorkflowSource
	processor worker.DocumentProcessor
	projectID string
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewDocflowServer creates a server with both tools registered.
func NewDocflowServer(deps DocflowServerDeps) *DocflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &DocflowServer{
		names:     deps.Names,
		workflows: deps.Workflows,
		processor: deps.Processor,
		projectID: deps.ProjectID,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"docflow",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Docflow routes documents through declarative workflows. Use docflow.workflows to see the loaded workflows with their actions and queues, and docflow.evaluate to dry-run a routing hop on a document without publishing it."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *DocflowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *DocflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *DocflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: workflowsTool(), Handler: s.handleWorkflows},
		{Tool: evaluateTool(), Handler: s.handleEvaluate},
	}
}

// --- Tool definitions ---

func workflowsTool() mcp.Tool {
	return mcp.NewTool("docflow.workflows",
		mcp.WithDescription("List loaded workflows with their actions, conditions and queues"),
		mcp.WithString("name", mcp.Description("Only show this workflow")),
		mcp.WithString("project_id", mcp.Description("Project the workflow is compiled for (default: server project)")),
		mcp.WithString("format",
			mcp.Enum("json", "mermaid"),
			mcp.Description("Output format: json (compiled workflows) or mermaid (routing flowcharts)"),
		),
	)
}

func evaluateTool() mcp.Tool {
	return mcp.NewTool("docflow.evaluate",
		mcp.WithDescription("Dry-run a routing hop on a document and report the decision without publishing it"),
		mcp.WithObject("document", mcp.Required(), mcp.Description("Document tree: reference, fields, failures, subdocuments")),
		mcp.WithObject("custom_data", mcp.Description("Task custom data, e.g. workflowName and tenantId")),
		mcp.WithString("phase",
			mcp.Enum(worker.PhaseProcess, worker.PhaseComplete),
			mcp.Description("Hop to run (default: process)"),
		),
	)
}
