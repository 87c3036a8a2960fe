package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/modelbench/internal/gateway"
	"github.com/kalambet/modelbench/internal/intent"
	"github.com/kalambet/modelbench/internal/registry"
	"github.com/kalambet/modelbench/internal/session"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Sessions *session.Manager
	Registry *registry.Store
}

// NewMCPServer creates an MCP server exposing the model registry as tools
// and resources. Every mutating tool goes through the session manager.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"modelbench",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("modelbench: search, compare, register and approve models in the ML model registry."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool(gateway.ToolSearchRegistry,
			mcp.WithDescription("Search the model registry. Returns at most 5 models plus the total match count."),
			mcp.WithString("domain", mcp.Description("Business domain"), mcp.Enum(domainNames()...)),
			mcp.WithNumber("minAccuracy", mcp.Description("Minimum accuracy between 0 and 1")),
			mcp.WithNumber("maxLatency", mcp.Description("Maximum latency in milliseconds")),
			mcp.WithString("sortBy", mcp.Description("Sort key"), mcp.Enum("accuracy", "latency", "created")),
			mcp.WithBoolean("sensitiveOnly", mcp.Description("Only models trained on sensitive datasets")),
		),
		mcpSearch(deps),
	)

	s.AddTool(
		mcp.NewTool(gateway.ToolApprovalQueue,
			mcp.WithDescription("List approval requests, pending first."),
		),
		mcpApprovalQueue(deps),
	)

	s.AddTool(
		mcp.NewTool("compare_models",
			mcp.WithDescription("Compare 2 to 4 models side by side."),
			mcp.WithArray("ids", mcp.Description("Model ids"), mcp.WithStringItems(), mcp.Required()),
		),
		mcpCompare(deps),
	)

	s.AddTool(
		mcp.NewTool("register_model",
			mcp.WithDescription("Register a new model. It starts Pending and Experimental with an open approval request."),
			mcp.WithString("name", mcp.Description("Model name"), mcp.Required()),
			mcp.WithString("domain", mcp.Description("Business domain"), mcp.Enum(domainNames()...)),
			mcp.WithNumber("accuracy", mcp.Description("Accuracy between 0 and 1")),
			mcp.WithNumber("latencyMs", mcp.Description("Latency in milliseconds")),
			mcp.WithString("owner", mcp.Description("Owning team or person")),
			mcp.WithString("framework", mcp.Description("Training framework")),
			mcp.WithString("datasetId", mcp.Description("Training dataset id; must exist in the registry")),
			mcp.WithString("monitoringStatus", mcp.Description("Monitoring status"), mcp.Enum(monitoringNames()...)),
			mcp.WithString("description", mcp.Description("Free text description")),
		),
		mcpRegister(deps),
	)

	s.AddTool(
		mcp.NewTool("decide_approval",
			mcp.WithDescription("Approve or reject the pending approval request of a model. Deciding twice is a no-op."),
			mcp.WithString("modelId", mcp.Description("Model id"), mcp.Required()),
			mcp.WithString("decision", mcp.Description("Decision"), mcp.Enum("Approved", "Rejected"), mcp.Required()),
		),
		mcpDecide(deps),
	)

	s.AddTool(
		mcp.NewTool("request_approval",
			mcp.WithDescription("Open a pending approval request for a model that has none and is not yet decided."),
			mcp.WithString("modelId", mcp.Description("Model id"), mcp.Required()),
			mcp.WithString("requestedBy", mcp.Description("Requester, defaults to unassigned")),
		),
		mcpRequestApproval(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"registry://models",
			"Model Registry",
			mcp.WithResourceDescription("All registered models, most recent first"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceModels(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"registry://approvals",
			"Approval Requests",
			mcp.WithResourceDescription("All approval requests"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceApprovals(deps),
	)

	return s
}

func monitoringNames() []string {
	out := make([]string, 0, len(registry.MonitoringStatuses))
	for _, ms := range registry.MonitoringStatuses {
		out = append(out, string(ms))
	}
	return out
}

func domainNames() []string {
	names := make([]string, len(registry.Domains))
	for i, d := range registry.Domains {
		names[i] = string(d)
	}
	return names
}

func mcpSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		in := intent.Resolve(&gateway.ToolCall{Name: gateway.ToolSearchRegistry, Args: req.GetArguments()})
		if none, ok := in.(intent.None); ok {
			return mcpError(fmt.Sprintf("invalid search: %s", none.Note)), nil
		}
		return mcpExecute(deps, in), nil
	}
}

func mcpApprovalQueue(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpExecute(deps, intent.ApprovalQueue{}), nil
	}
}

func mcpCompare(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		in, err := intent.NewCompare(req.GetStringSlice("ids", nil))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpExecute(deps, in), nil
	}
}

func mcpRegister(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}

		d := registry.Draft{
			Name:             name,
			Domain:           registry.Domain(req.GetString("domain", "")),
			MonitoringStatus: registry.MonitoringStatus(req.GetString("monitoringStatus", "")),
			Owner:            req.GetString("owner", ""),
			Framework:        req.GetString("framework", ""),
			DatasetID:        req.GetString("datasetId", ""),
			Description:      req.GetString("description", ""),
		}
		args := req.GetArguments()
		if _, ok := args["accuracy"]; ok {
			v := req.GetFloat("accuracy", 0)
			d.Accuracy = &v
		}
		if _, ok := args["latencyMs"]; ok {
			v := req.GetFloat("latencyMs", 0)
			d.LatencyMs = &v
		}

		in, err := intent.NewRegisterSubmission(d)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpExecute(deps, in), nil
	}
}

func mcpDecide(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		modelID, err := req.RequireString("modelId")
		if err != nil {
			return mcpError("modelId is required"), nil
		}
		decision, err := req.RequireString("decision")
		if err != nil {
			return mcpError("decision is required"), nil
		}
		in, err := intent.NewUpdateApproval(modelID, decision)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpExecute(deps, in), nil
	}
}

func mcpRequestApproval(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		modelID, err := req.RequireString("modelId")
		if err != nil {
			return mcpError("modelId is required"), nil
		}
		in, err := intent.NewRequestApproval(modelID, req.GetString("requestedBy", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpExecute(deps, in), nil
	}
}

// mcpExecute runs the intent and returns its directive as JSON text.
func mcpExecute(deps MCPDeps, in intent.Intent) *mcp.CallToolResult {
	d, err := deps.Sessions.Execute(in)
	if err != nil {
		return mcpError(fmt.Sprintf("%s failed: %v", in.Kind(), err))
	}
	if d == nil {
		return mcpText("null")
	}
	b, err := json.Marshal(d)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
}

type modelSummary struct {
	ID             string                  `json:"id"`
	Name           string                  `json:"name"`
	Domain         registry.Domain         `json:"domain"`
	Accuracy       float64                 `json:"accuracy"`
	LatencyMs      float64                 `json:"latency_ms"`
	ApprovalStatus registry.ApprovalStatus `json:"approval_status"`
	Stage          registry.ModelStage     `json:"model_stage"`
	CreatedAt      string                  `json:"created_at"`
}

func mcpResourceModels(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		models := deps.Registry.Snapshot().Models

		summaries := make([]modelSummary, len(models))
		for i, m := range models {
			summaries[i] = modelSummary{
				ID:             m.ID,
				Name:           m.Name,
				Domain:         m.Domain,
				Accuracy:       m.Accuracy,
				LatencyMs:      m.LatencyMs,
				ApprovalStatus: m.ApprovalStatus,
				Stage:          m.Stage,
				CreatedAt:      m.CreatedAt.Format(time.RFC3339),
			}
		}
		return jsonResource(req.Params.URI, summaries)
	}
}

func mcpResourceApprovals(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		approvals := deps.Registry.Snapshot().Approvals
		if approvals == nil {
			approvals = []registry.ApprovalRequest{}
		}
		return jsonResource(req.Params.URI, approvals)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
