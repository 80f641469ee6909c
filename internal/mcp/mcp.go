// Package mcp implements the Model Context Protocol server for tracemesh.
//
// The MCP server exposes the query surface through MCP resources and
// tools, so MCP-compatible AI agents can inspect trace data directly.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/tracemesh/tracemesh/internal/model"
	"github.com/tracemesh/tracemesh/internal/service/query"
)

// Server wraps the MCP server with tracemesh's query service.
type Server struct {
	mcpServer *mcpserver.MCPServer
	query     *query.Service
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(querySvc *query.Service, version string, logger *slog.Logger) *Server {
	s := &Server{
		query:  querySvc,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"tracemesh",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// tracemesh://traces/recent — most recent traces across all services.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"tracemesh://traces/recent",
			"Recent Traces",
			mcplib.WithResourceDescription("Most recent traces across all services"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleTracesRecent,
	)

	// tracemesh://trace/{id} — one trace with its full span tree and A2A records.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"tracemesh://trace/{id}",
			"Trace Detail",
			mcplib.WithTemplateDescription("One trace with its spans and A2A communications"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleTraceDetail,
	)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("query_traces",
			mcplib.WithDescription("Query traces with filters. Returns the most recent matches first."),
			mcplib.WithString("trace_id", mcplib.Description("Filter by trace ID")),
			mcplib.WithString("service_name", mcplib.Description("Filter by originating service")),
			mcplib.WithString("status", mcplib.Description("Filter by status: running, success, error, timeout")),
			mcplib.WithBoolean("has_errors", mcplib.Description("Only traces with at least one error")),
			mcplib.WithBoolean("include_metrics", mcplib.Description("Include aggregate metrics for the result page")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results to return")),
		),
		s.handleQueryTraces,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("query_spans",
			mcplib.WithDescription("Query spans with filters. Returns spans in chronological order."),
			mcplib.WithString("trace_id", mcplib.Description("Filter by trace ID")),
			mcplib.WithString("agent_id", mcplib.Description("Filter by agent ID")),
			mcplib.WithString("operation_name", mcplib.Description("Substring match on operation name")),
			mcplib.WithString("status", mcplib.Description("Filter by status: running, success, error, timeout")),
			mcplib.WithBoolean("include_a2a", mcplib.Description("Attach agent-to-agent communications to each span")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results to return")),
		),
		s.handleQuerySpans,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("query_a2a",
			mcplib.WithDescription("Query agent-to-agent communications with filters."),
			mcplib.WithString("trace_id", mcplib.Description("Filter by trace ID")),
			mcplib.WithString("source_agent_id", mcplib.Description("Filter by source agent")),
			mcplib.WithString("target_agent_id", mcplib.Description("Filter by target agent")),
			mcplib.WithString("communication_type", mcplib.Description("Filter by communication type")),
			mcplib.WithBoolean("include_metrics", mcplib.Description("Include aggregate metrics for the result page")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results to return")),
		),
		s.handleQueryA2A,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("get_trace",
			mcplib.WithDescription("Fetch one trace with its full span tree and A2A communications."),
			mcplib.WithString("trace_id", mcplib.Description("Trace identifier"), mcplib.Required()),
		),
		s.handleGetTrace,
	)
}

func (s *Server) handleTracesRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	result, err := s.query.Traces(ctx, query.TracesRequest{
		Filter: model.TraceFilter{Limit: 20},
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: recent traces: %w", err)
	}

	data, err := json.MarshalIndent(result.Traces, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal traces: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "tracemesh://traces/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleTraceDetail(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	traceID := strings.TrimPrefix(uri, "tracemesh://trace/")
	if traceID == "" || traceID == uri {
		return nil, fmt.Errorf("mcp: invalid trace URI: %s", uri)
	}

	trace, err := s.fetchTrace(ctx, traceID)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal trace: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleQueryTraces(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := query.TracesRequest{
		Filter:         model.TraceFilter{Limit: request.GetInt("limit", 10)},
		IncludeMetrics: request.GetBool("include_metrics", false),
	}
	if v := request.GetString("trace_id", ""); v != "" {
		req.Filter.TraceID = &v
	}
	if v := request.GetString("service_name", ""); v != "" {
		req.Filter.ServiceName = &v
	}
	if v := request.GetString("status", ""); v != "" {
		status := model.TraceStatus(v)
		req.Filter.Status = &status
	}
	req.Filter.HasErrors = request.GetBool("has_errors", false)

	result, err := s.query.Traces(ctx, req)
	if err != nil {
		return errorResult(fmt.Sprintf("query failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"traces":  result.Traces,
		"metrics": result.Metrics,
		"total":   result.Pagination.Total,
	})
}

func (s *Server) handleQuerySpans(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := query.SpansRequest{
		Filter:     model.SpanFilter{Limit: request.GetInt("limit", 20)},
		IncludeA2A: request.GetBool("include_a2a", false),
	}
	if v := request.GetString("trace_id", ""); v != "" {
		req.Filter.TraceID = &v
	}
	if v := request.GetString("agent_id", ""); v != "" {
		req.Filter.AgentID = &v
	}
	if v := request.GetString("operation_name", ""); v != "" {
		req.Filter.OperationName = &v
	}
	if v := request.GetString("status", ""); v != "" {
		status := model.SpanStatus(v)
		req.Filter.Status = &status
	}

	result, err := s.query.Spans(ctx, req)
	if err != nil {
		return errorResult(fmt.Sprintf("query failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"spans": result.Spans,
		"total": result.Pagination.Total,
	})
}

func (s *Server) handleQueryA2A(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := query.A2ARequest{
		Filter:         model.A2AFilter{Limit: request.GetInt("limit", 20)},
		IncludeMetrics: request.GetBool("include_metrics", false),
	}
	if v := request.GetString("trace_id", ""); v != "" {
		req.Filter.TraceID = &v
	}
	if v := request.GetString("source_agent_id", ""); v != "" {
		req.Filter.SourceAgentID = &v
	}
	if v := request.GetString("target_agent_id", ""); v != "" {
		req.Filter.TargetAgentID = &v
	}
	if v := request.GetString("communication_type", ""); v != "" {
		req.Filter.CommunicationType = &v
	}

	result, err := s.query.A2A(ctx, req)
	if err != nil {
		return errorResult(fmt.Sprintf("query failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"communications": result.Communications,
		"metrics":        result.Metrics,
		"total":          result.Pagination.Total,
	})
}

func (s *Server) handleGetTrace(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	traceID := request.GetString("trace_id", "")
	if traceID == "" {
		return errorResult("trace_id is required"), nil
	}

	trace, err := s.fetchTrace(ctx, traceID)
	if err != nil {
		return errorResult(fmt.Sprintf("fetch failed: %v", err)), nil
	}
	if trace == nil {
		return errorResult(fmt.Sprintf("trace not found: %s", traceID)), nil
	}
	return jsonResult(trace)
}

// fetchTrace loads one fully-enriched trace, or nil when absent.
func (s *Server) fetchTrace(ctx context.Context, traceID string) (*model.Trace, error) {
	result, err := s.query.Traces(ctx, query.TracesRequest{
		Filter:       model.TraceFilter{TraceID: &traceID, Limit: 1},
		IncludeSpans: true,
		IncludeA2A:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: fetch trace: %w", err)
	}
	if len(result.Traces) == 0 {
		return nil, nil
	}
	return &result.Traces[0], nil
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal failed: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		IsError: true,
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
	}
}
