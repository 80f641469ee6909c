package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracemesh/tracemesh/internal/model"
	"github.com/tracemesh/tracemesh/internal/service/query"
	"github.com/tracemesh/tracemesh/internal/testutil"
)

func newTestMCP(t *testing.T) (*Server, *testutil.MemStore) {
	t.Helper()
	store := testutil.NewMemStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(query.New(store, logger), "test", logger), store
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func textContent(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	tc, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	return tc.Text
}

func seedTrace(store *testutil.MemStore, id string, status model.TraceStatus) {
	store.Traces[id] = model.Trace{
		TraceID:     id,
		ServiceName: "svc",
		Status:      status,
		StartTime:   time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestQueryTracesTool(t *testing.T) {
	srv, store := newTestMCP(t)
	seedTrace(store, "t1", model.TraceStatusSuccess)
	seedTrace(store, "t2", model.TraceStatusError)

	result, err := srv.handleQueryTraces(context.Background(),
		toolRequest("query_traces", map[string]any{"status": "error"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var payload struct {
		Traces []model.Trace `json:"traces"`
		Total  int           `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &payload))
	require.Len(t, payload.Traces, 1)
	assert.Equal(t, "t2", payload.Traces[0].TraceID)
	assert.Equal(t, 1, payload.Total)
}

func TestQuerySpansTool(t *testing.T) {
	srv, store := newTestMCP(t)
	store.Spans["s1"] = model.Span{
		SpanID: "s1", TraceID: "t1", AgentID: "agent-a",
		OperationName: "plan_route",
		StartTime:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}

	result, err := srv.handleQuerySpans(context.Background(),
		toolRequest("query_spans", map[string]any{"operation_name": "route"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var payload struct {
		Spans []model.Span `json:"spans"`
	}
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &payload))
	require.Len(t, payload.Spans, 1)
	assert.Equal(t, "s1", payload.Spans[0].SpanID)
}

func TestGetTraceTool(t *testing.T) {
	srv, store := newTestMCP(t)
	seedTrace(store, "t1", model.TraceStatusRunning)
	store.Spans["s1"] = model.Span{
		SpanID: "s1", TraceID: "t1", AgentID: "agent-a",
		StartTime: time.Date(2026, 3, 14, 9, 0, 1, 0, time.UTC),
	}

	result, err := srv.handleGetTrace(context.Background(),
		toolRequest("get_trace", map[string]any{"trace_id": "t1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var trace model.Trace
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &trace))
	assert.Equal(t, "t1", trace.TraceID)
	require.Len(t, trace.Spans, 1)
	assert.Equal(t, "s1", trace.Spans[0].SpanID)
}

func TestGetTraceToolMissing(t *testing.T) {
	srv, _ := newTestMCP(t)

	result, err := srv.handleGetTrace(context.Background(),
		toolRequest("get_trace", map[string]any{"trace_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.handleGetTrace(context.Background(),
		toolRequest("get_trace", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestTraceDetailResource(t *testing.T) {
	srv, store := newTestMCP(t)
	seedTrace(store, "t1", model.TraceStatusRunning)

	contents, err := srv.handleTraceDetail(context.Background(), mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{URI: "tracemesh://trace/t1"},
	})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Contains(t, text.Text, `"t1"`)
}
