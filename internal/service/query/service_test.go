package query

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracemesh/tracemesh/internal/model"
	"github.com/tracemesh/tracemesh/internal/testutil"
)

var baseTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *testutil.MemStore) {
	t.Helper()
	store := testutil.NewMemStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, logger), store
}

func seedTrace(store *testutil.MemStore, id string, offset time.Duration, status model.TraceStatus) {
	store.Traces[id] = model.Trace{
		TraceID:     id,
		ServiceName: "svc-" + id,
		Status:      status,
		StartTime:   baseTime.Add(offset),
		DurationMs:  100,
	}
}

func seedSpan(store *testutil.MemStore, id, traceID, agentID string, offset time.Duration) {
	store.Spans[id] = model.Span{
		SpanID:    id,
		TraceID:   traceID,
		AgentID:   agentID,
		StartTime: baseTime.Add(offset),
		Status:    model.SpanStatusRunning,
	}
}

func seedA2A(store *testutil.MemStore, id, traceID, sourceSpan, targetSpan string, offset time.Duration) {
	store.A2A[id] = model.A2ACommunication{
		ID:           id,
		TraceID:      traceID,
		SourceSpanID: sourceSpan,
		TargetSpanID: targetSpan,
		Status:       model.A2AStatusSuccess,
		StartTime:    baseTime.Add(offset),
		Payload:      map[string]any{"task": "route"},
		Response:     map[string]any{"ok": true},
	}
}

func TestTracesFilterAndOrder(t *testing.T) {
	svc, store := newTestService(t)
	seedTrace(store, "t1", 0, model.TraceStatusSuccess)
	seedTrace(store, "t2", time.Minute, model.TraceStatusError)
	seedTrace(store, "t3", 2*time.Minute, model.TraceStatusSuccess)

	status := model.TraceStatusSuccess
	result, err := svc.Traces(context.Background(), TracesRequest{
		Filter: model.TraceFilter{Status: &status},
	})
	require.NoError(t, err)

	require.Len(t, result.Traces, 2)
	assert.Equal(t, "t3", result.Traces[0].TraceID, "most recent first")
	assert.Equal(t, "t1", result.Traces[1].TraceID)
}

func TestTracesPagination(t *testing.T) {
	svc, store := newTestService(t)
	for i, id := range []string{"t1", "t2", "t3"} {
		seedTrace(store, id, time.Duration(i)*time.Minute, model.TraceStatusRunning)
	}

	first, err := svc.Traces(context.Background(), TracesRequest{
		Filter: model.TraceFilter{Limit: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Pagination.Total)
	assert.True(t, first.Pagination.HasNext)
	assert.False(t, first.Pagination.HasPrev)

	second, err := svc.Traces(context.Background(), TracesRequest{
		Filter: model.TraceFilter{Limit: 2, Offset: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Pagination.Total)
	assert.False(t, second.Pagination.HasNext)
	assert.True(t, second.Pagination.HasPrev)
}

func TestTracesDefaultLimit(t *testing.T) {
	svc, _ := newTestService(t)

	result, err := svc.Traces(context.Background(), TracesRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTraceLimit, result.Pagination.Limit)
	assert.Equal(t, 0, result.Pagination.Total)
	assert.False(t, result.Pagination.HasNext)
}

func TestTracesIncludeSpans(t *testing.T) {
	svc, store := newTestService(t)
	seedTrace(store, "t1", 0, model.TraceStatusRunning)
	seedSpan(store, "s2", "t1", "agent-a", 2*time.Second)
	seedSpan(store, "s1", "t1", "agent-a", time.Second)
	seedSpan(store, "other", "t2", "agent-b", 0)

	result, err := svc.Traces(context.Background(), TracesRequest{
		Filter:       model.TraceFilter{TraceID: strPtr("t1")},
		IncludeSpans: true,
	})
	require.NoError(t, err)

	require.Len(t, result.Traces, 1)
	spans := result.Traces[0].Spans
	require.Len(t, spans, 2)
	assert.Equal(t, "s1", spans[0].SpanID, "chronological order")
	assert.Equal(t, "s2", spans[1].SpanID)
}

func TestTracesIncludeSpansWithCriteria(t *testing.T) {
	svc, store := newTestService(t)
	seedTrace(store, "t1", 0, model.TraceStatusRunning)
	seedSpan(store, "s1", "t1", "agent-a", time.Second)
	seedSpan(store, "s2", "t1", "agent-b", 2*time.Second)

	result, err := svc.Traces(context.Background(), TracesRequest{
		Filter:       model.TraceFilter{TraceID: strPtr("t1")},
		IncludeSpans: true,
		SpanCriteria: model.SpanCriteria{AgentID: strPtr("agent-b")},
	})
	require.NoError(t, err)

	require.Len(t, result.Traces, 1)
	require.Len(t, result.Traces[0].Spans, 1)
	assert.Equal(t, "s2", result.Traces[0].Spans[0].SpanID)
}

func TestTracesIncludeSpansAndA2A(t *testing.T) {
	svc, store := newTestService(t)
	seedTrace(store, "t1", 0, model.TraceStatusRunning)
	seedSpan(store, "s1", "t1", "agent-a", time.Second)
	seedA2A(store, "c1", "t1", "s1", "s9", 2*time.Second)

	result, err := svc.Traces(context.Background(), TracesRequest{
		Filter:       model.TraceFilter{TraceID: strPtr("t1")},
		IncludeSpans: true,
		IncludeA2A:   true,
	})
	require.NoError(t, err)

	require.Len(t, result.Traces, 1)
	require.Len(t, result.Traces[0].Spans, 1)
	comms := result.Traces[0].Spans[0].Communications
	require.Len(t, comms, 1)
	assert.Equal(t, "c1", comms[0].ID)
	assert.Nil(t, comms[0].Payload, "payloads stripped by default")
	assert.Nil(t, comms[0].Response)
}

func TestTracesMetricsWithoutIncludeSpans(t *testing.T) {
	svc, store := newTestService(t)
	seedTrace(store, "t1", 0, model.TraceStatusSuccess)
	seedTrace(store, "t2", time.Minute, model.TraceStatusError)
	seedSpan(store, "s1", "t1", "agent-a", 0)
	seedSpan(store, "s2", "t1", "agent-b", time.Second)
	seedSpan(store, "s3", "t2", "agent-a", 0)

	result, err := svc.Traces(context.Background(), TracesRequest{IncludeMetrics: true})
	require.NoError(t, err)

	require.NotNil(t, result.Metrics)
	m := *result.Metrics
	assert.Equal(t, 2, m.TotalTraces)
	assert.Equal(t, 3, m.TotalSpans)
	assert.Equal(t, 2, m.UniqueAgents)
	assert.InDelta(t, 50.0, m.SuccessRate, 0.001)
	assert.InDelta(t, 50.0, m.ErrorRate, 0.001)
	assert.InDelta(t, 1.5, m.AvgSpansPerTrace, 0.001)

	for _, tr := range result.Traces {
		assert.Nil(t, tr.Spans, "spans fetched for metrics must not be attached")
	}
}

func TestTracesMetricsEmptyPage(t *testing.T) {
	svc, _ := newTestService(t)

	result, err := svc.Traces(context.Background(), TracesRequest{IncludeMetrics: true})
	require.NoError(t, err)

	require.NotNil(t, result.Metrics)
	assert.Zero(t, result.Metrics.TotalTraces)
	assert.Zero(t, result.Metrics.SuccessRate)
	assert.Zero(t, result.Metrics.ErrorRate)
	assert.Zero(t, result.Metrics.AvgDurationMs)
}

func TestSpansIncludeA2A(t *testing.T) {
	svc, store := newTestService(t)
	seedSpan(store, "s1", "t1", "agent-a", 0)
	seedA2A(store, "c1", "t1", "s1", "s2", time.Second)
	seedA2A(store, "c2", "t1", "s3", "s1", 2*time.Second)
	seedA2A(store, "c3", "t1", "s4", "s5", 3*time.Second)

	result, err := svc.Spans(context.Background(), SpansRequest{
		Filter:     model.SpanFilter{SpanID: strPtr("s1")},
		IncludeA2A: true,
	})
	require.NoError(t, err)

	require.Len(t, result.Spans, 1)
	comms := result.Spans[0].Communications
	require.Len(t, comms, 2, "span is source of c1 and target of c2")
	assert.Equal(t, "c1", comms[0].ID)
	assert.Equal(t, "c2", comms[1].ID)
}

func TestSpansIncludePayloads(t *testing.T) {
	svc, store := newTestService(t)
	seedSpan(store, "s1", "t1", "agent-a", 0)
	seedA2A(store, "c1", "t1", "s1", "s2", time.Second)

	result, err := svc.Spans(context.Background(), SpansRequest{
		Filter:          model.SpanFilter{SpanID: strPtr("s1")},
		IncludeA2A:      true,
		IncludePayloads: true,
	})
	require.NoError(t, err)

	require.Len(t, result.Spans, 1)
	require.Len(t, result.Spans[0].Communications, 1)
	assert.Equal(t, map[string]any{"task": "route"}, result.Spans[0].Communications[0].Payload)
}

func TestA2AStripsPayloadsByDefault(t *testing.T) {
	svc, store := newTestService(t)
	seedA2A(store, "c1", "t1", "s1", "s2", 0)

	result, err := svc.A2A(context.Background(), A2ARequest{})
	require.NoError(t, err)

	require.Len(t, result.Communications, 1)
	assert.Nil(t, result.Communications[0].Payload)
	assert.Nil(t, result.Communications[0].Response)

	withPayloads, err := svc.A2A(context.Background(), A2ARequest{IncludePayloads: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"task": "route"}, withPayloads.Communications[0].Payload)
}

func TestA2AMetrics(t *testing.T) {
	svc, store := newTestService(t)
	store.A2A["c1"] = model.A2ACommunication{
		ID: "c1", TraceID: "t1", SourceAgentID: "a", TargetAgentID: "b",
		CommunicationType: "delegate", Protocol: "grpc",
		Status: model.A2AStatusSuccess, StartTime: baseTime, DurationMs: 100,
	}
	store.A2A["c2"] = model.A2ACommunication{
		ID: "c2", TraceID: "t1", SourceAgentID: "a", TargetAgentID: "b",
		CommunicationType: "delegate", Protocol: "http",
		Status: model.A2AStatusError, StartTime: baseTime.Add(time.Second), DurationMs: 300,
	}
	store.A2A["c3"] = model.A2ACommunication{
		ID: "c3", TraceID: "t1", SourceAgentID: "b", TargetAgentID: "a",
		CommunicationType: "reply", Protocol: "grpc",
		Status: model.A2AStatusRunning, StartTime: baseTime.Add(2 * time.Second), DurationMs: 200,
	}

	result, err := svc.A2A(context.Background(), A2ARequest{IncludeMetrics: true})
	require.NoError(t, err)

	require.NotNil(t, result.Metrics)
	m := *result.Metrics
	assert.Equal(t, 3, m.TotalCommunications)
	assert.Equal(t, 2, m.UniqueCommunicationTypes)
	assert.Equal(t, 2, m.UniqueProtocols)
	assert.Equal(t, 2, m.UniqueAgentPairs, "a->b and b->a are distinct pairs")
	assert.InDelta(t, 200.0, m.AvgDurationMs, 0.001)
	assert.InDelta(t, 100.0/3, m.SuccessRate, 0.001)
	assert.InDelta(t, 100.0/3, m.ErrorRate, 0.001)
}

func strPtr(s string) *string { return &s }
