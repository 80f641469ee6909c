package tracemesh

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	c, err := NewClient(Config{BaseURL: ts.URL})
	require.NoError(t, err)
	return c
}

func writeData(t *testing.T, w http.ResponseWriter, status int, data any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    data,
	}))
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorContains(t, err, "BaseURL")

	_, err = NewClient(Config{BaseURL: "http://localhost:8080", APIKey: "secret"})
	assert.ErrorContains(t, err, "AgentID")

	c, err := NewClient(Config{BaseURL: "http://localhost:8080/"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.baseURL)
}

func TestCreateTraceUnwrapsEnvelope(t *testing.T) {
	var gotPath, gotTraceHeader, gotSpanHeader string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotTraceHeader = r.Header.Get(HeaderTraceID)
		gotSpanHeader = r.Header.Get(HeaderSpanID)
		writeData(t, w, http.StatusCreated, Trace{
			TraceID:     "trace-1",
			ServiceName: "orchestrator",
			Status:      TraceStatusRunning,
		})
	})

	trace, err := c.CreateTrace(context.Background(),
		CreateTraceRequest{ServiceName: "orchestrator"},
		&TraceContext{TraceID: "trace-1", SpanID: "span-9"})
	require.NoError(t, err)

	assert.Equal(t, "POST /v1/traces", gotPath)
	assert.Equal(t, "trace-1", gotTraceHeader)
	assert.Equal(t, "span-9", gotSpanHeader)
	assert.Equal(t, "trace-1", trace.TraceID)
	assert.Equal(t, TraceStatusRunning, trace.Status)
}

func TestUpdateSpanUsesPut(t *testing.T) {
	var gotPath string
	var gotBody SpanUpdate
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeData(t, w, http.StatusOK, Span{SpanID: "span-1", Status: SpanStatusSuccess})
	})

	status := SpanStatusSuccess
	span, err := c.UpdateSpan(context.Background(), "span-1", SpanUpdate{Status: &status})
	require.NoError(t, err)

	assert.Equal(t, "PUT /v1/spans/span-1", gotPath)
	require.NotNil(t, gotBody.Status)
	assert.Equal(t, SpanStatusSuccess, *gotBody.Status)
	assert.Equal(t, SpanStatusSuccess, span.Status)
}

func TestCreateSpanBatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Spans []CreateSpanRequest `json:"spans"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Spans, 2)
		writeData(t, w, http.StatusCreated, SpanBatchResult{
			Created: []Span{{SpanID: "s1"}},
			Failed:  []BatchItemError{{Index: 1, Error: "operation_name is required"}},
		})
	})

	result, err := c.CreateSpanBatch(context.Background(), []CreateSpanRequest{
		{OperationName: "plan", ServiceName: "svc", AgentID: "a"},
		{ServiceName: "svc", AgentID: "a"},
	}, nil)
	require.NoError(t, err)

	assert.Len(t, result.Created, 1)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, 1, result.Failed[0].Index)
}

func TestQueryTracesParamsAndMetrics(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "orchestrator", q.Get("service_name"))
		assert.Equal(t, "error", q.Get("status"))
		assert.Equal(t, "true", q.Get("include_spans"))
		assert.Equal(t, "true", q.Get("include_metrics"))
		assert.Equal(t, "agent-a", q.Get("agent_id"))
		assert.Equal(t, "5", q.Get("limit"))
		assert.Equal(t, "10", q.Get("offset"))

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    []Trace{{TraceID: "t1", Status: TraceStatusError}},
			"metrics": TraceMetrics{TotalTraces: 1, ErrorRate: 100},
			"pagination": Pagination{
				Limit: 5, Offset: 10, Total: 1, HasPrev: true,
			},
		}))
	})

	page, err := c.QueryTraces(context.Background(), TraceQuery{
		ServiceName:    "orchestrator",
		Status:         TraceStatusError,
		Limit:          5,
		Offset:         10,
		IncludeSpans:   true,
		IncludeMetrics: true,
		AgentID:        "agent-a",
	})
	require.NoError(t, err)

	require.Len(t, page.Traces, 1)
	assert.Equal(t, "t1", page.Traces[0].TraceID)
	require.NotNil(t, page.Metrics)
	assert.Equal(t, float64(100), page.Metrics.ErrorRate)
	assert.True(t, page.Pagination.HasPrev)
}

func TestQueryTracesWithoutMetrics(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"success":    true,
			"data":       []Trace{},
			"pagination": Pagination{Limit: 50},
		}))
	})

	page, err := c.QueryTraces(context.Background(), TraceQuery{})
	require.NoError(t, err)
	assert.Nil(t, page.Metrics)
	assert.Empty(t, page.Traces)
}

func TestErrorParsing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   "trace not found: t9",
		}))
	})

	_, err := c.UpdateTrace(context.Background(), "t9", TraceUpdate{})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.ErrorContains(t, err, "trace not found: t9")
}

func TestTokenManagerCachesToken(t *testing.T) {
	var authCalls atomic.Int32
	var lastAuth string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/token" {
			authCalls.Add(1)
			var body authRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "agent-a", body.AgentID)
			assert.Equal(t, "secret", body.APIKey)

			w.Header().Set("Content-Type", "application/json")
			require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data": map[string]any{
					"token":      "tok-123",
					"expires_at": time.Now().Add(time.Hour),
				},
			}))
			return
		}

		lastAuth = r.Header.Get("Authorization")
		writeData(t, w, http.StatusOK, Trace{TraceID: "t1"})
	}))
	t.Cleanup(ts.Close)

	c, err := NewClient(Config{BaseURL: ts.URL, AgentID: "agent-a", APIKey: "secret"})
	require.NoError(t, err)

	_, err = c.UpdateTrace(context.Background(), "t1", TraceUpdate{})
	require.NoError(t, err)
	_, err = c.UpdateTrace(context.Background(), "t1", TraceUpdate{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), authCalls.Load(), "token is cached until expiry")
	assert.Equal(t, "Bearer tok-123", lastAuth)
}

func TestHealthWithoutEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(HealthResponse{
			Status: "ok", Version: "test", Postgres: "ok",
		}))
	})

	health, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Postgres)
}
