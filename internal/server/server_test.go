package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracemesh/tracemesh/internal/auth"
	"github.com/tracemesh/tracemesh/internal/model"
	"github.com/tracemesh/tracemesh/internal/propagation"
	"github.com/tracemesh/tracemesh/internal/ratelimit"
	"github.com/tracemesh/tracemesh/internal/server"
	"github.com/tracemesh/tracemesh/internal/service/ingest"
	"github.com/tracemesh/tracemesh/internal/service/query"
	"github.com/tracemesh/tracemesh/internal/testutil"
)

func newTestServer(t *testing.T, opts ...func(*server.Config)) (*httptest.Server, *testutil.MemStore) {
	t.Helper()
	store := testutil.NewMemStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := server.Config{
		IngestSvc:           ingest.New(store, logger),
		QuerySvc:            query.New(store, logger),
		Logger:              logger,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ts := httptest.NewServer(server.New(cfg).Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, data
}

func TestCreateTraceEndpoint(t *testing.T) {
	ts, store := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/traces",
		map[string]any{"service_name": "orchestrator"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var envelope struct {
		Success bool        `json:"success"`
		Data    model.Trace `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.True(t, envelope.Success)
	assert.NotEmpty(t, envelope.Data.TraceID)
	assert.Equal(t, model.TraceStatusRunning, envelope.Data.Status)
	assert.Len(t, store.Traces, 1)
}

func TestCreateSpanWithPropagationHeaders(t *testing.T) {
	ts, store := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/spans",
		map[string]any{"operation_name": "plan_route", "agent_id": "agent-a"},
		map[string]string{
			propagation.HeaderTraceID: "trace-77",
			propagation.HeaderSpanID:  "span-parent",
		})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var envelope struct {
		Data model.Span `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.Equal(t, "trace-77", envelope.Data.TraceID)
	require.NotNil(t, envelope.Data.ParentSpanID)
	assert.Equal(t, "span-parent", *envelope.Data.ParentSpanID)

	_, ok := store.Traces["trace-77"]
	assert.True(t, ok, "trace auto-created from first span")
}

func TestCreateSpanBatchEndpoint(t *testing.T) {
	ts, store := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/spans",
		map[string]any{"spans": []map[string]any{
			{"operation_name": "one", "agent_id": "a"},
			{"operation_name": "two", "agent_id": "b"},
		}}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var envelope struct {
		Data model.SpanBatchResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.Len(t, envelope.Data.Created, 2)
	assert.Empty(t, envelope.Data.Failed)
	assert.Len(t, store.Spans, 2)
}

func TestCreateA2AValidationError(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/a2a",
		map[string]any{"target_agent_id": "b", "communication_type": "delegate"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var envelope model.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.False(t, envelope.Success)
	assert.Contains(t, envelope.Error, "source_agent_id")
}

func TestUpdateTraceNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPut, ts.URL+"/v1/traces/missing",
		map[string]any{"status": "success"}, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var envelope model.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.False(t, envelope.Success)
	assert.Contains(t, envelope.Error, "trace not found")
}

func TestUpdateA2APropagatesToTargetSpan(t *testing.T) {
	ts, store := newTestServer(t)

	_, createBody := doJSON(t, http.MethodPost, ts.URL+"/v1/a2a", map[string]any{
		"source_agent_id":    "agent-a",
		"target_agent_id":    "agent-b",
		"communication_type": "delegate",
	}, nil)
	var created struct {
		Data model.A2ACommunication `json:"data"`
	}
	require.NoError(t, json.Unmarshal(createBody, &created))

	resp, _ := doJSON(t, http.MethodPut, ts.URL+"/v1/a2a/"+created.Data.ID,
		map[string]any{"status": "success", "duration_ms": 120}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	span := store.Spans[created.Data.TargetSpanID]
	assert.Equal(t, model.SpanStatusSuccess, span.Status)
	assert.Equal(t, int64(120), span.DurationMs)
}

func TestQueryTracesEnvelope(t *testing.T) {
	ts, store := newTestServer(t)
	now := time.Now().UTC()
	store.Traces["t1"] = model.Trace{
		TraceID: "t1", ServiceName: "svc", Status: model.TraceStatusSuccess,
		StartTime: now, DurationMs: 50,
	}
	store.Spans["s1"] = model.Span{
		SpanID: "s1", TraceID: "t1", AgentID: "agent-a", StartTime: now,
	}

	resp, body := doJSON(t, http.MethodGet,
		ts.URL+"/v1/traces?include_spans=true&include_metrics=true", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.Contains(t, envelope, "success")
	assert.Contains(t, envelope, "data")
	assert.Contains(t, envelope, "metrics")
	assert.Contains(t, envelope, "pagination")

	var pagination model.Pagination
	require.NoError(t, json.Unmarshal(envelope["pagination"], &pagination))
	assert.Equal(t, 1, pagination.Total)
	assert.False(t, pagination.HasNext)

	var metrics model.TraceMetrics
	require.NoError(t, json.Unmarshal(envelope["metrics"], &metrics))
	assert.Equal(t, 1, metrics.TotalTraces)
	assert.Equal(t, 1, metrics.TotalSpans)
	assert.InDelta(t, 100.0, metrics.SuccessRate, 0.001)
}

func TestQueryTracesOmitsMetricsWhenNotRequested(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/traces", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.NotContains(t, envelope, "metrics")
}

func TestQuerySpansBadParam(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet,
		ts.URL+"/v1/spans?start_time_min=yesterday", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var envelope model.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.Contains(t, envelope.Error, "start_time_min")
}

func TestQueryA2AStripsPayloads(t *testing.T) {
	ts, store := newTestServer(t)
	store.A2A["c1"] = model.A2ACommunication{
		ID: "c1", TraceID: "t1", SourceAgentID: "a", TargetAgentID: "b",
		CommunicationType: "delegate", Status: model.A2AStatusSuccess,
		StartTime: time.Now().UTC(),
		Payload:   map[string]any{"secret": "value"},
	}

	_, body := doJSON(t, http.MethodGet, ts.URL+"/v1/a2a", nil, nil)
	assert.NotContains(t, string(body), "secret")

	_, body = doJSON(t, http.MethodGet, ts.URL+"/v1/a2a?include_payloads=true", nil, nil)
	assert.Contains(t, string(body), "secret")
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health model.HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
}

func TestRequestIDHeader(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/health", nil, nil)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/health", nil,
		map[string]string{"X-Request-ID": "req-42"})
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
}

func TestAuthFlow(t *testing.T) {
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	keyHash, err := auth.HashAPIKey("tm_secret")
	require.NoError(t, err)

	ts, _ := newTestServer(t, func(cfg *server.Config) {
		cfg.JWTMgr = jwtMgr
		cfg.APIKeyHash = keyHash
	})

	t.Run("request without token is rejected", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodGet, ts.URL+"/v1/traces", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("health stays open", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodGet, ts.URL+"/health", nil, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("wrong api key is rejected", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, ts.URL+"/auth/token",
			map[string]any{"agent_id": "agent-a", "api_key": "wrong"}, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("token exchange grants access", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPost, ts.URL+"/auth/token",
			map[string]any{"agent_id": "agent-a", "api_key": "tm_secret"}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var tokenResp model.AuthTokenResponse
		require.NoError(t, json.Unmarshal(body, &tokenResp))
		require.NotEmpty(t, tokenResp.Token)

		resp, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/traces", nil,
			map[string]string{"Authorization": "Bearer " + tokenResp.Token})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestRateLimiting(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.001, 2)
	t.Cleanup(func() { _ = limiter.Close() })

	ts, _ := newTestServer(t, func(cfg *server.Config) {
		cfg.RateLimiter = limiter
	})

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Contains(t, string(body), "too many requests")
}
