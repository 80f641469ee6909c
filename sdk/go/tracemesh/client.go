package tracemesh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Propagation header names. Forward both on every hop so downstream agents
// join the same trace.
const (
	HeaderTraceID = "X-Trace-ID"
	HeaderSpanID  = "X-Span-ID"
)

// TraceContext carries the ambient trace identity across service hops.
// Pass it to Create methods to have the server inherit the IDs instead of
// generating fresh ones.
type TraceContext struct {
	TraceID string
	SpanID  string
}

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the tracemesh server (e.g. "http://localhost:8080").
	BaseURL string

	// AgentID identifies this agent for authentication.
	AgentID string

	// APIKey is the secret used to obtain a JWT token. Leave empty when the
	// server runs with authentication disabled.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the tracemesh tracing API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty, or if APIKey is set without AgentID.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("tracemesh: BaseURL is required")
	}
	if cfg.APIKey != "" && cfg.AgentID == "" {
		return nil, fmt.Errorf("tracemesh: AgentID is required when APIKey is set")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		baseURL: baseURL,
		client:  httpClient,
	}
	if cfg.APIKey != "" {
		c.tokenMgr = newTokenManager(baseURL, cfg.AgentID, cfg.APIKey, httpClient)
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// Ingestion
// ---------------------------------------------------------------------------

// CreateTrace creates a trace. When tc carries a trace ID the server joins
// the propagated trace instead of starting a new one.
func (c *Client) CreateTrace(ctx context.Context, req CreateTraceRequest, tc *TraceContext) (*Trace, error) {
	var trace Trace
	if err := c.post(ctx, "/v1/traces", req, tc, &trace); err != nil {
		return nil, err
	}
	return &trace, nil
}

// UpdateTrace applies a partial update to an existing trace.
func (c *Client) UpdateTrace(ctx context.Context, traceID string, upd TraceUpdate) (*Trace, error) {
	var trace Trace
	if err := c.put(ctx, "/v1/traces/"+url.PathEscape(traceID), upd, &trace); err != nil {
		return nil, err
	}
	return &trace, nil
}

// CreateSpan creates a single span. Missing trace context is inherited
// from tc; the server auto-creates the owning trace if needed.
func (c *Client) CreateSpan(ctx context.Context, req CreateSpanRequest, tc *TraceContext) (*Span, error) {
	var span Span
	if err := c.post(ctx, "/v1/spans", req, tc, &span); err != nil {
		return nil, err
	}
	return &span, nil
}

// CreateSpanBatch creates several spans in one call. Items are processed
// independently; check the Failed slice for per-item errors.
func (c *Client) CreateSpanBatch(ctx context.Context, spans []CreateSpanRequest, tc *TraceContext) (*SpanBatchResult, error) {
	body := map[string]any{"spans": spans}
	var result SpanBatchResult
	if err := c.post(ctx, "/v1/spans", body, tc, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateSpan applies a partial update to an existing span.
func (c *Client) UpdateSpan(ctx context.Context, spanID string, upd SpanUpdate) (*Span, error) {
	var span Span
	if err := c.put(ctx, "/v1/spans/"+url.PathEscape(spanID), upd, &span); err != nil {
		return nil, err
	}
	return &span, nil
}

// CreateA2A records an agent-to-agent communication. When no target span is
// given the server synthesizes a receive span on the target agent.
func (c *Client) CreateA2A(ctx context.Context, req CreateA2ARequest, tc *TraceContext) (*A2ACommunication, error) {
	var comm A2ACommunication
	if err := c.post(ctx, "/v1/a2a", req, tc, &comm); err != nil {
		return nil, err
	}
	return &comm, nil
}

// UpdateA2A applies a partial update to an A2A communication. Terminal
// statuses propagate to the target span server-side.
func (c *Client) UpdateA2A(ctx context.Context, id string, upd A2AUpdate) (*A2ACommunication, error) {
	var comm A2ACommunication
	if err := c.put(ctx, "/v1/a2a/"+url.PathEscape(id), upd, &comm); err != nil {
		return nil, err
	}
	return &comm, nil
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// TraceQuery holds the filters and enrichment switches for QueryTraces.
// Zero values are omitted from the request.
type TraceQuery struct {
	TraceID       string
	ServiceName   string
	Status        TraceStatus
	HasErrors     bool
	StartTimeMin  *time.Time
	StartTimeMax  *time.Time
	DurationMinMs *int64
	DurationMaxMs *int64
	Limit         int
	Offset        int

	IncludeSpans    bool
	IncludeA2A      bool
	IncludePayloads bool
	IncludeMetrics  bool

	// Span criteria, applied only when IncludeSpans is set.
	AgentID           string
	AgentType         string
	CommunicationType string
	ContainerID       string
	Namespace         string
}

// TracesPage is one page of trace query results.
type TracesPage struct {
	Traces     []Trace
	Metrics    *TraceMetrics
	Pagination Pagination
}

// QueryTraces retrieves traces with optional enrichment and metrics.
func (c *Client) QueryTraces(ctx context.Context, q TraceQuery) (*TracesPage, error) {
	params := url.Values{}
	setStr(params, "trace_id", q.TraceID)
	setStr(params, "service_name", q.ServiceName)
	setStr(params, "status", string(q.Status))
	setBool(params, "has_errors", q.HasErrors)
	setTime(params, "start_time_min", q.StartTimeMin)
	setTime(params, "start_time_max", q.StartTimeMax)
	setInt64(params, "duration_min_ms", q.DurationMinMs)
	setInt64(params, "duration_max_ms", q.DurationMaxMs)
	setPage(params, q.Limit, q.Offset)
	setBool(params, "include_spans", q.IncludeSpans)
	setBool(params, "include_a2a", q.IncludeA2A)
	setBool(params, "include_payloads", q.IncludePayloads)
	setBool(params, "include_metrics", q.IncludeMetrics)
	if q.IncludeSpans {
		setStr(params, "agent_id", q.AgentID)
		setStr(params, "agent_type", q.AgentType)
		setStr(params, "communication_type", q.CommunicationType)
		setStr(params, "container_id", q.ContainerID)
		setStr(params, "namespace", q.Namespace)
	}

	var page TracesPage
	metrics := &TraceMetrics{}
	got, err := c.getPage(ctx, "/v1/traces", params, &page.Traces, metrics, &page.Pagination)
	if err != nil {
		return nil, err
	}
	if got {
		page.Metrics = metrics
	}
	return &page, nil
}

// SpanQuery holds the filters for QuerySpans.
type SpanQuery struct {
	TraceID           string
	SpanID            string
	ParentSpanID      string
	OperationName     string
	ServiceName       string
	AgentID           string
	AgentType         string
	Status            SpanStatus
	CommunicationType string
	ContainerID       string
	Namespace         string
	StartTimeMin      *time.Time
	StartTimeMax      *time.Time
	EndTimeMin        *time.Time
	EndTimeMax        *time.Time
	DurationMinMs     *int64
	DurationMaxMs     *int64
	Limit             int
	Offset            int

	IncludeA2A      bool
	IncludePayloads bool
}

// SpansPage is one page of span query results.
type SpansPage struct {
	Spans      []Span
	Pagination Pagination
}

// QuerySpans retrieves spans with optional A2A enrichment.
func (c *Client) QuerySpans(ctx context.Context, q SpanQuery) (*SpansPage, error) {
	params := url.Values{}
	setStr(params, "trace_id", q.TraceID)
	setStr(params, "span_id", q.SpanID)
	setStr(params, "parent_span_id", q.ParentSpanID)
	setStr(params, "operation_name", q.OperationName)
	setStr(params, "service_name", q.ServiceName)
	setStr(params, "agent_id", q.AgentID)
	setStr(params, "agent_type", q.AgentType)
	setStr(params, "status", string(q.Status))
	setStr(params, "communication_type", q.CommunicationType)
	setStr(params, "container_id", q.ContainerID)
	setStr(params, "namespace", q.Namespace)
	setTime(params, "start_time_min", q.StartTimeMin)
	setTime(params, "start_time_max", q.StartTimeMax)
	setTime(params, "end_time_min", q.EndTimeMin)
	setTime(params, "end_time_max", q.EndTimeMax)
	setInt64(params, "duration_min_ms", q.DurationMinMs)
	setInt64(params, "duration_max_ms", q.DurationMaxMs)
	setPage(params, q.Limit, q.Offset)
	setBool(params, "include_a2a", q.IncludeA2A)
	setBool(params, "include_payloads", q.IncludePayloads)

	var page SpansPage
	if _, err := c.getPage(ctx, "/v1/spans", params, &page.Spans, nil, &page.Pagination); err != nil {
		return nil, err
	}
	return &page, nil
}

// A2AQuery holds the filters for QueryA2A.
type A2AQuery struct {
	TraceID           string
	SourceAgentID     string
	TargetAgentID     string
	CommunicationType string
	Protocol          string
	Status            A2AStatus
	StartTimeMin      *time.Time
	StartTimeMax      *time.Time
	Limit             int
	Offset            int

	IncludePayloads bool
	IncludeMetrics  bool
}

// A2APage is one page of A2A query results.
type A2APage struct {
	Communications []A2ACommunication
	Metrics        *A2AMetrics
	Pagination     Pagination
}

// QueryA2A retrieves A2A communications with optional metrics. Payload and
// response bodies are stripped unless IncludePayloads is set.
func (c *Client) QueryA2A(ctx context.Context, q A2AQuery) (*A2APage, error) {
	params := url.Values{}
	setStr(params, "trace_id", q.TraceID)
	setStr(params, "source_agent_id", q.SourceAgentID)
	setStr(params, "target_agent_id", q.TargetAgentID)
	setStr(params, "communication_type", q.CommunicationType)
	setStr(params, "protocol", q.Protocol)
	setStr(params, "status", string(q.Status))
	setTime(params, "start_time_min", q.StartTimeMin)
	setTime(params, "start_time_max", q.StartTimeMax)
	setPage(params, q.Limit, q.Offset)
	setBool(params, "include_payloads", q.IncludePayloads)
	setBool(params, "include_metrics", q.IncludeMetrics)

	var page A2APage
	metrics := &A2AMetrics{}
	got, err := c.getPage(ctx, "/v1/a2a", params, &page.Communications, metrics, &page.Pagination)
	if err != nil {
		return nil, err
	}
	if got {
		page.Metrics = metrics
	}
	return &page, nil
}

// Health checks the server's health status. This endpoint does not require
// authentication and will work even if the client has invalid credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("tracemesh: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracemesh: GET /health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var health HealthResponse
	if err := handleResponse(resp, &health, nil, nil); err != nil {
		return nil, err
	}
	return &health, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data       json.RawMessage `json:"data"`
	Metrics    json.RawMessage `json:"metrics"`
	Pagination *Pagination     `json:"pagination"`
}

// apiErrorEnvelope is the server's standard error wrapper.
type apiErrorEnvelope struct {
	Error string `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, tc *TraceContext, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("tracemesh: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("tracemesh: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tc != nil {
		if tc.TraceID != "" {
			req.Header.Set(HeaderTraceID, tc.TraceID)
		}
		if tc.SpanID != "" {
			req.Header.Set(HeaderSpanID, tc.SpanID)
		}
	}

	return c.doRequest(ctx, req, dest, nil, nil)
}

func (c *Client) put(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("tracemesh: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("tracemesh: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest, nil, nil)
}

// getPage performs a GET and decodes data, metrics (when present), and
// pagination. Returns whether the response carried a metrics object.
func (c *Client) getPage(ctx context.Context, path string, params url.Values, dest, metrics any, pagination *Pagination) (bool, error) {
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("tracemesh: create request: %w", err)
	}

	gotMetrics := false
	err = c.doRequest(ctx, req, dest, func(raw json.RawMessage) error {
		if metrics == nil || raw == nil || string(raw) == "null" {
			return nil
		}
		gotMetrics = true
		return json.Unmarshal(raw, metrics)
	}, pagination)
	return gotMetrics, err
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any, metricsFn func(json.RawMessage) error, pagination *Pagination) error {
	if c.tokenMgr != nil {
		token, err := c.tokenMgr.getToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("tracemesh: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest, metricsFn, pagination)
}

func handleResponse(resp *http.Response, dest any, metricsFn func(json.RawMessage) error, pagination *Pagination) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("tracemesh: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if dest == nil {
		return nil
	}

	// Unwrap the server's { "success": ..., "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("tracemesh: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints (health) do not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		return fmt.Errorf("tracemesh: decode response data: %w", err)
	}
	if metricsFn != nil {
		if err := metricsFn(envelope.Metrics); err != nil {
			return fmt.Errorf("tracemesh: decode response metrics: %w", err)
		}
	}
	if pagination != nil && envelope.Pagination != nil {
		*pagination = *envelope.Pagination
	}
	return nil
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		apiErr.Message = envelope.Error
	} else {
		apiErr.Message = string(body)
	}

	return apiErr
}

// ---------------------------------------------------------------------------
// Query parameter helpers
// ---------------------------------------------------------------------------

func setStr(params url.Values, key, val string) {
	if val != "" {
		params.Set(key, val)
	}
}

func setBool(params url.Values, key string, val bool) {
	if val {
		params.Set(key, "true")
	}
}

func setTime(params url.Values, key string, val *time.Time) {
	if val != nil {
		params.Set(key, val.UTC().Format(time.RFC3339Nano))
	}
}

func setInt64(params url.Values, key string, val *int64) {
	if val != nil {
		params.Set(key, strconv.FormatInt(*val, 10))
	}
}

func setPage(params url.Values, limit, offset int) {
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
}
