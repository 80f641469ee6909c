package model

import (
	"time"
)

// Pagination describes the page of results returned by one query call.
// HasNext is a cheap heuristic (page is full), not an exact count;
// Total is the number of rows in this page.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasNext bool `json:"hasNext"`
	HasPrev bool `json:"hasPrev"`
}

// QueryResponse is the envelope for all query endpoints.
type QueryResponse struct {
	Success    bool       `json:"success"`
	Data       any        `json:"data"`
	Metrics    any        `json:"metrics,omitempty"`
	Pagination Pagination `json:"pagination"`
}

// IngestResponse is the envelope for all ingest endpoints.
type IngestResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// ErrorResponse is the envelope for all failures. No raw stack trace or
// partial body ever crosses the API boundary.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// CreateTraceRequest is the request body for POST /v1/traces.
type CreateTraceRequest struct {
	TraceID        *string        `json:"trace_id,omitempty"`
	RootSpanID     *string        `json:"root_span_id,omitempty"`
	ServiceName    string         `json:"service_name"`
	Status         *TraceStatus   `json:"status,omitempty"`
	StartTime      *time.Time     `json:"start_time,omitempty"`
	EndTime        *time.Time     `json:"end_time,omitempty"`
	DurationMs     int64          `json:"duration_ms,omitempty"`
	AgentCount     int            `json:"agent_count,omitempty"`
	ServiceCount   *int           `json:"service_count,omitempty"`
	ContainerCount int            `json:"container_count,omitempty"`
	ErrorCount     int            `json:"error_count,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	TotalCost      float64        `json:"total_cost,omitempty"`
	TotalTokens    int64          `json:"total_tokens,omitempty"`
}

// CreateSpanRequest is the request body for POST /v1/spans (single form)
// and each element of the batch form.
type CreateSpanRequest struct {
	SpanID            *string           `json:"span_id,omitempty"`
	TraceID           *string           `json:"trace_id,omitempty"`
	ParentSpanID      *string           `json:"parent_span_id,omitempty"`
	OperationName     string            `json:"operation_name"`
	ServiceName       string            `json:"service_name"`
	AgentID           string            `json:"agent_id"`
	AgentType         string            `json:"agent_type,omitempty"`
	StartTime         *time.Time        `json:"start_time,omitempty"`
	EndTime           *time.Time        `json:"end_time,omitempty"`
	DurationMs        int64             `json:"duration_ms,omitempty"`
	Status            *SpanStatus       `json:"status,omitempty"`
	CommunicationType string            `json:"communication_type,omitempty"`
	ContainerID       string            `json:"container_id,omitempty"`
	Namespace         string            `json:"namespace,omitempty"`
	Tags              map[string]string `json:"tags,omitempty"`
	Logs              []LogEntry        `json:"logs,omitempty"`
}

// SpanBatchRequest is the batch form of POST /v1/spans.
type SpanBatchRequest struct {
	Spans []CreateSpanRequest `json:"spans"`
}

// BatchItemError reports one failed item of a batch create.
type BatchItemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// SpanBatchResult surfaces which batch items succeeded. Batch creation is
// not atomic: items are processed independently and a mid-batch failure
// leaves earlier items persisted.
type SpanBatchResult struct {
	Created []Span           `json:"created"`
	Failed  []BatchItemError `json:"failed,omitempty"`
}

// CreateA2ARequest is the request body for POST /v1/a2a.
// SourceAgentID, TargetAgentID, and CommunicationType are required.
type CreateA2ARequest struct {
	ID                *string        `json:"id,omitempty"`
	TraceID           *string        `json:"trace_id,omitempty"`
	SourceAgentID     string         `json:"source_agent_id"`
	TargetAgentID     string         `json:"target_agent_id"`
	SourceSpanID      *string        `json:"source_span_id,omitempty"`
	TargetSpanID      *string        `json:"target_span_id,omitempty"`
	CommunicationType string         `json:"communication_type"`
	Protocol          string         `json:"protocol,omitempty"`
	Status            *A2AStatus     `json:"status,omitempty"`
	StartTime         *time.Time     `json:"start_time,omitempty"`
	DurationMs        int64          `json:"duration_ms,omitempty"`
	Payload           map[string]any `json:"payload,omitempty"`
	Response          map[string]any `json:"response,omitempty"`
	ErrorMessage      *string        `json:"error_message,omitempty"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}
