package tracemesh

import "time"

// TraceStatus is the lifecycle state of a trace.
type TraceStatus string

// Trace statuses.
const (
	TraceStatusRunning TraceStatus = "running"
	TraceStatusSuccess TraceStatus = "success"
	TraceStatusError   TraceStatus = "error"
	TraceStatusTimeout TraceStatus = "timeout"
)

// SpanStatus is the lifecycle state of a span.
type SpanStatus string

// Span statuses.
const (
	SpanStatusRunning SpanStatus = "running"
	SpanStatusSuccess SpanStatus = "success"
	SpanStatusError   SpanStatus = "error"
	SpanStatusTimeout SpanStatus = "timeout"
)

// A2AStatus is the lifecycle state of an agent-to-agent communication.
type A2AStatus string

// A2A statuses.
const (
	A2AStatusRunning A2AStatus = "running"
	A2AStatusSuccess A2AStatus = "success"
	A2AStatusError   A2AStatus = "error"
	A2AStatusTimeout A2AStatus = "timeout"
)

// LogEntry is one structured log line attached to a span.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Trace is one end-to-end request through the agent mesh.
type Trace struct {
	TraceID        string         `json:"trace_id"`
	RootSpanID     *string        `json:"root_span_id,omitempty"`
	ServiceName    string         `json:"service_name"`
	Status         TraceStatus    `json:"status"`
	StartTime      time.Time      `json:"start_time"`
	EndTime        *time.Time     `json:"end_time,omitempty"`
	DurationMs     int64          `json:"duration_ms"`
	AgentCount     int            `json:"agent_count"`
	ServiceCount   int            `json:"service_count"`
	ContainerCount int            `json:"container_count"`
	ErrorCount     int            `json:"error_count"`
	Metadata       map[string]any `json:"metadata"`
	TotalCost      float64        `json:"total_cost"`
	TotalTokens    int64          `json:"total_tokens"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	// Spans is populated only when the query asked for span enrichment.
	Spans []Span `json:"spans,omitempty"`
}

// Span is one operation executed by one agent within a trace.
type Span struct {
	SpanID            string            `json:"span_id"`
	TraceID           string            `json:"trace_id"`
	ParentSpanID      *string           `json:"parent_span_id,omitempty"`
	OperationName     string            `json:"operation_name"`
	ServiceName       string            `json:"service_name"`
	AgentID           string            `json:"agent_id"`
	AgentType         string            `json:"agent_type"`
	StartTime         time.Time         `json:"start_time"`
	EndTime           *time.Time        `json:"end_time,omitempty"`
	DurationMs        int64             `json:"duration_ms"`
	Status            SpanStatus        `json:"status"`
	CommunicationType string            `json:"communication_type"`
	ContainerID       string            `json:"container_id"`
	Namespace         string            `json:"namespace"`
	Tags              map[string]string `json:"tags"`
	Logs              []LogEntry        `json:"logs"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`

	// Communications is populated only when the query asked for A2A enrichment.
	Communications []A2ACommunication `json:"a2a_communications,omitempty"`
}

// A2ACommunication is one message exchange between two agents.
type A2ACommunication struct {
	ID                string         `json:"id"`
	TraceID           string         `json:"trace_id"`
	SourceAgentID     string         `json:"source_agent_id"`
	TargetAgentID     string         `json:"target_agent_id"`
	SourceSpanID      string         `json:"source_span_id"`
	TargetSpanID      string         `json:"target_span_id"`
	CommunicationType string         `json:"communication_type"`
	Protocol          string         `json:"protocol"`
	Status            A2AStatus      `json:"status"`
	StartTime         time.Time      `json:"start_time"`
	DurationMs        int64          `json:"duration_ms"`
	Payload           map[string]any `json:"payload,omitempty"`
	Response          map[string]any `json:"response,omitempty"`
	ErrorMessage      *string        `json:"error_message,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Pagination describes the page of results returned by one query call.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasNext bool `json:"hasNext"`
	HasPrev bool `json:"hasPrev"`
}

// TraceMetrics aggregates the traces on the returned page.
type TraceMetrics struct {
	TotalTraces      int     `json:"totalTraces"`
	TotalSpans       int     `json:"totalSpans"`
	UniqueAgents     int     `json:"uniqueAgents"`
	UniqueServices   int     `json:"uniqueServices"`
	UniqueContainers int     `json:"uniqueContainers"`
	SuccessRate      float64 `json:"successRate"`
	ErrorRate        float64 `json:"errorRate"`
	AvgDurationMs    float64 `json:"avgDurationMs"`
	AvgSpansPerTrace float64 `json:"avgSpansPerTrace"`
	TotalCost        float64 `json:"totalCost"`
	TotalTokens      int64   `json:"totalTokens"`
	AvgCostPerTrace  float64 `json:"avgCostPerTrace"`
}

// A2AMetrics aggregates the A2A communications on the returned page.
type A2AMetrics struct {
	TotalCommunications      int     `json:"totalCommunications"`
	UniqueCommunicationTypes int     `json:"uniqueCommunicationTypes"`
	UniqueProtocols          int     `json:"uniqueProtocols"`
	UniqueAgentPairs         int     `json:"uniqueAgentPairs"`
	AvgDurationMs            float64 `json:"avgDurationMs"`
	SuccessRate              float64 `json:"successRate"`
	ErrorRate                float64 `json:"errorRate"`
}

// CreateTraceRequest is the body for creating a trace. All fields are
// optional except ServiceName; the server fills defaults.
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

// TraceUpdate is the body for updating a trace. Nil fields are untouched.
type TraceUpdate struct {
	RootSpanID     *string        `json:"root_span_id,omitempty"`
	ServiceName    *string        `json:"service_name,omitempty"`
	Status         *TraceStatus   `json:"status,omitempty"`
	EndTime        *time.Time     `json:"end_time,omitempty"`
	DurationMs     *int64         `json:"duration_ms,omitempty"`
	AgentCount     *int           `json:"agent_count,omitempty"`
	ServiceCount   *int           `json:"service_count,omitempty"`
	ContainerCount *int           `json:"container_count,omitempty"`
	ErrorCount     *int           `json:"error_count,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	TotalCost      *float64       `json:"total_cost,omitempty"`
	TotalTokens    *int64         `json:"total_tokens,omitempty"`
}

// CreateSpanRequest is the body for creating a span.
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

// SpanUpdate is the body for updating a span. Nil fields are untouched;
// Tags and Logs replace the stored values wholesale.
type SpanUpdate struct {
	OperationName *string           `json:"operation_name,omitempty"`
	AgentType     *string           `json:"agent_type,omitempty"`
	Status        *SpanStatus       `json:"status,omitempty"`
	EndTime       *time.Time        `json:"end_time,omitempty"`
	DurationMs    *int64            `json:"duration_ms,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	Logs          []LogEntry        `json:"logs,omitempty"`
}

// BatchItemError reports one failed item of a batch create.
type BatchItemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// SpanBatchResult surfaces which batch items succeeded.
type SpanBatchResult struct {
	Created []Span           `json:"created"`
	Failed  []BatchItemError `json:"failed,omitempty"`
}

// CreateA2ARequest is the body for recording an agent-to-agent
// communication. SourceAgentID, TargetAgentID, and CommunicationType are
// required.
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

// A2AUpdate is the body for updating an A2A communication.
type A2AUpdate struct {
	Status       *A2AStatus     `json:"status,omitempty"`
	DurationMs   *int64         `json:"duration_ms,omitempty"`
	Response     map[string]any `json:"response,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
}

// HealthResponse is the server health report.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}
