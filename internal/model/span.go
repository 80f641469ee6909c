package model

import (
	"time"
)

// SpanStatus follows the same three-way terminal scheme as traces.
type SpanStatus string

const (
	SpanStatusRunning SpanStatus = "running"
	SpanStatusSuccess SpanStatus = "success"
	SpanStatusError   SpanStatus = "error"
	SpanStatusTimeout SpanStatus = "timeout"
)

// LogEntry is one entry in a span's ordered log list.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Span is one unit of work within a trace, optionally nested under a
// parent span. ParentSpanID is nil for root spans.
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

	// Communications is populated by enrichment when the caller requests
	// it: every A2A record where this span is the source or the target.
	Communications []A2ACommunication `json:"a2a_communications,omitempty"`
}

// SpanUpdate is a partial update applied to an existing span.
// Tags and Logs replace the stored value wholesale when non-nil.
type SpanUpdate struct {
	OperationName *string           `json:"operation_name,omitempty"`
	AgentType     *string           `json:"agent_type,omitempty"`
	Status        *SpanStatus       `json:"status,omitempty"`
	EndTime       *time.Time        `json:"end_time,omitempty"`
	DurationMs    *int64            `json:"duration_ms,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	Logs          []LogEntry        `json:"logs,omitempty"`
}
