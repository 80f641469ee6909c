package model

import (
	"time"
)

// Default and maximum page sizes per entity type.
const (
	DefaultTraceLimit = 50
	DefaultSpanLimit  = 100
	DefaultA2ALimit   = 100
	MaxLimit          = 1000
)

// TraceFilter holds the optional criteria for trace queries.
// Nil fields contribute no predicate; all present criteria are AND-combined.
type TraceFilter struct {
	TraceID       *string      `json:"trace_id,omitempty"`
	ServiceName   *string      `json:"service_name,omitempty"`
	Status        *TraceStatus `json:"status,omitempty"`
	StartTimeMin  *time.Time   `json:"start_time_min,omitempty"`
	StartTimeMax  *time.Time   `json:"start_time_max,omitempty"`
	DurationMinMs *int64       `json:"duration_min_ms,omitempty"`
	DurationMaxMs *int64       `json:"duration_max_ms,omitempty"`
	HasErrors     bool         `json:"has_errors,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// SpanFilter holds the optional criteria for span queries.
// OperationName is a substring match; everything else is exact.
type SpanFilter struct {
	TraceID           *string     `json:"trace_id,omitempty"`
	SpanID            *string     `json:"span_id,omitempty"`
	ParentSpanID      *string     `json:"parent_span_id,omitempty"`
	OperationName     *string     `json:"operation_name,omitempty"`
	ServiceName       *string     `json:"service_name,omitempty"`
	AgentID           *string     `json:"agent_id,omitempty"`
	AgentType         *string     `json:"agent_type,omitempty"`
	Status            *SpanStatus `json:"status,omitempty"`
	CommunicationType *string     `json:"communication_type,omitempty"`
	ContainerID       *string     `json:"container_id,omitempty"`
	Namespace         *string     `json:"namespace,omitempty"`
	StartTimeMin      *time.Time  `json:"start_time_min,omitempty"`
	StartTimeMax      *time.Time  `json:"start_time_max,omitempty"`
	EndTimeMin        *time.Time  `json:"end_time_min,omitempty"`
	EndTimeMax        *time.Time  `json:"end_time_max,omitempty"`
	DurationMinMs     *int64      `json:"duration_min_ms,omitempty"`
	DurationMaxMs     *int64      `json:"duration_max_ms,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// A2AFilter holds the optional criteria for A2A communication queries.
type A2AFilter struct {
	TraceID           *string    `json:"trace_id,omitempty"`
	SourceAgentID     *string    `json:"source_agent_id,omitempty"`
	TargetAgentID     *string    `json:"target_agent_id,omitempty"`
	CommunicationType *string    `json:"communication_type,omitempty"`
	Protocol          *string    `json:"protocol,omitempty"`
	Status            *A2AStatus `json:"status,omitempty"`
	StartTimeMin      *time.Time `json:"start_time_min,omitempty"`
	StartTimeMax      *time.Time `json:"start_time_max,omitempty"`
	DurationMinMs     *int64     `json:"duration_min_ms,omitempty"`
	DurationMaxMs     *int64     `json:"duration_max_ms,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// SpanCriteria narrows which spans are attached during trace enrichment.
// Zero-value fields attach everything for the trace.
type SpanCriteria struct {
	AgentID           *string `json:"agent_id,omitempty"`
	AgentType         *string `json:"agent_type,omitempty"`
	CommunicationType *string `json:"communication_type,omitempty"`
	ContainerID       *string `json:"container_id,omitempty"`
	Namespace         *string `json:"namespace,omitempty"`
}
