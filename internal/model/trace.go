// Package model defines the core domain types for tracemesh.
//
// All types correspond directly to database tables and API payloads.
// Entity ids are caller-suppliable strings so that trace ids propagated
// from other services are accepted verbatim.
package model

import (
	"time"
)

// TraceStatus represents the lifecycle state of a trace.
// A trace stays running until explicitly finalized.
type TraceStatus string

const (
	TraceStatusRunning TraceStatus = "running"
	TraceStatusSuccess TraceStatus = "success"
	TraceStatusError   TraceStatus = "error"
	TraceStatusTimeout TraceStatus = "timeout"
)

// Trace is the complete causal record of one end-to-end operation
// across agents and services.
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

	// Spans is populated by enrichment when the caller requests it.
	// Never stored on the trace row itself.
	Spans []Span `json:"spans,omitempty"`
}

// TraceUpdate is a partial update applied to an existing trace.
// Nil fields are left untouched; Metadata is merged into the stored map.
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
