package model

import (
	"time"
)

// A2AStatus represents the state of an agent-to-agent exchange.
type A2AStatus string

const (
	A2AStatusRunning A2AStatus = "running"
	A2AStatusSuccess A2AStatus = "success"
	A2AStatusError   A2AStatus = "error"
	A2AStatusTimeout A2AStatus = "timeout"
)

// A2ACommunication is a recorded direct exchange between two agents,
// linked to the caller's span (source) and the callee's span (target).
// The target span always exists once the record is persisted: if the
// caller did not supply one, ingestion synthesizes it first.
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

// A2AUpdate is a partial update applied to an existing A2A record.
// A terminal status (success or error) is propagated to the target span
// by the ingestion service.
type A2AUpdate struct {
	Status       *A2AStatus     `json:"status,omitempty"`
	DurationMs   *int64         `json:"duration_ms,omitempty"`
	Response     map[string]any `json:"response,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
}
