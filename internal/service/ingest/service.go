// Package ingest implements the ingestion service: it accepts new traces,
// spans (single or batch), and A2A communications, applies defaulting and
// validation, and performs the cross-entity side effects (trace
// auto-creation, A2A target-span synthesis, terminal-status propagation).
//
// Every call is stateless and handled independently; all cross-entity
// consistency is delegated to the store's per-statement atomicity.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tracemesh/tracemesh/internal/model"
	"github.com/tracemesh/tracemesh/internal/propagation"
	"github.com/tracemesh/tracemesh/internal/storage"
)

// Store is the entity-store contract the ingestion service writes through.
// *storage.DB satisfies it; tests use an in-memory fake.
type Store interface {
	InsertTrace(ctx context.Context, t model.Trace) error
	EnsureTrace(ctx context.Context, t model.Trace) error
	GetTrace(ctx context.Context, traceID string) (model.Trace, error)
	UpdateTrace(ctx context.Context, traceID string, upd model.TraceUpdate) (model.Trace, error)
	InsertSpan(ctx context.Context, s model.Span) error
	GetSpan(ctx context.Context, spanID string) (model.Span, error)
	UpdateSpan(ctx context.Context, spanID string, upd model.SpanUpdate) (model.Span, error)
	InsertA2A(ctx context.Context, c model.A2ACommunication) error
	GetA2A(ctx context.Context, id string) (model.A2ACommunication, error)
	UpdateA2A(ctx context.Context, id string, upd model.A2AUpdate) (model.A2ACommunication, error)
}

// Service is the ingestion service.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source. Tests use this to supply
// deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates an ingestion service.
func New(store Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTrace records a new trace. When propagated context carries a trace
// id (or the caller supplies one) that already resolves, the existing trace
// is returned and no second row is created.
func (s *Service) CreateTrace(ctx context.Context, req model.CreateTraceRequest, tc *propagation.Context) (model.Trace, error) {
	now := s.now()

	traceID := ""
	switch {
	case req.TraceID != nil && *req.TraceID != "":
		traceID = *req.TraceID
	case tc != nil:
		traceID = tc.TraceID
	}
	supplied := traceID != ""
	if !supplied {
		traceID = uuid.NewString()
	}

	status := model.TraceStatusRunning
	if req.Status != nil {
		status = *req.Status
	}
	startTime := now
	if req.StartTime != nil {
		startTime = *req.StartTime
	}
	serviceCount := 1
	if req.ServiceCount != nil {
		serviceCount = *req.ServiceCount
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	t := model.Trace{
		TraceID:        traceID,
		RootSpanID:     req.RootSpanID,
		ServiceName:    req.ServiceName,
		Status:         status,
		StartTime:      startTime,
		EndTime:        req.EndTime,
		DurationMs:     req.DurationMs,
		AgentCount:     req.AgentCount,
		ServiceCount:   serviceCount,
		ContainerCount: req.ContainerCount,
		ErrorCount:     req.ErrorCount,
		Metadata:       metadata,
		TotalCost:      req.TotalCost,
		TotalTokens:    req.TotalTokens,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	// A supplied id may continue a trace another agent is creating at this
	// moment. Insert-if-absent, then read back whichever row won; a plain
	// insert would surface a duplicate-key error to the losing writer.
	if supplied {
		if err := s.store.EnsureTrace(ctx, t); err != nil {
			return model.Trace{}, fmt.Errorf("ingest: create trace: %w", err)
		}
		stored, err := s.store.GetTrace(ctx, traceID)
		if err != nil {
			return model.Trace{}, fmt.Errorf("ingest: create trace: %w", err)
		}
		return stored, nil
	}

	if err := s.store.InsertTrace(ctx, t); err != nil {
		return model.Trace{}, fmt.Errorf("ingest: create trace: %w", err)
	}
	return t, nil
}

// CreateSpan records one unit of agent work. Trace and parent span ids are
// inherited from propagated context when the request omits them; the owning
// trace row is created on first activity for a new trace id.
func (s *Service) CreateSpan(ctx context.Context, req model.CreateSpanRequest, tc *propagation.Context) (model.Span, error) {
	now := s.now()

	spanID := uuid.NewString()
	if req.SpanID != nil && *req.SpanID != "" {
		spanID = *req.SpanID
	}

	traceID := ""
	if req.TraceID != nil && *req.TraceID != "" {
		traceID = *req.TraceID
	} else if tc != nil {
		traceID = tc.TraceID
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}

	parentSpanID := req.ParentSpanID
	if parentSpanID == nil && tc != nil && tc.SpanID != "" {
		parent := tc.SpanID
		parentSpanID = &parent
	}

	status := model.SpanStatusRunning
	if req.Status != nil {
		status = *req.Status
	}
	startTime := now
	if req.StartTime != nil {
		startTime = *req.StartTime
	}
	tags := req.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	logs := req.Logs
	if logs == nil {
		logs = []model.LogEntry{}
	}

	span := model.Span{
		SpanID:            spanID,
		TraceID:           traceID,
		ParentSpanID:      parentSpanID,
		OperationName:     req.OperationName,
		ServiceName:       req.ServiceName,
		AgentID:           req.AgentID,
		AgentType:         req.AgentType,
		StartTime:         startTime,
		EndTime:           req.EndTime,
		DurationMs:        req.DurationMs,
		Status:            status,
		CommunicationType: req.CommunicationType,
		ContainerID:       req.ContainerID,
		Namespace:         req.Namespace,
		Tags:              tags,
		Logs:              logs,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.ensureTrace(ctx, traceID, req.ServiceName, startTime, now); err != nil {
		return model.Span{}, err
	}
	if err := s.store.InsertSpan(ctx, span); err != nil {
		return model.Span{}, fmt.Errorf("ingest: create span: %w", err)
	}
	return span, nil
}

// CreateSpanBatch records a batch of spans. Items are processed
// independently: each inherits trace/parent ids from context on its own,
// and a failing item never affects its siblings. There is no all-or-nothing
// guarantee; the result surfaces which items succeeded.
func (s *Service) CreateSpanBatch(ctx context.Context, reqs []model.CreateSpanRequest, tc *propagation.Context) (model.SpanBatchResult, error) {
	var result model.SpanBatchResult
	for i, req := range reqs {
		span, err := s.CreateSpan(ctx, req, tc)
		if err != nil {
			s.logger.Warn("ingest: batch span item failed", "index", i, "error", err)
			result.Failed = append(result.Failed, model.BatchItemError{Index: i, Error: err.Error()})
			continue
		}
		result.Created = append(result.Created, span)
	}
	return result, nil
}

// CreateA2A records a direct agent-to-agent exchange. Source agent id,
// target agent id, and communication type are required. When the caller
// supplies no target span id, a receiving span is synthesized for the
// target agent before the A2A row is written. The two writes are not one
// transaction: a crash in between leaves the synthesized span without an
// owning A2A record, which callers must tolerate.
func (s *Service) CreateA2A(ctx context.Context, req model.CreateA2ARequest, tc *propagation.Context) (model.A2ACommunication, error) {
	if req.SourceAgentID == "" {
		return model.A2ACommunication{}, requiredField("source_agent_id")
	}
	if req.TargetAgentID == "" {
		return model.A2ACommunication{}, requiredField("target_agent_id")
	}
	if req.CommunicationType == "" {
		return model.A2ACommunication{}, requiredField("communication_type")
	}

	now := s.now()

	id := uuid.NewString()
	if req.ID != nil && *req.ID != "" {
		id = *req.ID
	}

	traceID := ""
	if req.TraceID != nil && *req.TraceID != "" {
		traceID = *req.TraceID
	} else if tc != nil {
		traceID = tc.TraceID
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}

	sourceSpanID := ""
	if req.SourceSpanID != nil && *req.SourceSpanID != "" {
		sourceSpanID = *req.SourceSpanID
	} else if tc != nil {
		sourceSpanID = tc.SpanID
	}

	status := model.A2AStatusRunning
	if req.Status != nil {
		status = *req.Status
	}
	startTime := now
	if req.StartTime != nil {
		startTime = *req.StartTime
	}

	if err := s.ensureTrace(ctx, traceID, "", startTime, now); err != nil {
		return model.A2ACommunication{}, err
	}

	targetSpanID := ""
	if req.TargetSpanID != nil && *req.TargetSpanID != "" {
		targetSpanID = *req.TargetSpanID
	} else {
		span, err := s.synthesizeTargetSpan(ctx, traceID, sourceSpanID, req, startTime, now)
		if err != nil {
			return model.A2ACommunication{}, err
		}
		targetSpanID = span.SpanID
	}

	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	response := req.Response
	if response == nil {
		response = map[string]any{}
	}

	comm := model.A2ACommunication{
		ID:                id,
		TraceID:           traceID,
		SourceAgentID:     req.SourceAgentID,
		TargetAgentID:     req.TargetAgentID,
		SourceSpanID:      sourceSpanID,
		TargetSpanID:      targetSpanID,
		CommunicationType: req.CommunicationType,
		Protocol:          req.Protocol,
		Status:            status,
		StartTime:         startTime,
		DurationMs:        req.DurationMs,
		Payload:           payload,
		Response:          response,
		ErrorMessage:      req.ErrorMessage,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.InsertA2A(ctx, comm); err != nil {
		return model.A2ACommunication{}, fmt.Errorf("ingest: create a2a: %w", err)
	}
	return comm, nil
}

// UpdateTrace applies a partial update to a trace by id.
func (s *Service) UpdateTrace(ctx context.Context, traceID string, upd model.TraceUpdate) (model.Trace, error) {
	t, err := s.store.UpdateTrace(ctx, traceID, upd)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Trace{}, &NotFoundError{Entity: "trace", ID: traceID}
		}
		return model.Trace{}, fmt.Errorf("ingest: update trace: %w", err)
	}
	return t, nil
}

// UpdateSpan applies a partial update to a span by id.
func (s *Service) UpdateSpan(ctx context.Context, spanID string, upd model.SpanUpdate) (model.Span, error) {
	span, err := s.store.UpdateSpan(ctx, spanID, upd)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Span{}, &NotFoundError{Entity: "span", ID: spanID}
		}
		return model.Span{}, fmt.Errorf("ingest: update span: %w", err)
	}
	return span, nil
}

// UpdateA2A applies a partial update to an A2A record by id. A terminal
// status (success or error) is propagated to the target span: end time
// (defaulting to now), duration, status, and, when an error message is
// present, an appended error log entry. The log append is a
// read-modify-write with no concurrency control: concurrent updates to the
// same target span race and the last write wins.
func (s *Service) UpdateA2A(ctx context.Context, id string, upd model.A2AUpdate) (model.A2ACommunication, error) {
	comm, err := s.store.UpdateA2A(ctx, id, upd)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.A2ACommunication{}, &NotFoundError{Entity: "a2a communication", ID: id}
		}
		return model.A2ACommunication{}, fmt.Errorf("ingest: update a2a: %w", err)
	}

	if upd.Status != nil && (*upd.Status == model.A2AStatusSuccess || *upd.Status == model.A2AStatusError) {
		s.propagateA2AStatus(ctx, comm, upd)
	}
	return comm, nil
}

// propagateA2AStatus pushes a terminal A2A status through to the target
// span. Propagation failures are logged, not returned: the A2A update has
// already committed and a telemetry span left running is preferable to a
// spurious error on the primary path.
func (s *Service) propagateA2AStatus(ctx context.Context, comm model.A2ACommunication, upd model.A2AUpdate) {
	if comm.TargetSpanID == "" {
		return
	}

	now := s.now()
	spanStatus := model.SpanStatus(*upd.Status)
	spanUpd := model.SpanUpdate{
		Status:     &spanStatus,
		EndTime:    &now,
		DurationMs: upd.DurationMs,
	}

	if upd.ErrorMessage != nil && *upd.ErrorMessage != "" {
		span, err := s.store.GetSpan(ctx, comm.TargetSpanID)
		if err != nil {
			s.logger.Warn("ingest: a2a status propagation: target span lookup failed",
				"a2a_id", comm.ID, "target_span_id", comm.TargetSpanID, "error", err)
			return
		}
		spanUpd.Logs = append(span.Logs, model.LogEntry{
			Timestamp: now,
			Level:     "error",
			Message:   *upd.ErrorMessage,
		})
	}

	if _, err := s.store.UpdateSpan(ctx, comm.TargetSpanID, spanUpd); err != nil {
		s.logger.Warn("ingest: a2a status propagation: target span update failed",
			"a2a_id", comm.ID, "target_span_id", comm.TargetSpanID, "error", err)
	}
}

// synthesizeTargetSpan creates the receiving span for an A2A call whose
// caller supplied no target span id: owned by the target agent, named
// receive_<communicationType>, parented under the source span.
func (s *Service) synthesizeTargetSpan(ctx context.Context, traceID, sourceSpanID string, req model.CreateA2ARequest, startTime, now time.Time) (model.Span, error) {
	var parent *string
	if sourceSpanID != "" {
		parent = &sourceSpanID
	}

	span := model.Span{
		SpanID:            uuid.NewString(),
		TraceID:           traceID,
		ParentSpanID:      parent,
		OperationName:     "receive_" + req.CommunicationType,
		AgentID:           req.TargetAgentID,
		StartTime:         startTime,
		Status:            model.SpanStatusRunning,
		CommunicationType: req.CommunicationType,
		Tags: map[string]string{
			"source_agent_id": req.SourceAgentID,
			"target_agent_id": req.TargetAgentID,
		},
		Logs:      []model.LogEntry{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertSpan(ctx, span); err != nil {
		return model.Span{}, fmt.Errorf("ingest: synthesize target span: %w", err)
	}
	return span, nil
}

// ensureTrace creates the owning trace row on first span/A2A activity for
// a new trace id. Race-safe: concurrent first writers all no-op against an
// existing row.
func (s *Service) ensureTrace(ctx context.Context, traceID, serviceName string, startTime, now time.Time) error {
	t := model.Trace{
		TraceID:      traceID,
		ServiceName:  serviceName,
		Status:       model.TraceStatusRunning,
		StartTime:    startTime,
		ServiceCount: 1,
		Metadata:     map[string]any{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.EnsureTrace(ctx, t); err != nil {
		return fmt.Errorf("ingest: ensure trace: %w", err)
	}
	return nil
}
