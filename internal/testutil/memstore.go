package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/tracemesh/tracemesh/internal/model"
	"github.com/tracemesh/tracemesh/internal/storage"
)

// MemStore is an in-memory store for service-level unit tests. It mirrors
// the Postgres store's observable behavior: partial updates, metadata
// merge, filter semantics, ordering, and pagination.
type MemStore struct {
	mu     sync.Mutex
	Traces map[string]model.Trace
	Spans  map[string]model.Span
	A2A    map[string]model.A2ACommunication

	// Err, when set, is returned by every method. Used to exercise
	// failure paths.
	Err error
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		Traces: make(map[string]model.Trace),
		Spans:  make(map[string]model.Span),
		A2A:    make(map[string]model.A2ACommunication),
	}
}

func (m *MemStore) InsertTrace(_ context.Context, t model.Trace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Traces[t.TraceID] = t
	return nil
}

func (m *MemStore) EnsureTrace(_ context.Context, t model.Trace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.Traces[t.TraceID]; !ok {
		m.Traces[t.TraceID] = t
	}
	return nil
}

func (m *MemStore) GetTrace(_ context.Context, traceID string) (model.Trace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return model.Trace{}, m.Err
	}
	t, ok := m.Traces[traceID]
	if !ok {
		return model.Trace{}, storage.ErrNotFound
	}
	return t, nil
}

func (m *MemStore) UpdateTrace(_ context.Context, traceID string, upd model.TraceUpdate) (model.Trace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return model.Trace{}, m.Err
	}
	t, ok := m.Traces[traceID]
	if !ok {
		return model.Trace{}, storage.ErrNotFound
	}
	if upd.RootSpanID != nil {
		t.RootSpanID = upd.RootSpanID
	}
	if upd.ServiceName != nil {
		t.ServiceName = *upd.ServiceName
	}
	if upd.Status != nil {
		t.Status = *upd.Status
	}
	if upd.EndTime != nil {
		t.EndTime = upd.EndTime
	}
	if upd.DurationMs != nil {
		t.DurationMs = *upd.DurationMs
	}
	if upd.AgentCount != nil {
		t.AgentCount = *upd.AgentCount
	}
	if upd.ServiceCount != nil {
		t.ServiceCount = *upd.ServiceCount
	}
	if upd.ContainerCount != nil {
		t.ContainerCount = *upd.ContainerCount
	}
	if upd.ErrorCount != nil {
		t.ErrorCount = *upd.ErrorCount
	}
	if upd.Metadata != nil {
		merged := make(map[string]any, len(t.Metadata)+len(upd.Metadata))
		for k, v := range t.Metadata {
			merged[k] = v
		}
		for k, v := range upd.Metadata {
			merged[k] = v
		}
		t.Metadata = merged
	}
	if upd.TotalCost != nil {
		t.TotalCost = *upd.TotalCost
	}
	if upd.TotalTokens != nil {
		t.TotalTokens = *upd.TotalTokens
	}
	m.Traces[traceID] = t
	return t, nil
}

func (m *MemStore) QueryTraces(_ context.Context, f model.TraceFilter) ([]model.Trace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []model.Trace
	for _, t := range m.Traces {
		if matchTrace(t, f) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return pageOf(out, f.Limit, f.Offset, model.DefaultTraceLimit), nil
}

func (m *MemStore) InsertSpan(_ context.Context, s model.Span) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Spans[s.SpanID] = s
	return nil
}

func (m *MemStore) GetSpan(_ context.Context, spanID string) (model.Span, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return model.Span{}, m.Err
	}
	s, ok := m.Spans[spanID]
	if !ok {
		return model.Span{}, storage.ErrNotFound
	}
	return s, nil
}

func (m *MemStore) UpdateSpan(_ context.Context, spanID string, upd model.SpanUpdate) (model.Span, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return model.Span{}, m.Err
	}
	s, ok := m.Spans[spanID]
	if !ok {
		return model.Span{}, storage.ErrNotFound
	}
	if upd.OperationName != nil {
		s.OperationName = *upd.OperationName
	}
	if upd.AgentType != nil {
		s.AgentType = *upd.AgentType
	}
	if upd.Status != nil {
		s.Status = *upd.Status
	}
	if upd.EndTime != nil {
		s.EndTime = upd.EndTime
	}
	if upd.DurationMs != nil {
		s.DurationMs = *upd.DurationMs
	}
	if upd.Tags != nil {
		s.Tags = upd.Tags
	}
	if upd.Logs != nil {
		s.Logs = upd.Logs
	}
	m.Spans[spanID] = s
	return s, nil
}

func (m *MemStore) QuerySpans(_ context.Context, f model.SpanFilter) ([]model.Span, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []model.Span
	for _, s := range m.Spans {
		if matchSpan(s, f) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return pageOf(out, f.Limit, f.Offset, model.DefaultSpanLimit), nil
}

func (m *MemStore) SpansByTrace(_ context.Context, traceID string, c model.SpanCriteria) ([]model.Span, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []model.Span
	for _, s := range m.Spans {
		if s.TraceID != traceID {
			continue
		}
		if c.AgentID != nil && s.AgentID != *c.AgentID {
			continue
		}
		if c.AgentType != nil && s.AgentType != *c.AgentType {
			continue
		}
		if c.CommunicationType != nil && s.CommunicationType != *c.CommunicationType {
			continue
		}
		if c.ContainerID != nil && s.ContainerID != *c.ContainerID {
			continue
		}
		if c.Namespace != nil && s.Namespace != *c.Namespace {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *MemStore) InsertA2A(_ context.Context, c model.A2ACommunication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.A2A[c.ID] = c
	return nil
}

func (m *MemStore) GetA2A(_ context.Context, id string) (model.A2ACommunication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return model.A2ACommunication{}, m.Err
	}
	c, ok := m.A2A[id]
	if !ok {
		return model.A2ACommunication{}, storage.ErrNotFound
	}
	return c, nil
}

func (m *MemStore) UpdateA2A(_ context.Context, id string, upd model.A2AUpdate) (model.A2ACommunication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return model.A2ACommunication{}, m.Err
	}
	c, ok := m.A2A[id]
	if !ok {
		return model.A2ACommunication{}, storage.ErrNotFound
	}
	if upd.Status != nil {
		c.Status = *upd.Status
	}
	if upd.DurationMs != nil {
		c.DurationMs = *upd.DurationMs
	}
	if upd.Response != nil {
		c.Response = upd.Response
	}
	if upd.ErrorMessage != nil {
		c.ErrorMessage = upd.ErrorMessage
	}
	m.A2A[id] = c
	return c, nil
}

func (m *MemStore) QueryA2A(_ context.Context, f model.A2AFilter) ([]model.A2ACommunication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []model.A2ACommunication
	for _, c := range m.A2A {
		if matchA2A(c, f) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return pageOf(out, f.Limit, f.Offset, model.DefaultA2ALimit), nil
}

func (m *MemStore) A2ABySpan(_ context.Context, spanID string) ([]model.A2ACommunication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []model.A2ACommunication
	for _, c := range m.A2A {
		if c.SourceSpanID == spanID || c.TargetSpanID == spanID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func matchTrace(t model.Trace, f model.TraceFilter) bool {
	if f.TraceID != nil && t.TraceID != *f.TraceID {
		return false
	}
	if f.ServiceName != nil && t.ServiceName != *f.ServiceName {
		return false
	}
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.StartTimeMin != nil && t.StartTime.Before(*f.StartTimeMin) {
		return false
	}
	if f.StartTimeMax != nil && t.StartTime.After(*f.StartTimeMax) {
		return false
	}
	if f.DurationMinMs != nil && t.DurationMs < *f.DurationMinMs {
		return false
	}
	if f.DurationMaxMs != nil && t.DurationMs > *f.DurationMaxMs {
		return false
	}
	if f.HasErrors && t.ErrorCount == 0 {
		return false
	}
	return true
}

func matchSpan(s model.Span, f model.SpanFilter) bool {
	if f.TraceID != nil && s.TraceID != *f.TraceID {
		return false
	}
	if f.SpanID != nil && s.SpanID != *f.SpanID {
		return false
	}
	if f.ParentSpanID != nil && (s.ParentSpanID == nil || *s.ParentSpanID != *f.ParentSpanID) {
		return false
	}
	if f.OperationName != nil &&
		!strings.Contains(strings.ToLower(s.OperationName), strings.ToLower(*f.OperationName)) {
		return false
	}
	if f.ServiceName != nil && s.ServiceName != *f.ServiceName {
		return false
	}
	if f.AgentID != nil && s.AgentID != *f.AgentID {
		return false
	}
	if f.AgentType != nil && s.AgentType != *f.AgentType {
		return false
	}
	if f.Status != nil && s.Status != *f.Status {
		return false
	}
	if f.CommunicationType != nil && s.CommunicationType != *f.CommunicationType {
		return false
	}
	if f.ContainerID != nil && s.ContainerID != *f.ContainerID {
		return false
	}
	if f.Namespace != nil && s.Namespace != *f.Namespace {
		return false
	}
	if f.StartTimeMin != nil && s.StartTime.Before(*f.StartTimeMin) {
		return false
	}
	if f.StartTimeMax != nil && s.StartTime.After(*f.StartTimeMax) {
		return false
	}
	if f.EndTimeMin != nil && (s.EndTime == nil || s.EndTime.Before(*f.EndTimeMin)) {
		return false
	}
	if f.EndTimeMax != nil && (s.EndTime == nil || s.EndTime.After(*f.EndTimeMax)) {
		return false
	}
	if f.DurationMinMs != nil && s.DurationMs < *f.DurationMinMs {
		return false
	}
	if f.DurationMaxMs != nil && s.DurationMs > *f.DurationMaxMs {
		return false
	}
	return true
}

func matchA2A(c model.A2ACommunication, f model.A2AFilter) bool {
	if f.TraceID != nil && c.TraceID != *f.TraceID {
		return false
	}
	if f.SourceAgentID != nil && c.SourceAgentID != *f.SourceAgentID {
		return false
	}
	if f.TargetAgentID != nil && c.TargetAgentID != *f.TargetAgentID {
		return false
	}
	if f.CommunicationType != nil && c.CommunicationType != *f.CommunicationType {
		return false
	}
	if f.Protocol != nil && c.Protocol != *f.Protocol {
		return false
	}
	if f.Status != nil && c.Status != *f.Status {
		return false
	}
	if f.StartTimeMin != nil && c.StartTime.Before(*f.StartTimeMin) {
		return false
	}
	if f.StartTimeMax != nil && c.StartTime.After(*f.StartTimeMax) {
		return false
	}
	if f.DurationMinMs != nil && c.DurationMs < *f.DurationMinMs {
		return false
	}
	if f.DurationMaxMs != nil && c.DurationMs > *f.DurationMaxMs {
		return false
	}
	return true
}

func pageOf[T any](items []T, limit, offset, defaultLimit int) []T {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > model.MaxLimit {
		limit = model.MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
