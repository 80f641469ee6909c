package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tracemesh/tracemesh/internal/model"
	"github.com/tracemesh/tracemesh/internal/service/query"
)

func (h *handlers) handleQueryTraces(w http.ResponseWriter, r *http.Request) {
	p := newParams(r.URL.Query())

	req := query.TracesRequest{
		Filter: model.TraceFilter{
			TraceID:       p.strPtr("trace_id"),
			ServiceName:   p.strPtr("service_name"),
			StartTimeMin:  p.timePtr("start_time_min"),
			StartTimeMax:  p.timePtr("start_time_max"),
			DurationMinMs: p.int64Ptr("duration_min_ms"),
			DurationMaxMs: p.int64Ptr("duration_max_ms"),
			HasErrors:     p.boolFlag("has_errors"),
			Limit:         p.intVal("limit"),
			Offset:        p.intVal("offset"),
		},
		IncludeSpans:    p.boolFlag("include_spans"),
		IncludeA2A:      p.boolFlag("include_a2a"),
		IncludePayloads: p.boolFlag("include_payloads"),
		IncludeMetrics:  p.boolFlag("include_metrics"),
	}
	if s := p.strPtr("status"); s != nil {
		status := model.TraceStatus(*s)
		req.Filter.Status = &status
	}
	if req.IncludeSpans {
		req.SpanCriteria = model.SpanCriteria{
			AgentID:           p.strPtr("agent_id"),
			AgentType:         p.strPtr("agent_type"),
			CommunicationType: p.strPtr("communication_type"),
			ContainerID:       p.strPtr("container_id"),
			Namespace:         p.strPtr("namespace"),
		}
	}
	if p.err != nil {
		writeError(w, http.StatusBadRequest, p.err.Error())
		return
	}

	result, err := h.query.Traces(r.Context(), req)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.QueryResponse{
		Success:    true,
		Data:       result.Traces,
		Metrics:    metricsField(result.Metrics),
		Pagination: result.Pagination,
	})
}

func (h *handlers) handleQuerySpans(w http.ResponseWriter, r *http.Request) {
	p := newParams(r.URL.Query())

	req := query.SpansRequest{
		Filter: model.SpanFilter{
			TraceID:           p.strPtr("trace_id"),
			SpanID:            p.strPtr("span_id"),
			ParentSpanID:      p.strPtr("parent_span_id"),
			OperationName:     p.strPtr("operation_name"),
			ServiceName:       p.strPtr("service_name"),
			AgentID:           p.strPtr("agent_id"),
			AgentType:         p.strPtr("agent_type"),
			CommunicationType: p.strPtr("communication_type"),
			ContainerID:       p.strPtr("container_id"),
			Namespace:         p.strPtr("namespace"),
			StartTimeMin:      p.timePtr("start_time_min"),
			StartTimeMax:      p.timePtr("start_time_max"),
			EndTimeMin:        p.timePtr("end_time_min"),
			EndTimeMax:        p.timePtr("end_time_max"),
			DurationMinMs:     p.int64Ptr("duration_min_ms"),
			DurationMaxMs:     p.int64Ptr("duration_max_ms"),
			Limit:             p.intVal("limit"),
			Offset:            p.intVal("offset"),
		},
		IncludeA2A:      p.boolFlag("include_a2a"),
		IncludePayloads: p.boolFlag("include_payloads"),
	}
	if s := p.strPtr("status"); s != nil {
		status := model.SpanStatus(*s)
		req.Filter.Status = &status
	}
	if p.err != nil {
		writeError(w, http.StatusBadRequest, p.err.Error())
		return
	}

	result, err := h.query.Spans(r.Context(), req)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.QueryResponse{
		Success:    true,
		Data:       result.Spans,
		Pagination: result.Pagination,
	})
}

func (h *handlers) handleQueryA2A(w http.ResponseWriter, r *http.Request) {
	p := newParams(r.URL.Query())

	req := query.A2ARequest{
		Filter: model.A2AFilter{
			TraceID:           p.strPtr("trace_id"),
			SourceAgentID:     p.strPtr("source_agent_id"),
			TargetAgentID:     p.strPtr("target_agent_id"),
			CommunicationType: p.strPtr("communication_type"),
			Protocol:          p.strPtr("protocol"),
			StartTimeMin:      p.timePtr("start_time_min"),
			StartTimeMax:      p.timePtr("start_time_max"),
			DurationMinMs:     p.int64Ptr("duration_min_ms"),
			DurationMaxMs:     p.int64Ptr("duration_max_ms"),
			Limit:             p.intVal("limit"),
			Offset:            p.intVal("offset"),
		},
		IncludePayloads: p.boolFlag("include_payloads"),
		IncludeMetrics:  p.boolFlag("include_metrics"),
	}
	if s := p.strPtr("status"); s != nil {
		status := model.A2AStatus(*s)
		req.Filter.Status = &status
	}
	if p.err != nil {
		writeError(w, http.StatusBadRequest, p.err.Error())
		return
	}

	result, err := h.query.A2A(r.Context(), req)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.QueryResponse{
		Success:    true,
		Data:       result.Communications,
		Metrics:    metricsField(result.Metrics),
		Pagination: result.Pagination,
	})
}

func (h *handlers) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("query request failed",
		"path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()), "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// metricsField keeps the metrics envelope key absent rather than null when
// metrics were not requested.
func metricsField[T any](m *T) any {
	if m == nil {
		return nil
	}
	return m
}

// params parses query-string values, capturing the first malformed value.
type params struct {
	values url.Values
	err    error
}

func newParams(values url.Values) *params {
	return &params{values: values}
}

func (p *params) strPtr(key string) *string {
	if !p.values.Has(key) {
		return nil
	}
	v := p.values.Get(key)
	if v == "" {
		return nil
	}
	return &v
}

func (p *params) timePtr(key string) *time.Time {
	v := p.values.Get(key)
	if v == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		p.fail(key, "must be an RFC 3339 timestamp")
		return nil
	}
	return &ts
}

func (p *params) int64Ptr(key string) *int64 {
	v := p.values.Get(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, "must be an integer")
		return nil
	}
	return &n
}

func (p *params) intVal(key string) int {
	v := p.values.Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, "must be an integer")
		return 0
	}
	return n
}

func (p *params) boolFlag(key string) bool {
	v := p.values.Get(key)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, "must be a boolean")
		return false
	}
	return b
}

func (p *params) fail(key, msg string) {
	if p.err == nil {
		p.err = fmt.Errorf("%s %s", key, msg)
	}
}
