// Package query implements the correlated query engine: filtered reads over
// traces, spans, and A2A communications, optional cross-entity enrichment,
// and page-scoped metrics aggregation.
package query

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tracemesh/tracemesh/internal/model"
)

// defaultEnrichmentWorkers bounds the per-row fan-out when attaching spans
// or A2A records to a page of results.
const defaultEnrichmentWorkers = 8

// Store is the entity-store contract the query service reads through.
// *storage.DB satisfies it; tests use an in-memory fake.
type Store interface {
	GetTrace(ctx context.Context, traceID string) (model.Trace, error)
	QueryTraces(ctx context.Context, f model.TraceFilter) ([]model.Trace, error)
	QuerySpans(ctx context.Context, f model.SpanFilter) ([]model.Span, error)
	QueryA2A(ctx context.Context, f model.A2AFilter) ([]model.A2ACommunication, error)
	SpansByTrace(ctx context.Context, traceID string, c model.SpanCriteria) ([]model.Span, error)
	A2ABySpan(ctx context.Context, spanID string) ([]model.A2ACommunication, error)
}

// Service is the query service.
type Service struct {
	store   Store
	logger  *slog.Logger
	workers int
}

// Option configures a Service.
type Option func(*Service)

// WithEnrichmentWorkers overrides the enrichment fan-out limit.
func WithEnrichmentWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// New creates a query service.
func New(store Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{store: store, logger: logger, workers: defaultEnrichmentWorkers}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TracesRequest is one trace query: a filter plus enrichment switches.
type TracesRequest struct {
	Filter model.TraceFilter

	// IncludeSpans attaches each trace's spans, narrowed by SpanCriteria.
	IncludeSpans bool
	SpanCriteria model.SpanCriteria

	// IncludeA2A additionally attaches A2A records to each attached span.
	// Only meaningful together with IncludeSpans.
	IncludeA2A bool

	// IncludePayloads keeps A2A payload/response bodies in the result.
	IncludePayloads bool

	// IncludeMetrics computes aggregate metrics over the returned page.
	IncludeMetrics bool
}

// TracesResult is a page of traces with optional metrics.
type TracesResult struct {
	Traces     []model.Trace
	Metrics    *model.TraceMetrics
	Pagination model.Pagination
}

// SpansRequest is one span query.
type SpansRequest struct {
	Filter model.SpanFilter

	// IncludeA2A attaches every A2A record where the span is the source or
	// the target.
	IncludeA2A bool

	// IncludePayloads keeps A2A payload/response bodies in the result.
	IncludePayloads bool
}

// SpansResult is a page of spans.
type SpansResult struct {
	Spans      []model.Span
	Pagination model.Pagination
}

// A2ARequest is one A2A communication query.
type A2ARequest struct {
	Filter model.A2AFilter

	// IncludePayloads keeps payload/response bodies in the result.
	IncludePayloads bool

	// IncludeMetrics computes aggregate metrics over the returned page.
	IncludeMetrics bool
}

// A2AResult is a page of A2A communications with optional metrics.
type A2AResult struct {
	Communications []model.A2ACommunication
	Metrics        *model.A2AMetrics
	Pagination     model.Pagination
}

// Traces runs a filtered trace query with optional enrichment and metrics.
// Metrics always aggregate over the page's spans, fetched even when the
// caller did not ask for them to be attached.
func (s *Service) Traces(ctx context.Context, req TracesRequest) (TracesResult, error) {
	traces, err := s.store.QueryTraces(ctx, req.Filter)
	if err != nil {
		return TracesResult{}, fmt.Errorf("query: traces: %w", err)
	}

	var spansPerTrace [][]model.Span
	if req.IncludeSpans || req.IncludeMetrics {
		spansPerTrace, err = s.fetchSpansPerTrace(ctx, traces, req.SpanCriteria, req.IncludeA2A, req.IncludePayloads)
		if err != nil {
			return TracesResult{}, err
		}
		if req.IncludeSpans {
			for i := range traces {
				traces[i].Spans = spansPerTrace[i]
			}
		}
	}

	result := TracesResult{
		Traces:     traces,
		Pagination: paginate(len(traces), req.Filter.Limit, req.Filter.Offset, model.DefaultTraceLimit),
	}
	if req.IncludeMetrics {
		m := computeTraceMetrics(traces, spansPerTrace)
		result.Metrics = &m
	}
	return result, nil
}

// Spans runs a filtered span query with optional A2A enrichment.
func (s *Service) Spans(ctx context.Context, req SpansRequest) (SpansResult, error) {
	spans, err := s.store.QuerySpans(ctx, req.Filter)
	if err != nil {
		return SpansResult{}, fmt.Errorf("query: spans: %w", err)
	}

	if req.IncludeA2A {
		if err := s.attachA2A(ctx, spans, req.IncludePayloads); err != nil {
			return SpansResult{}, err
		}
	}

	return SpansResult{
		Spans:      spans,
		Pagination: paginate(len(spans), req.Filter.Limit, req.Filter.Offset, model.DefaultSpanLimit),
	}, nil
}

// A2A runs a filtered A2A communication query with optional metrics.
func (s *Service) A2A(ctx context.Context, req A2ARequest) (A2AResult, error) {
	comms, err := s.store.QueryA2A(ctx, req.Filter)
	if err != nil {
		return A2AResult{}, fmt.Errorf("query: a2a: %w", err)
	}

	if !req.IncludePayloads {
		for i := range comms {
			stripPayload(&comms[i])
		}
	}

	result := A2AResult{
		Communications: comms,
		Pagination:     paginate(len(comms), req.Filter.Limit, req.Filter.Offset, model.DefaultA2ALimit),
	}
	if req.IncludeMetrics {
		m := computeA2AMetrics(comms)
		result.Metrics = &m
	}
	return result, nil
}

// fetchSpansPerTrace loads each trace's spans concurrently, preserving page
// order. Index i of the result holds the spans of traces[i].
func (s *Service) fetchSpansPerTrace(ctx context.Context, traces []model.Trace, criteria model.SpanCriteria, includeA2A, includePayloads bool) ([][]model.Span, error) {
	spansPerTrace := make([][]model.Span, len(traces))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range traces {
		g.Go(func() error {
			spans, err := s.store.SpansByTrace(gctx, traces[i].TraceID, criteria)
			if err != nil {
				return fmt.Errorf("query: enrich trace %s: %w", traces[i].TraceID, err)
			}
			if includeA2A {
				for j := range spans {
					comms, err := s.store.A2ABySpan(gctx, spans[j].SpanID)
					if err != nil {
						return fmt.Errorf("query: enrich span %s: %w", spans[j].SpanID, err)
					}
					if !includePayloads {
						for k := range comms {
							stripPayload(&comms[k])
						}
					}
					spans[j].Communications = comms
				}
			}
			spansPerTrace[i] = spans
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return spansPerTrace, nil
}

// attachA2A loads each span's A2A records concurrently, in place.
func (s *Service) attachA2A(ctx context.Context, spans []model.Span, includePayloads bool) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range spans {
		g.Go(func() error {
			comms, err := s.store.A2ABySpan(gctx, spans[i].SpanID)
			if err != nil {
				return fmt.Errorf("query: enrich span %s: %w", spans[i].SpanID, err)
			}
			if !includePayloads {
				for k := range comms {
					stripPayload(&comms[k])
				}
			}
			spans[i].Communications = comms
			return nil
		})
	}
	return g.Wait()
}

func stripPayload(c *model.A2ACommunication) {
	c.Payload = nil
	c.Response = nil
}

// paginate builds the pagination block for one page. HasNext is the
// full-page heuristic: a page shorter than its limit is the last one.
func paginate(total, limit, offset, defaultLimit int) model.Pagination {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > model.MaxLimit {
		limit = model.MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return model.Pagination{
		Limit:   limit,
		Offset:  offset,
		Total:   total,
		HasNext: total == limit,
		HasPrev: offset > 0,
	}
}
