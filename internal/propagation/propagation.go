// Package propagation extracts and injects trace context carried across
// service boundaries in request headers.
//
// The convention is a pair of headers, X-Trace-ID and X-Span-ID, read
// case-insensitively. Extraction is pure and fails open: a missing or
// malformed pair yields "no context" so the caller originates a new trace
// instead of rejecting the request. Tracing must never block primary
// request processing.
package propagation

import (
	"net/http"
	"strings"
)

// Header names for propagated trace context.
const (
	HeaderTraceID = "X-Trace-ID"
	HeaderSpanID  = "X-Span-ID"
)

// maxIDLen bounds propagated ids so a hostile caller can't push
// arbitrarily large strings into id columns.
const maxIDLen = 128

// Context is a previously-established (trace id, span id) pair. New spans
// and A2A records created under it continue the existing trace.
type Context struct {
	TraceID string
	SpanID  string
}

// FromHeaders extracts propagated context from inbound request headers.
// Returns (zero, false) when no usable context is present.
func FromHeaders(h http.Header) (Context, bool) {
	return fromPair(h.Get(HeaderTraceID), h.Get(HeaderSpanID))
}

// FromMap extracts propagated context from a generic key/value map,
// matching keys case-insensitively. Useful for non-HTTP transports that
// carry the same convention in message metadata.
func FromMap(md map[string]string) (Context, bool) {
	var traceID, spanID string
	for k, v := range md {
		switch {
		case strings.EqualFold(k, HeaderTraceID):
			traceID = v
		case strings.EqualFold(k, HeaderSpanID):
			spanID = v
		}
	}
	return fromPair(traceID, spanID)
}

// Inject writes the context into outbound headers so downstream services
// continue the same trace.
func (c Context) Inject(h http.Header) {
	if c.TraceID != "" {
		h.Set(HeaderTraceID, c.TraceID)
	}
	if c.SpanID != "" {
		h.Set(HeaderSpanID, c.SpanID)
	}
}

func fromPair(traceID, spanID string) (Context, bool) {
	traceID = strings.TrimSpace(traceID)
	spanID = strings.TrimSpace(spanID)
	if !validID(traceID) {
		return Context{}, false
	}
	if spanID != "" && !validID(spanID) {
		// A bad span id doesn't invalidate the trace id: continue the
		// trace, just without a parent span.
		spanID = ""
	}
	return Context{TraceID: traceID, SpanID: spanID}, true
}

// validID accepts printable ASCII ids without whitespace. Anything else is
// treated as malformed and dropped rather than rejected.
func validID(s string) bool {
	if s == "" || len(s) > maxIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] > '~' {
			return false
		}
	}
	return true
}
