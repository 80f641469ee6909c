package propagation_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracemesh/tracemesh/internal/propagation"
)

func TestFromHeaders_BothPresent(t *testing.T) {
	h := http.Header{}
	h.Set("X-Trace-ID", "trace-123")
	h.Set("X-Span-ID", "span-456")

	tc, ok := propagation.FromHeaders(h)
	require.True(t, ok)
	assert.Equal(t, "trace-123", tc.TraceID)
	assert.Equal(t, "span-456", tc.SpanID)
}

func TestFromHeaders_CaseInsensitive(t *testing.T) {
	h := http.Header{}
	h.Set("x-trace-id", "trace-123")
	h.Set("X-SPAN-ID", "span-456")

	tc, ok := propagation.FromHeaders(h)
	require.True(t, ok)
	assert.Equal(t, "trace-123", tc.TraceID)
	assert.Equal(t, "span-456", tc.SpanID)
}

func TestFromHeaders_Absent(t *testing.T) {
	_, ok := propagation.FromHeaders(http.Header{})
	assert.False(t, ok)
}

func TestFromHeaders_TraceWithoutSpan(t *testing.T) {
	h := http.Header{}
	h.Set("X-Trace-ID", "trace-123")

	tc, ok := propagation.FromHeaders(h)
	require.True(t, ok)
	assert.Equal(t, "trace-123", tc.TraceID)
	assert.Empty(t, tc.SpanID)
}

func TestFromHeaders_SpanWithoutTraceIsNoContext(t *testing.T) {
	h := http.Header{}
	h.Set("X-Span-ID", "span-456")

	_, ok := propagation.FromHeaders(h)
	assert.False(t, ok)
}

func TestFromHeaders_MalformedFailsOpen(t *testing.T) {
	cases := map[string]string{
		"whitespace only": "   ",
		"control chars":   "trace\x00id",
		"non-ascii":       "トレース",
		"oversized":       strings.Repeat("a", 200),
	}
	for name, val := range cases {
		t.Run(name, func(t *testing.T) {
			h := http.Header{}
			h.Set("X-Trace-ID", val)
			_, ok := propagation.FromHeaders(h)
			assert.False(t, ok, "malformed trace id must yield no context, not an error")
		})
	}
}

func TestFromHeaders_MalformedSpanIDDropped(t *testing.T) {
	h := http.Header{}
	h.Set("X-Trace-ID", "trace-123")
	h.Set("X-Span-ID", "bad\nspan")

	tc, ok := propagation.FromHeaders(h)
	require.True(t, ok)
	assert.Equal(t, "trace-123", tc.TraceID)
	assert.Empty(t, tc.SpanID, "bad span id is dropped, trace continues")
}

func TestFromMap_CaseInsensitiveKeys(t *testing.T) {
	tc, ok := propagation.FromMap(map[string]string{
		"x-trace-id": "t1",
		"X-Span-Id":  "s1",
	})
	require.True(t, ok)
	assert.Equal(t, "t1", tc.TraceID)
	assert.Equal(t, "s1", tc.SpanID)
}

func TestInject_RoundTrip(t *testing.T) {
	h := http.Header{}
	propagation.Context{TraceID: "t1", SpanID: "s1"}.Inject(h)

	tc, ok := propagation.FromHeaders(h)
	require.True(t, ok)
	assert.Equal(t, "t1", tc.TraceID)
	assert.Equal(t, "s1", tc.SpanID)
}

func TestInject_EmptySpanOmitted(t *testing.T) {
	h := http.Header{}
	propagation.Context{TraceID: "t1"}.Inject(h)

	assert.Equal(t, "t1", h.Get(propagation.HeaderTraceID))
	assert.Empty(t, h.Values(propagation.HeaderSpanID))
}
