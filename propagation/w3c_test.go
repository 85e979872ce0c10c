package propagation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniapm/miniapm-go/propagation"
	"github.com/miniapm/miniapm-go/tracing"
)

const (
	traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	spanID  = "00f067aa0ba902b7"
)

func TestExtract_ValidHeader(t *testing.T) {
	headers := map[string]string{
		"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	}

	sc := propagation.Extract(headers)

	require.NotNil(t, sc)
	assert.Equal(t, traceID, sc.TraceID)
	assert.Equal(t, spanID, sc.ParentSpanID)
	assert.True(t, sc.Sampled)
}

func TestExtract_NotSampledFlag(t *testing.T) {
	sc := propagation.Extract(map[string]string{
		"traceparent": "00-" + traceID + "-" + spanID + "-00",
	})

	require.NotNil(t, sc)
	assert.False(t, sc.Sampled)
}

func TestExtract_AlternateHeaderKeys(t *testing.T) {
	value := "00-" + traceID + "-" + spanID + "-01"

	for _, key := range []string{"traceparent", "Traceparent", "HTTP_TRACEPARENT"} {
		t.Run(key, func(t *testing.T) {
			sc := propagation.Extract(map[string]string{key: value})
			require.NotNil(t, sc)
			assert.Equal(t, traceID, sc.TraceID)
		})
	}
}

func TestExtract_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"wrong field count", "00-" + traceID + "-" + spanID},
		{"unsupported version", "01-" + traceID + "-" + spanID + "-01"},
		{"bad trace id", "00-zzzz2f3577b34da6a3ce929d0e0e4736-" + spanID + "-01"},
		{"short trace id", "00-4bf92f-" + spanID + "-01"},
		{"bad span id", "00-" + traceID + "-zzf067aa0ba902b7-01"},
		{"bad flags", "00-" + traceID + "-" + spanID + "-zz"},
		{"long flags", "00-" + traceID + "-" + spanID + "-011"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, propagation.Extract(map[string]string{"traceparent": tt.value}))
		})
	}
}

func TestInject_Format(t *testing.T) {
	headers := propagation.Inject(nil, traceID, spanID, true)
	assert.Equal(t, "00-"+traceID+"-"+spanID+"-01", headers["traceparent"])

	headers = propagation.Inject(map[string]string{}, traceID, spanID, false)
	assert.Equal(t, "00-"+traceID+"-"+spanID+"-00", headers["traceparent"])
}

func TestRoundTrip(t *testing.T) {
	for _, sampled := range []bool{true, false} {
		headers := propagation.Inject(nil, traceID, spanID, sampled)

		sc := propagation.Extract(headers)

		require.NotNil(t, sc)
		assert.Equal(t, traceID, sc.TraceID)
		assert.Equal(t, spanID, sc.ParentSpanID)
		assert.Equal(t, sampled, sc.Sampled)
	}
}

func TestInjectContext_NoCurrentSpan(t *testing.T) {
	headers := map[string]string{"existing": "v"}

	out := propagation.InjectContext(context.Background(), headers)

	assert.Equal(t, headers, out)
	_, has := out["traceparent"]
	assert.False(t, has)
}

func TestInjectContext_CurrentSpan(t *testing.T) {
	trace := tracing.NewTrace(tracing.WithSampled(true))
	ctx := tracing.ContextWithTrace(context.Background(), trace)
	span := tracing.NewSpan("x", tracing.CategoryHTTPClient, tracing.WithSpanTraceID(trace.TraceID))
	ctx = tracing.ContextWithSpan(ctx, span)

	out := propagation.InjectContext(ctx, nil)

	assert.Equal(t, "00-"+trace.TraceID+"-"+span.SpanID()+"-01", out["traceparent"])
}
