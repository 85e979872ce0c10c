// Package propagation implements W3C Trace Context propagation over HTTP
// headers, delegating traceparent parsing and formatting to the
// OpenTelemetry propagator. Only the traceparent header is interpreted;
// tracestate and other fields are ignored but never rejected.
package propagation

import (
	"context"
	"strings"

	otelprop "go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/miniapm/miniapm-go/tracing"
)

// HeaderName is the canonical lowercase traceparent header key.
const HeaderName = "traceparent"

// supportedVersion is the only traceparent version accepted on extraction.
// The otel propagator tolerates future versions; the collector contract
// does not, so version is pre-checked before delegating.
const supportedVersion = "00"

// headerLookups are the carrier keys probed on extraction, covering direct
// HTTP headers, canonicalized forms and CGI-style framework conventions.
var headerLookups = []string{ //nolint:gochecknoglobals // fixed lookup order
	"traceparent",
	"Traceparent",
	"HTTP_TRACEPARENT",
}

// w3c is the shared W3C Trace Context codec. It is stateless and safe for
// concurrent use.
var w3c = otelprop.TraceContext{} //nolint:gochecknoglobals // stateless codec

// carrier adapts a plain header mapping to otel's TextMapCarrier. Reads of
// the traceparent key probe every host-framework convention; writes land
// under lowercase keys.
type carrier map[string]string

func (c carrier) Get(key string) string {
	if v, ok := c[key]; ok {
		return v
	}

	if strings.EqualFold(key, HeaderName) {
		for _, k := range headerLookups {
			if v, ok := c[k]; ok {
				return v
			}
		}
	}

	return ""
}

func (c carrier) Set(key, value string) {
	c[strings.ToLower(key)] = value
}

func (c carrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// SpanContext is the propagated remote context: the upstream trace, the
// span the upstream was in, and its sampling decision.
type SpanContext struct {
	TraceID      string
	ParentSpanID string
	Sampled      bool
}

// Extract parses a traceparent header out of the carrier. It returns nil
// when no header is present, the version is not "00", or any field is
// malformed.
func Extract(headers map[string]string) *SpanContext {
	raw := carrier(headers).Get(HeaderName)
	if raw == "" {
		return nil
	}

	if !strings.HasPrefix(strings.TrimSpace(raw), supportedVersion+"-") {
		return nil
	}

	ctx := w3c.Extract(context.Background(), carrier(headers))

	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}

	return &SpanContext{
		TraceID:      sc.TraceID().String(),
		ParentSpanID: sc.SpanID().String(),
		Sampled:      sc.IsSampled(),
	}
}

// Inject writes a traceparent header for the given identifiers under the
// lowercase key and returns the carrier. Malformed identifiers leave the
// carrier unchanged.
func Inject(headers map[string]string, traceID, spanID string, sampled bool) map[string]string {
	if headers == nil {
		headers = make(map[string]string, 1)
	}

	tid, err := oteltrace.TraceIDFromHex(traceID)
	if err != nil {
		return headers
	}

	sid, err := oteltrace.SpanIDFromHex(spanID)
	if err != nil {
		return headers
	}

	var flags oteltrace.TraceFlags
	if sampled {
		flags = oteltrace.FlagsSampled
	}

	sc := oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: flags,
	})

	w3c.Inject(oteltrace.ContextWithSpanContext(context.Background(), sc), carrier(headers))

	return headers
}

// InjectContext propagates the current trace and span from ctx into the
// carrier. Without a current span the carrier is returned unchanged.
func InjectContext(ctx context.Context, headers map[string]string) map[string]string {
	span := tracing.CurrentSpan(ctx)
	if span == nil {
		return headers
	}

	sampled := true
	if trace := tracing.CurrentTrace(ctx); trace != nil {
		sampled = trace.Sampled
	}

	return Inject(headers, span.TraceID(), span.SpanID(), sampled)
}
