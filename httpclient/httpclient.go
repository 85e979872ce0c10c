// Package httpclient instruments outbound HTTP: a RoundTripper that opens
// an http_client child span around each request and propagates the current
// trace context downstream via the traceparent header.
package httpclient

import (
	"fmt"
	"net/http"

	miniapm "github.com/miniapm/miniapm-go"
	"github.com/miniapm/miniapm-go/propagation"
	"github.com/miniapm/miniapm-go/tracing"
)

// Transport wraps a base RoundTripper with tracing. The zero value is not
// usable; construct with NewTransport.
type Transport struct {
	base http.RoundTripper
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base}
}

// NewClient returns an *http.Client with tracing installed.
func NewClient(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}

	clone := *base
	clone.Transport = NewTransport(base.Transport)
	return &clone
}

// RoundTrip sends the request. With an active sampled trace on the request
// context it creates a child span of category http_client, injects the
// traceparent header and records the response status; a transport error or
// a status of 400 and above marks the span failed. Without an active span
// the request passes through untouched.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	parent := tracing.CurrentSpan(ctx)
	if !miniapm.Enabled() || parent == nil {
		return t.base.RoundTrip(req)
	}

	trace := tracing.CurrentTrace(ctx)
	if trace != nil && !trace.Sampled {
		return t.base.RoundTrip(req)
	}

	span := parent.NewChild(
		fmt.Sprintf("%s %s", req.Method, req.URL.Host),
		tracing.CategoryHTTPClient,
		requestAttrs(req),
	)

	// Requests must not be mutated after RoundTrip is entered; work on a
	// shallow clone with copied headers.
	out := req.Clone(tracing.ContextWithSpan(ctx, span))
	injectTraceparent(out, span, trace)

	resp, err := t.base.RoundTrip(out)

	switch {
	case err != nil:
		span.RecordException(err, nil)
	case resp.StatusCode >= http.StatusBadRequest:
		span.AddAttribute("http.status_code", resp.StatusCode)
		span.SetError(fmt.Sprintf("HTTP %d", resp.StatusCode))
	default:
		span.AddAttribute("http.status_code", resp.StatusCode)
	}

	span.Finish()
	miniapm.RecordSpan(span)

	return resp, err
}

func requestAttrs(req *http.Request) map[string]any {
	attrs := map[string]any{
		"http.method":   req.Method,
		"http.url":      req.URL.String(),
		"http.host":     req.URL.Host,
		"net.peer.name": req.URL.Hostname(),
	}
	if port := req.URL.Port(); port != "" {
		attrs["net.peer.port"] = port
	}
	return attrs
}

func injectTraceparent(req *http.Request, span *tracing.Span, trace *tracing.Trace) {
	sampled := true
	if trace != nil {
		sampled = trace.Sampled
	}

	carrier := propagation.Inject(nil, span.TraceID(), span.SpanID(), sampled)
	for k, v := range carrier {
		req.Header.Set(k, v)
	}
}
