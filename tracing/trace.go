// Package tracing holds the span model of the library: traces, spans,
// attribute sanitization, OTLP mapping and the context-local store that
// tracks the current trace and the stack of active spans.
package tracing

import (
	"math/rand"
	"sync/atomic"

	"github.com/miniapm/miniapm-go/ident"
)

// sampleRate holds the process-wide sampling fraction as a float64 inside
// an atomic.Value. The facade updates it at Start so this package
// never imports the configuration.
var sampleRate atomic.Value //nolint:gochecknoglobals // process-wide sampling fraction

func init() { //nolint:gochecknoinits // seed the default sampling fraction
	sampleRate.Store(1.0)
}

// SetSampleRate sets the process-wide sampling fraction used when a trace
// is created without an explicit sampling decision. Values are clamped to
// [0, 1].
func SetSampleRate(rate float64) {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	sampleRate.Store(rate)
}

// SampleRate returns the process-wide sampling fraction.
func SampleRate() float64 {
	rate, _ := sampleRate.Load().(float64)
	return rate
}

// Trace identifies one logical end-to-end operation. It is immutable after
// creation; all spans of the operation inherit its TraceID, and its Sampled
// flag decides whether any of them are exported.
type Trace struct {
	TraceID string
	Sampled bool
}

// TraceOption customizes trace construction.
type TraceOption func(*traceOptions)

type traceOptions struct {
	traceID string
	sampled *bool
}

// WithTraceID reuses an upstream trace ID. Malformed IDs are ignored and a
// fresh one is generated instead.
func WithTraceID(id string) TraceOption {
	return func(o *traceOptions) { o.traceID = id }
}

// WithSampled fixes the sampling decision instead of drawing it from the
// configured sample rate. Used when an upstream already decided.
func WithSampled(sampled bool) TraceOption {
	return func(o *traceOptions) { o.sampled = &sampled }
}

// NewTrace creates a trace. Without options the trace gets a fresh ID and a
// probabilistic sampling decision drawn against the configured sample rate.
// An upstream decision passed via WithSampled is honored in both directions;
// there is no downstream re-sampling.
func NewTrace(opts ...TraceOption) *Trace {
	var o traceOptions
	for _, opt := range opts {
		opt(&o)
	}

	traceID := o.traceID
	if !ident.ValidTraceID(traceID) {
		traceID = ident.NewTraceID()
	}

	sampled := false
	if o.sampled != nil {
		sampled = *o.sampled
	} else {
		sampled = rand.Float64() < SampleRate() //nolint:gosec // sampling needs no crypto strength
	}

	return &Trace{
		TraceID: traceID,
		Sampled: sampled,
	}
}
