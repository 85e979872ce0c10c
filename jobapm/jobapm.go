// Package jobapm propagates trace context across background-job
// boundaries through three well-known metadata keys on the job payload,
// and wraps job processing in a root span of category job.
package jobapm

import (
	"context"
	"fmt"

	miniapm "github.com/miniapm/miniapm-go"
	"github.com/miniapm/miniapm-go/tracing"
)

// Metadata keys carried on job payloads.
const (
	MetaTraceID      = "_miniapm_trace_id"
	MetaParentSpanID = "_miniapm_parent_span_id"
	MetaSampled      = "_miniapm_sampled"
)

// Inject writes the current trace context into the job metadata on the
// enqueue side. Without an active span the metadata is returned unchanged.
func Inject(ctx context.Context, meta map[string]string) map[string]string {
	span := tracing.CurrentSpan(ctx)
	if span == nil {
		return meta
	}

	if meta == nil {
		meta = make(map[string]string, 3)
	}

	sampled := "true"
	if trace := tracing.CurrentTrace(ctx); trace != nil && !trace.Sampled {
		sampled = "false"
	}

	meta[MetaTraceID] = span.TraceID()
	meta[MetaParentSpanID] = span.SpanID()
	meta[MetaSampled] = sampled

	return meta
}

// Extract reads the propagated context on the process side. The returned
// trace honors the upstream sampling decision; without propagation keys a
// fresh trace with a local sampling decision is returned and the parent
// span ID is empty.
func Extract(meta map[string]string) (*tracing.Trace, string) {
	traceID := meta[MetaTraceID]
	if traceID == "" {
		return tracing.NewTrace(), ""
	}

	opts := []tracing.TraceOption{tracing.WithTraceID(traceID)}
	if sampled, ok := meta[MetaSampled]; ok {
		opts = append(opts, tracing.WithSampled(sampled == "true"))
	}

	return tracing.NewTrace(opts...), meta[MetaParentSpanID]
}

// WithJob runs body inside a root job span linked to the propagated parent
// span. An unsampled upstream decision skips span bookkeeping and just
// runs body under the extracted trace. The span is finished and enqueued
// on every exit path, with a body error or panic recorded first.
func WithJob(ctx context.Context, name string, meta map[string]string, body func(ctx context.Context) error) error {
	if !miniapm.Enabled() {
		return body(ctx)
	}

	trace, parentSpanID := Extract(meta)
	ctx = tracing.ContextWithTrace(ctx, trace)

	if !trace.Sampled {
		return body(ctx)
	}

	span := tracing.NewSpan(name, tracing.CategoryJob,
		tracing.WithSpanTraceID(trace.TraceID),
		tracing.WithParentSpanID(parentSpanID),
	)

	defer func() {
		if r := recover(); r != nil {
			span.RecordException(fmt.Errorf("panic: %v", r), nil)
			span.Finish()
			miniapm.RecordSpan(span)
			panic(r)
		}
	}()

	err := tracing.WithSpan(ctx, span, body)
	if err != nil {
		span.RecordException(err, nil)
	}

	span.Finish()
	miniapm.RecordSpan(span)

	return err
}
