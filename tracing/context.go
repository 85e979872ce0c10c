package tracing

import "context"

// The current trace and span stack live in the context.Context of the
// execution path, Go's native per-task carrier. Each push creates a new
// immutable scope node, so concurrent goroutines branching from the same
// context observe independent stacks and a scope ends exactly where its
// context goes out of lexical scope — on success, error and panic alike.

type scopeKey struct{}

type scope struct {
	trace  *Trace
	span   *Span
	parent *scope
}

func scopeFrom(ctx context.Context) *scope {
	sc, _ := ctx.Value(scopeKey{}).(*scope)
	return sc
}

// ContextWithTrace starts a fresh tracing scope: trace becomes current and
// the span stack starts empty. Any previous scope is shadowed for the
// lifetime of the returned context.
func ContextWithTrace(ctx context.Context, trace *Trace) context.Context {
	return context.WithValue(ctx, scopeKey{}, &scope{trace: trace})
}

// ContextWithSpan pushes span onto the stack of the current scope. Without
// a current trace, a scope is created around the span's trace ID.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	parent := scopeFrom(ctx)

	trace := (*Trace)(nil)
	if parent != nil {
		trace = parent.trace
	}
	if trace == nil {
		trace = &Trace{TraceID: span.TraceID(), Sampled: true}
	}

	return context.WithValue(ctx, scopeKey{}, &scope{
		trace:  trace,
		span:   span,
		parent: parent,
	})
}

// CurrentTrace returns the trace of the active scope, or nil.
func CurrentTrace(ctx context.Context) *Trace {
	if sc := scopeFrom(ctx); sc != nil {
		return sc.trace
	}
	return nil
}

// CurrentTraceID returns the active trace ID, or "".
func CurrentTraceID(ctx context.Context) string {
	if trace := CurrentTrace(ctx); trace != nil {
		return trace.TraceID
	}
	return ""
}

// CurrentSpan returns the innermost active span, or nil.
func CurrentSpan(ctx context.Context) *Span {
	for sc := scopeFrom(ctx); sc != nil; sc = sc.parent {
		if sc.span != nil {
			return sc.span
		}
	}
	return nil
}

// SpanStack returns the active spans of the current scope, outermost first.
func SpanStack(ctx context.Context) []*Span {
	var stack []*Span
	for sc := scopeFrom(ctx); sc != nil; sc = sc.parent {
		if sc.span != nil {
			stack = append(stack, sc.span)
		}
	}

	// reverse to outermost-first
	for i, j := 0, len(stack)-1; i < j; i, j = i+1, j-1 {
		stack[i], stack[j] = stack[j], stack[i]
	}
	return stack
}

// WithSpan runs body with span pushed as the current span. The previous
// scope is restored for the caller no matter how body exits, because the
// push only lives in the derived context handed to body.
func WithSpan(ctx context.Context, span *Span, body func(ctx context.Context) error) error {
	return body(ContextWithSpan(ctx, span))
}

// WithTrace runs body inside a fresh scope for trace with an empty span
// stack. The caller's scope, span stack included, is untouched.
func WithTrace(ctx context.Context, trace *Trace, body func(ctx context.Context) error) error {
	return body(ContextWithTrace(ctx, trace))
}

// NewRootSpan creates a fresh trace, makes it current and returns a root
// span inside it along with the derived context. Used when no incoming
// propagation context exists.
func NewRootSpan(ctx context.Context, name string, category Category, attrs map[string]any) (context.Context, *Span) {
	trace := NewTrace()
	ctx = ContextWithTrace(ctx, trace)

	span := NewSpan(name, category,
		WithSpanTraceID(trace.TraceID),
		WithAttributes(attrs),
	)

	return ContextWithSpan(ctx, span), span
}

// ClearContext removes any tracing scope from the context.
func ClearContext(ctx context.Context) context.Context {
	if scopeFrom(ctx) == nil {
		return ctx
	}
	return context.WithValue(ctx, scopeKey{}, (*scope)(nil))
}
