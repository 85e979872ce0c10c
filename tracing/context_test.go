package tracing_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniapm/miniapm-go/tracing"
)

func TestContextWithTrace_SetsCurrent(t *testing.T) {
	trace := tracing.NewTrace()

	ctx := tracing.ContextWithTrace(context.Background(), trace)

	assert.Same(t, trace, tracing.CurrentTrace(ctx))
	assert.Equal(t, trace.TraceID, tracing.CurrentTraceID(ctx))
	assert.Nil(t, tracing.CurrentSpan(ctx))
	assert.Empty(t, tracing.SpanStack(ctx))
}

func TestCurrentTrace_EmptyContext(t *testing.T) {
	ctx := context.Background()

	assert.Nil(t, tracing.CurrentTrace(ctx))
	assert.Empty(t, tracing.CurrentTraceID(ctx))
	assert.Nil(t, tracing.CurrentSpan(ctx))
}

func TestWithSpan_RestoresPrevious(t *testing.T) {
	trace := tracing.NewTrace()
	ctx := tracing.ContextWithTrace(context.Background(), trace)

	outer := tracing.NewSpan("outer", tracing.CategoryHTTPServer, tracing.WithSpanTraceID(trace.TraceID))
	ctx = tracing.ContextWithSpan(ctx, outer)
	require.Same(t, outer, tracing.CurrentSpan(ctx))

	inner := outer.NewChild("inner", tracing.CategoryDB, nil)
	err := tracing.WithSpan(ctx, inner, func(ctx context.Context) error {
		assert.Same(t, inner, tracing.CurrentSpan(ctx))
		assert.Len(t, tracing.SpanStack(ctx), 2)
		return nil
	})

	require.NoError(t, err)
	assert.Same(t, outer, tracing.CurrentSpan(ctx))
	assert.Len(t, tracing.SpanStack(ctx), 1)
}

func TestWithSpan_RestoresOnError(t *testing.T) {
	trace := tracing.NewTrace()
	ctx := tracing.ContextWithTrace(context.Background(), trace)

	outer := tracing.NewSpan("outer", tracing.CategoryHTTPServer)
	ctx = tracing.ContextWithSpan(ctx, outer)

	inner := outer.NewChild("inner", tracing.CategoryDB, nil)
	err := tracing.WithSpan(ctx, inner, func(ctx context.Context) error {
		return errors.New("boom")
	})

	assert.Error(t, err)
	assert.Same(t, outer, tracing.CurrentSpan(ctx))
}

func TestWithSpan_RestoresOnPanic(t *testing.T) {
	ctx := tracing.ContextWithTrace(context.Background(), tracing.NewTrace())
	outer := tracing.NewSpan("outer", tracing.CategoryHTTPServer)
	ctx = tracing.ContextWithSpan(ctx, outer)

	inner := outer.NewChild("inner", tracing.CategoryDB, nil)
	assert.Panics(t, func() {
		_ = tracing.WithSpan(ctx, inner, func(ctx context.Context) error {
			panic("boom")
		})
	})

	assert.Same(t, outer, tracing.CurrentSpan(ctx))
}

func TestWithTrace_FreshScopeAndRestore(t *testing.T) {
	first := tracing.NewTrace()
	ctx := tracing.ContextWithTrace(context.Background(), first)

	span := tracing.NewSpan("outer", tracing.CategoryHTTPServer)
	ctx = tracing.ContextWithSpan(ctx, span)

	second := tracing.NewTrace()
	err := tracing.WithTrace(ctx, second, func(ctx context.Context) error {
		assert.Same(t, second, tracing.CurrentTrace(ctx))
		// The new scope starts with an empty span stack.
		assert.Nil(t, tracing.CurrentSpan(ctx))
		assert.Empty(t, tracing.SpanStack(ctx))
		return nil
	})

	require.NoError(t, err)
	assert.Same(t, first, tracing.CurrentTrace(ctx))
	assert.Same(t, span, tracing.CurrentSpan(ctx))
}

func TestNewRootSpan(t *testing.T) {
	ctx, span := tracing.NewRootSpan(context.Background(), "job", tracing.CategoryJob, nil)

	require.NotNil(t, span)
	assert.True(t, span.IsRoot())
	assert.Same(t, span, tracing.CurrentSpan(ctx))
	assert.Equal(t, span.TraceID(), tracing.CurrentTraceID(ctx))
}

func TestClearContext(t *testing.T) {
	ctx := tracing.ContextWithTrace(context.Background(), tracing.NewTrace())
	ctx = tracing.ContextWithSpan(ctx, tracing.NewSpan("x", tracing.CategoryDB))

	ctx = tracing.ClearContext(ctx)

	assert.Nil(t, tracing.CurrentTrace(ctx))
	assert.Nil(t, tracing.CurrentSpan(ctx))
}

func TestContextIsolation_AcrossGoroutines(t *testing.T) {
	base := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			trace := tracing.NewTrace()
			ctx := tracing.ContextWithTrace(base, trace)
			span := tracing.NewSpan("work", tracing.CategoryJob, tracing.WithSpanTraceID(trace.TraceID))
			ctx = tracing.ContextWithSpan(ctx, span)

			// Each goroutine observes only its own trace and span.
			assert.Equal(t, trace.TraceID, tracing.CurrentTraceID(ctx))
			assert.Same(t, span, tracing.CurrentSpan(ctx))
		}()
	}
	wg.Wait()

	assert.Nil(t, tracing.CurrentTrace(base))
}
