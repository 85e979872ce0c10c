// Package miniapm is the public facade of the APM client. Hosts configure
// it once, start it, and hand it spans and errors; everything past the
// enqueue call happens on library-owned goroutines, so instrumented code
// never waits on the collector.
//
// Typical embedding:
//
//	miniapm.Configure(func(c *miniapm.Config) {
//		c.Endpoint = "https://apm.example.com"
//		c.APIKey = os.Getenv("MINIAPM_API_KEY")
//		c.ServiceName = "billing"
//	})
//	if err := miniapm.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer miniapm.Stop()
package miniapm

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/code19m/errx"
	"github.com/samber/lo"

	"github.com/miniapm/miniapm-go/batcher"
	"github.com/miniapm/miniapm-go/errevent"
	"github.com/miniapm/miniapm-go/exporter"
	"github.com/miniapm/miniapm-go/logger"
	"github.com/miniapm/miniapm-go/paramfilter"
	"github.com/miniapm/miniapm-go/tracing"
	"github.com/miniapm/miniapm-go/transport"
)

// Category re-exports the span category so most hosts only import this
// package.
type Category = tracing.Category

// Span categories.
const (
	CategoryHTTPServer = tracing.CategoryHTTPServer
	CategoryHTTPClient = tracing.CategoryHTTPClient
	CategoryDB         = tracing.CategoryDB
	CategoryView       = tracing.CategoryView
	CategorySearch     = tracing.CategorySearch
	CategoryJob        = tracing.CategoryJob
	CategoryRake       = tracing.CategoryRake
	CategoryCache      = tracing.CategoryCache
	CategoryInternal   = tracing.CategoryInternal
)

// agent bundles everything a started client owns.
type agent struct {
	cfg      Config
	log      logger.Logger
	filterer *paramfilter.Filterer
	client   *transport.Client
	expCfg   exporter.Config
	sender   *batcher.Sender
}

//nolint:gochecknoglobals // the client is a process-wide singleton by design
var (
	mu     sync.Mutex
	cfg    = newDefaultConfig()
	active atomic.Pointer[agent]
)

// Configure mutates the pending configuration. Call before Start;
// configuring a running client only affects the next Start.
func Configure(fn func(*Config)) {
	mu.Lock()
	defer mu.Unlock()
	fn(&cfg)
}

// Start validates the configuration and brings up the background pipeline.
// Idempotent while running. A disabled configuration makes Start a
// successful no-op. Invalid configuration is fatal and returned to the
// caller; nothing is started.
func Start() error {
	mu.Lock()
	defer mu.Unlock()

	if active.Load() != nil {
		return nil
	}

	if !cfg.Enabled {
		return nil
	}

	if err := cfg.validate(); err != nil {
		return errx.Wrap(err)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return errx.Wrap(err)
	}
	logger.SetGlobal(log)

	tracing.SetSampleRate(cfg.SampleRate)

	expCfg := exporter.Config{
		Endpoint:       cfg.Endpoint,
		APIKey:         cfg.APIKey,
		ServiceName:    cfg.ServiceName,
		Environment:    cfg.Environment,
		ServiceVersion: cfg.ServiceVersion,
		Host:           cfg.Host,
		GitSHA:         cfg.GitSHA,
	}

	client := transport.New(exporter.UserAgent())
	filterer := paramfilter.New(cfg.filterPatterns()...)

	sender := batcher.New(batcher.Config{
		BatchSize:          cfg.BatchSize,
		FlushInterval:      cfg.FlushInterval,
		MaxQueueSize:       cfg.MaxQueueSize,
		MaxConcurrentSends: cfg.MaxConcurrentSends,
	}, exporter.NewOTLP(expCfg, client), exporter.NewErrors(expCfg, client))
	sender.Start()

	a := &agent{
		cfg:      cfg,
		log:      log.Named("miniapm"),
		filterer: filterer,
		client:   client,
		expCfg:   expCfg,
		sender:   sender,
	}
	active.Store(a)

	a.log.With(
		"endpoint", cfg.Endpoint,
		"service_name", cfg.ServiceName,
		"environment", cfg.Environment,
		"sample_rate", cfg.SampleRate,
		"api_key_set", cfg.APIKey != "",
	).Info("miniapm started")

	return nil
}

// Stop flushes and tears down the background pipeline. Idempotent. Hosts
// should call it on shutdown so buffered telemetry is not lost.
func Stop() {
	mu.Lock()
	defer mu.Unlock()

	a := active.Load()
	if a == nil {
		return
	}

	a.sender.Stop()
	_ = a.log.Sync()
	active.Store(nil)
}

// Enabled reports whether the client is started and accepting telemetry.
func Enabled() bool {
	return active.Load() != nil
}

// Span runs body inside a span. A missing trace is created (sampling
// applies); an unsampled trace bypasses span bookkeeping entirely and just
// runs body. The span is finished and enqueued however body exits, and a
// body error marks the span failed before being returned unchanged.
func Span(
	ctx context.Context,
	name string,
	category Category,
	attrs map[string]any,
	body func(ctx context.Context) error,
) error {
	if !Enabled() {
		return body(ctx)
	}

	trace := tracing.CurrentTrace(ctx)
	if trace == nil {
		trace = tracing.NewTrace()
		ctx = tracing.ContextWithTrace(ctx, trace)
	}

	if !trace.Sampled {
		return body(ctx)
	}

	var span *tracing.Span
	if parent := tracing.CurrentSpan(ctx); parent != nil {
		span = parent.NewChild(name, category, attrs)
	} else {
		span = tracing.NewSpan(name, category,
			tracing.WithSpanTraceID(trace.TraceID),
			tracing.WithAttributes(attrs),
		)
	}

	defer func() {
		span.Finish()
		RecordSpan(span)
	}()

	err := tracing.WithSpan(ctx, span, body)
	if err != nil {
		span.RecordException(err, captureBacktrace())
	}

	return err
}

// StartSpan creates a span under the current context without running a
// body: the caller finishes and records it. A fresh trace is created when
// none is active. The returned context carries the span as current; for a
// stopped client or an unsampled trace the span is nil and the context is
// passed through.
func StartSpan(
	ctx context.Context,
	name string,
	category Category,
	attrs map[string]any,
) (context.Context, *tracing.Span) {
	if !Enabled() {
		return ctx, nil
	}

	trace := tracing.CurrentTrace(ctx)
	if trace == nil {
		trace = tracing.NewTrace()
		ctx = tracing.ContextWithTrace(ctx, trace)
	}

	if !trace.Sampled {
		return ctx, nil
	}

	var span *tracing.Span
	if parent := tracing.CurrentSpan(ctx); parent != nil {
		span = parent.NewChild(name, category, attrs)
	} else {
		span = tracing.NewSpan(name, category,
			tracing.WithSpanTraceID(trace.TraceID),
			tracing.WithAttributes(attrs),
		)
	}

	return tracing.ContextWithSpan(ctx, span), span
}

// RecordSpan enqueues a finished span for export, running the BeforeSend
// hook first. A hook returning nil drops the span; a panicking hook is
// logged and the original span proceeds.
func RecordSpan(span *tracing.Span) {
	a := active.Load()
	if a == nil || span == nil {
		return
	}

	out := span
	if a.cfg.BeforeSend != nil {
		out = a.runBeforeSend(span)
		if out == nil {
			return
		}
	}

	a.sender.EnqueueSpan(out)
}

func (a *agent) runBeforeSend(span *tracing.Span) (out *tracing.Span) {
	defer func() {
		if r := recover(); r != nil {
			a.log.With("panic", r).Error("before_send hook panicked, keeping original span")
			out = span
		}
	}()

	return a.cfg.BeforeSend(span)
}

// RecordError captures err as an error event and enqueues it. The context
// mapping may carry request_id, user_id and params plus any free-form
// keys. Errors whose class is listed in IgnoredExceptions are skipped.
func RecordError(err error, context map[string]any) {
	a := active.Load()
	if a == nil || err == nil {
		return
	}

	class := errorClass(err)
	if lo.Contains(a.cfg.IgnoredExceptions, class) {
		return
	}

	event := errevent.New(class, err.Error(), captureBacktrace(),
		errevent.WithContext(context),
		errevent.WithFilterer(a.filterer),
	)

	a.sender.EnqueueError(event)
}

// CurrentTraceID returns the active trace ID in ctx, or "".
func CurrentTraceID(ctx context.Context) string {
	return tracing.CurrentTraceID(ctx)
}

// CurrentSpanID returns the innermost active span ID in ctx, or "".
func CurrentSpanID(ctx context.Context) string {
	if span := tracing.CurrentSpan(ctx); span != nil {
		return span.SpanID()
	}
	return ""
}

// Flush pushes everything queued so far to the collector, blocking up to
// 5 s.
func Flush() {
	if a := active.Load(); a != nil {
		a.sender.Flush()
	}
}

// Stats returns a snapshot of the sender's counters. Zero when the client
// is stopped.
func Stats() batcher.Stats {
	if a := active.Load(); a != nil {
		return a.sender.Stats()
	}
	return batcher.Stats{}
}

// ResetStats zeroes the counters. Intended for test isolation.
func ResetStats() {
	if a := active.Load(); a != nil {
		a.sender.ResetStats()
	}
}

// Healthy checks the collector's health endpoint with the configured
// credentials.
func Healthy() bool {
	a := active.Load()
	if a == nil || a.cfg.Endpoint == "" {
		return false
	}
	return exporter.CheckHealth(a.expCfg, a.client)
}

// Filterer exposes the configured parameter filter to adapters.
func Filterer() *paramfilter.Filterer {
	if a := active.Load(); a != nil {
		return a.filterer
	}
	return paramfilter.Default()
}

// IsIgnoredException reports whether the error's class is configured to
// skip error reporting.
func IsIgnoredException(err error) bool {
	a := active.Load()
	if a == nil || err == nil {
		return false
	}
	return lo.Contains(a.cfg.IgnoredExceptions, errorClass(err))
}
