// Package fiberapm binds the client's embedding contract to fiber hosts:
// a tracing middleware that continues or starts a trace per request, and
// an error middleware that reports unhandled request errors.
package fiberapm

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/samber/lo"

	miniapm "github.com/miniapm/miniapm-go"
	"github.com/miniapm/miniapm-go/propagation"
	"github.com/miniapm/miniapm-go/tracing"
)

// Option customizes the middlewares.
type Option func(*options)

type options struct {
	userID func(c *fiber.Ctx) any
}

// WithUserIDFunc supplies the host's session hook for resolving the
// current user on error reports.
func WithUserIDFunc(fn func(c *fiber.Ctx) any) Option {
	return func(o *options) { o.userID = fn }
}

// Middleware traces every request. An incoming traceparent is honored,
// including an upstream "not sampled" decision, in which case the request
// passes through untouched. The root span is finished and enqueued on
// every exit path; a panic is recorded on the span and re-raised to the
// host's own recovery.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !miniapm.Enabled() {
			return c.Next()
		}

		remote := propagation.Extract(carrierFromRequest(c))

		var trace *tracing.Trace
		parentSpanID := ""
		if remote != nil {
			trace = tracing.NewTrace(
				tracing.WithTraceID(remote.TraceID),
				tracing.WithSampled(remote.Sampled),
			)
			parentSpanID = remote.ParentSpanID
		} else {
			trace = tracing.NewTrace()
		}

		ctx := tracing.ContextWithTrace(c.UserContext(), trace)
		c.SetUserContext(ctx)

		if !trace.Sampled {
			return c.Next()
		}

		span := tracing.NewSpan(
			fmt.Sprintf("%s %s", c.Method(), c.Path()),
			tracing.CategoryHTTPServer,
			tracing.WithSpanTraceID(trace.TraceID),
			tracing.WithParentSpanID(parentSpanID),
			tracing.WithAttributes(requestAttrs(c)),
		)

		c.SetUserContext(tracing.ContextWithSpan(ctx, span))

		defer func() {
			if r := recover(); r != nil {
				span.RecordException(fmt.Errorf("panic: %v", r), nil)
				span.Finish()
				miniapm.RecordSpan(span)
				panic(r)
			}
		}()

		err := c.Next()

		status := c.Response().StatusCode()
		span.AddAttribute("http.status_code", status)
		if status >= fiber.StatusInternalServerError {
			span.SetError(fmt.Sprintf("HTTP %d", status))
		}
		if err != nil {
			span.RecordException(err, nil)
		}

		span.Finish()
		miniapm.RecordSpan(span)

		return err
	}
}

// ErrorMiddleware reports request errors as error events, with context
// derived from the request, then hands the error back to the host
// unchanged. Classes listed in IgnoredExceptions are skipped.
func ErrorMiddleware(opts ...Option) fiber.Handler {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return func(c *fiber.Ctx) error {
		err := c.Next()
		if err == nil || !miniapm.Enabled() || miniapm.IsIgnoredException(err) {
			return err
		}

		errCtx := map[string]any{
			"request_id": requestID(c),
			"url":        c.OriginalURL(),
			"method":     c.Method(),
			"params":     queryParams(c),
		}
		if o.userID != nil {
			if id := o.userID(c); id != nil {
				errCtx["user_id"] = id
			}
		}

		miniapm.RecordError(err, errCtx)

		return err
	}
}

func carrierFromRequest(c *fiber.Ctx) map[string]string {
	carrier := make(map[string]string, 1)
	if v := c.Get(propagation.HeaderName); v != "" {
		carrier[propagation.HeaderName] = v
	}
	return carrier
}

func requestAttrs(c *fiber.Ctx) map[string]any {
	attrs := map[string]any{
		"http.method": c.Method(),
		"http.url":    c.OriginalURL(),
		"http.scheme": c.Protocol(),
		"http.host":   c.Hostname(),
		"http.target": c.Path(),
	}

	if ua := c.Get(fiber.HeaderUserAgent); ua != "" {
		attrs["http.user_agent"] = ua
	}

	attrs["http.request_id"] = requestID(c)

	if queries := c.Queries(); len(queries) > 0 {
		// Names only; query values never leave the process.
		attrs["http.query_params"] = strings.Join(lo.Keys(queries), ",")
	}

	attrs["http.client_ip"] = clientIP(c)

	return attrs
}

func requestID(c *fiber.Ctx) string {
	if id := c.Get(fiber.HeaderXRequestID); id != "" {
		return id
	}

	// Generate one so the span and any error report stay correlated.
	if id, ok := c.Locals("miniapm_request_id").(string); ok {
		return id
	}
	id := uuid.NewString()
	c.Locals("miniapm_request_id", id)
	return id
}

func clientIP(c *fiber.Ctx) string {
	if fwd := c.Get(fiber.HeaderXForwardedFor); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if real := c.Get("X-Real-IP"); real != "" {
		return real
	}
	return c.IP()
}

func queryParams(c *fiber.Ctx) map[string]any {
	queries := c.Queries()
	params := make(map[string]any, len(queries))
	for k, v := range queries {
		params[k] = v
	}
	return params
}
