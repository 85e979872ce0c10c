package tracing

import (
	"strings"
	"sync"
	"time"

	"github.com/miniapm/miniapm-go/ident"
)

// Category classifies what a span measures. Unknown categories collapse to
// CategoryInternal at construction time.
type Category string

// Known span categories.
const (
	CategoryHTTPServer Category = "http_server"
	CategoryHTTPClient Category = "http_client"
	CategoryDB         Category = "db"
	CategoryView       Category = "view"
	CategorySearch     Category = "search"
	CategoryJob        Category = "job"
	CategoryRake       Category = "rake"
	CategoryCache      Category = "cache"
	CategoryInternal   Category = "internal"
)

// Kind is the OTLP span kind derived from the category.
type Kind int

// OTLP span kind codes.
const (
	KindInternal Kind = 1
	KindServer   Kind = 2
	KindClient   Kind = 3
	KindConsumer Kind = 5
)

// categoryKinds maps every known category to its OTLP kind.
var categoryKinds = map[Category]Kind{ //nolint:gochecknoglobals // fixed lookup table
	CategoryHTTPServer: KindServer,
	CategoryHTTPClient: KindClient,
	CategoryDB:         KindClient,
	CategorySearch:     KindClient,
	CategoryJob:        KindConsumer,
	CategoryView:       KindInternal,
	CategoryCache:      KindInternal,
	CategoryRake:       KindInternal,
	CategoryInternal:   KindInternal,
}

// Status is the span outcome code.
type Status int

// OTLP status codes.
const (
	StatusUnset Status = 0
	StatusOK    Status = 1
	StatusError Status = 2
)

// Mutation-time bounds. Violations are silently dropped or truncated so
// instrumentation can never fail the caller.
const (
	maxNameLen      = 256
	maxKeyLen       = 128
	maxValueLen     = 4096
	maxAttributes   = 128
	maxEvents       = 128
	maxEventAttrs   = 32
	maxArrayElems   = 32
	maxStackLines   = 30
	maxStatusMsgLen = 4096
	exceptionEvent  = "exception"
)

// Attr is a single sanitized key/value pair. Values are already reduced to
// the supported scalar/array forms by the time they are stored.
type Attr struct {
	Key   string
	Value any
}

// Event is a point-in-time annotation on a span.
type Event struct {
	Name         string
	TimeUnixNano int64
	Attrs        []Attr
}

// Span is one timed unit of work within a trace. Spans are mutable until
// they are handed to the sender; all mutating operations are safe for
// concurrent use.
type Span struct {
	mu sync.Mutex

	traceID      string
	spanID       string
	parentSpanID string

	name     string
	category Category

	startTime int64
	endTime   int64

	attrs     []Attr
	attrIndex map[string]int
	events    []Event

	status    Status
	statusMsg string
}

// SpanOption customizes span construction.
type SpanOption func(*spanOptions)

type spanOptions struct {
	traceID      string
	parentSpanID string
	attrs        map[string]any
}

// WithSpanTraceID places the span into an existing trace. Malformed IDs are
// replaced with a freshly generated one.
func WithSpanTraceID(traceID string) SpanOption {
	return func(o *spanOptions) { o.traceID = traceID }
}

// WithParentSpanID links the span under a parent. Malformed IDs leave the
// span a root.
func WithParentSpanID(parentSpanID string) SpanOption {
	return func(o *spanOptions) { o.parentSpanID = parentSpanID }
}

// WithAttributes sets initial attributes. They pass through the same
// sanitization and caps as AddAttribute.
func WithAttributes(attrs map[string]any) SpanOption {
	return func(o *spanOptions) { o.attrs = attrs }
}

// NewSpan creates a started span. The name is truncated to 256 characters,
// unknown categories become internal, a malformed trace ID is regenerated
// and a malformed parent ID is dropped.
func NewSpan(name string, category Category, opts ...SpanOption) *Span {
	var o spanOptions
	for _, opt := range opts {
		opt(&o)
	}

	if _, known := categoryKinds[category]; !known {
		category = CategoryInternal
	}

	traceID := o.traceID
	if !ident.ValidTraceID(traceID) {
		traceID = ident.NewTraceID()
	}

	parentSpanID := o.parentSpanID
	if !ident.ValidSpanID(parentSpanID) {
		parentSpanID = ""
	}

	s := &Span{
		traceID:      traceID,
		spanID:       ident.NewSpanID(),
		parentSpanID: parentSpanID,
		name:         truncate(name, maxNameLen),
		category:     category,
		startTime:    time.Now().UnixNano(),
		attrIndex:    make(map[string]int),
	}

	for k, v := range o.attrs {
		s.AddAttribute(k, v)
	}

	return s
}

// NewChild creates a span in the same trace with this span as parent.
func (s *Span) NewChild(name string, category Category, attrs map[string]any) *Span {
	return NewSpan(name, category,
		WithSpanTraceID(s.TraceID()),
		WithParentSpanID(s.SpanID()),
		WithAttributes(attrs),
	)
}

// TraceID returns the ID of the trace the span belongs to.
func (s *Span) TraceID() string { return s.traceID }

// SpanID returns the span's own ID.
func (s *Span) SpanID() string { return s.spanID }

// ParentSpanID returns the parent span ID, or "" for a root span.
func (s *Span) ParentSpanID() string { return s.parentSpanID }

// Name returns the span name.
func (s *Span) Name() string { return s.name }

// Category returns the span category.
func (s *Span) Category() Category { return s.category }

// Kind returns the OTLP kind derived from the category.
func (s *Span) Kind() Kind { return categoryKinds[s.category] }

// StartTime returns the start instant in Unix nanoseconds.
func (s *Span) StartTime() int64 { return s.startTime }

// EndTime returns the end instant in Unix nanoseconds, or 0 while the span
// is unfinished.
func (s *Span) EndTime() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endTime
}

// IsRoot reports whether the span has no parent.
func (s *Span) IsRoot() bool { return s.parentSpanID == "" }

// IsError reports whether the span status is ERROR.
func (s *Span) IsError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusError
}

// Finished reports whether Finish has been called.
func (s *Span) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endTime != 0
}

// Finish stamps the end time. It is idempotent; only the first call takes
// effect.
func (s *Span) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.endTime != 0 {
		return
	}
	s.endTime = time.Now().UnixNano()
}

// AddAttribute records a key/value pair. Keys are truncated to 128
// characters and values sanitized to the supported scalar/array forms.
// Once 128 attributes are set, new keys are silently dropped; existing
// keys are overwritten.
func (s *Span) AddAttribute(key string, value any) {
	key = truncate(key, maxKeyLen)

	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.attrIndex[key]; ok {
		s.attrs[idx].Value = sanitizeValue(value)
		return
	}

	if len(s.attrs) >= maxAttributes {
		return
	}

	s.attrIndex[key] = len(s.attrs)
	s.attrs = append(s.attrs, Attr{Key: key, Value: sanitizeValue(value)})
}

// AddEvent records a named point-in-time annotation with the current
// timestamp. Events beyond 128 are dropped; event attributes are capped at
// 32 per event.
func (s *Span) AddEvent(name string, attrs map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addEventLocked(name, attrs)
}

func (s *Span) addEventLocked(name string, attrs map[string]any) {
	if len(s.events) >= maxEvents {
		return
	}

	event := Event{
		Name:         truncate(name, maxNameLen),
		TimeUnixNano: time.Now().UnixNano(),
	}

	for k, v := range attrs {
		if len(event.Attrs) >= maxEventAttrs {
			break
		}
		event.Attrs = append(event.Attrs, Attr{
			Key:   truncate(k, maxKeyLen),
			Value: sanitizeValue(v),
		})
	}

	s.events = append(s.events, event)
}

// RecordException marks the span as failed and attaches an "exception"
// event carrying the error type, message and the first 30 backtrace lines.
func (s *Span) RecordException(err error, backtrace []string) {
	if err == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = StatusError
	s.statusMsg = truncate(err.Error(), maxStatusMsgLen)

	if len(backtrace) > maxStackLines {
		backtrace = backtrace[:maxStackLines]
	}

	s.addEventLocked(exceptionEvent, map[string]any{
		"exception.type":       errorType(err),
		"exception.message":    err.Error(),
		"exception.stacktrace": strings.Join(backtrace, "\n"),
	})
}

// SetError marks the span status as ERROR with an optional message.
func (s *Span) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = StatusError
	s.statusMsg = truncate(msg, maxStatusMsgLen)
}

// SetOK marks the span status as OK and clears any status message.
func (s *Span) SetOK() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = StatusOK
	s.statusMsg = ""
}

// Status returns the current status code.
func (s *Span) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// StatusMessage returns the current status message.
func (s *Span) StatusMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusMsg
}

// Attributes returns a copy of the span attributes in insertion order.
func (s *Span) Attributes() []Attr {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Attr, len(s.attrs))
	copy(out, s.attrs)
	return out
}

// Events returns a copy of the recorded events in order.
func (s *Span) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
