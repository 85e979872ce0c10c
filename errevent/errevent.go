// Package errevent models the immutable error snapshot shipped to the
// collector: normalized message, truncated backtrace, deterministic
// fingerprint and filtered request parameters.
package errevent

import (
	"time"

	"github.com/spf13/cast"

	"github.com/miniapm/miniapm-go/paramfilter"
)

const (
	maxMessageLen    = 10000
	maxBacktraceLen  = 50
	truncationSuffix = "..."

	contextKeyRequestID = "request_id"
	contextKeyUserID    = "user_id"
	contextKeyParams    = "params"
)

// Event is one captured error occurrence. All normalization happens in New;
// the value is immutable afterwards.
type Event struct {
	ExceptionClass string
	Message        string
	Backtrace      []string
	Fingerprint    string
	Timestamp      time.Time

	RequestID string
	UserID    string
	Params    map[string]any
	Context   map[string]any
}

// Option customizes event construction.
type Option func(*options)

type options struct {
	context   map[string]any
	filterer  *paramfilter.Filterer
	timestamp time.Time
}

// WithContext attaches the caller-supplied context mapping. The well-known
// keys request_id, user_id and params are lifted into their own fields;
// everything else is kept verbatim under Context.
func WithContext(context map[string]any) Option {
	return func(o *options) { o.context = context }
}

// WithFilterer overrides the parameter filter applied to params. Defaults
// to the standard sensitive-key filter.
func WithFilterer(f *paramfilter.Filterer) Option {
	return func(o *options) { o.filterer = f }
}

// WithTimestamp fixes the occurrence time instead of using the current UTC
// clock.
func WithTimestamp(ts time.Time) Option {
	return func(o *options) { o.timestamp = ts }
}

// New builds an event from an exception class, message and backtrace. The
// message is truncated to 10 000 characters with a "..." marker, the
// backtrace capped at 50 frames, parameters filtered, the user ID
// stringified and the fingerprint computed from the normalized message and
// the first application frame.
func New(exceptionClass, message string, backtrace []string, opts ...Option) *Event {
	o := options{
		filterer:  paramfilter.Default(),
		timestamp: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	truncated := message
	if len(truncated) > maxMessageLen {
		truncated = truncated[:maxMessageLen] + truncationSuffix
	}

	if len(backtrace) > maxBacktraceLen {
		backtrace = backtrace[:maxBacktraceLen]
	}
	frames := make([]string, len(backtrace))
	copy(frames, backtrace)

	e := &Event{
		ExceptionClass: exceptionClass,
		Message:        truncated,
		Backtrace:      frames,
		Fingerprint:    fingerprint(exceptionClass, message, frames),
		Timestamp:      o.timestamp,
	}

	e.applyContext(o.context, o.filterer)

	return e
}

func (e *Event) applyContext(context map[string]any, filterer *paramfilter.Filterer) {
	if context == nil {
		return
	}

	rest := make(map[string]any)
	for key, value := range context {
		switch key {
		case contextKeyRequestID:
			e.RequestID = cast.ToString(value)
		case contextKeyUserID:
			if value != nil {
				e.UserID = cast.ToString(value)
			}
		case contextKeyParams:
			if params, ok := value.(map[string]any); ok {
				e.Params = filterer.Filter(params)
			}
		default:
			rest[key] = value
		}
	}

	if len(rest) > 0 {
		e.Context = rest
	}
}

// ToMap renders the event as the single-error wire mapping. Absent optional
// fields are omitted; the timestamp is ISO-8601 UTC at second precision.
func (e *Event) ToMap() map[string]any {
	out := map[string]any{
		"exception_class": e.ExceptionClass,
		"message":         e.Message,
		"backtrace":       e.Backtrace,
		"fingerprint":     e.Fingerprint,
		"timestamp":       e.Timestamp.UTC().Truncate(time.Second).Format(time.RFC3339),
	}

	if e.RequestID != "" {
		out["request_id"] = e.RequestID
	}
	if e.UserID != "" {
		out["user_id"] = e.UserID
	}
	if e.Params != nil {
		out["params"] = e.Params
	}
	if e.Context != nil {
		out["context"] = e.Context
	}

	return out
}
