package miniapm

import (
	"regexp"
	"time"

	"github.com/code19m/errx"
	"github.com/creasty/defaults"

	"github.com/miniapm/miniapm-go/logger"
	"github.com/miniapm/miniapm-go/tracing"
	"github.com/miniapm/miniapm-go/val"
)

// Config is the complete configuration surface of the client. Hosts mutate
// it through Configure before Start; it is validated at Start and frozen
// while the client runs.
type Config struct {
	// Endpoint is the base URL of the collector. Without it (or an API
	// key) the client runs but exports nothing.
	Endpoint string `yaml:"endpoint"        validate:"omitempty,url"`

	// APIKey is the bearer token sent with every export.
	APIKey string `yaml:"api_key"`

	// Enabled is the global kill switch. A disabled client makes every
	// operation a no-op.
	Enabled bool `yaml:"enabled"         default:"true"`

	// SampleRate is the fraction of traces kept, in [0, 1].
	SampleRate float64 `yaml:"sample_rate"     validate:"gte=0,lte=1" default:"1.0"`

	// BatchSize is the maximum number of items per export batch.
	BatchSize int `yaml:"batch_size"      validate:"gt=0"        default:"100"`

	// FlushInterval is how long a non-empty batch may wait before it is
	// sent regardless of size.
	FlushInterval time.Duration `yaml:"flush_interval"  validate:"gt=0"        default:"5s"`

	// MaxQueueSize bounds each producer queue; overflow is dropped.
	MaxQueueSize int `yaml:"max_queue_size"  validate:"gt=0"        default:"10000"`

	// MaxConcurrentSends bounds the send-worker pool.
	MaxConcurrentSends int `yaml:"max_concurrent_sends" validate:"gt=0" default:"4"`

	// ServiceName, Environment, ServiceVersion, Host and GitSHA become
	// resource attributes on every exported trace.
	ServiceName    string `yaml:"service_name"    default:"unknown-service"`
	Environment    string `yaml:"environment"     default:"production"`
	ServiceVersion string `yaml:"service_version"`
	Host           string `yaml:"host"`
	GitSHA         string `yaml:"git_sha"`

	// IgnoredExceptions lists error class names that skip error reporting.
	IgnoredExceptions []string `yaml:"ignored_exceptions"`

	// FilterParameters are sensitive key names for the parameter filter;
	// FilterPatterns adds compiled regexps for hosts that need them.
	// Empty means the built-in defaults.
	FilterParameters []string         `yaml:"filter_parameters"`
	FilterPatterns   []*regexp.Regexp `yaml:"-"`

	// BeforeSend runs on every span before it is enqueued. Returning nil
	// drops the span; a panic inside the hook is caught and the original
	// span proceeds.
	BeforeSend func(span *tracing.Span) *tracing.Span `yaml:"-"`

	// Logger configures the library's own structured logging.
	Logger logger.Config `yaml:"logger"`
}

// newDefaultConfig returns a Config with every default applied.
func newDefaultConfig() Config {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		// Defaults only fail on a broken tag, which is a programming error.
		panic("miniapm: invalid config defaults: " + err.Error())
	}
	return cfg
}

// validate reports configuration the client cannot start with.
func (c *Config) validate() error {
	return errx.Wrap(val.Struct(c))
}

// filterPatterns merges the string and regexp patterns for the parameter
// filter.
func (c *Config) filterPatterns() []any {
	patterns := make([]any, 0, len(c.FilterParameters)+len(c.FilterPatterns))
	for _, p := range c.FilterParameters {
		patterns = append(patterns, p)
	}
	for _, p := range c.FilterPatterns {
		patterns = append(patterns, p)
	}
	return patterns
}
