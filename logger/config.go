package logger

import "go.uber.org/zap/zapcore"

const (
	messageKey = "msg"
	levelKey   = "level"
	nameKey    = "logger"
	callerKey  = "file"
	timeKey    = "time"

	// EncodingConsole selects a human-readable development format.
	EncodingConsole = "console"
	// EncodingJSON selects compact JSON output for production.
	EncodingJSON = "json"
)

// Config defines the logging options of the library.
type Config struct {
	// Level is the minimum level to emit: "debug", "info", "warn" or
	// "error". Defaults to "warn" so an embedded client stays quiet.
	Level string `yaml:"level" validate:"oneof=debug info warn error" default:"warn"`

	// Encoding is the output format, "json" or "console".
	Encoding string `yaml:"encoding" validate:"oneof=json console" default:"json"`
}

func newEncoderConfig(encoding string) zapcore.EncoderConfig {
	encodeLevel := zapcore.CapitalLevelEncoder
	if encoding == EncodingConsole {
		encodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return zapcore.EncoderConfig{
		MessageKey:     messageKey,
		LevelKey:       levelKey,
		NameKey:        nameKey,
		CallerKey:      callerKey,
		TimeKey:        timeKey,
		EncodeLevel:    encodeLevel,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
}
