package logger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniapm/miniapm-go/logger"
	"github.com/miniapm/miniapm-go/tracing"
)

func TestNew_ValidConfig(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "debug", Encoding: logger.EncodingJSON})

	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := logger.New(logger.Config{Level: "loud", Encoding: logger.EncodingJSON})

	assert.Error(t, err)
}

func TestWithContext_ReturnsUsableLogger(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "debug", Encoding: logger.EncodingJSON})
	require.NoError(t, err)

	trace := tracing.NewTrace()
	ctx := tracing.ContextWithTrace(context.Background(), trace)

	// Enrichment must not panic and must return a usable logger both with
	// and without an active trace.
	assert.NotNil(t, log.WithContext(ctx))
	assert.NotNil(t, log.WithContext(context.Background()))
	assert.NotNil(t, log.WithContext(nil)) //nolint:staticcheck // nil context tolerated on purpose
}

func TestGlobal_LazyDefault(t *testing.T) {
	assert.NotNil(t, logger.Global())
	assert.NotNil(t, logger.Named("test"))
}
