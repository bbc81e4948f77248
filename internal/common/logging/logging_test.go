package logging

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, ErrorLevel, ParseLevel("error"))
	assert.Equal(t, InfoLevel, ParseLevel("bogus"))
	assert.Equal(t, "WARN", WarnLevel.String())
}

func TestZapAdapter_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &buf})
	require.NoError(t, err)

	logger.Debug("hidden message")
	logger.Info("info message", String("provider", "radicale"))
	logger.Error("error message", errors.New("boom"), Int("attempt", 2))

	output := buf.String()
	assert.NotContains(t, output, "hidden message")
	assert.Contains(t, output, "info message")
	assert.Contains(t, output, "radicale")
	assert.Contains(t, output, "ERROR")
	assert.Contains(t, output, "boom")
}

func TestZapAdapter_WithContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewFromZap(zap.New(core))

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithIntegrationID(ctx, "int-7")

	logger.WithContext(ctx).WithFields(String("operation", "discover")).Info("done")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "int-7", fields["integration_id"])
	assert.Equal(t, "discover", fields["operation"])
}

func TestZapAdapter_WithContextWithoutValues(t *testing.T) {
	logger := NewNopLogger()
	assert.Same(t, logger, logger.WithContext(context.Background()))
	assert.Same(t, logger, logger.WithFields())
}

func TestOrGlobal(t *testing.T) {
	nop := NewNopLogger()
	SetGlobalLogger(nop)

	assert.Same(t, nop, OrGlobal(nil))

	other := NewNopLogger()
	assert.Same(t, other, OrGlobal(other))
}
