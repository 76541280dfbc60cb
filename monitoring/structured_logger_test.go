package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
	}{
		{"DEBUG", zapcore.DebugLevel},
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"info", zapcore.InfoLevel},
		{"WARN", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"ERROR", zapcore.ErrorLevel},
		{"error", zapcore.ErrorLevel},
		{"unknown", zapcore.InfoLevel}, // по умолчанию
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestStructuredLoggerWith(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := FromZap(zap.New(core)).With("chat_id", int64(42))

	logger.Info("group locked", "minutes", 5)

	entries := logs.All()
	assert.Len(t, entries, 1)
	assert.Equal(t, "group locked", entries[0].Message)
	assert.Equal(t, int64(42), entries[0].ContextMap()["chat_id"])
	assert.Equal(t, int64(5), entries[0].ContextMap()["minutes"])
}

func TestLogOperation(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := FromZap(zap.New(core))

	logger.LogOperation("unlock", true, 12)
	logger.LogOperation("unlock", false, 3, "chat_id", int64(7))

	entries := logs.All()
	assert.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "unlock", entries[1].ContextMap()["operation"])
}

func TestGetLoggerNotNil(t *testing.T) {
	assert.NotNil(t, GetLogger("test"))
	assert.NotNil(t, NewNopLogger())
}
